// Command crzdump prints every stage of the CRZ64I front end for one source
// file: tokens, AST, control-flow graphs, issues and the lowered IR.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"crz64i/pkg/asm"
	"crz64i/pkg/compiler"
	"crz64i/pkg/config"
)

const testSource = `#[reversible]
fn main() {
    let tmp = R1;
    LOAD R1, [R0];
    ADD R2, R1, 5;
    for i in 0..4 { ADD tmp, tmp, i; }
}
`

func main() {
	src := testSource
	if len(os.Args) > 1 {
		data, err := os.ReadFile(os.Args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			os.Exit(1)
		}
		src = string(data)
	}

	fmt.Printf("Source:\n%s\n", src)

	// Lex
	tokens, err := compiler.Lex(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lex error:", err)
		os.Exit(1)
	}

	fmt.Printf("Tokens (%d)\n", len(tokens))
	for _, tok := range tokens {
		fmt.Println(" ", tok)
	}
	fmt.Println()

	// Parse
	prog, err := compiler.ParseTokens(tokens, src)
	if err != nil {
		fmt.Fprintln(os.Stderr, "parse error:", err)
		os.Exit(1)
	}

	ast, err := json.MarshalIndent(prog, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "ast error:", err)
		os.Exit(1)
	}
	fmt.Println("AST")
	fmt.Println(string(ast))
	fmt.Println()

	// CFG
	fmt.Println("CFG")
	for _, fn := range prog.Functions() {
		g := compiler.BuildCFG(fn)
		fmt.Printf("  fn %s\n", fn.Name)
		for _, b := range g.Blocks {
			fmt.Println("   ", b)
		}
	}
	fmt.Println()

	// Analysis
	issues := compiler.Analyze(prog)
	issues = append(issues, compiler.AnalyzeProgramDataflow(prog, compiler.Limits{})...)
	fmt.Printf("Issues (%d)\n", len(issues))
	for _, is := range issues {
		fmt.Println(" ", is)
	}
	fmt.Println()

	// Passes and lowering
	cfg := config.Default()
	optimized, err := compiler.RunPasses(prog, compiler.DefaultPasses, compiler.PassConfig{Config: cfg})
	if err != nil {
		fmt.Fprintln(os.Stderr, "pass error:", err)
		os.Exit(1)
	}
	fmt.Println("Generated IR")
	fmt.Print(asm.Format(compiler.LowerProgram(optimized, cfg)))
}
