// Command crz compiles CRZ64I source, reports analysis issues and optionally
// runs the lowered program under the hint-aware runtime.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"crz64i/pkg/compiler"
	"crz64i/pkg/config"
	"crz64i/pkg/ir"
	"crz64i/pkg/runtime"
	"crz64i/pkg/sim"
)

func main() {
	inPath := flag.String("in", "", "CRZ64I source file")
	configPath := flag.String("config", "", "JSON configuration file (defaults built in)")
	checkOnly := flag.Bool("check", false, "only parse and analyze, print issues")
	passes := flag.String("passes", strings.Join(compiler.DefaultPasses, ","), "comma-separated pass list, empty for none")
	patterns := flag.String("fusion-patterns", compiler.PatternLoadAdd, "comma-separated fusion patterns, or \"all\"")
	block := flag.Bool("block", true, "refuse to lower programs with analysis errors")
	irFusion := flag.Bool("ir-fusion", false, "re-run LOAD+ADD fusion on the lowered ops")
	emitIR := flag.String("emit-ir", "", "write the lowered ops as JSON to this path")
	listing := flag.Bool("listing", false, "print the textual IR")
	run := flag.Bool("run", false, "run the lowered program")
	sandboxIO := flag.Bool("allow-io", false, "allow WRITE_IO")
	sandboxDMA := flag.Bool("allow-dma", false, "allow DMA_START")
	migrateOut := flag.String("migrate-out", "", "write the migration state to this path when the program yields")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	setupLogging(*verbose)

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "nothing to do: provide -in <source file>")
		flag.Usage()
		os.Exit(2)
	}
	source, err := os.ReadFile(*inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read input file %q: %v\n", *inPath, err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	if *checkOnly {
		os.Exit(check(string(source), cfg))
	}

	opts := compiler.Options{
		Passes:        splitList(*passes),
		PassConfig:    compiler.PassConfig{Config: cfg, FusionPatterns: fusionPatterns(*patterns)},
		BlockOnErrors: *block,
		IRFusion:      *irFusion,
	}
	build, err := compiler.Compile(string(source), cfg, opts)
	if build != nil {
		printIssues(build.Issues)
	}
	if err != nil {
		if errors.Is(err, compiler.ErrRejected) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "compilation failed: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Printf("compiled %d ops, estimated energy %.3e J\n", len(build.Ops), ir.TotalEnergy(build.Ops))

	if *listing {
		fmt.Print(build.Listing)
	}
	if *emitIR != "" {
		data, err := ir.Encode(build.Ops)
		if err == nil {
			err = os.WriteFile(*emitIR, data, 0o644)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to write IR %q: %v\n", *emitIR, err)
			os.Exit(1)
		}
	}

	if !*run {
		return
	}
	s := sim.New(cfg, sim.WithSandbox(*sandboxIO, *sandboxDMA))
	rt := runtime.New(s)
	if entry := compiler.EntryFunction(build.Optimized); entry != nil {
		rt.InterpretHints(runtime.HintsFromAttrs(entry.Attrs))
	}
	out, err := rt.RunWithHints(build.Ops)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("run %s after %d steps: cycles=%d energy=%.3e J peak=%.2f°C\n",
		out.Kind, out.Result.Steps, out.Result.Cycles, out.Result.Energy, out.Result.PeakTemperature)

	if out.Kind == runtime.Yielded && *migrateOut != "" {
		data, err := out.State.MarshalBinary()
		if err == nil {
			err = os.WriteFile(*migrateOut, data, 0o644)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to write migration state %q: %v\n", *migrateOut, err)
			os.Exit(1)
		}
	}

	report, err := json.MarshalIndent(rt.Report(), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(report))
}

// check parses and analyzes src and returns the exit status.
func check(src string, cfg *config.Config) int {
	prog, err := compiler.Parse(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	issues := compiler.Analyze(prog)
	issues = append(issues, compiler.AnalyzeProgramDataflow(prog, compiler.Limits{MaxPaths: cfg.MaxPaths, MaxPathLen: cfg.MaxPathLen})...)
	printIssues(issues)
	if compiler.HasErrors(issues) {
		return 1
	}
	fmt.Println("ok")
	return 0
}

func printIssues(issues []compiler.Issue) {
	for _, is := range issues {
		fmt.Fprintln(os.Stderr, is)
	}
}

func setupLogging(verbose bool) {
	level := log.LevelInfo
	if verbose {
		level = log.LevelDebug
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, false)))
}

// loadConfig reads path, or starts from the defaults, and applies CRZ_*
// environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	return config.FromEnv(cfg)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fusionPatterns(s string) []string {
	if s == "all" {
		return compiler.AllFusionPatterns
	}
	return splitList(s)
}
