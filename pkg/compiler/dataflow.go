package compiler

import (
	"fmt"
	"strings"

	"crz64i/pkg/isa"
)

// Limits bounds path enumeration. Zero fields take the defaults.
type Limits struct {
	MaxPaths   int // maximum number of enumerated paths
	MaxPathLen int // maximum blocks on one path
}

const (
	DefaultMaxPaths   = 100
	DefaultMaxPathLen = 50
)

func (l Limits) withDefaults() Limits {
	if l.MaxPaths <= 0 {
		l.MaxPaths = DefaultMaxPaths
	}
	if l.MaxPathLen <= 0 {
		l.MaxPathLen = DefaultMaxPathLen
	}
	return l
}

// Block is a basic block: straight-line statements plus successor indices.
// If and loop statements never appear inside a block; they are flattened
// into blocks and edges.
type Block struct {
	Index int
	Stmts []Stmt
	Succs []int
}

func (b *Block) String() string {
	return fmt.Sprintf("Block %d: %d statements -> %v", b.Index, len(b.Stmts), b.Succs)
}

// CFG is the control-flow graph of one function. Blocks[0] is the entry and
// the last block is an empty exit block.
type CFG struct {
	Blocks  []*Block
	Labels  map[string]int
	bounded bool
}

// Exit returns the index of the exit block.
func (g *CFG) Exit() int { return len(g.Blocks) - 1 }

// Bounded reports whether the last EnumeratePaths call hit one of its caps.
func (g *CFG) Bounded() bool { return g.bounded }

type pendingJump struct {
	block int
	label string
}

type cfgBuilder struct {
	g      *CFG
	cur    int
	term   bool // current block has no fall-through
	jumps  []pendingJump
	toExit []int
}

// BuildCFG flattens fn's body into basic blocks.
//
//	if:   cond -> then -> merge, cond -> else -> merge (cond -> merge without else)
//	loop: pre -> header -> body -> header, body -> after, header -> after
//
// Labels start blocks, branches end them; JMP has no fall-through and
// RET/HALT lead to the exit block.
func BuildCFG(fn *Function) *CFG {
	b := &cfgBuilder{g: &CFG{Labels: make(map[string]int)}}
	b.cur = b.newBlock()
	b.stmts(fn.Body)

	exit := b.newBlock()
	if !b.term {
		b.edge(b.cur, exit)
	}
	for _, from := range b.toExit {
		b.edge(from, exit)
	}
	for _, j := range b.jumps {
		if to, ok := b.g.Labels[j.label]; ok {
			b.edge(j.block, to)
		}
	}
	return b.g
}

func (b *cfgBuilder) newBlock() int {
	idx := len(b.g.Blocks)
	b.g.Blocks = append(b.g.Blocks, &Block{Index: idx})
	return idx
}

func (b *cfgBuilder) edge(from, to int) {
	blk := b.g.Blocks[from]
	for _, s := range blk.Succs {
		if s == to {
			return
		}
	}
	blk.Succs = append(blk.Succs, to)
}

// startBlock begins a new block, linking the current one to it unless the
// current block ended without fall-through.
func (b *cfgBuilder) startBlock() int {
	next := b.newBlock()
	if !b.term {
		b.edge(b.cur, next)
	}
	b.cur, b.term = next, false
	return next
}

func (b *cfgBuilder) stmts(list []Stmt) {
	for _, s := range list {
		switch s := s.(type) {
		case *Label:
			if len(b.g.Blocks[b.cur].Stmts) > 0 || b.term {
				b.startBlock()
			}
			b.g.Labels[s.Name] = b.cur
			b.append(s)
		case *Instr:
			b.instr(s)
		case *If:
			b.ifStmt(s)
		case *Loop:
			b.loop(s)
		default:
			b.append(s)
		}
	}
}

func (b *cfgBuilder) append(s Stmt) {
	if b.term {
		// Unreachable code after JMP/RET/HALT still gets its own block.
		b.startBlock()
	}
	blk := b.g.Blocks[b.cur]
	blk.Stmts = append(blk.Stmts, s)
}

func (b *cfgBuilder) instr(in *Instr) {
	b.append(in)
	op := isa.Parse(in.Mnemonic)
	switch op {
	case isa.OpJMP:
		b.jump(in.Target())
		b.term = true
	case isa.OpJZ, isa.OpJNZ:
		b.jump(in.Target())
		b.startBlock()
	case isa.OpBR_IF:
		if n := len(in.Operands); n > 0 {
			b.jump(in.Operands[n-1])
		}
		b.startBlock()
	case isa.OpRET, isa.OpHALT:
		b.toExit = append(b.toExit, b.cur)
		b.term = true
	}
}

func (b *cfgBuilder) jump(label string) {
	if label != "" {
		b.jumps = append(b.jumps, pendingJump{block: b.cur, label: label})
	}
}

func (b *cfgBuilder) ifStmt(s *If) {
	if b.term {
		b.startBlock()
	}
	cond := b.cur

	then := b.newBlock()
	b.edge(cond, then)
	b.cur, b.term = then, false
	b.stmts(s.Then)
	thenEnd, thenTerm := b.cur, b.term

	var elseEnd int
	elseTerm := true
	if s.Else != nil {
		els := b.newBlock()
		b.edge(cond, els)
		b.cur, b.term = els, false
		b.stmts(s.Else)
		elseEnd, elseTerm = b.cur, b.term
	}

	merge := b.newBlock()
	if !thenTerm {
		b.edge(thenEnd, merge)
	}
	if s.Else == nil {
		b.edge(cond, merge)
	} else if !elseTerm {
		b.edge(elseEnd, merge)
	}
	b.cur, b.term = merge, false
}

func (b *cfgBuilder) loop(s *Loop) {
	header := b.startBlock()

	body := b.newBlock()
	b.edge(header, body)
	b.cur, b.term = body, false
	b.stmts(s.Body)
	bodyEnd, bodyTerm := b.cur, b.term

	after := b.newBlock()
	if !bodyTerm {
		b.edge(bodyEnd, header)
		b.edge(bodyEnd, after)
	}
	b.edge(header, after)
	b.cur, b.term = after, false
}

// EnumeratePaths lists entry-to-exit paths by depth-first search, visiting
// each block at most once per path. Enumeration stops at lim.MaxPaths paths
// and prunes paths longer than lim.MaxPathLen blocks.
func (g *CFG) EnumeratePaths(lim Limits) [][]int {
	lim = lim.withDefaults()
	g.bounded = false
	exit := g.Exit()
	var paths [][]int
	visited := make([]bool, len(g.Blocks))
	path := make([]int, 0, lim.MaxPathLen)

	var dfs func(cur int)
	dfs = func(cur int) {
		if len(paths) >= lim.MaxPaths {
			g.bounded = true
			return
		}
		if len(path) >= lim.MaxPathLen {
			g.bounded = true
			return
		}
		path = append(path, cur)
		visited[cur] = true
		if cur == exit {
			paths = append(paths, append([]int(nil), path...))
		} else {
			for _, next := range g.Blocks[cur].Succs {
				if !visited[next] {
					dfs(next)
				}
			}
		}
		visited[cur] = false
		path = path[:len(path)-1]
	}
	dfs(0)
	return paths
}

// AnalyzeDataflow re-runs the reversibility check along every enumerated
// path of a reversible function. Captures and writes are tracked per path,
// so a let on one branch never excuses a write on a sibling branch. Each
// offending instruction is reported once, with the first path exposing it.
// Functions without #[reversible] yield no issues.
func AnalyzeDataflow(fn *Function, lim Limits) []Issue {
	if !fn.HasAttr("reversible") {
		return nil
	}
	g := BuildCFG(fn)
	reported := make(map[*Instr]bool)
	var issues []Issue

	for _, path := range g.EnumeratePaths(lim) {
		pathLet := make(map[string]bool)
		pathWritten := make(map[string]bool)
		for _, idx := range path {
			for _, s := range g.Blocks[idx].Stmts {
				switch s := s.(type) {
				case *LocalDecl:
					for _, name := range captures(s) {
						pathLet[name] = true
					}
				case *Instr:
					noErase := HasAttr(s.Attrs, "no_erase")
					for _, target := range s.Written() {
						if !pathLet[target] && !pathWritten[target] && !noErase && !reported[s] {
							reported[s] = true
							issues = append(issues, Issue{
								Type:    IssueError,
								Message: fmt.Sprintf("%s (path %s)", writeMessage(target, fn.Name), formatPath(path)),
								Line:    s.Pos.Line,
								Column:  s.Pos.Column,
								Path:    append([]int(nil), path...),
							})
						}
						pathWritten[target] = true
					}
				}
			}
		}
	}
	return issues
}

// AnalyzeProgramDataflow runs AnalyzeDataflow over every function.
func AnalyzeProgramDataflow(prog *Program, lim Limits) []Issue {
	var issues []Issue
	for _, fn := range prog.Functions() {
		issues = append(issues, AnalyzeDataflow(fn, lim)...)
	}
	return issues
}

func formatPath(path []int) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, "->")
}
