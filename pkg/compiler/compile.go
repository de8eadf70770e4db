package compiler

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"crz64i/pkg/asm"
	"crz64i/pkg/config"
	"crz64i/pkg/ir"
)

// ErrRejected is returned by Compile when BlockOnErrors is set and analysis
// produced error-level issues.
var ErrRejected = errors.New("program rejected by analysis")

// Options selects the pipeline stages.
type Options struct {
	Passes        []string   // pass names in order; nil runs none
	PassConfig    PassConfig // Config defaults to the Compile config
	BlockOnErrors bool       // stop before the passes when analysis reports errors
	IRFusion      bool       // re-run LOAD+ADD fusion over the lowered ops
	Logger        log.Logger // defaults to log.Root()
}

// Build is everything the pipeline produced.
type Build struct {
	Program   *Program // as parsed
	Optimized *Program // after passes
	Issues    []Issue  // semantic then dataflow issues
	Ops       []ir.Op
	Listing   string // textual IR, see asm.Format
}

// Compile runs parse, semantic and dataflow analysis, the passes and
// lowering. Syntax errors abort with a *SyntaxError. Analysis issues are
// returned in the build; they only stop the pipeline with BlockOnErrors.
func Compile(src string, cfg *config.Config, opts Options) (*Build, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Root()
	}
	if cfg == nil {
		cfg = config.Default()
	}

	prog, err := Parse(src)
	if err != nil {
		logger.Debug("Parse failed", "err", err)
		return nil, err
	}
	build := &Build{Program: prog}
	logger.Debug("Parsed program", "functions", len(prog.Functions()), "items", len(prog.Items))

	build.Issues = Analyze(prog)
	lim := Limits{MaxPaths: cfg.MaxPaths, MaxPathLen: cfg.MaxPathLen}
	build.Issues = append(build.Issues, AnalyzeProgramDataflow(prog, lim)...)
	for _, is := range build.Issues {
		if is.Type == IssueError {
			logger.Debug("Analysis error", "line", is.Line, "col", is.Column, "msg", is.Message)
		}
	}
	if opts.BlockOnErrors && HasErrors(build.Issues) {
		n := 0
		for _, is := range build.Issues {
			if is.Type == IssueError {
				n++
			}
		}
		return build, fmt.Errorf("%w: %d error(s)", ErrRejected, n)
	}

	pc := opts.PassConfig
	if pc.Config == nil {
		pc.Config = cfg
	}
	build.Optimized, err = RunPasses(prog, opts.Passes, pc)
	if err != nil {
		return build, fmt.Errorf("passes: %w", err)
	}
	logger.Debug("Ran passes", "passes", opts.Passes)

	build.Ops = LowerProgram(build.Optimized, cfg)
	if opts.IRFusion {
		build.Ops = ir.Fuse(build.Ops, cfg)
	}
	build.Listing = asm.Format(build.Ops)
	logger.Debug("Lowered program", "ops", len(build.Ops), "energy_est", ir.TotalEnergy(build.Ops))
	return build, nil
}
