package ir

import (
	"crz64i/pkg/config"
)

// Fuse merges LOAD d, [addr] followed by ADD d2, d, src into
// FUSED_LOAD_ADD d, d2, addr, src on a flat op list. For programs whose
// LOAD+ADD pairs are all source instructions it matches the AST fusion pass
// op for op. It also pairs a LOAD with an ADD lowered from let or an
// assignment, which AST fusion never sees; the fused op computes the same
// values. The input is not modified.
func Fuse(ops []Op, cfg *config.Config) []Op {
	out := make([]Op, 0, len(ops))
	for i := 0; i < len(ops); i++ {
		if i+1 < len(ops) {
			if fused, ok := fuseLoadAdd(ops[i], ops[i+1], cfg); ok {
				out = append(out, fused)
				i++
				continue
			}
		}
		out = append(out, cloneOp(ops[i]))
	}
	return out
}

func fuseLoadAdd(ld, add Op, cfg *config.Config) (Op, bool) {
	if ld.Op != "LOAD" || add.Op != "ADD" || len(ld.Args) != 2 || len(add.Args) != 3 {
		return Op{}, false
	}
	if add.Args[1] != ld.Args[0] {
		return Op{}, false
	}
	return New(cfg, "FUSED_LOAD_ADD", ld.Args[0], add.Args[0], ld.Args[1], add.Args[2]), true
}

func cloneOp(o Op) Op {
	o.Args = append([]string{}, o.Args...)
	return o
}
