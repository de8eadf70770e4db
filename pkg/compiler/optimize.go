package compiler

import "strings"

// EntryFunction picks the function execution starts in: main if present,
// otherwise the first declared function.
func EntryFunction(prog *Program) *Function {
	if fn := prog.Function("main"); fn != nil {
		return fn
	}
	if fns := prog.Functions(); len(fns) > 0 {
		return fns[0]
	}
	return nil
}

// eliminateDeadFunctions returns the functions reachable from entry through
// CALL instructions or call expressions, in declaration order.
func eliminateDeadFunctions(prog *Program, entry *Function) []*Function {
	funcs := make(map[string]*Function)
	for _, fn := range prog.Functions() {
		funcs[fn.Name] = fn
	}

	reachable := make(map[string]bool)
	var worklist []string

	addReachable := func(name string) {
		if !reachable[name] {
			reachable[name] = true
			worklist = append(worklist, name)
		}
	}
	if entry != nil {
		addReachable(entry.Name)
	}

	for len(worklist) > 0 {
		curr := worklist[0]
		worklist = worklist[1:]

		fn, exists := funcs[curr]
		if !exists {
			// CALL to a label rather than a function
			continue
		}
		calls := make(map[string]bool)
		findCallsStmts(fn.Body, calls)
		for call := range calls {
			addReachable(call)
		}
	}

	var live []*Function
	for _, fn := range prog.Functions() {
		if reachable[fn.Name] {
			live = append(live, fn)
		}
	}
	return live
}

// findCallsExpr recursively extracts function call names from an expression.
func findCallsExpr(e Expr, calls map[string]bool) {
	switch n := e.(type) {
	case *CallExpr:
		calls[n.Name] = true
		for _, arg := range n.Args {
			findCallsExpr(arg, calls)
		}
	case *BinaryExpr:
		findCallsExpr(n.Left, calls)
		findCallsExpr(n.Right, calls)
	case *UnaryExpr:
		findCallsExpr(n.X, calls)
	case *ParenExpr:
		findCallsExpr(n.X, calls)
	case *MemRef:
		findCallsExpr(n.Addr, calls)
	}
}

func findCallsStmts(stmts []Stmt, calls map[string]bool) {
	for _, s := range stmts {
		switch n := s.(type) {
		case *Instr:
			if strings.ToUpper(n.Mnemonic) == "CALL" && len(n.Operands) > 0 {
				calls[n.Operands[0]] = true
			}
		case *LocalDecl:
			findCallsExpr(n.Init, calls)
		case *Assign:
			findCallsExpr(n.Value, calls)
		case *Return:
			if n.Value != nil {
				findCallsExpr(n.Value, calls)
			}
		case *If:
			findCallsExpr(n.Cond, calls)
			findCallsStmts(n.Then, calls)
			findCallsStmts(n.Else, calls)
		case *Loop:
			findCallsExpr(n.Start, calls)
			findCallsExpr(n.End, calls)
			findCallsStmts(n.Body, calls)
		}
	}
}
