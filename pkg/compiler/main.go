// Package compiler provides the CRZ64I lexer, parser, semantic and dataflow
// analyzers, optimization passes and IR lowering.
//
// Pipeline: source → Lex → Parse → Analyze/AnalyzeDataflow → RunPasses → LowerProgram → []ir.Op
package compiler
