package compiler

import "fmt"

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input

	// Literals
	IDENTIFIER // name, register, mnemonic
	NUMBER     // integer or float literal, optionally '#'-prefixed
	STRING     // string literal "..."

	// Keywords
	FN     // "fn"
	LET    // "let"
	RETURN // "return"
	IF     // "if"
	ELSE   // "else"
	FOR    // "for"
	IN     // "in"

	// Paired delimiters
	LBRACE    // {
	RBRACE    // }
	LPAREN    // (
	RPAREN    // )
	LBRACKET  // [
	RBRACKET  // ]
	ATTR_OPEN // #[

	// Punctuation
	SEMICOLON // ;
	COMMA     // ,
	COLON     // :
	ARROW     // ->
	DOTDOT    // ..

	// Operators
	PLUS        // +
	MINUS       // -
	STAR        // *
	SLASH       // /
	PERCENT     // %
	AMP         // &
	PIPE        // |
	CARET       // ^
	TILDE       // ~
	NOT         // !
	SHL_OP      // <<
	SHR_OP      // >>
	AND_LOGICAL // &&
	OR_LOGICAL  // ||

	ASSIGN     // =
	EQUALS     // ==
	NOT_EQ     // !=
	LESS       // <
	GREATER    // >
	LESS_EQ    // <=
	GREATER_EQ // >=
)

var tokenNames = [...]string{
	EOF:         "EOF",
	IDENTIFIER:  "IDENTIFIER",
	NUMBER:      "NUMBER",
	STRING:      "STRING",
	FN:          "FN",
	LET:         "LET",
	RETURN:      "RETURN",
	IF:          "IF",
	ELSE:        "ELSE",
	FOR:         "FOR",
	IN:          "IN",
	LBRACE:      "LBRACE",
	RBRACE:      "RBRACE",
	LPAREN:      "LPAREN",
	RPAREN:      "RPAREN",
	LBRACKET:    "LBRACKET",
	RBRACKET:    "RBRACKET",
	ATTR_OPEN:   "ATTR_OPEN",
	SEMICOLON:   "SEMICOLON",
	COMMA:       "COMMA",
	COLON:       "COLON",
	ARROW:       "ARROW",
	DOTDOT:      "DOTDOT",
	PLUS:        "PLUS",
	MINUS:       "MINUS",
	STAR:        "STAR",
	SLASH:       "SLASH",
	PERCENT:     "PERCENT",
	AMP:         "AMP",
	PIPE:        "PIPE",
	CARET:       "CARET",
	TILDE:       "TILDE",
	NOT:         "NOT",
	SHL_OP:      "SHL_OP",
	SHR_OP:      "SHR_OP",
	AND_LOGICAL: "AND_LOGICAL",
	OR_LOGICAL:  "OR_LOGICAL",
	ASSIGN:      "ASSIGN",
	EQUALS:      "EQUALS",
	NOT_EQ:      "NOT_EQ",
	LESS:        "LESS",
	GREATER:     "GREATER",
	LESS_EQ:     "LESS_EQ",
	GREATER_EQ:  "GREATER_EQ",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type   TokenType
	Lexeme string // the exact source text that was matched (strings unquoted)
	Line   int    // 1-based source line
	Column int    // 1-based column of the first rune
	Offset int    // rune offset of the first rune
	End    int    // rune offset one past the last rune
}

func (t Token) String() string {
	return fmt.Sprintf("%-12s %-14q  %d:%d", t.Type, t.Lexeme, t.Line, t.Column)
}

// Pos returns the token's source position.
func (t Token) Pos() Pos { return Pos{Line: t.Line, Column: t.Column} }
