package compiler

import (
	"fmt"
	"strings"
	"unicode"
)

// keywords maps source text to its keyword TokenType.
var keywords = map[string]TokenType{
	"fn":     FN,
	"let":    LET,
	"return": RETURN,
	"if":     IF,
	"else":   ELSE,
	"for":    FOR,
	"in":     IN,
}

// SyntaxError is returned for any lexing or parsing failure. Parsing stops at
// the first one.
type SyntaxError struct {
	Line    int
	Column  int
	Token   string
	Msg     string
	Snippet string
}

func (e *SyntaxError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("line %d:%d: %s", e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("line %d:%d: %s\n  |> %s", e.Line, e.Column, e.Msg, e.Snippet)
}

// Lexer holds all mutable state for a single scanning pass over src.
type Lexer struct {
	src   []rune
	lines []string
	pos   int // index of the next rune to consume
	line  int // current 1-based source line
	col   int // current 1-based column
}

func newLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), lines: strings.Split(src, "\n"), line: 1, col: 1}
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) peek2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

// advance consumes one rune and returns it.
func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) && unicode.IsSpace(l.peek()) {
		l.advance()
	}
}

// skipLineComment discards everything from the current position to end-of-line.
// The opening "//" must already have been consumed.
func (l *Lexer) skipLineComment() {
	for l.pos < len(l.src) && l.peek() != '\n' {
		l.advance()
	}
}

func (l *Lexer) errorf(line, col int, lexeme, format string, args ...any) *SyntaxError {
	snippet := ""
	if line-1 >= 0 && line-1 < len(l.lines) {
		snippet = strings.TrimSpace(l.lines[line-1])
	}
	return &SyntaxError{Line: line, Column: col, Token: lexeme, Msg: fmt.Sprintf(format, args...), Snippet: snippet}
}

func (l *Lexer) token(tt TokenType, start, line, col int) Token {
	return Token{Type: tt, Lexeme: string(l.src[start:l.pos]), Line: line, Column: col, Offset: start, End: l.pos}
}

// scanIdent collects a full identifier or keyword token.
func (l *Lexer) scanIdent() Token {
	line, col, start := l.line, l.col, l.pos
	for l.pos < len(l.src) {
		r := l.peek()
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			break
		}
		l.advance()
	}
	tok := l.token(IDENTIFIER, start, line, col)
	if kw, ok := keywords[tok.Lexeme]; ok {
		tok.Type = kw
	}
	return tok
}

// scanNumber collects decimal, hex and binary integers and decimal floats
// with an optional exponent. A leading '#' (immediate marker) and a sign
// directly after it are part of the lexeme.
func (l *Lexer) scanNumber() (Token, error) {
	line, col, start := l.line, l.col, l.pos
	if l.peek() == '#' {
		l.advance()
		if l.peek() == '-' {
			l.advance()
		}
		if !unicode.IsDigit(l.peek()) {
			return Token{}, l.errorf(line, col, string(l.src[start:l.pos]), "malformed immediate")
		}
	}

	if l.peek() == '0' && (l.peek2() == 'x' || l.peek2() == 'X' || l.peek2() == 'b' || l.peek2() == 'B') {
		l.advance()
		l.advance()
		for l.pos < len(l.src) && isHexDigit(l.peek()) {
			l.advance()
		}
		return l.token(NUMBER, start, line, col), nil
	}

	for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
		l.advance()
	}
	// '.' followed by a digit is a fraction; ".." is a range operator.
	if l.peek() == '.' && unicode.IsDigit(l.peek2()) {
		l.advance()
		for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
			l.advance()
		}
	}
	if l.peek() == 'e' || l.peek() == 'E' {
		next := l.peek2()
		if unicode.IsDigit(next) || next == '-' || next == '+' {
			l.advance()
			if l.peek() == '-' || l.peek() == '+' {
				l.advance()
			}
			for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
				l.advance()
			}
		}
	}
	return l.token(NUMBER, start, line, col), nil
}

func isHexDigit(r rune) bool {
	return unicode.IsDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// scanString collects a string literal "..." and returns it unquoted.
func (l *Lexer) scanString() (Token, error) {
	line, col, start := l.line, l.col, l.pos
	l.advance() // consume opening "
	var val []rune

	for l.pos < len(l.src) {
		r := l.peek()
		if r == '"' {
			break
		}
		if r == '\n' {
			return Token{}, l.errorf(line, col, `"`, "unterminated string literal")
		}
		if r == '\\' {
			l.advance()
			next := l.peek()
			switch next {
			case 'n':
				val = append(val, '\n')
			case 't':
				val = append(val, '\t')
			case '"':
				val = append(val, '"')
			case '\\':
				val = append(val, '\\')
			default:
				return Token{}, l.errorf(l.line, l.col, string(next), "unknown escape sequence \\%c", next)
			}
			l.advance()
			continue
		}
		val = append(val, r)
		l.advance()
	}

	if l.pos >= len(l.src) {
		return Token{}, l.errorf(line, col, `"`, "unterminated string literal")
	}
	l.advance() // consume closing "

	return Token{Type: STRING, Lexeme: string(val), Line: line, Column: col, Offset: start, End: l.pos}, nil
}

// nextToken skips whitespace/comments and returns the next Token.
func (l *Lexer) nextToken() (Token, error) {
	for {
		l.skipWhitespace()
		if l.pos >= len(l.src) {
			return Token{Type: EOF, Line: l.line, Column: l.col, Offset: l.pos, End: l.pos}, nil
		}
		if l.peek() == '/' && l.peek2() == '/' {
			l.advance()
			l.advance()
			l.skipLineComment()
			continue
		}
		break
	}

	ch := l.peek()
	line, col, start := l.line, l.col, l.pos

	switch {
	case unicode.IsLetter(ch) || ch == '_':
		return l.scanIdent(), nil
	case unicode.IsDigit(ch):
		return l.scanNumber()
	case ch == '#' && l.peek2() == '[':
		l.advance()
		l.advance()
		return l.token(ATTR_OPEN, start, line, col), nil
	case ch == '#':
		return l.scanNumber()
	case ch == '"':
		return l.scanString()
	}

	two := func(tt TokenType) (Token, error) {
		l.advance()
		return l.token(tt, start, line, col), nil
	}

	l.advance() // consume the character before the switch
	switch ch {
	case '{':
		return l.token(LBRACE, start, line, col), nil
	case '}':
		return l.token(RBRACE, start, line, col), nil
	case '(':
		return l.token(LPAREN, start, line, col), nil
	case ')':
		return l.token(RPAREN, start, line, col), nil
	case '[':
		return l.token(LBRACKET, start, line, col), nil
	case ']':
		return l.token(RBRACKET, start, line, col), nil
	case ';':
		return l.token(SEMICOLON, start, line, col), nil
	case ',':
		return l.token(COMMA, start, line, col), nil
	case ':':
		return l.token(COLON, start, line, col), nil
	case '.':
		if l.peek() == '.' {
			return two(DOTDOT)
		}
	case '+':
		return l.token(PLUS, start, line, col), nil
	case '-':
		if l.peek() == '>' {
			return two(ARROW)
		}
		return l.token(MINUS, start, line, col), nil
	case '*':
		return l.token(STAR, start, line, col), nil
	case '/':
		return l.token(SLASH, start, line, col), nil
	case '%':
		return l.token(PERCENT, start, line, col), nil
	case '&':
		if l.peek() == '&' {
			return two(AND_LOGICAL)
		}
		return l.token(AMP, start, line, col), nil
	case '|':
		if l.peek() == '|' {
			return two(OR_LOGICAL)
		}
		return l.token(PIPE, start, line, col), nil
	case '^':
		return l.token(CARET, start, line, col), nil
	case '~':
		return l.token(TILDE, start, line, col), nil
	case '!':
		if l.peek() == '=' {
			return two(NOT_EQ)
		}
		return l.token(NOT, start, line, col), nil
	case '<':
		if l.peek() == '=' {
			return two(LESS_EQ)
		}
		if l.peek() == '<' {
			return two(SHL_OP)
		}
		return l.token(LESS, start, line, col), nil
	case '>':
		if l.peek() == '=' {
			return two(GREATER_EQ)
		}
		if l.peek() == '>' {
			return two(SHR_OP)
		}
		return l.token(GREATER, start, line, col), nil
	case '=':
		if l.peek() == '=' {
			return two(EQUALS)
		}
		return l.token(ASSIGN, start, line, col), nil
	}
	return Token{}, l.errorf(line, col, string(ch), "unexpected character %q", ch)
}

// Lex tokenises src and returns all tokens including the final EOF token.
// The error, if any, is a *SyntaxError.
func Lex(src string) ([]Token, error) {
	l := newLexer(src)
	var tokens []Token
	for {
		tok, err := l.nextToken()
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens, nil
		}
	}
}
