package compiler

import (
	"fmt"
	"strings"
	"unicode"
)

// Parser consumes the flat token slice produced by the Lexer and builds an AST.
//
// Grammar:
//
//	program    = (attrs? (function | instr | label))* EOF
//	attrs      = ("#[" attr ("," attr)* "]")+
//	attr       = IDENTIFIER ("=" (IDENTIFIER | NUMBER | STRING))?
//	function   = "fn" IDENTIFIER "(" (param ("," param)*)? ")" ("->" type)? block
//	param      = IDENTIFIER (":" type)?
//	type       = IDENTIFIER ("<" NUMBER "," type ">")?
//	block      = "{" statement* "}"
//	statement  = attrs? (let | return | if | for | label | assign | instr)
//	let        = "let" IDENTIFIER (":" type)? "=" expression ";"
//	return     = "return" expression? ";"
//	if         = "if" expression block ("else" (block | if))?
//	for        = "for" IDENTIFIER "in" expression ".." expression block
//	label      = IDENTIFIER ":"
//	assign     = IDENTIFIER "=" expression ";"
//	instr      = MNEMONIC (expression ("," expression)*)? ";"
//	expression = or
//	or         = and ("||" and)*
//	and        = comparison ("&&" comparison)*
//	comparison = additive (("=="|"!="|"<"|">"|"<="|">=") additive)*
//	additive   = multiplicative (("+"|"-") multiplicative)*
//	multiplicative = unary (("*"|"/"|"%"|"<<"|">>"|"&"|"|"|"^") unary)*
//	unary      = ("-"|"!"|"~") unary | primary
//	primary    = NUMBER | STRING | IDENTIFIER ("(" args ")")? | "(" expression ")" | "[" expression "]"
type Parser struct {
	tokens      []Token
	pos         int
	src         []rune
	sourceLines []string
}

func NewParser(tokens []Token, rawSource string) *Parser {
	return &Parser{tokens: tokens, src: []rune(rawSource), sourceLines: strings.Split(rawSource, "\n")}
}

// fmtError builds a SyntaxError carrying the source line where tok appears.
func (p *Parser) fmtError(tok Token, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	lineIdx := tok.Line - 1

	snippet := "<source unavailable>"
	if lineIdx >= 0 && lineIdx < len(p.sourceLines) {
		snippet = strings.TrimSpace(p.sourceLines[lineIdx])
	}
	return &SyntaxError{Line: tok.Line, Column: tok.Column, Token: tok.Lexeme, Msg: msg, Snippet: snippet}
}

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos]
}

// peekAt returns the token at the given offset from the current position.
func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos+offset]
}

// advance consumes and returns the current token.
func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// expect consumes the current token if it matches tt, otherwise returns an error.
func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.advance()
	if tok.Type != tt {
		return tok, p.fmtError(tok, "expected %s, got %s (%q)", tt, tok.Type, tok.Lexeme)
	}
	return tok, nil
}

func (p *Parser) accept(tt TokenType) bool {
	if p.peek().Type == tt {
		p.advance()
		return true
	}
	return false
}

//  Expressions

func (p *Parser) parseExpression() (Expr, error) {
	return p.parseBinary(0)
}

// binaryLevels lists operators from lowest to highest precedence.
var binaryLevels = [][]TokenType{
	{OR_LOGICAL},
	{AND_LOGICAL},
	{EQUALS, NOT_EQ, LESS, GREATER, LESS_EQ, GREATER_EQ},
	{PLUS, MINUS},
	{STAR, SLASH, PERCENT, SHL_OP, SHR_OP, AMP, PIPE, CARET},
}

func levelHas(level int, tt TokenType) bool {
	for _, t := range binaryLevels[level] {
		if t == tt {
			return true
		}
	}
	return false
}

// parseBinary parses a left-associative chain at the given precedence level.
func (p *Parser) parseBinary(level int) (Expr, error) {
	if level == len(binaryLevels) {
		return p.parseUnary()
	}
	left, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for levelHas(level, p.peek().Type) {
		op := p.advance()
		right, err := p.parseBinary(level + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op.Lexeme, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	switch p.peek().Type {
	case MINUS, NOT, TILDE:
		op := p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: op.Lexeme, X: x}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.advance()
	switch tok.Type {
	case NUMBER:
		return &Number{Text: tok.Lexeme}, nil
	case STRING:
		return &StringLit{Value: tok.Lexeme}, nil
	case IDENTIFIER:
		if p.peek().Type == LPAREN {
			p.advance()
			args, err := p.parseCallArgs()
			if err != nil {
				return nil, err
			}
			return &CallExpr{Name: tok.Lexeme, Args: args}, nil
		}
		return &Ident{Name: tok.Lexeme}, nil
	case LPAREN:
		x, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return &ParenExpr{X: x}, nil
	case LBRACKET:
		addr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RBRACKET); err != nil {
			return nil, err
		}
		return &MemRef{Addr: addr}, nil
	}
	return nil, p.fmtError(tok, "unexpected %s (%q) in expression", tok.Type, tok.Lexeme)
}

// parseCallArgs parses arguments after the opening parenthesis.
func (p *Parser) parseCallArgs() ([]Expr, error) {
	var args []Expr
	if p.accept(RPAREN) {
		return args, nil
	}
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.accept(COMMA) {
			continue
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return args, nil
	}
}

//  Attributes and types

// parseAttrs parses zero or more #[...] groups.
func (p *Parser) parseAttrs() ([]Attribute, error) {
	var attrs []Attribute
	for p.peek().Type == ATTR_OPEN {
		p.advance()
		for {
			name, err := p.expect(IDENTIFIER)
			if err != nil {
				return nil, err
			}
			attr := Attribute{Name: name.Lexeme, Pos: name.Pos()}
			if p.accept(ASSIGN) {
				val := p.advance()
				switch val.Type {
				case IDENTIFIER, NUMBER, STRING:
					attr.Value, attr.HasValue = val.Lexeme, true
				case MINUS:
					num, err := p.expect(NUMBER)
					if err != nil {
						return nil, err
					}
					attr.Value, attr.HasValue = "-"+num.Lexeme, true
				default:
					return nil, p.fmtError(val, "invalid value %q for attribute %s", val.Lexeme, attr.Name)
				}
			}
			attrs = append(attrs, attr)
			if !p.accept(COMMA) {
				break
			}
		}
		if _, err := p.expect(RBRACKET); err != nil {
			return nil, err
		}
	}
	return attrs, nil
}

// parseType parses i32, f64, vec<16,i32> and renders them without spaces.
func (p *Parser) parseType() (string, error) {
	name, err := p.expect(IDENTIFIER)
	if err != nil {
		return "", err
	}
	if !p.accept(LESS) {
		return name.Lexeme, nil
	}
	lanes, err := p.expect(NUMBER)
	if err != nil {
		return "", err
	}
	if _, err := p.expect(COMMA); err != nil {
		return "", err
	}
	elem, err := p.parseType()
	if err != nil {
		return "", err
	}
	if _, err := p.expect(GREATER); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s<%s,%s>", name.Lexeme, lanes.Lexeme, elem), nil
}

//  Statements

// isMnemonic reports whether s looks like an instruction mnemonic: an
// uppercase letter followed by uppercase letters, digits or underscores.
func isMnemonic(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case i > 0 && (r == '_' || unicode.IsDigit(r)):
		default:
			return false
		}
	}
	return s != ""
}

func (p *Parser) parseBlock() ([]Stmt, error) {
	if _, err := p.expect(LBRACE); err != nil {
		return nil, err
	}
	stmts := []Stmt{}
	for p.peek().Type != RBRACE {
		if p.peek().Type == EOF {
			return nil, p.fmtError(p.peek(), "unexpected end of input, expected }")
		}
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	p.advance()
	return stmts, nil
}

func (p *Parser) parseStatement() (Stmt, error) {
	attrs, err := p.parseAttrs()
	if err != nil {
		return nil, err
	}

	var s Stmt
	tok := p.peek()
	switch tok.Type {
	case LET:
		s, err = p.parseLet()
	case RETURN:
		s, err = p.parseReturn()
	case IF:
		s, err = p.parseIf()
	case FOR:
		s, err = p.parseFor()
	case IDENTIFIER:
		switch next := p.peekAt(1).Type; {
		case next == COLON:
			s, err = p.parseLabel()
		case next == ASSIGN:
			s, err = p.parseAssign()
		case isMnemonic(tok.Lexeme):
			s, err = p.parseInstr()
		default:
			return nil, p.fmtError(tok, "unexpected identifier %q: expected instruction, label or assignment", tok.Lexeme)
		}
	default:
		return nil, p.fmtError(tok, "unexpected %s (%q) at start of statement", tok.Type, tok.Lexeme)
	}
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		attachAttrs(s, attrs)
	}
	return s, nil
}

// attachAttrs prepends attrs to the statement's own attribute list.
func attachAttrs(s Stmt, attrs []Attribute) {
	switch s := s.(type) {
	case *Instr:
		s.Attrs = append(attrs, s.Attrs...)
	case *Label:
		s.Attrs = append(attrs, s.Attrs...)
	case *LocalDecl:
		s.Attrs = append(attrs, s.Attrs...)
	case *Assign:
		s.Attrs = append(attrs, s.Attrs...)
	case *Return:
		s.Attrs = append(attrs, s.Attrs...)
	case *If:
		s.Attrs = append(attrs, s.Attrs...)
	case *Loop:
		s.Attrs = append(attrs, s.Attrs...)
	}
}

func (p *Parser) parseLet() (Stmt, error) {
	kw := p.advance()
	name, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	decl := &LocalDecl{node: node{Pos: kw.Pos()}, Name: name.Lexeme}
	if p.accept(COLON) {
		if decl.Type, err = p.parseType(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(ASSIGN); err != nil {
		return nil, err
	}
	if decl.Init, err = p.parseExpression(); err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return decl, nil
}

func (p *Parser) parseReturn() (Stmt, error) {
	kw := p.advance()
	ret := &Return{node: node{Pos: kw.Pos()}}
	if p.accept(SEMICOLON) {
		return ret, nil
	}
	var err error
	if ret.Value, err = p.parseExpression(); err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return ret, nil
}

func (p *Parser) parseIf() (Stmt, error) {
	kw := p.advance()
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt := &If{node: node{Pos: kw.Pos()}, Cond: cond, Then: then}
	if !p.accept(ELSE) {
		return stmt, nil
	}
	if p.peek().Type == IF {
		nested, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		stmt.Else = []Stmt{nested}
		return stmt, nil
	}
	if stmt.Else, err = p.parseBlock(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseFor() (Stmt, error) {
	kw := p.advance()
	v, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(IN); err != nil {
		return nil, err
	}
	start, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(DOTDOT); err != nil {
		return nil, err
	}
	end, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &Loop{node: node{Pos: kw.Pos()}, Var: v.Lexeme, Start: start, End: end, Body: body}, nil
}

func (p *Parser) parseLabel() (Stmt, error) {
	name := p.advance()
	p.advance() // ':'
	return &Label{node: node{Pos: name.Pos()}, Name: name.Lexeme}, nil
}

func (p *Parser) parseAssign() (Stmt, error) {
	target := p.advance()
	p.advance() // '='
	val, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return &Assign{node: node{Pos: target.Pos()}, Target: target.Lexeme, Value: val}, nil
}

func (p *Parser) parseInstr() (Stmt, error) {
	mn := p.advance()
	in := &Instr{node: node{Pos: mn.Pos()}, Mnemonic: mn.Lexeme, Operands: []string{}}
	if p.peek().Type != SEMICOLON {
		for {
			operand, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			in.Operands = append(in.Operands, operand.String())
			if !p.accept(COMMA) {
				break
			}
		}
	}
	semi, err := p.expect(SEMICOLON)
	if err != nil {
		return nil, err
	}
	in.Raw = p.sourceText(mn.Offset, semi.End)
	return in, nil
}

func (p *Parser) sourceText(start, end int) string {
	if start < 0 || end > len(p.src) || start >= end {
		return ""
	}
	return string(p.src[start:end])
}

//  Declarations

func (p *Parser) parseFunction(attrs []Attribute) (*Function, error) {
	kw := p.advance()
	name, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	fn := &Function{Name: name.Lexeme, Params: []Param{}, Attrs: attrs, Pos: kw.Pos()}
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	if !p.accept(RPAREN) {
		for {
			pname, err := p.expect(IDENTIFIER)
			if err != nil {
				return nil, err
			}
			param := Param{Name: pname.Lexeme}
			if p.accept(COLON) {
				if param.Type, err = p.parseType(); err != nil {
					return nil, err
				}
			}
			fn.Params = append(fn.Params, param)
			if p.accept(COMMA) {
				continue
			}
			if _, err := p.expect(RPAREN); err != nil {
				return nil, err
			}
			break
		}
	}
	if p.accept(ARROW) {
		if fn.ReturnType, err = p.parseType(); err != nil {
			return nil, err
		}
	}
	if fn.Body, err = p.parseBlock(); err != nil {
		return nil, err
	}
	return fn, nil
}

func (p *Parser) parseTopLevel() (Decl, error) {
	attrs, err := p.parseAttrs()
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	if tok.Type == FN {
		return p.parseFunction(attrs)
	}
	if tok.Type == IDENTIFIER && p.peekAt(1).Type == COLON {
		s, err := p.parseLabel()
		if err != nil {
			return nil, err
		}
		attachAttrs(s, attrs)
		return s.(*Label), nil
	}
	if tok.Type == IDENTIFIER && isMnemonic(tok.Lexeme) {
		s, err := p.parseInstr()
		if err != nil {
			return nil, err
		}
		attachAttrs(s, attrs)
		return s.(*Instr), nil
	}
	return nil, p.fmtError(tok, "unexpected %s (%q) at top level", tok.Type, tok.Lexeme)
}

// ParseTokens builds a Program from an already-lexed token stream.
func ParseTokens(tokens []Token, rawSource string) (*Program, error) {
	p := NewParser(tokens, rawSource)
	prog := &Program{}
	for p.peek().Type != EOF {
		d, err := p.parseTopLevel()
		if err != nil {
			return nil, err
		}
		prog.Items = append(prog.Items, d)
	}
	return prog, nil
}

// Parse lexes and parses src. The first syntax error aborts the whole unit
// and no partial program is returned.
func Parse(src string) (*Program, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}
	return ParseTokens(tokens, src)
}
