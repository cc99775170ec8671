package protocol

import (
	"regexp"
	"strings"
)

// MaxTriggerLength bounds a rendered trigger expression
const MaxTriggerLength = 500

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// RenderTrigger replaces each {{name}} with True or False. Placeholders with
// no resolved value are left untouched so validation rejects them.
func RenderTrigger(template string, values map[string]bool) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := values[name]
		if !ok {
			return m
		}
		if v {
			return "True"
		}
		return "False"
	})
}

// placeholders lists the names referenced by a template
func placeholders(template string) []string {
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		out = append(out, m[1])
	}
	return out
}

// EvaluateTrigger renders the template, validates it against the boolean
// grammar and evaluates it.
func EvaluateTrigger(template string, values map[string]bool) (bool, error) {
	expr, err := ParseExpression(RenderTrigger(template, values))
	if err != nil {
		return false, err
	}
	return expr.Eval(), nil
}

// Expr is a parsed trigger expression
type Expr interface {
	Eval() bool
}

// Literal is True or False
type Literal bool

// Not negates its operand
type Not struct{ X Expr }

// And is true when both operands are
type And struct{ L, R Expr }

// Or is true when either operand is
type Or struct{ L, R Expr }

func (l Literal) Eval() bool { return bool(l) }
func (n Not) Eval() bool     { return !n.X.Eval() }
func (a And) Eval() bool     { return a.L.Eval() && a.R.Eval() }
func (o Or) Eval() bool      { return o.L.Eval() || o.R.Eval() }

type tokenKind int

const (
	tokTrue tokenKind = iota
	tokFalse
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

var keywords = map[string]tokenKind{
	"True":  tokTrue,
	"False": tokFalse,
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
}

// tokenize accepts only the allow-listed tokens and whitespace
func tokenize(s string) ([]tokenKind, error) {
	if len(s) >= MaxTriggerLength {
		return nil, configErr(ReasonTrigger, "expression length %d exceeds %d", len(s), MaxTriggerLength-1)
	}
	var toks []tokenKind
	for i := 0; i < len(s); {
		switch c := s[i]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, tokLParen)
			i++
		case c == ')':
			toks = append(toks, tokRParen)
			i++
		case isLetter(c):
			j := i
			for j < len(s) && isLetter(s[j]) {
				j++
			}
			kind, ok := keywords[s[i:j]]
			if !ok {
				return nil, configErr(ReasonTrigger, "token %q is not allowed", s[i:j])
			}
			toks = append(toks, kind)
			i = j
		default:
			end := i + 1
			for end < len(s) && !isLetter(s[end]) && !strings.ContainsRune(" \t\n\r()", rune(s[end])) {
				end++
			}
			return nil, configErr(ReasonTrigger, "token %q is not allowed", s[i:end])
		}
	}
	return toks, nil
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// ParseExpression tokenizes and parses a rendered trigger. Precedence is
// not > and > or.
func ParseExpression(s string) (Expr, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, configErr(ReasonTrigger, "empty expression")
	}
	p := &parser{toks: toks}
	expr, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, configErr(ReasonTrigger, "unexpected token at position %d", p.pos)
	}
	return expr, nil
}

type parser struct {
	toks []tokenKind
	pos  int
}

func (p *parser) peek(k tokenKind) bool {
	return p.pos < len(p.toks) && p.toks[p.pos] == k
}

func (p *parser) or() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.peek(tokOr) {
		p.pos++
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = Or{L: left, R: right}
	}
	return left, nil
}

func (p *parser) and() (Expr, error) {
	left, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.peek(tokAnd) {
		p.pos++
		right, err := p.not()
		if err != nil {
			return nil, err
		}
		left = And{L: left, R: right}
	}
	return left, nil
}

func (p *parser) not() (Expr, error) {
	if p.peek(tokNot) {
		p.pos++
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Expr, error) {
	if p.pos >= len(p.toks) {
		return nil, configErr(ReasonTrigger, "unexpected end of expression")
	}
	tok := p.toks[p.pos]
	p.pos++
	switch tok {
	case tokTrue:
		return Literal(true), nil
	case tokFalse:
		return Literal(false), nil
	case tokLParen:
		x, err := p.or()
		if err != nil {
			return nil, err
		}
		if !p.peek(tokRParen) {
			return nil, configErr(ReasonTrigger, "missing closing parenthesis")
		}
		p.pos++
		return x, nil
	}
	return nil, configErr(ReasonTrigger, "unexpected token at position %d", p.pos-1)
}
