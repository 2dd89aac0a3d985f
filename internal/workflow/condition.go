package workflow

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/magpieflow/magpie/internal/vars"
)

// Restricted condition evaluator. Conditions are authored by the agent in a
// tiny expression grammar: literals, names from the variable view, comparison
// and boolean operators, parentheses, and the whitelisted functions len, str,
// int, float, bool. There is no attribute access, no indexing, no arithmetic,
// and no host evaluation; both Python-style (True, None, and/or/not) and
// C-style (true, null, &&/||/!) spellings are accepted because definitions
// arrive from both hand-written JSON and generated script contexts.
//
// All failures return an Error with KindEvaluation; the evaluator never
// panics on user input.

// Eval evaluates expr against the variable view and returns the resulting
// value (nil, bool, float64, string, slice, or map).
func Eval(expr string, view map[string]any) (any, error) {
	toks, err := scanCondition(expr)
	if err != nil {
		return nil, err
	}
	p := &condParser{toks: toks, view: view}
	v, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, NewError(KindEvaluation, "unexpected %q at end of expression", p.peek().text)
	}
	return v, nil
}

// ParseCondition checks expr for syntax errors without evaluating it:
// unknown names resolve to nil and type errors are suppressed. Used by
// definition validation, where the variable view is not yet known.
func ParseCondition(expr string) error {
	toks, err := scanCondition(expr)
	if err != nil {
		return err
	}
	p := &condParser{toks: toks, checkOnly: true}
	if _, err := p.parseOr(); err != nil {
		return err
	}
	if !p.atEnd() {
		return NewError(KindEvaluation, "unexpected %q at end of expression", p.peek().text)
	}
	return nil
}

// EvalCondition evaluates expr and coerces the result to a boolean using
// truthiness rules (empty string/collection and zero are false).
func EvalCondition(expr string, view map[string]any) (bool, error) {
	v, err := Eval(expr, view)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Truthy reports whether v is considered true: nil and zero values of
// numbers, strings, slices, and maps are false; everything else is true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	}
	return true
}

// ---- scanner ----

type condTokenKind int

const (
	tokIdent condTokenKind = iota
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokEOF
)

type condToken struct {
	kind condTokenKind
	text string
	num  float64
	str  string
}

func scanCondition(expr string) ([]condToken, error) {
	var toks []condToken
	src := []rune(expr)
	i := 0
	for i < len(src) {
		r := src[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, condToken{kind: tokLParen, text: "("})
			i++
		case r == ')':
			toks = append(toks, condToken{kind: tokRParen, text: ")"})
			i++
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			var sb strings.Builder
			closed := false
			for j < len(src) {
				if src[j] == '\\' && j+1 < len(src) {
					sb.WriteRune(unescape(src[j+1]))
					j += 2
					continue
				}
				if src[j] == quote {
					closed = true
					break
				}
				sb.WriteRune(src[j])
				j++
			}
			if !closed {
				return nil, NewError(KindEvaluation, "unterminated string literal")
			}
			toks = append(toks, condToken{kind: tokString, text: sb.String(), str: sb.String()})
			i = j + 1
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(src) && unicode.IsDigit(src[i+1])):
			j := i
			for j < len(src) && (unicode.IsDigit(src[j]) || src[j] == '.') {
				j++
			}
			text := string(src[i:j])
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, NewError(KindEvaluation, "invalid number %q", text)
			}
			toks = append(toks, condToken{kind: tokNumber, text: text, num: f})
			i = j
		case r == '_' || unicode.IsLetter(r):
			j := i
			for j < len(src) && (src[j] == '_' || unicode.IsLetter(src[j]) || unicode.IsDigit(src[j])) {
				j++
			}
			toks = append(toks, condToken{kind: tokIdent, text: string(src[i:j])})
			i = j
		case strings.ContainsRune("=!<>&|-", r):
			two := ""
			if i+1 < len(src) {
				two = string(src[i : i+2])
			}
			switch two {
			case "==", "!=", "<=", ">=", "&&", "||":
				toks = append(toks, condToken{kind: tokOp, text: two})
				i += 2
			default:
				switch r {
				case '<', '>', '!', '-':
					toks = append(toks, condToken{kind: tokOp, text: string(r)})
					i++
				default:
					return nil, NewError(KindEvaluation, "unexpected character %q", string(r))
				}
			}
		default:
			return nil, NewError(KindEvaluation, "unexpected character %q", string(r))
		}
	}
	toks = append(toks, condToken{kind: tokEOF, text: "<eof>"})
	return toks, nil
}

func unescape(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return r
	}
}

// ---- parser / evaluator ----

type condParser struct {
	toks []condToken
	pos  int
	view map[string]any

	// checkOnly suppresses value errors (unknown names, type mismatches) so
	// only syntax problems surface.
	checkOnly bool
}

func (p *condParser) peek() condToken { return p.toks[p.pos] }

func (p *condParser) next() condToken {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *condParser) atEnd() bool { return p.peek().kind == tokEOF }

func (p *condParser) matchOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *condParser) matchKeyword(words ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokIdent {
		return "", false
	}
	for _, w := range words {
		if t.text == w {
			p.pos++
			return w, true
		}
	}
	return "", false
}

func (p *condParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.matchOp("||"); !ok {
			if _, ok := p.matchKeyword("or"); !ok {
				return left, nil
			}
		}
		if Truthy(left) {
			// Short-circuit: the right side is parsed for syntax but not
			// evaluated.
			if err := p.skipOperand((*condParser).parseAnd); err != nil {
				return nil, err
			}
			left = true
			continue
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Truthy(right)
	}
}

func (p *condParser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.matchOp("&&"); !ok {
			if _, ok := p.matchKeyword("and"); !ok {
				return left, nil
			}
		}
		if !Truthy(left) {
			if err := p.skipOperand((*condParser).parseNot); err != nil {
				return nil, err
			}
			left = false
			continue
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = Truthy(right)
	}
}

// skipOperand parses an operand in check-only mode, surfacing syntax errors
// while leaving names and values unresolved. Used for short-circuited sides
// of boolean operators.
func (p *condParser) skipOperand(parse func(*condParser) (any, error)) error {
	saved := p.checkOnly
	p.checkOnly = true
	_, err := parse(p)
	p.checkOnly = saved
	return err
}

func (p *condParser) parseNot() (any, error) {
	if _, ok := p.matchOp("!"); ok {
		v, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return !Truthy(v), nil
	}
	if _, ok := p.matchKeyword("not"); ok {
		v, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return !Truthy(v), nil
	}
	return p.parseComparison()
}

func (p *condParser) parseComparison() (any, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	op, ok := p.matchOp("==", "!=", "<", "<=", ">", ">=")
	if !ok {
		return left, nil
	}
	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.checkOnly {
		return false, nil
	}
	return compare(op, left, right)
}

func (p *condParser) parsePrimary() (any, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		return t.num, nil
	case tokString:
		p.next()
		return t.str, nil
	case tokLParen:
		p.next()
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, NewError(KindEvaluation, "missing closing parenthesis")
		}
		p.next()
		return v, nil
	case tokOp:
		if t.text == "-" {
			p.next()
			v, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			f, ok := toFloat(v)
			if !ok {
				if p.checkOnly {
					return float64(0), nil
				}
				return nil, NewError(KindEvaluation, "unary minus on non-numeric value")
			}
			return -f, nil
		}
		return nil, NewError(KindEvaluation, "unexpected operator %q", t.text)
	case tokIdent:
		p.next()
		switch t.text {
		case "true", "True":
			return true, nil
		case "false", "False":
			return false, nil
		case "nil", "null", "None":
			return nil, nil
		case "len", "str", "int", "float", "bool":
			if p.peek().kind != tokLParen {
				return nil, NewError(KindEvaluation, "%s must be called with parentheses", t.text)
			}
			p.next()
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if p.peek().kind != tokRParen {
				return nil, NewError(KindEvaluation, "missing closing parenthesis in %s()", t.text)
			}
			p.next()
			if p.checkOnly {
				return nil, nil
			}
			return applyFunc(t.text, arg)
		default:
			v, ok := p.view[t.text]
			if !ok {
				if p.checkOnly {
					return nil, nil
				}
				return nil, NewError(KindEvaluation, "unknown name %q", t.text)
			}
			return v, nil
		}
	default:
		return nil, NewError(KindEvaluation, "unexpected token %q", t.text)
	}
}

func applyFunc(name string, arg any) (any, error) {
	switch name {
	case "len":
		switch x := arg.(type) {
		case string:
			return float64(utf8.RuneCountInString(x)), nil
		}
		rv := reflect.ValueOf(arg)
		switch rv.Kind() {
		case reflect.Slice, reflect.Map, reflect.Array:
			return float64(rv.Len()), nil
		}
		return nil, NewError(KindEvaluation, "len() of unsupported type %T", arg)
	case "str":
		return vars.Stringify(arg), nil
	case "int":
		switch x := arg.(type) {
		case bool:
			if x {
				return float64(1), nil
			}
			return float64(0), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, NewError(KindEvaluation, "int() of non-numeric string %q", x)
			}
			return math.Trunc(f), nil
		}
		if f, ok := toFloat(arg); ok {
			return math.Trunc(f), nil
		}
		return nil, NewError(KindEvaluation, "int() of unsupported type %T", arg)
	case "float":
		switch x := arg.(type) {
		case bool:
			if x {
				return float64(1), nil
			}
			return float64(0), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, NewError(KindEvaluation, "float() of non-numeric string %q", x)
			}
			return f, nil
		}
		if f, ok := toFloat(arg); ok {
			return f, nil
		}
		return nil, NewError(KindEvaluation, "float() of unsupported type %T", arg)
	case "bool":
		return Truthy(arg), nil
	}
	return nil, NewError(KindEvaluation, "unknown function %q", name)
}

// compare applies a comparison operator. Equality across mismatched types is
// false rather than an error; ordering requires two numbers or two strings.
func compare(op string, left, right any) (any, error) {
	switch op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}

	return nil, NewError(KindEvaluation, "cannot order %T and %T with %q", left, right, op)
}

func looseEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return lf == rf
		}
		return false
	}
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		return ok && lb == rb
	}
	if ls, ok := left.(string); ok {
		rs, ok := right.(string)
		return ok && ls == rs
	}
	return reflect.DeepEqual(left, right)
}

// toFloat normalizes the numeric types that arrive via JSON decoding and Go
// callers into float64. Bools are not numbers here.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case fmt.Stringer:
		f, err := strconv.ParseFloat(x.String(), 64)
		return f, err == nil
	}
	return 0, false
}
