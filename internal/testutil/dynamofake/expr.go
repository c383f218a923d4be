package dynamofake

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a single stored record.
type Item = map[string]types.AttributeValue

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokName
	tokValue
	tokLParen
	tokRParen
	tokComma
	tokOp
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(expr string) ([]token, error) {
	var out []token
	rs := []rune(expr)
	isWord := func(r rune) bool { return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r) }
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			out = append(out, token{tokLParen, "("})
			i++
		case r == ')':
			out = append(out, token{tokRParen, ")"})
			i++
		case r == ',':
			out = append(out, token{tokComma, ","})
			i++
		case r == '#' || r == ':':
			j := i + 1
			for j < len(rs) && isWord(rs[j]) {
				j++
			}
			kind := tokName
			if r == ':' {
				kind = tokValue
			}
			out = append(out, token{kind, string(rs[i:j])})
			i = j
		case r == '<' || r == '>':
			if i+1 < len(rs) && (rs[i+1] == '=' || (r == '<' && rs[i+1] == '>')) {
				out = append(out, token{tokOp, string(rs[i : i+2])})
				i += 2
			} else {
				out = append(out, token{tokOp, string(r)})
				i++
			}
		case r == '=' || r == '+' || r == '-':
			out = append(out, token{tokOp, string(r)})
			i++
		case isWord(r):
			j := i
			for j < len(rs) && isWord(rs[j]) {
				j++
			}
			out = append(out, token{tokIdent, string(rs[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q in %q", r, expr)
		}
	}
	return append(out, token{tokEOF, ""}), nil
}

// evaluator interprets the expression subset used by the stores:
// conditions with AND/OR/NOT, attribute_exists, attribute_not_exists, contains
// and comparisons; updates with SET (incl. a +/- b and if_not_exists), ADD and REMOVE.
type evaluator struct {
	toks   []token
	pos    int
	item   Item
	names  map[string]string
	values map[string]types.AttributeValue
}

type evalError struct{ err error }

func newEvaluator(expr string, item Item, names map[string]string, values map[string]types.AttributeValue) (*evaluator, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	if item == nil {
		item = Item{}
	}
	return &evaluator{toks: toks, item: item, names: names, values: values}, nil
}

func (e *evaluator) fail(format string, args ...interface{}) {
	panic(evalError{fmt.Errorf(format, args...)})
}

func recoverEval(err *error) {
	if r := recover(); r != nil {
		ee, ok := r.(evalError)
		if !ok {
			panic(r)
		}
		*err = ee.err
	}
}

func (e *evaluator) peek() token { return e.toks[e.pos] }

func (e *evaluator) next() token {
	t := e.toks[e.pos]
	if t.kind != tokEOF {
		e.pos++
	}
	return t
}

func (e *evaluator) expect(kind tokenKind) token {
	t := e.next()
	if t.kind != kind {
		e.fail("unexpected token %q", t.text)
	}
	return t
}

func (e *evaluator) isKeyword(word string) bool {
	t := e.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

// evalCondition reports whether the condition holds for item.
func evalCondition(expr string, item Item, names map[string]string, values map[string]types.AttributeValue) (ok bool, err error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	e, err := newEvaluator(expr, item, names, values)
	if err != nil {
		return false, err
	}
	defer recoverEval(&err)
	ok = e.parseOr()
	if e.peek().kind != tokEOF {
		e.fail("trailing tokens in %q", expr)
	}
	return ok, nil
}

func (e *evaluator) parseOr() bool {
	left := e.parseAnd()
	for e.isKeyword("OR") {
		e.next()
		right := e.parseAnd()
		left = left || right
	}
	return left
}

func (e *evaluator) parseAnd() bool {
	left := e.parseNot()
	for e.isKeyword("AND") {
		e.next()
		right := e.parseNot()
		left = left && right
	}
	return left
}

func (e *evaluator) parseNot() bool {
	if e.isKeyword("NOT") {
		e.next()
		return !e.parseNot()
	}
	return e.parsePrimary()
}

func (e *evaluator) parsePrimary() bool {
	t := e.peek()
	if t.kind == tokLParen {
		e.next()
		v := e.parseOr()
		e.expect(tokRParen)
		return v
	}
	if t.kind == tokIdent && e.toks[e.pos+1].kind == tokLParen {
		switch strings.ToLower(t.text) {
		case "attribute_exists", "attribute_not_exists":
			e.next()
			e.expect(tokLParen)
			path := e.parsePath()
			e.expect(tokRParen)
			_, exists := e.item[path]
			if strings.EqualFold(t.text, "attribute_exists") {
				return exists
			}
			return !exists
		case "contains":
			e.next()
			e.expect(tokLParen)
			path := e.parsePath()
			e.expect(tokComma)
			operand := e.parseOperand()
			e.expect(tokRParen)
			return contains(e.item[path], operand)
		}
	}
	left := e.parseOperand()
	op := e.expect(tokOp)
	right := e.parseOperand()
	return compare(left, right, op.text)
}

// parsePath resolves an attribute name (plain or #placeholder).
func (e *evaluator) parsePath() string {
	t := e.next()
	switch t.kind {
	case tokIdent:
		return t.text
	case tokName:
		name, ok := e.names[t.text]
		if !ok {
			e.fail("undefined name placeholder %s", t.text)
		}
		return name
	}
	e.fail("expected attribute path, got %q", t.text)
	return ""
}

func (e *evaluator) parseOperand() types.AttributeValue {
	t := e.peek()
	if t.kind == tokValue {
		e.next()
		v, ok := e.values[t.text]
		if !ok {
			e.fail("undefined value placeholder %s", t.text)
		}
		return v
	}
	if t.kind == tokIdent && strings.EqualFold(t.text, "if_not_exists") && e.toks[e.pos+1].kind == tokLParen {
		e.next()
		e.expect(tokLParen)
		path := e.parsePath()
		e.expect(tokComma)
		fallback := e.parseOperand()
		e.expect(tokRParen)
		if v, ok := e.item[path]; ok {
			return v
		}
		return fallback
	}
	return e.item[e.parsePath()]
}

func contains(attr, operand types.AttributeValue) bool {
	switch a := attr.(type) {
	case *types.AttributeValueMemberSS:
		s, ok := operand.(*types.AttributeValueMemberS)
		if !ok {
			return false
		}
		for _, v := range a.Value {
			if v == s.Value {
				return true
			}
		}
	case *types.AttributeValueMemberS:
		s, ok := operand.(*types.AttributeValueMemberS)
		return ok && strings.Contains(a.Value, s.Value)
	}
	return false
}

func compare(a, b types.AttributeValue, op string) bool {
	if a == nil || b == nil {
		return false
	}
	var c int
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return op == "<>"
		}
		c = strings.Compare(av.Value, bv.Value)
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return op == "<>"
		}
		x, y := mustFloat(av.Value), mustFloat(bv.Value)
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		}
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok || (op != "=" && op != "<>") {
			return op == "<>"
		}
		if av.Value != bv.Value {
			c = 1
		}
	default:
		return false
	}
	switch op {
	case "=":
		return c == 0
	case "<>":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func mustFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		panic(evalError{fmt.Errorf("invalid number %q", s)})
	}
	return f
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// applyUpdate returns a copy of item with the update expression applied.
// All right-hand sides read the pre-update item.
func applyUpdate(expr string, item Item, names map[string]string, values map[string]types.AttributeValue) (out Item, err error) {
	e, err := newEvaluator(expr, item, names, values)
	if err != nil {
		return nil, err
	}
	defer recoverEval(&err)

	out = copyItem(item)
	for e.peek().kind != tokEOF {
		clause := e.expect(tokIdent)
		switch strings.ToUpper(clause.text) {
		case "SET":
			for {
				path := e.parsePath()
				if op := e.expect(tokOp); op.text != "=" {
					e.fail("expected = in SET, got %q", op.text)
				}
				out[path] = e.parseSetValue()
				if e.peek().kind != tokComma {
					break
				}
				e.next()
			}
		case "ADD":
			for {
				path := e.parsePath()
				v := e.parseOperand()
				out[path] = add(e, item[path], v)
				if e.peek().kind != tokComma {
					break
				}
				e.next()
			}
		case "REMOVE":
			for {
				delete(out, e.parsePath())
				if e.peek().kind != tokComma {
					break
				}
				e.next()
			}
		default:
			e.fail("unsupported update clause %q", clause.text)
		}
	}
	return out, nil
}

func (e *evaluator) parseSetValue() types.AttributeValue {
	left := e.parseOperand()
	t := e.peek()
	if t.kind != tokOp || (t.text != "+" && t.text != "-") {
		return left
	}
	e.next()
	right := e.parseOperand()
	l, lok := left.(*types.AttributeValueMemberN)
	r, rok := right.(*types.AttributeValueMemberN)
	if !lok || !rok {
		e.fail("arithmetic on non-numeric operands")
	}
	x, y := mustFloat(l.Value), mustFloat(r.Value)
	if t.text == "+" {
		return &types.AttributeValueMemberN{Value: formatFloat(x + y)}
	}
	return &types.AttributeValueMemberN{Value: formatFloat(x - y)}
}

func add(e *evaluator, current, delta types.AttributeValue) types.AttributeValue {
	switch d := delta.(type) {
	case *types.AttributeValueMemberN:
		if current == nil {
			return d
		}
		c, ok := current.(*types.AttributeValueMemberN)
		if !ok {
			e.fail("ADD number to non-number attribute")
		}
		return &types.AttributeValueMemberN{Value: formatFloat(mustFloat(c.Value) + mustFloat(d.Value))}
	case *types.AttributeValueMemberSS:
		merged := []string{}
		if current != nil {
			c, ok := current.(*types.AttributeValueMemberSS)
			if !ok {
				e.fail("ADD string set to non-set attribute")
			}
			merged = append(merged, c.Value...)
		}
		for _, v := range d.Value {
			dup := false
			for _, m := range merged {
				if m == v {
					dup = true
					break
				}
			}
			if !dup {
				merged = append(merged, v)
			}
		}
		return &types.AttributeValueMemberSS{Value: merged}
	}
	e.fail("unsupported ADD operand %T", delta)
	return nil
}

func copyItem(item Item) Item {
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
