package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expression 编译后的条件表达式，只读，可并发求值。
//
// 支持：== != > < >= <= && || ! 与括号；数字、"字符串"、true/false 字面量；
// 点号路径变量，如 results.evaluate.score、decision.review、vars.min_score。
// 缺失的变量求值为 nil：nil 小于任何非 nil 值，两个 nil 相等。
type Expression struct {
	source string
	root   exprNode
	refs   []string
}

// CompileExpression 解析表达式
func CompileExpression(src string) (*Expression, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	tokens, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}

	p := &exprParser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("expression %q: unexpected token %q", src, p.tokens[p.pos].text)
	}
	return &Expression{source: src, root: root, refs: p.refs}, nil
}

// Eval 对变量求值
func (e *Expression) Eval(vars map[string]any) bool {
	return truthy(e.root.eval(vars))
}

// Refs 返回表达式引用的变量路径
func (e *Expression) Refs() []string {
	out := make([]string, len(e.refs))
	copy(out, e.refs)
	return out
}

func (e *Expression) String() string { return e.source }

// =============================================================================
// 词法
// =============================================================================

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

type lexer struct {
	src    []rune
	pos    int
	tokens []token
}

func lex(src string) ([]token, error) {
	l := &lexer{src: []rune(src)}
	for l.pos < len(l.src) {
		if err := l.next(); err != nil {
			return nil, err
		}
	}
	return l.tokens, nil
}

func (l *lexer) emit(kind tokenKind, text string) {
	l.tokens = append(l.tokens, token{kind: kind, text: text})
}

func (l *lexer) peekRune(offset int) (rune, bool) {
	i := l.pos + offset
	if i >= len(l.src) {
		return 0, false
	}
	return l.src[i], true
}

func (l *lexer) next() error {
	ch := l.src[l.pos]
	switch {
	case unicode.IsSpace(ch):
		l.pos++
	case ch == '(':
		l.emit(tokLParen, "(")
		l.pos++
	case ch == ')':
		l.emit(tokRParen, ")")
		l.pos++
	case ch == '"' || ch == '\'':
		return l.lexString(ch)
	case strings.ContainsRune("=!<>&|", ch):
		return l.lexOperator(ch)
	case isDigit(ch) || (ch == '-' && l.negativeAllowed()):
		l.lexNumber()
	case unicode.IsLetter(ch) || ch == '_':
		start := l.pos
		for l.pos < len(l.src) && isIdentRune(l.src[l.pos]) {
			l.pos++
		}
		l.emit(tokIdent, string(l.src[start:l.pos]))
	default:
		return fmt.Errorf("unexpected character %q at position %d", string(ch), l.pos)
	}
	return nil
}

func (l *lexer) lexString(quote rune) error {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		switch {
		case ch == '\\' && l.pos+1 < len(l.src):
			sb.WriteRune(l.src[l.pos+1])
			l.pos += 2
		case ch == quote:
			l.pos++
			l.emit(tokString, sb.String())
			return nil
		default:
			sb.WriteRune(ch)
			l.pos++
		}
	}
	return fmt.Errorf("unterminated string at position %d", start)
}

func (l *lexer) lexOperator(ch rune) error {
	if nxt, ok := l.peekRune(1); ok {
		switch op := string([]rune{ch, nxt}); op {
		case "==", "!=", ">=", "<=", "&&", "||":
			l.emit(tokOp, op)
			l.pos += 2
			return nil
		}
	}
	switch ch {
	case '>', '<', '!':
		l.emit(tokOp, string(ch))
		l.pos++
		return nil
	}
	return fmt.Errorf("incomplete operator %q at position %d", string(ch), l.pos)
}

func (l *lexer) lexNumber() {
	start := l.pos
	if l.src[l.pos] == '-' {
		l.pos++
	}
	seenDot := false
	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if ch == '.' && !seenDot {
			seenDot = true
		} else if !isDigit(ch) {
			break
		}
		l.pos++
	}
	l.emit(tokNumber, string(l.src[start:l.pos]))
}

// negativeAllowed '-' 只在表达式开头、运算符或左括号之后作为负号
func (l *lexer) negativeAllowed() bool {
	nxt, ok := l.peekRune(1)
	if !ok || !isDigit(nxt) {
		return false
	}
	if len(l.tokens) == 0 {
		return true
	}
	last := l.tokens[len(l.tokens)-1].kind
	return last == tokOp || last == tokLParen
}

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

func isIdentRune(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.' || ch == '-'
}

// =============================================================================
// 语法：递归下降构建表达式树
// =============================================================================

type exprParser struct {
	tokens []token
	pos    int
	refs   []string
}

func (p *exprParser) peekOp(ops ...string) (string, bool) {
	if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if p.tokens[p.pos].text == op {
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("||"); !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicNode{or: true, left: left, right: right}
	}
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("&&"); !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &logicNode{left: left, right: right}
	}
}

func (p *exprParser) parseComparison() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op, ok := p.peekOp("==", "!=", ">", "<", ">=", "<=")
	if !ok {
		return left, nil
	}
	p.pos++
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &compareNode{op: op, left: left, right: right}, nil
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if _, ok := p.peekOp("!"); ok {
		p.pos++
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{x: x}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	if p.pos >= len(p.tokens) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	t := p.tokens[p.pos]
	p.pos++

	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return literalNode{v: f}, nil
	case tokString:
		return literalNode{v: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return literalNode{v: true}, nil
		case "false":
			return literalNode{v: false}, nil
		case "null", "nil":
			return literalNode{v: nil}, nil
		}
		p.refs = append(p.refs, t.text)
		return varNode{path: strings.Split(t.text, ".")}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tokRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		p.pos++
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

// =============================================================================
// 求值
// =============================================================================

type exprNode interface {
	eval(vars map[string]any) any
}

type literalNode struct{ v any }

func (n literalNode) eval(map[string]any) any { return n.v }

type varNode struct{ path []string }

func (n varNode) eval(vars map[string]any) any {
	var cur any = vars
	for _, part := range n.path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = m[part]; !ok {
			return nil
		}
	}
	return cur
}

type notNode struct{ x exprNode }

func (n *notNode) eval(vars map[string]any) any { return !truthy(n.x.eval(vars)) }

type logicNode struct {
	or          bool
	left, right exprNode
}

func (n *logicNode) eval(vars map[string]any) any {
	l := truthy(n.left.eval(vars))
	if n.or {
		return l || truthy(n.right.eval(vars))
	}
	return l && truthy(n.right.eval(vars))
}

type compareNode struct {
	op          string
	left, right exprNode
}

func (n *compareNode) eval(vars map[string]any) any {
	return compare(n.left.eval(vars), n.op, n.right.eval(vars))
}

func compare(left any, op string, right any) bool {
	if left == nil || right == nil {
		var c int
		switch {
		case left == nil && right == nil:
			c = 0
		case left == nil:
			c = -1
		default:
			c = 1
		}
		return ordered(c, op)
	}

	lf, lok := number(left)
	rf, rok := number(right)
	if lok && rok {
		switch {
		case lf < rf:
			return ordered(-1, op)
		case lf > rf:
			return ordered(1, op)
		default:
			return ordered(0, op)
		}
	}

	lb, lbok := left.(bool)
	rb, rbok := right.(bool)
	if lbok && rbok {
		switch op {
		case "==":
			return lb == rb
		case "!=":
			return lb != rb
		}
		return false
	}

	return ordered(strings.Compare(fmt.Sprint(left), fmt.Sprint(right)), op)
}

func ordered(c int, op string) bool {
	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case ">":
		return c > 0
	case "<":
		return c < 0
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	}
	return false
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	default:
		if f, ok := number(v); ok {
			return f != 0
		}
		return true
	}
}

func number(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
