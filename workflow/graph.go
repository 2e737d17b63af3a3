package workflow

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// End 终止节点标识
const End = "__end__"

// EdgeKind 边类型
type EdgeKind string

const (
	// EdgeNormal 无条件或带条件的普通边，按声明顺序匹配
	EdgeNormal EdgeKind = "normal"
	// EdgeDefault 所有普通边都不匹配时采用
	EdgeDefault EdgeKind = "default"
	// EdgeError 节点重试耗尽后采用
	EdgeError EdgeKind = "error"
)

// Predicate 基于实例状态的纯函数条件
type Predicate func(state *WorkflowState) (bool, error)

// Edge 节点之间的有向边
type Edge struct {
	From  string
	To    string
	When  Predicate
	Kind  EdgeKind
	Label string
}

// GraphNode 图中的静态节点定义，编译后只读共享
type GraphNode struct {
	ID               string
	Handler          StageHandler
	IsInterruptPoint bool
	// MaxRetries 为 nil 时使用编排器默认值
	MaxRetries  *int
	Timeout     time.Duration
	Description string
}

// NodeOption configures a GraphNode
type NodeOption func(*GraphNode)

// WithMaxRetries 设置节点重试预算
func WithMaxRetries(n int) NodeOption {
	return func(node *GraphNode) { node.MaxRetries = &n }
}

// WithNodeTimeout 设置节点处理超时
func WithNodeTimeout(d time.Duration) NodeOption {
	return func(node *GraphNode) { node.Timeout = d }
}

// WithDescription 设置节点描述
func WithDescription(desc string) NodeOption {
	return func(node *GraphNode) { node.Description = desc }
}

// =============================================================================
// 🏗️ 图构建器
// =============================================================================

// Graph 声明式图构建器，Compile 后才能执行
type Graph struct {
	id    string
	entry string
	nodes []*GraphNode
	edges []Edge
}

// NewGraph 创建图构建器
func NewGraph(id string) *Graph {
	return &Graph{id: id}
}

// AddNode 添加处理节点
func (g *Graph) AddNode(id string, handler StageHandler, opts ...NodeOption) *Graph {
	node := &GraphNode{ID: id, Handler: handler}
	for _, opt := range opts {
		opt(node)
	}
	g.nodes = append(g.nodes, node)
	return g
}

// AddInterrupt 添加人工审核中断点
func (g *Graph) AddInterrupt(id string, opts ...NodeOption) *Graph {
	node := &GraphNode{ID: id, IsInterruptPoint: true}
	for _, opt := range opts {
		opt(node)
	}
	g.nodes = append(g.nodes, node)
	return g
}

// SetEntry 设置入口节点
func (g *Graph) SetEntry(id string) *Graph {
	g.entry = id
	return g
}

// AddEdge 添加无条件边
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges = append(g.edges, Edge{From: from, To: to, Kind: EdgeNormal})
	return g
}

// AddConditionalEdge 添加条件边
func (g *Graph) AddConditionalEdge(from, to string, when Predicate) *Graph {
	g.edges = append(g.edges, Edge{From: from, To: to, When: when, Kind: EdgeNormal})
	return g
}

// AddDefaultEdge 添加默认边
func (g *Graph) AddDefaultEdge(from, to string) *Graph {
	g.edges = append(g.edges, Edge{From: from, To: to, Kind: EdgeDefault})
	return g
}

// AddErrorEdge 添加错误边
func (g *Graph) AddErrorEdge(from, to string) *Graph {
	g.edges = append(g.edges, Edge{From: from, To: to, Kind: EdgeError})
	return g
}

// AddEdges 批量添加边（供声明式定义使用）
func (g *Graph) AddEdges(edges ...Edge) *Graph {
	g.edges = append(g.edges, edges...)
	return g
}

// Compile 校验并编译图
func (g *Graph) Compile() (*ExecutableGraph, error) {
	return Compile(g)
}

// =============================================================================
// ⚙️ 可执行图
// =============================================================================

// ExecutableGraph 编译后的只读图，可被多个实例并发使用
type ExecutableGraph struct {
	id         string
	entry      string
	order      []string
	nodes      map[string]*GraphNode
	normal     map[string][]Edge
	defaults   map[string]Edge
	onError    map[string]Edge
	interrupts []string
}

// Compile 校验节点、边与可达性，返回可执行图
func Compile(g *Graph) (*ExecutableGraph, error) {
	if g == nil {
		return nil, graphConfigError("graph is nil")
	}

	var errs []error
	if g.id == "" {
		errs = append(errs, errors.New("graph id is required"))
	}

	eg := &ExecutableGraph{
		id:       g.id,
		entry:    g.entry,
		nodes:    make(map[string]*GraphNode, len(g.nodes)),
		normal:   make(map[string][]Edge),
		defaults: make(map[string]Edge),
		onError:  make(map[string]Edge),
	}

	for _, n := range g.nodes {
		switch {
		case n.ID == "":
			errs = append(errs, errors.New("node id is required"))
			continue
		case n.ID == End:
			errs = append(errs, fmt.Errorf("node id %q is reserved", End))
			continue
		}
		if _, dup := eg.nodes[n.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate node %q", n.ID))
			continue
		}
		if n.IsInterruptPoint && n.Handler != nil {
			errs = append(errs, fmt.Errorf("interrupt node %q must not have a handler", n.ID))
		}
		if !n.IsInterruptPoint && n.Handler == nil {
			errs = append(errs, fmt.Errorf("node %q has no handler", n.ID))
		}
		if n.MaxRetries != nil && *n.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("node %q: max retries must not be negative", n.ID))
		}
		node := *n
		eg.nodes[n.ID] = &node
		eg.order = append(eg.order, n.ID)
		if n.IsInterruptPoint {
			eg.interrupts = append(eg.interrupts, n.ID)
		}
	}

	if g.entry == "" {
		errs = append(errs, errors.New("entry node is required"))
	} else if _, ok := eg.nodes[g.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry node %q does not exist", g.entry))
	}

	for _, e := range g.edges {
		if _, ok := eg.nodes[e.From]; !ok {
			errs = append(errs, fmt.Errorf("edge %s -> %s: source node does not exist", e.From, e.To))
			continue
		}
		if _, ok := eg.nodes[e.To]; !ok && e.To != End {
			errs = append(errs, fmt.Errorf("edge %s -> %s: target node does not exist", e.From, e.To))
			continue
		}
		switch e.Kind {
		case EdgeNormal, "":
			e.Kind = EdgeNormal
			eg.normal[e.From] = append(eg.normal[e.From], e)
		case EdgeDefault:
			if _, dup := eg.defaults[e.From]; dup {
				errs = append(errs, fmt.Errorf("node %q has more than one default edge", e.From))
				continue
			}
			if e.When != nil {
				errs = append(errs, fmt.Errorf("default edge %s -> %s must not have a condition", e.From, e.To))
			}
			eg.defaults[e.From] = e
		case EdgeError:
			if _, dup := eg.onError[e.From]; dup {
				errs = append(errs, fmt.Errorf("node %q has more than one error edge", e.From))
				continue
			}
			eg.onError[e.From] = e
		default:
			errs = append(errs, fmt.Errorf("edge %s -> %s: unknown kind %q", e.From, e.To, e.Kind))
		}
	}

	for _, id := range eg.order {
		if len(eg.normal[id]) == 0 {
			if _, ok := eg.defaults[id]; !ok {
				errs = append(errs, fmt.Errorf("node %q has no outgoing edge", id))
			}
		}
	}

	if len(errs) == 0 {
		for _, id := range eg.unreachable() {
			errs = append(errs, fmt.Errorf("node %q is unreachable from entry %q", id, eg.entry))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: graph %q: %w", ErrGraphConfig, g.id, errors.Join(errs...))
	}
	return eg, nil
}

func (g *ExecutableGraph) unreachable() []string {
	seen := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.Edges(id) {
			if e.To != End && !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	var out []string
	for _, id := range g.order {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// ID 返回图标识
func (g *ExecutableGraph) ID() string { return g.id }

// Entry 返回入口节点
func (g *ExecutableGraph) Entry() string { return g.entry }

// Node 按 ID 查找节点
func (g *ExecutableGraph) Node(id string) (*GraphNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes 按声明顺序返回节点 ID
func (g *ExecutableGraph) Nodes() []string {
	return slices.Clone(g.order)
}

// InterruptPoints 返回中断点节点 ID
func (g *ExecutableGraph) InterruptPoints() []string {
	return slices.Clone(g.interrupts)
}

// Edges 返回节点的全部出边：普通边（声明顺序）、默认边、错误边
func (g *ExecutableGraph) Edges(from string) []Edge {
	out := slices.Clone(g.normal[from])
	if e, ok := g.defaults[from]; ok {
		out = append(out, e)
	}
	if e, ok := g.onError[from]; ok {
		out = append(out, e)
	}
	return out
}

// Next 在节点成功后解析下一跳：按声明顺序取第一条匹配的普通边，
// 否则取默认边，仍无则为配置错误。条件函数的错误或 panic 同样视为配置错误。
func (g *ExecutableGraph) Next(state *WorkflowState, from string) (string, error) {
	for _, e := range g.normal[from] {
		if e.When == nil {
			return e.To, nil
		}
		ok, err := evalPredicate(e, state)
		if err != nil {
			return "", err
		}
		if ok {
			return e.To, nil
		}
	}
	if e, ok := g.defaults[from]; ok {
		return e.To, nil
	}
	return "", graphConfigError("no outgoing edge of node %q matched", from)
}

// ErrorTarget 返回节点错误边的目标
func (g *ExecutableGraph) ErrorTarget(from string) (string, bool) {
	e, ok := g.onError[from]
	return e.To, ok
}

func evalPredicate(e Edge, state *WorkflowState) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = graphConfigError("predicate on edge %s -> %s panicked: %v", e.From, e.To, &PanicError{Value: r})
		}
	}()
	ok, err = e.When(state)
	if err != nil {
		return false, graphConfigError("predicate on edge %s -> %s: %v", e.From, e.To, err)
	}
	return ok, nil
}

// =============================================================================
// 常用条件
// =============================================================================

// DecisionIs 中断点收到指定决定时成立
func DecisionIs(nodeID, value string) Predicate {
	return func(s *WorkflowState) (bool, error) {
		v, ok := s.Decision(nodeID)
		return ok && v == value, nil
	}
}

// ResultAtLeast 节点最新结果中 field 的数值 >= min 时成立；字段缺失视为不成立
func ResultAtLeast(nodeID, field string, min float64) Predicate {
	return func(s *WorkflowState) (bool, error) {
		r, ok := s.Results[nodeID]
		if !ok {
			return false, nil
		}
		raw, ok := r.Data[field]
		if !ok {
			return false, nil
		}
		v, ok := toFloat(raw)
		if !ok {
			return false, fmt.Errorf("field %q of node %q is not numeric", field, nodeID)
		}
		return v >= min, nil
	}
}

// Not 取反
func Not(p Predicate) Predicate {
	return func(s *WorkflowState) (bool, error) {
		ok, err := p(s)
		return !ok, err
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
