package dsl

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/campaignflow/workflow"
)

// Validator 图定义校验器；handlers 为 nil 时不检查处理器是否已登记
type Validator struct {
	handlers *workflow.HandlerRegistry
}

// NewValidator 创建校验器
func NewValidator(handlers *workflow.HandlerRegistry) *Validator {
	return &Validator{handlers: handlers}
}

// Validate 返回定义中的全部问题；结构性问题（可达性、出边）由 workflow.Compile 负责
func (v *Validator) Validate(def *GraphDefinition) []error {
	var errs []error

	if def.Version != "" && def.Version != SupportedVersion {
		errs = append(errs, fmt.Errorf("unsupported version %q (want %q)", def.Version, SupportedVersion))
	}
	if def.ID == "" {
		errs = append(errs, fmt.Errorf("id is required"))
	}
	if def.Entry == "" {
		errs = append(errs, fmt.Errorf("entry is required"))
	}
	if len(def.Nodes) == 0 {
		errs = append(errs, fmt.Errorf("nodes must have at least one node"))
	}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		if n.ID == "" {
			errs = append(errs, fmt.Errorf("node id is required"))
			continue
		}
		if nodeIDs[n.ID] {
			errs = append(errs, fmt.Errorf("duplicate node id %q", n.ID))
		}
		nodeIDs[n.ID] = true
		errs = append(errs, v.validateNode(n)...)
	}

	if def.Entry != "" && !nodeIDs[def.Entry] {
		errs = append(errs, fmt.Errorf("entry node %q does not exist", def.Entry))
	}

	for name, vd := range def.Variables {
		errs = append(errs, validateVariable(name, vd)...)
	}

	for i, e := range def.Edges {
		errs = append(errs, v.validateEdge(i, e, nodeIDs, def.Variables)...)
	}
	return errs
}

func (v *Validator) validateNode(n NodeDef) []error {
	var errs []error
	switch {
	case n.Interrupt && n.Handler != "":
		errs = append(errs, fmt.Errorf("node %s: interrupt node must not reference a handler", n.ID))
	case !n.Interrupt && n.Handler == "":
		errs = append(errs, fmt.Errorf("node %s: handler is required", n.ID))
	case n.Handler != "" && v.handlers != nil:
		if _, ok := v.handlers.Get(n.Handler); !ok {
			errs = append(errs, fmt.Errorf("node %s: handler %q is not registered", n.ID, n.Handler))
		}
	}
	if n.MaxRetries != nil && *n.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("node %s: max_retries must not be negative", n.ID))
	}
	if n.Timeout != "" {
		if d, err := time.ParseDuration(n.Timeout); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("node %s: invalid timeout %q", n.ID, n.Timeout))
		}
	}
	return errs
}

func validateVariable(name string, vd VariableDef) []error {
	switch vd.Type {
	case "", "string", "int", "float", "bool":
	default:
		return []error{fmt.Errorf("variable %s: invalid type %q", name, vd.Type)}
	}
	return nil
}

func (v *Validator) validateEdge(i int, e EdgeDef, nodeIDs map[string]bool, variables map[string]VariableDef) []error {
	var errs []error
	label := fmt.Sprintf("edge[%d] %s -> %s", i, e.From, e.To)

	if !nodeIDs[e.From] {
		errs = append(errs, fmt.Errorf("%s: source node does not exist", label))
	}
	if !isEnd(e.To) && !nodeIDs[e.To] {
		errs = append(errs, fmt.Errorf("%s: target node does not exist", label))
	}

	kind, err := edgeKind(e.Kind)
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", label, err))
	}
	if e.When == "" {
		return errs
	}
	if kind != workflow.EdgeNormal {
		errs = append(errs, fmt.Errorf("%s: %s edge must not have a condition", label, kind))
	}

	expr, err := CompileExpression(e.When)
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", label, err))
		return errs
	}
	for _, ref := range expr.Refs() {
		if err := checkRef(ref, nodeIDs, variables); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
	}
	return errs
}

// checkRef 校验表达式引用的根变量与节点是否存在
func checkRef(ref string, nodeIDs map[string]bool, variables map[string]VariableDef) error {
	parts := strings.Split(ref, ".")
	if !knownRoots[parts[0]] {
		return fmt.Errorf("unknown variable %q", ref)
	}
	if len(parts) < 2 {
		return nil
	}
	switch parts[0] {
	case rootResults, rootDecision, rootRetries:
		if !nodeIDs[parts[1]] {
			return fmt.Errorf("variable %q references unknown node %q", ref, parts[1])
		}
	case rootVars:
		if _, ok := variables[parts[1]]; !ok {
			return fmt.Errorf("variable %q is not declared", ref)
		}
	}
	return nil
}

func edgeKind(kind string) (workflow.EdgeKind, error) {
	switch strings.ToLower(kind) {
	case "", string(workflow.EdgeNormal):
		return workflow.EdgeNormal, nil
	case string(workflow.EdgeDefault):
		return workflow.EdgeDefault, nil
	case string(workflow.EdgeError):
		return workflow.EdgeError, nil
	default:
		return "", fmt.Errorf("unknown edge kind %q", kind)
	}
}

func isEnd(target string) bool {
	return target == EndTarget || target == workflow.End
}
