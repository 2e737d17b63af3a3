package dsl

import (
	"strings"

	"github.com/BaSui01/campaignflow/workflow"
)

// 表达式可引用的根变量
const (
	rootResults  = "results"
	rootDecision = "decision"
	rootInputs   = "inputs"
	rootMetadata = "metadata"
	rootRetries  = "retries"
	rootVars     = "vars"
	rootStatus   = "status"
	rootCurrent  = "current_node"
)

var knownRoots = map[string]bool{
	rootResults: true, rootDecision: true, rootInputs: true, rootMetadata: true,
	rootRetries: true, rootVars: true, rootStatus: true, rootCurrent: true,
}

// StateVars 把实例状态展开为表达式变量：
//
//	results.<node>.<field>   节点最新结果的数据字段；另有 status/vendor/cost/latency_ms/attempt/error
//	decision.<node>          中断点收到的决定
//	inputs.<key> / metadata.<key> / retries.<node> / vars.<name> / status / current_node
func StateVars(st *workflow.WorkflowState, variables map[string]VariableDef) map[string]any {
	results := make(map[string]any, len(st.Results))
	for id, r := range st.Results {
		entry := make(map[string]any, len(r.Data)+6)
		for k, v := range r.Data {
			entry[k] = v
		}
		entry["status"] = string(r.Status)
		entry["vendor"] = r.VendorUsed
		entry["cost"] = r.Cost
		entry["latency_ms"] = r.LatencyMs
		entry["attempt"] = r.Attempt
		if r.Error != "" {
			entry["error"] = r.Error
		}
		results[id] = entry
	}

	decisions := make(map[string]any)
	metadata := make(map[string]any, len(st.Metadata))
	for k, v := range st.Metadata {
		metadata[k] = v
		if node, ok := strings.CutPrefix(k, "decision:"); ok {
			decisions[node] = v
		}
	}

	retries := make(map[string]any, len(st.NodeRetries))
	for k, v := range st.NodeRetries {
		retries[k] = v
	}

	vars := make(map[string]any, len(variables))
	for name, def := range variables {
		if def.Default != nil {
			vars[name] = def.Default
		}
		if v, ok := st.Inputs[name]; ok {
			vars[name] = v
		}
	}

	inputs := make(map[string]any, len(st.Inputs))
	for k, v := range st.Inputs {
		inputs[k] = v
	}

	return map[string]any{
		rootResults:  results,
		rootDecision: decisions,
		rootInputs:   inputs,
		rootMetadata: metadata,
		rootRetries:  retries,
		rootVars:     vars,
		rootStatus:   string(st.Status),
		rootCurrent:  st.CurrentNode,
	}
}

// Predicate 把表达式包装为边条件
func Predicate(expr *Expression, variables map[string]VariableDef) workflow.Predicate {
	return func(st *workflow.WorkflowState) (bool, error) {
		return expr.Eval(StateVars(st, variables)), nil
	}
}
