package dsl

// SupportedVersion 当前支持的定义版本
const SupportedVersion = "1"

// EndTarget 边指向流程结束时可用的写法（同时接受 workflow.End）
const EndTarget = "END"

// GraphDefinition 声明式工作流图
type GraphDefinition struct {
	// Version 定义版本
	Version string `yaml:"version" json:"version"`
	// ID 图标识，即 StartWorkflow 使用的 graphId
	ID string `yaml:"id" json:"id"`
	// Description 描述
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Variables 条件表达式可引用的变量（vars.<name>），实例输入同名键优先
	Variables map[string]VariableDef `yaml:"variables,omitempty" json:"variables,omitempty"`

	Entry string    `yaml:"entry" json:"entry"`
	Nodes []NodeDef `yaml:"nodes" json:"nodes"`
	Edges []EdgeDef `yaml:"edges" json:"edges"`

	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// VariableDef 变量定义
type VariableDef struct {
	Type        string `yaml:"type" json:"type"` // string, int, float, bool
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// NodeDef 节点定义：处理节点引用已登记的处理器名称，中断点不带处理器
type NodeDef struct {
	ID          string `yaml:"id" json:"id"`
	Handler     string `yaml:"handler,omitempty" json:"handler,omitempty"`
	Interrupt   bool   `yaml:"interrupt,omitempty" json:"interrupt,omitempty"`
	MaxRetries  *int   `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	Timeout     string `yaml:"timeout,omitempty" json:"timeout,omitempty"` // time.ParseDuration 格式
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// EdgeDef 边定义
type EdgeDef struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
	// When 条件表达式，仅普通边可用
	When string `yaml:"when,omitempty" json:"when,omitempty"`
	// Kind normal（默认）、default、error
	Kind  string `yaml:"kind,omitempty" json:"kind,omitempty"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
}
