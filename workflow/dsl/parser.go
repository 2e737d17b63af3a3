package dsl

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/campaignflow/workflow"
)

// Parser 把 YAML/JSON 图定义编译为可执行图，处理器按名称从注册表解析
type Parser struct {
	handlers *workflow.HandlerRegistry
	logger   *zap.Logger
}

// NewParser 创建解析器
func NewParser(handlers *workflow.HandlerRegistry, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		handlers: handlers,
		logger:   logger.With(zap.String("component", "graph_parser")),
	}
}

// Parse 解析定义（YAML，JSON 作为其子集同样可用），未知字段视为错误
func (p *Parser) Parse(data []byte) (*GraphDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def GraphDefinition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("%w: parse graph definition: %v", workflow.ErrGraphConfig, err)
	}
	return &def, nil
}

// ParseFile 从文件解析定义
func (p *Parser) ParseFile(path string) (*GraphDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph definition: %w", err)
	}
	return p.Parse(data)
}

// Build 校验定义并编译为可执行图
func (p *Parser) Build(def *GraphDefinition) (*workflow.ExecutableGraph, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: graph definition is nil", workflow.ErrGraphConfig)
	}
	if p.handlers == nil {
		return nil, fmt.Errorf("%w: handler registry is required", workflow.ErrGraphConfig)
	}
	if errs := NewValidator(p.handlers).Validate(def); len(errs) > 0 {
		return nil, fmt.Errorf("%w: graph %q: %w", workflow.ErrGraphConfig, def.ID, errors.Join(errs...))
	}

	g := workflow.NewGraph(def.ID).SetEntry(def.Entry)
	for _, n := range def.Nodes {
		opts := nodeOptions(n)
		if n.Interrupt {
			g.AddInterrupt(n.ID, opts...)
			continue
		}
		h, _ := p.handlers.Get(n.Handler)
		g.AddNode(n.ID, h, opts...)
	}

	for _, e := range def.Edges {
		kind, _ := edgeKind(e.Kind)
		edge := workflow.Edge{From: e.From, To: target(e.To), Kind: kind, Label: e.Label}
		if e.When != "" {
			expr, err := CompileExpression(e.When)
			if err != nil {
				return nil, fmt.Errorf("%w: graph %q: %v", workflow.ErrGraphConfig, def.ID, err)
			}
			edge.When = Predicate(expr, def.Variables)
			if edge.Label == "" {
				edge.Label = expr.String()
			}
		}
		g.AddEdges(edge)
	}

	eg, err := g.Compile()
	if err != nil {
		return nil, err
	}
	p.logger.Debug("graph compiled",
		zap.String("graph_id", def.ID),
		zap.Int("nodes", len(def.Nodes)),
		zap.Int("edges", len(def.Edges)))
	return eg, nil
}

// Load 解析并编译
func (p *Parser) Load(data []byte) (*workflow.ExecutableGraph, error) {
	def, err := p.Parse(data)
	if err != nil {
		return nil, err
	}
	return p.Build(def)
}

// LoadFile 从文件解析并编译
func (p *Parser) LoadFile(path string) (*workflow.ExecutableGraph, error) {
	def, err := p.ParseFile(path)
	if err != nil {
		return nil, err
	}
	eg, err := p.Build(def)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return eg, nil
}

// LoadDir 编译目录下全部 *.yaml / *.yml / *.json 定义（按文件名排序），任一失败即返回错误
func (p *Parser) LoadDir(dir string) ([]*workflow.ExecutableGraph, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read graphs dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	graphs := make([]*workflow.ExecutableGraph, 0, len(files))
	seen := make(map[string]string, len(files))
	for _, f := range files {
		eg, err := p.LoadFile(f)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[eg.ID()]; dup {
			return nil, fmt.Errorf("%w: graph %q defined in both %s and %s",
				workflow.ErrGraphConfig, eg.ID(), filepath.Base(prev), filepath.Base(f))
		}
		seen[eg.ID()] = f
		graphs = append(graphs, eg)
	}
	p.logger.Info("graph definitions loaded", zap.String("dir", dir), zap.Int("graphs", len(graphs)))
	return graphs, nil
}

func nodeOptions(n NodeDef) []workflow.NodeOption {
	var opts []workflow.NodeOption
	if n.MaxRetries != nil {
		opts = append(opts, workflow.WithMaxRetries(*n.MaxRetries))
	}
	if n.Timeout != "" {
		if d, err := time.ParseDuration(n.Timeout); err == nil {
			opts = append(opts, workflow.WithNodeTimeout(d))
		}
	}
	if n.Description != "" {
		opts = append(opts, workflow.WithDescription(n.Description))
	}
	return opts
}

func target(to string) string {
	if isEnd(to) {
		return workflow.End
	}
	return to
}
