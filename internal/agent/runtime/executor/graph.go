// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"fmt"

	"research-agent/internal/agent/runtime"
)

// LoopBound 循环上限：Node 的访问次数达到 Limit 后，除 Fallback 以外的出边一律改走 Fallback
type LoopBound struct {
	Node     string
	Limit    func(s *runtime.State) int
	Fallback string
}

// Graph 步骤图：节点、无条件边、条件分支、唯一入口与终止哨兵 End
type Graph struct {
	registry  *NodeRegistry
	edges     map[string]string
	branches  map[string]Branch
	fallbacks map[string]string
	entry     string
	bound     *LoopBound
}

// NewGraph 创建空图
func NewGraph() *Graph {
	return &Graph{
		registry:  NewNodeRegistry(nil),
		edges:     make(map[string]string),
		branches:  make(map[string]Branch),
		fallbacks: make(map[string]string),
	}
}

// AddNode 注册步骤，名称不可重复
func (g *Graph) AddNode(name string, fn NodeFunc) error {
	if name == "" || name == End {
		return fmt.Errorf("%w: reserved node name %q", ErrInvalidGraph, name)
	}
	if fn == nil {
		return fmt.Errorf("%w: node %s has nil func", ErrInvalidGraph, name)
	}
	if g.registry.Has(name) {
		return fmt.Errorf("%w: duplicate node %s", ErrInvalidGraph, name)
	}
	g.registry.Register(name, fn)
	return nil
}

// AddEdge 无条件边
func (g *Graph) AddEdge(from, to string) error {
	if err := g.checkOutgoing(from); err != nil {
		return err
	}
	g.edges[from] = to
	return nil
}

// AddBranch 条件边
func (g *Graph) AddBranch(from string, b Branch) error {
	if err := g.checkOutgoing(from); err != nil {
		return err
	}
	if len(b.Targets) == 0 {
		return fmt.Errorf("%w: branch from %s has no targets", ErrInvalidGraph, from)
	}
	g.branches[from] = b
	return nil
}

func (g *Graph) checkOutgoing(from string) error {
	if _, ok := g.edges[from]; ok {
		return fmt.Errorf("%w: node %s already has an outgoing edge", ErrInvalidGraph, from)
	}
	if _, ok := g.branches[from]; ok {
		return fmt.Errorf("%w: node %s already has an outgoing branch", ErrInvalidGraph, from)
	}
	return nil
}

// SetEntry 指定入口
func (g *Graph) SetEntry(name string) { g.entry = name }

// Entry 入口节点名
func (g *Graph) Entry() string { return g.entry }

// SetFallback 步骤整体失败时改走的节点
func (g *Graph) SetFallback(from, to string) { g.fallbacks[from] = to }

// SetLoopBound 设置循环上限
func (g *Graph) SetLoopBound(b LoopBound) { g.bound = &b }

// Nodes 已注册节点
func (g *Graph) Nodes() []string { return g.registry.List() }

// Node 查找步骤
func (g *Graph) Node(name string) (NodeFunc, bool) { return g.registry.Get(name) }

func (g *Graph) known(name string) bool {
	return name == End || g.registry.Has(name)
}

// Validate 检查入口、出边、回退与循环上限的引用是否完整，且至少有一条边通向 End
func (g *Graph) Validate() error {
	if g.entry == "" || !g.registry.Has(g.entry) {
		return fmt.Errorf("%w: entry %q is not a registered node", ErrInvalidGraph, g.entry)
	}
	reachesEnd := false
	for _, name := range g.registry.List() {
		to, hasEdge := g.edges[name]
		_, hasBranch := g.branches[name]
		if !hasEdge && !hasBranch {
			return fmt.Errorf("%w: node %s has no outgoing edge", ErrInvalidGraph, name)
		}
		if hasEdge && !g.known(to) {
			return fmt.Errorf("%w: edge %s -> %s targets unknown node", ErrInvalidGraph, name, to)
		}
		if to == End {
			reachesEnd = true
		}
	}
	for from, to := range g.fallbacks {
		if !g.registry.Has(from) || !g.known(to) {
			return fmt.Errorf("%w: fallback %s -> %s references unknown node", ErrInvalidGraph, from, to)
		}
		if to == End {
			reachesEnd = true
		}
	}
	if !reachesEnd {
		return fmt.Errorf("%w: no edge reaches %s", ErrInvalidGraph, End)
	}
	if b := g.bound; b != nil {
		if !g.registry.Has(b.Node) || !g.known(b.Fallback) || b.Limit == nil {
			return fmt.Errorf("%w: loop bound on %s is incomplete", ErrInvalidGraph, b.Node)
		}
	}
	return nil
}

// next 计算 node 执行后的下一跳；failed 为真且配置了回退时走回退
func (g *Graph) next(node string, s *runtime.State, failed bool) (Target, error) {
	if failed {
		if fb, ok := g.fallbacks[node]; ok {
			return Goto(fb), nil
		}
	}
	if to, ok := g.edges[node]; ok {
		return Goto(to), nil
	}
	if b, ok := g.branches[node]; ok {
		t, ok := b.resolve(s)
		if !ok {
			return Target{}, fmt.Errorf("%w: branch from %s has no target for route %q", ErrUnknownNode, node, s.Route)
		}
		if !g.known(t.Node) {
			return Target{}, fmt.Errorf("%w: %s", ErrUnknownNode, t.Node)
		}
		return t, nil
	}
	return Target{}, fmt.Errorf("%w: node %s has no outgoing edge", ErrUnknownNode, node)
}
