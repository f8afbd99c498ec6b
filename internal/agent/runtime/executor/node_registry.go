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
	"sort"
	"sync"
)

// NodeRegistry 命名步骤的注册与发现
type NodeRegistry struct {
	mu    sync.RWMutex
	nodes map[string]NodeFunc
}

// NewNodeRegistry 创建注册表；base 非 nil 时复制初始集合
func NewNodeRegistry(base map[string]NodeFunc) *NodeRegistry {
	r := &NodeRegistry{nodes: make(map[string]NodeFunc, len(base))}
	for k, v := range base {
		r.nodes[k] = v
	}
	return r
}

// Register 注册或覆盖一个步骤
func (r *NodeRegistry) Register(name string, fn NodeFunc) {
	r.mu.Lock()
	r.nodes[name] = fn
	r.mu.Unlock()
}

// Get 获取步骤
func (r *NodeRegistry) Get(name string) (NodeFunc, bool) {
	r.mu.RLock()
	fn, ok := r.nodes[name]
	r.mu.RUnlock()
	return fn, ok
}

// Has 是否已注册
func (r *NodeRegistry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List 已注册步骤名（字典序）
func (r *NodeRegistry) List() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.nodes))
	for k := range r.nodes {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
