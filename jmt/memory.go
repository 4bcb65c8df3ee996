// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jmt

import "sync"

var _ TreeReader = (*MemoryStore)(nil)

// MemoryStore keeps nodes in memory. It backs light clients that only
// need to track a handful of versions, and tests.
type MemoryStore struct {
	lock  sync.RWMutex
	nodes map[NodeKey]*Node
	roots map[uint64]Child
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[NodeKey]*Node),
		roots: make(map[uint64]Child),
	}
}

func (m *MemoryStore) GetNode(key NodeKey) (*Node, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	n, ok := m.nodes[key]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return n, nil
}

func (m *MemoryStore) GetRoot(version uint64) (Child, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	root, ok := m.roots[version]
	if !ok {
		return Child{}, ErrRootNotFound
	}
	return root, nil
}

// Write persists [update].
func (m *MemoryStore) Write(update *TreeUpdate) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, entry := range update.Nodes {
		m.nodes[entry.Key] = entry.Node
	}
	m.roots[update.Version] = update.Root
}
