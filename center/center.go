package center

import (
	"errors"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// ErrNodeNotFound 节点不存在.
var ErrNodeNotFound = errors.New("node not found")

// Node 节点信息
type Node interface {
	// GetNodeId 节点ID.
	GetNodeId() string

	// GetNodeAddr 获取节点地址.
	GetNodeAddr() string
}

// Center 数据中心. 负责将调用目标解析为节点.
type Center interface {
	// GetNode 获取节点信息.
	GetNode(nodeId string) (Node, error)
}

// node Node 实现.
type node struct {
	id   string
	addr string
}

func (n *node) GetNodeId() string { return n.id }

func (n *node) GetNodeAddr() string { return n.addr }

// Static 基于静态表的 Center.
type Static struct {
	mtx   sync.RWMutex
	nodes map[string]*node
}

// NewStatic 使用 nodeId -> addr 表构造 Static.
func NewStatic(nodes map[string]string) *Static {
	s := &Static{nodes: make(map[string]*node, len(nodes))}
	for id, addr := range nodes {
		s.nodes[id] = &node{id: id, addr: addr}
	}
	return s
}

// SetNode 设置节点地址.
func (s *Static) SetNode(nodeId, addr string) {
	s.mtx.Lock()
	s.nodes[nodeId] = &node{id: nodeId, addr: addr}
	s.mtx.Unlock()
}

// RemoveNode 移除节点.
func (s *Static) RemoveNode(nodeId string) {
	s.mtx.Lock()
	delete(s.nodes, nodeId)
	s.mtx.Unlock()
}

// GetNode 实现 Center.
func (s *Static) GetNode(nodeId string) (Node, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	n, ok := s.nodes[nodeId]
	if !ok {
		return nil, pkgerrors.WithMessage(ErrNodeNotFound, nodeId)
	}
	return n, nil
}
