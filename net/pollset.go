package net

import "sync"

// Pollset Endpoint 集合. I/O 事件由 Go 运行时的 netpoller 驱动,
// Pollset 负责登记归属于同一个事件循环的 Endpoint.
type Pollset struct {
	mtx       sync.Mutex
	endpoints map[Endpoint]struct{}
}

// NewPollset 构造 Pollset.
func NewPollset() *Pollset {
	return &Pollset{
		endpoints: make(map[Endpoint]struct{}),
	}
}

func (ps *Pollset) add(ep Endpoint) {
	ps.mtx.Lock()
	ps.endpoints[ep] = struct{}{}
	ps.mtx.Unlock()
}

func (ps *Pollset) remove(ep Endpoint) {
	ps.mtx.Lock()
	delete(ps.endpoints, ep)
	ps.mtx.Unlock()
}

// Len Endpoint 数量.
func (ps *Pollset) Len() int {
	ps.mtx.Lock()
	defer ps.mtx.Unlock()
	return len(ps.endpoints)
}

// Shutdown 关闭所有 Endpoint.
func (ps *Pollset) Shutdown() {
	ps.mtx.Lock()
	endpoints := make([]Endpoint, 0, len(ps.endpoints))
	for ep := range ps.endpoints {
		endpoints = append(endpoints, ep)
	}
	ps.mtx.Unlock()

	for _, ep := range endpoints {
		ep.Shutdown()
	}
}

// PollsetSet Pollset 集合. 加入集合的 Endpoint 会加入其中每一个 Pollset.
type PollsetSet struct {
	mtx       sync.Mutex
	pollsets  []*Pollset
	endpoints []Endpoint
}

// NewPollsetSet 构造 PollsetSet.
func NewPollsetSet() *PollsetSet {
	return &PollsetSet{}
}

// AddPollset 加入 Pollset. 集合中已有的 Endpoint 随之加入.
func (pss *PollsetSet) AddPollset(ps *Pollset) {
	pss.mtx.Lock()
	pss.pollsets = append(pss.pollsets, ps)
	endpoints := append([]Endpoint(nil), pss.endpoints...)
	pss.mtx.Unlock()

	for _, ep := range endpoints {
		ep.AddToPollset(ps)
	}
}

func (pss *PollsetSet) add(ep Endpoint) []*Pollset {
	pss.mtx.Lock()
	defer pss.mtx.Unlock()
	pss.endpoints = append(pss.endpoints, ep)
	return append([]*Pollset(nil), pss.pollsets...)
}

func (pss *PollsetSet) remove(ep Endpoint) {
	pss.mtx.Lock()
	defer pss.mtx.Unlock()
	for i, e := range pss.endpoints {
		if e == ep {
			pss.endpoints = append(pss.endpoints[:i], pss.endpoints[i+1:]...)
			return
		}
	}
}
