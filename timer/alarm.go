package timer

import (
	"sync/atomic"
)

// Outcome 定时器回调结果.
type Outcome int8

const (
	OutcomeExpired   = Outcome(1) // 到期.
	OutcomeCancelled = Outcome(2) // 被取消.
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExpired:
		return "Expired"
	case OutcomeCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Func 定时器回调函数. 每次注册恰好调用一次.
type Func func(arg any, outcome Outcome)

// Alarm 状态.
//
//	stateIdle -> stateWaiting                     [Register]
//	stateWaiting -> stateFiring -> stateFired     [Advance]
//	stateWaiting -> stateCancelled                [Cancel]
//	stateFired/stateCancelled -> stateWaiting     [Register, 复用]
const (
	stateIdle      = int32(0) // 从未注册.
	stateWaiting   = int32(1) // 等待到期.
	stateFiring    = int32(2) // 已从堆中取出, 等待回调.
	stateCancelled = int32(3) // 已取消.
	stateFired     = int32(4) // 已到期.
)

// node 所属位置.
const (
	memberNone = int8(0) // 不在任何结构中.
	memberHeap = int8(1) // 近期最小堆.
	memberFar  = int8(2) // 远期链表.
)

// node Alarm 内嵌的侵入式节点, 注册时无需额外分配.
type node struct {
	alarm     *Alarm // 所属 Alarm.
	deadline  int64  // 到期时间.
	seq       uint64 // 插入序号, 到期时间相同时先入先出.
	member    int8   // 所属位置.
	heapIndex int    // 堆索引, 仅 member == memberHeap 时有效.
	prev      *node  // 远期链表前驱.
	next      *node  // 远期链表后继.
}

func (n *node) HeapLess(other *node) bool {
	if n.deadline == other.deadline {
		return n.seq < other.seq
	}
	return n.deadline < other.deadline
}

func (n *node) HeapIndex() int {
	return n.heapIndex
}

func (n *node) SetHeapIndex(index int) {
	n.heapIndex = index
}

// Alarm 一次到期登记. 内存由调用方持有, 零值可直接注册.
// 没有销毁操作: 回调被调用即代表 Alarm 退役, 之后可再次注册.
type Alarm struct {
	state atomic.Int32          // 状态.
	shard atomic.Pointer[shard] // 所属分片.
	node  node                  // 侵入式节点, 受分片锁保护.
	f     Func                  // 回调函数, 受分片锁保护.
	arg   any                   // 回调参数, 受分片锁保护.
}

// Deadline 返回最近一次注册的到期时间.
func (a *Alarm) Deadline() int64 {
	for {
		s := a.shard.Load()
		if s == nil {
			return 0
		}
		s.mtx.Lock()
		if a.shard.Load() != s {
			// 已被重新注册到其它分片.
			s.mtx.Unlock()
			continue
		}
		deadline := a.node.deadline
		s.mtx.Unlock()
		return deadline
	}
}

// Pending 是否处于等待状态.
func (a *Alarm) Pending() bool {
	return a.state.Load() == stateWaiting
}

// take 取出并清空回调. 调用方需持有分片锁.
func (a *Alarm) take() (Func, any) {
	f, arg := a.f, a.arg
	a.f, a.arg = nil, nil
	return f, arg
}
