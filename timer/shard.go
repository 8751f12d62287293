package timer

import (
	"sync"

	"github.com/godyy/gutils/container/heap"
)

// dispatch 待调用的到期回调.
type dispatch struct {
	alarm    *Alarm // Alarm.
	deadline int64  // 到期时间.
	f        Func   // 回调函数.
	arg      any    // 回调参数.
}

// fire 依次调用到期回调. 调用时不持有任何锁.
func fire(due []dispatch) {
	for i := range due {
		d := &due[i]
		d.alarm.state.Store(stateFired)
		d.f(d.arg, OutcomeExpired)
		d.f, d.arg, d.alarm = nil, nil, nil
	}
}

// shard 定时器分片. 到期时间落在近期窗口内的 Alarm 进入最小堆,
// 其余挂在远期链表上, 直到其最早到期时间进入窗口后才迁移入堆.
type shard struct {
	mtx         sync.Mutex        // 互斥锁.
	id          int               // 分片序号.
	horizon     int64             // 近期窗口.
	heap        *heap.Heap[*node] // 近期最小堆.
	farHead     *node             // 远期链表.
	farLen      int               // 远期链表长度.
	farMin      int64             // 远期链表最早到期时间.
	farMinDirty bool              // farMin 需要重新计算.
	seqGen      uint64            // 插入序号生成.
	waiting     int               // 等待中的 Alarm 数量.
	kick        func()            // 最早到期时间提前时唤醒 reactor.
}

func newShard(id int, horizon int64) *shard {
	return &shard{
		id:      id,
		horizon: horizon,
		heap:    heap.NewHeap[*node](),
	}
}

// withinHorizon deadline 是否落在 now 的近期窗口内.
func (s *shard) withinHorizon(deadline, now int64) bool {
	return deadline <= now || deadline-now < s.horizon
}

// setKick 设置唤醒函数.
func (s *shard) setKick(kick func()) {
	s.mtx.Lock()
	s.kick = kick
	s.mtx.Unlock()
}

// addLocked 添加节点.
func (s *shard) addLocked(n *node, now int64) {
	s.seqGen++
	n.seq = s.seqGen
	s.waiting++

	if s.withinHorizon(n.deadline, now) {
		s.heap.Push(n)
		n.member = memberHeap
		return
	}

	s.linkFarLocked(n)
}

// removeLocked 移除节点.
func (s *shard) removeLocked(n *node) {
	switch n.member {
	case memberHeap:
		s.heap.Remove(n.heapIndex)
	case memberFar:
		s.unlinkFarLocked(n)
		if n.deadline == s.farMin {
			s.farMinDirty = true
		}
	default:
		return
	}
	n.member = memberNone
	s.waiting--
}

// linkFarLocked 挂入远期链表.
func (s *shard) linkFarLocked(n *node) {
	n.prev = nil
	n.next = s.farHead
	if s.farHead != nil {
		s.farHead.prev = n
	}
	s.farHead = n
	n.member = memberFar

	if s.farLen == 0 || (!s.farMinDirty && n.deadline < s.farMin) {
		s.farMin = n.deadline
		s.farMinDirty = false
	}
	s.farLen++
}

// unlinkFarLocked 自远期链表摘除.
func (s *shard) unlinkFarLocked(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		s.farHead = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.prev, n.next = nil, nil
	s.farLen--
}

// farMinLocked 远期链表最早到期时间.
func (s *shard) farMinLocked() int64 {
	if s.farMinDirty {
		s.farMinDirty = false
		first := true
		for n := s.farHead; n != nil; n = n.next {
			if first || n.deadline < s.farMin {
				s.farMin = n.deadline
				first = false
			}
		}
	}
	return s.farMin
}

// migrateLocked 扫描远期链表, 将落入 now 近期窗口的节点迁入堆.
func (s *shard) migrateLocked(now int64) {
	first := true
	for n := s.farHead; n != nil; {
		next := n.next
		if s.withinHorizon(n.deadline, now) {
			s.unlinkFarLocked(n)
			s.heap.Push(n)
			n.member = memberHeap
		} else if first || n.deadline < s.farMin {
			s.farMin = n.deadline
			first = false
		}
		n = next
	}
	s.farMinDirty = false
}

// nextDeadlineLocked 最早到期时间.
func (s *shard) nextDeadlineLocked() (int64, bool) {
	var (
		deadline int64
		ok       bool
	)
	if s.heap.Len() > 0 {
		deadline, ok = s.heap.Top().deadline, true
	}
	if s.farLen > 0 {
		if m := s.farMinLocked(); !ok || m < deadline {
			deadline, ok = m, true
		}
	}
	return deadline, ok
}

// collectLocked 取出所有到期的 Alarm, 按到期时间顺序追加到 due.
func (s *shard) collectLocked(now int64, due []dispatch) []dispatch {
	if s.farLen > 0 && s.withinHorizon(s.farMinLocked(), now) {
		s.migrateLocked(now)
	}

	for s.heap.Len() > 0 {
		n := s.heap.Top()
		if n.deadline > now {
			break
		}

		s.heap.Remove(n.heapIndex)
		n.member = memberNone
		s.waiting--

		a := n.alarm
		if !a.state.CompareAndSwap(stateWaiting, stateFiring) {
			continue
		}
		f, arg := a.take()
		due = append(due, dispatch{alarm: a, deadline: n.deadline, f: f, arg: arg})
	}

	return due
}

// NextDeadline 实现 Pump.
func (s *shard) NextDeadline() (int64, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.nextDeadlineLocked()
}

// Advance 实现 Pump. 仅推进本分片.
func (s *shard) Advance(now int64) (int64, bool) {
	s.mtx.Lock()
	due := s.collectLocked(now, nil)
	s.mtx.Unlock()

	fire(due)

	return s.NextDeadline()
}
