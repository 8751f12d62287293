package timer

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimerSystem 定时器系统.
type TimerSystem interface {
	// StartTimer 启动定时器.
	StartTimer(delay time.Duration, periodic bool, args any, f TimerFunc) TimerId

	// StopTimer 停止定时器.
	StopTimer(tid TimerId)

	// Clock 定时器使用的时钟.
	Clock() Clock
}

// TimerId 定时器ID.
type TimerId = uint64

// TimerIdNone 定时器ID为0.
const TimerIdNone = 0

// TimerArgs 定时器参数.
type TimerArgs struct {
	TID  TimerId // 定时器ID.
	Args any     // 参数.
}

// TimerFunc 定时器回调函数.
type TimerFunc func(*TimerArgs)

// engineTimer engineTimerSystem 定时器.
type engineTimer struct {
	id       TimerId       // 定时器ID.
	delay    time.Duration // 延迟时间.
	periodic bool          // 是否周期性定时器.
	args     any           // 参数.
	cb       TimerFunc     // 回调函数.

	mtx      sync.Mutex // Mutex for following.
	stopped  bool       // 是否已停止.
	deadline int64      // 本轮到期时间.
	alarm    Alarm      // 当前登记.
}

// engineTimerSystem 基于 Engine 的 TimerSystem 实现.
type engineTimerSystem struct {
	engine     *Engine                  // 定时器引擎.
	timerIdGen atomic.Uint64            // 定时器ID生成自增键.
	mtx        sync.Mutex               // 互斥锁.
	timers     map[TimerId]*engineTimer // 定时器映射.
}

// NewTimerSystem 构造基于 engine 的 TimerSystem.
func NewTimerSystem(engine *Engine) TimerSystem {
	if engine == nil {
		panic("engine nil")
	}

	return &engineTimerSystem{
		engine: engine,
		timers: make(map[TimerId]*engineTimer),
	}
}

// Clock 实现 TimerSystem.
func (ts *engineTimerSystem) Clock() Clock {
	return ts.engine.Clock()
}

// genTimerId 生成定时器ID.
func (ts *engineTimerSystem) genTimerId() TimerId {
	timerId := ts.timerIdGen.Add(1)
	if timerId == TimerIdNone {
		timerId = ts.timerIdGen.Add(1)
	}
	return timerId
}

// StartTimer 启动定时器.
func (ts *engineTimerSystem) StartTimer(delay time.Duration, periodic bool, args any, cb TimerFunc) TimerId {
	if delay <= 0 {
		panic("delay must > 0")
	}

	if cb == nil {
		panic("callback func is nil")
	}

	t := &engineTimer{
		id:       ts.genTimerId(),
		delay:    delay,
		periodic: periodic,
		args:     args,
		cb:       cb,
	}

	// 登记完成前 StopTimer 不能取消.
	t.mtx.Lock()

	ts.mtx.Lock()
	ts.timers[t.id] = t
	ts.mtx.Unlock()

	now := ts.engine.Clock().Now()
	t.deadline = now + int64(delay)
	ts.engine.Register(&t.alarm, t.deadline, now, ts.onAlarm, t)
	t.mtx.Unlock()

	return t.id
}

// StopTimer 停止定时器.
func (ts *engineTimerSystem) StopTimer(tid TimerId) {
	ts.mtx.Lock()
	t, exists := ts.timers[tid]
	if exists {
		delete(ts.timers, tid)
	}
	ts.mtx.Unlock()

	if !exists {
		return
	}

	t.mtx.Lock()
	t.stopped = true
	t.mtx.Unlock()

	ts.engine.Cancel(&t.alarm)
}

// onAlarm Alarm 回调.
func (ts *engineTimerSystem) onAlarm(arg any, outcome Outcome) {
	t := arg.(*engineTimer)
	if outcome == OutcomeCancelled {
		return
	}

	if !t.periodic {
		ts.mtx.Lock()
		if ts.timers[t.id] == t {
			delete(ts.timers, t.id)
		}
		ts.mtx.Unlock()
	}

	t.cb(&TimerArgs{TID: t.id, Args: t.args})

	if !t.periodic {
		return
	}

	// 周期性定时器在回调中重新登记.
	t.mtx.Lock()
	if !t.stopped {
		t.deadline += int64(t.delay)
		ts.engine.Register(&t.alarm, t.deadline, ts.engine.Clock().Now(), ts.onAlarm, t)
	}
	t.mtx.Unlock()
}

// Len 运行中的定时器数量.
func (ts *engineTimerSystem) Len() int {
	ts.mtx.Lock()
	defer ts.mtx.Unlock()
	return len(ts.timers)
}
