package timer

import (
	"sync/atomic"
	"time"
)

// Clock 单调时钟. Now 返回纳秒时间戳.
type Clock interface {
	// Now 当前时间.
	Now() int64
}

// systemClock 基于进程启动时刻的单调时钟.
type systemClock struct {
	epoch time.Time
}

func (c *systemClock) Now() int64 {
	return int64(time.Since(c.epoch))
}

// SystemClock 系统单调时钟.
var SystemClock Clock = &systemClock{epoch: time.Now()}

// ManualClock 手动推进的时钟, 用于模拟时间.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock 构造 ManualClock.
func NewManualClock(now int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(now)
	return c
}

func (c *ManualClock) Now() int64 {
	return c.now.Load()
}

// Set 设置当前时间. 时间不允许回退.
func (c *ManualClock) Set(now int64) {
	for {
		cur := c.now.Load()
		if now < cur {
			panic("manual clock moving backwards")
		}
		if c.now.CompareAndSwap(cur, now) {
			return
		}
	}
}

// Advance 推进时间 d, 返回推进后的时间.
func (c *ManualClock) Advance(d time.Duration) int64 {
	if d < 0 {
		panic("manual clock moving backwards")
	}
	return c.now.Add(int64(d))
}
