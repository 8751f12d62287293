package timer

import (
	"context"
	"time"

	"github.com/godyy/glog"
)

// ReactorOption Reactor 选项.
type ReactorOption func(*Reactor)

// WithReactorLogger 日志工具选项.
func WithReactorLogger(logger glog.Logger) ReactorOption {
	return func(r *Reactor) {
		r.logger = logger.Named("reactor")
	}
}

// Reactor 事件循环. 每次唤醒时推进 Pump, 并将系统定时器重置为下一个到期时间.
type Reactor struct {
	pump     Pump          // 定时器驱动.
	clock    Clock         // 时钟.
	sysTimer *time.Timer   // 系统定时器.
	chKick   chan struct{} // 唤醒信号.
	logger   glog.Logger   // 日志工具.
}

// NewReactor 构造 Reactor.
func NewReactor(pump Pump, clock Clock, options ...ReactorOption) *Reactor {
	if pump == nil {
		panic("pump nil")
	}

	if clock == nil {
		clock = SystemClock
	}

	r := &Reactor{
		pump:     pump,
		clock:    clock,
		sysTimer: time.NewTimer(time.Hour),
		chKick:   make(chan struct{}, 1),
	}
	r.stopSysTimer()

	for _, opt := range options {
		opt(r)
	}

	if r.logger == nil {
		r.logger = createStdLogger(glog.WarnLevel).Named("reactor")
	}

	return r
}

// Kick 唤醒 Reactor 重新计算等待时长. 不阻塞.
func (r *Reactor) Kick() {
	select {
	case r.chKick <- struct{}{}:
	default:
	}
}

// resetSysTimer 重置系统定时器.
func (r *Reactor) resetSysTimer(deadline int64) {
	r.stopSysTimer()
	r.sysTimer.Reset(time.Duration(deadline - r.clock.Now()))
}

// stopSysTimer 停止系统定时器.
func (r *Reactor) stopSysTimer() {
	if !r.sysTimer.Stop() {
		select {
		case <-r.sysTimer.C:
		default:
		}
	}
}

// Run 主循环, 阻塞直到 ctx 结束.
func (r *Reactor) Run(ctx context.Context) error {
	r.logger.Debug("started")
	defer r.logger.Debug("stopped")
	defer r.stopSysTimer()

	for {
		if deadline, ok := r.pump.Advance(r.clock.Now()); ok {
			r.resetSysTimer(deadline)
		} else {
			r.stopSysTimer()
		}

		select {
		case <-r.sysTimer.C:
		case <-r.chKick:
		case <-ctx.Done():
			return nil
		}
	}
}
