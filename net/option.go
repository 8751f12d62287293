package net

import (
	"github.com/godyy/gcall/timer"
	"github.com/godyy/glog"
)

// Option Endpoint 及 Listener 选项.
type Option func(*options)

type options struct {
	logger glog.Logger       // 日志工具.
	timers timer.TimerSystem // 定时器系统, 用于不活跃检测.
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = createStdLogger(glog.WarnLevel)
	}
	return o
}

// WithLogger 日志工具选项.
func WithLogger(logger glog.Logger) Option {
	return func(o *options) {
		o.logger = logger.Named("net")
	}
}

// WithTimerSystem 定时器系统选项.
func WithTimerSystem(ts timer.TimerSystem) Option {
	return func(o *options) {
		o.timers = ts
	}
}
