package gcall

import (
	"github.com/godyy/gcall/channel"
	"github.com/godyy/gcall/net"
	"github.com/godyy/gcall/timer"
	"github.com/godyy/gcall/transport"
	"github.com/godyy/glog"
)

// optionSet 选项集合.
type optionSet struct {
	logger  glog.Logger      // 日志工具.
	engine  *timer.Engine    // 外部提供的定时器引擎.
	filters []channel.Filter // 用户过滤器.
}

// Option 选项.
type Option func(*optionSet)

func newOptionSet(options []Option) *optionSet {
	o := &optionSet{}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// WithLogger 日志工具选项.
func WithLogger(logger glog.Logger) Option {
	return func(opts *optionSet) {
		opts.logger = logger.Named("gcall")
	}
}

// WithTimerEngine 使用外部的定时器引擎, 由调用方负责运行.
func WithTimerEngine(engine *timer.Engine) Option {
	return func(opts *optionSet) {
		opts.engine = engine
	}
}

// WithFilters 追加用户过滤器, 位于 ConnectedFilter 之前.
func WithFilters(filters ...channel.Filter) Option {
	return func(opts *optionSet) {
		opts.filters = append(opts.filters, filters...)
	}
}

// rootLogger 返回根日志工具.
func (o *optionSet) rootLogger() glog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return createStdLogger(glog.WarnLevel)
}

// createEngine 返回定时器引擎, 以及是否由内部创建.
func (o *optionSet) createEngine(cfg *timer.EngineConfig) (*timer.Engine, bool, error) {
	if o.engine != nil {
		return o.engine, false, nil
	}

	var engineOptions []timer.EngineOption
	if o.logger != nil {
		engineOptions = append(engineOptions, timer.WithLogger(o.logger))
	}
	engine, err := timer.NewEngine(cfg, engineOptions...)
	if err != nil {
		return nil, false, err
	}
	return engine, true, nil
}

func (o *optionSet) netOptions(timers timer.TimerSystem) []net.Option {
	opts := []net.Option{net.WithTimerSystem(timers)}
	if o.logger != nil {
		opts = append(opts, net.WithLogger(o.logger))
	}
	return opts
}

func (o *optionSet) transportOptions() []transport.Option {
	if o.logger != nil {
		return []transport.Option{transport.WithLogger(o.logger)}
	}
	return nil
}

func (o *optionSet) channelOptions() []channel.Option {
	if o.logger != nil {
		return []channel.Option{channel.WithLogger(o.logger)}
	}
	return nil
}
