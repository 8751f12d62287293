package timer

import "github.com/godyy/glog"

// EngineOption Engine 选项.
type EngineOption func(*Engine)

// WithLogger 日志工具选项.
func WithLogger(logger glog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger.Named("timer")
	}
}

// WithClock 时钟选项.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}
