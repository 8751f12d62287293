package transport

import "github.com/godyy/glog"

// Option Transport 选项.
type Option func(*Transport)

// WithLogger 日志工具选项.
func WithLogger(logger glog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger.Named("transport")
	}
}
