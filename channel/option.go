package channel

import "github.com/godyy/glog"

// Option ChannelStack 选项.
type Option func(*options)

type options struct {
	logger glog.Logger
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
		o.logger = logger.Named("channel")
	}
}
