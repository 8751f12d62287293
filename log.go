package gcall

import (
	"github.com/godyy/gcall/channel"
	"github.com/godyy/glog"
	"go.uber.org/zap"
)

// createStdLogger 创建面向标准输出的 logger.
func createStdLogger(level glog.Level) glog.Logger {
	return glog.NewLogger(&glog.Config{
		Level:        level,
		EnableCaller: true,
		CallerSkip:   0,
		Development:  true,
		Cores:        []glog.CoreConfig{glog.NewStdCoreConfig()},
	}).Named("gcall")
}

func lfdError(err error) zap.Field {
	return zap.NamedError("error", err)
}

func lfdTarget(target string) zap.Field {
	return zap.String("target", target)
}

func lfdAddr(addr string) zap.Field {
	return zap.String("addr", addr)
}

func lfdPeer(peer string) zap.Field {
	return zap.String("peer", peer)
}

func lfdStatus(s channel.Status) zap.Field {
	return zap.Stringer("status", s)
}
