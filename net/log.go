package net

import (
	"net"

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
	}).Named("net")
}

func lfdError(err error) zap.Field {
	return zap.NamedError("error", err)
}

func lfdPeer(peer string) zap.Field {
	return zap.String("peer", peer)
}

func lfdAddr(addr string) zap.Field {
	return zap.String("addr", addr)
}

func lfdNetRemoteAddr(addr net.Addr) zap.Field {
	return zap.Any("remoteAddr", addr)
}

func lfdFailed(n int) zap.Field {
	return zap.Int("failed", n)
}
