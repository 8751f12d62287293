package transport

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
	}).Named("transport")
}

func lfdError(err error) zap.Field {
	return zap.NamedError("error", err)
}

func lfdPeer(peer string) zap.Field {
	return zap.String("peer", peer)
}

func lfdClient(client bool) zap.Field {
	return zap.Bool("client", client)
}

func lfdStreamId(id uint32) zap.Field {
	return zap.Uint32("streamId", id)
}

func lfdStatus(s channel.Status) zap.Field {
	return zap.Stringer("status", s)
}

func lfdDetail(detail string) zap.Field {
	return zap.String("detail", detail)
}

func lfdFrameKind(k frameKind) zap.Field {
	return zap.Stringer("kind", k)
}
