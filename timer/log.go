package timer

import (
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
	}).Named("timer")
}

func lfdError(err error) zap.Field {
	return zap.NamedError("error", err)
}

func lfdShard(id int) zap.Field {
	return zap.Int("shard", id)
}

func lfdShards(n int) zap.Field {
	return zap.Int("shards", n)
}
