package channel

import (
	"github.com/godyy/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// createStdLogger 创建面向标准输出的 logger.
func createStdLogger(level glog.Level) glog.Logger {
	return glog.NewLogger(&glog.Config{
		Level:        level,
		EnableCaller: true,
		CallerSkip:   0,
		Development:  true,
		Cores:        []glog.CoreConfig{glog.NewStdCoreConfig()},
	}).Named("channel")
}

func lfdFilter(name string) zap.Field {
	return zap.String("filter", name)
}

func lfdStreamId(id uint32) zap.Field {
	return zap.Uint32("streamId", id)
}

func lfdStatus(s Status) zap.Field {
	return zap.Stringer("status", s)
}

// lfdStreamOp 流操作概要.
func lfdStreamOp(op *StreamOp) zap.Field {
	return zap.Object("op", zapStreamOp{op})
}

type zapStreamOp struct{ op *StreamOp }

func (z zapStreamOp) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if z.op.hasSend() {
		enc.AddInt("send", len(z.op.SendMessages))
		enc.AddBool("lastSend", z.op.IsLastSend)
	}
	if z.op.Recv != nil {
		enc.AddBool("recv", true)
	}
	if z.op.CancelWithStatus != StatusOK {
		enc.AddString("cancel", z.op.CancelWithStatus.String())
	}
	if z.op.BindPollset != nil {
		enc.AddBool("bindPollset", true)
	}
	return nil
}
