package channel

import (
	"sync/atomic"

	"github.com/godyy/gcall/timer"
)

// DeadlineFilter 为每个设置了超时的调用注册一个 Alarm.
// Alarm 到期时向下发送 StatusDeadlineExceeded 取消操作;
// 接收端结束或调用销毁时取消 Alarm. 两种结果只会有一种生效.
type DeadlineFilter struct {
	engine *timer.Engine
}

// deadlineCallData 调用数据.
type deadlineCallData struct {
	elem      *CallElement
	alarm     timer.Alarm
	armed     bool
	destroyed atomic.Bool
}

// NewDeadlineFilter 构造 DeadlineFilter.
func NewDeadlineFilter(engine *timer.Engine) *DeadlineFilter {
	if engine == nil {
		panic("channel: deadline filter with nil engine")
	}
	return &DeadlineFilter{engine: engine}
}

func (f *DeadlineFilter) Name() string { return "deadline" }

func (f *DeadlineFilter) InitChannelElem(_ *ChannelElement, _, isLast bool) {
	if isLast {
		panic("channel: deadline filter can not be the last filter")
	}
}

func (f *DeadlineFilter) DestroyChannelElem(*ChannelElement) {}

// InitCallElem 登记调用超时. InitialOp 的接收完成同样会取消 Alarm.
func (f *DeadlineFilter) InitCallElem(elem *CallElement, args *CallArgs) error {
	calld := &deadlineCallData{elem: elem}
	elem.Data = calld

	if args.Timeout > 0 {
		now := f.engine.Clock().Now()
		f.engine.Register(&calld.alarm, now+int64(args.Timeout), now, f.onAlarm, calld)
		calld.armed = true
	}

	if args.InitialOp != nil {
		f.intercept(calld, args.InitialOp)
	}

	return nil
}

func (f *DeadlineFilter) DestroyCallElem(elem *CallElement) {
	calld := elem.Data.(*deadlineCallData)
	calld.destroyed.Store(true)
	f.cancelAlarm(calld)
}

func (f *DeadlineFilter) StartStreamOp(elem *CallElement, op *StreamOp) {
	f.intercept(elem.Data.(*deadlineCallData), op)
	elem.Next(op)
}

func (f *DeadlineFilter) StartChannelOp(elem *ChannelElement, op *ChannelOp) {
	elem.Next(op)
}

func (f *DeadlineFilter) GetPeer(elem *CallElement) string {
	return elem.NextPeer()
}

func (f *DeadlineFilter) cancelAlarm(calld *deadlineCallData) {
	if calld.armed {
		f.engine.Cancel(&calld.alarm)
	}
}

// intercept 接收端结束时取消 Alarm.
func (f *DeadlineFilter) intercept(calld *deadlineCallData, op *StreamOp) {
	if op.Recv == nil || !calld.armed {
		return
	}

	recv, onDoneRecv := op.Recv, op.OnDoneRecv
	op.OnDoneRecv = func(success bool) {
		if !success || recv.Closed {
			f.cancelAlarm(calld)
		}
		onDoneRecv(success)
	}
}

// onAlarm Alarm 回调. 取消时无需处理. 调用仍在初始化时, 取消操作推迟到初始化结束.
func (f *DeadlineFilter) onAlarm(arg any, outcome timer.Outcome) {
	if outcome != timer.OutcomeExpired {
		return
	}

	calld := arg.(*deadlineCallData)
	calld.elem.stack.afterInit(func() {
		if calld.destroyed.Load() {
			return
		}

		calld.elem.Logger().DebugFields("deadline exceeded", lfdFilter(f.Name()))
		calld.elem.Next(&StreamOp{
			CancelWithStatus: StatusDeadlineExceeded,
			CancelDetail:     "deadline exceeded",
		})
	})
}
