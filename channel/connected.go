package channel

import (
	pkgerrors "github.com/pkg/errors"
)

// ConnectedFilter 终端过滤器, 将操作转发给绑定的 Transport.
// 必须位于过滤器链的最后, Transport 在通道构造后通过 BindTransport 绑定.
type ConnectedFilter struct{}

// connectedChannelData 通道数据.
type connectedChannelData struct {
	transport Transport
}

// connectedCallData 调用数据, 持有传输层的流.
type connectedCallData struct {
	elem   *CallElement
	stream Stream
}

// NewConnectedFilter 构造 ConnectedFilter.
func NewConnectedFilter() *ConnectedFilter {
	return &ConnectedFilter{}
}

func (f *ConnectedFilter) Name() string { return "connected" }

// assertConnected 确认 elem 属于 ConnectedFilter.
func assertConnected(filter Filter) {
	if _, ok := filter.(*ConnectedFilter); !ok {
		panic("channel: element is not connected filter")
	}
}

// boundTransport 返回已绑定的 Transport. 未绑定时 panic.
func boundTransport(elem *ChannelElement) Transport {
	assertConnected(elem.Filter)
	cd := elem.Data.(*connectedChannelData)
	if cd.transport == nil {
		panic("channel: connected filter not bound to transport")
	}
	return cd.transport
}

func (f *ConnectedFilter) InitChannelElem(elem *ChannelElement, _, isLast bool) {
	if !isLast {
		panic("channel: connected filter must be the last filter")
	}
	assertConnected(elem.Filter)
	elem.Data = &connectedChannelData{}
}

func (f *ConnectedFilter) DestroyChannelElem(elem *ChannelElement) {
	boundTransport(elem).Destroy()
}

func (f *ConnectedFilter) InitCallElem(elem *CallElement, args *CallArgs) error {
	t := boundTransport(elem.Channel)
	stream, err := t.InitStream(args.ServerTransportData, args.InitialOp)
	if err != nil {
		return pkgerrors.WithMessage(err, "init stream")
	}
	elem.Data = &connectedCallData{elem: elem, stream: stream}
	return nil
}

func (f *ConnectedFilter) DestroyCallElem(elem *CallElement) {
	calld := elem.Data.(*connectedCallData)
	boundTransport(elem.Channel).DestroyStream(calld.stream)
}

func (f *ConnectedFilter) StartStreamOp(elem *CallElement, op *StreamOp) {
	assertConnected(elem.Filter)
	calld := elem.Data.(*connectedCallData)
	elem.Logger().DebugFields("stream op", lfdFilter(f.Name()), lfdStreamId(calld.stream.ID()), lfdStreamOp(op))
	boundTransport(elem.Channel).PerformStreamOp(calld.stream, op)
}

func (f *ConnectedFilter) StartChannelOp(elem *ChannelElement, op *ChannelOp) {
	boundTransport(elem).PerformOp(op)
}

func (f *ConnectedFilter) GetPeer(elem *CallElement) string {
	return boundTransport(elem.Channel).Peer()
}

// StreamOf 返回调用在传输层上的流.
func StreamOf(call *CallStack) Stream {
	last := &call.elems[len(call.elems)-1]
	assertConnected(last.Filter)
	return last.Data.(*connectedCallData).stream
}

// BindTransport 为 stack 绑定 Transport, 只能绑定一次.
// stack 的最后一个过滤器必须是 ConnectedFilter.
func BindTransport(stack *ChannelStack, t Transport) {
	if t == nil {
		panic("channel: bind nil transport")
	}
	elem := stack.Last()
	assertConnected(elem.Filter)
	cd := elem.Data.(*connectedChannelData)
	if cd.transport != nil {
		panic("channel: transport already bound")
	}
	cd.transport = t
}
