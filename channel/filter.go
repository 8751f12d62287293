package channel

import (
	"time"

	"github.com/godyy/glog"
)

// CallArgs 创建调用的参数.
type CallArgs struct {
	// ServerTransportData 服务端传输层提供的流数据, 客户端为 nil.
	ServerTransportData any

	// InitialOp 随调用创建一并执行的流操作, 可为空.
	InitialOp *StreamOp

	// Timeout 调用超时, 0 表示不限制.
	Timeout time.Duration
}

// Filter 调用过滤器. 所有过滤器实现同样的接口, 通过逐级转发组合.
type Filter interface {
	// Name 名称.
	Name() string

	// InitChannelElem 初始化通道元素.
	InitChannelElem(elem *ChannelElement, isFirst, isLast bool)

	// DestroyChannelElem 销毁通道元素.
	DestroyChannelElem(elem *ChannelElement)

	// InitCallElem 初始化调用元素.
	InitCallElem(elem *CallElement, args *CallArgs) error

	// DestroyCallElem 销毁调用元素.
	DestroyCallElem(elem *CallElement)

	// StartStreamOp 处理流操作.
	StartStreamOp(elem *CallElement, op *StreamOp)

	// StartChannelOp 处理通道操作.
	StartChannelOp(elem *ChannelElement, op *ChannelOp)

	// GetPeer 对端地址.
	GetPeer(elem *CallElement) string
}

// ChannelElement 过滤器在通道上的实例.
type ChannelElement struct {
	Filter Filter // 过滤器.
	Data   any    // 过滤器的通道数据.
	stack  *ChannelStack
	index  int
}

// Stack 所属 ChannelStack.
func (e *ChannelElement) Stack() *ChannelStack { return e.stack }

// Logger 日志工具.
func (e *ChannelElement) Logger() glog.Logger { return e.stack.logger }

// next 下一个元素. 最后一个元素调用时 panic.
func (e *ChannelElement) next() *ChannelElement {
	if e.index+1 >= len(e.stack.elems) {
		panic("channel: no filter after " + e.Filter.Name())
	}
	return &e.stack.elems[e.index+1]
}

// Next 将通道操作转发给下一个过滤器.
func (e *ChannelElement) Next(op *ChannelOp) {
	next := e.next()
	next.Filter.StartChannelOp(next, op)
}

// CallElement 过滤器在调用上的实例.
type CallElement struct {
	Filter  Filter          // 过滤器.
	Channel *ChannelElement // 对应的通道元素.
	Data    any             // 过滤器的调用数据.
	stack   *CallStack
	index   int
}

// Stack 所属 CallStack.
func (e *CallElement) Stack() *CallStack { return e.stack }

// Logger 日志工具.
func (e *CallElement) Logger() glog.Logger { return e.Channel.stack.logger }

func (e *CallElement) next() *CallElement {
	if e.index+1 >= len(e.stack.elems) {
		panic("channel: no filter after " + e.Filter.Name())
	}
	return &e.stack.elems[e.index+1]
}

// Next 将流操作转发给下一个过滤器.
func (e *CallElement) Next(op *StreamOp) {
	next := e.next()
	next.Filter.StartStreamOp(next, op)
}

// NextPeer 由下一个过滤器获取对端地址.
func (e *CallElement) NextPeer() string {
	next := e.next()
	return next.Filter.GetPeer(next)
}
