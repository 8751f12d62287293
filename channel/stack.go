package channel

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/godyy/glog"
	pkgerrors "github.com/pkg/errors"
)

// ChannelStack 按顺序组合的过滤器链.
type ChannelStack struct {
	elems  []ChannelElement
	logger glog.Logger
}

// NewChannelStack 使用 filters 构造 ChannelStack, 并依次初始化通道元素.
func NewChannelStack(filters []Filter, options ...Option) (*ChannelStack, error) {
	if len(filters) == 0 {
		return nil, errors.New("filters empty")
	}
	for i, f := range filters {
		if f == nil {
			return nil, pkgerrors.Errorf("filters[%d] nil", i)
		}
	}

	o := newOptions(options)
	s := &ChannelStack{
		elems:  make([]ChannelElement, len(filters)),
		logger: o.logger,
	}
	for i, f := range filters {
		s.elems[i] = ChannelElement{Filter: f, stack: s, index: i}
	}
	for i := range s.elems {
		elem := &s.elems[i]
		elem.Filter.InitChannelElem(elem, i == 0, i == len(s.elems)-1)
	}

	return s, nil
}

// Len 过滤器数量.
func (s *ChannelStack) Len() int { return len(s.elems) }

// Element 第 i 个元素.
func (s *ChannelStack) Element(i int) *ChannelElement { return &s.elems[i] }

// Last 最后一个元素.
func (s *ChannelStack) Last() *ChannelElement { return &s.elems[len(s.elems)-1] }

// StartOp 自第一个过滤器开始执行通道操作.
func (s *ChannelStack) StartOp(op *ChannelOp) {
	first := &s.elems[0]
	first.Filter.StartChannelOp(first, op)
}

// Destroy 依次销毁通道元素.
func (s *ChannelStack) Destroy() {
	for i := range s.elems {
		elem := &s.elems[i]
		elem.Filter.DestroyChannelElem(elem)
	}
}

// CreateCall 创建调用. 任一过滤器初始化失败时, 已初始化的元素会被销毁.
func (s *ChannelStack) CreateCall(args *CallArgs) (*CallStack, error) {
	if args == nil {
		args = &CallArgs{}
	}

	c := &CallStack{
		channel: s,
		elems:   make([]CallElement, len(s.elems)),
	}

	for i := range s.elems {
		c.elems[i] = CallElement{Filter: s.elems[i].Filter, Channel: &s.elems[i], stack: c, index: i}
	}

	for i := range c.elems {
		elem := &c.elems[i]
		if err := elem.Filter.InitCallElem(elem, args); err != nil {
			c.destroyed.Store(true)
			c.finishInit()
			for j := i - 1; j >= 0; j-- {
				c.elems[j].Filter.DestroyCallElem(&c.elems[j])
			}
			return nil, pkgerrors.WithMessagef(err, "init call elem %s", elem.Filter.Name())
		}
	}

	c.finishInit()

	return c, nil
}

// CallStack 一次调用在过滤器链上的实例.
type CallStack struct {
	channel   *ChannelStack
	elems     []CallElement
	destroyed atomic.Bool

	initMtx  sync.Mutex // Mutex for following.
	initDone bool       // 全部元素初始化结束.
	deferred []func()   // 初始化期间推迟的操作.
}

// afterInit 在全部元素初始化结束后执行 fn, 不阻塞.
// 初始化已结束时在当前调用栈中执行, 否则由 CreateCall 在初始化结束时执行.
// 调用初始化失败或已销毁时 fn 被丢弃.
func (c *CallStack) afterInit(fn func()) {
	c.initMtx.Lock()
	if !c.initDone {
		c.deferred = append(c.deferred, fn)
		c.initMtx.Unlock()
		return
	}
	c.initMtx.Unlock()

	if !c.destroyed.Load() {
		fn()
	}
}

// finishInit 标记初始化结束, 执行推迟的操作.
func (c *CallStack) finishInit() {
	c.initMtx.Lock()
	c.initDone = true
	deferred := c.deferred
	c.deferred = nil
	c.initMtx.Unlock()

	if c.destroyed.Load() {
		return
	}
	for _, fn := range deferred {
		fn()
	}
}

// Channel 所属 ChannelStack.
func (c *CallStack) Channel() *ChannelStack { return c.channel }

// Element 第 i 个元素.
func (c *CallStack) Element(i int) *CallElement { return &c.elems[i] }

// StartOp 自第一个过滤器开始执行流操作.
func (c *CallStack) StartOp(op *StreamOp) {
	first := &c.elems[0]
	first.Filter.StartStreamOp(first, op)
}

// Peer 对端地址.
func (c *CallStack) Peer() string {
	first := &c.elems[0]
	return first.Filter.GetPeer(first)
}

// Destroy 依次销毁调用元素. 重复调用无效.
func (c *CallStack) Destroy() {
	if !c.destroyed.CompareAndSwap(false, true) {
		return
	}
	for i := range c.elems {
		elem := &c.elems[i]
		elem.Filter.DestroyCallElem(elem)
	}
}
