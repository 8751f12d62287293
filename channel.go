package gcall

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/godyy/gcall/channel"
	"github.com/godyy/gcall/net"
	"github.com/godyy/gcall/timer"
	"github.com/godyy/gcall/transport"
	"github.com/godyy/glog"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Channel 客户端调用通道. 一个 Channel 对应一条连接,
// 调用经由 [DeadlineFilter, 用户过滤器..., ConnectedFilter] 组成的过滤器链发出.
type Channel struct {
	target    string
	addr      string
	engine    *timer.Engine
	stack     *channel.ChannelStack
	pollset   *net.Pollset
	runner    *engineRunner
	connected atomic.Bool
	closed    atomic.Bool
	logger    glog.Logger
}

// CreateChannel 连接 cfg.Target 并创建 Channel.
func CreateChannel(cfg *ChannelConfig, options ...Option) (*Channel, error) {
	if err := cfg.init(); err != nil {
		return nil, err
	}

	opts := newOptionSet(options)

	addr := cfg.Target
	if cfg.Center != nil {
		node, err := cfg.Center.GetNode(cfg.Target)
		if err != nil {
			return nil, pkgerrors.WithMessage(err, "get node info from center")
		}
		addr = node.GetNodeAddr()
	}

	engine, own, err := opts.createEngine(&cfg.Timer)
	if err != nil {
		return nil, pkgerrors.WithMessage(err, "create timer engine")
	}

	c := &Channel{
		target:  cfg.Target,
		addr:    addr,
		engine:  engine,
		pollset: net.NewPollset(),
		logger:  opts.rootLogger().WithFields(lfdTarget(cfg.Target), lfdAddr(addr)),
	}

	if own {
		c.runner = startEngine(engine)
	}

	if err := c.connect(cfg, opts); err != nil {
		c.runner.stop()
		return nil, err
	}

	c.logger.Info("channel created")

	return c, nil
}

// connect 建立连接并组装过滤器链.
func (c *Channel) connect(cfg *ChannelConfig, opts *optionSet) error {
	ep, err := net.Dial(cfg.Dialer, c.addr, &cfg.Endpoint, opts.netOptions(timer.NewTimerSystem(c.engine))...)
	if err != nil {
		return err
	}

	t, err := transport.NewClient(ep, &cfg.Transport, opts.transportOptions()...)
	if err != nil {
		ep.Destroy()
		return pkgerrors.WithMessage(err, "create transport")
	}

	filters := make([]channel.Filter, 0, len(opts.filters)+2)
	filters = append(filters, channel.NewDeadlineFilter(c.engine))
	filters = append(filters, opts.filters...)
	filters = append(filters, channel.NewConnectedFilter())

	stack, err := channel.NewChannelStack(filters, opts.channelOptions()...)
	if err != nil {
		t.Destroy()
		return pkgerrors.WithMessage(err, "create channel stack")
	}
	channel.BindTransport(stack, t)

	c.stack = stack
	c.connected.Store(true)

	pss := net.NewPollsetSet()
	pss.AddPollset(c.pollset)
	stack.StartOp(&channel.ChannelOp{
		BindPollsetSet:        pss,
		OnConnectivityChanged: c.onConnectivityChanged,
	})

	return nil
}

func (c *Channel) onConnectivityChanged(connected bool) {
	c.connected.Store(connected)
	if !connected && !c.closed.Load() {
		c.logger.Warnln("channel disconnected")
	}
}

// Target 调用目标.
func (c *Channel) Target() string { return c.target }

// Peer 对端地址.
func (c *Channel) Peer() string { return c.addr }

// Connected 连接是否可用.
func (c *Channel) Connected() bool { return c.connected.Load() && !c.closed.Load() }

// Invoke 发起一元调用, 阻塞直到收到响应或调用终止.
// ctx 的截止时间作为调用超时, 由 DeadlineFilter 负责执行.
// 调用以非 OK 状态结束时返回 *StatusError.
func (c *Channel) Invoke(ctx context.Context, req []byte) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrChannelClosed
	}

	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, NewStatusError(channel.StatusDeadlineExceeded, "deadline exceeded")
		}
	}

	recv := &channel.RecvBuffer{}
	chRecv := make(chan bool, 1)
	onDoneRecv := func(success bool) { chRecv <- success }

	call, err := c.stack.CreateCall(&channel.CallArgs{
		Timeout: timeout,
		InitialOp: &channel.StreamOp{
			SendMessages: [][]byte{req},
			IsLastSend:   true,
			Recv:         recv,
			OnDoneRecv:   onDoneRecv,
		},
	})
	if err != nil {
		return nil, NewStatusError(channel.StatusUnavailable, err.Error())
	}
	defer call.Destroy()

	var messages [][]byte
	done := ctx.Done()
	for {
		select {
		case <-done:
			status := channel.StatusCancelled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				status = channel.StatusDeadlineExceeded
			}
			call.StartOp(&channel.StreamOp{
				CancelWithStatus: status,
				CancelDetail:     ctx.Err().Error(),
			})
			done = nil

		case <-chRecv:
			messages = append(messages, recv.Messages...)
			if !recv.Closed {
				recv.Reset()
				call.StartOp(&channel.StreamOp{Recv: recv, OnDoneRecv: onDoneRecv})
				continue
			}

			if recv.Status != channel.StatusOK {
				c.logger.DebugFields("call failed", lfdStatus(recv.Status))
				return nil, NewStatusError(recv.Status, recv.Detail)
			}

			if len(messages) != 1 {
				return nil, NewStatusError(channel.StatusInternal, "response message count mismatch")
			}

			return messages[0], nil
		}
	}
}

// Close 断开连接并释放 Channel. 进行中的调用以 StatusUnavailable 结束.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrChannelClosed
	}

	c.stack.StartOp(&channel.ChannelOp{Disconnect: true})
	c.stack.Destroy()
	c.runner.stop()

	c.logger.Info("channel closed")

	return nil
}

// engineRunner 运行内部创建的定时器引擎.
type engineRunner struct {
	cancel context.CancelFunc
	g      *errgroup.Group
}

func startEngine(engine *timer.Engine) *engineRunner {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(ctx)
	})
	return &engineRunner{cancel: cancel, g: g}
}

// stop 停止引擎并等待退出.
func (r *engineRunner) stop() {
	if r == nil {
		return
	}
	r.cancel()
	_ = r.g.Wait()
}
