package gcall

import (
	"context"
	"errors"
	stdnet "net"
	"sync"

	"github.com/godyy/gcall/channel"
	"github.com/godyy/gcall/net"
	"github.com/godyy/gcall/timer"
	"github.com/godyy/gcall/transport"
	"github.com/godyy/glog"
	pkgerrors "github.com/pkg/errors"
)

// Handler 服务端调用处理器.
type Handler interface {
	// OnCall 处理一次调用. ctx 在调用被客户端终止或 Server 关闭时结束.
	// 返回 *StatusError 时以其状态结束调用, 其它错误视为 StatusUnknown.
	OnCall(ctx context.Context, peer string, req []byte) ([]byte, error)
}

// HandlerFunc 函数形式的 Handler.
type HandlerFunc func(ctx context.Context, peer string, req []byte) ([]byte, error)

func (f HandlerFunc) OnCall(ctx context.Context, peer string, req []byte) ([]byte, error) {
	return f(ctx, peer, req)
}

// Server 服务端. 每条接入的连接拥有独立的过滤器链 [用户过滤器..., ConnectedFilter].
type Server struct {
	cfg      *ServerConfig
	handler  Handler
	opts     *optionSet
	engine   *timer.Engine
	ownsEng  bool
	runner   *engineRunner
	listener *net.Listener
	pollset  *net.Pollset
	pss      *net.PollsetSet
	logger   glog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mtx     sync.Mutex
	started bool
	closed  bool
	stacks  map[*channel.ChannelStack]struct{}
	calls   sync.WaitGroup
}

// CreateServer 创建 Server.
func CreateServer(cfg *ServerConfig, handler Handler, options ...Option) (*Server, error) {
	if err := cfg.init(); err != nil {
		return nil, err
	}

	if handler == nil {
		return nil, errors.New("handler nil")
	}

	opts := newOptionSet(options)

	engine, own, err := opts.createEngine(&cfg.Timer)
	if err != nil {
		return nil, pkgerrors.WithMessage(err, "create timer engine")
	}

	s := &Server{
		cfg:     cfg,
		handler: handler,
		opts:    opts,
		engine:  engine,
		ownsEng: own,
		pollset: net.NewPollset(),
		pss:     net.NewPollsetSet(),
		logger:  opts.rootLogger().Named("server"),
		stacks:  make(map[*channel.ChannelStack]struct{}),
	}
	s.pss.AddPollset(s.pollset)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	listener, err := net.CreateListener(&cfg.Listener, s, opts.netOptions(timer.NewTimerSystem(engine))...)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.listener = listener

	return s, nil
}

// Start 开始监听.
func (s *Server) Start() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return ErrServerClosed
	}

	if err := s.listener.Start(); err != nil {
		return err
	}

	if s.ownsEng {
		s.runner = startEngine(s.engine)
	}
	s.started = true

	s.logger.InfoFields("started", lfdAddr(s.listener.Addr().String()))

	return nil
}

// Addr 监听地址. 未启动时返回 nil.
func (s *Server) Addr() stdnet.Addr {
	return s.listener.Addr()
}

// Close 停止监听, 断开所有连接, 并等待进行中的调用处理结束.
func (s *Server) Close() error {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return ErrServerClosed
	}
	s.closed = true
	started := s.started
	stacks := make([]*channel.ChannelStack, 0, len(s.stacks))
	for stack := range s.stacks {
		stacks = append(stacks, stack)
	}
	clear(s.stacks)
	s.mtx.Unlock()

	var err error
	if started {
		err = s.listener.Close()
	}

	s.pollset.Shutdown()
	for _, stack := range stacks {
		stack.Destroy()
	}

	s.cancel()
	s.calls.Wait()
	s.runner.stop()

	s.logger.Info("closed")

	return err
}

// OnEndpoint 实现 net.EndpointHandler. 为接入的连接组装过滤器链.
func (s *Server) OnEndpoint(ep *net.ConnEndpoint) {
	logger := s.logger.WithFields(lfdPeer(ep.Peer()))

	transportCfg := s.cfg.Transport
	t, err := transport.NewServer(ep, &transportCfg, s.opts.transportOptions()...)
	if err != nil {
		logger.ErrorFields("create transport failed", lfdError(err))
		ep.Destroy()
		return
	}

	filters := make([]channel.Filter, 0, len(s.opts.filters)+1)
	filters = append(filters, s.opts.filters...)
	filters = append(filters, channel.NewConnectedFilter())

	stack, err := channel.NewChannelStack(filters, s.opts.channelOptions()...)
	if err != nil {
		logger.ErrorFields("create channel stack failed", lfdError(err))
		t.Destroy()
		return
	}
	channel.BindTransport(stack, t)

	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		stack.Destroy()
		return
	}
	s.stacks[stack] = struct{}{}
	s.mtx.Unlock()

	stack.StartOp(&channel.ChannelOp{
		BindPollsetSet: s.pss,
		OnConnectivityChanged: func(connected bool) {
			if !connected && s.removeStack(stack) {
				logger.Debug("connection closed")
				stack.Destroy()
			}
		},
		SetAcceptStream: func(_ channel.Transport, serverData any) {
			s.acceptCall(stack, serverData)
		},
	})

	logger.Debug("connection accepted")
}

// removeStack 移除过滤器链, 返回是否存在.
func (s *Server) removeStack(stack *channel.ChannelStack) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.stacks[stack]; !ok {
		return false
	}
	delete(s.stacks, stack)
	return true
}

// acceptCall 接受新流, 在独立的 goroutine 中处理调用.
func (s *Server) acceptCall(stack *channel.ChannelStack, serverData any) {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return
	}
	s.calls.Add(1)
	s.mtx.Unlock()

	go func() {
		defer s.calls.Done()
		s.serveCall(stack, serverData)
	}()
}

// serveCall 接收请求, 调用 Handler, 并发送响应及状态.
func (s *Server) serveCall(stack *channel.ChannelStack, serverData any) {
	call, err := stack.CreateCall(&channel.CallArgs{ServerTransportData: serverData})
	if err != nil {
		s.logger.ErrorFields("create call failed", lfdError(err))
		return
	}
	defer call.Destroy()

	recv := &channel.RecvBuffer{}
	chDone := make(chan bool, 1)
	onDone := func(success bool) { chDone <- success }

	var messages [][]byte
	for {
		call.StartOp(&channel.StreamOp{Recv: recv, OnDoneRecv: onDone})
		success := <-chDone
		messages = append(messages, recv.Messages...)
		if !success {
			s.logger.DebugFields("call terminated", lfdStatus(recv.Status))
			return
		}
		if recv.Closed {
			break
		}
		recv.Reset()
	}

	// 请求接收完毕后的接收仅在流终止(重置, 断开或销毁)时完成.
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	call.StartOp(&channel.StreamOp{
		Recv:       &channel.RecvBuffer{},
		OnDoneRecv: func(bool) { cancel() },
	})

	op := &channel.StreamOp{IsLastSend: true, OnDoneSend: onDone}
	if len(messages) != 1 {
		op.SendStatus = channel.StatusInternal
		op.SendDetail = "request message count mismatch"
	} else if rsp, err := s.handler.OnCall(ctx, call.Peer(), messages[0]); err != nil {
		se := toStatusError(err)
		op.SendStatus, op.SendDetail = se.Status, se.Detail
	} else {
		op.SendMessages = [][]byte{rsp}
	}

	call.StartOp(op)
	<-chDone
}
