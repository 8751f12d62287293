package net

import (
	"errors"
	"net"
	"sync"

	"github.com/godyy/glog"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ListenerConfig Listener 配置.
type ListenerConfig struct {
	// Addr 监听地址.
	Addr string `yaml:"addr"`

	// Endpoint 接受连接后构造 Endpoint 所使用的参数.
	Endpoint EndpointConfig `yaml:"endpoint"`

	// ListenerCreator 网络监听器构造器. 为空时使用 tcp.
	ListenerCreator ListenerCreator `yaml:"-"`
}

func (c *ListenerConfig) init() error {
	if c == nil {
		return errors.New("listener config nil")
	}

	if c.Addr == "" {
		return errors.New("ListenerConfig.Addr not specified")
	}

	if err := c.Endpoint.init(); err != nil {
		return err
	}

	if c.ListenerCreator == nil {
		c.ListenerCreator = TCPListenerCreator
	}

	return nil
}

// EndpointHandler 处理 Listener 接受的 Endpoint.
type EndpointHandler interface {
	// OnEndpoint 新的 Endpoint 建立.
	OnEndpoint(ep *ConnEndpoint)
}

// Listener 监听网络连接, 并为每个连接构造 ConnEndpoint.
type Listener struct {
	cfg     *ListenerConfig // 配置.
	handler EndpointHandler // Endpoint 处理器.
	opts    []Option        // Endpoint 选项.
	logger  glog.Logger     // 日志工具.

	mutex    sync.Mutex   // Mutex for following.
	state    int32        // 状态.
	listener net.Listener // 网络监听器.
	chClosed chan struct{}
	g        errgroup.Group // 接受连接的 goroutine.
}

// CreateListener 创建 Listener. opts 同时作用于接受的 Endpoint.
func CreateListener(cfg *ListenerConfig, handler EndpointHandler, opts ...Option) (*Listener, error) {
	if err := cfg.init(); err != nil {
		return nil, err
	}

	if handler == nil {
		return nil, errors.New("handler nil")
	}

	o := newOptions(opts)
	return &Listener{
		cfg:      cfg,
		handler:  handler,
		opts:     opts,
		logger:   o.logger.Named("listener").WithFields(lfdAddr(cfg.Addr)),
		state:    stateInit,
		chClosed: make(chan struct{}),
	}, nil
}

// Start 启动 Listener.
func (l *Listener) Start() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.state > stateInit {
		return ErrListenerStarted
	}

	listener, err := l.cfg.ListenerCreator(l.cfg.Addr)
	if err != nil {
		return pkgerrors.WithMessage(err, "create listener")
	}
	l.listener = listener
	l.state = stateStarted
	l.g.Go(func() error {
		l.listen(listener)
		return nil
	})

	l.logger.Info("started")

	return nil
}

// Close 关闭 Listener, 并等待接受连接的 goroutine 退出. 已接受的 Endpoint 不受影响.
func (l *Listener) Close() error {
	l.mutex.Lock()
	switch l.state {
	case stateInit:
		l.mutex.Unlock()
		return ErrListenerNotStarted
	case stateClosed:
		l.mutex.Unlock()
		return ErrListenerClosed
	}

	l.state = stateClosed
	close(l.chClosed)
	err := l.listener.Close()
	l.mutex.Unlock()

	_ = l.g.Wait()

	l.logger.Info("closed")

	return err
}

// Addr 监听地址. 未启动时返回 nil.
func (l *Listener) Addr() net.Addr {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.chClosed:
		return true
	default:
		return false
	}
}

// listen 接受连接.
func (l *Listener) listen(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if l.isClosed() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			l.logger.ErrorFields("accept failed", lfdError(err))
			return
		}

		ep, err := NewConnEndpoint(conn, &l.cfg.Endpoint, l.opts...)
		if err != nil {
			l.logger.ErrorFields("create endpoint failed", lfdNetRemoteAddr(conn.RemoteAddr()), lfdError(err))
			continue
		}

		l.handler.OnEndpoint(ep)
	}
}
