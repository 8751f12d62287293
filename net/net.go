package net

import (
	"net"

	pkgerrors "github.com/pkg/errors"
)

// Dialer 负责连接地址为 addr 的服务.
type Dialer func(addr string) (net.Conn, error)

// ListenerCreator 负责创建地址为 addr 的网络监听器.
type ListenerCreator func(addr string) (net.Listener, error)

// TCPDialer 使用 tcp 连接.
func TCPDialer(addr string) (net.Conn, error) {
	return net.Dial("tcp", addr)
}

// TCPListenerCreator 使用 tcp 监听.
func TCPListenerCreator(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Dial 连接 addr 并构造 ConnEndpoint.
func Dial(dialer Dialer, addr string, cfg *EndpointConfig, opts ...Option) (*ConnEndpoint, error) {
	if dialer == nil {
		dialer = TCPDialer
	}

	conn, err := dialer(addr)
	if err != nil {
		return nil, pkgerrors.WithMessagef(ErrConnectRemote, "%s: %v", addr, err)
	}

	return NewConnEndpoint(conn, cfg, opts...)
}
