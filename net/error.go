package net

import (
	"errors"
)

// ErrListenerNotStarted 监听器未启动.
var ErrListenerNotStarted = errors.New("listener not started")

// ErrListenerStarted 监听器已启动.
var ErrListenerStarted = errors.New("listener started")

// ErrListenerClosed 监听器已关闭.
var ErrListenerClosed = errors.New("listener closed")

// ErrEndpointShutdown Endpoint 已关闭.
var ErrEndpointShutdown = errors.New("endpoint shutdown")

// ErrInactiveClosed 因不活跃而关闭.
var ErrInactiveClosed = errors.New("inactive closed")

// ErrConnectRemote 连接远端失败.
var ErrConnectRemote = errors.New("connect remote failed")
