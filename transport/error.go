package transport

import "errors"

// ErrTransportClosed 传输层已关闭.
var ErrTransportClosed = errors.New("transport closed")

// ErrFrameTooLarge 帧长度超出限制.
var ErrFrameTooLarge = errors.New("frame too large")

// ErrInvalidServerData 服务端流数据无效.
var ErrInvalidServerData = errors.New("invalid server transport data")
