package channel

// Stream 传输层流句柄.
type Stream interface {
	// ID 流ID.
	ID() uint32
}

// Transport 传输层. 负责在连接上多路复用流.
type Transport interface {
	// InitStream 初始化流. 服务端流由 serverData 指定, 客户端为 nil.
	// initialOp 非空时随流初始化一并执行.
	InitStream(serverData any, initialOp *StreamOp) (Stream, error)

	// PerformStreamOp 在流上执行操作.
	PerformStreamOp(s Stream, op *StreamOp)

	// PerformOp 执行通道操作.
	PerformOp(op *ChannelOp)

	// DestroyStream 销毁流.
	DestroyStream(s Stream)

	// Destroy 销毁传输层.
	Destroy()

	// Peer 对端地址.
	Peer() string
}
