package channel

import (
	"github.com/godyy/gcall/net"
)

// RecvBuffer 接收结果.
type RecvBuffer struct {
	Messages [][]byte // 收到的消息.
	Closed   bool     // 对端已结束发送, 或流已终止.
	Status   Status   // 流结束状态, Closed 时有效.
	Detail   string   // 状态描述.
}

// Reset 清空.
func (b *RecvBuffer) Reset() {
	*b = RecvBuffer{}
}

// StreamOp 流操作. 一个操作可同时携带发送、接收以及取消.
// 各完成回调恰好调用一次.
type StreamOp struct {
	// SendMessages 待发送消息.
	SendMessages [][]byte

	// IsLastSend 发送结束. 服务端结束发送时携带 SendStatus 及 SendDetail.
	IsLastSend bool
	SendStatus Status
	SendDetail string

	// OnDoneSend 发送完成回调.
	OnDoneSend func(success bool)

	// Recv 接收目标. 非空时必须提供 OnDoneRecv.
	Recv *RecvBuffer

	// OnDoneRecv 接收完成回调. success 为 false 表示流已异常终止.
	OnDoneRecv func(success bool)

	// CancelWithStatus 非 OK 时终止流.
	CancelWithStatus Status
	CancelDetail     string

	// BindPollset 将流所在的 Endpoint 加入 Pollset.
	BindPollset *net.Pollset
}

// hasSend 是否包含发送.
func (op *StreamOp) hasSend() bool {
	return len(op.SendMessages) > 0 || op.IsLastSend
}

// ChannelOp 通道操作.
type ChannelOp struct {
	// SetAcceptStream 设置服务端接受新流的回调.
	SetAcceptStream func(t Transport, serverData any)

	// OnConnectivityChanged 连接状态变化回调.
	OnConnectivityChanged func(connected bool)

	// BindPollsetSet 将 Endpoint 加入 PollsetSet.
	BindPollsetSet *net.PollsetSet

	// Disconnect 断开连接.
	Disconnect bool
}
