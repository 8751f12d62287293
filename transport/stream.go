package transport

import (
	"github.com/godyy/gcall/channel"
)

// stream 传输层上的一条流. 字段由所属 Transport 的锁保护.
type stream struct {
	id uint32
	t  *Transport

	recvQueue    [][]byte
	localClosed  bool // 本端已结束发送.
	remoteClosed bool // 对端已结束发送.
	closeSeen    bool // 结束发送已交付给接收方.
	terminated   bool // 已被重置或传输层已关闭.
	destroyed    bool
	status       channel.Status
	detail       string

	recv   *channel.RecvBuffer
	onRecv func(bool)
}

func newStream(t *Transport, id uint32) *stream {
	return &stream{id: id, t: t}
}

// ID 实现 channel.Stream.
func (s *stream) ID() uint32 { return s.id }

// takeRecvLocked 若未完成的接收可以完成, 填充接收目标并返回完成调用.
func (s *stream) takeRecvLocked() func() {
	if s.onRecv == nil {
		return nil
	}
	if len(s.recvQueue) == 0 && !s.terminated && (!s.remoteClosed || s.closeSeen) {
		// 结束发送已交付后, 接收保持挂起直到流终止.
		return nil
	}

	recv, cb := s.recv, s.onRecv
	s.recv, s.onRecv = nil, nil

	recv.Messages = append(recv.Messages, s.recvQueue...)
	clear(s.recvQueue)
	s.recvQueue = s.recvQueue[:0]

	success := true
	if s.terminated {
		success = false
		recv.Closed = true
		recv.Status, recv.Detail = s.status, s.detail
	} else if s.remoteClosed {
		s.closeSeen = true
		recv.Closed = true
		recv.Status, recv.Detail = s.status, s.detail
	}

	return func() { cb(success) }
}

// terminateLocked 终止流, 返回未完成接收的完成调用.
func (s *stream) terminateLocked(status channel.Status, detail string) func() {
	if s.terminated {
		return nil
	}
	s.terminated = true
	s.status, s.detail = status, detail
	return s.takeRecvLocked()
}
