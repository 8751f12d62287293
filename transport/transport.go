package transport

import (
	"errors"
	"sync"

	"github.com/godyy/gcall/channel"
	"github.com/godyy/gcall/net"
	"github.com/godyy/glog"
	pkgerrors "github.com/pkg/errors"
)

// DefaultMaxFrameLength 默认最大帧长度.
const DefaultMaxFrameLength = 4 << 20

// Config Transport 配置.
type Config struct {
	// MaxFrameLength 最大帧体长度, 0 表示使用默认值.
	MaxFrameLength int `yaml:"max_frame_length"`
}

func (c *Config) init() error {
	if c == nil {
		return errors.New("transport config nil")
	}

	if c.MaxFrameLength < 0 {
		return errors.New("Config.MaxFrameLength must >= 0")
	}

	if c.MaxFrameLength == 0 {
		c.MaxFrameLength = DefaultMaxFrameLength
	}

	return nil
}

// Transport 在 Endpoint 上多路复用流的传输层, 实现 channel.Transport.
// 客户端流使用奇数ID; 服务端在收到未知流的首帧时创建流,
// 并交由 ChannelOp.SetAcceptStream 设置的回调处理.
type Transport struct {
	cfg    *Config
	ep     net.Endpoint
	client bool
	logger glog.Logger

	// 读取相关, 同一时刻只有一个读在进行.
	readBuf net.SliceBuffer
	pending []byte

	mtx            sync.Mutex
	closed         bool
	reading        bool
	streams        map[uint32]*stream
	nextId         uint32
	lastAccepted   uint32
	acceptStream   func(t channel.Transport, serverData any)
	onConnectivity func(connected bool)
}

// NewClient 创建客户端 Transport 并开始读取.
func NewClient(ep net.Endpoint, cfg *Config, options ...Option) (*Transport, error) {
	t, err := newTransport(ep, cfg, true, options)
	if err != nil {
		return nil, err
	}
	t.reading = true
	t.read()
	return t, nil
}

// NewServer 创建服务端 Transport. 设置 SetAcceptStream 后开始读取.
func NewServer(ep net.Endpoint, cfg *Config, options ...Option) (*Transport, error) {
	return newTransport(ep, cfg, false, options)
}

func newTransport(ep net.Endpoint, cfg *Config, client bool, options []Option) (*Transport, error) {
	if ep == nil {
		return nil, errors.New("endpoint nil")
	}

	if err := cfg.init(); err != nil {
		return nil, err
	}

	t := &Transport{
		cfg:     cfg,
		ep:      ep,
		client:  client,
		streams: make(map[uint32]*stream),
		nextId:  1,
	}

	for _, opt := range options {
		opt(t)
	}

	if t.logger == nil {
		t.logger = createStdLogger(glog.WarnLevel)
	}
	t.logger = t.logger.WithFields(lfdPeer(ep.Peer()), lfdClient(client))

	return t, nil
}

// Peer 实现 channel.Transport.
func (t *Transport) Peer() string {
	return t.ep.Peer()
}

// InitStream 实现 channel.Transport.
func (t *Transport) InitStream(serverData any, initialOp *channel.StreamOp) (channel.Stream, error) {
	var s *stream
	if serverData != nil {
		var ok bool
		if s, ok = serverData.(*stream); !ok || s.t != t {
			return nil, ErrInvalidServerData
		}
	} else {
		if !t.client {
			return nil, ErrInvalidServerData
		}

		t.mtx.Lock()
		if t.closed {
			t.mtx.Unlock()
			return nil, ErrTransportClosed
		}
		s = newStream(t, t.nextId)
		t.nextId += 2
		t.streams[s.id] = s
		t.mtx.Unlock()
	}

	if initialOp != nil {
		t.PerformStreamOp(s, initialOp)
	}

	return s, nil
}

// PerformStreamOp 实现 channel.Transport.
func (t *Transport) PerformStreamOp(cs channel.Stream, op *channel.StreamOp) {
	s := cs.(*stream)

	if op.BindPollset != nil {
		t.ep.AddToPollset(op.BindPollset)
	}

	var calls []func()

	t.mtx.Lock()

	if op.CancelWithStatus != channel.StatusOK && !s.terminated {
		if !t.closed && !s.destroyed {
			calls = t.writeLocked(appendFrame(nil, &frame{
				streamId: s.id,
				kind:     frameKindReset,
				status:   op.CancelWithStatus,
				detail:   op.CancelDetail,
			}), nil, calls)
		}
		if call := s.terminateLocked(op.CancelWithStatus, op.CancelDetail); call != nil {
			calls = append(calls, call)
		}
		t.removeStreamLocked(s)
		t.logger.DebugFields("stream cancelled", lfdStreamId(s.id), lfdStatus(op.CancelWithStatus))
	}

	if len(op.SendMessages) > 0 || op.IsLastSend {
		onDoneSend := op.OnDoneSend
		if onDoneSend == nil {
			onDoneSend = func(bool) {}
		}

		if t.closed || s.terminated || s.localClosed {
			calls = append(calls, func() { onDoneSend(false) })
		} else {
			var b []byte
			for _, msg := range op.SendMessages {
				b = appendFrame(b, &frame{streamId: s.id, kind: frameKindMessage, payload: msg})
			}
			if op.IsLastSend {
				s.localClosed = true
				b = appendFrame(b, &frame{
					streamId: s.id,
					kind:     frameKindClose,
					status:   op.SendStatus,
					detail:   op.SendDetail,
				})
			}
			calls = t.writeLocked(b, onDoneSend, calls)
		}
	}

	if op.Recv != nil {
		if op.OnDoneRecv == nil {
			t.mtx.Unlock()
			panic("transport: recv without callback")
		}
		if s.onRecv != nil {
			t.mtx.Unlock()
			panic("transport: recv already pending")
		}
		s.recv, s.onRecv = op.Recv, op.OnDoneRecv
		if call := s.takeRecvLocked(); call != nil {
			calls = append(calls, call)
		}
	}

	t.mtx.Unlock()

	for _, call := range calls {
		call()
	}
}

// PerformOp 实现 channel.Transport.
func (t *Transport) PerformOp(op *channel.ChannelOp) {
	if op.BindPollsetSet != nil {
		t.ep.AddToPollsetSet(op.BindPollsetSet)
	}

	t.mtx.Lock()
	startRead := false
	if op.SetAcceptStream != nil {
		t.acceptStream = op.SetAcceptStream
		startRead = !t.reading && !t.closed
		t.reading = true
	}
	notifyClosed := false
	if op.OnConnectivityChanged != nil {
		t.onConnectivity = op.OnConnectivityChanged
		notifyClosed = t.closed
	}
	t.mtx.Unlock()

	if notifyClosed {
		op.OnConnectivityChanged(false)
	}

	if startRead {
		t.read()
	}

	if op.Disconnect {
		t.ep.Shutdown()
		t.fail(channel.StatusUnavailable, "disconnected")
	}
}

// DestroyStream 实现 channel.Transport. 未正常结束的流会通知对端终止.
func (t *Transport) DestroyStream(cs channel.Stream) {
	s := cs.(*stream)
	var calls []func()

	t.mtx.Lock()
	if s.destroyed {
		t.mtx.Unlock()
		return
	}
	s.destroyed = true

	if !s.terminated {
		if !t.closed && !(s.localClosed && s.remoteClosed) {
			calls = t.writeLocked(appendFrame(nil, &frame{
				streamId: s.id,
				kind:     frameKindReset,
				status:   channel.StatusCancelled,
			}), nil, calls)
		}
		if call := s.terminateLocked(channel.StatusCancelled, "stream destroyed"); call != nil {
			calls = append(calls, call)
		}
	}
	t.removeStreamLocked(s)
	t.mtx.Unlock()

	for _, call := range calls {
		call()
	}
}

// Destroy 实现 channel.Transport.
func (t *Transport) Destroy() {
	t.fail(channel.StatusUnavailable, "transport destroyed")
	t.ep.Destroy()
}

// removeStreamLocked 移除流.
func (t *Transport) removeStreamLocked(s *stream) {
	if t.streams[s.id] == s {
		delete(t.streams, s.id)
	}
}

// writeLocked 发送 b. Endpoint 立即给出结果时, 完成调用追加到 calls 返回.
func (t *Transport) writeLocked(b []byte, cb func(bool), calls []func()) []func() {
	if cb == nil {
		cb = func(bool) {}
	}

	var buf net.SliceBuffer
	buf.Append(b)
	switch t.ep.Write(&buf, cb) {
	case net.OpDone:
		calls = append(calls, func() { cb(true) })
	case net.OpError:
		calls = append(calls, func() { cb(false) })
	}
	return calls
}

// fail 关闭传输层, 终止所有流.
func (t *Transport) fail(status channel.Status, detail string) {
	var calls []func()

	t.mtx.Lock()
	if t.closed {
		t.mtx.Unlock()
		return
	}
	t.closed = true
	for _, s := range t.streams {
		if call := s.terminateLocked(status, detail); call != nil {
			calls = append(calls, call)
		}
	}
	clear(t.streams)
	onConnectivity := t.onConnectivity
	t.mtx.Unlock()

	t.logger.InfoFields("closed", lfdStatus(status), lfdDetail(detail))

	for _, call := range calls {
		call()
	}
	if onConnectivity != nil {
		onConnectivity(false)
	}
}

// read 持续读取, 直到读操作挂起或出错.
func (t *Transport) read() {
	for {
		t.readBuf.Reset()
		switch t.ep.Read(&t.readBuf, t.onRead) {
		case net.OpDone:
			if !t.consume() {
				return
			}
		case net.OpPending:
			return
		default:
			t.fail(channel.StatusUnavailable, "endpoint read failed")
			return
		}
	}
}

// onRead 读完成回调.
func (t *Transport) onRead(success bool) {
	if !success {
		t.fail(channel.StatusUnavailable, "endpoint closed")
		return
	}
	if t.consume() {
		t.read()
	}
}

// consume 解析已读取的数据. 出现协议错误时关闭传输层并返回 false.
func (t *Transport) consume() bool {
	for _, b := range t.readBuf.Slices() {
		t.pending = append(t.pending, b...)
	}

	off := 0
	for len(t.pending)-off >= frameHeadLength {
		head := (*frameHead)(t.pending[off : off+frameHeadLength])
		n := int(head.bodyLen())
		if n > t.cfg.MaxFrameLength {
			t.protocolError(pkgerrors.WithMessagef(ErrFrameTooLarge, "%d", n))
			return false
		}
		if len(t.pending)-off < frameHeadLength+n {
			break
		}

		var f frame
		if err := f.decode(t.pending[off+frameHeadLength : off+frameHeadLength+n]); err != nil {
			t.protocolError(pkgerrors.WithMessage(err, "decode frame"))
			return false
		}
		off += frameHeadLength + n

		t.dispatch(&f)
	}

	t.pending = append(t.pending[:0], t.pending[off:]...)
	return true
}

// protocolError 协议错误, 关闭连接.
func (t *Transport) protocolError(err error) {
	t.logger.ErrorFields("protocol error", lfdError(err))
	t.fail(channel.StatusInternal, err.Error())
	t.ep.Shutdown()
}

// dispatch 处理收到的帧.
func (t *Transport) dispatch(f *frame) {
	var calls []func()

	t.mtx.Lock()
	if t.closed {
		t.mtx.Unlock()
		return
	}

	s := t.streams[f.streamId]
	if s == nil {
		// 客户端忽略未知流; 服务端只接受更大的奇数ID.
		if t.client || f.kind == frameKindReset || f.streamId%2 == 0 || f.streamId <= t.lastAccepted {
			t.mtx.Unlock()
			t.logger.DebugFields("drop frame", lfdStreamId(f.streamId), lfdFrameKind(f.kind))
			return
		}
		s = newStream(t, f.streamId)
		t.streams[s.id] = s
		t.lastAccepted = s.id
		accept := t.acceptStream
		calls = append(calls, func() { accept(t, s) })
	}

	switch f.kind {
	case frameKindMessage:
		if !s.remoteClosed {
			s.recvQueue = append(s.recvQueue, f.payload)
		}
	case frameKindClose:
		s.remoteClosed = true
		if t.client {
			s.status, s.detail = f.status, f.detail
		}
	case frameKindReset:
		status := f.status
		if status == channel.StatusOK {
			status = channel.StatusCancelled
		}
		if call := s.terminateLocked(status, f.detail); call != nil {
			calls = append(calls, call)
		}
		t.removeStreamLocked(s)
	}

	if call := s.takeRecvLocked(); call != nil {
		calls = append(calls, call)
	}
	t.mtx.Unlock()

	for _, call := range calls {
		call()
	}
}
