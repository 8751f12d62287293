package transport

import (
	stdnet "net"
	"testing"
	"time"

	"github.com/godyy/gcall/channel"
	"github.com/godyy/gcall/net"
	"github.com/godyy/glog"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

var testLogger = glog.NewLogger(&glog.Config{
	Level:        glog.DebugLevel,
	EnableCaller: true,
	CallerSkip:   0,
	Development:  true,
	Cores:        []glog.CoreConfig{glog.NewStdCoreConfig()},
})

func testEndpointConfig() *net.EndpointConfig {
	return &net.EndpointConfig{
		ReadBufSize:  7,
		WriteBufSize: 64,
		WriteTimeout: 5 * time.Second,
	}
}

func TestFrame(t *testing.T) {
	f := &frame{
		streamId: 3,
		kind:     frameKindClose,
		status:   channel.StatusDeadlineExceeded,
		detail:   "too late",
		payload:  []byte("payload"),
	}
	b := appendFrame([]byte("x"), f)
	require.Equal(t, byte('x'), b[0])

	head := (*frameHead)(b[1 : 1+frameHeadLength])
	body := b[1+frameHeadLength:]
	require.Equal(t, uint32(len(body)), head.bodyLen())

	// 未知字段被跳过.
	body = protowire.AppendTag(body, 100, protowire.BytesType)
	body = protowire.AppendString(body, "ignored")

	var got frame
	require.NoError(t, got.decode(body))
	require.Equal(t, *f, got)

	var bad frame
	require.Error(t, bad.decode(body[:len(body)-3]))
	require.Error(t, bad.decode(appendFrame(nil, &frame{kind: frameKindMessage})[frameHeadLength:]))
	require.Error(t, bad.decode(appendFrame(nil, &frame{streamId: 1, kind: 9})[frameHeadLength:]))
	require.Equal(t, "Reset", frameKindReset.String())
}

func TestConfig(t *testing.T) {
	var nilCfg *Config
	require.Error(t, nilCfg.init())

	cfg := &Config{}
	require.NoError(t, cfg.init())
	require.Equal(t, DefaultMaxFrameLength, cfg.MaxFrameLength)

	require.Error(t, (&Config{MaxFrameLength: -1}).init())
}

type testPair struct {
	client, server     *Transport
	clientEp, serverEp *net.ConnEndpoint
	accepted           chan *stream
}

func newTestPair(t *testing.T) *testPair {
	c1, c2 := stdnet.Pipe()
	clientEp, err := net.NewConnEndpoint(c1, testEndpointConfig(), net.WithLogger(testLogger))
	require.NoError(t, err)
	serverEp, err := net.NewConnEndpoint(c2, testEndpointConfig(), net.WithLogger(testLogger))
	require.NoError(t, err)

	p := &testPair{
		clientEp: clientEp,
		serverEp: serverEp,
		accepted: make(chan *stream, 16),
	}

	p.client, err = NewClient(clientEp, &Config{}, WithLogger(testLogger))
	require.NoError(t, err)
	p.server, err = NewServer(serverEp, &Config{}, WithLogger(testLogger))
	require.NoError(t, err)
	p.server.PerformOp(&channel.ChannelOp{
		SetAcceptStream: func(tr channel.Transport, serverData any) {
			require.Same(t, p.server, tr)
			p.accepted <- serverData.(*stream)
		},
	})

	t.Cleanup(func() {
		p.client.Destroy()
		p.server.Destroy()
	})
	return p
}

// recvResult 接收一次的结果.
type recvResult struct {
	buf     *channel.RecvBuffer
	success bool
}

// startRecv 发起接收, 结果写入返回的 chan.
func startRecv(tr *Transport, s channel.Stream) <-chan recvResult {
	ch := make(chan recvResult, 1)
	buf := &channel.RecvBuffer{}
	tr.PerformStreamOp(s, &channel.StreamOp{
		Recv:       buf,
		OnDoneRecv: func(success bool) { ch <- recvResult{buf: buf, success: success} },
	})
	return ch
}

// recvAll 接收直到流结束.
func recvAll(t *testing.T, tr *Transport, s channel.Stream) ([][]byte, recvResult) {
	var msgs [][]byte
	for {
		select {
		case r := <-startRecv(tr, s):
			msgs = append(msgs, r.buf.Messages...)
			if r.buf.Closed || !r.success {
				return msgs, r
			}
		case <-time.After(5 * time.Second):
			t.Fatal("recv timeout")
		}
	}
}

func sendSync(t *testing.T, tr *Transport, s channel.Stream, op *channel.StreamOp) bool {
	ch := make(chan bool, 1)
	op.OnDoneSend = func(ok bool) { ch <- ok }
	tr.PerformStreamOp(s, op)
	select {
	case ok := <-ch:
		return ok
	case <-time.After(5 * time.Second):
		t.Fatal("send timeout")
		return false
	}
}

func TestTransportUnary(t *testing.T) {
	p := newTestPair(t)
	require.Equal(t, "pipe", p.client.Peer())

	cs, err := p.client.InitStream(nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(1), cs.ID())
	cs2, err := p.client.InitStream(nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(3), cs2.ID())
	p.client.DestroyStream(cs2)

	require.True(t, sendSync(t, p.client, cs, &channel.StreamOp{
		SendMessages: [][]byte{[]byte("hello"), []byte("world")},
		IsLastSend:   true,
	}))

	var ss *stream
	select {
	case ss = <-p.accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("stream not accepted")
	}
	require.Equal(t, uint32(1), ss.ID())

	_, err = p.server.InitStream(ss, nil)
	require.NoError(t, err)
	_, err = p.server.InitStream(nil, nil)
	require.ErrorIs(t, err, ErrInvalidServerData)
	_, err = p.client.InitStream(ss, nil)
	require.ErrorIs(t, err, ErrInvalidServerData)

	msgs, r := recvAll(t, p.server, ss)
	require.True(t, r.success)
	require.Equal(t, [][]byte{[]byte("hello"), []byte("world")}, msgs)
	require.Equal(t, channel.StatusOK, r.buf.Status)

	require.True(t, sendSync(t, p.server, ss, &channel.StreamOp{
		SendMessages: [][]byte{[]byte("reply")},
		IsLastSend:   true,
		SendStatus:   channel.StatusUnknown,
		SendDetail:   "handler failed",
	}))

	// 结束发送后不能再发送.
	require.False(t, sendSync(t, p.server, ss, &channel.StreamOp{SendMessages: [][]byte{[]byte("late")}}))

	msgs, r = recvAll(t, p.client, cs)
	require.True(t, r.success)
	require.Equal(t, [][]byte{[]byte("reply")}, msgs)
	require.Equal(t, channel.StatusUnknown, r.buf.Status)
	require.Equal(t, "handler failed", r.buf.Detail)

	p.server.DestroyStream(ss)
	p.client.DestroyStream(cs)
	p.client.DestroyStream(cs)

	p.client.mtx.Lock()
	defer p.client.mtx.Unlock()
	require.Empty(t, p.client.streams)
}

func TestTransportReset(t *testing.T) {
	p := newTestPair(t)

	cs, err := p.client.InitStream(nil, &channel.StreamOp{SendMessages: [][]byte{[]byte("req")}})
	require.NoError(t, err)
	ss := <-p.accepted
	chServer := startRecv(p.server, ss)
	r := <-chServer
	require.True(t, r.success)
	require.Equal(t, [][]byte{[]byte("req")}, r.buf.Messages)

	chServer = startRecv(p.server, ss)
	chClient := startRecv(p.client, cs)

	// 本端取消立即完成接收.
	p.client.PerformStreamOp(cs, &channel.StreamOp{
		CancelWithStatus: channel.StatusDeadlineExceeded,
		CancelDetail:     "deadline exceeded",
	})
	r = <-chClient
	require.False(t, r.success)
	require.True(t, r.buf.Closed)
	require.Equal(t, channel.StatusDeadlineExceeded, r.buf.Status)

	// 对端收到重置.
	select {
	case r = <-chServer:
		require.False(t, r.success)
		require.Equal(t, channel.StatusDeadlineExceeded, r.buf.Status)
		require.Equal(t, "deadline exceeded", r.buf.Detail)
	case <-time.After(5 * time.Second):
		t.Fatal("reset not received")
	}

	// 终止后的操作立即失败.
	require.False(t, sendSync(t, p.client, cs, &channel.StreamOp{SendMessages: [][]byte{[]byte("x")}}))
	r = <-startRecv(p.client, cs)
	require.False(t, r.success)

	p.client.DestroyStream(cs)
	p.server.DestroyStream(ss)
}

func TestTransportDestroyStreamResetsPeer(t *testing.T) {
	p := newTestPair(t)

	cs, err := p.client.InitStream(nil, &channel.StreamOp{SendMessages: [][]byte{[]byte("req")}})
	require.NoError(t, err)
	ss := <-p.accepted
	<-startRecv(p.server, ss)
	chServer := startRecv(p.server, ss)

	p.client.DestroyStream(cs)

	select {
	case r := <-chServer:
		require.False(t, r.success)
		require.Equal(t, channel.StatusCancelled, r.buf.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("reset not received")
	}
}

func TestTransportRecvAfterCloseWaitsForReset(t *testing.T) {
	p := newTestPair(t)

	cs, err := p.client.InitStream(nil, &channel.StreamOp{
		SendMessages: [][]byte{[]byte("req")},
		IsLastSend:   true,
	})
	require.NoError(t, err)
	ss := <-p.accepted

	msgs, r := recvAll(t, p.server, ss)
	require.True(t, r.success)
	require.True(t, r.buf.Closed)
	require.Equal(t, [][]byte{[]byte("req")}, msgs)

	// 结束发送已交付, 后续接收挂起.
	chServer := startRecv(p.server, ss)
	select {
	case <-chServer:
		t.Fatal("recv completed before stream terminated")
	case <-time.After(50 * time.Millisecond):
	}

	p.client.PerformStreamOp(cs, &channel.StreamOp{
		CancelWithStatus: channel.StatusDeadlineExceeded,
		CancelDetail:     "deadline exceeded",
	})

	select {
	case r = <-chServer:
		require.False(t, r.success)
		require.True(t, r.buf.Closed)
		require.Equal(t, channel.StatusDeadlineExceeded, r.buf.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("reset not received")
	}

	// 本端销毁同样完成挂起的接收.
	cs2, err := p.client.InitStream(nil, &channel.StreamOp{IsLastSend: true})
	require.NoError(t, err)
	ss2 := <-p.accepted
	_, r = recvAll(t, p.server, ss2)
	require.True(t, r.success)
	chServer = startRecv(p.server, ss2)
	p.server.DestroyStream(ss2)
	r = <-chServer
	require.False(t, r.success)
	require.Equal(t, channel.StatusCancelled, r.buf.Status)
	p.client.DestroyStream(cs2)
}

func TestTransportEndpointFailure(t *testing.T) {
	p := newTestPair(t)

	chConnectivity := make(chan bool, 1)
	p.client.PerformOp(&channel.ChannelOp{
		OnConnectivityChanged: func(connected bool) { chConnectivity <- connected },
	})

	cs, err := p.client.InitStream(nil, nil)
	require.NoError(t, err)
	chClient := startRecv(p.client, cs)

	p.serverEp.Shutdown()

	select {
	case r := <-chClient:
		require.False(t, r.success)
		require.Equal(t, channel.StatusUnavailable, r.buf.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("stream not failed")
	}
	require.False(t, <-chConnectivity)

	_, err = p.client.InitStream(nil, nil)
	require.ErrorIs(t, err, ErrTransportClosed)

	// 关闭后设置的连接状态回调立即收到通知.
	notified := false
	p.client.PerformOp(&channel.ChannelOp{OnConnectivityChanged: func(connected bool) { notified = !connected }})
	require.True(t, notified)
}

func TestTransportProtocolError(t *testing.T) {
	c1, c2 := stdnet.Pipe()
	defer c2.Close()
	ep, err := net.NewConnEndpoint(c1, testEndpointConfig(), net.WithLogger(testLogger))
	require.NoError(t, err)
	client, err := NewClient(ep, &Config{MaxFrameLength: 16}, WithLogger(testLogger))
	require.NoError(t, err)

	cs, err := client.InitStream(nil, nil)
	require.NoError(t, err)
	chClient := startRecv(client, cs)

	var head frameHead
	head.setBodyLen(1024)
	_, err = c2.Write(head[:])
	require.NoError(t, err)

	select {
	case r := <-chClient:
		require.False(t, r.success)
		require.Equal(t, channel.StatusInternal, r.buf.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("protocol error not detected")
	}
}

func TestTransportServerIgnoresStaleStreams(t *testing.T) {
	p := newTestPair(t)

	cs, err := p.client.InitStream(nil, &channel.StreamOp{SendMessages: [][]byte{[]byte("a")}, IsLastSend: true})
	require.NoError(t, err)
	ss := <-p.accepted
	p.server.DestroyStream(ss)

	// 服务端不再接受已结束的流.
	var b []byte
	b = appendFrame(b, &frame{streamId: cs.ID(), kind: frameKindMessage, payload: []byte("stale")})
	b = appendFrame(b, &frame{streamId: 2, kind: frameKindMessage})
	b = appendFrame(b, &frame{streamId: 5, kind: frameKindMessage, payload: []byte("new")})
	var buf net.SliceBuffer
	buf.Append(b)
	p.clientEp.Write(&buf, func(bool) {})

	select {
	case s := <-p.accepted:
		require.Equal(t, uint32(5), s.ID())
	case <-time.After(5 * time.Second):
		t.Fatal("stream not accepted")
	}
	require.Empty(t, p.accepted)
}
