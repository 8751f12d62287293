package net

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godyy/gcall/timer"
	"github.com/godyy/glog"
	"github.com/godyy/gnet"
)

// EndpointConfig 连接 Endpoint 配置.
type EndpointConfig struct {
	ReadBufSize  int           `yaml:"read_buf_size"`  // 单次读取的最大字节数.
	WriteBufSize int           `yaml:"write_buf_size"` // 发送缓冲区大小.
	WriteTimeout time.Duration `yaml:"write_timeout"`  // 发送超时.
	IdleTimeout  time.Duration `yaml:"idle_timeout"`   // 不活跃超时, 0 表示不检测.
}

func (c *EndpointConfig) init() error {
	if c == nil {
		return errors.New("EndpointConfig nil")
	}

	if c.ReadBufSize <= 0 {
		return errors.New("EndpointConfig.ReadBufSize must > 0")
	}

	if c.WriteBufSize <= 0 {
		return errors.New("EndpointConfig.WriteBufSize must > 0")
	}

	if c.WriteTimeout <= 0 {
		return errors.New("EndpointConfig.WriteTimeout must > 0")
	}

	if c.IdleTimeout < 0 {
		return errors.New("EndpointConfig.IdleTimeout must >= 0")
	}

	return nil
}

const (
	stateInit    = 0
	stateStarted = 1
	stateClosed  = 2
)

// readChunk 读取到的数据块.
type readChunk []byte

func (c readChunk) Data() []byte { return c }

// writeRequest 待发送的写请求.
type writeRequest struct {
	buf  SliceBuffer
	cb   Closure
	done atomic.Bool
}

func (w *writeRequest) Data() []byte {
	return w.buf.Bytes()
}

// complete 完成写请求, 只生效一次.
func (w *writeRequest) complete(success bool) {
	if w.done.CompareAndSwap(false, true) {
		w.cb(success)
	}
}

// ConnEndpoint 基于 net.Conn 的 Endpoint. 读写由 gnet.Session 驱动.
type ConnEndpoint struct {
	cfg            *EndpointConfig   // 配置.
	peer           string            // 对端地址.
	timers         timer.TimerSystem // 定时器系统.
	clock          timer.Clock       // 活跃时间所用时钟.
	lastActiveTime int64             // 最近一次活跃的时间.
	logger         glog.Logger       // 日志工具.
	chWrite        chan struct{}     // 写请求通知.
	chClosed       chan struct{}     // 关闭 chan.

	mutex       sync.Mutex                 // Mutex for following.
	state       int32                      // 状态.
	core        *gnet.Session              // 核心实现.
	readQueue   [][]byte                   // 已接收未被读取的数据.
	readBuf     *SliceBuffer               // 未完成读的目标.
	readCb      Closure                    // 未完成读的回调.
	writeQueue  []*writeRequest            // 待发送的写请求.
	inflight    map[*writeRequest]struct{} // 发送中的写请求.
	idleTimer   timer.TimerId              // 不活跃检测定时器.
	pollsets    []*Pollset                 // 所属 Pollset.
	pollsetSets []*PollsetSet              // 所属 PollsetSet.
}

// NewConnEndpoint 基于 conn 构造并启动 ConnEndpoint. 出错时 conn 会被关闭.
func NewConnEndpoint(conn net.Conn, cfg *EndpointConfig, opts ...Option) (*ConnEndpoint, error) {
	if conn == nil {
		return nil, errors.New("conn nil")
	}

	if err := cfg.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	o := newOptions(opts)
	if cfg.IdleTimeout > 0 && o.timers == nil {
		_ = conn.Close()
		return nil, errors.New("EndpointConfig.IdleTimeout requires TimerSystem")
	}

	e := &ConnEndpoint{
		cfg:      cfg,
		peer:     conn.RemoteAddr().String(),
		timers:   o.timers,
		chWrite:  make(chan struct{}, 1),
		chClosed: make(chan struct{}),
		state:    stateInit,
		inflight: make(map[*writeRequest]struct{}),
	}
	e.logger = o.logger.Named("endpoint").WithFields(lfdPeer(e.peer))
	if e.timers != nil {
		e.clock = e.timers.Clock()
	} else {
		e.clock = timer.SystemClock
	}

	rw := newConnReadWriter(e)
	e.core = gnet.NewSession(conn, rw, rw, e)

	if err := e.start(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return e, nil
}

// start 启动.
func (e *ConnEndpoint) start() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if err := e.core.Start(); err != nil {
		e.core = nil
		close(e.chClosed)
		e.state = stateClosed
		return err
	}

	e.refreshActiveTime()
	e.state = stateStarted
	if e.cfg.IdleTimeout > 0 {
		e.idleTimer = e.timers.StartTimer(e.cfg.IdleTimeout, true, nil, e.onIdleTimer)
	}

	e.logger.Debug("started")

	return nil
}

// Peer 实现 Endpoint.
func (e *ConnEndpoint) Peer() string {
	return e.peer
}

// Read 实现 Endpoint.
func (e *ConnEndpoint) Read(slices *SliceBuffer, cb Closure) OpStatus {
	if slices == nil || cb == nil {
		panic("net: endpoint read with nil slices or callback")
	}

	e.mutex.Lock()
	if e.state >= stateClosed {
		e.mutex.Unlock()
		return OpError
	}
	if e.readCb != nil {
		e.mutex.Unlock()
		panic("net: endpoint read already pending")
	}

	if len(e.readQueue) > 0 {
		for _, b := range e.readQueue {
			slices.Append(b)
		}
		clear(e.readQueue)
		e.readQueue = e.readQueue[:0]
		e.mutex.Unlock()
		return OpDone
	}

	e.readBuf = slices
	e.readCb = cb
	e.mutex.Unlock()
	return OpPending
}

// Write 实现 Endpoint. slices 为空时立即完成.
func (e *ConnEndpoint) Write(slices *SliceBuffer, cb Closure) OpStatus {
	if slices == nil || cb == nil {
		panic("net: endpoint write with nil slices or callback")
	}

	if slices.Len() == 0 {
		return OpDone
	}

	req := &writeRequest{cb: cb}
	for _, b := range slices.Slices() {
		req.buf.Append(b)
	}

	e.mutex.Lock()
	if e.state >= stateClosed {
		e.mutex.Unlock()
		return OpError
	}
	e.writeQueue = append(e.writeQueue, req)
	e.mutex.Unlock()

	select {
	case e.chWrite <- struct{}{}:
	default:
	}

	e.refreshActiveTime()
	return OpPending
}

// AddToPollset 实现 Endpoint.
func (e *ConnEndpoint) AddToPollset(ps *Pollset) {
	e.mutex.Lock()
	e.pollsets = append(e.pollsets, ps)
	e.mutex.Unlock()
	ps.add(e)
}

// AddToPollsetSet 实现 Endpoint.
func (e *ConnEndpoint) AddToPollsetSet(pss *PollsetSet) {
	e.mutex.Lock()
	e.pollsetSets = append(e.pollsetSets, pss)
	e.mutex.Unlock()
	for _, ps := range pss.add(e) {
		e.AddToPollset(ps)
	}
}

// Shutdown 实现 Endpoint.
func (e *ConnEndpoint) Shutdown() {
	e.shutdown(ErrEndpointShutdown)
}

// Destroy 实现 Endpoint. 关闭并退出所属的 Pollset 及 PollsetSet.
func (e *ConnEndpoint) Destroy() {
	e.shutdown(ErrEndpointShutdown)

	e.mutex.Lock()
	pollsets, pollsetSets := e.pollsets, e.pollsetSets
	e.pollsets, e.pollsetSets = nil, nil
	e.mutex.Unlock()

	for _, ps := range pollsets {
		ps.remove(e)
	}
	for _, pss := range pollsetSets {
		pss.remove(e)
	}
}

// isClosed 返回是否已关闭.
func (e *ConnEndpoint) isClosed() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.state >= stateClosed
}

// shutdown 关闭, 并以失败调用所有未完成的回调.
func (e *ConnEndpoint) shutdown(err error) {
	e.mutex.Lock()
	if e.state >= stateClosed {
		e.mutex.Unlock()
		return
	}

	// 优先更新状态, 关闭 core 时可能触发 SessionOnClosed 重入.
	e.state = stateClosed
	close(e.chClosed)
	core := e.core
	e.core = nil
	readCb := e.readCb
	e.readCb, e.readBuf = nil, nil
	e.readQueue = nil
	writes := e.writeQueue
	e.writeQueue = nil
	for req := range e.inflight {
		writes = append(writes, req)
	}
	clear(e.inflight)
	idleTimer := e.idleTimer
	e.idleTimer = timer.TimerIdNone
	e.mutex.Unlock()

	if core != nil {
		_ = core.Close()
	}
	if idleTimer != timer.TimerIdNone {
		e.timers.StopTimer(idleTimer)
	}

	failed := len(writes)
	if readCb != nil {
		failed++
	}
	e.logger.InfoFields("shutdown", lfdError(err), lfdFailed(failed))

	if readCb != nil {
		readCb(false)
	}
	for _, req := range writes {
		req.complete(false)
	}
}

// refreshActiveTime 刷新活跃时间.
func (e *ConnEndpoint) refreshActiveTime() {
	atomic.StoreInt64(&e.lastActiveTime, e.clock.Now())
}

// onIdleTimer 不活跃检测.
func (e *ConnEndpoint) onIdleTimer(*timer.TimerArgs) {
	if time.Duration(e.clock.Now()-atomic.LoadInt64(&e.lastActiveTime)) >= e.cfg.IdleTimeout {
		e.logger.Debug("inactive timeout")
		e.shutdown(ErrInactiveClosed)
	}
}

// onWritten 写请求发送结束.
func (e *ConnEndpoint) onWritten(req *writeRequest, success bool) {
	e.mutex.Lock()
	delete(e.inflight, req)
	e.mutex.Unlock()
	req.complete(success)
}

// SessionPendingPacket 实现 gnet.SessionHandler. 返回待发送的写请求.
func (e *ConnEndpoint) SessionPendingPacket() (p gnet.Packet, more bool, err error) {
	for {
		e.mutex.Lock()
		if e.state >= stateClosed {
			e.mutex.Unlock()
			return nil, false, ErrEndpointShutdown
		}
		if len(e.writeQueue) > 0 {
			req := e.writeQueue[0]
			e.writeQueue[0] = nil
			e.writeQueue = e.writeQueue[1:]
			e.inflight[req] = struct{}{}
			more = len(e.writeQueue) > 0
			e.mutex.Unlock()
			return req, more, nil
		}
		e.mutex.Unlock()

		select {
		case <-e.chWrite:
		case <-e.chClosed:
		}
	}
}

// SessionOnPacket 实现 gnet.SessionHandler. 接收数据回调.
func (e *ConnEndpoint) SessionOnPacket(_ *gnet.Session, p gnet.Packet) error {
	chunk, ok := p.(readChunk)
	if !ok {
		return errors.New("endpoint on packet, unknown packet type")
	}

	e.refreshActiveTime()

	e.mutex.Lock()
	if e.state >= stateClosed {
		e.mutex.Unlock()
		return ErrEndpointShutdown
	}
	if e.readCb == nil {
		e.readQueue = append(e.readQueue, chunk)
		e.mutex.Unlock()
		return nil
	}
	e.readBuf.Append(chunk)
	cb := e.readCb
	e.readCb, e.readBuf = nil, nil
	e.mutex.Unlock()

	cb(true)
	return nil
}

// SessionOnClosed 实现 gnet.SessionHandler. 连接关闭回调.
func (e *ConnEndpoint) SessionOnClosed(_ *gnet.Session, err error) {
	e.shutdown(err)
}
