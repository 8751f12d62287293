package timer

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/godyy/glog"
	"golang.org/x/sync/errgroup"
)

// 默认配置.
const (
	DefaultShards      = 1
	DefaultNearHorizon = time.Second
)

// ErrEngineRunning Engine 已在运行.
var ErrEngineRunning = errors.New("timer engine running")

// EngineConfig Engine 配置.
type EngineConfig struct {
	// Shards 分片数量. 每个分片拥有独立的锁与 reactor.
	Shards int `yaml:"shards"`

	// NearHorizon 近期窗口. 到期时间落在窗口内的 Alarm 直接进入最小堆.
	NearHorizon time.Duration `yaml:"near_horizon"`
}

func (c *EngineConfig) init() error {
	if c == nil {
		return errors.New("EngineConfig nil")
	}

	if c.Shards < 0 {
		return errors.New("EngineConfig.Shards must >= 0")
	}

	if c.Shards == 0 {
		c.Shards = DefaultShards
	}

	if c.NearHorizon < 0 {
		return errors.New("EngineConfig.NearHorizon must >= 0")
	}

	if c.NearHorizon == 0 {
		c.NearHorizon = DefaultNearHorizon
	}

	return nil
}

// Pump reactor 驱动接口. 事件循环每次唤醒时调用 Advance,
// 并以返回的最早到期时间决定下一次阻塞等待的时长.
type Pump interface {
	// NextDeadline 最早到期时间. 没有等待中的 Alarm 时返回 false.
	NextDeadline() (int64, bool)

	// Advance 触发所有到期时间 <= now 的 Alarm, 返回新的最早到期时间.
	Advance(now int64) (int64, bool)
}

// Engine 定时器引擎.
//
// 每个 Alarm 的回调恰好被调用一次: 到期 (OutcomeExpired) 或取消 (OutcomeCancelled).
// 两者竞争时以 Alarm 状态的原子迁移决出胜者, 负者不做任何事.
// 回调调用时不持有内部锁, 回调中可以再次 Register/Cancel.
type Engine struct {
	cfg      *EngineConfig // 配置.
	shards   []*shard      // 分片.
	shardGen atomic.Uint64 // 分片分配.
	clock    Clock         // 时钟.
	running  atomic.Bool   // reactor 是否在运行.
	logger   glog.Logger   // 日志工具.
}

// NewEngine 构造 Engine.
func NewEngine(cfg *EngineConfig, options ...EngineOption) (*Engine, error) {
	if err := cfg.init(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		shards: make([]*shard, cfg.Shards),
		clock:  SystemClock,
	}

	for i := range e.shards {
		e.shards[i] = newShard(i, int64(cfg.NearHorizon))
	}

	for _, opt := range options {
		opt(e)
	}

	if e.logger == nil {
		e.logger = createStdLogger(glog.WarnLevel)
	}

	return e, nil
}

// Clock 返回 Engine 使用的时钟.
func (e *Engine) Clock() Clock {
	return e.clock
}

// pickShard 为新注册的 Alarm 分配分片.
func (e *Engine) pickShard() *shard {
	if len(e.shards) == 1 {
		return e.shards[0]
	}
	return e.shards[(e.shardGen.Add(1)-1)%uint64(len(e.shards))]
}

// Register 注册 Alarm, 在 deadline 到期时以 OutcomeExpired 调用 f(arg, ...),
// 或在到期前被 Cancel 时以 OutcomeCancelled 调用.
// a 不能处于已注册状态.
func (e *Engine) Register(a *Alarm, deadline, now int64, f Func, arg any) {
	if a == nil {
		panic("alarm nil")
	}

	if f == nil {
		panic("alarm callback nil")
	}

	switch a.state.Load() {
	case stateWaiting, stateFiring:
		panic("alarm already registered")
	}

	s := e.pickShard()

	s.mtx.Lock()
	prev, hasPrev := s.nextDeadlineLocked()
	a.shard.Store(s)
	a.f, a.arg = f, arg
	a.node = node{alarm: a, deadline: deadline, heapIndex: -1}
	a.state.Store(stateWaiting)
	s.addLocked(&a.node, now)
	kick := s.kick
	s.mtx.Unlock()

	if kick != nil && (!hasPrev || deadline < prev) {
		kick()
	}
}

// Cancel 取消 Alarm.
// 若 Alarm 仍在等待, 回调以 OutcomeCancelled 在当前调用栈中同步执行;
// 若已到期或正在触发, 什么也不做, 回调由触发方负责.
// 在 Alarm 首次注册之前调用属于使用错误.
func (e *Engine) Cancel(a *Alarm) {
	for {
		switch a.state.Load() {
		case stateIdle:
			panic("cancel alarm before register")
		case stateWaiting:
		default:
			return
		}

		s := a.shard.Load()
		s.mtx.Lock()
		if a.shard.Load() != s {
			// 已触发并被重新注册到其它分片.
			s.mtx.Unlock()
			continue
		}

		if !a.state.CompareAndSwap(stateWaiting, stateCancelled) {
			s.mtx.Unlock()
			return
		}

		s.removeLocked(&a.node)
		f, arg := a.take()
		s.mtx.Unlock()

		f(arg, OutcomeCancelled)
		return
	}
}

// NextDeadline 实现 Pump.
func (e *Engine) NextDeadline() (int64, bool) {
	var (
		deadline int64
		ok       bool
	)
	for _, s := range e.shards {
		if d, has := s.NextDeadline(); has && (!ok || d < deadline) {
			deadline, ok = d, true
		}
	}
	return deadline, ok
}

// Advance 实现 Pump. 同一次调用中触发的 Alarm 按到期时间先后执行.
func (e *Engine) Advance(now int64) (int64, bool) {
	var due []dispatch
	for _, s := range e.shards {
		s.mtx.Lock()
		due = s.collectLocked(now, due)
		s.mtx.Unlock()
	}

	if len(e.shards) > 1 {
		slices.SortStableFunc(due, func(a, b dispatch) int {
			return cmp.Compare(a.deadline, b.deadline)
		})
	}

	fire(due)

	return e.NextDeadline()
}

// Len 等待中的 Alarm 数量.
func (e *Engine) Len() int {
	n := 0
	for _, s := range e.shards {
		s.mtx.Lock()
		n += s.waiting
		s.mtx.Unlock()
	}
	return n
}

// Run 为每个分片启动一个 reactor, 阻塞直到 ctx 结束.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrEngineRunning
	}
	defer e.running.Store(false)

	e.logger.InfoFields("run", lfdShards(len(e.shards)))

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range e.shards {
		r := NewReactor(s, e.clock, WithReactorLogger(e.logger.WithFields(lfdShard(s.id))))
		s.setKick(r.Kick)
		g.Go(func() error {
			defer s.setKick(nil)
			return r.Run(ctx)
		})
	}

	err := g.Wait()

	e.logger.InfoFields("stopped", lfdError(err))

	return err
}
