package timer

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type firedRecord struct {
	name    string
	outcome Outcome
}

type recorder struct {
	mtx   sync.Mutex
	fired []firedRecord
}

func (r *recorder) cb(arg any, outcome Outcome) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.fired = append(r.fired, firedRecord{name: arg.(string), outcome: outcome})
}

func (r *recorder) take() []firedRecord {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	fired := r.fired
	r.fired = nil
	return fired
}

func newTestEngine(t testing.TB, shards int, horizon time.Duration) *Engine {
	t.Helper()
	e, err := NewEngine(&EngineConfig{Shards: shards, NearHorizon: horizon}, WithClock(NewManualClock(0)))
	require.NoError(t, err)
	return e
}

func TestEngineConfig(t *testing.T) {
	cfg := &EngineConfig{}
	require.NoError(t, cfg.init())
	require.Equal(t, DefaultShards, cfg.Shards)
	require.Equal(t, DefaultNearHorizon, cfg.NearHorizon)

	require.Error(t, (&EngineConfig{Shards: -1}).init())
	require.Error(t, (&EngineConfig{NearHorizon: -1}).init())

	_, err := NewEngine(nil)
	require.Error(t, err)
}

func TestEngineScenario(t *testing.T) {
	e := newTestEngine(t, 1, 1000)
	r := &recorder{}

	var a, b, c Alarm
	e.Register(&a, 100, 0, r.cb, "A")
	e.Register(&b, 50, 0, r.cb, "B")
	e.Register(&c, 200, 0, r.cb, "C")

	next, ok := e.NextDeadline()
	require.True(t, ok)
	require.EqualValues(t, 50, next)

	next, ok = e.Advance(60)
	require.Equal(t, []firedRecord{{"B", OutcomeExpired}}, r.take())
	require.True(t, ok)
	require.EqualValues(t, 100, next)

	e.Cancel(&c)
	require.Equal(t, []firedRecord{{"C", OutcomeCancelled}}, r.take())

	_, ok = e.Advance(150)
	require.Equal(t, []firedRecord{{"A", OutcomeExpired}}, r.take())
	require.False(t, ok)
	require.Zero(t, e.Len())

	// 已触发的 Alarm 上再次取消无任何效果.
	e.Cancel(&a)
	e.Cancel(&c)
	require.Empty(t, r.take())
}

func TestEngineDeadlineOrder(t *testing.T) {
	for _, shards := range []int{1, 4} {
		e := newTestEngine(t, shards, 50)

		const n = 200
		var order []int64
		alarms := make([]Alarm, n)
		for i, p := range rand.Perm(n) {
			d := int64(p*3 + 1)
			e.Register(&alarms[i], d, 0, func(arg any, outcome Outcome) {
				require.Equal(t, OutcomeExpired, outcome)
				order = append(order, arg.(int64))
			}, d)
		}

		_, ok := e.Advance(n * 3)
		require.False(t, ok)
		require.Len(t, order, n)
		for i := 1; i < len(order); i++ {
			require.LessOrEqual(t, order[i-1], order[i], "shards %d", shards)
		}
	}
}

func TestEngineSameDeadlineFIFO(t *testing.T) {
	e := newTestEngine(t, 1, 1000)

	var order []int
	alarms := make([]Alarm, 10)
	for i := range alarms {
		e.Register(&alarms[i], 10, 0, func(arg any, _ Outcome) {
			order = append(order, arg.(int))
		}, i)
	}

	e.Advance(10)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestEngineCancelBeforeDue(t *testing.T) {
	e := newTestEngine(t, 2, 10)
	r := &recorder{}

	var near, far Alarm
	e.Register(&near, 5, 0, r.cb, "near")
	e.Register(&far, 500, 0, r.cb, "far")
	require.Equal(t, 2, e.Len())

	e.Cancel(&near)
	e.Cancel(&far)
	require.ElementsMatch(t, []firedRecord{{"near", OutcomeCancelled}, {"far", OutcomeCancelled}}, r.take())

	_, ok := e.Advance(1000)
	require.False(t, ok)
	require.Empty(t, r.take())
	require.Zero(t, e.Len())
}

func TestEngineFarMigration(t *testing.T) {
	e := newTestEngine(t, 1, 10)

	var fromFar, fromHeap Alarm
	var farAt, heapAt int64 = -1, -1

	e.Register(&fromFar, 1000, 0, func(any, Outcome) {}, nil)
	require.Equal(t, memberFar, fromFar.node.member)

	now := int64(0)
	for ; now < 2000; now += 7 {
		if now >= 990 && !fromHeap.Pending() && heapAt < 0 {
			e.Register(&fromHeap, 1000, now, func(any, Outcome) {}, nil)
			require.Equal(t, memberHeap, fromHeap.node.member)
		}

		e.Advance(now)

		if farAt < 0 && !fromFar.Pending() {
			farAt = now
		}
		if heapAt < 0 && fromHeap.state.Load() == stateFired {
			heapAt = now
		}
		if farAt >= 0 && heapAt >= 0 {
			break
		}
	}

	// 1000 之后第一次推进时触发.
	require.EqualValues(t, 1001, farAt)
	require.Equal(t, farAt, heapAt)
}

func TestEngineFarNextDeadline(t *testing.T) {
	e := newTestEngine(t, 1, 10)
	r := &recorder{}

	var a, b, c Alarm
	e.Register(&a, 300, 0, r.cb, "a")
	e.Register(&b, 200, 0, r.cb, "b")
	e.Register(&c, 5, 0, r.cb, "c")

	next, _ := e.NextDeadline()
	require.EqualValues(t, 5, next)

	e.Cancel(&c)
	next, _ = e.NextDeadline()
	require.EqualValues(t, 200, next)

	// 远期链表最小值被取消后重新计算.
	e.Cancel(&b)
	next, _ = e.NextDeadline()
	require.EqualValues(t, 300, next)

	next, ok := e.Advance(295)
	require.True(t, ok)
	require.EqualValues(t, 300, next)
	require.Equal(t, memberHeap, a.node.member)
}

func TestEngineNextDeadlineModel(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	e := newTestEngine(t, 3, 64)

	const n = 64
	alarms := make([]Alarm, n)
	deadlines := make([]int64, n)
	calls := make([]int, n)
	now := int64(0)

	for step := 0; step < 20000; step++ {
		i := rnd.Intn(n)
		switch rnd.Intn(3) {
		case 0:
			if !alarms[i].Pending() {
				deadlines[i] = now + int64(rnd.Intn(500))
				e.Register(&alarms[i], deadlines[i], now, func(arg any, _ Outcome) {
					calls[arg.(int)]++
				}, i)
				calls[i]--
			}
		case 1:
			if alarms[i].state.Load() != stateIdle {
				e.Cancel(&alarms[i])
			}
		case 2:
			now += int64(rnd.Intn(40))
			e.Advance(now)
		}

		var (
			want    int64
			wantOk  bool
			pending int
		)
		for k := range alarms {
			if alarms[k].Pending() {
				pending++
				if !wantOk || deadlines[k] < want {
					want, wantOk = deadlines[k], true
				}
			}
		}

		got, ok := e.NextDeadline()
		require.Equal(t, wantOk, ok, "step %d", step)
		if ok {
			require.Equal(t, want, got, "step %d", step)
		}
		require.Equal(t, pending, e.Len())
	}

	for k := range alarms {
		if alarms[k].Pending() {
			require.Equal(t, -1, calls[k])
		} else {
			require.Equal(t, 0, calls[k], "alarm %d", k)
		}
	}
}

func TestEngineExactlyOnceRace(t *testing.T) {
	e := newTestEngine(t, 4, 1000)

	const rounds = 2000
	for round := 0; round < rounds; round++ {
		var (
			a       Alarm
			calls   atomic.Int32
			outcome atomic.Int32
		)
		e.Register(&a, 10, 0, func(_ any, o Outcome) {
			calls.Add(1)
			outcome.Store(int32(o))
		}, nil)

		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			e.Cancel(&a)
		}()
		go func() {
			defer wg.Done()
			<-start
			e.Advance(10)
		}()
		close(start)
		wg.Wait()

		// 再推进一次, 确保不存在遗漏.
		e.Advance(10)

		require.EqualValues(t, 1, calls.Load(), "round %d", round)
		require.Contains(t, []int32{int32(OutcomeExpired), int32(OutcomeCancelled)}, outcome.Load())
	}
	require.Zero(t, e.Len())
}

func TestAlarmDeadlineConcurrentRegister(t *testing.T) {
	e := newTestEngine(t, 4, 1000)

	var a Alarm
	require.Zero(t, a.Deadline())

	const rounds = 1000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(1); i <= rounds; i++ {
			e.Register(&a, i, i-1, func(any, Outcome) {}, nil)
			e.Advance(i)
		}
	}()

	// 重新注册会轮换分片, 读取到的到期时间只增不减.
	var last int64
	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		d := a.Deadline()
		require.GreaterOrEqual(t, d, last)
		last = d
	}
	require.EqualValues(t, rounds, a.Deadline())
}

func TestEngineConcurrentRegisterCancel(t *testing.T) {
	e := newTestEngine(t, 4, 100)

	const (
		workers = 8
		perWork = 500
	)
	var (
		calls  atomic.Int64
		wg     sync.WaitGroup
		stopCh = make(chan struct{})
		doneCh = make(chan struct{})
	)

	go func() {
		defer close(doneCh)
		now := int64(0)
		for {
			select {
			case <-stopCh:
				return
			default:
				now++
				e.Advance(now)
			}
		}
	}()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			alarms := make([]Alarm, perWork)
			for i := range alarms {
				e.Register(&alarms[i], int64(i%300), 0, func(any, Outcome) { calls.Add(1) }, nil)
				if i%2 == 0 {
					e.Cancel(&alarms[i])
				}
			}
			for i := range alarms {
				e.Cancel(&alarms[i])
			}
		}(w)
	}
	wg.Wait()
	close(stopCh)
	<-doneCh

	require.EqualValues(t, workers*perWork, calls.Load())
	require.Zero(t, e.Len())
}

func TestEngineReentrantCallback(t *testing.T) {
	e := newTestEngine(t, 1, 100)
	r := &recorder{}

	var a, b, c, d Alarm
	e.Register(&b, 50, 0, r.cb, "b")

	// 取消回调中注册与取消其它 Alarm.
	e.Register(&a, 10, 0, func(arg any, outcome Outcome) {
		r.cb(arg, outcome)
		e.Register(&c, 20, 0, r.cb, "c")
		e.Cancel(&b)
	}, "a")
	e.Cancel(&a)
	require.Equal(t, []firedRecord{{"a", OutcomeCancelled}, {"b", OutcomeCancelled}}, r.take())

	// 到期回调中重新注册自身, 以及注册立即到期的 Alarm.
	fires := 0
	var self func(any, Outcome)
	self = func(arg any, outcome Outcome) {
		fires++
		if fires < 3 {
			e.Register(&d, int64(30+fires), 30, self, nil)
		}
	}
	e.Register(&d, 30, 0, self, nil)

	e.Advance(30)
	require.Equal(t, []firedRecord{{"c", OutcomeExpired}}, r.take())
	require.Equal(t, 1, fires)

	e.Advance(40)
	require.Equal(t, 2, fires)
	e.Advance(40)
	require.Equal(t, 3, fires)
	require.Zero(t, e.Len())
}

func TestEngineContractViolations(t *testing.T) {
	e := newTestEngine(t, 1, 100)

	var a Alarm
	require.Panics(t, func() { e.Cancel(&a) })
	require.Panics(t, func() { e.Register(nil, 1, 0, func(any, Outcome) {}, nil) })
	require.Panics(t, func() { e.Register(&a, 1, 0, nil, nil) })

	e.Register(&a, 1, 0, func(any, Outcome) {}, nil)
	require.Panics(t, func() { e.Register(&a, 2, 0, func(any, Outcome) {}, nil) })

	e.Cancel(&a)
	require.NotPanics(t, func() { e.Register(&a, 2, 0, func(any, Outcome) {}, nil) })
	e.Cancel(&a)
}

func BenchmarkEngineRegisterCancel(b *testing.B) {
	e := newTestEngine(b, 1, time.Second)
	alarms := make([]Alarm, 1024)
	cb := func(any, Outcome) {}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a := &alarms[i%len(alarms)]
		e.Register(a, int64(i%int(2*time.Second)), 0, cb, nil)
		e.Cancel(a)
	}
}
