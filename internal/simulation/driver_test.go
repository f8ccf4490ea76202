package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhardin04/livedemo/internal/domain"
)

// fixedGenerator emits n records per tick and fails when fail is set.
type fixedGenerator struct {
	mu    sync.Mutex
	n     int
	fail  bool
	panic bool
	calls int
}

func (g *fixedGenerator) Next(tick, _ int64) (domain.Batch, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.panic {
		panic("boom")
	}
	if g.fail {
		return domain.Batch{}, errors.New("generator failed")
	}
	records := make([]map[string]any, g.n)
	for i := range records {
		records[i] = map[string]any{"i": fmt.Sprintf("%d-%d", tick, i)}
	}
	return domain.Batch{UpdateType: "rows", Records: records}, nil
}

func (g *fixedGenerator) setFail(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = v
}

func (g *fixedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) publish(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *recorder) completes() int {
	n := 0
	for _, ev := range r.all() {
		if ev.Payload.(domain.UpdateMessage).UpdateType == domain.UpdateComplete {
			n++
		}
	}
	return n
}

type countingObserver struct {
	mu      sync.Mutex
	emitted int
	failed  int
}

func (o *countingObserver) TickEmitted(string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emitted++
}

func (o *countingObserver) TickFailed(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func newTestDriver(gen domain.Generator, cfg Config, clock clockwork.Clock) (*Driver, *recorder) {
	rec := &recorder{}
	return NewDriver("s1", domain.DemoPayment, gen, cfg, clock, rec.publish, nil), rec
}

func TestStep_PublishesUpdateEvent(t *testing.T) {
	d, rec := newTestDriver(&fixedGenerator{n: 3}, DefaultConfig(), clockwork.NewFakeClock())

	require.NoError(t, d.Step(context.Background()))

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, "payment_update", events[0].Type)
	msg := events[0].Payload.(domain.UpdateMessage)
	assert.Equal(t, "payment_update", msg.Type)
	assert.Equal(t, "rows", msg.UpdateType)
	data := msg.Data.(map[string]any)
	assert.Equal(t, int64(1), data["tick"])
	assert.Equal(t, 3, data["totalRecords"])

	st := d.State()
	assert.Equal(t, int64(1), st.Tick)
	assert.Equal(t, 3, st.TotalRecordsEmitted)
}

func TestStep_ClampsFinalBatchAndCompletesOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTotalRecords = 10
	d, rec := newTestDriver(&fixedGenerator{n: 4}, cfg, clockwork.NewFakeClock())
	ctx := context.Background()

	require.NoError(t, d.Step(ctx))
	require.NoError(t, d.Step(ctx))
	require.NoError(t, d.Step(ctx))

	events := rec.all()
	require.Len(t, events, 3)
	last := events[2].Payload.(domain.UpdateMessage).Data.(map[string]any)
	assert.Len(t, last["records"], 2, "partial final batch")
	assert.Equal(t, 10, d.State().TotalRecordsEmitted)

	assert.ErrorIs(t, d.Step(ctx), domain.ErrSimulationComplete)
	assert.ErrorIs(t, d.Step(ctx), domain.ErrSimulationComplete)

	assert.Equal(t, 1, rec.completes())
	assert.True(t, d.State().Complete)
	assert.Equal(t, 10, d.State().TotalRecordsEmitted)
}

func TestStep_ConcurrentTicksRespectCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTotalRecords = 100
	d, rec := newTestDriver(&fixedGenerator{n: 3}, cfg, clockwork.NewFakeClock())

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			for range 10 {
				_ = d.Step(context.Background())
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 100, d.State().TotalRecordsEmitted)
	assert.Equal(t, 1, rec.completes())

	records := 0
	for _, ev := range rec.all() {
		msg := ev.Payload.(domain.UpdateMessage)
		if msg.UpdateType != domain.UpdateComplete {
			records += len(msg.Data.(map[string]any)["records"].([]map[string]any))
		}
	}
	assert.Equal(t, 100, records)
}

func TestStep_GeneratorErrorSkipsTick(t *testing.T) {
	gen := &fixedGenerator{n: 1, fail: true}
	obs := &countingObserver{}
	rec := &recorder{}
	d := NewDriver("s1", domain.DemoSales, gen, DefaultConfig(), clockwork.NewFakeClock(), rec.publish, obs)

	err := d.Step(context.Background())

	var tickErr *domain.SimulationTickError
	require.True(t, errors.As(err, &tickErr))
	assert.Equal(t, "s1", tickErr.SessionID)
	assert.Equal(t, int64(1), tickErr.Tick)
	assert.Empty(t, rec.all())
	assert.Equal(t, 1, obs.failed)

	gen.setFail(false)
	require.NoError(t, d.Step(context.Background()))
	assert.Equal(t, 1, obs.emitted)
}

func TestStep_GeneratorPanicIsTickError(t *testing.T) {
	d, rec := newTestDriver(&fixedGenerator{panic: true}, DefaultConfig(), clockwork.NewFakeClock())

	err := d.Step(context.Background())

	var tickErr *domain.SimulationTickError
	assert.True(t, errors.As(err, &tickErr))
	assert.Empty(t, rec.all())
}

func TestStep_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	gen := &fixedGenerator{n: 1, fail: true}
	cfg := DefaultConfig()
	cfg.BreakerDelay = 50 * time.Millisecond
	d, rec := newTestDriver(gen, cfg, clockwork.NewFakeClock())
	ctx := context.Background()

	for range 5 {
		var tickErr *domain.SimulationTickError
		require.True(t, errors.As(d.Step(ctx), &tickErr))
	}

	assert.ErrorIs(t, d.Step(ctx), ErrCircuitOpen)
	assert.Equal(t, 5, gen.callCount(), "open circuit skips the generator")

	gen.setFail(false)
	require.Eventually(t, func() bool { return d.Step(ctx) == nil }, time.Second, 10*time.Millisecond)
	assert.Len(t, rec.all(), 1)
}

func TestStart_TicksOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d, rec := newTestDriver(&fixedGenerator{n: 1}, DefaultConfig(), clock)

	require.NoError(t, d.Start(context.Background(), Options{Interval: time.Second, Seed: 7}))
	defer d.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, time.Millisecond)

	st := d.State()
	assert.True(t, st.Running)
	assert.Equal(t, time.Second, st.Interval)
	assert.Equal(t, int64(7), st.Seed)
}

func TestStart_IdempotentWhileRunning(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d, _ := newTestDriver(&fixedGenerator{n: 1}, DefaultConfig(), clock)

	require.NoError(t, d.Start(context.Background(), Options{Interval: time.Second}))
	require.NoError(t, d.Start(context.Background(), Options{Interval: 5 * time.Second}))
	defer d.Stop()

	assert.Equal(t, time.Second, d.State().Interval)
}

func TestStart_AfterCompleteFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTotalRecords = 1
	d, _ := newTestDriver(&fixedGenerator{n: 1}, cfg, clockwork.NewFakeClock())

	require.NoError(t, d.Step(context.Background()))
	require.ErrorIs(t, d.Step(context.Background()), domain.ErrSimulationComplete)

	assert.ErrorIs(t, d.Start(context.Background(), Options{}), domain.ErrSimulationComplete)
}

func TestStop_HaltsTickingAndAllowsRestart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d, _ := newTestDriver(&fixedGenerator{n: 1}, DefaultConfig(), clock)

	require.NoError(t, d.Start(context.Background(), Options{}))
	d.Stop()
	assert.False(t, d.State().Running)
	d.Stop()

	require.NoError(t, d.Start(context.Background(), Options{}))
	assert.True(t, d.State().Running)
	d.Stop()
}

func TestStart_StopsWhenContextCancelled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d, _ := newTestDriver(&fixedGenerator{n: 1}, DefaultConfig(), clock)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, d.Start(ctx, Options{}))
	cancel()

	assert.Eventually(t, func() bool { return !d.State().Running }, time.Second, time.Millisecond)
}

func TestClampInterval(t *testing.T) {
	tests := []struct {
		name      string
		requested time.Duration
		want      time.Duration
	}{
		{"default", 0, 3 * time.Second},
		{"below minimum", 100 * time.Millisecond, MinInterval},
		{"above maximum", time.Minute, MaxInterval},
		{"within bounds", 1500 * time.Millisecond, 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampInterval(domain.DemoSales, tt.requested))
		})
	}
}
