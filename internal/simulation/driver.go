package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"

	"github.com/bhardin04/livedemo/internal/domain"
	"github.com/bhardin04/livedemo/internal/platform/correlation"
)

const (
	MinInterval            = 500 * time.Millisecond
	MaxInterval            = 10 * time.Second
	DefaultMaxTotalRecords = 1000
)

// ErrCircuitOpen is returned by Step while the generator breaker skips ticks.
var ErrCircuitOpen = errors.New("simulation circuit open")

// PublishFunc hands a produced event to the broadcast layer.
type PublishFunc func(ctx context.Context, ev domain.Event)

type Observer interface {
	TickEmitted(demoType string, records int)
	TickFailed(demoType string)
}

type Config struct {
	MaxTotalRecords  int
	FailureThreshold uint
	BreakerDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxTotalRecords:  DefaultMaxTotalRecords,
		FailureThreshold: 5,
		BreakerDelay:     30 * time.Second,
	}
}

// Options are the start_simulation parameters. Zero values pick the demo defaults.
type Options struct {
	Interval time.Duration
	Seed     int64
}

// State is a snapshot of a driver.
type State struct {
	Tick                int64
	TotalRecordsEmitted int
	Running             bool
	Complete            bool
	Interval            time.Duration
	Seed                int64
}

// Driver ticks one session's simulation.
type Driver struct {
	sessionID string
	demoType  domain.DemoType
	generator domain.Generator
	cfg       Config
	clock     clockwork.Clock
	publish   PublishFunc
	observer  Observer
	cb        circuitbreaker.CircuitBreaker[any]

	mu           sync.Mutex
	state        State
	completeSent bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewDriver creates a stopped driver. observer may be nil.
func NewDriver(sessionID string, demoType domain.DemoType, generator domain.Generator, cfg Config,
	clock clockwork.Clock, publish PublishFunc, observer Observer) *Driver {
	if cfg.MaxTotalRecords <= 0 {
		cfg.MaxTotalRecords = DefaultMaxTotalRecords
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = 30 * time.Second
	}

	d := &Driver{
		sessionID: sessionID,
		demoType:  demoType,
		generator: generator,
		cfg:       cfg,
		clock:     clock,
		publish:   publish,
		observer:  observer,
		state:     State{Interval: demoType.TickInterval()},
	}
	d.cb = circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(cfg.FailureThreshold).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Simulation circuit state changed",
				"session_id", sessionID,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
		}).
		Build()
	return d
}

// ClampInterval bounds a requested tick interval to [MinInterval, MaxInterval].
// Zero means the demo type's default.
func ClampInterval(d domain.DemoType, requested time.Duration) time.Duration {
	if requested <= 0 {
		return d.TickInterval()
	}
	return min(max(requested, MinInterval), MaxInterval)
}

// Start begins ticking under ctx. Starting a running driver is a no-op;
// starting a completed one returns domain.ErrSimulationComplete.
func (d *Driver) Start(ctx context.Context, opts Options) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.Complete {
		return domain.ErrSimulationComplete
	}
	if d.state.Running {
		return nil
	}

	d.state.Interval = ClampInterval(d.demoType, opts.Interval)
	d.state.Seed = opts.Seed
	d.state.Running = true

	runCtx, cancel := context.WithCancel(correlation.WithSessionID(ctx, d.sessionID))
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(runCtx, d.state.Interval, d.done)

	slog.InfoContext(runCtx, "Simulation started",
		"demo_type", d.demoType, "interval", d.state.Interval, "seed", opts.Seed)
	return nil
}

// Stop halts ticking and waits for the loop to exit. The driver keeps its
// tick and record counters and may be started again.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer func() {
		d.mu.Lock()
		d.state.Running = false
		d.mu.Unlock()
	}()

	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "Simulation loop stopped", "reason", ctx.Err())
			return
		case <-ticker.Chan():
			tickCtx := correlation.WithID(ctx, correlation.NewID())
			err := d.Step(tickCtx)
			if errors.Is(err, domain.ErrSimulationComplete) {
				return
			}
		}
	}
}

// Step runs one tick: generate, clamp to the record budget and publish. Once
// the budget is spent the next step publishes the single complete event and
// every later step returns domain.ErrSimulationComplete.
func (d *Driver) Step(ctx context.Context) error {
	d.mu.Lock()

	if d.completeSent {
		d.mu.Unlock()
		return domain.ErrSimulationComplete
	}

	if d.state.TotalRecordsEmitted >= d.cfg.MaxTotalRecords {
		d.completeSent = true
		d.state.Complete = true
		total := d.state.TotalRecordsEmitted
		tick := d.state.Tick
		d.mu.Unlock()

		slog.InfoContext(ctx, "Simulation complete", "session_id", d.sessionID, "total_records", total)
		d.emit(ctx, domain.UpdateComplete, map[string]any{
			"tick":         tick,
			"totalRecords": total,
		})
		return domain.ErrSimulationComplete
	}

	if !d.cb.TryAcquirePermit() {
		d.mu.Unlock()
		slog.DebugContext(ctx, "Simulation tick skipped, circuit open", "session_id", d.sessionID)
		return ErrCircuitOpen
	}

	d.state.Tick++
	tick := d.state.Tick
	batch, err := d.generate(tick, d.state.Seed)
	if err != nil {
		d.cb.RecordError(err)
		d.mu.Unlock()

		tickErr := &domain.SimulationTickError{SessionID: d.sessionID, Tick: tick, Err: err}
		slog.WarnContext(ctx, "Simulation tick failed", "session_id", d.sessionID, "tick", tick, "error", err)
		if d.observer != nil {
			d.observer.TickFailed(string(d.demoType))
		}
		return tickErr
	}
	d.cb.RecordSuccess()

	remaining := d.cfg.MaxTotalRecords - d.state.TotalRecordsEmitted
	records := batch.Records
	if len(records) > remaining {
		records = records[:remaining]
	}
	d.state.TotalRecordsEmitted += len(records)
	total := d.state.TotalRecordsEmitted
	d.mu.Unlock()

	if d.observer != nil {
		d.observer.TickEmitted(string(d.demoType), len(records))
	}
	d.emit(ctx, batch.UpdateType, map[string]any{
		"tick":         tick,
		"records":      records,
		"summary":      batch.Summary,
		"totalRecords": total,
	})
	return nil
}

func (d *Driver) generate(tick, seed int64) (batch domain.Batch, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("generator panic: %v", p)
		}
	}()
	return d.generator.Next(tick, seed)
}

func (d *Driver) emit(ctx context.Context, updateType string, data map[string]any) {
	if d.publish == nil {
		return
	}
	msgType := d.demoType.UpdateMessageType()
	d.publish(ctx, domain.Event{
		SessionID: d.sessionID,
		Type:      msgType,
		Payload: domain.UpdateMessage{
			Type:       msgType,
			UpdateType: updateType,
			Data:       data,
		},
		CreatedAt: d.clock.Now(),
	})
}
