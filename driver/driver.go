package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/durable"
	"github.com/xraph/durable/admission"
	"github.com/xraph/durable/backoff"
	"github.com/xraph/durable/ext"
	"github.com/xraph/durable/id"
	"github.com/xraph/durable/invocation"
	mw "github.com/xraph/durable/middleware"
	"github.com/xraph/durable/protocol"
	"github.com/xraph/durable/service"
	"github.com/xraph/durable/store"
	"github.com/xraph/durable/store/memory"
)

var errAdmissionDenied = errors.New("driver: admission denied")

// awakeableRef locates the journal entry an external completion targets.
type awakeableRef struct {
	invID id.InvocationID
	index uint32
}

// Driver is the embedded runtime. Create one with New, then Start it.
type Driver struct {
	reg    *service.Registry
	cfg    Config
	store  store.Store
	logger *slog.Logger
	adm    *admission.Manager
	exts   *ext.Registry
	chain  mw.Middleware
	bo     backoff.Strategy
	codec  protocol.Codec

	// Collected by options, wired in New after the logger is final.
	admConfigs  []admission.Config
	userMws     []mw.Middleware
	pendingExts []ext.Extension

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	baseCtx context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	wg      sync.WaitGroup

	mu         sync.Mutex
	started    bool
	active     map[string]bool
	live       map[string]chan *protocol.CompletionMessage
	awakeables map[string]awakeableRef
	watchers   map[string][]chan *invocation.Invocation

	// deliverMu serializes completion delivery so an entry never
	// completes twice.
	deliverMu sync.Mutex
}

// Option configures a Driver.
type Option func(*Driver) error

// WithStore sets the persistence backend. Defaults to the in-memory
// store.
func WithStore(s store.Store) Option {
	return func(d *Driver) error {
		if s == nil {
			return durable.ErrNoStore
		}
		d.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the driver.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) error {
		if l != nil {
			d.logger = l
		}
		return nil
	}
}

// WithConcurrency caps concurrent invocation runs across all services.
func WithConcurrency(n int) Option {
	return func(d *Driver) error {
		d.cfg.Concurrency = n
		return nil
	}
}

// WithAdmission adds per-service admission configurations: concurrency
// caps and rate limits on invocation starts.
func WithAdmission(configs ...admission.Config) Option {
	return func(d *Driver) error {
		d.admConfigs = append(d.admConfigs, configs...)
		return nil
	}
}

// WithMiddleware appends middleware to the driver's chain, inside the
// default stack (recover, tracing, metrics, logging).
func WithMiddleware(mws ...mw.Middleware) Option {
	return func(d *Driver) error {
		d.userMws = append(d.userMws, mws...)
		return nil
	}
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(d *Driver) error {
		d.pendingExts = append(d.pendingExts, e)
		return nil
	}
}

// WithBackoff sets the retry backoff strategy used when admission denies
// an invocation start. Defaults to backoff.DefaultStrategy().
func WithBackoff(b backoff.Strategy) Option {
	return func(d *Driver) error {
		d.bo = b
		return nil
	}
}

// WithSuspendTimeout bounds how long a blocked session holds its slot
// before suspending.
func WithSuspendTimeout(t time.Duration) Option {
	return func(d *Driver) error {
		d.cfg.SuspendTimeout = t
		return nil
	}
}

// WithPollInterval sets how often the driver scans for due invocations.
func WithPollInterval(t time.Duration) Option {
	return func(d *Driver) error {
		d.cfg.PollInterval = t
		return nil
	}
}

// WithPartialStateThreshold switches sessions to partial-state mode when
// a service's snapshot exceeds n keys.
func WithPartialStateThreshold(n int) Option {
	return func(d *Driver) error {
		d.cfg.PartialStateThreshold = n
		return nil
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Driver) error {
		d.tracerProvider = tp
		return nil
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. If not set, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(d *Driver) error {
		d.meterProvider = mp
		return nil
	}
}

// New creates a Driver over the given service registry.
func New(reg *service.Registry, opts ...Option) (*Driver, error) {
	if reg == nil {
		return nil, fmt.Errorf("driver: nil service registry")
	}
	d := &Driver{
		reg:        reg,
		cfg:        DefaultConfig(),
		logger:     slog.Default(),
		codec:      &protocol.JSONCodec{},
		active:     make(map[string]bool),
		live:       make(map[string]chan *protocol.CompletionMessage),
		awakeables: make(map[string]awakeableRef),
		watchers:   make(map[string][]chan *invocation.Invocation),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.store == nil {
		d.store = memory.New()
	}
	if d.bo == nil {
		d.bo = backoff.DefaultStrategy()
	}
	d.adm = admission.NewManager(d.cfg.Concurrency, d.admConfigs...)

	d.exts = ext.NewRegistry(d.logger)
	for _, e := range d.pendingExts {
		d.exts.Register(e)
	}

	var tracingMw mw.Middleware
	if d.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(d.tracerProvider.Tracer("github.com/xraph/durable"))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if d.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(d.meterProvider.Meter("github.com/xraph/durable"))
	} else {
		metricsMw = mw.Metrics()
	}
	all := []mw.Middleware{mw.Recover(d.logger), tracingMw, metricsMw, mw.Logging(d.logger)}
	all = append(all, d.userMws...)
	d.chain = mw.Chain(all...)

	d.baseCtx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Store returns the driver's store.
func (d *Driver) Store() store.Store { return d.store }

// Registry returns the service registry.
func (d *Driver) Registry() *service.Registry { return d.reg }

// Extensions returns the extension registry.
func (d *Driver) Extensions() *ext.Registry { return d.exts }

// Start migrates the store, recovers suspended invocations, and
// launches the due-invocation poller. It returns immediately.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	if err := d.store.Migrate(ctx); err != nil {
		return fmt.Errorf("driver: migrate: %w", err)
	}
	if err := d.recoverInterrupted(ctx); err != nil {
		d.logger.Warn("invocation recovery failed",
			slog.String("error", err.Error()))
	}

	g, gctx := errgroup.WithContext(d.baseCtx)
	d.group = g
	g.Go(func() error {
		d.pollDue(gctx)
		return nil
	})

	d.logger.Info("driver started",
		slog.Int("concurrency", d.cfg.Concurrency),
		slog.Duration("poll_interval", d.cfg.PollInterval),
		slog.Any("services", d.reg.Names()))
	return nil
}

// Stop gracefully shuts the driver down: cancels all runs, waits for
// them up to ShutdownTimeout, notifies extensions, and closes the store.
func (d *Driver) Stop(ctx context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		if d.group != nil {
			_ = d.group.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("driver stopped gracefully")
	case <-time.After(d.cfg.ShutdownTimeout):
		d.logger.Warn("driver shutdown timed out")
	case <-ctx.Done():
		d.logger.Warn("driver shutdown cancelled", slog.String("error", ctx.Err().Error()))
	}

	d.exts.EmitShutdown(ctx)
	return d.store.Close()
}

// Invoke runs a service method to its terminal state and returns the
// final invocation record. It blocks across suspensions: durable timers
// and external completions resume the invocation until it completes or
// fails, or ctx is cancelled.
func (d *Driver) Invoke(ctx context.Context, svc, method string, input []byte) (*invocation.Invocation, error) {
	if _, err := d.reg.Handler(svc, method); err != nil {
		return nil, err
	}
	inv := invocation.New(svc, method, input)
	now := time.Now().UTC()
	inv.StartedAt = &now
	if err := d.store.CreateInvocation(ctx, inv); err != nil {
		return nil, err
	}
	d.exts.EmitInvocationCreated(ctx, inv)

	done := d.watch(inv.ID)
	d.startRun(inv)

	select {
	case final := <-done:
		return final, nil
	case <-ctx.Done():
		return inv, ctx.Err()
	}
}

// Send fires a one-way invocation and returns without waiting for it to
// run. A positive delay defers the first run.
func (d *Driver) Send(ctx context.Context, svc, method string, input []byte, delay time.Duration) (*invocation.Invocation, error) {
	if _, err := d.reg.Handler(svc, method); err != nil {
		return nil, err
	}
	inv := invocation.New(svc, method, input)
	if delay > 0 {
		inv.State = invocation.StateScheduled
		at := time.Now().UTC().Add(delay)
		inv.ScheduledAt = &at
	}
	if err := d.store.CreateInvocation(ctx, inv); err != nil {
		return nil, err
	}
	d.exts.EmitInvocationCreated(ctx, inv)
	if delay <= 0 {
		d.startRun(inv)
	}
	return inv, nil
}

// GetInvocation returns the current record of an invocation.
func (d *Driver) GetInvocation(ctx context.Context, invID id.InvocationID) (*invocation.Invocation, error) {
	return d.store.GetInvocation(ctx, invID)
}

// ListInvocations returns invocations matching the given options.
func (d *Driver) ListInvocations(ctx context.Context, opts invocation.ListOpts) ([]*invocation.Invocation, error) {
	return d.store.ListInvocations(ctx, opts)
}

// Resume relaunches a suspended invocation immediately instead of
// waiting for a completion or the due poller.
func (d *Driver) Resume(ctx context.Context, invID id.InvocationID) error {
	inv, err := d.store.GetInvocation(ctx, invID)
	if err != nil {
		return err
	}
	if inv.State != invocation.StateSuspended {
		return fmt.Errorf("%w: cannot resume invocation in state %s", durable.ErrInvalidState, inv.State)
	}
	d.startRun(inv)
	return nil
}

// CompleteAwakeable resolves an invocation's pending awakeable by its
// external ID. Each awakeable completes at most once; completing an
// unknown or already-completed ID returns ErrAwakeableNotFound.
func (d *Driver) CompleteAwakeable(ctx context.Context, awakeableID string, res *durable.Result) error {
	d.mu.Lock()
	ref, ok := d.awakeables[awakeableID]
	if ok {
		delete(d.awakeables, awakeableID)
	}
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", durable.ErrAwakeableNotFound, awakeableID)
	}
	return d.deliver(ctx, ref.invID, ref.index, res)
}

// ResolveAwakeable completes an awakeable with a value.
func (d *Driver) ResolveAwakeable(ctx context.Context, awakeableID string, value []byte) error {
	return d.CompleteAwakeable(ctx, awakeableID, durable.ValueResult(value))
}

// RejectAwakeable completes an awakeable with a failure.
func (d *Driver) RejectAwakeable(ctx context.Context, awakeableID string, code durable.Code, message string) error {
	return d.CompleteAwakeable(ctx, awakeableID, durable.FailureResult(durable.NewFailure(code, message)))
}

// ── Run bookkeeping ─────────────────────────────────

// startRun launches a run goroutine for the invocation unless one is
// already active.
func (d *Driver) startRun(inv *invocation.Invocation) {
	key := inv.ID.String()
	d.mu.Lock()
	if d.active[key] {
		d.mu.Unlock()
		return
	}
	d.active[key] = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.runInvocation(d.baseCtx, inv)
}

// watch registers interest in an invocation's terminal state.
func (d *Driver) watch(invID id.InvocationID) <-chan *invocation.Invocation {
	ch := make(chan *invocation.Invocation, 1)
	key := invID.String()
	d.mu.Lock()
	d.watchers[key] = append(d.watchers[key], ch)
	d.mu.Unlock()
	return ch
}

// notifyTerminal delivers the final record to all watchers.
func (d *Driver) notifyTerminal(inv *invocation.Invocation) {
	key := inv.ID.String()
	d.mu.Lock()
	chans := d.watchers[key]
	delete(d.watchers, key)
	d.mu.Unlock()
	for _, ch := range chans {
		ch <- inv
	}
}

func (d *Driver) registerAwakeable(awakeableID string, invID id.InvocationID, index uint32) {
	d.mu.Lock()
	d.awakeables[awakeableID] = awakeableRef{invID: invID, index: index}
	d.mu.Unlock()
}

// ── Background loops ────────────────────────────────

// pollDue periodically launches invocations whose wake-up or scheduled
// instant has passed.
func (d *Driver) pollDue(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatchDue(ctx)
		}
	}
}

func (d *Driver) dispatchDue(ctx context.Context) {
	due, err := d.store.ListDue(ctx, time.Now().UTC(), d.cfg.DueBatch)
	if err != nil {
		d.logger.Error("due scan failed", slog.String("error", err.Error()))
		return
	}
	for _, inv := range due {
		d.startRun(inv)
	}
}

// recoverInterrupted resumes work interrupted by a restart. Invocations
// persisted as running died mid-attempt; replay makes re-running them
// safe, so they relaunch immediately. Suspended invocations get their
// external completion sources re-attached: pending awakeables become
// addressable again, pending timers are re-armed, and invocations whose
// blocked entries already completed are resumed. Child invocations in
// flight at crash time are not re-linked to their parents; the parent
// stays suspended until the child's result is delivered again by hand.
func (d *Driver) recoverInterrupted(ctx context.Context) error {
	running, err := d.store.ListInvocations(ctx, invocation.ListOpts{State: invocation.StateRunning})
	if err != nil {
		return err
	}
	for _, inv := range running {
		d.startRun(inv)
	}

	suspended, err := d.store.ListInvocations(ctx, invocation.ListOpts{State: invocation.StateSuspended})
	if err != nil {
		return err
	}
	for _, inv := range suspended {
		entries, err := d.store.GetEntries(ctx, inv.ID)
		if err != nil {
			d.logger.Warn("recovery: journal load failed",
				slog.String("invocation_id", inv.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		ready := false
		for _, idx := range inv.Blocked {
			if int(idx) >= len(entries) {
				continue
			}
			e := entries[idx]
			if len(e.Result) > 0 {
				ready = true
				continue
			}
			switch protocol.Type(e.TypeCode) {
			case protocol.TypeAwakeableEntry:
				msg := &protocol.AwakeableEntryMessage{}
				if uerr := d.codec.Unmarshal(e.Payload, msg); uerr == nil {
					d.registerAwakeable(msg.ID, inv.ID, e.Index)
				}
			case protocol.TypeSleepEntry:
				msg := &protocol.SleepEntryMessage{}
				if uerr := d.codec.Unmarshal(e.Payload, msg); uerr == nil {
					d.armTimer(inv.ID, e.Index, msg.WakeUpTime)
				}
			case protocol.TypeGetStateEntry:
				// A state read whose answer never landed: answer it from
				// the store now so the read stops blocking.
				msg := &protocol.GetStateEntryMessage{}
				if uerr := d.codec.Unmarshal(e.Payload, msg); uerr == nil {
					value, found, gerr := d.store.GetServiceState(ctx, inv.Service, string(msg.Key))
					if gerr != nil {
						continue
					}
					res := durable.EmptyResult()
					if found {
						res = durable.ValueResult(value)
					}
					if derr := d.deliver(ctx, inv.ID, e.Index, res); derr == nil {
						ready = true
					}
				}
			}
		}
		if ready {
			d.startRun(inv)
		}
	}
	return nil
}
