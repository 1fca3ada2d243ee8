package compio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
)

// Proactor owns an event queue and the single dispatch goroutine driving
// completions out of it. Its lifecycle is Created, Running, Stopping,
// Stopped; a stopped proactor can be started again.
type Proactor struct {
	cfg    config
	logger *slog.Logger
	msink  metrics.MetricSink

	state lifecycle

	// lk serialises Start and Stop. Initiate never takes it; it reaches
	// the current queue through the atomic pointer, which Start swaps on
	// every restart.
	lk    sync.Mutex
	queue atomic.Pointer[EventQueue]
	wg    sync.WaitGroup
}

// Create builds a Proactor. No kernel resource is allocated before Start.
func Create(opts ...Option) (*Proactor, error) {
	p := &Proactor{cfg: defaultConfig()}
	for _, opt := range opts {
		if err := opt(&p.cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	if p.cfg.logHandler != nil {
		p.logger = slog.New(p.cfg.logHandler)
	} else {
		p.logger = slog.Default()
	}

	if p.cfg.msink == nil {
		p.cfg.msink = metrics.Default()
	}
	p.msink = p.cfg.msink

	return p, nil
}

// State reports where the proactor is in its lifecycle.
func (p *Proactor) State() State {
	return p.state.load()
}

// Start allocates the event queue and spawns the dispatch goroutine.
func (p *Proactor) Start() error {
	p.lk.Lock()
	defer p.lk.Unlock()

	switch p.state.load() {
	case StateRunning, StateStopping:
		return ErrAlreadyRunning
	}

	q, err := NewEventQueue(p.cfg.pollBatch)
	if err != nil {
		return err
	}
	p.queue.Store(q)

	p.wg.Add(1)
	p.state.force(StateRunning)
	go p.dispatch(q)

	p.logger.Info("proactor started")
	return nil
}

// Stop drains the proactor: the dispatch goroutine finishes its cycle,
// every still-pending operation completes with ErrProactorStopped, kernel
// resources are released, and only then does Stop return. Stopping a
// proactor that is not running is a no-op.
//
// Stop MUST NOT be called from a completion handler: it waits for the
// dispatch goroutine, and the handler runs on it.
func (p *Proactor) Stop() error {
	p.lk.Lock()
	defer p.lk.Unlock()

	if !p.state.transition(StateRunning, StateStopping) {
		return nil
	}

	start := time.Now()
	p.logger.Info("proactor stopping...")
	p.queue.Load().Wake()
	p.wg.Wait()

	p.state.force(StateStopped)
	p.logger.Info("proactor stopped", "duration", time.Since(start))
	return nil
}

// Initiate hands one operation to the proactor. On a nil return the
// operation's completion handler will be invoked exactly once, on the
// dispatch goroutine; on a non-nil return it will never be.
//
// Initiate is safe from any goroutine, including from completion handlers
// running on the dispatch goroutine.
func (p *Proactor) Initiate(op AsyncOperation) error {
	if p.state.load() != StateRunning {
		return ErrNotRunning
	}
	if err := op.initiate(p); err != nil {
		// Lost the race against Stop.
		if errors.Is(err, ErrQueueClosed) {
			return ErrNotRunning
		}
		return err
	}
	p.msink.IncrCounterWithLabels(MetricOpInitiatedCount, 1,
		p.withLabels(LabelVerb.M(op.Kind().String())))
	return nil
}

func (p *Proactor) dispatch(q *EventQueue) {
	defer p.wg.Done()
	p.logger.Debug("dispatch loop running")

	for p.state.load() == StateRunning {
		start := time.Now()
		ready, err := q.Wait(p.cfg.pollInterval)
		p.msink.AddSampleWithLabels(MetricDispatchWaitMs,
			float32(time.Since(start))/float32(time.Millisecond), p.cfg.metricLabels)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return
			}
			p.logger.Error("event queue wait failed", LabelError.L(err))
			time.Sleep(p.cfg.pollInterval)
			continue
		}
		for _, r := range ready {
			p.execute(r)
		}
		p.msink.SetGaugeWithLabels(MetricQueuePendingOps,
			float32(q.Pending()), p.cfg.metricLabels)
	}

	// Drain: nothing pending may be left behind without its completion.
	failed, err := q.closeAndDrain(ErrProactorStopped)
	if err != nil {
		p.logger.Warn("event queue teardown reported an error", LabelError.L(err))
	}
	for _, r := range failed {
		p.execute(r)
	}
	p.logger.Debug("dispatch loop stopped", "drained", len(failed))
}

func (p *Proactor) execute(r ReadyOp) {
	if r.Cause != nil {
		p.msink.IncrCounterWithLabels(MetricOpCanceledCount, 1,
			p.withLabels(LabelVerb.M(r.Op.Kind().String())))
		r.Op.fail(p, r.Cause)
		return
	}
	r.Op.perform(p, r.Events)
}

// invoke shields the dispatch loop from handler panics: one misbehaving
// completion must not take the whole proactor down.
func (p *Proactor) invoke(handler CompletionHandler, n int, buf Buffer, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.msink.IncrCounterWithLabels(MetricHandlerPanicCount, 1, p.cfg.metricLabels)
			p.logger.Error("completion handler panicked", "panic", rec)
		}
	}()
	handler.HandleCompletion(n, buf, err)
}

func (p *Proactor) observeCompletion(kind OpKind, err error) {
	if err != nil {
		p.msink.IncrCounterWithLabels(MetricOpFailedCount, 1,
			p.withLabels(LabelVerb.M(kind.String())))
		return
	}
	p.msink.IncrCounterWithLabels(MetricOpCompletedCount, 1,
		p.withLabels(LabelVerb.M(kind.String())))
}

func (p *Proactor) withLabels(extra ...metrics.Label) []metrics.Label {
	if len(p.cfg.metricLabels) == 0 {
		return extra
	}
	out := make([]metrics.Label, 0, len(p.cfg.metricLabels)+len(extra))
	out = append(out, p.cfg.metricLabels...)
	return append(out, extra...)
}
