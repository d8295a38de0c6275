// Package pipeline runs the periodic batch cycle: drain the queue, enrich
// each record, decide the delivery strategy, dispatch.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hookrelay/internal/dispatch"
	"hookrelay/internal/metrics"
	"hookrelay/internal/queue"
	"hookrelay/internal/record"
	logx "hookrelay/pkg/logx"
)

// Enricher normalizes one drained record.
type Enricher interface {
	Enrich(ctx context.Context, rec record.Record) (record.Renderable, error)
}

// Sender delivers a set of enriched messages.
type Sender interface {
	Send(ctx context.Context, strategy dispatch.Strategy, msgs []record.Renderable) error
}

// Settings is the hot-reloadable part of the scheduler.
type Settings struct {
	MinSize int
	// TargetConfigured gates the whole cycle: without a destination the
	// queue is left untouched (no drain, no loss).
	TargetConfigured bool
}

type Pipeline struct {
	queue    *queue.Queue
	enricher Enricher
	sender   Sender
	metrics  *metrics.Metrics
	log      logx.Logger

	// cycleMu serializes cycles: a manual RunNow never interleaves with
	// the timer.
	cycleMu sync.Mutex

	mu       sync.RWMutex
	settings Settings

	cronMu sync.Mutex
	timer  *cron.Cron

	// cycleTimeout bounds one whole cycle (enrich + render + send).
	cycleTimeout time.Duration
}

func New(q *queue.Queue, enricher Enricher, sender Sender, m *metrics.Metrics, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		queue:        q,
		enricher:     enricher,
		sender:       sender,
		metrics:      m,
		log:          log,
		cycleTimeout: 4 * time.Minute,
	}
}

func (p *Pipeline) Apply(s Settings) {
	if s.MinSize < 1 {
		s.MinSize = 1
	}
	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()
}

func (p *Pipeline) currentSettings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// Start launches the periodic trigger.
func (p *Pipeline) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("pipeline: interval must be positive")
	}
	p.cronMu.Lock()
	defer p.cronMu.Unlock()
	if p.timer != nil {
		return fmt.Errorf("pipeline: already started")
	}

	c := cron.New()
	if _, err := c.AddFunc("@every "+interval.String(), p.tick); err != nil {
		return fmt.Errorf("pipeline: schedule: %w", err)
	}
	c.Start()
	p.timer = c
	p.log.Info("batch scheduler started", logx.Duration("interval", interval))
	return nil
}

// Reschedule replaces the trigger interval. Running cycles finish normally.
func (p *Pipeline) Reschedule(interval time.Duration) error {
	p.cronMu.Lock()
	old := p.timer
	p.timer = nil
	p.cronMu.Unlock()
	if old != nil {
		<-old.Stop().Done()
	}
	return p.Start(interval)
}

// Stop halts the trigger and waits (bounded by ctx) for a running cycle.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.cronMu.Lock()
	c := p.timer
	p.timer = nil
	p.cronMu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick is the cron entry point. A cycle failure or panic must never kill
// the trigger; the next tick is the retry.
func (p *Pipeline) tick() {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("batch cycle panicked",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.cycleTimeout)
	defer cancel()
	if err := p.RunNow(ctx); err != nil {
		p.log.Warn("batch cycle failed", logx.Err(err))
	}
}

// RunNow executes one cycle immediately. Also used by the timer.
func (p *Pipeline) RunNow(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	settings := p.currentSettings()
	if !settings.TargetConfigured {
		if n := p.queue.Len(); n > 0 {
			p.log.Debug("no delivery target; leaving queue untouched", logx.Int("pending", n))
		}
		return nil
	}

	records := p.queue.DrainAll(ctx)
	p.metrics.QueueDepth.Set(float64(p.queue.Len()))
	if len(records) == 0 {
		return nil
	}
	p.log.Info("batch cycle draining", logx.Int("count", len(records)))

	enriched := make([]record.Renderable, 0, len(records))
	for _, rec := range records {
		msg, err := p.enricher.Enrich(ctx, rec)
		if err != nil {
			p.metrics.EnrichDropped.WithLabelValues(string(rec.Kind)).Inc()
			p.log.Warn("enrichment failed; record dropped",
				logx.String("trace_id", rec.TraceID),
				logx.String("kind", string(rec.Kind)),
				logx.Err(err),
			)
			continue
		}
		enriched = append(enriched, msg)
	}
	if len(enriched) == 0 {
		return nil
	}

	strategy := dispatch.StrategyIndividual
	if len(enriched) >= settings.MinSize {
		strategy = dispatch.StrategyBatch
	}
	p.log.Info("dispatching",
		logx.String("strategy", string(strategy)),
		logx.Int("count", len(enriched)),
	)

	// Drained records are not restored on failure; the loss window is part
	// of the delivery contract.
	if err := p.sender.Send(ctx, strategy, enriched); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}
