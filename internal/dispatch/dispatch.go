// Package dispatch delivers enriched messages to a chat transport, either
// as one forward package (batch) or as spaced individual sends.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hookrelay/internal/metrics"
	"hookrelay/internal/record"
	"hookrelay/internal/render"
	"hookrelay/internal/storage"
	"hookrelay/internal/transport"
	logx "hookrelay/pkg/logx"
)

// ErrNothingRendered reports a batch in which every render failed. The
// individual fallback is skipped for it: the same messages would go through
// the same renders again.
var ErrNothingRendered = errors.New("dispatch: no messages rendered")

type Strategy string

const (
	StrategyBatch      Strategy = "batch"
	StrategyIndividual Strategy = "individual"
)

// Settings is the hot-reloadable delivery configuration.
type Settings struct {
	Platform   string
	GroupID    string
	SenderID   string
	SenderName string
	// Spacing is the minimum delay between individual sends.
	Spacing time.Duration
}

type Dispatcher struct {
	registry *transport.Registry
	renders  *render.Manager
	store    storage.Store // audit sink; may be nil
	metrics  *metrics.Metrics
	log      logx.Logger

	mu       sync.RWMutex
	settings Settings
	limiter  *rate.Limiter
}

func New(registry *transport.Registry, renders *render.Manager, store storage.Store, m *metrics.Metrics, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		registry: registry,
		renders:  renders,
		store:    store,
		metrics:  m,
		log:      log,
	}
	d.Apply(Settings{})
	return d
}

// Apply installs new delivery settings. Safe during in-flight sends; the
// next send picks them up.
func (d *Dispatcher) Apply(s Settings) {
	if s.Spacing <= 0 {
		s.Spacing = 500 * time.Millisecond
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings = s
	if d.limiter == nil {
		d.limiter = rate.NewLimiter(rate.Every(s.Spacing), 1)
	} else {
		d.limiter.SetLimit(rate.Every(s.Spacing))
	}
}

func (d *Dispatcher) current() (Settings, *rate.Limiter) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings, d.limiter
}

// Send delivers msgs with the chosen strategy. A failed batch send falls
// back to the individual path for the same message set; individual failures
// are logged and skipped per-message. Messages are never re-queued.
func (d *Dispatcher) Send(ctx context.Context, strategy Strategy, msgs []record.Renderable) error {
	if len(msgs) == 0 {
		return nil
	}
	settings, _ := d.current()
	if settings.GroupID == "" {
		return fmt.Errorf("dispatch: no delivery group configured")
	}

	adapter, err := d.registry.Resolve(settings.Platform)
	if err != nil {
		d.metrics.SendFailures.WithLabelValues(string(strategy)).Inc()
		d.audit(ctx, "", "resolve", false, err.Error(), settings.Platform)
		return fmt.Errorf("dispatch: %w", err)
	}
	target := transport.Target{GroupID: settings.GroupID}

	if strategy == StrategyBatch {
		err := d.sendBatch(ctx, adapter, target, settings, msgs)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNothingRendered) {
			d.metrics.SendFailures.WithLabelValues(string(StrategyBatch)).Inc()
			return err
		}
		d.log.Warn("batch send failed; falling back to individual",
			logx.String("transport", adapter.Name()),
			logx.Int("count", len(msgs)),
		)
	}
	return d.sendIndividual(ctx, adapter, target, msgs)
}

func (d *Dispatcher) sendBatch(ctx context.Context, adapter transport.Adapter, target transport.Target, settings Settings, msgs []record.Renderable) error {
	items := make([]transport.ForwardItem, 0, len(msgs))
	for _, msg := range msgs {
		img, err := d.renderOne(ctx, msg)
		if err != nil {
			d.log.Warn("render failed; message skipped",
				logx.String("trace_id", msg.TraceID), logx.Err(err))
			continue
		}
		items = append(items, transport.ForwardItem{
			Image:      img,
			SenderID:   settings.SenderID,
			SenderName: settings.SenderName,
		})
	}
	if len(items) == 0 {
		return ErrNothingRendered
	}

	if err := adapter.SendForward(ctx, target, items); err != nil {
		d.metrics.SendFailures.WithLabelValues(string(StrategyBatch)).Inc()
		d.audit(ctx, "", "dispatch_batch", false, err.Error(), adapter.Name())
		return err
	}

	d.metrics.Sent.WithLabelValues(string(StrategyBatch)).Add(float64(len(items)))
	d.audit(ctx, "", "dispatch_batch", true, "", fmt.Sprintf("%s n=%d", adapter.Name(), len(items)))
	d.log.Info("forward package delivered",
		logx.String("transport", adapter.Name()),
		logx.Int("count", len(items)),
	)
	return nil
}

func (d *Dispatcher) sendIndividual(ctx context.Context, adapter transport.Adapter, target transport.Target, msgs []record.Renderable) error {
	_, limiter := d.current()

	sent := 0
	for _, msg := range msgs {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		img, err := d.renderOne(ctx, msg)
		if err != nil {
			d.log.Warn("render failed; message skipped",
				logx.String("trace_id", msg.TraceID), logx.Err(err))
			continue
		}
		if err := adapter.SendImage(ctx, target, img, ""); err != nil {
			d.metrics.SendFailures.WithLabelValues(string(StrategyIndividual)).Inc()
			d.audit(ctx, msg.TraceID, "dispatch_individual", false, err.Error(), adapter.Name())
			d.log.Warn("individual send failed; message skipped",
				logx.String("trace_id", msg.TraceID),
				logx.String("transport", adapter.Name()),
				logx.Err(err),
			)
			continue
		}
		sent++
		d.metrics.Sent.WithLabelValues(string(StrategyIndividual)).Inc()
		d.audit(ctx, msg.TraceID, "dispatch_individual", true, "", adapter.Name())
	}

	d.log.Info("individual delivery finished",
		logx.String("transport", adapter.Name()),
		logx.Int("sent", sent),
		logx.Int("total", len(msgs)),
	)
	return nil
}

func (d *Dispatcher) renderOne(ctx context.Context, msg record.Renderable) ([]byte, error) {
	eng, err := d.renders.Acquire()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	img, err := eng.Render(ctx, msg, msg.RenderContext())
	d.metrics.RenderSeconds.Observe(time.Since(start).Seconds())
	return img, err
}

func (d *Dispatcher) audit(ctx context.Context, traceID, action string, ok bool, errStr, detail string) {
	if d.store == nil {
		return
	}
	entry := storage.AuditEntry{
		At:       time.Now().UTC(),
		TraceID:  traceID,
		Category: "dispatch",
		Action:   action,
		OK:       ok,
		Error:    errStr,
		Detail:   detail,
	}
	if err := d.store.AppendAudit(ctx, entry); err != nil {
		d.log.Debug("audit append failed", logx.Err(err))
	}
}
