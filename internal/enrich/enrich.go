// Package enrich turns raw queued records into renderable messages.
//
// Providers are capability objects selected by declared priority: the
// dispatch holds an explicit ordered list and picks the first provider that
// handles a record's kind. Provider failures are reported as errors; the
// caller decides whether to drop the record or abort.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"hookrelay/internal/record"
	logx "hookrelay/pkg/logx"
)

var (
	// ErrInvalidPayload marks a body that no normalization rule accepts.
	ErrInvalidPayload = errors.New("enrich: invalid payload")

	// ErrNoProvider means no registered provider handles the record's kind.
	ErrNoProvider = errors.New("enrich: no provider for kind")
)

// Provider normalizes one category of raw record.
type Provider interface {
	Name() string
	// Priority orders providers; lower values are consulted first.
	Priority() int
	Handles(kind record.Kind) bool
	Enrich(ctx context.Context, rec record.Record) (record.Renderable, error)
}

// Dispatch routes records to providers by kind.
type Dispatch struct {
	providers []Provider
	log       logx.Logger
}

func NewDispatch(log logx.Logger, providers ...Provider) *Dispatch {
	if log.IsZero() {
		log = logx.Nop()
	}
	ordered := make([]Provider, len(providers))
	copy(ordered, providers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})
	return &Dispatch{providers: ordered, log: log}
}

// Select returns the first provider (in priority order) handling kind,
// or nil when none does.
func (d *Dispatch) Select(kind record.Kind) Provider {
	for _, p := range d.providers {
		if p.Handles(kind) {
			return p
		}
	}
	return nil
}

// Enrich normalizes one record. Pre-normalized records (kind common, already
// carrying a message) pass through unchanged.
func (d *Dispatch) Enrich(ctx context.Context, rec record.Record) (record.Renderable, error) {
	if rec.Message != nil {
		return *rec.Message, nil
	}
	p := d.Select(rec.Kind)
	if p == nil {
		return record.Renderable{}, fmt.Errorf("%w: %s", ErrNoProvider, rec.Kind)
	}
	out, err := p.Enrich(ctx, rec)
	if err != nil {
		return record.Renderable{}, fmt.Errorf("provider %s: %w", p.Name(), err)
	}
	if out.Empty() {
		return record.Renderable{}, fmt.Errorf("provider %s: %w: empty result", p.Name(), ErrInvalidPayload)
	}
	return out, nil
}
