package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"hookrelay/internal/metrics"
	"hookrelay/internal/record"
	"hookrelay/internal/render"
	"hookrelay/internal/transport"
	logx "hookrelay/pkg/logx"
)

type fakeAdapter struct {
	name        string
	forwardErr  error
	forwards    [][]transport.ForwardItem
	images      [][]byte
	imageErrSeq []error
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Ready() bool  { return true }

func (f *fakeAdapter) SendImage(_ context.Context, _ transport.Target, img []byte, _ string) error {
	if len(f.imageErrSeq) > 0 {
		err := f.imageErrSeq[0]
		f.imageErrSeq = f.imageErrSeq[1:]
		if err != nil {
			return err
		}
	}
	f.images = append(f.images, img)
	return nil
}

func (f *fakeAdapter) SendForward(_ context.Context, _ transport.Target, items []transport.ForwardItem) error {
	if f.forwardErr != nil {
		return f.forwardErr
	}
	f.forwards = append(f.forwards, items)
	return nil
}

type fakeEngine struct {
	failOn  string // trace id that fails to render
	failAll bool
	renders int
}

func (f *fakeEngine) Render(_ context.Context, msg record.Renderable, _ map[string]any) ([]byte, error) {
	f.renders++
	if f.failAll || msg.TraceID == f.failOn {
		return nil, render.ErrEmptyRender
	}
	return []byte(msg.TraceID), nil
}

func (f *fakeEngine) Close() error { return nil }

func newDispatcher(t *testing.T, adapter transport.Adapter, eng render.Engine) *Dispatcher {
	t.Helper()
	reg := transport.NewRegistry(logx.Nop())
	reg.Register(adapter)
	mgr := render.NewManager(func() (render.Engine, error) { return eng, nil }, logx.Nop())
	d := New(reg, mgr, nil, metrics.New(), logx.Nop())
	d.Apply(Settings{
		Platform:   "auto",
		GroupID:    "42",
		SenderID:   "2659908767",
		SenderName: "推送助手",
		Spacing:    time.Millisecond,
	})
	return d
}

func msgs(traceIDs ...string) []record.Renderable {
	out := make([]record.Renderable, 0, len(traceIDs))
	for _, id := range traceIDs {
		out = append(out, record.Renderable{Text: "t\nk: v", TraceID: id, ReceivedAt: time.Now()})
	}
	return out
}

func TestBatchSend(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{name: "onebot"}
	d := newDispatcher(t, a, &fakeEngine{})

	if err := d.Send(context.Background(), StrategyBatch, msgs("a", "b", "c")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(a.forwards) != 1 {
		t.Fatalf("forward calls = %d, want 1", len(a.forwards))
	}
	items := a.forwards[0]
	if len(items) != 3 {
		t.Fatalf("forward items = %d, want 3", len(items))
	}
	for _, item := range items {
		if item.SenderID != "2659908767" || item.SenderName != "推送助手" {
			t.Errorf("sender identity = %q/%q", item.SenderID, item.SenderName)
		}
	}
	if len(a.images) != 0 {
		t.Errorf("individual sends = %d, want 0", len(a.images))
	}
}

func TestBatchFallsBackToIndividual(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{name: "onebot", forwardErr: errors.New("forward rejected")}
	d := newDispatcher(t, a, &fakeEngine{})

	if err := d.Send(context.Background(), StrategyBatch, msgs("a", "b", "c")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// The same set is delivered individually, in order, not discarded.
	if len(a.images) != 3 {
		t.Fatalf("individual sends after fallback = %d, want 3", len(a.images))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(a.images[i]) != want {
			t.Errorf("send %d = %q, want %q", i, a.images[i], want)
		}
	}
}

func TestRenderFailureSkipsMessage(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{name: "onebot"}
	d := newDispatcher(t, a, &fakeEngine{failOn: "bad"})

	if err := d.Send(context.Background(), StrategyBatch, msgs("a", "bad", "c")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(a.forwards) != 1 || len(a.forwards[0]) != 2 {
		t.Fatalf("forward items = %v, want 2 (bad one skipped)", a.forwards)
	}
}

// A batch where every render fails must not fall through to the individual
// path; the same messages would just fail to render again.
func TestBatchNothingRenderedSkipsFallback(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{name: "onebot"}
	eng := &fakeEngine{failAll: true}
	d := newDispatcher(t, a, eng)

	err := d.Send(context.Background(), StrategyBatch, msgs("a", "b", "c"))
	if !errors.Is(err, ErrNothingRendered) {
		t.Fatalf("err = %v, want ErrNothingRendered", err)
	}
	if len(a.forwards)+len(a.images) != 0 {
		t.Fatal("nothing rendered but the adapter was still called")
	}
	if eng.renders != 3 {
		t.Fatalf("render attempts = %d, want 3 (no individual retry)", eng.renders)
	}
}

func TestIndividualSendFailureContinues(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{name: "onebot", imageErrSeq: []error{nil, errors.New("flood control"), nil}}
	d := newDispatcher(t, a, &fakeEngine{})

	if err := d.Send(context.Background(), StrategyIndividual, msgs("a", "b", "c")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(a.images) != 2 {
		t.Fatalf("delivered = %d, want 2 (middle one skipped)", len(a.images))
	}
	if string(a.images[0]) != "a" || string(a.images[1]) != "c" {
		t.Fatalf("delivered set = %q, %q", a.images[0], a.images[1])
	}
}

func TestSendWithoutGroupFails(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{name: "onebot"}
	d := newDispatcher(t, a, &fakeEngine{})
	d.Apply(Settings{Platform: "auto"})

	err := d.Send(context.Background(), StrategyIndividual, msgs("a"))
	if err == nil || !strings.Contains(err.Error(), "no delivery group") {
		t.Fatalf("err = %v", err)
	}
}

func TestSendNoTransport(t *testing.T) {
	t.Parallel()

	reg := transport.NewRegistry(logx.Nop())
	mgr := render.NewManager(func() (render.Engine, error) { return &fakeEngine{}, nil }, logx.Nop())
	d := New(reg, mgr, nil, metrics.New(), logx.Nop())
	d.Apply(Settings{GroupID: "42"})

	err := d.Send(context.Background(), StrategyBatch, msgs("a"))
	if !errors.Is(err, transport.ErrNoTransport) {
		t.Fatalf("err = %v, want ErrNoTransport", err)
	}
}

func TestSendEmptySetIsNoop(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{name: "onebot"}
	d := newDispatcher(t, a, &fakeEngine{})
	if err := d.Send(context.Background(), StrategyBatch, nil); err != nil {
		t.Fatalf("Send(nil): %v", err)
	}
	if len(a.forwards)+len(a.images) != 0 {
		t.Fatal("empty set caused sends")
	}
}
