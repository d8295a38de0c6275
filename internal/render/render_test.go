package render

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"hookrelay/internal/record"
	logx "hookrelay/pkg/logx"
)

func TestSplitCard(t *testing.T) {
	t.Parallel()

	title, items := splitCard("碧蓝航线 (Alas)\n类型: 严重\n事件：任务失败\n\nTask crashed while running")
	if title != "碧蓝航线 (Alas)" {
		t.Errorf("title = %q", title)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	if items[0].Kind != "kv" || items[0].Label != "类型:" || items[0].Value != "严重" {
		t.Errorf("ascii kv item = %+v", items[0])
	}
	if items[1].Kind != "kv" || items[1].Label != "事件：" || items[1].Value != "任务失败" {
		t.Errorf("full-width kv item = %+v", items[1])
	}
	if items[2].Kind != "text" || items[2].Text != "Task crashed while running" {
		t.Errorf("text item = %+v", items[2])
	}

	title, items = splitCard("only a title")
	if title != "only a title" || len(items) != 0 {
		t.Errorf("single line parse: %q / %v", title, items)
	}
}

func TestHTTPEngineRender(t *testing.T) {
	t.Parallel()

	png := []byte{0x89, 'P', 'N', 'G'}
	var gotReq screenshotRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	eng, err := NewHTTPEngine(Options{ServiceURL: srv.URL, Scale: 1.5}, logx.Nop())
	if err != nil {
		t.Fatalf("NewHTTPEngine: %v", err)
	}
	defer eng.Close()

	msg := record.Renderable{
		Text:     "Dune - Part Two\n类型: Movie\n\nSand, again.",
		Template: "media_news",
		ImageRef: "https://img.example/p.jpg",
	}
	img, err := eng.Render(context.Background(), msg, map[string]any{"formatted_time": "03/01 12:30"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(img) != string(png) {
		t.Fatalf("image bytes = %v", img)
	}

	if gotReq.Selector != ".card" || gotReq.Scale != 1.5 {
		t.Errorf("request = %+v", gotReq)
	}
	if !strings.Contains(gotReq.HTML, "Dune - Part Two") {
		t.Errorf("title missing from HTML")
	}
	if !strings.Contains(gotReq.HTML, "https://img.example/p.jpg") {
		t.Errorf("poster missing from HTML")
	}
	if !strings.Contains(gotReq.HTML, "03/01 12:30") {
		t.Errorf("formatted time missing from HTML")
	}
}

func TestHTTPEngineUnknownTemplateFallsBack(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{1})
	}))
	defer srv.Close()

	eng, err := NewHTTPEngine(Options{ServiceURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("NewHTTPEngine: %v", err)
	}
	if _, err := eng.Render(context.Background(), record.Renderable{Text: "x", Template: "nope"}, nil); err != nil {
		t.Fatalf("Render with unknown template: %v", err)
	}
}

func TestHTTPEngineErrors(t *testing.T) {
	t.Parallel()

	t.Run("service error status", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "browser pool exhausted", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		eng, _ := NewHTTPEngine(Options{ServiceURL: srv.URL}, logx.Nop())
		_, err := eng.Render(context.Background(), record.Renderable{Text: "x"}, nil)
		if err == nil || !strings.Contains(err.Error(), "503") {
			t.Fatalf("err = %v, want 503 propagated", err)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		eng, _ := NewHTTPEngine(Options{ServiceURL: srv.URL}, logx.Nop())
		_, err := eng.Render(context.Background(), record.Renderable{Text: "x"}, nil)
		if !errors.Is(err, ErrEmptyRender) {
			t.Fatalf("err = %v, want ErrEmptyRender", err)
		}
	})

	t.Run("no service url", func(t *testing.T) {
		t.Parallel()
		if _, err := NewHTTPEngine(Options{}, logx.Nop()); err == nil {
			t.Fatal("expected configuration error")
		}
	})
}

type stubEngine struct {
	closed int
}

func (s *stubEngine) Render(context.Context, record.Renderable, map[string]any) ([]byte, error) {
	return []byte{1}, nil
}

func (s *stubEngine) Close() error {
	s.closed++
	return nil
}

func TestManagerLifecycle(t *testing.T) {
	t.Parallel()

	eng := &stubEngine{}
	inits := 0
	m := NewManager(func() (Engine, error) {
		inits++
		return eng, nil
	}, logx.Nop())

	a, err := m.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	b, err := m.Acquire()
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if a != b || inits != 1 {
		t.Fatalf("engine not shared (inits=%d)", inits)
	}

	// Close exactly once, even when called repeatedly and concurrently.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Close()
		}()
	}
	wg.Wait()
	if eng.closed != 1 {
		t.Fatalf("engine closed %d times, want 1", eng.closed)
	}

	if _, err := m.Acquire(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Acquire after close: %v, want ErrClosed", err)
	}
}

func TestManagerInitFailureRetries(t *testing.T) {
	t.Parallel()

	attempts := 0
	m := NewManager(func() (Engine, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("browser missing")
		}
		return &stubEngine{}, nil
	}, logx.Nop())

	if _, err := m.Acquire(); err == nil {
		t.Fatal("first Acquire should fail")
	}
	if _, err := m.Acquire(); err != nil {
		t.Fatalf("second Acquire should recover: %v", err)
	}

	// A manager that never initialized still closes cleanly.
	m2 := NewManager(func() (Engine, error) { return nil, errors.New("nope") }, logx.Nop())
	if _, err := m2.Acquire(); err == nil {
		t.Fatal("expected init failure")
	}
	if err := m2.Close(); err != nil {
		t.Fatalf("Close after failed init: %v", err)
	}
}
