// Package render turns enriched messages into card images.
//
// The production engine builds an HTML card from an embedded template and
// asks an external headless-browser render service to screenshot it. The
// Manager owns the shared engine: lazy one-time init, explicit release, and
// exactly-once teardown on shutdown.
package render

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"hookrelay/internal/record"
	logx "hookrelay/pkg/logx"
)

var (
	// ErrEmptyRender marks a render call that produced no image bytes.
	ErrEmptyRender = errors.New("render: empty result")

	// ErrClosed is returned by Acquire after the manager was shut down.
	ErrClosed = errors.New("render: manager closed")
)

// Engine renders one message to PNG bytes. Extra carries auxiliary template
// context assembled by the dispatcher (formatted_time and friends).
type Engine interface {
	Render(ctx context.Context, msg record.Renderable, extra map[string]any) ([]byte, error)
	Close() error
}

//go:embed templates/*.html
var templateFS embed.FS

// Options configures the HTTP render engine.
type Options struct {
	// ServiceURL is the screenshot endpoint of the render service.
	ServiceURL string
	Timeout    time.Duration
	// Scale is the device scale factor; 0 keeps the service default.
	Scale float64
}

type httpEngine struct {
	url    string
	scale  float64
	client *http.Client
	tmpl   *template.Template
	log    logx.Logger
}

// NewHTTPEngine builds the production engine. Fails when the embedded
// templates don't parse or no service URL is configured.
func NewHTTPEngine(opts Options, log logx.Logger) (Engine, error) {
	if strings.TrimSpace(opts.ServiceURL) == "" {
		return nil, fmt.Errorf("render: service url not configured")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("render: parse templates: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpEngine{
		url:    opts.ServiceURL,
		scale:  opts.Scale,
		client: &http.Client{Timeout: timeout},
		tmpl:   tmpl,
		log:    log,
	}, nil
}

// screenshotRequest is the render service wire format.
type screenshotRequest struct {
	HTML     string  `json:"html"`
	Selector string  `json:"selector"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Scale    float64 `json:"scale,omitempty"`
}

func (e *httpEngine) Render(ctx context.Context, msg record.Renderable, extra map[string]any) ([]byte, error) {
	html, err := e.buildHTML(msg, extra)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(screenshotRequest{
		HTML:     html,
		Selector: ".card",
		Width:    800,
		Height:   600,
		Scale:    e.scale,
	})
	if err != nil {
		return nil, fmt.Errorf("render: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render: service call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("render: service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	img, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("render: read image: %w", err)
	}
	if len(img) == 0 {
		return nil, ErrEmptyRender
	}
	return img, nil
}

func (e *httpEngine) buildHTML(msg record.Renderable, extra map[string]any) (string, error) {
	title, items := splitCard(msg.Text)

	data := cardData{
		Title:     title,
		Items:     items,
		PosterURL: msg.ImageRef,
		Extra:     extra,
	}
	if ft, ok := extra["formatted_time"].(string); ok {
		data.FormattedTime = ft
	}

	name := strings.TrimSpace(msg.Template)
	if name == "" {
		name = "common_blog"
	}
	name = strings.TrimSuffix(name, ".html") + ".html"
	if e.tmpl.Lookup(name) == nil {
		e.log.Debug("unknown card template; using common_blog", logx.String("template", name))
		name = "common_blog.html"
	}

	var buf bytes.Buffer
	if err := e.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render: execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (e *httpEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
