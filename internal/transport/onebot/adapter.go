// Package onebot implements the transport adapter for OneBot v11 HTTP
// endpoints (NapCat, LLOneBot, go-cqhttp and compatible clients).
package onebot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"hookrelay/internal/transport"
	logx "hookrelay/pkg/logx"
)

type Config struct {
	// Endpoint is the HTTP API base URL, e.g. "http://127.0.0.1:3000".
	Endpoint    string
	AccessToken string
	Timeout     time.Duration
}

type Adapter struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	// lastFailure flags the adapter not-ready after a transport-level
	// failure until the next successful call.
	lastFailure atomic.Bool
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("onebot endpoint is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &Adapter{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: timeout},
	}, nil
}

func (a *Adapter) Name() string { return "onebot" }

func (a *Adapter) Ready() bool { return !a.lastFailure.Load() }

// segment is one OneBot message segment.
type segment struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func imageSegment(img []byte) segment {
	return segment{
		Type: "image",
		Data: map[string]any{
			"file": "base64://" + base64.StdEncoding.EncodeToString(img),
		},
	}
}

func (a *Adapter) SendImage(ctx context.Context, to transport.Target, image []byte, caption string) error {
	msg := []segment{imageSegment(image)}
	if caption != "" {
		msg = append(msg, segment{Type: "text", Data: map[string]any{"text": caption}})
	}
	return a.call(ctx, "send_group_msg", map[string]any{
		"group_id": groupID(to.GroupID),
		"message":  msg,
	})
}

func (a *Adapter) SendForward(ctx context.Context, to transport.Target, items []transport.ForwardItem) error {
	if len(items) == 0 {
		return nil
	}
	nodes := make([]segment, 0, len(items))
	for _, item := range items {
		nodes = append(nodes, segment{
			Type: "node",
			Data: map[string]any{
				"user_id":  item.SenderID,
				"nickname": item.SenderName,
				"content":  []segment{imageSegment(item.Image)},
			},
		})
	}
	return a.call(ctx, "send_group_forward_msg", map[string]any{
		"group_id": groupID(to.GroupID),
		"messages": nodes,
	})
}

// apiResponse is the OneBot action envelope.
type apiResponse struct {
	Status  string `json:"status"`
	Retcode int    `json:"retcode"`
	Message string `json:"message,omitempty"`
	Wording string `json:"wording,omitempty"`
}

func (a *Adapter) call(ctx context.Context, action string, params map[string]any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("onebot %s: encode: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint+"/"+action, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		a.lastFailure.Store(true)
		return fmt.Errorf("onebot %s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		a.lastFailure.Store(true)
		return fmt.Errorf("onebot %s: read response: %w", action, err)
	}
	a.lastFailure.Store(false)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("onebot %s: http %d: %s", action, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("onebot %s: decode response: %w", action, err)
	}
	if out.Retcode != 0 {
		reason := out.Wording
		if reason == "" {
			reason = out.Message
		}
		return fmt.Errorf("onebot %s: retcode %d: %s", action, out.Retcode, reason)
	}
	return nil
}

// groupID keeps numeric ids numeric on the wire; some OneBot servers reject
// string group ids.
func groupID(id string) any {
	if n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err == nil {
		return n
	}
	return id
}
