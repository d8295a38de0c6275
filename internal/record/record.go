package record

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags a queued record with the collaborator responsible for
// normalizing it.
type Kind string

const (
	// KindRawMedia is an unparsed media-server webhook body. Enrichment is
	// deferred to the batch cycle.
	KindRawMedia Kind = "raw_media"
	// KindRawGame is a parsed-but-unnormalized game-automation payload.
	KindRawGame Kind = "raw_game"
	// KindCommon is already normalized at ingestion time.
	KindCommon Kind = "common"
)

// Record is one ingested notification as stored in the queue.
//
// Exactly one of RawText, Payload or Message is populated, depending on Kind:
// raw_media carries the verbatim body text, raw_game the parsed JSON object,
// and common a ready Renderable.
type Record struct {
	TraceID    string            `json:"trace_id"`
	Kind       Kind              `json:"kind"`
	Template   string            `json:"template"`
	Headers    map[string]string `json:"headers,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`

	RawText string          `json:"raw_text,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message *Renderable     `json:"message,omitempty"`
}

// Renderable is the normalized output of enrichment, ready for rendering
// and dispatch.
//
// Text is multi-line: the first line is the card title, subsequent lines are
// either "label: value" pairs or free text.
type Renderable struct {
	Text       string         `json:"text"`
	ImageRef   string         `json:"image_ref,omitempty"`
	Template   string         `json:"template"`
	TraceID    string         `json:"trace_id"`
	ReceivedAt time.Time      `json:"received_at"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Title returns the first line of Text.
func (m *Renderable) Title() string {
	if m == nil {
		return ""
	}
	if i := strings.IndexByte(m.Text, '\n'); i >= 0 {
		return m.Text[:i]
	}
	return m.Text
}

// Empty reports whether the message has no body and must be skipped
// at dispatch.
func (m *Renderable) Empty() bool {
	return m == nil || strings.TrimSpace(m.Text) == ""
}

// RenderContext assembles the auxiliary context handed to the renderer:
// every Extra field plus a derived human-readable timestamp. Reserved
// message fields (text, image ref, template, trace id, kind, received time)
// are never part of it.
func (m *Renderable) RenderContext() map[string]any {
	ctx := make(map[string]any, len(m.Extra)+1)
	for k, v := range m.Extra {
		switch k {
		case "text", "image_ref", "template", "trace_id", "kind", "received_at":
			continue
		}
		ctx[k] = v
	}

	at := m.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	ctx["formatted_time"] = at.Format("01/02 15:04")
	return ctx
}

// NewTraceID returns a short unique identifier stamped on every ingested
// record and carried through enrichment, render and dispatch for log
// correlation.
func NewTraceID() string {
	return uuid.NewString()[:8]
}
