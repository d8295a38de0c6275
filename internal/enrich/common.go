package enrich

import (
	"context"
	"strings"
	"time"

	"hookrelay/internal/record"
	logx "hookrelay/pkg/logx"
)

// Common normalizes generic push bodies (Server酱-style JSON with
// title/desp, plain text, or arbitrary {title, message|content} objects).
//
// Unlike the other providers it runs synchronously at the HTTP boundary,
// because its output shape is already final and a bad body should be
// rejected with a client error instead of queued.
type Common struct {
	log logx.Logger
}

func NewCommon(log logx.Logger) *Common {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Common{log: log}
}

func (c *Common) Name() string                  { return "common" }
func (c *Common) Priority() int                 { return 30 }
func (c *Common) Handles(kind record.Kind) bool { return kind == record.KindCommon }

func (c *Common) Enrich(ctx context.Context, rec record.Record) (record.Renderable, error) {
	if rec.Message != nil {
		return *rec.Message, nil
	}
	out, err := c.Normalize(rec.RawText)
	if err != nil {
		return record.Renderable{}, err
	}
	return stamp(out, rec), nil
}

// Normalize converts a raw body into a renderable message, or fails with
// ErrInvalidPayload when nothing displayable can be extracted.
func (c *Common) Normalize(body string) (record.Renderable, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return record.Renderable{}, ErrInvalidPayload
	}

	meta := parseMediaBody(body)

	title := firstString(meta, "title", "subject", "name")
	text := firstString(meta, "desp", "message", "content", "text", "body")
	if title == "" && text == "" {
		return record.Renderable{}, ErrInvalidPayload
	}

	var lines []string
	if title != "" {
		lines = append(lines, title)
	}
	if text != "" && text != title {
		lines = append(lines, text)
	}

	out := record.Renderable{
		Text:       strings.Join(lines, "\n"),
		ImageRef:   firstString(meta, "image_url", "image", "cover"),
		ReceivedAt: time.Now().UTC(),
	}

	extra := make(map[string]any)
	for k, v := range meta {
		switch k {
		case "title", "subject", "name",
			"desp", "message", "content", "text", "body",
			"image_url", "image", "cover":
			continue
		}
		extra[k] = v
	}
	if len(extra) > 0 {
		out.Extra = extra
	}
	return out, nil
}
