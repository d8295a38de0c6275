package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"hookrelay/internal/record"
	logx "hookrelay/pkg/logx"
)

// Lookup is the optional media-metadata collaborator (poster/overview
// resolution against an external catalog). Returned fields are merged over
// the parsed ones.
type Lookup interface {
	Name() string
	Lookup(ctx context.Context, meta map[string]any) (map[string]any, error)
}

// Media normalizes raw media-server notification bodies.
//
// Results are cached per body for a bounded TTL: media servers frequently
// re-fire the same notification (library scans, retries), and the lookup
// collaborator is the expensive part.
type Media struct {
	cache  *gocache.Cache
	lookup Lookup
	log    logx.Logger
}

func NewMedia(ttl time.Duration, lookup Lookup, log logx.Logger) *Media {
	if log.IsZero() {
		log = logx.Nop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Media{
		cache:  gocache.New(ttl, 2*ttl),
		lookup: lookup,
		log:    log,
	}
}

func (m *Media) Name() string                  { return "media" }
func (m *Media) Priority() int                 { return 10 }
func (m *Media) Handles(kind record.Kind) bool { return kind == record.KindRawMedia }

func (m *Media) Enrich(ctx context.Context, rec record.Record) (record.Renderable, error) {
	body := strings.TrimSpace(rec.RawText)
	if body == "" {
		return record.Renderable{}, ErrInvalidPayload
	}

	key := bodyKey(body)
	if v, ok := m.cache.Get(key); ok {
		if cached, ok := v.(record.Renderable); ok {
			m.log.Debug("media enrichment cache hit", logx.String("trace_id", rec.TraceID))
			return stamp(cached, rec), nil
		}
	}

	meta := parseMediaBody(body)
	if m.lookup != nil {
		extra, err := m.lookup.Lookup(ctx, cloneMeta(meta))
		if err != nil {
			// Metadata is decoration; the notification still goes out.
			m.log.Warn("media lookup failed",
				logx.String("provider", m.lookup.Name()),
				logx.String("trace_id", rec.TraceID),
				logx.Err(err),
			)
		} else {
			for k, v := range extra {
				meta[k] = v
			}
		}
	}

	out := composeMedia(meta)
	if out.Empty() {
		return record.Renderable{}, ErrInvalidPayload
	}

	m.cache.Set(key, out, gocache.DefaultExpiration)
	return stamp(out, rec), nil
}

// stamp binds a (possibly cached) normalized message to the concrete record.
func stamp(r record.Renderable, rec record.Record) record.Renderable {
	r.TraceID = rec.TraceID
	r.ReceivedAt = rec.ReceivedAt
	if rec.Template != "" {
		r.Template = rec.Template
	}
	return r
}

func bodyKey(body string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(body))
	return fmt.Sprintf("%x", h.Sum64())
}

// parseMediaBody accepts either a JSON object or plain text. Plain text is
// kept whole under "text"; JSON fields are carried through by name.
func parseMediaBody(body string) map[string]any {
	if strings.HasPrefix(body, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(body), &obj); err == nil {
			return obj
		}
	}
	return map[string]any{"text": body}
}

func cloneMeta(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// composeMedia builds the display text: title line, optional type line, then
// the overview as a separate block.
func composeMedia(meta map[string]any) record.Renderable {
	title := firstString(meta, "title", "item_name", "name", "subject")
	series := strings.TrimSpace(asString(meta["series_name"]))
	if series != "" && series != title {
		if title == "" {
			title = series
		} else {
			title = series + " - " + title
		}
	}

	var lines []string
	if title != "" {
		lines = append(lines, title)
	}
	if itemType := strings.TrimSpace(asString(meta["item_type"])); itemType != "" {
		lines = append(lines, "类型: "+itemType)
	}
	overview := firstString(meta, "overview", "description", "message", "text")
	if overview != "" && overview != title {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, overview)
	}

	out := record.Renderable{
		Text:     strings.Join(lines, "\n"),
		ImageRef: firstString(meta, "image_url", "poster_url", "cover", "poster"),
	}

	extra := make(map[string]any)
	for k, v := range meta {
		switch k {
		case "title", "item_name", "name", "subject", "series_name",
			"overview", "description", "message", "text",
			"image_url", "poster_url", "cover", "poster":
			continue
		}
		extra[k] = v
	}
	if len(extra) > 0 {
		out.Extra = extra
	}
	return out
}

func firstString(meta map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(asString(meta[k])); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%f", x), ".000000")
	case bool:
		return fmt.Sprintf("%t", x)
	default:
		return ""
	}
}
