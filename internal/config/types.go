package config

import (
	"strings"
	"time"
)

// Categories of inbound webhooks. Route, template and enrichment behavior
// are keyed by these names.
const (
	CategoryMedia  = "media"
	CategoryGame   = "game"
	CategoryCommon = "common"
)

type Config struct {
	Webhook  WebhookConfig  `json:"webhook"`
	Batch    BatchConfig    `json:"batch"`
	Delivery DeliveryConfig `json:"delivery"`
	Enrich   EnrichConfig   `json:"enrich,omitempty"`
	Render   RenderConfig   `json:"render"`
	Logging  LoggingConfig  `json:"logging"`

	// Storage is optional; nil disables persistence (the queue becomes
	// memory-only and pending messages do not survive a restart).
	Storage *StorageConfig `json:"storage,omitempty"`

	Transports TransportsConfig `json:"transports"`
}

// WebhookConfig controls the ingestion HTTP server.
type WebhookConfig struct {
	Port int `json:"port,omitempty"` // default: 60071

	// Token guards every POST route via the X-Webhook-Token header.
	// Empty disables authentication.
	Token string `json:"token,omitempty"`

	// Routes maps a category to one or more POST paths. Omitted categories
	// get their default route (media: /media-webhook, game: /game-webhook,
	// common: /webhook).
	Routes map[string][]string `json:"routes,omitempty"`

	// Templates maps a category to the card template used when rendering
	// its messages.
	Templates map[string]string `json:"templates,omitempty"`

	// MaxBodyBytes caps inbound request bodies. 0 keeps the default (1 MiB).
	MaxBodyBytes int64 `json:"max_body_bytes,omitempty"`
}

// BatchConfig controls the periodic batch scheduler.
//
// Interval is a Go duration string (e.g. "30s", "5m").
type BatchConfig struct {
	MinSize  int    `json:"min_size,omitempty"` // default: 3
	Interval string `json:"interval,omitempty"` // default: "5m"
}

// DeliveryConfig controls where and how enriched messages are sent.
type DeliveryConfig struct {
	// Platform selects the outbound transport by name. "auto" (or empty)
	// picks the first available adapter in registration order.
	Platform string `json:"platform,omitempty"`

	// GroupID is the destination chat/group identifier. Empty disables
	// dispatch entirely (cycles drain and drop nothing).
	GroupID string `json:"group_id"`

	// SenderID/SenderName attribute the sub-items of a forward package.
	SenderID   string `json:"sender_id,omitempty"`   // default: "2659908767"
	SenderName string `json:"sender_name,omitempty"` // default: "推送助手"

	// SendSpacing is the minimum delay between individual sends.
	// Go duration string; default "500ms".
	SendSpacing string `json:"send_spacing,omitempty"`
}

// EnrichConfig controls the enrichment providers.
type EnrichConfig struct {
	// CacheTTL bounds how long a media enrichment result is reused for an
	// identical body. Go duration string; default "5m".
	CacheTTL string `json:"cache_ttl,omitempty"`

	// GameAIAnalyze enables the AI analyzer for game reports when an
	// analyzer collaborator is wired; rule-based normalization remains the
	// fallback either way.
	GameAIAnalyze bool `json:"game_ai_analyze,omitempty"`
}

// RenderConfig controls the HTML-to-image render service client.
type RenderConfig struct {
	// ServiceURL is the endpoint of the headless render service.
	// Empty disables image rendering; dispatch then fails per-message.
	ServiceURL string `json:"service_url,omitempty"`

	Timeout string  `json:"timeout,omitempty"` // default: "30s"
	Scale   float64 `json:"scale,omitempty"`   // device scale factor; 0 keeps service default
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hookrelay.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TransportsConfig declares the outbound chat adapters. A nil section means
// the adapter is not constructed at all.
type TransportsConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	OneBot   *OneBotConfig   `json:"onebot,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type OneBotConfig struct {
	// Endpoint is the HTTP API base URL (e.g. "http://127.0.0.1:3000").
	Endpoint    string `json:"endpoint"`
	AccessToken string `json:"access_token,omitempty"`
}

// Defaults applied by the accessor methods below.
const (
	DefaultPort        = 60071
	DefaultMinSize     = 3
	DefaultInterval    = 5 * time.Minute
	DefaultCacheTTL    = 5 * time.Minute
	DefaultSendSpacing = 500 * time.Millisecond
	DefaultSenderID    = "2659908767"
	DefaultSenderName  = "推送助手"
	DefaultBodyLimit   = 1 << 20
)

var defaultRoutes = map[string][]string{
	CategoryMedia:  {"/media-webhook"},
	CategoryGame:   {"/game-webhook"},
	CategoryCommon: {"/webhook"},
}

var defaultTemplates = map[string]string{
	CategoryMedia:  "media_news",
	CategoryGame:   "game_modern",
	CategoryCommon: "common_blog",
}

func (w WebhookConfig) EffectivePort() int {
	if w.Port > 0 {
		return w.Port
	}
	return DefaultPort
}

// RoutesFor returns the POST paths for a category, normalized to a leading
// slash. Falls back to the category's default route.
func (w WebhookConfig) RoutesFor(category string) []string {
	raw := w.Routes[category]
	if len(raw) == 0 {
		raw = defaultRoutes[category]
	}
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		out = append(out, p)
	}
	return out
}

func (w WebhookConfig) TemplateFor(category string) string {
	if t := strings.TrimSpace(w.Templates[category]); t != "" {
		return strings.TrimSuffix(t, ".html")
	}
	return defaultTemplates[category]
}

func (w WebhookConfig) EffectiveBodyLimit() int64 {
	if w.MaxBodyBytes > 0 {
		return w.MaxBodyBytes
	}
	return DefaultBodyLimit
}

func (b BatchConfig) EffectiveMinSize() int {
	if b.MinSize > 0 {
		return b.MinSize
	}
	return DefaultMinSize
}

func (b BatchConfig) EffectiveInterval() time.Duration {
	d, err := ParseDurationOrDefault("batch.interval", b.Interval, DefaultInterval)
	if err != nil {
		return DefaultInterval
	}
	return d
}

func (d DeliveryConfig) EffectivePlatform() string {
	p := strings.TrimSpace(d.Platform)
	if p == "" {
		return "auto"
	}
	return p
}

func (d DeliveryConfig) EffectiveSenderID() string {
	if s := strings.TrimSpace(d.SenderID); s != "" {
		return s
	}
	return DefaultSenderID
}

func (d DeliveryConfig) EffectiveSenderName() string {
	if s := strings.TrimSpace(d.SenderName); s != "" {
		return s
	}
	return DefaultSenderName
}

func (d DeliveryConfig) EffectiveSendSpacing() time.Duration {
	sp, err := ParseDurationOrDefault("delivery.send_spacing", d.SendSpacing, DefaultSendSpacing)
	if err != nil {
		return DefaultSendSpacing
	}
	return sp
}

func (e EnrichConfig) EffectiveCacheTTL() time.Duration {
	d, err := ParseDurationOrDefault("enrich.cache_ttl", e.CacheTTL, DefaultCacheTTL)
	if err != nil {
		return DefaultCacheTTL
	}
	return d
}

func (r RenderConfig) EffectiveTimeout() time.Duration {
	d, err := ParseDurationOrDefault("render.timeout", r.Timeout, 30*time.Second)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
