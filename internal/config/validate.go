package config

import (
	"fmt"
	"strings"
)

var knownCategories = map[string]bool{
	CategoryMedia:  true,
	CategoryGame:   true,
	CategoryCommon: true,
}

// Validate checks structural constraints. It runs on every load and before
// any hot-reload commit, so a bad edit never replaces a working config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if p := cfg.Webhook.Port; p != 0 && (p < 1 || p > 65535) {
		return fmt.Errorf("webhook.port: %d out of range 1-65535", p)
	}
	for category, paths := range cfg.Webhook.Routes {
		if !knownCategories[category] {
			return fmt.Errorf("webhook.routes: unknown category %q", category)
		}
		for _, p := range paths {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("webhook.routes.%s: empty path", category)
			}
		}
	}
	for category := range cfg.Webhook.Templates {
		if !knownCategories[category] {
			return fmt.Errorf("webhook.templates: unknown category %q", category)
		}
	}
	if cfg.Webhook.MaxBodyBytes < 0 {
		return fmt.Errorf("webhook.max_body_bytes: must be >= 0")
	}

	if cfg.Batch.MinSize < 0 {
		return fmt.Errorf("batch.min_size: must be >= 1 (or omitted for default)")
	}
	if _, err := ParseDurationField("batch.interval", cfg.Batch.Interval); err != nil {
		return err
	}
	if _, err := ParseDurationField("delivery.send_spacing", cfg.Delivery.SendSpacing); err != nil {
		return err
	}
	if _, err := ParseDurationField("enrich.cache_ttl", cfg.Enrich.CacheTTL); err != nil {
		return err
	}
	if _, err := ParseDurationField("render.timeout", cfg.Render.Timeout); err != nil {
		return err
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if t := cfg.Transports.Telegram; t != nil {
		if strings.TrimSpace(t.Token) == "" {
			return fmt.Errorf("transports.telegram.token: required when section present")
		}
		if _, err := ParseDurationField("transports.telegram.poll_timeout", t.PollTimeout); err != nil {
			return err
		}
	}
	if o := cfg.Transports.OneBot; o != nil {
		if strings.TrimSpace(o.Endpoint) == "" {
			return fmt.Errorf("transports.onebot.endpoint: required when section present")
		}
	}

	return nil
}
