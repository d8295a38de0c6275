package config

import (
	"reflect"
	"sort"
	"strings"

	logx "hookrelay/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections plus safe
// structured attrs for logging. Secrets (webhook token, bot tokens) are
// reported only as present/absent.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Webhook, newCfg.Webhook) {
		changed = append(changed, "webhook")
		attrs = append(attrs,
			logx.Int("webhook.port", newCfg.Webhook.EffectivePort()),
			logx.Bool("webhook.token_set", strings.TrimSpace(newCfg.Webhook.Token) != ""),
			logx.Int("webhook.route_categories", len(newCfg.Webhook.Routes)),
		)
	}

	if oldCfg.Batch != newCfg.Batch {
		changed = append(changed, "batch")
		attrs = append(attrs,
			logx.Int("batch.min_size", newCfg.Batch.EffectiveMinSize()),
			logx.Duration("batch.interval", newCfg.Batch.EffectiveInterval()),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.platform", newCfg.Delivery.EffectivePlatform()),
			logx.Bool("delivery.group_set", strings.TrimSpace(newCfg.Delivery.GroupID) != ""),
			logx.Duration("delivery.send_spacing", newCfg.Delivery.EffectiveSendSpacing()),
		)
	}

	if oldCfg.Enrich != newCfg.Enrich {
		changed = append(changed, "enrich")
		attrs = append(attrs,
			logx.Duration("enrich.cache_ttl", newCfg.Enrich.EffectiveCacheTTL()),
			logx.Bool("enrich.game_ai_analyze", newCfg.Enrich.GameAIAnalyze),
		)
	}

	if oldCfg.Render != newCfg.Render {
		changed = append(changed, "render")
		attrs = append(attrs,
			logx.Bool("render.service_set", strings.TrimSpace(newCfg.Render.ServiceURL) != ""),
			logx.Duration("render.timeout", newCfg.Render.EffectiveTimeout()),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Transports, newCfg.Transports) {
		changed = append(changed, "transports")
		attrs = append(attrs,
			logx.Bool("transports.telegram", newCfg.Transports.Telegram != nil),
			logx.Bool("transports.onebot", newCfg.Transports.OneBot != nil),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
