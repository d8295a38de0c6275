package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json", `{
		"webhook": {
			"port": 8080,
			"token": "secret",
			"routes": {"media": ["media-webhook", "/mediahook"]},
			"templates": {"game": "game_modern.html"}
		},
		"batch": {"min_size": 5, "interval": "90s"},
		"delivery": {"group_id": "123456", "platform": "napcat"},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"transports": {"onebot": {"endpoint": "http://127.0.0.1:3000"}}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.Webhook.EffectivePort(); got != 8080 {
		t.Errorf("port = %d, want 8080", got)
	}
	routes := cfg.Webhook.RoutesFor(CategoryMedia)
	if len(routes) != 2 || routes[0] != "/media-webhook" || routes[1] != "/mediahook" {
		t.Errorf("media routes = %v, want normalized leading slashes", routes)
	}
	if got := cfg.Webhook.TemplateFor(CategoryGame); got != "game_modern" {
		t.Errorf("game template = %q, want .html suffix stripped", got)
	}
	if got := cfg.Batch.EffectiveInterval(); got != 90*time.Second {
		t.Errorf("interval = %v, want 90s", got)
	}
	if got := cfg.Delivery.EffectivePlatform(); got != "napcat" {
		t.Errorf("platform = %q", got)
	}
	if m.Get() != cfg {
		t.Error("Get() did not return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", strings.Join([]string{
		"webhook:",
		"  port: 60071",
		"batch:",
		"  interval: 5m",
		"delivery:",
		"  group_id: \"987\"",
		"logging:",
		"  level: info",
		"  console: true",
		"  file:",
		"    enabled: false",
		"    path: \"\"",
		"transports: {}",
	}, "\n"))

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load yaml: %v", err)
	}
	if cfg.Webhook.EffectivePort() != 60071 {
		t.Errorf("port = %d", cfg.Webhook.EffectivePort())
	}
	if cfg.Delivery.GroupID != "987" {
		t.Errorf("group_id = %q", cfg.Delivery.GroupID)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.json", `{"webhook": {"port": 1, "bogus": true}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	if got := cfg.Webhook.EffectivePort(); got != DefaultPort {
		t.Errorf("default port = %d, want %d", got, DefaultPort)
	}
	if got := cfg.Batch.EffectiveMinSize(); got != DefaultMinSize {
		t.Errorf("default min_size = %d, want %d", got, DefaultMinSize)
	}
	if got := cfg.Batch.EffectiveInterval(); got != DefaultInterval {
		t.Errorf("default interval = %v, want %v", got, DefaultInterval)
	}
	if got := cfg.Delivery.EffectiveSenderID(); got != DefaultSenderID {
		t.Errorf("default sender_id = %q", got)
	}
	if got := cfg.Delivery.EffectiveSendSpacing(); got != DefaultSendSpacing {
		t.Errorf("default send_spacing = %v", got)
	}
	if got := cfg.Webhook.RoutesFor(CategoryCommon); len(got) != 1 || got[0] != "/webhook" {
		t.Errorf("default common routes = %v", got)
	}
	if got := cfg.Webhook.TemplateFor(CategoryMedia); got != "media_news" {
		t.Errorf("default media template = %q", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"empty ok", func(*Config) {}, false},
		{"port too high", func(c *Config) { c.Webhook.Port = 70000 }, true},
		{"port zero ok", func(c *Config) { c.Webhook.Port = 0 }, false},
		{"negative min size", func(c *Config) { c.Batch.MinSize = -1 }, true},
		{"bad interval", func(c *Config) { c.Batch.Interval = "five minutes" }, true},
		{"unknown route category", func(c *Config) {
			c.Webhook.Routes = map[string][]string{"video": {"/v"}}
		}, true},
		{"unknown storage driver", func(c *Config) {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}, true},
		{"telegram without token", func(c *Config) {
			c.Transports.Telegram = &TelegramConfig{}
		}, true},
		{"onebot without endpoint", func(c *Config) {
			c.Transports.OneBot = &OneBotConfig{}
		}, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{}
	newCfg := &Config{
		Batch:    BatchConfig{MinSize: 10},
		Delivery: DeliveryConfig{GroupID: "42"},
	}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 2 || changed[0] != "batch" || changed[1] != "delivery" {
		t.Fatalf("changed = %v, want [batch delivery]", changed)
	}

	same, _ := SummarizeConfigChange(newCfg, newCfg)
	if len(same) != 0 {
		t.Fatalf("identical configs reported changes: %v", same)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()

	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg := &Config{Delivery: DeliveryConfig{GroupID: "1"}}
	m.Commit(cfg)
	m.publish(cfg)

	select {
	case got := <-ch:
		if got.Delivery.GroupID != "1" {
			t.Fatalf("published group_id = %q", got.Delivery.GroupID)
		}
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}

	// A slow subscriber keeps only the newest update.
	m.publish(&Config{Delivery: DeliveryConfig{GroupID: "2"}})
	m.publish(&Config{Delivery: DeliveryConfig{GroupID: "3"}})
	got := <-ch
	if got.Delivery.GroupID != "3" {
		t.Fatalf("slow subscriber got %q, want newest", got.Delivery.GroupID)
	}
}
