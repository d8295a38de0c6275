package app

import (
	"testing"
	"time"

	"hookrelay/internal/config"
)

func TestDeliverySettingsDefaults(t *testing.T) {
	cfg := &config.Config{}
	s := deliverySettings(cfg)
	if s.Platform != "auto" {
		t.Fatalf("platform = %q, want auto", s.Platform)
	}
	if s.GroupID != "" {
		t.Fatalf("group = %q, want empty", s.GroupID)
	}
	if s.SenderID != config.DefaultSenderID || s.SenderName != config.DefaultSenderName {
		t.Fatalf("sender = %q/%q", s.SenderID, s.SenderName)
	}
	if s.Spacing != 500*time.Millisecond {
		t.Fatalf("spacing = %v", s.Spacing)
	}
}

func TestPipelineSettingsTargetGate(t *testing.T) {
	cfg := &config.Config{}
	if s := pipelineSettings(cfg); s.TargetConfigured {
		t.Fatal("empty group should leave target unconfigured")
	}
	cfg.Delivery.GroupID = "  123456  "
	s := pipelineSettings(cfg)
	if !s.TargetConfigured {
		t.Fatal("group set, target should be configured")
	}
	if s.MinSize != config.DefaultMinSize {
		t.Fatalf("min size = %d, want %d", s.MinSize, config.DefaultMinSize)
	}
}

func TestRoutesForCoversAllCategories(t *testing.T) {
	cfg := &config.Config{}
	routes := routesFor(cfg)
	want := map[string]string{
		config.CategoryMedia:  "/media-webhook",
		config.CategoryGame:   "/game-webhook",
		config.CategoryCommon: "/webhook",
	}
	for cat, path := range want {
		got := routes[cat]
		if len(got) != 1 || got[0] != path {
			t.Fatalf("routes[%s] = %v, want [%s]", cat, got, path)
		}
	}
}

func TestEqualRoutes(t *testing.T) {
	a := map[string][]string{"media": {"/a", "/b"}}
	b := map[string][]string{"media": {"/a", "/b"}}
	if !equalRoutes(a, b) {
		t.Fatal("identical route maps compared unequal")
	}
	b["media"] = []string{"/a"}
	if equalRoutes(a, b) {
		t.Fatal("different route maps compared equal")
	}
	if equalRoutes(a, map[string][]string{"game": {"/a", "/b"}}) {
		t.Fatal("different categories compared equal")
	}
}
