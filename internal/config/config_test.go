package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Queue.Workers != 2 {
		t.Errorf("queue workers %d", cfg.Queue.Workers)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("max retries %d", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.BaseBackoff != 5*time.Second {
		t.Errorf("base backoff %v", cfg.Queue.BaseBackoff)
	}
	if cfg.PACS.Port != 104 || cfg.PACS.CallingAE != "CAPTURE_GW" {
		t.Errorf("pacs defaults %+v", cfg.PACS)
	}
	if cfg.Encoder.MaxVideoFrames != 600 {
		t.Errorf("max video frames %d", cfg.Encoder.MaxVideoFrames)
	}
	if cfg.Worklist.TTL != 15*time.Minute {
		t.Errorf("worklist ttl %v", cfg.Worklist.TTL)
	}
	if cfg.Database.HistoryRetention != 90*24*time.Hour {
		t.Errorf("history retention %v", cfg.Database.HistoryRetention)
	}
	if cfg.Database.PurgeInterval != 24*time.Hour {
		t.Errorf("purge interval %v", cfg.Database.PurgeInterval)
	}
	if cfg.Cache.CleanupInterval != time.Minute {
		t.Errorf("cache cleanup interval %v", cfg.Cache.CleanupInterval)
	}
	if len(cfg.EmergencyTemplates) == 0 {
		t.Error("no emergency templates")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration invalid: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "4")
	t.Setenv("QUEUE_BASE_BACKOFF", "250ms")
	t.Setenv("PACS_CALLED_AE", "HOSPITAL_PACS")
	t.Setenv("CACHE_TYPE", "redis")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Queue.Workers != 4 {
		t.Errorf("queue workers %d", cfg.Queue.Workers)
	}
	if cfg.Queue.BaseBackoff != 250*time.Millisecond {
		t.Errorf("base backoff %v", cfg.Queue.BaseBackoff)
	}
	if cfg.PACS.CalledAE != "HOSPITAL_PACS" {
		t.Errorf("called AE %q", cfg.PACS.CalledAE)
	}
	if cfg.Cache.Type != "redis" {
		t.Errorf("cache type %q", cfg.Cache.Type)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, _ := Load()
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty pacs host", func(c *Config) { c.PACS.Host = "" }},
		{"bad pacs port", func(c *Config) { c.PACS.Port = 0 }},
		{"empty called ae", func(c *Config) { c.PACS.CalledAE = "" }},
		{"overlong ae title", func(c *Config) { c.PACS.CalledAE = "THIS_AE_TITLE_IS_TOO_LONG" }},
		{"zero workers", func(c *Config) { c.Queue.Workers = 0 }},
		{"negative retries", func(c *Config) { c.Queue.MaxRetries = -1 }},
		{"zero frame cap", func(c *Config) { c.Encoder.MaxVideoFrames = 0 }},
		{"unknown cache", func(c *Config) { c.Cache.Type = "memcached" }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := base()
			c.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEmergencyTemplateBirthDates(t *testing.T) {
	cfg, _ := Load()
	for _, tpl := range cfg.EmergencyTemplates {
		ctx := tpl.Resolve(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
		if err := ctx.Validate(); err != nil {
			t.Errorf("template %s resolves to invalid context: %v", tpl.ID, err)
		}
		if len(ctx.BirthDate) != 8 {
			t.Errorf("template %s birth date %q not YYYYMMDD", tpl.ID, ctx.BirthDate)
		}
	}
}
