package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "SQLITE_PATH", "REDIS_URL", "NATS_URL",
		"REALTIME_BROKER", "NOTIFICATION_LIMIT", "HISTORY_TIMEOUT",
		"SUBSCRIBE_TIMEOUT", "MARK_READ_ON_CLICK", "RATE_LIMIT_PER_MINUTE",
		"RATE_LIMIT_WHITELIST",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg := fromEnv()

	if cfg.Port != "8080" || !cfg.IsDevelopment() {
		t.Errorf("Port=%q Env=%q", cfg.Port, cfg.Env)
	}
	if cfg.Broker != BrokerMemory {
		t.Errorf("Broker = %q, want memory", cfg.Broker)
	}
	if cfg.NotificationLimit != 5 {
		t.Errorf("NotificationLimit = %d, want 5", cfg.NotificationLimit)
	}
	if cfg.HistoryTimeout != 5*time.Second || cfg.SubscribeTimeout != 5*time.Second {
		t.Errorf("timeouts = %v, %v", cfg.HistoryTimeout, cfg.SubscribeTimeout)
	}
	if cfg.MarkReadOnClick {
		t.Error("MarkReadOnClick should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("NOTIFICATION_LIMIT", "10")
	t.Setenv("SUBSCRIBE_TIMEOUT", "250ms")
	t.Setenv("HISTORY_TIMEOUT", "soon")
	t.Setenv("MARK_READ_ON_CLICK", "true")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, ,127.0.0.1")
	cfg := fromEnv()

	if cfg.NotificationLimit != 10 {
		t.Errorf("NotificationLimit = %d", cfg.NotificationLimit)
	}
	if cfg.SubscribeTimeout != 250*time.Millisecond {
		t.Errorf("SubscribeTimeout = %v", cfg.SubscribeTimeout)
	}
	if cfg.HistoryTimeout != 5*time.Second {
		t.Errorf("unparsable HISTORY_TIMEOUT gave %v", cfg.HistoryTimeout)
	}
	if !cfg.MarkReadOnClick {
		t.Error("MarkReadOnClick not set")
	}
	if len(cfg.RateLimitWhitelist) != 2 {
		t.Errorf("whitelist = %v", cfg.RateLimitWhitelist)
	}
}

func TestBrokerSelection(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		want   string
		wantOK bool
	}{
		{"redis url", map[string]string{"REDIS_URL": "redis://localhost:6379"}, BrokerRedis, true},
		{"nats wins", map[string]string{"REDIS_URL": "redis://x", "NATS_URL": "nats://x"}, BrokerNATS, true},
		{"explicit memory", map[string]string{"REDIS_URL": "redis://x", "REALTIME_BROKER": "memory"}, BrokerMemory, true},
		{"redis without url", map[string]string{"REALTIME_BROKER": "redis"}, BrokerRedis, false},
		{"unknown", map[string]string{"REALTIME_BROKER": "kafka"}, "kafka", false},
		{"production memory", map[string]string{"ENV": "production", "DATABASE_URL": "postgres://x"}, BrokerMemory, false},
		{"production without database", map[string]string{"ENV": "production", "NATS_URL": "nats://x"}, BrokerNATS, false},
		{"production", map[string]string{"ENV": "production", "DATABASE_URL": "postgres://x", "NATS_URL": "nats://x"}, BrokerNATS, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := fromEnv()
			if cfg.Broker != tt.want {
				t.Errorf("Broker = %q, want %q", cfg.Broker, tt.want)
			}
			if err := cfg.Validate(); (err == nil) != tt.wantOK {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.wantOK)
			}
		})
	}
}
