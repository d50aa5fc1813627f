package config

import (
	"errors"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
)

func parseEnv(t *testing.T, vars map[string]string) (*Config, error) {
	t.Helper()
	return parse(env.Options{Environment: vars})
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := parseEnv(t, map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("port: got %d, want 8080", cfg.Port)
	}
	if cfg.StoreDriver != StorePostgres {
		t.Errorf("store driver: got %s", cfg.StoreDriver)
	}
	if cfg.SendTimeout != 10*time.Second {
		t.Errorf("send timeout: got %s", cfg.SendTimeout)
	}
	if cfg.SQSRegion != "us-east-1" || cfg.SNSRegion != "us-east-1" {
		t.Errorf("regions should fall back to AWS_REGION, got sqs=%s sns=%s", cfg.SQSRegion, cfg.SNSRegion)
	}
	if cfg.Mongo.Database != "herald" {
		t.Errorf("mongo database: got %s", cfg.Mongo.Database)
	}
	if h, m, err := cfg.DailyBatchTime(); err != nil || h != -1 || m != -1 {
		t.Errorf("daily batch time should be unset, got %d:%d (%v)", h, m, err)
	}
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := parseEnv(t, map[string]string{
		"PORT":               "9090",
		"STORE_DRIVER":       "mongo",
		"MONGODB_URL":        "mongodb://mongo:27017",
		"AWS_REGION":         "eu-west-1",
		"SNS_REGION":         "us-west-2",
		"FANOUT_CONCURRENCY": "16",
		"BATCH_DAILY_AT":     "09:00",
		"RATE_LIMIT":         "10",
		"RATE_LIMIT_WINDOW":  "30s",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("port: got %d", cfg.Port)
	}
	if cfg.Mongo.URL != "mongodb://mongo:27017" {
		t.Errorf("mongo url: got %s", cfg.Mongo.URL)
	}
	if cfg.SQSRegion != "eu-west-1" {
		t.Errorf("sqs region: got %s, want eu-west-1", cfg.SQSRegion)
	}
	if cfg.SNSRegion != "us-west-2" {
		t.Errorf("sns region: got %s, want us-west-2", cfg.SNSRegion)
	}
	if h, m, err := cfg.DailyBatchTime(); err != nil || h != 9 || m != 0 {
		t.Errorf("daily batch time: got %d:%d (%v)", h, m, err)
	}

	rl := cfg.RateLimitConfig()
	if rl.Limit != 10 || rl.Window != 30*time.Second {
		t.Errorf("rate limit: got %+v", rl)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"unknown store driver", map[string]string{"STORE_DRIVER": "sqlite"}},
		{"zero concurrency", map[string]string{"FANOUT_CONCURRENCY": "0"}},
		{"bad daily time", map[string]string{"BATCH_DAILY_AT": "9am"}},
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"zero rate limit", map[string]string{"RATE_LIMIT": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseEnv(t, tt.vars)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := parseEnv(t, map[string]string{"DB_PORT": "not-a-number"})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPostgresConfig(t *testing.T) {
	cfg, err := parseEnv(t, map[string]string{"DB_HOST": "db", "DB_NAME": "notify"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pg := cfg.Postgres()
	if pg.Host != "db" || pg.Database != "notify" || pg.Port != 5432 {
		t.Errorf("postgres config: got %+v", pg)
	}
}
