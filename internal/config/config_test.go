package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.APIVersion != "v1" {
		t.Errorf("APIVersion = %s, want v1", cfg.APIVersion)
	}
	if cfg.SubmitConcurrency != 8 {
		t.Errorf("SubmitConcurrency = %d, want 8", cfg.SubmitConcurrency)
	}
	if cfg.DirectoryTimeout != 10*time.Second {
		t.Errorf("DirectoryTimeout = %v, want 10s", cfg.DirectoryTimeout)
	}
	if cfg.ResolveTimeout != 0 {
		t.Errorf("ResolveTimeout = %v, want none", cfg.ResolveTimeout)
	}
	if cfg.RateLimit != 100 {
		t.Errorf("RateLimit = %d, want 100", cfg.RateLimit)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("SNS_REGION", "af-south-1")
	t.Setenv("RESOLVE_TIMEOUT", "30")
	t.Setenv("SMS_RATE_PER_SEC", "2.5")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ALERT_EVENTS_TOPIC_ARN", "arn:aws:sns:af-south-1:123:alert-events")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.SQSRegion != "eu-west-1" {
		t.Errorf("SQSRegion = %s, want fallback to AWS_REGION", cfg.SQSRegion)
	}
	if cfg.SNSRegion != "af-south-1" {
		t.Errorf("SNSRegion = %s, want af-south-1", cfg.SNSRegion)
	}
	if cfg.ResolveTimeout != 30*time.Second {
		t.Errorf("ResolveTimeout = %v, want 30s", cfg.ResolveTimeout)
	}
	if cfg.SMSRatePerSecond != 2.5 {
		t.Errorf("SMSRatePerSecond = %v, want 2.5", cfg.SMSRatePerSecond)
	}
	if cfg.JWTSecret != "s3cret" {
		t.Errorf("JWTSecret not loaded")
	}
	if cfg.AlertEventsTopicARN != "arn:aws:sns:af-south-1:123:alert-events" {
		t.Errorf("AlertEventsTopicARN = %s", cfg.AlertEventsTopicARN)
	}
}

func TestLoadInvalidInteger(t *testing.T) {
	tests := []string{"PORT", "DB_PORT", "WORKER_BATCH_SIZE", "WORKER_POLL_INTERVAL", "SMS_RATE_PER_SEC"}

	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(key, "lots")

			if _, err := Load(); err == nil {
				t.Errorf("expected error for invalid %s", key)
			}
		})
	}
}
