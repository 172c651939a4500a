package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q, want %q", cfg.RedisAddr, "localhost:6379")
	}
	if cfg.KeyPrefix != "downorch" {
		t.Errorf("KeyPrefix = %q, want %q", cfg.KeyPrefix, "downorch")
	}
	if cfg.LockTTL != time.Hour {
		t.Errorf("LockTTL = %v, want %v", cfg.LockTTL, time.Hour)
	}
	if cfg.JobTimeout != time.Hour {
		t.Errorf("JobTimeout = %v, want %v", cfg.JobTimeout, time.Hour)
	}
	if cfg.WorkerCount != 3 {
		t.Errorf("WorkerCount = %d, want %d", cfg.WorkerCount, 3)
	}
	if cfg.HistoryLimit != 6 {
		t.Errorf("HistoryLimit = %d, want %d", cfg.HistoryLimit, 6)
	}
	if cfg.Pretty {
		t.Error("Pretty should default to false outside DOWNORCH_ENV=dev")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DOWNORCH_HTTP_ADDR", ":9090")
	t.Setenv("DOWNORCH_REDIS_ADDR", "redis:6380")
	t.Setenv("DOWNORCH_REDIS_DB", "2")
	t.Setenv("DOWNORCH_LOCK_TTL", "2h")
	t.Setenv("DOWNORCH_WORKER_COUNT", "8")
	t.Setenv("DOWNORCH_ENV", "dev")

	cfg := Load()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.RedisAddr != "redis:6380" {
		t.Errorf("RedisAddr = %q, want %q", cfg.RedisAddr, "redis:6380")
	}
	if cfg.RedisDB != 2 {
		t.Errorf("RedisDB = %d, want %d", cfg.RedisDB, 2)
	}
	if cfg.LockTTL != 2*time.Hour {
		t.Errorf("LockTTL = %v, want %v", cfg.LockTTL, 2*time.Hour)
	}
	if cfg.WorkerCount != 8 {
		t.Errorf("WorkerCount = %d, want %d", cfg.WorkerCount, 8)
	}
	if !cfg.Pretty {
		t.Error("Pretty should be true when DOWNORCH_ENV=dev")
	}
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("DOWNORCH_WORKER_COUNT", "not-a-number")

	cfg := Load()
	if cfg.WorkerCount != 3 {
		t.Errorf("WorkerCount = %d, want default %d on invalid input", cfg.WorkerCount, 3)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	t.Setenv("DOWNORCH_LOCK_TTL", "not-a-duration")

	cfg := Load()
	if cfg.LockTTL != time.Hour {
		t.Errorf("LockTTL = %v, want default %v on invalid input", cfg.LockTTL, time.Hour)
	}
}

func TestLoad_ProviderCredentialsFromEnv(t *testing.T) {
	t.Setenv("DOWNORCH_VK_SESSION_TOKEN", "vk-token-abc")
	t.Setenv("DOWNORCH_INSTAGRAM_SESSIONID", "ig-session-xyz")

	cfg := Load()
	if cfg.VKSessionToken != "vk-token-abc" {
		t.Errorf("VKSessionToken = %q, want %q", cfg.VKSessionToken, "vk-token-abc")
	}
	if cfg.InstagramSessionID != "ig-session-xyz" {
		t.Errorf("InstagramSessionID = %q, want %q", cfg.InstagramSessionID, "ig-session-xyz")
	}
}
