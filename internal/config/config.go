// Package config loads process configuration from the environment, once at
// startup. There is no settings file and no reload path; a restart picks up
// changes.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/clipreach/downorch/internal/constants"
)

// Config holds every environment-derived setting the orchestrator needs.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on, e.g. ":8080".
	HTTPAddr string

	// RedisAddr, RedisPassword, RedisDB, KeyPrefix configure the KV Store
	// Gateway.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	// DownloadRoot is the filesystem root files are produced under, laid
	// out as <sanitized author>/<task id>_<sanitized title>.<ext>.
	DownloadRoot string

	// FFmpegPath and FFprobePath locate the external media tool the media
	// pipeline shells out to.
	FFmpegPath  string
	FFprobePath string

	// LockTTL bounds how long a crashed lock holder can wedge a user's
	// single-flight slot; MetaCacheTTL bounds the metadata cache.
	LockTTL      time.Duration
	MetaCacheTTL time.Duration

	// WorkerCount is the number of worker goroutines dequeuing task ids;
	// JobTimeout is the advisory per-task upper bound.
	WorkerCount int
	JobTimeout  time.Duration

	// HistoryLimit is the max number of task ids kept per user.
	HistoryLimit int

	// Pretty selects console-pretty logging over structured JSON.
	Pretty bool

	// AllowedOrigins lists the CORS origins permitted to call the HTTP API.
	AllowedOrigins []string

	// VKSessionToken and InstagramSessionID carry provider credentials for
	// scraping paths that require an authenticated session. Never logged.
	VKSessionToken     string
	InstagramSessionID string
}

// Load reads configuration from the process environment, applying the same
// defaults a fresh install would get.
func Load() *Config {
	return &Config{
		HTTPAddr:      getEnv("DOWNORCH_HTTP_ADDR", ":8080"),
		RedisAddr:     getEnv("DOWNORCH_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("DOWNORCH_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("DOWNORCH_REDIS_DB", 0),
		KeyPrefix:     getEnv("DOWNORCH_KEY_PREFIX", "downorch"),
		DownloadRoot:  getEnv("DOWNORCH_DOWNLOAD_ROOT", "./data/downloads"),
		FFmpegPath:    getEnv("DOWNORCH_FFMPEG_PATH", "ffmpeg"),
		FFprobePath:   getEnv("DOWNORCH_FFPROBE_PATH", "ffprobe"),
		LockTTL:       getEnvDuration("DOWNORCH_LOCK_TTL", time.Hour),
		MetaCacheTTL:  getEnvDuration("DOWNORCH_META_CACHE_TTL", 10*time.Minute),
		WorkerCount:   getEnvInt("DOWNORCH_WORKER_COUNT", constants.DefaultWorkerCount),
		JobTimeout:    getEnvDuration("DOWNORCH_JOB_TIMEOUT", constants.DownloadTimeout),
		HistoryLimit:  getEnvInt("DOWNORCH_HISTORY_LIMIT", constants.DefaultHistoryLimit),
		Pretty:        getEnv("DOWNORCH_ENV", "prod") == "dev",

		AllowedOrigins: strings.Split(getEnv("DOWNORCH_ALLOWED_ORIGINS", "*"), ","),

		VKSessionToken:     os.Getenv("DOWNORCH_VK_SESSION_TOKEN"),
		InstagramSessionID: os.Getenv("DOWNORCH_INSTAGRAM_SESSIONID"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
