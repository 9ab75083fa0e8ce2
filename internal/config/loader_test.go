package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/gameday-live/arena/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.MaxConcurrency, convey.ShouldEqual, 5)
				convey.So(cfg.ScoringTimeout, convey.ShouldEqual, 2*time.Minute)
				convey.So(cfg.RetryAttempts, convey.ShouldEqual, 3)
				convey.So(cfg.MaxSessions, convey.ShouldEqual, 10)
				convey.So(cfg.ScoringInterval, convey.ShouldEqual, 30*time.Second)
				convey.So(cfg.LockRetries, convey.ShouldEqual, 10)
				convey.So(cfg.LockRetryInterval, convey.ShouldEqual, 100*time.Millisecond)
				convey.So(cfg.PostgresDSN, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("ARENA_ADDR", ":8080")
			_ = os.Setenv("ARENA_MAX_CONCURRENCY", "12")
			_ = os.Setenv("ARENA_SCORING_TIMEOUT", "45s")
			_ = os.Setenv("ARENA_MAX_SESSIONS", "3")
			_ = os.Setenv("ARENA_SCORING_INTERVAL", "10s")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.MaxConcurrency, convey.ShouldEqual, 12)
				convey.So(cfg.ScoringTimeout, convey.ShouldEqual, 45*time.Second)
				convey.So(cfg.MaxSessions, convey.ShouldEqual, 3)
				convey.So(cfg.ScoringInterval, convey.ShouldEqual, 10*time.Second)
				// Untouched fields keep their defaults.
				convey.So(cfg.RetryAttempts, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":7070"
max_concurrency: 8
retry_attempts: 5
retry_delay: "2s"
max_sessions: 4
lock_retries: 20
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("ARENA_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.MaxConcurrency, convey.ShouldEqual, 8)
				convey.So(cfg.RetryAttempts, convey.ShouldEqual, 5)
				convey.So(cfg.RetryDelay, convey.ShouldEqual, 2*time.Second)
				convey.So(cfg.MaxSessions, convey.ShouldEqual, 4)
				convey.So(cfg.LockRetries, convey.ShouldEqual, 20)
			})

			convey.Convey("And env vars still win over the file", func() {
				_ = os.Setenv("ARENA_ADDR", ":6060")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":6060")
				convey.So(cfg.MaxConcurrency, convey.ShouldEqual, 8)
			})
		})

		convey.Convey("When the config file is missing", func() {
			clearConfigEnvVars()
			_ = os.Setenv("ARENA_CONFIG", "/nonexistent/arena.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should fail with a load error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When configuration is invalid", func() {
			clearConfigEnvVars()
			_ = os.Setenv("ARENA_MAX_CONCURRENCY", "0")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should fail validation", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func clearConfigEnvVars() {
	vars := []string{
		"ARENA_CONFIG",
		"ARENA_LOG_LEVEL",
		"ARENA_ADDR",
		"ARENA_POSTGRES_DSN",
		"ARENA_MAX_CONCURRENCY",
		"ARENA_SCORING_TIMEOUT",
		"ARENA_RETRY_ATTEMPTS",
		"ARENA_RETRY_DELAY",
		"ARENA_MAX_SESSIONS",
		"ARENA_SCORING_INTERVAL",
		"ARENA_LOCK_RETRIES",
		"ARENA_LOCK_RETRY_INTERVAL",
		"ARENA_TX_TIMEOUT",
	}
	for _, v := range vars {
		_ = os.Unsetenv(v)
	}
}

func createTempConfigFile(content string) string {
	f, err := os.CreateTemp("", "arena-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := f.WriteString(content); err != nil {
		panic(err)
	}
	if err := f.Close(); err != nil {
		panic(err)
	}
	return f.Name()
}
