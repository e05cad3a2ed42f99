package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		require.Equal(t, 30, cfg.TickRate)
		require.Equal(t, "websocket", cfg.Transport)
		require.Equal(t, "lobby", cfg.DefaultRoom)
		require.Equal(t, time.Second/30, cfg.TickInterval())
		require.Zero(t, cfg.RoomReapInterval)
	})

	t.Run("YAML File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"tick_rate: 60\nredis_url: redis://localhost:6379\ncors_origin: https://game.example.com\n"), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, 60, cfg.TickRate)
		require.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		require.Equal(t, "https://game.example.com", cfg.CORSOrigin)
	})

	t.Run("Missing File Is Fine", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		require.Equal(t, 30, cfg.TickRate)
	})

	t.Run("Environment Overrides", func(t *testing.T) {
		t.Setenv("AETHER_TICK_RATE", "20")
		t.Setenv("AETHER_LISTEN_ADDR", "0.0.0.0:9000")
		t.Setenv("AETHER_ROOM_REAP_INTERVAL", "5m")

		cfg, err := Load("")
		require.NoError(t, err)
		require.Equal(t, 20, cfg.TickRate)
		require.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
		require.Equal(t, 5*time.Minute, cfg.RoomReapInterval)
	})
}

func TestValidate(t *testing.T) {
	t.Run("Bad Tick Rate", func(t *testing.T) {
		cfg := Default()
		cfg.TickRate = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("Bad Transport", func(t *testing.T) {
		cfg := Default()
		cfg.Transport = "carrier-pigeon"
		require.Error(t, cfg.Validate())
	})

	t.Run("QUIC Needs TLS", func(t *testing.T) {
		cfg := Default()
		cfg.Transport = "quic"
		require.Error(t, cfg.Validate())

		cfg.TLSCertFile = "cert.pem"
		cfg.TLSKeyFile = "key.pem"
		require.NoError(t, cfg.Validate())
	})
}
