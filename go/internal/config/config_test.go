package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BROKER", "")
	t.Setenv("TYPING_CONFIG", "")
	t.Setenv("ROOM_SIGNING_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BrokerMemory, cfg.Broker)
	assert.Equal(t, 12*time.Hour, cfg.TicketTTL)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 250*time.Millisecond, cfg.Room.Throttle)
	assert.Equal(t, 3*time.Second, cfg.Room.StartLead)
	assert.Empty(t, cfg.SigningSecret)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BROKER", "NATS")
	t.Setenv("TEACHER_TICKET_TTL", "30m")
	t.Setenv("ROOM_MAX_PLAYERS", "12")
	t.Setenv("ROOM_WORD_COUNT", "not-a-number")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test ,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BrokerNATS, cfg.Broker)
	assert.Equal(t, 30*time.Minute, cfg.TicketTTL)
	assert.Equal(t, 12, cfg.Room.MaxPlayers)
	assert.Equal(t, 20, cfg.Room.WordCount)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("BOT_ACCURACY", "0.75")
	t.Setenv("BOT_TYPE_DELAY", "-5s")
	t.Setenv("ROOM_START_LEAD", "0s")
	t.Setenv("PLAYER_NAME", "")
	t.Setenv("BROKER", "")
	t.Setenv("TYPING_CONFIG", "")

	assert.Equal(t, 0.75, GetEnvAsFloat("BOT_ACCURACY", 0.9))
	assert.Equal(t, 800*time.Millisecond, GetEnvAsDuration("BOT_TYPE_DELAY", 800*time.Millisecond))
	assert.Equal(t, "Bot", GetEnv("PLAYER_NAME", "Bot"))

	t.Setenv("BOT_ACCURACY", "most")
	assert.Equal(t, 0.9, GetEnvAsFloat("BOT_ACCURACY", 0.9))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Room.StartLead)
}

func TestLoadRejectsUnknownBroker(t *testing.T) {
	t.Setenv("BROKER", "kafka")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadMergesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typing.yaml")
	body := `
room:
  default_words: ["貓", "狗"]
  word_count: 8
  throttle: 100ms
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("BROKER", "")
	t.Setenv("TYPING_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"貓", "狗"}, cfg.Room.Words)
	assert.Equal(t, 8, cfg.Room.WordCount)
	assert.Equal(t, 100*time.Millisecond, cfg.Room.Throttle)
	assert.Equal(t, 50, cfg.Room.MaxPlayers)
}

func TestLoadMissingYAML(t *testing.T) {
	t.Setenv("BROKER", "")
	t.Setenv("TYPING_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
