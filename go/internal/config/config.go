package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Broker kinds accepted by BROKER.
const (
	BrokerMemory = "memory"
	BrokerNATS   = "nats"
)

// Config holds process settings shared by the API server, the headless
// teacher and the student bot.
type Config struct {
	Port           string
	APIURL         string
	NATSURL        string
	Broker         string
	SigningSecret  string
	TokenSecret    string
	TicketTTL      time.Duration
	TokenTTL       time.Duration
	AllowedOrigins []string
	LogLevel       string
	Room           RoomDefaults
}

// RoomDefaults seeds new rooms. Values can be overridden by the yaml file
// named in TYPING_CONFIG.
type RoomDefaults struct {
	Words            []string      `yaml:"default_words"`
	WordCount        int           `yaml:"word_count"`
	MaxPlayers       int           `yaml:"max_players"`
	RoundDurationSec int           `yaml:"round_duration_sec"`
	SpeedLevel       int           `yaml:"speed_level"`
	Throttle         time.Duration `yaml:"throttle"`
	StartLead        time.Duration `yaml:"start_lead"`
}

type fileConfig struct {
	Room RoomDefaults `yaml:"room"`
}

// Load reads TYPING_* / service environment variables (with defaults) and
// merges the optional yaml file on top of the room defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           GetEnv("PORT", "8080"),
		APIURL:         GetEnv("API_URL", "http://localhost:8080"),
		NATSURL:        GetEnv("NATS_URL", "nats://localhost:4222"),
		Broker:         strings.ToLower(GetEnv("BROKER", BrokerMemory)),
		SigningSecret:  os.Getenv("ROOM_SIGNING_SECRET"),
		TokenSecret:    os.Getenv("REALTIME_TOKEN_SECRET"),
		TicketTTL:      GetEnvAsDuration("TEACHER_TICKET_TTL", 12*time.Hour),
		TokenTTL:       GetEnvAsDuration("REALTIME_TOKEN_TTL", time.Hour),
		AllowedOrigins: splitList(GetEnv("ALLOWED_ORIGINS", "*")),
		LogLevel:       GetEnv("LOG_LEVEL", "info"),
		Room: RoomDefaults{
			WordCount:        GetEnvAsInt("ROOM_WORD_COUNT", 20),
			MaxPlayers:       GetEnvAsInt("ROOM_MAX_PLAYERS", 50),
			RoundDurationSec: GetEnvAsInt("ROOM_ROUND_DURATION_SEC", 120),
			SpeedLevel:       GetEnvAsInt("ROOM_SPEED_LEVEL", 2),
			Throttle:         GetEnvAsDuration("ROOM_STATE_THROTTLE", 250*time.Millisecond),
			StartLead:        GetEnvAsDuration("ROOM_START_LEAD", 3*time.Second),
		},
	}

	switch cfg.Broker {
	case BrokerMemory, BrokerNATS:
	default:
		return nil, fmt.Errorf("unknown BROKER %q", cfg.Broker)
	}

	if path := os.Getenv("TYPING_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	r := fc.Room
	if len(r.Words) > 0 {
		c.Room.Words = r.Words
	}
	if r.WordCount > 0 {
		c.Room.WordCount = r.WordCount
	}
	if r.MaxPlayers > 0 {
		c.Room.MaxPlayers = r.MaxPlayers
	}
	if r.RoundDurationSec > 0 {
		c.Room.RoundDurationSec = r.RoundDurationSec
	}
	if r.SpeedLevel > 0 {
		c.Room.SpeedLevel = r.SpeedLevel
	}
	if r.Throttle > 0 {
		c.Room.Throttle = r.Throttle
	}
	if r.StartLead > 0 {
		c.Room.StartLead = r.StartLead
	}
	return nil
}

// SetupLogging installs the console writer and the global level.
func SetupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// GetEnv returns the variable's value, or defaultValue when it is unset or
// empty. The GetEnvAs helpers also fall back when the value does not parse.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration also rejects zero and negative durations.
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
