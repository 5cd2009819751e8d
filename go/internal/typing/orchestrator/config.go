package orchestrator

import (
	"time"

	"github.com/mcdev12/typingblocks/go/internal/typing/events"
)

const (
	MinWordCount        = 5
	MaxWordCount        = 60
	MinRoundDurationSec = 60
	MaxRoundDurationSec = 600
	MaxNameLength       = 20
	MaxPlayerIDLength   = 64
)

// DefaultWords is the starter list a new room is seeded with.
var DefaultWords = []string{
	"蘋果", "香蕉", "老師", "學生", "閱讀",
	"寫字", "快樂", "學習", "電腦", "網路",
	"漢字", "詞語", "句子", "段落", "語法",
	"課本", "考試", "練習", "專心", "努力",
}

// Config holds room defaults and broadcast timing.
type Config struct {
	Throttle         time.Duration // coalescing window for non-urgent snapshots
	StartLead        time.Duration // gap between GAME_START and startAt
	DefaultWords     []string
	WordCount        int
	MaxPlayers       int
	RoundDurationSec int
	SpeedLevel       events.SpeedLevel
}

func DefaultConfig() Config {
	return Config{
		Throttle:         250 * time.Millisecond,
		StartLead:        3 * time.Second,
		DefaultWords:     DefaultWords,
		WordCount:        len(DefaultWords),
		MaxPlayers:       50,
		RoundDurationSec: 120,
		SpeedLevel:       2,
	}
}

// normalized fills zero values from DefaultConfig and clamps the rest.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.Throttle <= 0 {
		c.Throttle = def.Throttle
	}
	if c.StartLead <= 0 {
		c.StartLead = def.StartLead
	}
	if c.DefaultWords == nil {
		c.DefaultWords = def.DefaultWords
	}
	if c.WordCount <= 0 {
		c.WordCount = def.WordCount
	}
	c.WordCount = clamp(c.WordCount, MinWordCount, MaxWordCount)
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = def.MaxPlayers
	}
	if c.RoundDurationSec <= 0 {
		c.RoundDurationSec = def.RoundDurationSec
	}
	c.RoundDurationSec = clamp(c.RoundDurationSec, MinRoundDurationSec, MaxRoundDurationSec)
	if c.SpeedLevel == 0 {
		c.SpeedLevel = def.SpeedLevel
	}
	c.SpeedLevel = c.SpeedLevel.Clamp()
	return c
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// resizeWords keeps entries by index and pads with empty strings.
func resizeWords(words []string, n int) []string {
	out := make([]string, n)
	copy(out, words)
	return out
}
