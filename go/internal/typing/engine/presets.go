package engine

import (
	"time"

	"github.com/mcdev12/typingblocks/go/internal/typing/events"
)

const (
	// BlockHeight is the height of one block in playfield pixels.
	BlockHeight = 48.0
	// ScorePerHit is awarded for every cleared block.
	ScorePerHit = 10
	// DefaultMaxBlocks ends the round when this many blocks are on screen.
	DefaultMaxBlocks = 200
)

// SpeedPreset controls how often blocks spawn and how fast they fall.
type SpeedPreset struct {
	SpawnInterval time.Duration
	FallSpeed     float64 // px per second
}

var speedPresets = map[events.SpeedLevel]SpeedPreset{
	1: {SpawnInterval: 1600 * time.Millisecond, FallSpeed: 80},
	2: {SpawnInterval: 1300 * time.Millisecond, FallSpeed: 105},
	3: {SpawnInterval: 1000 * time.Millisecond, FallSpeed: 130},
	4: {SpawnInterval: 780 * time.Millisecond, FallSpeed: 160},
	5: {SpawnInterval: 620 * time.Millisecond, FallSpeed: 190},
}

// PresetFor returns the preset for level, clamping out-of-range levels.
func PresetFor(level events.SpeedLevel) SpeedPreset {
	return speedPresets[level.Clamp()]
}

// LaneCount picks a lane count for a playfield width.
func LaneCount(width float64) int {
	switch {
	case width < 640:
		return 2
	case width < 1024:
		return 3
	default:
		return 4
	}
}
