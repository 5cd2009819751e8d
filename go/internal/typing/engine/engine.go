// Package engine runs the falling-block round on one student's screen.
// An Engine is not safe for concurrent use; the student client drives it
// from a single loop.
package engine

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/rng"
)

// Block is one falling or settled word.
type Block struct {
	ID        string
	Word      string
	Lane      int
	Y         float64
	VY        float64
	IsSettled bool
	CreatedAt time.Time
}

// Options configures a new Engine.
type Options struct {
	Words      []string
	SpeedLevel events.SpeedLevel
	Seed       string
	Width      float64
	Height     float64
	Lanes      int
	StartAt    time.Time
	MaxBlocks  int
}

// SubmitResult reports the outcome of one typed word.
type SubmitResult struct {
	Hit            bool
	Score          int
	RemovedBlockID string
}

// Snapshot is a copy of the visible state for rendering.
type Snapshot struct {
	Blocks     []Block
	Score      int
	IsGameOver bool
	Width      float64
	Height     float64
	Lanes      int
}

type Engine struct {
	words     []string
	preset    SpeedPreset
	rand      *rng.Mulberry32
	width     float64
	height    float64
	lanes     int
	startAt   time.Time
	maxBlocks int

	blocks      []*Block
	laneCounts  []int
	score       int
	gameOver    bool
	nextSpawnAt time.Duration // offset from startAt
	lastTick    time.Time
	ticking     bool
	blockSeq    int
}

// New builds an engine. Blank words are dropped; an engine with no words
// never spawns anything.
func New(opts Options) *Engine {
	words := make([]string, 0, len(opts.Words))
	for _, w := range opts.Words {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}

	lanes := max(1, opts.Lanes)
	maxBlocks := opts.MaxBlocks
	if maxBlocks <= 0 {
		maxBlocks = DefaultMaxBlocks
	}

	return &Engine{
		words:      words,
		preset:     PresetFor(opts.SpeedLevel),
		rand:       rng.NewSeeded(opts.Seed),
		width:      opts.Width,
		height:     opts.Height,
		lanes:      lanes,
		startAt:    opts.StartAt,
		maxBlocks:  maxBlocks,
		laneCounts: make([]int, lanes),
	}
}

// Update advances the simulation to now and reports whether anything
// visible changed. The first call at or after the start time only records
// the baseline. A now earlier than the previous call counts as no time.
func (e *Engine) Update(now time.Time) bool {
	if e.gameOver || len(e.words) == 0 || now.Before(e.startAt) {
		return false
	}
	if !e.ticking {
		e.ticking = true
		e.lastTick = now
		return false
	}

	dt := now.Sub(e.lastTick)
	if dt < 0 {
		dt = 0
	} else {
		e.lastTick = now
	}

	changed := e.fall(dt.Seconds())
	if e.gameOver {
		return true
	}

	if len(e.blocks) >= e.maxBlocks {
		e.gameOver = true
		return true
	}

	elapsed := now.Sub(e.startAt)
	for elapsed >= e.nextSpawnAt {
		if e.spawn(now) {
			changed = true
		}
		e.nextSpawnAt += e.preset.SpawnInterval
	}

	// A catch-up burst can fill the board in one call.
	if len(e.blocks) >= e.maxBlocks {
		e.gameOver = true
		return true
	}
	return changed
}

// fall moves airborne blocks and settles the ones that reached their stack.
func (e *Engine) fall(dtSec float64) bool {
	changed := false
	for _, b := range e.blocks {
		if b.IsSettled {
			continue
		}
		if dtSec > 0 {
			b.Y += b.VY * dtSec
			changed = true
		}

		settleY := e.height - BlockHeight*float64(e.laneCounts[b.Lane]+1)
		if b.Y >= settleY {
			b.Y = settleY
			b.IsSettled = true
			e.laneCounts[b.Lane]++
			changed = true
			if settleY < 0 {
				e.gameOver = true
				break
			}
		}
	}
	return changed
}

// spawn places one block in a random lane with no airborne block. It
// returns false, without drawing from the generator, when every lane is busy
// or the board holds maxBlocks.
func (e *Engine) spawn(now time.Time) bool {
	if len(e.blocks) >= e.maxBlocks {
		return false
	}
	busy := make([]bool, e.lanes)
	for _, b := range e.blocks {
		if !b.IsSettled {
			busy[b.Lane] = true
		}
	}

	free := make([]int, 0, e.lanes)
	for lane, taken := range busy {
		if !taken {
			free = append(free, lane)
		}
	}
	if len(free) == 0 {
		return false
	}

	word := e.words[rng.RandomInt(e.rand, len(e.words))]
	lane := free[rng.RandomInt(e.rand, len(free))]

	e.blockSeq++
	e.blocks = append(e.blocks, &Block{
		ID:        fmt.Sprintf("block-%d", e.blockSeq),
		Word:      word,
		Lane:      lane,
		Y:         -BlockHeight,
		VY:        e.preset.FallSpeed,
		CreatedAt: now,
	})
	return true
}

// SubmitInput clears the lowest block whose word equals the trimmed input.
func (e *Engine) SubmitInput(text string) SubmitResult {
	input := strings.TrimSpace(text)
	if input == "" || e.gameOver {
		return SubmitResult{Score: e.score}
	}

	target := -1
	for i, b := range e.blocks {
		if b.Word != input {
			continue
		}
		if target < 0 || b.Y > e.blocks[target].Y {
			target = i
		}
	}
	if target < 0 {
		return SubmitResult{Score: e.score}
	}

	removed := e.blocks[target]
	e.blocks = slices.Delete(e.blocks, target, target+1)

	if removed.IsSettled {
		e.laneCounts[removed.Lane]--
		for _, b := range e.blocks {
			if b.IsSettled && b.Lane == removed.Lane && b.Y < removed.Y {
				b.Y += BlockHeight
			}
		}
	}

	e.score += ScorePerHit
	return SubmitResult{Hit: true, Score: e.score, RemovedBlockID: removed.ID}
}

// SetSize updates the playfield. Changing the lane count is refused once
// any block exists, since lanes are baked into block state.
func (e *Engine) SetSize(width, height float64, lanes int) bool {
	if width <= 0 || height <= 0 || lanes < 1 {
		return false
	}
	if lanes != e.lanes {
		if len(e.blocks) > 0 {
			return false
		}
		e.lanes = lanes
		e.laneCounts = make([]int, lanes)
	}
	e.width = width
	e.height = height
	return true
}

func (e *Engine) Score() int { return e.score }
func (e *Engine) IsGameOver() bool { return e.gameOver }
func (e *Engine) Lanes() int { return e.lanes }
func (e *Engine) StartAt() time.Time { return e.startAt }

// Snapshot copies the current state.
func (e *Engine) Snapshot() Snapshot {
	blocks := make([]Block, len(e.blocks))
	for i, b := range e.blocks {
		blocks[i] = *b
	}
	return Snapshot{
		Blocks:     blocks,
		Score:      e.score,
		IsGameOver: e.gameOver,
		Width:      e.width,
		Height:     e.height,
		Lanes:      e.lanes,
	}
}
