package main

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typingblocks/go/internal/typing/engine"
	"github.com/mcdev12/typingblocks/go/internal/typing/rng"
	"github.com/mcdev12/typingblocks/go/internal/typing/student"
	"github.com/rs/zerolog/log"
)

// typist picks what the bot types next. Misses are deliberate so scores
// spread out across bots.
type typist struct {
	src      rng.Source
	accuracy float64
}

func newTypist(seed string, accuracy float64) *typist {
	return &typist{src: rng.NewSeeded(seed), accuracy: min(max(accuracy, 0), 1)}
}

// next returns the word of the lowest block on the board, or a miss.
func (t *typist) next(board engine.Snapshot) (string, bool) {
	var target *engine.Block
	for i := range board.Blocks {
		b := &board.Blocks[i]
		if target == nil || b.Y > target.Y {
			target = b
		}
	}
	if target == nil {
		return "", false
	}
	if t.src.Float64() >= t.accuracy {
		return target.Word + "?", true
	}
	return target.Word, true
}

// play types one word every delay while the client is in a round.
func play(ctx context.Context, clock clockwork.Clock, client *student.Client, t *typist, delay time.Duration) {
	ticker := clock.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		if client.Phase() != student.PhasePlaying {
			continue
		}
		board, ok := client.Board()
		if !ok || board.IsGameOver {
			continue
		}
		word, ok := t.next(board)
		if !ok {
			continue
		}

		res, err := client.Submit(ctx, word)
		if err != nil {
			log.Warn().Err(err).Msg("failed to report score")
			continue
		}
		log.Debug().Str("word", word).Bool("hit", res.Hit).Int("score", res.Score).Msg("typed")
	}
}
