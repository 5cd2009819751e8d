package orchestrator

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Timer bookkeeping. All helpers expect r.mu to be held.

// replaceAutoEndLocked arms the round timer, cancelling any previous one.
// The round counter lets a fire that raced with cancellation see it is stale.
func (r *Room) replaceAutoEndLocked(timer func(round uint64) clockwork.Timer) {
	r.cancelAutoEndLocked()
	r.round++
	r.autoEndTimer = timer(r.round)
}

// cancelAutoEndLocked stops the round timer and invalidates an in-flight fire.
func (r *Room) cancelAutoEndLocked() {
	if r.autoEndTimer != nil {
		stopTimer(r.autoEndTimer)
		r.autoEndTimer = nil
		log.Debug().Str("room_code", r.state.RoomCode).Msg("cancelled auto-end timer")
	}
	r.round++
}

// cancelThrottleLocked drops a pending coalesced broadcast.
func (r *Room) cancelThrottleLocked() {
	if r.throttleTimer != nil {
		stopTimer(r.throttleTimer)
		r.throttleTimer = nil
	}
	r.flushSeq++
}

// stopTimer stops a timer and drains its channel if it already fired.
func stopTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
