package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mcdev12/typingblocks/go/internal/typing/events"
	"github.com/mcdev12/typingblocks/go/internal/typing/orchestrator"
)

var (
	errUnknownCommand = errors.New("unknown command, type 'help'")
	errUsage          = errors.New("bad arguments")
	errRejected       = errors.New("rejected in the current room status")
)

const helpText = `commands:
  start               start a round
  end                 end the running round
  speed N             speed level 1-5
  count N             number of words
  duration N          round length in seconds
  max N               player limit
  word I TEXT         replace word I (0-based)
  words A,B,C         replace the word list
  players             show the leaderboard
  state               show status and settings`

// runCommand applies one console line to the room and writes any output
// to out.
func runCommand(ctx context.Context, room *orchestrator.Room, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help":
		fmt.Fprintln(out, helpText)
		return nil

	case "start":
		return room.StartGame(ctx)

	case "end":
		if !room.EndGame(ctx) {
			return errRejected
		}
		return nil

	case "speed", "count", "duration", "max":
		if len(args) != 1 {
			return errUsage
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		s := room.Snapshot().Settings
		switch cmd {
		case "speed":
			s.SpeedLevel = events.SpeedLevel(n)
		case "count":
			s.WordCount = n
		case "duration":
			s.RoundDurationSec = n
		case "max":
			s.MaxPlayers = n
		}
		if !room.UpdateSettings(ctx, s) {
			return errRejected
		}
		return nil

	case "word":
		if len(args) < 2 {
			return errUsage
		}
		i, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if !room.SetWord(ctx, i, strings.Join(args[1:], " ")) {
			return errRejected
		}
		return nil

	case "words":
		if len(args) == 0 {
			return errUsage
		}
		var words []string
		for _, w := range strings.Split(strings.Join(args, " "), ",") {
			words = append(words, strings.TrimSpace(w))
		}
		if !room.SetWords(ctx, words) {
			return errRejected
		}
		return nil

	case "players":
		for i, p := range room.Leaderboard(0) {
			status := "playing"
			if p.IsGameOver {
				status = "game over"
			}
			fmt.Fprintf(out, "%2d. %-20s %5d  %s\n", i+1, p.Name, p.Score, status)
		}
		return nil

	case "state":
		st := room.Snapshot()
		fmt.Fprintf(out, "room %s  status=%s  rev=%d  players=%d/%d  speed=%d  words=%d  duration=%ds\n",
			st.RoomCode, st.Status, st.Revision, len(st.Players), st.Settings.MaxPlayers,
			st.Settings.SpeedLevel, st.Settings.WordCount, st.Settings.RoundDurationSec)
		return nil
	}

	return errUnknownCommand
}
