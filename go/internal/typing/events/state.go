package events

import (
	"cmp"
	"slices"
)

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomStatusSetup    RoomStatus = "setup"
	RoomStatusLobby    RoomStatus = "lobby"
	RoomStatusRunning  RoomStatus = "running"
	RoomStatusFinished RoomStatus = "finished"
)

// SpeedLevel selects one of the engine speed presets.
type SpeedLevel int

const (
	MinSpeedLevel SpeedLevel = 1
	MaxSpeedLevel SpeedLevel = 5
)

// Clamp returns the level forced into [MinSpeedLevel, MaxSpeedLevel].
func (s SpeedLevel) Clamp() SpeedLevel {
	return min(max(s, MinSpeedLevel), MaxSpeedLevel)
}

// DefaultLeaderboardSize is how many players the scoreboard shows.
const DefaultLeaderboardSize = 10

// RoomSettings are the teacher-controlled knobs for the next round.
type RoomSettings struct {
	WordCount        int        `json:"wordCount"`
	SpeedLevel       SpeedLevel `json:"speedLevel"`
	MaxPlayers       int        `json:"maxPlayers"`
	RoundDurationSec int        `json:"roundDurationSec"`
}

// Player is one student as seen by the teacher. Timestamps are unix ms.
type Player struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Score      int    `json:"score"`
	JoinedAt   int64  `json:"joinedAt"`
	LastSeenAt int64  `json:"lastSeenAt"`
	IsGameOver bool   `json:"isGameOver"`
}

// RoomState is the canonical snapshot broadcast as ROOM_STATE.
type RoomState struct {
	RoomCode        string       `json:"roomCode"`
	Status          RoomStatus   `json:"status"`
	Settings        RoomSettings `json:"settings"`
	Words           []string     `json:"words"`
	TeacherClientID string       `json:"teacherClientId"`
	Seed            *string      `json:"seed"`
	StartAt         *int64       `json:"startAt"`
	Revision        int64        `json:"revision"`
	UpdatedAt       int64        `json:"updatedAt"`
	Players         []Player     `json:"players"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s RoomState) Clone() RoomState {
	out := s
	out.Words = slices.Clone(s.Words)
	out.Players = slices.Clone(s.Players)
	if s.Seed != nil {
		seed := *s.Seed
		out.Seed = &seed
	}
	if s.StartAt != nil {
		startAt := *s.StartAt
		out.StartAt = &startAt
	}
	if out.Words == nil {
		out.Words = []string{}
	}
	if out.Players == nil {
		out.Players = []Player{}
	}
	return out
}

// PlayerIndex returns the index of the player with id, or -1.
func (s *RoomState) PlayerIndex(id string) int {
	return slices.IndexFunc(s.Players, func(p Player) bool { return p.ID == id })
}

// Player returns the player with id.
func (s *RoomState) Player(id string) (Player, bool) {
	if i := s.PlayerIndex(id); i >= 0 {
		return s.Players[i], true
	}
	return Player{}, false
}

// AllPlayersGameOver is false for an empty room.
func (s *RoomState) AllPlayersGameOver() bool {
	if len(s.Players) == 0 {
		return false
	}
	for _, p := range s.Players {
		if !p.IsGameOver {
			return false
		}
	}
	return true
}

// Leaderboard ranks players by score, earliest joiner first on ties.
func (s *RoomState) Leaderboard(limit int) []Player {
	return RankPlayers(s.Players, limit)
}

// RankPlayers sorts a copy of players by score desc then joinedAt asc and
// keeps at most limit entries. A non-positive limit means
// DefaultLeaderboardSize.
func RankPlayers(players []Player, limit int) []Player {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	ranked := slices.Clone(players)
	slices.SortStableFunc(ranked, func(a, b Player) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.JoinedAt, b.JoinedAt)
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
