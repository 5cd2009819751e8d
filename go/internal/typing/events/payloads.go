package events

// Event payload types carried inside the {type, payload} envelope.

// GameStartPayload is the payload for a GAME_START event
type GameStartPayload struct {
	Seed     string       `json:"seed"`
	StartAt  int64        `json:"startAt"`
	Settings RoomSettings `json:"settings"`
	Words    []string     `json:"words"`
}

// GameEndPayload is the payload for a GAME_END event
type GameEndPayload struct {
	EndedAt int64 `json:"endedAt"`
}

// JoinRequestPayload is the payload for a JOIN_REQUEST event
type JoinRequestPayload struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
}

// ScoreReportPayload is the payload for a SCORE_REPORT event
type ScoreReportPayload struct {
	PlayerID string `json:"playerId"`
	Score    int    `json:"score"`
}

// PlayerGameOverPayload is the payload for a PLAYER_GAME_OVER event
type PlayerGameOverPayload struct {
	PlayerID string `json:"playerId"`
}

// LeaveNoticePayload is the payload for a LEAVE_NOTICE event
type LeaveNoticePayload struct {
	PlayerID string `json:"playerId"`
}
