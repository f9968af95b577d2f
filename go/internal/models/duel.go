package models

import "time"

// DuelStatus defines the lifecycle status of a duel session.
type DuelStatus string

const (
	DuelStatusWaiting  DuelStatus = "waiting"
	DuelStatusActive   DuelStatus = "active"
	DuelStatusFinished DuelStatus = "finished"
)

// DuelEndReason records what ended a single duel.
type DuelEndReason string

const (
	DuelEndLifePoints DuelEndReason = "life_points"
	DuelEndTime       DuelEndReason = "time"
)

// DeckRef is the deck a player brought to a session.
type DeckRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DuelResult is the audit record of one finished duel. Winner is 1, 2, or 0 for a draw.
type DuelResult struct {
	Winner    int           `json:"winner"`
	Player1LP int           `json:"player1LP"`
	Player2LP int           `json:"player2LP"`
	EndTime   time.Time     `json:"endTime"`
	Reason    DuelEndReason `json:"reason,omitempty"`
}

// DuelSession is the shared match document both clients synchronise on.
type DuelSession struct {
	ID     string     `json:"-"`
	Status DuelStatus `json:"status"`

	Player1ID      string   `json:"player1Id"`
	Player1Name    string   `json:"player1Name"`
	Player1Seat    string   `json:"player1Seat"`
	Player1IsGuest bool     `json:"player1IsGuest"`
	Player1Deck    *DeckRef `json:"player1Deck,omitempty"`

	Player2ID      string   `json:"player2Id"`
	Player2Name    string   `json:"player2Name"`
	Player2Seat    string   `json:"player2Seat"`
	Player2IsGuest bool     `json:"player2IsGuest"`
	Player2Deck    *DeckRef `json:"player2Deck,omitempty"`

	Player1LifePoints int `json:"player1LifePoints"`
	Player2LifePoints int `json:"player2LifePoints"`
	CurrentDuel       int `json:"currentDuel"`
	Player1Score      int `json:"player1Score"`
	Player2Score      int `json:"player2Score"`

	MatchWinner   string                `json:"matchWinner"`
	MatchPaused   bool                  `json:"matchPaused"`
	TimeRemaining int                   `json:"timeRemaining"`
	DuelResults   map[string]DuelResult `json:"duelResults"`
	GameStarted   bool                  `json:"gameStarted"`
	Intermission  bool                  `json:"intermission"`
	TimeExpired   bool                  `json:"timeExpired"`

	CreatedAt time.Time `json:"createdAt"`
}

// MatchOver reports whether a player has won the match.
func (s DuelSession) MatchOver() bool {
	return s.Status == DuelStatusFinished
}

// HasOpponent reports whether the second seat is taken.
func (s DuelSession) HasOpponent() bool {
	return s.Player2Seat != ""
}

// LifePoints returns the life total of player 1 or 2.
func (s DuelSession) LifePoints(player int) int {
	if player == 1 {
		return s.Player1LifePoints
	}
	return s.Player2LifePoints
}

// PlayerName returns the display name of player 1 or 2.
func (s DuelSession) PlayerName(player int) string {
	if player == 1 {
		return s.Player1Name
	}
	return s.Player2Name
}

// MatchHistory is the append-only summary written when a match completes.
type MatchHistory struct {
	ID             string                `json:"-"`
	MatchID        string                `json:"matchId"`
	Player1ID      string                `json:"player1Id"`
	Player1Name    string                `json:"player1Name"`
	Player1Deck    *DeckRef              `json:"player1Deck,omitempty"`
	Player1IsGuest bool                  `json:"player1IsGuest"`
	Player1Score   int                   `json:"player1Score"`
	Player2ID      string                `json:"player2Id"`
	Player2Name    string                `json:"player2Name"`
	Player2Deck    *DeckRef              `json:"player2Deck,omitempty"`
	Player2IsGuest bool                  `json:"player2IsGuest"`
	Player2Score   int                   `json:"player2Score"`
	Winner         string                `json:"winner"`
	DuelResults    map[string]DuelResult `json:"duelResults"`
	CreatedAt      time.Time             `json:"createdAt"`
	Relayed        bool                  `json:"relayed"`
}
