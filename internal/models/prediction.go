package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Role is a player's fantasy position.
type Role string

const (
	RoleQB Role = "QB"
	RoleRB Role = "RB"
	RoleWR Role = "WR"
	RoleTE Role = "TE"
)

// AllRoles lists the roles per-role weights are kept for.
var AllRoles = []Role{RoleQB, RoleRB, RoleWR, RoleTE}

// Recommendation is the coarse start/sit bucket derived from edge score and confidence.
type Recommendation string

const (
	RecommendationSmash Recommendation = "SMASH"
	RecommendationStart Recommendation = "START"
	RecommendationFlex  Recommendation = "FLEX"
	RecommendationRisky Recommendation = "RISKY"
	RecommendationSit   Recommendation = "SIT"
	RecommendationAvoid Recommendation = "AVOID"
)

// EdgeSignal is one quantified factor feeding a prediction's overall score.
// Magnitude is signed; confidence is 0-100.
type EdgeSignal struct {
	Type       string  `json:"type"`
	Magnitude  float64 `json:"magnitude"`
	Confidence float64 `json:"confidence"`
}

// Prediction is one start/sit forecast for a player/week. Predictions are
// written by the upstream signal generator and become read-only inputs here
// once the game has started.
type Prediction struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	PlayerID       string         `json:"player_id" gorm:"size:64;not null;uniqueIndex:idx_prediction_identity,priority:1"`
	PlayerName     string         `json:"player_name" gorm:"size:128;not null"`
	Team           string         `json:"team" gorm:"size:8;not null"`
	Role           Role           `json:"role" gorm:"size:4;not null"`
	Week           int            `json:"week" gorm:"not null;uniqueIndex:idx_prediction_identity,priority:2"`
	Season         int            `json:"season" gorm:"not null;uniqueIndex:idx_prediction_identity,priority:3"`
	EdgeScore      float64        `json:"edge_score" gorm:"not null"`
	Confidence     float64        `json:"confidence" gorm:"not null"` // 0-100
	Recommendation Recommendation `json:"recommendation" gorm:"size:8;not null"`
	Signals        datatypes.JSON `json:"signals"`
	GameTime       time.Time      `json:"game_time" gorm:"not null"`
	CreatedAt      time.Time      `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"default:CURRENT_TIMESTAMP"`
}

// SignalList decodes the stored signal payload. Malformed payloads yield an
// empty list rather than an error; signals are validated at the store boundary.
func (p *Prediction) SignalList() []EdgeSignal {
	if len(p.Signals) == 0 {
		return nil
	}
	var signals []EdgeSignal
	if err := json.Unmarshal(p.Signals, &signals); err != nil {
		return nil
	}
	return signals
}

// SetSignals encodes the signal list into the JSON column.
func (p *Prediction) SetSignals(signals []EdgeSignal) error {
	data, err := json.Marshal(signals)
	if err != nil {
		return err
	}
	p.Signals = datatypes.JSON(data)
	return nil
}

// Outcome is the realized result for a player/week, written by the
// results-fetch process after games complete.
type Outcome struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	PlayerID      string    `json:"player_id" gorm:"size:64;not null;uniqueIndex:idx_outcome_identity,priority:1"`
	Week          int       `json:"week" gorm:"not null;uniqueIndex:idx_outcome_identity,priority:2"`
	Season        int       `json:"season" gorm:"not null;uniqueIndex:idx_outcome_identity,priority:3"`
	FantasyPoints float64   `json:"fantasy_points" gorm:"not null"`
	PositionRank  *int      `json:"position_rank"`
	CreatedAt     time.Time `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
}
