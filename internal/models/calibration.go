package models

import "time"

// Weight safety bounds. Every learning and agent path clamps (or refuses)
// against these; no EdgeWeight column may hold a value outside them.
const (
	MinWeight = 0.2
	MaxWeight = 3.0
)

// EdgeWeight is the current scalar multiplier for one signal type, with
// per-role variants. Rows are created lazily at weight 1.0 and mutated only
// by the weight learner or an auto-applied improvement.
type EdgeWeight struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	EdgeType   string    `json:"edge_type" gorm:"size:64;not null;uniqueIndex"`
	Weight     float64   `json:"weight" gorm:"not null;default:1.0"`
	QBWeight   float64   `json:"qb_weight" gorm:"not null;default:1.0"`
	RBWeight   float64   `json:"rb_weight" gorm:"not null;default:1.0"`
	WRWeight   float64   `json:"wr_weight" gorm:"not null;default:1.0"`
	TEWeight   float64   `json:"te_weight" gorm:"not null;default:1.0"`
	HitRate    float64   `json:"hit_rate" gorm:"not null;default:0"`
	SampleSize int       `json:"sample_size" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"default:CURRENT_TIMESTAMP"`
}

// NewEdgeWeight returns a neutral weight row for an edge type seen for the
// first time.
func NewEdgeWeight(edgeType string) *EdgeWeight {
	return &EdgeWeight{
		EdgeType: edgeType,
		Weight:   1.0,
		QBWeight: 1.0,
		RBWeight: 1.0,
		WRWeight: 1.0,
		TEWeight: 1.0,
	}
}

// RoleWeight returns the multiplier for a role, falling back to the global
// weight for unknown roles.
func (w *EdgeWeight) RoleWeight(role Role) float64 {
	switch role {
	case RoleQB:
		return w.QBWeight
	case RoleRB:
		return w.RBWeight
	case RoleWR:
		return w.WRWeight
	case RoleTE:
		return w.TEWeight
	}
	return w.Weight
}

// SetRoleWeight updates the multiplier for a role.
func (w *EdgeWeight) SetRoleWeight(role Role, value float64) {
	switch role {
	case RoleQB:
		w.QBWeight = value
	case RoleRB:
		w.RBWeight = value
	case RoleWR:
		w.WRWeight = value
	case RoleTE:
		w.TEWeight = value
	}
}

// WeightHistory is the append-only audit trail of weight changes. Rows are
// only ever inserted.
type WeightHistory struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	EdgeType   string    `json:"edge_type" gorm:"size:64;not null;index"`
	Season     int       `json:"season" gorm:"not null"`
	Week       int       `json:"week" gorm:"not null"`
	OldWeight  float64   `json:"old_weight" gorm:"not null"`
	NewWeight  float64   `json:"new_weight" gorm:"not null"`
	HitRate    float64   `json:"hit_rate" gorm:"not null"`
	SampleSize int       `json:"sample_size" gorm:"not null"`
	Reason     string    `json:"reason" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
}

// EdgeAccuracy is the per-edge-type accuracy cache row the evaluator upserts
// for fast dashboard reads, one per edge type and season.
type EdgeAccuracy struct {
	ID                 uint      `json:"id" gorm:"primaryKey"`
	EdgeType           string    `json:"edge_type" gorm:"size:64;not null;uniqueIndex:idx_edge_accuracy_identity,priority:1"`
	Season             int       `json:"season" gorm:"not null;uniqueIndex:idx_edge_accuracy_identity,priority:2"`
	TotalPredictions   int       `json:"total_predictions" gorm:"not null;default:0"`
	CorrectPredictions int       `json:"correct_predictions" gorm:"not null;default:0"`
	HitRate            float64   `json:"hit_rate" gorm:"not null;default:0"`
	AvgMagnitude       float64   `json:"avg_magnitude" gorm:"not null;default:0"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"default:CURRENT_TIMESTAMP"`
}
