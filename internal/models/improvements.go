package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Proposal lifecycle states.
const (
	ProposalStatusPending  = "pending"
	ProposalStatusApplied  = "applied"
	ProposalStatusRejected = "rejected"
)

// Recommendation types the agent understands. Only auto-applicable weight
// adjustments within the hard safety bounds are ever applied without review.
const (
	RecommendationTypeWeightAdjustment = "weight_adjustment"
	RecommendationTypeThresholdChange  = "threshold_change"
	RecommendationTypeNewEdge          = "new_edge"
	RecommendationTypeCodeChange       = "code_change"
	RecommendationTypeDataSource       = "data_source"
)

// ProposedChange is the structured change a recommendation carries.
type ProposedChange struct {
	EdgeType      string  `json:"edge_type"`
	CurrentWeight float64 `json:"current_weight"`
	NewWeight     float64 `json:"new_weight"`
	Reasoning     string  `json:"reasoning"`
}

// AgentRecommendation is the wire shape the language model must return, one
// element of a JSON array.
type AgentRecommendation struct {
	Type                string         `json:"type"`
	Priority            string         `json:"priority"` // "critical", "high", "medium", "low"
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	Evidence            []string       `json:"evidence"`
	ProposedChange      ProposedChange `json:"proposed_change"`
	AutoApplicable      bool           `json:"auto_applicable"`
	ExpectedImprovement string         `json:"expected_improvement"`
}

// ImprovementProposal is a candidate change held for human review, optionally
// escalated to the external ticket tracker.
type ImprovementProposal struct {
	ID                  uint           `json:"id" gorm:"primaryKey"`
	Title               string         `json:"title" gorm:"size:256;not null"`
	Category            string         `json:"category" gorm:"size:32;not null"`
	Priority            string         `json:"priority" gorm:"size:16;not null"`
	Description         string         `json:"description" gorm:"type:text"`
	Evidence            datatypes.JSON `json:"evidence"`
	ProposedChange      datatypes.JSON `json:"proposed_change"`
	ExpectedImprovement string         `json:"expected_improvement" gorm:"type:text"`
	AutoApplicable      bool           `json:"auto_applicable" gorm:"not null;default:false"`
	Status              string         `json:"status" gorm:"size:16;not null;default:'pending'"`
	IssueURL            *string        `json:"issue_url" gorm:"size:256"`
	IssueNumber         *int           `json:"issue_number"`
	CreatedAt           time.Time      `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time      `json:"updated_at" gorm:"default:CURRENT_TIMESTAMP"`
}

// SetEvidence encodes the evidence list into the JSON column.
func (p *ImprovementProposal) SetEvidence(evidence []string) error {
	data, err := json.Marshal(evidence)
	if err != nil {
		return err
	}
	p.Evidence = datatypes.JSON(data)
	return nil
}

// SetProposedChange encodes the proposed change into the JSON column.
func (p *ImprovementProposal) SetProposedChange(change ProposedChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	p.ProposedChange = datatypes.JSON(data)
	return nil
}

// AppliedImprovement is the append-only record of a change that was actually
// applied, carrying enough before-state for an exact rollback.
type AppliedImprovement struct {
	ID                  uint       `json:"id" gorm:"primaryKey"`
	ChangeType          string     `json:"change_type" gorm:"size:32;not null"`
	EdgeType            string     `json:"edge_type" gorm:"size:64;not null"`
	Season              int        `json:"season" gorm:"not null"`
	BeforeWeight        float64    `json:"before_weight" gorm:"not null"`
	AfterWeight         float64    `json:"after_weight" gorm:"not null"`
	Reasoning           string     `json:"reasoning" gorm:"type:text"`
	PredictionsBefore   int        `json:"predictions_before" gorm:"not null;default:0"`
	PredictionsAfter    int        `json:"predictions_after" gorm:"not null;default:0"`
	AccuracyBefore      float64    `json:"accuracy_before" gorm:"not null;default:0"`
	AccuracyAfter       float64    `json:"accuracy_after" gorm:"not null;default:0"`
	ImprovementDetected bool       `json:"improvement_detected" gorm:"not null;default:false"`
	RolledBack          bool       `json:"rolled_back" gorm:"not null;default:false"`
	RollbackReason      *string    `json:"rollback_reason" gorm:"type:text"`
	RolledBackAt        *time.Time `json:"rolled_back_at"`
	AppliedAt           time.Time  `json:"applied_at" gorm:"not null"`
	CreatedAt           time.Time  `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
}
