package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/stitts-dev/edge-calibration/internal/models"
)

type improvementRepo struct {
	db *gorm.DB
}

func (r *improvementRepo) CreateProposal(ctx context.Context, p *models.ImprovementProposal) error {
	if p.Status == "" {
		p.Status = models.ProposalStatusPending
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create improvement proposal %q: %w", p.Title, err)
	}
	return nil
}

func (r *improvementRepo) ListProposals(ctx context.Context, status string) ([]models.ImprovementProposal, error) {
	var proposals []models.ImprovementProposal
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&proposals).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch improvement proposals: %w", err)
	}
	return proposals, nil
}

func (r *improvementRepo) SetIssueRef(ctx context.Context, proposalID uint, url string, number int) error {
	err := r.db.WithContext(ctx).Model(&models.ImprovementProposal{}).
		Where("id = ?", proposalID).
		Updates(map[string]interface{}{
			"issue_url":    url,
			"issue_number": number,
			"updated_at":   time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to set issue ref on proposal %d: %w", proposalID, err)
	}
	return nil
}

func (r *improvementRepo) CreateApplied(ctx context.Context, a *models.AppliedImprovement) error {
	if a.AppliedAt.IsZero() {
		a.AppliedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to record applied improvement for edge type %s: %w", a.EdgeType, err)
	}
	return nil
}

func (r *improvementRepo) GetApplied(ctx context.Context, id uint) (*models.AppliedImprovement, error) {
	var applied models.AppliedImprovement
	err := r.db.WithContext(ctx).First(&applied, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch applied improvement %d: %w", id, err)
	}
	return &applied, nil
}

func (r *improvementRepo) ListApplied(ctx context.Context) ([]models.AppliedImprovement, error) {
	var applied []models.AppliedImprovement
	if err := r.db.WithContext(ctx).Order("applied_at DESC").Find(&applied).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch applied improvements: %w", err)
	}
	return applied, nil
}

func (r *improvementRepo) MarkRolledBack(ctx context.Context, id uint, reason string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&models.AppliedImprovement{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"rolled_back":     true,
			"rollback_reason": reason,
			"rolled_back_at":  now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark improvement %d rolled back: %w", id, err)
	}
	return nil
}

func (r *improvementRepo) UpdateImpact(ctx context.Context, id uint, impact models.ImprovementImpact) error {
	err := r.db.WithContext(ctx).Model(&models.AppliedImprovement{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"predictions_before":   impact.PredictionsBefore,
			"predictions_after":    impact.PredictionsAfter,
			"accuracy_before":      impact.AccuracyBefore,
			"accuracy_after":       impact.AccuracyAfter,
			"improvement_detected": impact.ImprovementDetected,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update impact on improvement %d: %w", id, err)
	}
	return nil
}
