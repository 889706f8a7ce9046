package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/edge-calibration/internal/models"
	"github.com/stitts-dev/edge-calibration/internal/storage"
)

const worstMissLimit = 10

// ErrAlreadyRolledBack is returned when a rollback is requested for an
// improvement that was already rolled back; the request is refused, nothing
// changes.
var ErrAlreadyRolledBack = errors.New("improvement already rolled back")

// ErrImprovementNotFound is returned for rollback/impact requests against an
// unknown improvement id.
var ErrImprovementNotFound = errors.New("improvement not found")

// ImprovementAgent turns weights, patterns and worst misses into applied
// weight nudges and review proposals, with rollback and impact tracking.
type ImprovementAgent struct {
	weights      storage.WeightRepository
	patterns     storage.PatternRepository
	analyses     storage.AnalysisRepository
	improvements storage.ImprovementRepository
	recommender  Recommender
	tracker      TicketTracker // optional
	cache        *CacheService
	logger       *logrus.Logger
}

func NewImprovementAgent(
	weights storage.WeightRepository,
	patterns storage.PatternRepository,
	analyses storage.AnalysisRepository,
	improvements storage.ImprovementRepository,
	recommender Recommender,
	tracker TicketTracker,
	cache *CacheService,
	logger *logrus.Logger,
) *ImprovementAgent {
	return &ImprovementAgent{
		weights:      weights,
		patterns:     patterns,
		analyses:     analyses,
		improvements: improvements,
		recommender:  recommender,
		tracker:      tracker,
		cache:        cache,
		logger:       logger,
	}
}

// RunImprovementAgent gathers the season's calibration evidence, asks the
// recommendation service for guidance, auto-applies safe weight nudges and
// files the rest as pending proposals. A failed or unparseable model call
// degrades to "no new guidance this cycle", never a pipeline error.
func (a *ImprovementAgent) RunImprovementAgent(ctx context.Context, season int) (*models.ImprovementReport, error) {
	report := &models.ImprovementReport{Season: season, AppliedChanges: []models.AppliedChange{}}
	if a.weights == nil || a.improvements == nil {
		return report, nil
	}

	contextDoc, err := a.buildContextDocument(ctx, season)
	if err != nil {
		a.logger.WithError(err).WithField("season", season).Error("Failed to build agent context")
		return nil, err
	}

	recommendations := a.fetchRecommendations(ctx, contextDoc)
	report.RecommendationsReceived = len(recommendations)

	var createdProposals []uint
	for _, rec := range recommendations {
		if rec.Type == models.RecommendationTypeWeightAdjustment && rec.AutoApplicable {
			applied, err := a.autoApply(ctx, season, rec)
			if err != nil {
				a.logger.WithError(err).WithFields(logrus.Fields{
					"season":    season,
					"edge_type": rec.ProposedChange.EdgeType,
				}).Error("Failed to auto-apply weight adjustment")
				continue
			}
			if applied == nil {
				report.Refused++
				continue
			}
			report.AutoApplied++
			report.AppliedChanges = append(report.AppliedChanges, *applied)
			continue
		}

		proposalID, err := a.createProposal(ctx, rec)
		if err != nil {
			a.logger.WithError(err).WithField("title", rec.Title).Error("Failed to create improvement proposal")
			continue
		}
		report.ProposalsCreated++
		if !rec.AutoApplicable && (rec.Priority == "critical" || rec.Priority == "high") {
			createdProposals = append(createdProposals, proposalID)
		}
	}

	report.Escalated = a.escalate(ctx, createdProposals)

	a.logger.WithFields(logrus.Fields{
		"season":                   season,
		"recommendations_received": report.RecommendationsReceived,
		"auto_applied":             report.AutoApplied,
		"refused":                  report.Refused,
		"proposals_created":        report.ProposalsCreated,
		"escalated":                report.Escalated,
	}).Info("Improvement agent run completed")

	return report, nil
}

// fetchRecommendations calls the recommendation service; any failure yields
// an empty list.
func (a *ImprovementAgent) fetchRecommendations(ctx context.Context, contextDoc string) []models.AgentRecommendation {
	if a.recommender == nil {
		return nil
	}
	recommendations, err := a.recommender.Recommend(ctx, contextDoc)
	if err != nil {
		a.logger.WithError(err).Warn("Recommendation service unavailable, continuing without guidance")
		return nil
	}
	return recommendations
}

// autoApply validates a weight adjustment against the hard safety bounds and
// applies it. Returns (nil, nil) when the proposal is refused.
func (a *ImprovementAgent) autoApply(ctx context.Context, season int, rec models.AgentRecommendation) (*models.AppliedChange, error) {
	newWeight := rec.ProposedChange.NewWeight
	edgeType := rec.ProposedChange.EdgeType
	if edgeType == "" {
		return nil, fmt.Errorf("weight adjustment missing edge type")
	}

	// Hard bound check, independent of the model's own 0.5-2.0 guidance.
	if newWeight < models.MinWeight || newWeight > models.MaxWeight {
		a.logger.WithFields(logrus.Fields{
			"edge_type":  edgeType,
			"new_weight": newWeight,
		}).Warn("Refusing auto-apply outside hard weight bounds")
		return nil, nil
	}

	current, err := a.weights.Get(ctx, edgeType)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = models.NewEdgeWeight(edgeType)
	}

	before := current.Weight
	current.Weight = round2(newWeight)
	current.UpdatedAt = time.Now().UTC()
	if err := a.weights.Upsert(ctx, current); err != nil {
		return nil, err
	}
	if err := a.cache.InvalidateEdgeWeight(ctx, edgeType); err != nil {
		a.logger.WithError(err).WithField("edge_type", edgeType).Debug("Weight cache not invalidated")
	}

	history := &models.WeightHistory{
		EdgeType:   edgeType,
		Season:     season,
		OldWeight:  before,
		NewWeight:  current.Weight,
		HitRate:    current.HitRate,
		SampleSize: current.SampleSize,
		Reason:     "[AI Agent] " + rec.ProposedChange.Reasoning,
	}
	if err := a.weights.AppendHistory(ctx, history); err != nil {
		return nil, err
	}

	applied := &models.AppliedImprovement{
		ChangeType:   models.RecommendationTypeWeightAdjustment,
		EdgeType:     edgeType,
		Season:       season,
		BeforeWeight: before,
		AfterWeight:  current.Weight,
		Reasoning:    rec.ProposedChange.Reasoning,
		AppliedAt:    time.Now().UTC(),
	}
	if err := a.improvements.CreateApplied(ctx, applied); err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"improvement_id": applied.ID,
		"edge_type":      edgeType,
		"old_weight":     before,
		"new_weight":     current.Weight,
	}).Info("Auto-applied weight adjustment")

	return &models.AppliedChange{
		ImprovementID: applied.ID,
		EdgeType:      edgeType,
		OldWeight:     before,
		NewWeight:     current.Weight,
		Reasoning:     rec.ProposedChange.Reasoning,
	}, nil
}

func (a *ImprovementAgent) createProposal(ctx context.Context, rec models.AgentRecommendation) (uint, error) {
	proposal := &models.ImprovementProposal{
		Title:               rec.Title,
		Category:            rec.Type,
		Priority:            rec.Priority,
		Description:         rec.Description,
		ExpectedImprovement: rec.ExpectedImprovement,
		AutoApplicable:      rec.AutoApplicable,
		Status:              models.ProposalStatusPending,
	}
	if err := proposal.SetEvidence(rec.Evidence); err != nil {
		return 0, err
	}
	if err := proposal.SetProposedChange(rec.ProposedChange); err != nil {
		return 0, err
	}
	if err := a.improvements.CreateProposal(ctx, proposal); err != nil {
		return 0, err
	}
	return proposal.ID, nil
}

// escalate files tracker issues for top-priority proposals. Tracker failures
// leave the proposal without a ticket reference and do not fail the run.
func (a *ImprovementAgent) escalate(ctx context.Context, proposalIDs []uint) int {
	if a.tracker == nil || len(proposalIDs) == 0 {
		return 0
	}

	proposals, err := a.improvements.ListProposals(ctx, models.ProposalStatusPending)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to list proposals for escalation")
		return 0
	}

	eligible := make(map[uint]bool, len(proposalIDs))
	for _, id := range proposalIDs {
		eligible[id] = true
	}

	escalated := 0
	for _, proposal := range proposals {
		if !eligible[proposal.ID] || proposal.IssueURL != nil {
			continue
		}
		ref, err := a.tracker.CreateIssue(ctx, proposal.Title, issueBody(&proposal), []string{"calibration", proposal.Priority})
		if err != nil {
			a.logger.WithError(err).WithField("proposal_id", proposal.ID).Warn("Failed to escalate proposal")
			continue
		}
		if err := a.improvements.SetIssueRef(ctx, proposal.ID, ref.URL, ref.Number); err != nil {
			a.logger.WithError(err).WithField("proposal_id", proposal.ID).Warn("Failed to record issue ref")
			continue
		}
		escalated++
	}
	return escalated
}

// Rollback restores the improvement's recorded before-weight, writes an audit
// row and marks the improvement rolled back. Already-rolled-back improvements
// are refused.
func (a *ImprovementAgent) Rollback(ctx context.Context, improvementID uint, reason string) error {
	improvement, err := a.improvements.GetApplied(ctx, improvementID)
	if err != nil {
		return err
	}
	if improvement == nil {
		return ErrImprovementNotFound
	}
	if improvement.RolledBack {
		return ErrAlreadyRolledBack
	}

	weight, err := a.weights.Get(ctx, improvement.EdgeType)
	if err != nil {
		return err
	}
	if weight == nil {
		weight = models.NewEdgeWeight(improvement.EdgeType)
	}

	restored := improvement.BeforeWeight
	previous := weight.Weight
	weight.Weight = restored
	weight.UpdatedAt = time.Now().UTC()
	if err := a.weights.Upsert(ctx, weight); err != nil {
		return err
	}
	if err := a.cache.InvalidateEdgeWeight(ctx, improvement.EdgeType); err != nil {
		a.logger.WithError(err).WithField("edge_type", improvement.EdgeType).Debug("Weight cache not invalidated")
	}

	history := &models.WeightHistory{
		EdgeType:  improvement.EdgeType,
		Season:    improvement.Season,
		OldWeight: previous,
		NewWeight: restored,
		Reason:    "[ROLLBACK] " + reason,
	}
	if err := a.weights.AppendHistory(ctx, history); err != nil {
		return err
	}

	if err := a.improvements.MarkRolledBack(ctx, improvementID, reason); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"improvement_id":  improvementID,
		"edge_type":       improvement.EdgeType,
		"restored_weight": restored,
		"reason":          reason,
	}).Info("Improvement rolled back")

	return nil
}

// TrackImpact compares analyzed-prediction accuracy before and after the
// improvement's applied timestamp and records the comparison.
func (a *ImprovementAgent) TrackImpact(ctx context.Context, improvementID uint) (*models.ImprovementImpact, error) {
	improvement, err := a.improvements.GetApplied(ctx, improvementID)
	if err != nil {
		return nil, err
	}
	if improvement == nil {
		return nil, ErrImprovementNotFound
	}

	before, after, err := a.analyses.HitRateAround(ctx, improvement.AppliedAt)
	if err != nil {
		return nil, err
	}

	impact := &models.ImprovementImpact{
		ImprovementID:     improvementID,
		PredictionsBefore: before.Total,
		PredictionsAfter:  after.Total,
		AccuracyBefore:    roundedHitRate(before.Correct, before.Total),
		AccuracyAfter:     roundedHitRate(after.Correct, after.Total),
	}
	impact.ImprovementDetected = impact.AccuracyAfter > impact.AccuracyBefore

	if err := a.improvements.UpdateImpact(ctx, improvementID, *impact); err != nil {
		return nil, err
	}
	return impact, nil
}

// buildContextDocument serializes weights, open patterns and worst misses
// into the structured text the recommendation service analyzes.
func (a *ImprovementAgent) buildContextDocument(ctx context.Context, season int) (string, error) {
	weights, err := a.weights.GetAll(ctx)
	if err != nil {
		return "", err
	}

	var patterns []models.DetectedPattern
	if a.patterns != nil {
		patterns, err = a.patterns.ListOpen(ctx, []string{models.PatternSeverityCritical, models.PatternSeverityConcerning})
		if err != nil {
			return "", err
		}
	}

	var misses []models.PredictionAnalysis
	if a.analyses != nil {
		misses, err = a.analyses.ListWorstMisses(ctx, season, worstMissLimit)
		if err != nil {
			return "", err
		}
	}

	var doc strings.Builder
	fmt.Fprintf(&doc, "# Calibration review, season %d\n\n", season)

	doc.WriteString("## Current edge weights\n")
	if len(weights) == 0 {
		doc.WriteString("(no calibrated weights yet)\n")
	}
	for _, w := range weights {
		fmt.Fprintf(&doc, "- %s: weight=%.2f hit_rate=%.1f%% samples=%d (QB=%.2f RB=%.2f WR=%.2f TE=%.2f)\n",
			w.EdgeType, w.Weight, w.HitRate, w.SampleSize, w.QBWeight, w.RBWeight, w.WRWeight, w.TEWeight)
	}

	doc.WriteString("\n## Open failure patterns\n")
	if len(patterns) == 0 {
		doc.WriteString("(none)\n")
	}
	for _, p := range patterns {
		fmt.Fprintf(&doc, "- [%s] %s=%s: %d/%d correct (%.1f%% hit rate)\n",
			p.Severity, p.PatternType, p.PatternKey, p.CorrectCount, p.TotalCount, p.HitRate)
	}

	doc.WriteString("\n## Worst misses\n")
	if len(misses) == 0 {
		doc.WriteString("(none)\n")
	}
	for _, m := range misses {
		fmt.Fprintf(&doc, "- week %d %s (%s, %s): recommended %s, expected rank <=%d, finished %d (diff %+d, confidence %.0f, strongest signal %s)\n",
			m.Week, m.PlayerName, m.Team, m.Role, m.Recommendation, m.ExpectedRank, m.ActualRank, m.RankDiff, m.Confidence, m.StrongestSignal)
	}

	return doc.String(), nil
}

// issueBody renders the markdown body for an escalated proposal.
func issueBody(p *models.ImprovementProposal) string {
	var body strings.Builder
	fmt.Fprintf(&body, "**Category:** %s\n**Priority:** %s\n\n", p.Category, p.Priority)
	fmt.Fprintf(&body, "%s\n\n", p.Description)
	body.WriteString("### Evidence\n")
	var evidence []string
	if len(p.Evidence) > 0 {
		// Evidence is stored as a JSON string array; fall back to raw JSON.
		if err := json.Unmarshal(p.Evidence, &evidence); err != nil {
			fmt.Fprintf(&body, "%s\n", string(p.Evidence))
		}
	}
	for _, line := range evidence {
		fmt.Fprintf(&body, "- %s\n", line)
	}
	if len(p.ProposedChange) > 0 {
		fmt.Fprintf(&body, "\n### Proposed change\n```json\n%s\n```\n", string(p.ProposedChange))
	}
	if p.ExpectedImprovement != "" {
		fmt.Fprintf(&body, "\n### Expected improvement\n%s\n", p.ExpectedImprovement)
	}
	return body.String()
}
