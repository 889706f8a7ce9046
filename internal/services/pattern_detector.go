package services

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/edge-calibration/internal/models"
	"github.com/stitts-dev/edge-calibration/internal/storage"
)

// Minimum group sizes before a cross-section is considered a pattern.
const (
	minTeamGroupSize    = 3
	minGenericGroupSize = 5
	minFactorOccurrence = 2
	maxSampleIDs        = 5
)

// PatternDetector computes per-prediction deep analyses and mines them for
// systematic failure modes across teams, roles, signals, recommendation
// buckets and confidence tiers.
type PatternDetector struct {
	predictions storage.PredictionRepository
	analyses    storage.AnalysisRepository
	patterns    storage.PatternRepository
	notifier    Notifier
	logger      *logrus.Logger
}

func NewPatternDetector(
	predictions storage.PredictionRepository,
	analyses storage.AnalysisRepository,
	patterns storage.PatternRepository,
	notifier Notifier,
	logger *logrus.Logger,
) *PatternDetector {
	return &PatternDetector{
		predictions: predictions,
		analyses:    analyses,
		patterns:    patterns,
		notifier:    notifier,
		logger:      logger,
	}
}

// Analyze computes analyses for predictions not yet analyzed (idempotent:
// re-running over the same season/week produces zero new rows), then re-mines
// the season's full analyzed set for patterns.
func (d *PatternDetector) Analyze(ctx context.Context, season, week int) (*models.AnalyzeReport, error) {
	report := &models.AnalyzeReport{Season: season, Week: week}
	if d.predictions == nil || d.analyses == nil || d.patterns == nil {
		return report, nil
	}

	pairs, err := d.predictions.ListWithOutcomes(ctx, season, week)
	if err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{"season": season, "week": week}).
			Error("Failed to load predictions for analysis")
		return nil, err
	}

	analyzed, err := d.analyses.AnalyzedIDs(ctx, season, week)
	if err != nil {
		return nil, err
	}

	var fresh []models.PredictionAnalysis
	for _, pair := range pairs {
		if pair.Outcome == nil || pair.Outcome.PositionRank == nil {
			continue
		}
		if _, done := analyzed[pair.Prediction.ID]; done {
			continue
		}
		analysis, err := analyzePrediction(pair.Prediction, *pair.Outcome)
		if err != nil {
			d.logger.WithError(err).WithField("prediction_id", pair.Prediction.ID).
				Error("Failed to analyze prediction")
			continue
		}
		fresh = append(fresh, *analysis)
	}

	if err := d.analyses.SaveBatch(ctx, fresh); err != nil {
		return nil, err
	}
	report.AnalyzedCount = len(fresh)

	detected, err := d.minePatterns(ctx, season)
	if err != nil {
		return nil, err
	}
	report.PatternsDetected = detected

	d.logger.WithFields(logrus.Fields{
		"season":            season,
		"week":              week,
		"analyzed_count":    report.AnalyzedCount,
		"patterns_detected": report.PatternsDetected,
	}).Info("Pattern detection completed")

	return report, nil
}

// analyzePrediction derives severity, breakout signals and qualitative
// contributing factors for one prediction/outcome pair.
func analyzePrediction(pred models.Prediction, outcome models.Outcome) (*models.PredictionAnalysis, error) {
	rank := *outcome.PositionRank
	expected := ExpectedRank(pred.Recommendation)
	rankDiff := rank - expected
	hit := IsHit(pred.Recommendation, rank)

	analysis := &models.PredictionAnalysis{
		PredictionID:   pred.ID,
		Season:         pred.Season,
		Week:           pred.Week,
		PlayerName:     pred.PlayerName,
		Team:           pred.Team,
		Role:           pred.Role,
		Recommendation: pred.Recommendation,
		Confidence:     pred.Confidence,
		Hit:            hit,
		ExpectedRank:   expected,
		ActualRank:     rank,
		RankDiff:       rankDiff,
		Severity:       severityFor(hit, rankDiff),
		GameTime:       pred.GameTime,
	}

	strongest, weakest := breakoutSignals(pred.SignalList())
	if strongest != nil {
		analysis.StrongestSignal = strongest.Type
		analysis.StrongestMagnitude = strongest.Magnitude
	}
	if weakest != nil {
		analysis.WeakestSignal = weakest.Type
	}

	if err := analysis.SetFactors(contributingFactors(pred, analysis)); err != nil {
		return nil, err
	}
	return analysis, nil
}

// severityFor buckets how far a miss deviated from expectation, or how
// strongly a hit beat it.
func severityFor(hit bool, rankDiff int) string {
	if hit {
		if rankDiff <= -5 {
			return models.SeveritySmashHit
		}
		return models.SeverityHit
	}
	switch {
	case rankDiff >= 20:
		return models.SeverityBadMiss
	case rankDiff >= 12:
		return models.SeverityMajorMiss
	case rankDiff >= 6:
		return models.SeverityMinorMiss
	default:
		return models.SeverityMiss
	}
}

// breakoutSignals picks the strongest and weakest contributing signals by
// absolute magnitude.
func breakoutSignals(signals []models.EdgeSignal) (strongest, weakest *models.EdgeSignal) {
	for i := range signals {
		s := &signals[i]
		if strongest == nil || math.Abs(s.Magnitude) > math.Abs(strongest.Magnitude) {
			strongest = s
		}
		if weakest == nil || math.Abs(s.Magnitude) < math.Abs(weakest.Magnitude) {
			weakest = s
		}
	}
	return strongest, weakest
}

// contributingFactors flags qualitative failure ingredients used by the
// factor-mining pass and the improvement agent context.
func contributingFactors(pred models.Prediction, analysis *models.PredictionAnalysis) []string {
	var factors []string
	if pred.EdgeScore > 0 && !analysis.Hit {
		factors = append(factors, "positive edge but outcome was poor")
	}
	if pred.Confidence >= 80 && analysis.RankDiff >= 12 {
		factors = append(factors, "high confidence but large miss")
	}
	if pred.Role == models.RoleQB && (analysis.Severity == models.SeverityBadMiss || analysis.Severity == models.SeverityMajorMiss) {
		factors = append(factors, "QB bust")
	}
	significant := false
	for _, s := range pred.SignalList() {
		if math.Abs(s.Magnitude) >= LearningMagnitudeFloor {
			significant = true
			break
		}
	}
	if !significant {
		factors = append(factors, "no significant signals present")
	}
	return factors
}

// minePatterns groups the season's analyzed set along the five cross-sections
// plus the bad-miss contributing-factor pass, upserting statistically weak
// groups. Healthy groups are not persisted.
func (d *PatternDetector) minePatterns(ctx context.Context, season int) (int, error) {
	analyses, err := d.analyses.ListBySeason(ctx, season)
	if err != nil {
		return 0, err
	}
	if len(analyses) == 0 {
		return 0, nil
	}

	detected := 0
	crossSections := []struct {
		patternType string
		minSize     int
		keyFn       func(a *models.PredictionAnalysis) string
	}{
		{models.PatternTypeTeam, minTeamGroupSize, func(a *models.PredictionAnalysis) string { return a.Team }},
		{models.PatternTypeRole, minGenericGroupSize, func(a *models.PredictionAnalysis) string { return string(a.Role) }},
		{models.PatternTypeEdgeType, minGenericGroupSize, func(a *models.PredictionAnalysis) string { return a.StrongestSignal }},
		{models.PatternTypeRecommendation, minGenericGroupSize, func(a *models.PredictionAnalysis) string { return string(a.Recommendation) }},
		{models.PatternTypeConfidenceTier, minGenericGroupSize, func(a *models.PredictionAnalysis) string { return ConfidenceTier(a.Confidence) }},
	}

	for _, section := range crossSections {
		groups := make(map[string][]*models.PredictionAnalysis)
		for i := range analyses {
			a := &analyses[i]
			key := section.keyFn(a)
			if key == "" {
				continue
			}
			groups[key] = append(groups[key], a)
		}
		n, err := d.persistWeakGroups(ctx, section.patternType, groups, section.minSize)
		if err != nil {
			return detected, err
		}
		detected += n
	}

	n, err := d.mineFactors(ctx, analyses)
	if err != nil {
		return detected, err
	}
	detected += n

	return detected, nil
}

// persistWeakGroups upserts groups whose hit rate falls under the severity
// thresholds.
func (d *PatternDetector) persistWeakGroups(ctx context.Context, patternType string, groups map[string][]*models.PredictionAnalysis, minSize int) (int, error) {
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	detected := 0
	for _, key := range keys {
		group := groups[key]
		if len(group) < minSize {
			continue
		}
		correct := 0
		for _, a := range group {
			if a.Hit {
				correct++
			}
		}
		hitRate := roundedHitRate(correct, len(group))
		severity := patternSeverity(hitRate)
		if severity == "" {
			continue
		}

		pattern := &models.DetectedPattern{
			PatternType:  patternType,
			PatternKey:   key,
			TotalCount:   len(group),
			CorrectCount: correct,
			HitRate:      hitRate,
			Severity:     severity,
		}
		if err := pattern.SetSampleIDs(sampleIDs(group)); err != nil {
			return detected, err
		}
		if err := d.patterns.Upsert(ctx, pattern); err != nil {
			return detected, err
		}
		detected++

		if severity == models.PatternSeverityCritical {
			d.alertCritical(patternType, key, hitRate, len(group))
		}
	}
	return detected, nil
}

// mineFactors mines bad and major misses for shared contributing factors.
func (d *PatternDetector) mineFactors(ctx context.Context, analyses []models.PredictionAnalysis) (int, error) {
	factorHits := make(map[string][]*models.PredictionAnalysis)
	for i := range analyses {
		a := &analyses[i]
		if a.Severity != models.SeverityBadMiss && a.Severity != models.SeverityMajorMiss {
			continue
		}
		for _, factor := range a.FactorList() {
			factorHits[factor] = append(factorHits[factor], a)
		}
	}

	factors := make([]string, 0, len(factorHits))
	for factor := range factorHits {
		factors = append(factors, factor)
	}
	sort.Strings(factors)

	detected := 0
	for _, factor := range factors {
		group := factorHits[factor]
		if len(group) < minFactorOccurrence {
			continue
		}
		severity := models.PatternSeverityConcerning
		if len(group) >= minGenericGroupSize {
			severity = models.PatternSeverityCritical
		}
		pattern := &models.DetectedPattern{
			PatternType:  models.PatternTypeContribFactor,
			PatternKey:   factor,
			TotalCount:   len(group),
			CorrectCount: 0,
			HitRate:      0,
			Severity:     severity,
		}
		if err := pattern.SetSampleIDs(sampleIDs(group)); err != nil {
			return detected, err
		}
		if err := d.patterns.Upsert(ctx, pattern); err != nil {
			return detected, err
		}
		detected++

		if severity == models.PatternSeverityCritical {
			d.alertCritical(models.PatternTypeContribFactor, factor, 0, len(group))
		}
	}
	return detected, nil
}

func (d *PatternDetector) alertCritical(patternType, key string, hitRate float64, total int) {
	if d.notifier == nil {
		return
	}
	msg := fmt.Sprintf("Critical prediction pattern: %s=%s (%d predictions, %.1f%% hit rate)", patternType, key, total, hitRate)
	if err := d.notifier.SendAlert(msg); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"pattern_type": patternType,
			"pattern_key":  key,
		}).Warn("Failed to send critical pattern alert")
	}
}

// patternSeverity maps a group hit rate to a severity tier; empty string
// means the group is healthy enough to skip.
func patternSeverity(hitRate float64) string {
	switch {
	case hitRate < 40:
		return models.PatternSeverityCritical
	case hitRate < 50:
		return models.PatternSeverityConcerning
	case hitRate < 55:
		return models.PatternSeverityNotable
	default:
		return ""
	}
}

func sampleIDs(group []*models.PredictionAnalysis) []uint {
	ids := make([]uint, 0, maxSampleIDs)
	for _, a := range group {
		if len(ids) == maxSampleIDs {
			break
		}
		ids = append(ids, a.PredictionID)
	}
	return ids
}
