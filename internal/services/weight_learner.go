package services

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/edge-calibration/internal/models"
	"github.com/stitts-dev/edge-calibration/internal/storage"
)

// Learning parameters. Weights are scalar multipliers nudged by a closed-form
// smoothing rule, decayed toward neutral each cycle and clamped to the hard
// safety bounds.
const (
	minSampleSize     = 10
	minRoleSampleSize = 5
	learningRate      = 0.1
	baselineHitRate   = 50.0
	weightDecay       = 0.9
	confidenceSamples = 50.0
	noOpThreshold     = 0.01
)

// WeightLearner adjusts per-signal-type weights from season-to-date
// prediction outcomes.
type WeightLearner struct {
	predictions storage.PredictionRepository
	weights     storage.WeightRepository
	cache       *CacheService
	logger      *logrus.Logger
}

func NewWeightLearner(
	predictions storage.PredictionRepository,
	weights storage.WeightRepository,
	cache *CacheService,
	logger *logrus.Logger,
) *WeightLearner {
	return &WeightLearner{
		predictions: predictions,
		weights:     weights,
		cache:       cache,
		logger:      logger,
	}
}

type edgeSample struct {
	hit  bool
	role models.Role
}

// Learn recomputes weights for every signal type with enough season-to-date
// samples. Week is used for history logging only; the learner always learns
// from the full season.
func (l *WeightLearner) Learn(ctx context.Context, season, week int) (*models.LearnReport, error) {
	report := &models.LearnReport{Season: season, Week: week, Updates: []models.WeightUpdate{}}
	if l.predictions == nil || l.weights == nil {
		return report, nil
	}

	pairs, err := l.predictions.ListWithOutcomes(ctx, season, 0)
	if err != nil {
		l.logger.WithError(err).WithField("season", season).Error("Failed to load predictions for learning")
		return nil, err
	}

	samples := collectEdgeSamples(pairs)

	// Deterministic iteration order keeps history legible across runs.
	edgeTypes := make([]string, 0, len(samples))
	for edgeType := range samples {
		edgeTypes = append(edgeTypes, edgeType)
	}
	sort.Strings(edgeTypes)

	for _, edgeType := range edgeTypes {
		edgeSamples := samples[edgeType]
		if len(edgeSamples) < minSampleSize {
			l.logger.WithFields(logrus.Fields{
				"edge_type":   edgeType,
				"sample_size": len(edgeSamples),
			}).Debug("Skipping edge type below minimum sample size")
			continue
		}

		update, err := l.learnEdgeType(ctx, season, week, edgeType, edgeSamples)
		if err != nil {
			l.logger.WithError(err).WithFields(logrus.Fields{
				"season":    season,
				"edge_type": edgeType,
			}).Error("Failed to update edge weight")
			continue
		}
		if update != nil {
			report.Updates = append(report.Updates, *update)
			report.UpdatedCount++
		}
	}

	l.logger.WithFields(logrus.Fields{
		"season":        season,
		"week":          week,
		"edge_types":    len(samples),
		"updated_count": report.UpdatedCount,
	}).Info("Weight learning completed")

	return report, nil
}

// learnEdgeType applies the smoothing rule to one signal type, globally and
// per role. Returns nil when every delta fell under the no-op threshold.
func (l *WeightLearner) learnEdgeType(ctx context.Context, season, week int, edgeType string, samples []edgeSample) (*models.WeightUpdate, error) {
	current, err := l.weights.Get(ctx, edgeType)
	if err != nil {
		return nil, err
	}
	if current == nil {
		current = models.NewEdgeWeight(edgeType)
	}

	hitRate := sampleHitRate(samples)
	newWeight := computeNewWeight(current.Weight, hitRate, len(samples))
	globalChanged := math.Abs(newWeight-current.Weight) >= noOpThreshold

	roleWeights := map[string]float64{}
	roleChanged := false
	for _, role := range models.AllRoles {
		roleSamples := filterByRole(samples, role)
		if len(roleSamples) < minRoleSampleSize {
			continue
		}
		roleRate := sampleHitRate(roleSamples)
		newRoleWeight := computeNewWeight(current.RoleWeight(role), roleRate, len(roleSamples))
		if math.Abs(newRoleWeight-current.RoleWeight(role)) < noOpThreshold {
			continue
		}
		current.SetRoleWeight(role, newRoleWeight)
		roleWeights[string(role)] = newRoleWeight
		roleChanged = true
	}

	if !globalChanged && !roleChanged {
		return nil, nil
	}

	oldWeight := current.Weight
	if globalChanged {
		current.Weight = newWeight
	}
	current.HitRate = hitRate
	current.SampleSize = len(samples)
	current.UpdatedAt = time.Now().UTC()

	if err := l.weights.Upsert(ctx, current); err != nil {
		return nil, err
	}
	// Downstream scorers read weights from the cache keys; refresh on change.
	if err := l.cache.SetEdgeWeight(ctx, edgeType, current); err != nil {
		l.logger.WithError(err).WithField("edge_type", edgeType).Debug("Weight cache not refreshed")
	}

	reason := adjustmentReason(hitRate)
	if globalChanged {
		history := &models.WeightHistory{
			EdgeType:   edgeType,
			Season:     season,
			Week:       week,
			OldWeight:  oldWeight,
			NewWeight:  current.Weight,
			HitRate:    hitRate,
			SampleSize: len(samples),
			Reason:     reason,
		}
		if err := l.weights.AppendHistory(ctx, history); err != nil {
			return nil, err
		}
	}

	l.logger.WithFields(logrus.Fields{
		"edge_type":   edgeType,
		"old_weight":  oldWeight,
		"new_weight":  current.Weight,
		"hit_rate":    hitRate,
		"sample_size": len(samples),
	}).Info("Edge weight updated")

	return &models.WeightUpdate{
		EdgeType:    edgeType,
		OldWeight:   oldWeight,
		NewWeight:   current.Weight,
		HitRate:     hitRate,
		SampleSize:  len(samples),
		Reason:      reason,
		RoleWeights: roleWeights,
	}, nil
}

// GetEdgeWeight returns the current multiplier for a signal type. Absence of
// calibration data must never block downstream scoring, so unknown edge types
// and store failures both fall back to 1.0.
func (l *WeightLearner) GetEdgeWeight(ctx context.Context, edgeType string) float64 {
	if l == nil || l.weights == nil {
		return 1.0
	}
	weight, err := l.weights.Get(ctx, edgeType)
	if err != nil || weight == nil {
		return 1.0
	}
	return weight.Weight
}

// GetEdgeWeightForRole is GetEdgeWeight with the per-role multiplier.
func (l *WeightLearner) GetEdgeWeightForRole(ctx context.Context, edgeType string, role models.Role) float64 {
	if l == nil || l.weights == nil {
		return 1.0
	}
	weight, err := l.weights.Get(ctx, edgeType)
	if err != nil || weight == nil {
		return 1.0
	}
	return weight.RoleWeight(role)
}

// collectEdgeSamples isolates per-signal-type performance: one sample per
// (prediction, significant signal) pair, classified with the shared hit
// criteria.
func collectEdgeSamples(pairs []storage.PredictionPair) map[string][]edgeSample {
	samples := make(map[string][]edgeSample)
	for _, pair := range pairs {
		if pair.Outcome == nil || pair.Outcome.PositionRank == nil {
			continue
		}
		hit := IsHit(pair.Prediction.Recommendation, *pair.Outcome.PositionRank)
		for _, signal := range pair.Prediction.SignalList() {
			if math.Abs(signal.Magnitude) < LearningMagnitudeFloor {
				continue
			}
			samples[signal.Type] = append(samples[signal.Type], edgeSample{
				hit:  hit,
				role: pair.Prediction.Role,
			})
		}
	}
	return samples
}

func filterByRole(samples []edgeSample, role models.Role) []edgeSample {
	var filtered []edgeSample
	for _, s := range samples {
		if s.role == role {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func sampleHitRate(samples []edgeSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	correct := 0
	for _, s := range samples {
		if s.hit {
			correct++
		}
	}
	return float64(correct) / float64(len(samples)) * 100
}

// computeNewWeight applies the bounded smoothing rule: performance relative
// to the 50% baseline, confidence-weighted by sample size, applied on top of
// a 10% decay toward neutral, clamped to [MinWeight, MaxWeight] and rounded
// to two decimals.
func computeNewWeight(currentWeight, hitRate float64, sampleSize int) float64 {
	performanceDiff := (hitRate - baselineHitRate) / 100
	confidenceFactor := math.Min(1, float64(sampleSize)/confidenceSamples)
	adjustment := learningRate * performanceDiff * confidenceFactor

	decayedWeight := 1 + (currentWeight-1)*weightDecay
	newWeight := decayedWeight * (1 + adjustment)

	return round2(clampWeight(newWeight))
}

func clampWeight(w float64) float64 {
	return math.Min(models.MaxWeight, math.Max(models.MinWeight, w))
}

func adjustmentReason(hitRate float64) string {
	switch {
	case hitRate > baselineHitRate+10:
		return "strong performer"
	case hitRate < baselineHitRate-10:
		return "weak performer"
	default:
		return "average performer, minor adjustment"
	}
}
