package services

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stitts-dev/edge-calibration/internal/models"
	"github.com/stitts-dev/edge-calibration/internal/storage"
)

// newTestStore opens a fresh in-memory database with the full schema.
func newTestStore(t *testing.T) (*storage.Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))
	return storage.New(db), db
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// seedPair writes one prediction and, when rank is non-nil, its outcome.
func seedPair(t *testing.T, db *gorm.DB, p models.Prediction, rank *int, points float64) models.Prediction {
	t.Helper()
	if p.GameTime.IsZero() {
		p.GameTime = time.Date(2025, 9, 7, 13, 0, 0, 0, time.UTC)
	}
	require.NoError(t, db.Create(&p).Error)
	if rank != nil {
		outcome := models.Outcome{
			PlayerID:      p.PlayerID,
			Week:          p.Week,
			Season:        p.Season,
			FantasyPoints: points,
			PositionRank:  rank,
		}
		require.NoError(t, db.Create(&outcome).Error)
	}
	return p
}

func intPtr(v int) *int { return &v }

func mustSignals(t *testing.T, signals []models.EdgeSignal) datatypes.JSON {
	t.Helper()
	data, err := json.Marshal(signals)
	require.NoError(t, err)
	return datatypes.JSON(data)
}
