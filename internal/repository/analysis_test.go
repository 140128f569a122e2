package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/admission-criteria-server/internal/database"
	"github.com/admission-criteria-server/internal/domain"
)

// generateTestPassword creates a random password for test databases
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestDB(t *testing.T) (*database.DB, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping container test in short mode")
	}
	ctx := context.Background()
	testPassword := generateTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, database.Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    testPassword,
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute * 30,
		SSLMode:     "disable",
	}, logger)
	require.NoError(t, err)

	databaseURL := fmt.Sprintf("postgres://testuser:%s@%s:%s/testdb?sslmode=disable", testPassword, host, port.Port())
	runner, err := database.NewMigrationRunner(databaseURL, "../../migrations", logger)
	require.NoError(t, err)
	require.NoError(t, runner.Up(ctx))

	cleanup := func() {
		runner.Close()
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}
	return db, cleanup
}

func newTestRepo(db *database.DB) *AnalysisRepository {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewAnalysisRepository(db.Pool, logger)
}

func sampleRecord(score int) *domain.AnalysisRecord {
	o2 := 87
	cr := 2.1
	return &domain.AnalysisRecord{
		ID:        uuid.New().String(),
		RequestID: "req-1",
		Source:    domain.SOURCE_GUIDELINE,
		NoteHash:  "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		Score:     score,
		Level:     domain.LevelForScore(score),
		Thresholds: domain.ThresholdSet{
			O2Sat: 88, Troponin: 0.04, Creatinine: 2.0, SBP: 90,
		},
		Features: domain.ClinicalFeatures{O2Sat: &o2, Creatinine: &cr},
		Justifications: []string{
			"Hypoxia: O2 sat 87% (<88% per guideline)",
			"AKI: Creatinine 2.1 (>2.0 per guideline)",
		},
		MissingCriteria: []domain.MissingCriterion{
			domain.NewMissingCriterion("Troponin", "No troponin documented", "Cardiac biomarkers"),
		},
		ProcessingTimeMs: 12,
		CreatedAt:        time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestAnalysisRepository_SaveAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := newTestRepo(db)
	ctx := context.Background()

	record := sampleRecord(5)
	require.NoError(t, repo.SaveAnalysis(ctx, record))

	got, err := repo.GetAnalysis(ctx, record.ID)
	require.NoError(t, err)

	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, domain.SOURCE_GUIDELINE, got.Source)
	assert.Equal(t, record.NoteHash, got.NoteHash)
	assert.Equal(t, 5, got.Score)
	assert.Equal(t, domain.POSSIBLY_SUPPORTED, got.Level)
	assert.Equal(t, record.Thresholds, got.Thresholds)
	require.NotNil(t, got.Features.O2Sat)
	assert.Equal(t, 87, *got.Features.O2Sat)
	assert.Nil(t, got.Features.Age)
	assert.Equal(t, record.Justifications, got.Justifications)
	assert.Equal(t, record.MissingCriteria, got.MissingCriteria)
	assert.WithinDuration(t, record.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestAnalysisRepository_Save_AssignsID(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := newTestRepo(db)
	record := sampleRecord(1)
	record.ID = ""
	record.Justifications = nil

	require.NoError(t, repo.SaveAnalysis(context.Background(), record))
	_, err := uuid.Parse(record.ID)
	assert.NoError(t, err)

	got, err := repo.GetAnalysis(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Justifications)
}

func TestAnalysisRepository_Get_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := newTestRepo(db)

	_, err := repo.GetAnalysis(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.GetAnalysis(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAnalysisRepository_List(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	repo := newTestRepo(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 3; i++ {
		record := sampleRecord(i * 3)
		record.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.SaveAnalysis(ctx, record))
	}

	records, err := repo.ListAnalyses(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 6, records[0].Score, "newest first")
	assert.Equal(t, 3, records[1].Score)

	records, err = repo.ListAnalyses(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].Score)
}
