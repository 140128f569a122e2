// Package repository persists completed analyses in PostgreSQL.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/admission-criteria-server/internal/domain"
)

const analysisColumns = `id, request_id, source, note_hash, score, level, thresholds, features,
	justifications, missing_criteria, rewrite_failed, processing_time_ms, created_at`

// AnalysisRepository stores the audit trail of analyses. Note text is never
// stored, only its hash.
type AnalysisRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewAnalysisRepository creates a new analysis repository
func NewAnalysisRepository(db *pgxpool.Pool, logger *logrus.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:  db,
		log: logger,
	}
}

// SaveAnalysis inserts an analysis record.
func (r *AnalysisRepository) SaveAnalysis(ctx context.Context, record *domain.AnalysisRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	thresholds, err := json.Marshal(record.Thresholds)
	if err != nil {
		return fmt.Errorf("marshaling thresholds: %w", err)
	}
	features, err := json.Marshal(record.Features)
	if err != nil {
		return fmt.Errorf("marshaling features: %w", err)
	}
	justifications, err := json.Marshal(nonNil(record.Justifications))
	if err != nil {
		return fmt.Errorf("marshaling justifications: %w", err)
	}
	missing, err := json.Marshal(nonNil(record.MissingCriteria))
	if err != nil {
		return fmt.Errorf("marshaling missing criteria: %w", err)
	}

	query := `
		INSERT INTO analyses (` + analysisColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.Exec(ctx, query,
		record.ID,
		record.RequestID,
		string(record.Source),
		record.NoteHash,
		record.Score,
		string(record.Level),
		thresholds,
		features,
		justifications,
		missing,
		record.RewriteFailed,
		record.ProcessingTimeMs,
		record.CreatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"analysis_id": record.ID,
			"request_id":  record.RequestID,
			"error":       err,
		}).Error("Failed to save analysis")
		return fmt.Errorf("saving analysis: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"analysis_id": record.ID,
		"source":      record.Source,
		"score":       record.Score,
	}).Debug("Analysis saved")

	return nil
}

// GetAnalysis retrieves an analysis by ID. Unknown and malformed IDs both
// yield domain.ErrNotFound.
func (r *AnalysisRepository) GetAnalysis(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("analysis %s: %w", id, domain.ErrNotFound)
	}

	row := r.db.QueryRow(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id)
	record, err := scanAnalysis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("analysis %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting analysis: %w", err)
	}
	return record, nil
}

// ListAnalyses returns analyses, newest first.
func (r *AnalysisRepository) ListAnalyses(ctx context.Context, limit, offset int) ([]*domain.AnalysisRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+analysisColumns+` FROM analyses ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	defer rows.Close()

	records := []*domain.AnalysisRecord{}
	for rows.Next() {
		record, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating analyses: %w", err)
	}

	return records, nil
}

func scanAnalysis(row pgx.Row) (*domain.AnalysisRecord, error) {
	var (
		record                                        domain.AnalysisRecord
		requestID                                     *string
		source, level                                 string
		thresholds, features, justifications, missing []byte
	)

	err := row.Scan(
		&record.ID,
		&requestID,
		&source,
		&record.NoteHash,
		&record.Score,
		&level,
		&thresholds,
		&features,
		&justifications,
		&missing,
		&record.RewriteFailed,
		&record.ProcessingTimeMs,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if requestID != nil {
		record.RequestID = *requestID
	}
	record.Source = domain.AnalysisSource(source)
	record.Level = domain.SupportLevel(level)

	if err := json.Unmarshal(thresholds, &record.Thresholds); err != nil {
		return nil, fmt.Errorf("decoding thresholds: %w", err)
	}
	if err := json.Unmarshal(features, &record.Features); err != nil {
		return nil, fmt.Errorf("decoding features: %w", err)
	}
	if err := json.Unmarshal(justifications, &record.Justifications); err != nil {
		return nil, fmt.Errorf("decoding justifications: %w", err)
	}
	if err := json.Unmarshal(missing, &record.MissingCriteria); err != nil {
		return nil, fmt.Errorf("decoding missing criteria: %w", err)
	}

	return &record, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
