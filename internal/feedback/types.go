// Package feedback stores clinician feedback on suggested admission support
// levels. A reviewer either agrees with the suggested level or records the
// level they would have chosen.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/admission-criteria-server/internal/domain"
)

// ErrFeedbackNotFound is returned when no feedback exists for a note.
var ErrFeedbackNotFound = fmt.Errorf("feedback: %w", domain.ErrNotFound)

// Feedback represents a clinician's review of one analyzed note.
type Feedback struct {
	ID             int64               `json:"id,omitempty"`
	NoteHash       string              `json:"note_hash"`       // sha256 of the note; note text is never stored
	SuggestedLevel domain.SupportLevel `json:"suggested_level"` // System's suggestion
	UserLevel      domain.SupportLevel `json:"user_level"`      // Reviewer's decision
	UserAgreed     bool                `json:"user_agreed"`
	Score          int                 `json:"score"`
	Notes          string              `json:"notes,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Validate checks the fields a store relies on and derives UserAgreed.
func (f *Feedback) Validate() error {
	if f.NoteHash == "" {
		return domain.NewValidationError("note_hash", "note hash is required", f.NoteHash)
	}
	if !f.SuggestedLevel.IsValid() {
		return domain.NewValidationError("suggested_level", "unknown support level", string(f.SuggestedLevel))
	}
	if !f.UserLevel.IsValid() {
		return domain.NewValidationError("user_level", "unknown support level", string(f.UserLevel))
	}
	f.UserAgreed = f.SuggestedLevel == f.UserLevel
	return nil
}

// Store defines the interface for feedback storage operations.
type Store interface {
	// Save stores or updates feedback. Feedback for an already reviewed note
	// replaces the earlier review.
	Save(ctx context.Context, feedback *Feedback) error

	// Get retrieves the feedback for a note hash or ErrFeedbackNotFound.
	Get(ctx context.Context, noteHash string) (*Feedback, error)

	// List returns feedback entries, newest first.
	List(ctx context.Context, limit, offset int) ([]*Feedback, error)

	// Count returns the total number of feedback entries.
	Count(ctx context.Context) (int64, error)

	// Delete removes a feedback entry by ID.
	Delete(ctx context.Context, id int64) error

	// ExportJSON exports all feedback to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports feedback from a JSON reader, skipping notes that
	// already have feedback.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// FeedbackExport represents the JSON export format.
type FeedbackExport struct {
	Version    string      `json:"version"`
	ExportedAt time.Time   `json:"exported_at"`
	Count      int         `json:"count"`
	Feedback   []*Feedback `json:"feedback"`
}

const (
	exportVersion = "1.0"

	// maxExportLimit is the maximum number of entries to export at once.
	maxExportLimit = 1000000
)

func exportJSON(ctx context.Context, store Store, writer io.Writer) error {
	all, err := store.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list feedback: %w", err)
	}

	export := &FeedbackExport{
		Version:    exportVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Feedback:   all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importJSON(ctx context.Context, store Store, reader io.Reader) (imported int, skipped int, err error) {
	var export FeedbackExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, fb := range export.Feedback {
		if fb == nil {
			skipped++
			continue
		}

		_, err := store.Get(ctx, fb.NoteHash)
		if err == nil {
			skipped++
			continue
		}
		if !errors.Is(err, ErrFeedbackNotFound) {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}

		if err := fb.Validate(); err != nil {
			skipped++
			continue
		}
		if err := store.Save(ctx, fb); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}
