package services

import (
	"context"
	"fmt"
	"strings"

	"catalog-service/internal/models"
	"catalog-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	errNameRequired  = "name is required"
	errImageRequired = "at least one image is required"
	errNegativePrice = "price must not be negative"
)

// validateDraft evaluates every promotion rule; a draft may fail several at once
func validateDraft(draft *models.DraftProduct) []string {
	var errs []string
	if strings.TrimSpace(draft.Name) == "" {
		errs = append(errs, errNameRequired)
	}
	if len(draft.Images) == 0 {
		errs = append(errs, errImageRequired)
	}
	if draft.Price != nil && *draft.Price < 0 {
		errs = append(errs, errNegativePrice)
	}
	return errs
}

// ValidateSession re-evaluates every draft of a session that has not been
// promoted. Passing drafts become ready, failing drafts become error with
// their reasons recorded. Rule violations are reported, never returned as errors.
func (s *ImportService) ValidateSession(ctx context.Context, storeID string, sessionID uuid.UUID) (*models.ValidationReport, error) {
	if _, err := s.loadSession(ctx, storeID, sessionID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	report := &models.ValidationReport{Errors: []models.DraftValidationError{}}
	err := s.repo.WithTransaction(ctx, func(tx *repository.ImportRepository) error {
		drafts, err := tx.ListDraftsByStatus(ctx, sessionID,
			models.DraftStatusDraft, models.DraftStatusReady, models.DraftStatusError)
		if err != nil {
			return err
		}
		report.Total = len(drafts)

		for i := range drafts {
			draft := &drafts[i]
			errs := validateDraft(draft)

			fields := map[string]interface{}{
				"status":            models.DraftStatusReady,
				"validation_errors": datatypes.JSONSlice[string]{},
			}
			if len(errs) > 0 {
				fields["status"] = models.DraftStatusError
				fields["validation_errors"] = datatypes.JSONSlice[string](errs)
				report.Errors = append(report.Errors, models.DraftValidationError{
					DraftID:   draft.ID,
					DraftName: draft.Name,
					Errors:    errs,
				})
			}
			if err := tx.UpdateDraft(ctx, draft.ID, fields); err != nil {
				return err
			}
		}
		return s.touchSession(ctx, tx, sessionID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to validate drafts: %w", err)
	}
	report.Valid = len(report.Errors) == 0 && report.Total > 0

	s.repo.InvalidateDrafts(ctx, sessionID)
	s.logger.WithFields(logrus.Fields{
		"sessionID": sessionID,
		"total":     report.Total,
		"invalid":   len(report.Errors),
	}).Info("Import session validated")
	return report, nil
}
