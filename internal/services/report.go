package services

import (
	"context"
	"fmt"
	"strings"

	"catalog-service/internal/models"
	"github.com/google/uuid"
)

// BuildReport returns one row per draft of a session describing where it ended
// up: promoted, ready, rejected by validation or failed during promotion.
func (s *ImportService) BuildReport(ctx context.Context, storeID string, sessionID uuid.UUID) ([]models.ImportReportRow, error) {
	if _, err := s.loadSession(ctx, storeID, sessionID); err != nil {
		return nil, err
	}

	drafts, err := s.repo.ListDraftsByStatus(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	logs, err := s.repo.ListCreationLogs(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list creation logs: %w", err)
	}

	// logs are oldest first, so the last failure per draft wins
	lastFailure := make(map[uuid.UUID]string)
	for _, l := range logs {
		if !l.Success && l.ErrorMessage != nil {
			lastFailure[l.DraftProductID] = *l.ErrorMessage
		}
	}

	rows := make([]models.ImportReportRow, 0, len(drafts))
	for _, d := range drafts {
		row := models.ImportReportRow{
			DraftID:    d.ID,
			Name:       d.Name,
			Status:     d.Status,
			ImageCount: len(d.Images),
		}
		switch d.Status {
		case models.DraftStatusCreated:
			if d.CreatedProductID != nil {
				row.ProductID = d.CreatedProductID.String()
			}
		case models.DraftStatusError:
			row.Message = strings.Join(d.ValidationErrors, "; ")
		case models.DraftStatusReady:
			row.Message = lastFailure[d.ID]
		}
		rows = append(rows, row)
	}
	return rows, nil
}
