package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"catalog-service/internal/models"
	"catalog-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// draftFieldColumns maps the editable request keys to their columns. Keys not
// listed here are ignored.
var draftFieldColumns = map[string]string{
	"name":           "name",
	"description":    "description",
	"sku":            "sku",
	"price":          "price",
	"stockQuantity":  "stock_quantity",
	"stock_quantity": "stock_quantity",
	"categoryId":     "category_id",
	"category_id":    "category_id",
	"category":       "category_id",
	"tags":           "tags",
	"status":         "status",
}

// resetForEdit returns a draft that was already validated to draft status.
// Any content change needs a fresh validation before promotion.
func resetForEdit(draft *models.DraftProduct, fields map[string]interface{}) {
	if draft.Status == models.DraftStatusReady || draft.Status == models.DraftStatusError {
		fields["status"] = models.DraftStatusDraft
		fields["validation_errors"] = datatypes.JSONSlice[string]{}
	}
}

func decodeDraftField(column string, raw json.RawMessage) (interface{}, error) {
	switch column {
	case "name":
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return strings.TrimSpace(v), nil
	case "description":
		var v *string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "sku", "category_id":
		var v *string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return blankToNil(v), nil
	case "price":
		var v *int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "stock_quantity":
		var v *int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "tags":
		var v []string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return cleanTags(v), nil
	case "status":
		var v models.DraftStatus
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		if v != models.DraftStatusDraft {
			return nil, fmt.Errorf("status can only be set to %q", models.DraftStatusDraft)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unsupported field")
}

// blankToNil trims v and maps an empty value to nil so blank references are
// stored as NULL.
func blankToNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func cleanTags(tags []string) datatypes.JSONSlice[string] {
	cleaned := datatypes.JSONSlice[string]{}
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return cleaned
}

// UpdateDraft applies a partial update restricted to the editable fields.
// Unknown keys are ignored; an update without editable keys changes nothing.
func (s *ImportService) UpdateDraft(ctx context.Context, storeID string, draftID uuid.UUID, fields map[string]json.RawMessage) (*models.DraftProduct, error) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		if _, ok := draftFieldColumns[key]; ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	updates := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		column := draftFieldColumns[key]
		value, err := decodeDraftField(column, fields[key])
		if err != nil {
			return nil, inputErrorf("invalid value for %s: %v", key, err)
		}
		updates[column] = value
	}

	draft, err := s.loadDraft(ctx, storeID, draftID)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return draft, nil
	}

	unlock := s.locks.lock(draft.SessionID)
	defer unlock()

	err = s.repo.WithTransaction(ctx, func(tx *repository.ImportRepository) error {
		current, err := tx.GetDraft(ctx, draftID)
		if err != nil {
			return err
		}
		if current.Status == models.DraftStatusCreated {
			return ErrAlreadyPromoted
		}
		if _, explicit := updates["status"]; explicit {
			updates["validation_errors"] = datatypes.JSONSlice[string]{}
		} else {
			resetForEdit(current, updates)
		}
		if err := tx.UpdateDraft(ctx, draftID, updates); err != nil {
			return err
		}
		return s.touchSession(ctx, tx, current.SessionID)
	})
	if err != nil {
		return nil, s.editError(err, draftID)
	}

	s.repo.InvalidateDrafts(ctx, draft.SessionID)
	return s.repo.GetDraft(ctx, draftID)
}

// SplitGroup moves the given images out of a draft into a new draft of the
// same session. The new draft copies price, stock, category and tags.
//
// Both drafts end up with exactly one primary image whenever they own images:
// the new draft keeps the moved primary or promotes its first moved image, and
// the source promotes its first remaining image if it lost its primary.
func (s *ImportService) SplitGroup(ctx context.Context, storeID string, draftID uuid.UUID, imageIDs []uuid.UUID) (*models.DraftProduct, error) {
	if len(imageIDs) == 0 {
		return nil, inputErrorf("imageIds must not be empty")
	}

	draft, err := s.loadDraft(ctx, storeID, draftID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(draft.SessionID)
	defer unlock()

	var created *models.DraftProduct
	err = s.repo.WithTransaction(ctx, func(tx *repository.ImportRepository) error {
		source, err := tx.GetDraft(ctx, draftID)
		if err != nil {
			return err
		}
		if source.Status == models.DraftStatusCreated {
			return ErrAlreadyPromoted
		}

		wanted := make(map[uuid.UUID]bool, len(imageIDs))
		for _, id := range imageIDs {
			wanted[id] = true
		}
		var moved, remaining []models.DraftImage
		for _, img := range source.Images {
			if wanted[img.ID] {
				moved = append(moved, img)
				delete(wanted, img.ID)
			} else {
				remaining = append(remaining, img)
			}
		}
		if len(wanted) > 0 {
			return referenceErrorf("%d image(s) do not belong to draft %s", len(wanted), draftID)
		}

		sortOrder := source.SortOrder + 1
		if next, ok, err := tx.NextSortOrder(ctx, source.SessionID, source.SortOrder); err != nil {
			return err
		} else if ok {
			sortOrder = (source.SortOrder + next) / 2
		}

		created = &models.DraftProduct{
			ID:               uuid.New(),
			SessionID:        source.SessionID,
			GroupKey:         source.GroupKey + "-split",
			Name:             strings.TrimSpace(source.Name + " (split)"),
			Price:            source.Price,
			StockQuantity:    source.StockQuantity,
			CategoryID:       source.CategoryID,
			Tags:             append(datatypes.JSONSlice[string]{}, source.Tags...),
			Status:           models.DraftStatusDraft,
			SortOrder:        sortOrder,
			ValidationErrors: datatypes.JSONSlice[string]{},
			SourceFilenames:  datatypes.JSONSlice[string]{},
			SplitFromID:      &source.ID,
		}
		for _, img := range moved {
			created.SourceFilenames = append(created.SourceFilenames, img.OriginalFilename)
		}
		if err := tx.CreateDraft(ctx, created); err != nil {
			return err
		}

		primaryID := moved[0].ID
		sourceLostPrimary := true
		for _, img := range moved {
			if img.IsPrimary {
				primaryID = img.ID
			}
		}
		for _, img := range remaining {
			if img.IsPrimary {
				sourceLostPrimary = false
			}
		}
		for i, img := range moved {
			if err := tx.MoveImage(ctx, img.ID, created.ID, i, img.ID == primaryID); err != nil {
				return err
			}
		}
		if len(remaining) > 0 && sourceLostPrimary {
			if err := tx.SetPrimaryImage(ctx, source.ID, remaining[0].ID); err != nil {
				return err
			}
		}

		sourceUpdates := map[string]interface{}{}
		resetForEdit(source, sourceUpdates)
		if len(sourceUpdates) > 0 {
			if err := tx.UpdateDraft(ctx, source.ID, sourceUpdates); err != nil {
				return err
			}
		}
		if err := tx.AddSessionTotals(ctx, source.SessionID, 0, 1); err != nil {
			return err
		}
		return s.touchSession(ctx, tx, source.SessionID)
	})
	if err != nil {
		return nil, s.editError(err, draftID)
	}

	s.repo.InvalidateDrafts(ctx, draft.SessionID)
	s.logger.WithFields(logrus.Fields{
		"sessionID": draft.SessionID,
		"draftID":   draftID,
		"newDraft":  created.ID,
		"images":    len(imageIDs),
	}).Info("Draft split")
	return s.repo.GetDraft(ctx, created.ID)
}

// MergeGroups moves every image of the source draft after the target's images
// and deletes the source. The target's primary image wins; if the target had
// none the source's primary is kept.
func (s *ImportService) MergeGroups(ctx context.Context, storeID string, targetID, sourceID uuid.UUID) error {
	if targetID == sourceID {
		return inputErrorf("a draft cannot be merged into itself")
	}

	target, err := s.loadDraft(ctx, storeID, targetID)
	if err != nil {
		return err
	}
	source, err := s.loadDraft(ctx, storeID, sourceID)
	if err != nil {
		return err
	}
	if target.SessionID != source.SessionID {
		return referenceErrorf("drafts %s and %s belong to different import sessions", targetID, sourceID)
	}

	unlock := s.locks.lock(target.SessionID)
	defer unlock()

	err = s.repo.WithTransaction(ctx, func(tx *repository.ImportRepository) error {
		target, err := tx.GetDraft(ctx, targetID)
		if err != nil {
			return err
		}
		source, err := tx.GetDraft(ctx, sourceID)
		if err != nil {
			return err
		}
		if target.Status == models.DraftStatusCreated || source.Status == models.DraftStatusCreated {
			return ErrAlreadyPromoted
		}

		next := 0
		for _, img := range target.Images {
			if img.SortOrder >= next {
				next = img.SortOrder + 1
			}
		}
		hasPrimary := target.PrimaryImage() != nil
		for i, img := range source.Images {
			keep := !hasPrimary && img.IsPrimary
			if err := tx.MoveImage(ctx, img.ID, target.ID, next+i, keep); err != nil {
				return err
			}
			hasPrimary = hasPrimary || keep
		}
		if !hasPrimary {
			combined := append(append([]models.DraftImage{}, target.Images...), source.Images...)
			if len(combined) > 0 {
				if err := tx.SetPrimaryImage(ctx, target.ID, combined[0].ID); err != nil {
					return err
				}
			}
		}

		updates := map[string]interface{}{
			"source_filenames": append(append(datatypes.JSONSlice[string]{}, target.SourceFilenames...), source.SourceFilenames...),
		}
		resetForEdit(target, updates)
		if err := tx.UpdateDraft(ctx, target.ID, updates); err != nil {
			return err
		}
		if err := tx.DeleteDraft(ctx, source.ID); err != nil {
			return err
		}
		if err := tx.AddSessionTotals(ctx, target.SessionID, 0, -1); err != nil {
			return err
		}
		return s.touchSession(ctx, tx, target.SessionID)
	})
	if err != nil {
		return s.editError(err, targetID)
	}

	s.repo.InvalidateDrafts(ctx, target.SessionID)
	s.logger.WithFields(logrus.Fields{
		"sessionID": target.SessionID,
		"targetID":  targetID,
		"sourceID":  sourceID,
	}).Info("Drafts merged")
	return nil
}

// ChangePrimaryImage makes imageID the only primary image of a draft
func (s *ImportService) ChangePrimaryImage(ctx context.Context, storeID string, draftID, imageID uuid.UUID) error {
	draft, err := s.loadDraft(ctx, storeID, draftID)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(draft.SessionID)
	defer unlock()

	err = s.repo.WithTransaction(ctx, func(tx *repository.ImportRepository) error {
		current, err := tx.GetDraft(ctx, draftID)
		if err != nil {
			return err
		}
		if current.Status == models.DraftStatusCreated {
			return ErrAlreadyPromoted
		}

		owned := false
		for _, img := range current.Images {
			if img.ID == imageID {
				owned = true
				break
			}
		}
		if !owned {
			return referenceErrorf("image %s does not belong to draft %s", imageID, draftID)
		}

		if err := tx.SetPrimaryImage(ctx, draftID, imageID); err != nil {
			return err
		}
		updates := map[string]interface{}{}
		resetForEdit(current, updates)
		if len(updates) > 0 {
			if err := tx.UpdateDraft(ctx, draftID, updates); err != nil {
				return err
			}
		}
		return s.touchSession(ctx, tx, current.SessionID)
	})
	if err != nil {
		return s.editError(err, draftID)
	}

	s.repo.InvalidateDrafts(ctx, draft.SessionID)
	return nil
}

// ApplyBatchDefaults overwrites every defined field of defaults on each draft
// of the session that is still in draft status. Undefined fields are left
// untouched. The defaults are also merged into the session settings so later
// uploads pick them up. It returns the number of drafts updated.
func (s *ImportService) ApplyBatchDefaults(ctx context.Context, storeID string, sessionID uuid.UUID, defaults models.DraftDefaults) (int64, error) {
	if _, err := s.loadSession(ctx, storeID, sessionID); err != nil {
		return 0, err
	}
	if defaults.IsEmpty() {
		return 0, nil
	}

	fields := map[string]interface{}{}
	if defaults.Price != nil {
		fields["price"] = *defaults.Price
	}
	if defaults.StockQuantity != nil {
		fields["stock_quantity"] = *defaults.StockQuantity
	}
	if defaults.CategoryID != nil {
		fields["category_id"] = blankToNil(defaults.CategoryID)
	}
	if defaults.Tags != nil {
		fields["tags"] = cleanTags(*defaults.Tags)
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	var updated int64
	err := s.repo.WithTransaction(ctx, func(tx *repository.ImportRepository) error {
		n, err := tx.UpdateDraftsWithStatus(ctx, sessionID, models.DraftStatusDraft, fields)
		if err != nil {
			return err
		}
		updated = n

		session, err := tx.GetSessionByID(ctx, sessionID)
		if err != nil {
			return err
		}
		merged := session.DefaultSettings.Data().Merge(defaults)
		if err := tx.UpdateSession(ctx, sessionID, map[string]interface{}{
			"default_settings": datatypes.NewJSONType(merged),
		}); err != nil {
			return err
		}
		return s.touchSession(ctx, tx, sessionID)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to apply defaults: %w", err)
	}

	s.repo.InvalidateDrafts(ctx, sessionID)
	s.logger.WithFields(logrus.Fields{
		"sessionID": sessionID,
		"drafts":    updated,
	}).Info("Batch defaults applied")
	return updated, nil
}

// DeleteDraft removes a draft and its images. The temporary blobs are reclaimed
// by the session cleanup.
func (s *ImportService) DeleteDraft(ctx context.Context, storeID string, draftID uuid.UUID) error {
	draft, err := s.loadDraft(ctx, storeID, draftID)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(draft.SessionID)
	defer unlock()

	err = s.repo.WithTransaction(ctx, func(tx *repository.ImportRepository) error {
		current, err := tx.GetDraft(ctx, draftID)
		if err != nil {
			return err
		}
		if current.Status == models.DraftStatusCreated {
			return ErrAlreadyPromoted
		}
		if err := tx.DeleteDraft(ctx, draftID); err != nil {
			return err
		}
		if err := tx.AddSessionTotals(ctx, current.SessionID, 0, -1); err != nil {
			return err
		}
		return s.touchSession(ctx, tx, current.SessionID)
	})
	if err != nil {
		return s.editError(err, draftID)
	}

	s.repo.InvalidateDrafts(ctx, draft.SessionID)
	return nil
}

// editError keeps caller-visible errors intact and wraps storage errors
func (s *ImportService) editError(err error, draftID uuid.UUID) error {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidReference), errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: draft %s", ErrNotFound, draftID)
	}
	return fmt.Errorf("failed to update draft %s: %w", draftID, err)
}
