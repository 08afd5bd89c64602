package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"catalog-service/internal/models"
	"catalog-service/internal/repository"
	"catalog-service/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

type promotionOutcome struct {
	draft   *models.DraftProduct
	product *models.Product
	err     error
}

// PromoteSession turns every ready draft of a session into a catalog product.
// Drafts are promoted independently: a failing draft is logged and reported,
// stays ready for a retry, and never stops its siblings. The session is marked
// completed once every draft has been processed.
func (s *ImportService) PromoteSession(ctx context.Context, storeID string, sessionID uuid.UUID) (*models.PromotionResult, error) {
	session, err := s.loadSession(ctx, storeID, sessionID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	drafts, err := s.repo.ListDraftsByStatus(ctx, sessionID, models.DraftStatusReady)
	if err != nil {
		return nil, fmt.Errorf("failed to list ready drafts: %w", err)
	}

	outcomes := make([]promotionOutcome, len(drafts))
	var g errgroup.Group
	g.SetLimit(s.cfg.PromotionWorkers)
	for i := range drafts {
		draft := &drafts[i]
		g.Go(func() error {
			product, err := s.promoteDraft(ctx, session, draft)
			outcomes[i] = promotionOutcome{draft: draft, product: product, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := &models.PromotionResult{
		Created: []models.PromotedDraft{},
		Failed:  []models.FailedDraft{},
	}
	for _, o := range outcomes {
		if o.err != nil {
			result.Failed = append(result.Failed, models.FailedDraft{
				DraftID: o.draft.ID,
				Name:    o.draft.Name,
				Error:   o.err.Error(),
			})
			continue
		}
		result.Created = append(result.Created, models.PromotedDraft{
			DraftID:   o.draft.ID,
			ProductID: o.product.ID,
			Name:      o.product.Name,
		})
	}

	err = s.repo.CompleteSession(context.WithoutCancel(ctx), sessionID, len(result.Created), s.now())
	s.repo.InvalidateDrafts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete import session: %w", err)
	}

	if s.publisher != nil {
		for _, o := range outcomes {
			if o.product != nil {
				_ = s.publisher.PublishProductCreated(ctx, o.product, storeID, session.UserID)
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"sessionID": sessionID,
		"storeID":   storeID,
		"created":   len(result.Created),
		"failed":    len(result.Failed),
	}).Info("Import session promoted")
	return result, nil
}

// promoteDraft copies the draft's images to permanent storage and creates the
// product in one transaction, bounded by the promotion timeout. The outcome is
// recorded in the creation log either way.
func (s *ImportService) promoteDraft(ctx context.Context, session *models.ImportSession, draft *models.DraftProduct) (*models.Product, error) {
	log := s.logger.WithFields(logrus.Fields{
		"sessionID": session.ID,
		"draftID":   draft.ID,
	})

	draftCtx, cancel := context.WithTimeout(ctx, s.cfg.PromotionTimeout)
	defer cancel()

	product, err := s.createProduct(draftCtx, session, draft)
	if err == nil {
		return product, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("promotion timed out after %s: %w", s.cfg.PromotionTimeout, err)
	}
	log.WithError(err).Warn("Draft promotion failed")

	msg := err.Error()
	entry := &models.ProductCreationLog{
		SessionID:      session.ID,
		DraftProductID: draft.ID,
		Success:        false,
		ErrorMessage:   &msg,
	}
	if logErr := s.repo.CreateCreationLog(context.WithoutCancel(ctx), entry); logErr != nil {
		log.WithError(logErr).Error("Failed to record creation log")
	}
	return nil, err
}

func (s *ImportService) createProduct(ctx context.Context, session *models.ImportSession, draft *models.DraftProduct) (*models.Product, error) {
	name := strings.TrimSpace(draft.Name)
	if name == "" {
		return nil, errors.New(errNameRequired)
	}
	if len(draft.Images) == 0 {
		return nil, errors.New(errImageRequired)
	}

	product := &models.Product{
		ID:              uuid.New(),
		StoreID:         session.StoreID,
		Name:            name,
		Description:     draft.Description,
		Price:           draft.Price,
		StockQuantity:   draft.StockQuantity,
		CategoryID:      draft.CategoryID,
		Tags:            append(datatypes.JSONSlice[string]{}, draft.Tags...),
		Active:          true,
		ImportSessionID: &session.ID,
		CreatedByID:     &session.UserID,
	}
	if draft.SKU != nil && strings.TrimSpace(*draft.SKU) != "" {
		product.SKU = strings.TrimSpace(*draft.SKU)
	} else {
		product.SKU = fmt.Sprintf("AUTO-%d-%s", s.now().UnixMilli(), draft.ID.String()[:8])
	}

	// Images are copied before anything is written so a product never
	// references the temporary namespace.
	var copied []string
	hasPrimary := draft.PrimaryImage() != nil
	for i, img := range draft.Images {
		dst, err := storage.PermanentPath(session.StoreID, img.StoragePath)
		if err == nil {
			err = s.blobs.Copy(ctx, img.StoragePath, dst)
		}
		if err != nil {
			s.discardBlobs(ctx, copied)
			return nil, fmt.Errorf("failed to copy image %s: %w", img.OriginalFilename, err)
		}
		copied = append(copied, dst)

		product.Images = append(product.Images, models.ProductImage{
			ID:          uuid.New(),
			ProductID:   product.ID,
			URL:         s.blobs.PublicURL(dst),
			StoragePath: dst,
			Filename:    img.OriginalFilename,
			MimeType:    img.MimeType,
			FileSize:    img.FileSize,
			IsPrimary:   img.IsPrimary || (!hasPrimary && i == 0),
			SortOrder:   img.SortOrder,
		})
	}

	err := s.repo.WithTransaction(ctx, func(tx *repository.ImportRepository) error {
		if err := tx.CreateProduct(ctx, product); err != nil {
			return fmt.Errorf("failed to create product: %w", err)
		}
		if err := tx.UpdateDraft(ctx, draft.ID, map[string]interface{}{
			"status":             models.DraftStatusCreated,
			"created_product_id": product.ID,
			"validation_errors":  datatypes.JSONSlice[string]{},
		}); err != nil {
			return err
		}
		return tx.CreateCreationLog(ctx, &models.ProductCreationLog{
			SessionID:      session.ID,
			DraftProductID: draft.ID,
			ProductID:      &product.ID,
			Success:        true,
		})
	})
	if err != nil {
		s.discardBlobs(ctx, copied)
		return nil, err
	}
	return product, nil
}

// discardBlobs removes permanent copies of a draft whose promotion failed
func (s *ImportService) discardBlobs(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	if err := s.blobs.DeleteMany(context.WithoutCancel(ctx), paths); err != nil {
		s.logger.WithError(err).WithField("paths", len(paths)).Warn("Failed to remove copied images")
	}
}
