package services

import (
	"context"

	"catalog-service/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CleanupTempFiles deletes the temporary blobs of a session. Blobs still owned
// by drafts that were not promoted are kept so those drafts can be retried.
// Failures are logged and never returned.
func (s *ImportService) CleanupTempFiles(ctx context.Context, sessionID uuid.UUID) {
	log := s.logger.WithField("sessionID", sessionID)

	unlock := s.locks.lock(sessionID)
	defer unlock()

	paths, err := s.blobs.List(ctx, storage.SessionPrefix(sessionID))
	if err != nil {
		log.WithError(err).Warn("Failed to list temporary import files")
		return
	}
	if len(paths) == 0 {
		return
	}

	pending, err := s.repo.ListPendingImagePaths(ctx, sessionID)
	if err != nil {
		log.WithError(err).Warn("Failed to load pending draft images, skipping cleanup")
		return
	}
	keep := make(map[string]bool, len(pending))
	for _, p := range pending {
		keep[p] = true
	}

	var doomed []string
	for _, p := range paths {
		if !keep[p] {
			doomed = append(doomed, p)
		}
	}
	if len(doomed) == 0 {
		return
	}

	if err := s.blobs.DeleteMany(ctx, doomed); err != nil {
		log.WithError(err).Warn("Failed to delete temporary import files")
		return
	}
	log.WithFields(logrus.Fields{
		"deleted": len(doomed),
		"kept":    len(paths) - len(doomed),
	}).Info("Temporary import files cleaned up")
}
