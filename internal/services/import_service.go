package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"catalog-service/internal/grouping"
	"catalog-service/internal/models"
	"catalog-service/internal/repository"
	"catalog-service/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrInvalidReference = errors.New("invalid reference")
	ErrAlreadyPromoted  = fmt.Errorf("%w: draft has already been promoted", ErrInvalidInput)
)

// uploadWorkers bounds concurrent blob uploads within one upload batch
const uploadWorkers = 4

// Config tunes limits and timeouts of the import pipeline
type Config struct {
	MaxFiles         int
	MaxFileBytes     int64
	UploadTimeout    time.Duration
	PromotionTimeout time.Duration
	PromotionWorkers int
}

func DefaultConfig() Config {
	return Config{
		MaxFiles:         200,
		MaxFileBytes:     10 * 1024 * 1024,
		UploadTimeout:    30 * time.Second,
		PromotionTimeout: 60 * time.Second,
		PromotionWorkers: 4,
	}
}

// ProductEventPublisher announces products created by a promotion
type ProductEventPublisher interface {
	PublishProductCreated(ctx context.Context, product *models.Product, storeID, actorID string) error
}

// UploadFile is one file of an upload batch
type UploadFile struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// CreateImportInput starts a new import session
type CreateImportInput struct {
	StoreID  string
	UserID   string
	Defaults *models.DraftDefaults
}

// ImportService runs the bulk import pipeline: upload, grouping, draft
// editing, validation, promotion and cleanup.
type ImportService struct {
	repo      *repository.ImportRepository
	blobs     storage.BlobStore
	publisher ProductEventPublisher
	logger    *logrus.Entry
	cfg       Config
	locks     *sessionLocks
	now       func() time.Time
}

func NewImportService(repo *repository.ImportRepository, blobs storage.BlobStore, logger *logrus.Logger, cfg Config) *ImportService {
	defaults := DefaultConfig()
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = defaults.MaxFiles
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = defaults.MaxFileBytes
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaults.UploadTimeout
	}
	if cfg.PromotionTimeout <= 0 {
		cfg.PromotionTimeout = defaults.PromotionTimeout
	}
	if cfg.PromotionWorkers <= 0 {
		cfg.PromotionWorkers = defaults.PromotionWorkers
	}

	return &ImportService{
		repo:   repo,
		blobs:  blobs,
		logger: logger.WithField("component", "bulk-import"),
		cfg:    cfg,
		locks:  newSessionLocks(),
		now:    time.Now,
	}
}

// SetEventPublisher enables product.created events
func (s *ImportService) SetEventPublisher(publisher ProductEventPublisher) {
	s.publisher = publisher
}

func inputErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func referenceErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidReference, fmt.Sprintf(format, args...))
}

func (s *ImportService) loadSession(ctx context.Context, storeID string, sessionID uuid.UUID) (*models.ImportSession, error) {
	session, err := s.repo.GetSession(ctx, storeID, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: import session %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load import session: %w", err)
	}
	return session, nil
}

// loadDraft loads a draft and checks that its session belongs to storeID
func (s *ImportService) loadDraft(ctx context.Context, storeID string, draftID uuid.UUID) (*models.DraftProduct, error) {
	draft, err := s.repo.GetDraft(ctx, draftID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: draft %s", ErrNotFound, draftID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}
	if _, err := s.repo.GetSession(ctx, storeID, draft.SessionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: draft %s", ErrNotFound, draftID)
		}
		return nil, fmt.Errorf("failed to load import session: %w", err)
	}
	return draft, nil
}

// CreateImport opens a new import session in status uploading
func (s *ImportService) CreateImport(ctx context.Context, input CreateImportInput) (*models.ImportSession, error) {
	if strings.TrimSpace(input.StoreID) == "" {
		return nil, inputErrorf("store id is required")
	}
	if strings.TrimSpace(input.UserID) == "" {
		return nil, inputErrorf("user id is required")
	}

	var defaults models.DraftDefaults
	if input.Defaults != nil {
		defaults = *input.Defaults
	}

	session := &models.ImportSession{
		StoreID:         input.StoreID,
		UserID:          input.UserID,
		Status:          models.ImportStatusUploading,
		DefaultSettings: datatypes.NewJSONType(defaults),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create import session: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"sessionID": session.ID,
		"storeID":   session.StoreID,
	}).Info("Import session created")
	return session, nil
}

// GetImport returns a session with its draft counts per status
func (s *ImportService) GetImport(ctx context.Context, storeID string, sessionID uuid.UUID) (*models.ImportSummary, error) {
	session, err := s.loadSession(ctx, storeID, sessionID)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountDraftsByStatus(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count drafts: %w", err)
	}
	return &models.ImportSummary{Session: session, DraftCounts: counts}, nil
}

// ListDrafts returns the drafts of a session with their images
func (s *ImportService) ListDrafts(ctx context.Context, storeID string, sessionID uuid.UUID) ([]models.DraftProduct, error) {
	if _, err := s.loadSession(ctx, storeID, sessionID); err != nil {
		return nil, err
	}
	drafts, err := s.repo.ListDrafts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}

// ListCreationLogs returns the promotion log of a session
func (s *ImportService) ListCreationLogs(ctx context.Context, storeID string, sessionID uuid.UUID) ([]models.ProductCreationLog, error) {
	if _, err := s.loadSession(ctx, storeID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListCreationLogs(ctx, sessionID)
}

type storedFile struct {
	filename    string
	path        string
	url         string
	size        int64
	contentType string
}

// storeResult is the outcome of storing one file; exactly one field is set
type storeResult struct {
	stored  *storedFile
	failure *models.FileFailure
}

// IngestUpload stores files in the session's temporary namespace, groups them
// by filename and creates one draft per group. Files that cannot be stored are
// reported and left out of every group.
func (s *ImportService) IngestUpload(ctx context.Context, storeID string, sessionID uuid.UUID, files []UploadFile) (*models.UploadResult, error) {
	if len(files) == 0 {
		return nil, inputErrorf("at least one file is required")
	}
	if len(files) > s.cfg.MaxFiles {
		return nil, inputErrorf("too many files: %d (max %d)", len(files), s.cfg.MaxFiles)
	}

	session, err := s.loadSession(ctx, storeID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.ImportStatusCompleted {
		return nil, inputErrorf("import session %s is already completed", sessionID)
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	// A promotion may have completed the session while this upload waited.
	session, err = s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load import session: %w", err)
	}
	if session.Status == models.ImportStatusCompleted {
		return nil, inputErrorf("import session %s is already completed", sessionID)
	}

	log := s.logger.WithFields(logrus.Fields{"sessionID": sessionID, "storeID": storeID})
	previousStatus := session.Status

	if err := s.repo.UpdateSession(ctx, sessionID, map[string]interface{}{"status": models.ImportStatusProcessing}); err != nil {
		return nil, fmt.Errorf("failed to update import session: %w", err)
	}

	results := make([]storeResult, len(files))
	var g errgroup.Group
	g.SetLimit(uploadWorkers)
	for i, f := range files {
		g.Go(func() error {
			results[i] = s.storeFile(ctx, sessionID, f)
			return nil
		})
	}
	_ = g.Wait()

	result := &models.UploadResult{Drafts: []models.DraftProduct{}}
	var stored []storedFile
	for _, r := range results {
		if r.failure != nil {
			log.WithField("filename", r.failure.Filename).Warn("Skipping file: " + r.failure.Error)
			result.Failed = append(result.Failed, *r.failure)
			continue
		}
		stored = append(stored, *r.stored)
	}
	result.StoredFiles = len(stored)

	if len(stored) == 0 {
		if err := s.repo.UpdateSession(ctx, sessionID, map[string]interface{}{"status": previousStatus}); err != nil {
			return nil, fmt.Errorf("failed to update import session: %w", err)
		}
		return result, nil
	}

	groups := grouping.GroupFiles(stored, func(f storedFile) string { return f.filename })
	defaults := session.DefaultSettings.Data()

	err = s.repo.WithTransaction(ctx, func(tx *repository.ImportRepository) error {
		start := 0.0
		if highest, ok, err := tx.MaxSortOrder(ctx, sessionID); err != nil {
			return err
		} else if ok {
			start = highest + 1
		}

		for i, group := range groups {
			draft := newDraft(sessionID, group, start+float64(i), defaults)
			if err := tx.CreateDraft(ctx, draft); err != nil {
				return err
			}
			result.Drafts = append(result.Drafts, *draft)
		}

		if err := tx.AddSessionTotals(ctx, sessionID, len(stored), len(groups)); err != nil {
			return err
		}
		return tx.UpdateSession(ctx, sessionID, map[string]interface{}{
			"status":        models.ImportStatusGrouping,
			"error_message": nil,
		})
	})
	if err != nil {
		s.markSessionError(ctx, sessionID, err)
		return nil, fmt.Errorf("failed to create drafts: %w", err)
	}

	s.repo.InvalidateDrafts(ctx, sessionID)
	log.WithFields(logrus.Fields{
		"files":  len(stored),
		"groups": len(groups),
		"failed": len(result.Failed),
	}).Info("Upload grouped into drafts")
	return result, nil
}

func (s *ImportService) storeFile(ctx context.Context, sessionID uuid.UUID, f UploadFile) storeResult {
	fail := func(msg string) storeResult {
		return storeResult{failure: &models.FileFailure{Filename: f.Filename, Error: msg}}
	}

	contentType := f.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(strings.ToLower(path.Ext(f.Filename)))
	}
	if !strings.HasPrefix(contentType, "image/") {
		return fail("unsupported file type")
	}
	if f.Size > s.cfg.MaxFileBytes {
		return fail(fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileBytes))
	}

	body, err := f.Open()
	if err != nil {
		return fail("failed to read file: " + err.Error())
	}
	defer body.Close()

	putCtx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()

	blobPath := storage.TempPath(sessionID, f.Filename)
	url, err := s.blobs.Put(putCtx, blobPath, body, f.Size, contentType)
	if err != nil {
		return fail("failed to store file: " + err.Error())
	}

	return storeResult{stored: &storedFile{
		filename:    f.Filename,
		path:        blobPath,
		url:         url,
		size:        f.Size,
		contentType: contentType,
	}}
}

func newDraft(sessionID uuid.UUID, group grouping.Group[storedFile], sortOrder float64, defaults models.DraftDefaults) *models.DraftProduct {
	draft := &models.DraftProduct{
		ID:              uuid.New(),
		SessionID:       sessionID,
		GroupKey:        group.Key,
		Name:            grouping.ProductName(group.Key),
		Tags:            datatypes.JSONSlice[string]{},
		Status:          models.DraftStatusDraft,
		SortOrder:       sortOrder,
		SourceFilenames: datatypes.JSONSlice[string]{},
	}
	draft.Price = defaults.Price
	draft.StockQuantity = defaults.StockQuantity
	draft.CategoryID = blankToNil(defaults.CategoryID)
	if defaults.Tags != nil {
		draft.Tags = append(datatypes.JSONSlice[string]{}, (*defaults.Tags)...)
	}

	for i, f := range group.Files {
		draft.SourceFilenames = append(draft.SourceFilenames, f.filename)
		draft.Images = append(draft.Images, models.DraftImage{
			ID:               uuid.New(),
			SessionID:        sessionID,
			StoragePath:      f.path,
			URL:              f.url,
			Filename:         path.Base(f.path),
			OriginalFilename: f.filename,
			FileSize:         f.size,
			MimeType:         f.contentType,
			IsPrimary:        i == 0,
			SortOrder:        i,
		})
	}
	return draft
}

func (s *ImportService) markSessionError(ctx context.Context, sessionID uuid.UUID, cause error) {
	msg := cause.Error()
	err := s.repo.UpdateSession(context.WithoutCancel(ctx), sessionID, map[string]interface{}{
		"status":        models.ImportStatusError,
		"error_message": msg,
	})
	if err != nil {
		s.logger.WithField("sessionID", sessionID).WithError(err).Error("Failed to record import session error")
	}
}

// touchSession moves a freshly grouped session into review once the operator
// starts working on it.
func (s *ImportService) touchSession(ctx context.Context, tx *repository.ImportRepository, sessionID uuid.UUID) error {
	session, err := tx.GetSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.ImportStatusGrouping {
		return nil
	}
	return tx.UpdateSession(ctx, sessionID, map[string]interface{}{"status": models.ImportStatusReview})
}

// sessionLocks serializes structural operations per import session
type sessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[uuid.UUID]*sessionLock)}
}

func (l *sessionLocks) lock(sessionID uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &sessionLock{}
		l.locks[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}
}
