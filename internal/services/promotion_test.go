package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"catalog-service/internal/models"
	"catalog-service/internal/storage"
	"catalog-service/internal/storage/storagetesting"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	products []*models.Product
}

func (p *recordingPublisher) PublishProductCreated(ctx context.Context, product *models.Product, storeID, actorID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.products = append(p.products, product)
	return nil
}

// stalledCopyStore never finishes copies whose source matches stall
type stalledCopyStore struct {
	*storagetesting.MemoryStore
	stall func(srcPath string) bool
}

func (s *stalledCopyStore) Copy(ctx context.Context, srcPath, dstPath string) error {
	if s.stall(srcPath) {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.MemoryStore.Copy(ctx, srcPath, dstPath)
}

func (e *testEnv) validate(t *testing.T, sessionID uuid.UUID) *models.ValidationReport {
	t.Helper()
	report, err := e.svc.ValidateSession(context.Background(), testStoreID, sessionID)
	require.NoError(t, err)
	return report
}

func (e *testEnv) productCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.Product{}).Count(&n).Error)
	return n
}

func blobsWithPrefix(paths []string, prefix string) []string {
	var out []string
	for _, p := range paths {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

func TestValidateSession_ReportsEveryFailedRule(t *testing.T) {
	env := newTestEnv(t)
	session, drafts := env.upload(t, "camisa.jpg")
	blank := &models.DraftProduct{
		SessionID: session.ID,
		GroupKey:  "blank",
		Name:      "   ",
		Price:     int64Ptr(-1),
		Status:    models.DraftStatusDraft,
		SortOrder: 5,
	}
	require.NoError(t, env.repo.CreateDraft(context.Background(), blank))

	report := env.validate(t, session.ID)

	assert.False(t, report.Valid)
	assert.Equal(t, 2, report.Total)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, blank.ID, report.Errors[0].DraftID)
	assert.Equal(t, []string{errNameRequired, errImageRequired, errNegativePrice}, report.Errors[0].Errors)

	failed := env.draft(t, blank.ID)
	assert.Equal(t, models.DraftStatusError, failed.Status)
	assert.Equal(t, []string{errNameRequired, errImageRequired, errNegativePrice}, []string(failed.ValidationErrors))
	assert.Equal(t, models.DraftStatusReady, env.draft(t, drafts[0].ID).Status)
	assert.Equal(t, models.ImportStatusReview, env.session(t, session.ID).Status)
}

func TestValidateSession_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	session, _ := env.upload(t, "camisa.jpg", "saia.jpg")
	blank := &models.DraftProduct{SessionID: session.ID, GroupKey: "x", Status: models.DraftStatusDraft, SortOrder: 9}
	require.NoError(t, env.repo.CreateDraft(context.Background(), blank))

	first := env.validate(t, session.ID)
	statuses := map[uuid.UUID]models.DraftStatus{}
	for _, d := range env.drafts(t, session.ID) {
		statuses[d.ID] = d.Status
	}
	second := env.validate(t, session.ID)

	assert.Equal(t, first, second)
	for _, d := range env.drafts(t, session.ID) {
		assert.Equal(t, statuses[d.ID], d.Status)
	}
}

func TestValidateSession_FixedDraftBecomesReady(t *testing.T) {
	env := newTestEnv(t)
	session, drafts := env.upload(t, "camisa.jpg")
	_, err := env.svc.UpdateDraft(context.Background(), testStoreID, drafts[0].ID, rawFields(t, map[string]interface{}{"price": -5}))
	require.NoError(t, err)
	require.False(t, env.validate(t, session.ID).Valid)

	_, err = env.svc.UpdateDraft(context.Background(), testStoreID, drafts[0].ID, rawFields(t, map[string]interface{}{"price": 500}))
	require.NoError(t, err)
	report := env.validate(t, session.ID)

	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
	assert.Equal(t, models.DraftStatusReady, env.draft(t, drafts[0].ID).Status)
}

func TestValidateSession_EmptySessionIsNotValid(t *testing.T) {
	env := newTestEnv(t)
	session := env.createSession(t)

	report := env.validate(t, session.ID)

	assert.False(t, report.Valid)
	assert.Zero(t, report.Total)
	assert.NotNil(t, report.Errors)
}

func TestPromoteSession_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	publisher := &recordingPublisher{}
	env.svc.SetEventPublisher(publisher)
	session, drafts := env.upload(t, "vestido-azul-1.jpg", "vestido-azul-2.jpg", "camisa.jpg")
	_, err := env.svc.UpdateDraft(context.Background(), testStoreID, drafts[0].ID, rawFields(t, map[string]interface{}{
		"price": 12990,
		"sku":   "VEST-AZ",
	}))
	require.NoError(t, err)
	require.NoError(t, env.svc.ChangePrimaryImage(context.Background(), testStoreID, drafts[0].ID, drafts[0].Images[1].ID))

	report := env.validate(t, session.ID)
	require.True(t, report.Valid)
	result, err := env.svc.PromoteSession(context.Background(), testStoreID, session.ID)

	require.NoError(t, err)
	require.Len(t, result.Created, 2)
	assert.Empty(t, result.Failed)
	assert.Len(t, publisher.products, 2)

	stored := env.session(t, session.ID)
	assert.Equal(t, models.ImportStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.TotalProductsCreated)
	assert.NotNil(t, stored.CompletedAt)

	promoted := env.draft(t, drafts[0].ID)
	assert.Equal(t, models.DraftStatusCreated, promoted.Status)
	require.NotNil(t, promoted.CreatedProductID)

	product, err := env.repo.GetProduct(context.Background(), testStoreID, *promoted.CreatedProductID)
	require.NoError(t, err)
	assert.Equal(t, "Vestido Azul", product.Name)
	assert.Equal(t, "VEST-AZ", product.SKU)
	assert.Equal(t, int64(12990), *product.Price)
	assert.True(t, product.Active)
	require.Len(t, product.Images, 2)
	for _, img := range product.Images {
		assert.True(t, strings.HasPrefix(img.StoragePath, storage.PermanentPrefix+"/"+testStoreID+"/"))
		assert.True(t, env.blobs.Has(img.StoragePath))
		assert.Equal(t, img.Filename == "vestido-azul-2.jpg", img.IsPrimary)
	}

	camisa := env.draft(t, drafts[1].ID)
	other, err := env.repo.GetProduct(context.Background(), testStoreID, *camisa.CreatedProductID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(other.SKU, "AUTO-"))

	logs, err := env.svc.ListCreationLogs(context.Background(), testStoreID, session.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.True(t, l.Success)
	}

	env.svc.CleanupTempFiles(context.Background(), session.ID)
	assert.Empty(t, blobsWithPrefix(env.blobs.Paths(), storage.SessionPrefix(session.ID)))
	assert.Len(t, blobsWithPrefix(env.blobs.Paths(), storage.PermanentPrefix+"/"), 3)
}

func TestPromoteSession_IsolatesFailingDraft(t *testing.T) {
	env := newTestEnv(t)
	session, drafts := env.upload(t, "camisa.jpg", "blusa-1.jpg", "blusa-2.jpg", "saia.jpg")
	env.validate(t, session.ID)
	env.blobs.FailCopy = func(src, dst string) bool { return strings.Contains(src, "blusa-2") }

	result, err := env.svc.PromoteSession(context.Background(), testStoreID, session.ID)

	require.NoError(t, err)
	assert.Len(t, result.Created, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, drafts[1].ID, result.Failed[0].DraftID)
	assert.Contains(t, result.Failed[0].Error, "blusa-2.jpg")

	assert.Equal(t, models.DraftStatusCreated, env.draft(t, drafts[0].ID).Status)
	assert.Equal(t, models.DraftStatusCreated, env.draft(t, drafts[2].ID).Status)
	failed := env.draft(t, drafts[1].ID)
	assert.Equal(t, models.DraftStatusReady, failed.Status)
	assert.Nil(t, failed.CreatedProductID)

	stored := env.session(t, session.ID)
	assert.Equal(t, models.ImportStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.TotalProductsCreated)
	assert.Equal(t, int64(2), env.productCount(t))

	// the copy of blusa-1 made before the failure is discarded
	for _, p := range blobsWithPrefix(env.blobs.Paths(), storage.PermanentPrefix+"/") {
		assert.NotContains(t, p, "blusa")
	}

	logs, err := env.repo.ListCreationLogs(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	var failures int
	for _, l := range logs {
		if !l.Success {
			failures++
			assert.Equal(t, drafts[1].ID, l.DraftProductID)
			require.NotNil(t, l.ErrorMessage)
		}
	}
	assert.Equal(t, 1, failures)

	env.svc.CleanupTempFiles(context.Background(), session.ID)
	temp := blobsWithPrefix(env.blobs.Paths(), storage.SessionPrefix(session.ID))
	require.Len(t, temp, 2)
	for _, p := range temp {
		assert.Contains(t, p, "blusa")
	}

	env.blobs.FailCopy = nil
	retry, err := env.svc.PromoteSession(context.Background(), testStoreID, session.ID)
	require.NoError(t, err)
	assert.Len(t, retry.Created, 1)
	assert.Empty(t, retry.Failed)
	assert.Equal(t, 3, env.session(t, session.ID).TotalProductsCreated)
}

func TestPromoteSession_TimesOutStalledDraft(t *testing.T) {
	env := newTestEnv(t)
	env.svc.blobs = &stalledCopyStore{
		MemoryStore: env.blobs,
		stall:       func(src string) bool { return strings.Contains(src, "blusa") },
	}
	env.svc.cfg.PromotionTimeout = 100 * time.Millisecond
	session, drafts := env.upload(t, "camisa.jpg", "blusa.jpg", "saia.jpg")
	env.validate(t, session.ID)

	result, err := env.svc.PromoteSession(context.Background(), testStoreID, session.ID)

	require.NoError(t, err)
	assert.Len(t, result.Created, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, drafts[1].ID, result.Failed[0].DraftID)
	assert.Contains(t, result.Failed[0].Error, "timed out after 100ms")
	assert.Equal(t, models.DraftStatusReady, env.draft(t, drafts[1].ID).Status)
	assert.Equal(t, models.DraftStatusCreated, env.draft(t, drafts[0].ID).Status)
	assert.Equal(t, models.DraftStatusCreated, env.draft(t, drafts[2].ID).Status)
	assert.Equal(t, 2, env.session(t, session.ID).TotalProductsCreated)
}

func TestPromoteSession_SplitKeepsSessionTotalsConsistent(t *testing.T) {
	env := newTestEnv(t)
	session, drafts := env.upload(t, "vestido-1.jpg", "vestido-2.jpg")
	require.Len(t, drafts, 1)
	require.Len(t, drafts[0].Images, 2)
	_, err := env.svc.SplitGroup(context.Background(), testStoreID, drafts[0].ID, []uuid.UUID{drafts[0].Images[1].ID})
	require.NoError(t, err)
	require.True(t, env.validate(t, session.ID).Valid)

	result, err := env.svc.PromoteSession(context.Background(), testStoreID, session.ID)

	require.NoError(t, err)
	assert.Len(t, result.Created, 2)
	stored := env.session(t, session.ID)
	assert.Equal(t, 2, stored.TotalProductsCreated)
	assert.Equal(t, 2, stored.TotalGroups)
	assert.LessOrEqual(t, stored.TotalProductsCreated, stored.TotalGroups)
	assert.LessOrEqual(t, stored.TotalGroups, stored.TotalFiles)
}

func TestPromoteSession_SkipsDraftsThatAreNotReady(t *testing.T) {
	env := newTestEnv(t)
	session, drafts := env.upload(t, "camisa.jpg", "saia.jpg")
	env.validate(t, session.ID)
	_, err := env.svc.UpdateDraft(context.Background(), testStoreID, drafts[1].ID, rawFields(t, map[string]interface{}{"name": "Saia Longa"}))
	require.NoError(t, err)

	result, err := env.svc.PromoteSession(context.Background(), testStoreID, session.ID)

	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, drafts[0].ID, result.Created[0].DraftID)
	assert.Equal(t, models.DraftStatusDraft, env.draft(t, drafts[1].ID).Status)
	assert.Equal(t, int64(1), env.productCount(t))
}

func TestPromoteSession_UnknownSession(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.PromoteSession(context.Background(), testStoreID, uuid.New())

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCleanupTempFiles_SwallowsStorageErrors(t *testing.T) {
	env := newTestEnv(t)
	session, _ := env.upload(t, "camisa.jpg")
	env.validate(t, session.ID)
	_, err := env.svc.PromoteSession(context.Background(), testStoreID, session.ID)
	require.NoError(t, err)

	env.blobs.FailList = true
	env.svc.CleanupTempFiles(context.Background(), session.ID)
	assert.Len(t, blobsWithPrefix(env.blobs.Paths(), storage.SessionPrefix(session.ID)), 1)

	env.blobs.FailList = false
	env.blobs.FailDelete = true
	env.svc.CleanupTempFiles(context.Background(), session.ID)
	assert.Len(t, blobsWithPrefix(env.blobs.Paths(), storage.SessionPrefix(session.ID)), 1)
}

func TestBuildReport(t *testing.T) {
	env := newTestEnv(t)
	session, drafts := env.upload(t, "camisa.jpg", "blusa.jpg", "saia.jpg")
	_, err := env.svc.UpdateDraft(context.Background(), testStoreID, drafts[2].ID, rawFields(t, map[string]interface{}{"price": -1}))
	require.NoError(t, err)
	env.validate(t, session.ID)
	env.blobs.FailCopy = func(src, dst string) bool { return strings.Contains(src, "blusa") }
	_, err = env.svc.PromoteSession(context.Background(), testStoreID, session.ID)
	require.NoError(t, err)

	rows, err := env.svc.BuildReport(context.Background(), testStoreID, session.ID)

	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, models.DraftStatusCreated, rows[0].Status)
	assert.NotEmpty(t, rows[0].ProductID)
	assert.Equal(t, 1, rows[0].ImageCount)
	assert.Equal(t, models.DraftStatusReady, rows[1].Status)
	assert.Contains(t, rows[1].Message, "blusa.jpg")
	assert.Equal(t, models.DraftStatusError, rows[2].Status)
	assert.Equal(t, errNegativePrice, rows[2].Message)
}
