package services

import (
	"context"
	"encoding/json"
	"testing"

	"catalog-service/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func rawFields(t *testing.T, fields map[string]interface{}) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		out[k] = raw
	}
	return out
}

func TestUpdateDraft_AppliesEditableFields(t *testing.T) {
	env := newTestEnv(t)
	session, drafts := env.upload(t, "camisa-1.jpg", "camisa-2.jpg")

	updated, err := env.svc.UpdateDraft(context.Background(), testStoreID, drafts[0].ID, rawFields(t, map[string]interface{}{
		"name":          "  Camisa Polo  ",
		"price":         4990,
		"stockQuantity": 7,
		"categoryId":    "cat-shirts",
		"tags":          []string{"polo", " ", "algodao"},
		"groupKey":      "ignored",
		"id":            uuid.New().String(),
	}))

	require.NoError(t, err)
	assert.Equal(t, "Camisa Polo", updated.Name)
	assert.Equal(t, int64(4990), *updated.Price)
	assert.Equal(t, 7, *updated.StockQuantity)
	assert.Equal(t, "cat-shirts", *updated.CategoryID)
	assert.Equal(t, []string{"polo", "algodao"}, []string(updated.Tags))
	assert.Equal(t, "camisa", updated.GroupKey)
	assert.Equal(t, drafts[0].ID, updated.ID)
	assert.Equal(t, models.ImportStatusReview, env.session(t, session.ID).Status)
}

func TestUpdateDraft_WithoutEditableFieldsIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	_, drafts := env.upload(t, "camisa.jpg")

	updated, err := env.svc.UpdateDraft(context.Background(), testStoreID, drafts[0].ID, rawFields(t, map[string]interface{}{
		"groupKey":  "other",
		"sortOrder": 99,
	}))

	require.NoError(t, err)
	assert.Equal(t, drafts[0].Name, updated.Name)
	assert.Equal(t, drafts[0].SortOrder, updated.SortOrder)
}

func TestUpdateDraft_ResetsValidatedDraft(t *testing.T) {
	env := newTestEnv(t)
	session, drafts := env.upload(t, "camisa.jpg")
	_, err := env.svc.ValidateSession(context.Background(), testStoreID, session.ID)
	require.NoError(t, err)
	require.Equal(t, models.DraftStatusReady, env.draft(t, drafts[0].ID).Status)

	updated, err := env.svc.UpdateDraft(context.Background(), testStoreID, drafts[0].ID, rawFields(t, map[string]interface{}{
		"description": "Nova descricao",
	}))

	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusDraft, updated.Status)
	assert.Empty(t, updated.ValidationErrors)
	assert.Equal(t, "Nova descricao", *updated.Description)
}

func TestUpdateDraft_Rejections(t *testing.T) {
	env := newTestEnv(t)
	_, drafts := env.upload(t, "camisa.jpg", "saia.jpg")
	ctx := context.Background()

	_, err := env.svc.UpdateDraft(ctx, testStoreID, drafts[0].ID, rawFields(t, map[string]interface{}{"status": "ready"}))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.svc.UpdateDraft(ctx, testStoreID, drafts[0].ID, rawFields(t, map[string]interface{}{"price": "cheap"}))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.svc.UpdateDraft(ctx, "other-store", drafts[0].ID, rawFields(t, map[string]interface{}{"name": "x"}))
	assert.ErrorIs(t, err, ErrNotFound)

	env.setStatus(t, drafts[1].ID, models.DraftStatusCreated)
	_, err = env.svc.UpdateDraft(ctx, testStoreID, drafts[1].ID, rawFields(t, map[string]interface{}{"name": "x"}))
	assert.ErrorIs(t, err, ErrAlreadyPromoted)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSplitGroup_MovesPrimaryWithImages(t *testing.T) {
	env := newTestEnv(t)
	_, drafts := env.upload(t, "vestido-1.jpg", "vestido-2.jpg", "vestido-3.jpg", "saia.jpg")
	source := drafts[0]
	require.Len(t, source.Images, 3)
	_, err := env.svc.UpdateDraft(context.Background(), testStoreID, source.ID, rawFields(t, map[string]interface{}{"price": 1000, "tags": []string{"festa"}}))
	require.NoError(t, err)

	created, err := env.svc.SplitGroup(context.Background(), testStoreID, source.ID,
		[]uuid.UUID{source.Images[0].ID, source.Images[2].ID})

	require.NoError(t, err)
	assert.Equal(t, "Vestido (split)", created.Name)
	assert.Equal(t, models.DraftStatusDraft, created.Status)
	assert.Equal(t, int64(1000), *created.Price)
	assert.Equal(t, []string{"festa"}, []string(created.Tags))
	require.NotNil(t, created.SplitFromID)
	assert.Equal(t, source.ID, *created.SplitFromID)
	assert.Equal(t, 0.5, created.SortOrder)
	require.Len(t, created.Images, 2)
	assert.Equal(t, 1, primaryCount(created))
	assert.Equal(t, source.Images[0].ID, created.PrimaryImage().ID)

	remaining := env.draft(t, source.ID)
	require.Len(t, remaining.Images, 1)
	assert.Equal(t, 1, primaryCount(remaining))
	assert.Equal(t, source.Images[1].ID, remaining.PrimaryImage().ID)

	ordered := env.drafts(t, source.SessionID)
	require.Len(t, ordered, 3)
	assert.Equal(t, []uuid.UUID{source.ID, created.ID, drafts[1].ID},
		[]uuid.UUID{ordered[0].ID, ordered[1].ID, ordered[2].ID})
}

func TestSplitGroup_PromotesFirstMovedImageWhenPrimaryStays(t *testing.T) {
	env := newTestEnv(t)
	_, drafts := env.upload(t, "vestido-1.jpg", "vestido-2.jpg", "vestido-3.jpg")
	source := drafts[0]

	created, err := env.svc.SplitGroup(context.Background(), testStoreID, source.ID,
		[]uuid.UUID{source.Images[2].ID, source.Images[1].ID})

	require.NoError(t, err)
	assert.Equal(t, 1.0, created.SortOrder)
	assert.Equal(t, 1, primaryCount(created))
	assert.Equal(t, source.Images[1].ID, created.PrimaryImage().ID)

	remaining := env.draft(t, source.ID)
	require.Len(t, remaining.Images, 1)
	assert.Equal(t, source.Images[0].ID, remaining.PrimaryImage().ID)
}

func TestSplitGroup_Rejections(t *testing.T) {
	env := newTestEnv(t)
	_, drafts := env.upload(t, "vestido-1.jpg", "vestido-2.jpg", "saia.jpg")
	ctx := context.Background()

	_, err := env.svc.SplitGroup(ctx, testStoreID, drafts[0].ID, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.svc.SplitGroup(ctx, testStoreID, drafts[0].ID, []uuid.UUID{drafts[1].Images[0].ID})
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, err = env.svc.SplitGroup(ctx, testStoreID, uuid.New(), []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, env.drafts(t, drafts[0].SessionID), 2)
	assert.Len(t, env.draft(t, drafts[0].ID).Images, 2)
}

func TestMergeGroups_TargetPrimaryWins(t *testing.T) {
	env := newTestEnv(t)
	_, drafts := env.upload(t, "camisa-1.jpg", "camisa-2.jpg", "blusa-1.jpg", "blusa-2.jpg")
	target, source := drafts[0], drafts[1]

	err := env.svc.MergeGroups(context.Background(), testStoreID, target.ID, source.ID)

	require.NoError(t, err)
	merged := env.draft(t, target.ID)
	require.Len(t, merged.Images, 4)
	assert.Equal(t, 1, primaryCount(merged))
	assert.Equal(t, target.Images[0].ID, merged.PrimaryImage().ID)
	assert.Equal(t, []int{0, 1, 2, 3}, []int{
		merged.Images[0].SortOrder, merged.Images[1].SortOrder,
		merged.Images[2].SortOrder, merged.Images[3].SortOrder,
	})
	assert.Equal(t, source.Images[0].ID, merged.Images[2].ID)
	assert.Equal(t, []string{"camisa-1.jpg", "camisa-2.jpg", "blusa-1.jpg", "blusa-2.jpg"}, []string(merged.SourceFilenames))

	_, err = env.repo.GetDraft(context.Background(), source.ID)
	assert.Error(t, err)
}

func TestMergeGroups_SourcePrimaryKeptWhenTargetHasNone(t *testing.T) {
	env := newTestEnv(t)
	_, drafts := env.upload(t, "camisa-1.jpg", "camisa-2.jpg", "blusa-1.jpg", "blusa-2.jpg")
	target, source := drafts[0], drafts[1]
	require.NoError(t, env.db.Model(&models.DraftImage{}).Where("draft_product_id = ?", target.ID).Update("is_primary", false).Error)
	require.NoError(t, env.repo.SetPrimaryImage(context.Background(), source.ID, source.Images[1].ID))

	err := env.svc.MergeGroups(context.Background(), testStoreID, target.ID, source.ID)

	require.NoError(t, err)
	merged := env.draft(t, target.ID)
	assert.Equal(t, 1, primaryCount(merged))
	assert.Equal(t, source.Images[1].ID, merged.PrimaryImage().ID)
}

func TestMergeGroups_Rejections(t *testing.T) {
	env := newTestEnv(t)
	_, drafts := env.upload(t, "camisa.jpg", "blusa.jpg")
	_, others := env.upload(t, "saia.jpg")
	ctx := context.Background()

	err := env.svc.MergeGroups(ctx, testStoreID, drafts[0].ID, drafts[0].ID)
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = env.svc.MergeGroups(ctx, testStoreID, drafts[0].ID, others[0].ID)
	assert.ErrorIs(t, err, ErrInvalidReference)

	err = env.svc.MergeGroups(ctx, testStoreID, drafts[0].ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, env.drafts(t, drafts[0].SessionID), 2)
}

func TestChangePrimaryImage(t *testing.T) {
	env := newTestEnv(t)
	_, drafts := env.upload(t, "camisa-1.jpg", "camisa-2.jpg", "blusa.jpg")
	d := drafts[0]

	require.NoError(t, env.svc.ChangePrimaryImage(context.Background(), testStoreID, d.ID, d.Images[1].ID))

	updated := env.draft(t, d.ID)
	assert.Equal(t, 1, primaryCount(updated))
	assert.Equal(t, d.Images[1].ID, updated.PrimaryImage().ID)

	err := env.svc.ChangePrimaryImage(context.Background(), testStoreID, d.ID, drafts[1].Images[0].ID)
	assert.ErrorIs(t, err, ErrInvalidReference)
	assert.Equal(t, d.Images[1].ID, env.draft(t, d.ID).PrimaryImage().ID)
}

func TestApplyBatchDefaults_OnlyTouchesDraftsAndDefinedFields(t *testing.T) {
	env := newTestEnv(t)
	session, drafts := env.upload(t, "a.jpg", "b.jpg", "c.jpg")
	ctx := context.Background()
	_, err := env.svc.UpdateDraft(ctx, testStoreID, drafts[0].ID, rawFields(t, map[string]interface{}{"stockQuantity": 5}))
	require.NoError(t, err)
	_, err = env.svc.UpdateDraft(ctx, testStoreID, drafts[2].ID, rawFields(t, map[string]interface{}{"stockQuantity": 10}))
	require.NoError(t, err)
	env.setStatus(t, drafts[2].ID, models.DraftStatusReady)

	n, err := env.svc.ApplyBatchDefaults(ctx, testStoreID, session.ID, models.DraftDefaults{Price: int64Ptr(1990)})

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	a, b, c := env.draft(t, drafts[0].ID), env.draft(t, drafts[1].ID), env.draft(t, drafts[2].ID)
	assert.Equal(t, int64(1990), *a.Price)
	assert.Equal(t, int64(1990), *b.Price)
	assert.Nil(t, c.Price)
	assert.Equal(t, 5, *a.StockQuantity)
	assert.Nil(t, b.StockQuantity)
	assert.Equal(t, 10, *c.StockQuantity)
	assert.Equal(t, models.DraftStatusReady, c.Status)

	stored := env.session(t, session.ID)
	assert.Equal(t, int64(1990), *stored.DefaultSettings.Data().Price)
}

func TestApplyBatchDefaults_EmptyIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	session, _ := env.upload(t, "a.jpg")

	n, err := env.svc.ApplyBatchDefaults(context.Background(), testStoreID, session.ID, models.DraftDefaults{})

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.ImportStatusGrouping, env.session(t, session.ID).Status)
}

func TestDeleteDraft(t *testing.T) {
	env := newTestEnv(t)
	session, drafts := env.upload(t, "a.jpg", "b-1.jpg", "b-2.jpg")
	ctx := context.Background()

	require.NoError(t, env.svc.DeleteDraft(ctx, testStoreID, drafts[1].ID))

	remaining := env.drafts(t, session.ID)
	require.Len(t, remaining, 1)
	var images int64
	require.NoError(t, env.db.Model(&models.DraftImage{}).Where("session_id = ?", session.ID).Count(&images).Error)
	assert.Equal(t, int64(1), images)

	env.setStatus(t, drafts[0].ID, models.DraftStatusCreated)
	assert.ErrorIs(t, env.svc.DeleteDraft(ctx, testStoreID, drafts[0].ID), ErrAlreadyPromoted)
	assert.ErrorIs(t, env.svc.DeleteDraft(ctx, testStoreID, drafts[1].ID), ErrNotFound)
}

func TestApplyBatchDefaults_BlankCategoryClearsIt(t *testing.T) {
	env := newTestEnv(t)
	session, drafts := env.upload(t, "a.jpg")
	ctx := context.Background()
	_, err := env.svc.UpdateDraft(ctx, testStoreID, drafts[0].ID, rawFields(t, map[string]interface{}{"categoryId": "cat-x"}))
	require.NoError(t, err)

	_, err = env.svc.ApplyBatchDefaults(ctx, testStoreID, session.ID, models.DraftDefaults{CategoryID: strPtr("  ")})
	require.NoError(t, err)
	assert.Nil(t, env.draft(t, drafts[0].ID).CategoryID)

	_, err = env.svc.IngestUpload(ctx, testStoreID, session.ID, imageFiles("b.jpg"))
	require.NoError(t, err)
	for _, d := range env.drafts(t, session.ID) {
		assert.Nil(t, d.CategoryID, d.Name)
	}

	_, err = env.svc.UpdateDraft(ctx, testStoreID, drafts[0].ID, rawFields(t, map[string]interface{}{"categoryId": ""}))
	require.NoError(t, err)
	assert.Nil(t, env.draft(t, drafts[0].ID).CategoryID)
}

func TestApplyBatchDefaults_MergesSettingsWrittenWhileWaiting(t *testing.T) {
	env := newTestEnv(t)
	session, _ := env.upload(t, "a.jpg")
	ctx := context.Background()

	unlock := env.svc.locks.lock(session.ID)
	done := make(chan error, 1)
	go func() {
		_, err := env.svc.ApplyBatchDefaults(ctx, testStoreID, session.ID, models.DraftDefaults{Price: int64Ptr(1990)})
		done <- err
	}()
	waitForWaiters(t, env.svc.locks, session.ID, 2)
	require.NoError(t, env.repo.UpdateSession(ctx, session.ID, map[string]interface{}{
		"default_settings": datatypes.NewJSONType(models.DraftDefaults{StockQuantity: intPtr(3)}),
	}))
	unlock()
	require.NoError(t, <-done)

	defaults := env.session(t, session.ID).DefaultSettings.Data()
	require.NotNil(t, defaults.Price)
	require.NotNil(t, defaults.StockQuantity)
	assert.Equal(t, int64(1990), *defaults.Price)
	assert.Equal(t, 3, *defaults.StockQuantity)
}

func TestSessionTotalGroups_FollowsSplitMergeAndDelete(t *testing.T) {
	env := newTestEnv(t)
	session, drafts := env.upload(t, "vestido-1.jpg", "vestido-2.jpg", "camisa.jpg")
	ctx := context.Background()
	require.Len(t, drafts, 2)
	require.Equal(t, 2, env.session(t, session.ID).TotalGroups)

	vestido := drafts[0]
	require.Len(t, vestido.Images, 2)
	split, err := env.svc.SplitGroup(ctx, testStoreID, vestido.ID, []uuid.UUID{vestido.Images[1].ID})
	require.NoError(t, err)
	assert.Equal(t, 3, env.session(t, session.ID).TotalGroups)

	require.NoError(t, env.svc.MergeGroups(ctx, testStoreID, vestido.ID, split.ID))
	assert.Equal(t, 2, env.session(t, session.ID).TotalGroups)

	require.NoError(t, env.svc.DeleteDraft(ctx, testStoreID, vestido.ID))
	stored := env.session(t, session.ID)
	assert.Equal(t, 1, stored.TotalGroups)
	assert.Equal(t, 3, stored.TotalFiles)
	assert.Len(t, env.drafts(t, session.ID), stored.TotalGroups)
}
