package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalog-service/internal/models"
	"github.com/Tesseract-Nexus/go-shared/cache"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// DraftListCacheTTL bounds how stale the review screen may get if an
// invalidation is lost.
const DraftListCacheTTL = 2 * time.Minute

const cacheKeyPrefix = "tesseract:bulk-imports:"

var ErrNotFound = errors.New("not found")

// ImportRepository persists import sessions, drafts and the products they become
type ImportRepository struct {
	db       *gorm.DB
	redis    *redis.Client
	cache    *cache.CacheLayer
	cacheTTL time.Duration
}

func NewImportRepository(db *gorm.DB, redisClient *redis.Client) *ImportRepository {
	repo := &ImportRepository{
		db:       db,
		redis:    redisClient,
		cacheTTL: DraftListCacheTTL,
	}

	if redisClient != nil {
		cacheConfig := cache.CacheConfig{
			L1Enabled:  true,
			L1MaxItems: 1000,
			L1TTL:      15 * time.Second,
			DefaultTTL: DraftListCacheTTL,
			KeyPrefix:  cacheKeyPrefix,
		}
		repo.cache = cache.NewCacheLayerFromClient(redisClient, cacheConfig)
	}

	return repo
}

// SetCacheTTL overrides the draft list cache lifetime
func (r *ImportRepository) SetCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		r.cacheTTL = ttl
	}
}

// WithTransaction runs fn against a repository bound to a single transaction
func (r *ImportRepository) WithTransaction(ctx context.Context, fn func(tx *ImportRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ImportRepository{db: tx, redis: r.redis, cache: r.cache, cacheTTL: r.cacheTTL})
	})
}

func generateDraftsCacheKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("drafts:%s", sessionID.String())
}

func generateDraftsVersionKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("drafts:version:%s", sessionID.String())
}

// InvalidateDrafts drops the cached draft list of a session. The version bump
// comes first so a list read before the change can no longer be written back.
func (r *ImportRepository) InvalidateDrafts(ctx context.Context, sessionID uuid.UUID) {
	if r.redis == nil {
		return
	}
	versionKey := cacheKeyPrefix + generateDraftsVersionKey(sessionID)
	_, _ = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Expire(ctx, versionKey, 2*r.cacheTTL)
		return nil
	})
	if r.cache != nil {
		_ = r.cache.Delete(ctx, generateDraftsCacheKey(sessionID))
	}
}

// RedisHealth returns the health status of the Redis connection
func (r *ImportRepository) RedisHealth(ctx context.Context) error {
	if r.redis == nil {
		return fmt.Errorf("redis not configured")
	}
	return r.redis.Ping(ctx).Err()
}

// CacheStats returns cache statistics, or nil when caching is disabled
func (r *ImportRepository) CacheStats() *cache.CacheStats {
	if r.cache == nil {
		return nil
	}
	stats := r.cache.Stats()
	return &stats
}

// DBHealth pings the database
func (r *ImportRepository) DBHealth(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func orderedImages(db *gorm.DB) *gorm.DB {
	return db.Order("sort_order ASC, created_at ASC")
}

// Import sessions

func (r *ImportRepository) CreateSession(ctx context.Context, session *models.ImportSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// GetSession loads a session owned by storeID
func (r *ImportRepository) GetSession(ctx context.Context, storeID string, sessionID uuid.UUID) (*models.ImportSession, error) {
	var session models.ImportSession
	err := r.db.WithContext(ctx).
		Where("id = ? AND store_id = ?", sessionID, storeID).
		First(&session).Error
	if err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

// GetSessionByID loads a session without an ownership check
func (r *ImportRepository) GetSessionByID(ctx context.Context, sessionID uuid.UUID) (*models.ImportSession, error) {
	var session models.ImportSession
	if err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error; err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

func (r *ImportRepository) UpdateSession(ctx context.Context, sessionID uuid.UUID, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.ImportSession{}).
		Where("id = ?", sessionID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddSessionTotals increments the file and group counters
func (r *ImportRepository) AddSessionTotals(ctx context.Context, sessionID uuid.UUID, files, groups int) error {
	return r.UpdateSession(ctx, sessionID, map[string]interface{}{
		"total_files":  gorm.Expr("total_files + ?", files),
		"total_groups": gorm.Expr("total_groups + ?", groups),
	})
}

// CompleteSession marks a session completed and adds created to its product counter
func (r *ImportRepository) CompleteSession(ctx context.Context, sessionID uuid.UUID, created int, completedAt time.Time) error {
	return r.UpdateSession(ctx, sessionID, map[string]interface{}{
		"status":                 models.ImportStatusCompleted,
		"total_products_created": gorm.Expr("total_products_created + ?", created),
		"completed_at":           completedAt,
		"error_message":          nil,
	})
}

// CountDraftsByStatus returns the number of drafts of a session per status
func (r *ImportRepository) CountDraftsByStatus(ctx context.Context, sessionID uuid.UUID) (map[models.DraftStatus]int64, error) {
	var rows []struct {
		Status models.DraftStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.DraftProduct{}).
		Select("status, COUNT(*) AS count").
		Where("session_id = ?", sessionID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.DraftStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Drafts

// CreateDraft inserts a draft together with its images
func (r *ImportRepository) CreateDraft(ctx context.Context, draft *models.DraftProduct) error {
	return r.db.WithContext(ctx).Create(draft).Error
}

// GetDraft loads a draft with its images ordered by sort_order
func (r *ImportRepository) GetDraft(ctx context.Context, draftID uuid.UUID) (*models.DraftProduct, error) {
	var draft models.DraftProduct
	err := r.db.WithContext(ctx).
		Preload("Images", orderedImages).
		Where("id = ?", draftID).
		First(&draft).Error
	if err != nil {
		return nil, translate(err)
	}
	return &draft, nil
}

// ListDrafts returns every draft of a session ordered by sort_order. The
// result is served from redis when available.
func (r *ImportRepository) ListDrafts(ctx context.Context, sessionID uuid.UUID) ([]models.DraftProduct, error) {
	if r.redis == nil {
		return r.ListDraftsByStatus(ctx, sessionID)
	}

	val, err := r.redis.Get(ctx, cacheKeyPrefix+generateDraftsCacheKey(sessionID)).Result()
	if err == nil {
		var drafts []models.DraftProduct
		if err := json.Unmarshal([]byte(val), &drafts); err == nil {
			return drafts, nil
		}
	}

	version := r.draftsVersion(ctx, sessionID)
	drafts, err := r.ListDraftsByStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	r.storeDrafts(ctx, sessionID, version, drafts)
	return drafts, nil
}

func (r *ImportRepository) draftsVersion(ctx context.Context, sessionID uuid.UUID) int64 {
	version, err := r.redis.Get(ctx, cacheKeyPrefix+generateDraftsVersionKey(sessionID)).Int64()
	if err != nil {
		return 0
	}
	return version
}

// storeDrafts caches a draft list read at version. Nothing is written when the
// session was invalidated since.
func (r *ImportRepository) storeDrafts(ctx context.Context, sessionID uuid.UUID, version int64, drafts []models.DraftProduct) {
	data, err := json.Marshal(drafts)
	if err != nil {
		return
	}

	cacheKey := cacheKeyPrefix + generateDraftsCacheKey(sessionID)
	versionKey := cacheKeyPrefix + generateDraftsVersionKey(sessionID)
	_ = r.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey, data, r.cacheTTL)
			return nil
		})
		return err
	}, versionKey)
}

// ListDraftsByStatus reads drafts of a session straight from the database,
// optionally restricted to the given statuses.
func (r *ImportRepository) ListDraftsByStatus(ctx context.Context, sessionID uuid.UUID, statuses ...models.DraftStatus) ([]models.DraftProduct, error) {
	query := r.db.WithContext(ctx).
		Preload("Images", orderedImages).
		Where("session_id = ?", sessionID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var drafts []models.DraftProduct
	if err := query.Order("sort_order ASC, created_at ASC").Find(&drafts).Error; err != nil {
		return nil, err
	}
	return drafts, nil
}

func (r *ImportRepository) UpdateDraft(ctx context.Context, draftID uuid.UUID, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.DraftProduct{}).
		Where("id = ?", draftID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDraftsWithStatus writes fields to every draft of a session that is in
// status and returns how many drafts were touched.
func (r *ImportRepository) UpdateDraftsWithStatus(ctx context.Context, sessionID uuid.UUID, status models.DraftStatus, fields map[string]interface{}) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.DraftProduct{}).
		Where("session_id = ? AND status = ?", sessionID, status).
		Updates(fields)
	return result.RowsAffected, result.Error
}

// DeleteDraft removes a draft and every image it owns
func (r *ImportRepository) DeleteDraft(ctx context.Context, draftID uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("draft_product_id = ?", draftID).Delete(&models.DraftImage{}).Error; err != nil {
		return err
	}
	result := db.Where("id = ?", draftID).Delete(&models.DraftProduct{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MaxSortOrder returns the highest draft sort_order of a session; ok is false
// when the session has no drafts.
func (r *ImportRepository) MaxSortOrder(ctx context.Context, sessionID uuid.UUID) (highest float64, ok bool, err error) {
	var value sql.NullFloat64
	err = r.db.WithContext(ctx).Model(&models.DraftProduct{}).
		Select("MAX(sort_order)").
		Where("session_id = ?", sessionID).
		Scan(&value).Error
	if err != nil {
		return 0, false, err
	}
	return value.Float64, value.Valid, nil
}

// NextSortOrder returns the smallest draft sort_order of a session greater than after
func (r *ImportRepository) NextSortOrder(ctx context.Context, sessionID uuid.UUID, after float64) (next float64, ok bool, err error) {
	var value sql.NullFloat64
	err = r.db.WithContext(ctx).Model(&models.DraftProduct{}).
		Select("MIN(sort_order)").
		Where("session_id = ? AND sort_order > ?", sessionID, after).
		Scan(&value).Error
	if err != nil {
		return 0, false, err
	}
	return value.Float64, value.Valid, nil
}

// Draft images

// MoveImage reassigns an image to another draft
func (r *ImportRepository) MoveImage(ctx context.Context, imageID, draftID uuid.UUID, sortOrder int, isPrimary bool) error {
	return r.UpdateImage(ctx, imageID, map[string]interface{}{
		"draft_product_id": draftID,
		"sort_order":       sortOrder,
		"is_primary":       isPrimary,
	})
}

func (r *ImportRepository) UpdateImage(ctx context.Context, imageID uuid.UUID, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.DraftImage{}).
		Where("id = ?", imageID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPrimaryImage clears is_primary on every image of the draft and sets it on imageID
func (r *ImportRepository) SetPrimaryImage(ctx context.Context, draftID, imageID uuid.UUID) error {
	db := r.db.WithContext(ctx)
	err := db.Model(&models.DraftImage{}).
		Where("draft_product_id = ? AND is_primary = ?", draftID, true).
		Update("is_primary", false).Error
	if err != nil {
		return err
	}

	result := db.Model(&models.DraftImage{}).
		Where("id = ? AND draft_product_id = ?", imageID, draftID).
		Update("is_primary", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingImagePaths returns the storage paths of images whose draft has not
// been promoted yet.
func (r *ImportRepository) ListPendingImagePaths(ctx context.Context, sessionID uuid.UUID) ([]string, error) {
	var paths []string
	err := r.db.WithContext(ctx).Model(&models.DraftImage{}).
		Joins("JOIN draft_products ON draft_products.id = draft_images.draft_product_id").
		Where("draft_products.session_id = ? AND draft_products.status <> ?", sessionID, models.DraftStatusCreated).
		Pluck("draft_images.storage_path", &paths).Error
	return paths, err
}

// Products

// CreateProduct inserts a product with its images. The slug is derived from the
// name when missing.
func (r *ImportRepository) CreateProduct(ctx context.Context, product *models.Product) error {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if product.Slug == "" {
		product.Slug = fmt.Sprintf("%s-%s", generateSlug(product.Name), product.ID.String()[:8])
	}
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *ImportRepository) GetProduct(ctx context.Context, storeID string, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Preload("Images", orderedImages).
		Where("id = ? AND store_id = ?", productID, storeID).
		First(&product).Error
	if err != nil {
		return nil, translate(err)
	}
	return &product, nil
}

// Creation logs

func (r *ImportRepository) CreateCreationLog(ctx context.Context, entry *models.ProductCreationLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListCreationLogs returns the creation log of a session, oldest first
func (r *ImportRepository) ListCreationLogs(ctx context.Context, sessionID uuid.UUID) ([]models.ProductCreationLog, error) {
	var logs []models.ProductCreationLog
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

// generateSlug creates a URL-friendly slug from a name
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	var result strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "product"
	}
	return result.String()
}

// AutoMigrate creates or updates the tables owned by this repository
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ImportSession{},
		&models.DraftProduct{},
		&models.DraftImage{},
		&models.Product{},
		&models.ProductImage{},
		&models.ProductCreationLog{},
	)
}
