package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ReportFormat represents the file format of an import report download
type ReportFormat string

const (
	ReportFormatCSV  ReportFormat = "csv"
	ReportFormatXLSX ReportFormat = "xlsx"
)

// ImportStatus is the coarse progress indicator of a bulk import session
type ImportStatus string

const (
	ImportStatusUploading  ImportStatus = "uploading"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusGrouping   ImportStatus = "grouping"
	ImportStatusReview     ImportStatus = "review"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusError      ImportStatus = "error"
)

// DraftStatus is the lifecycle state of a draft product.
// draft -> ready|error (validator, reversible) -> created (promotion, terminal)
type DraftStatus string

const (
	DraftStatusDraft   DraftStatus = "draft"
	DraftStatusReady   DraftStatus = "ready"
	DraftStatusError   DraftStatus = "error"
	DraftStatusCreated DraftStatus = "created"
)

// DraftDefaults is a partial record of draft fields. A nil field is undefined
// and is never written when the defaults are applied.
type DraftDefaults struct {
	Price         *int64    `json:"price,omitempty"`
	StockQuantity *int      `json:"stockQuantity,omitempty"`
	CategoryID    *string   `json:"categoryId,omitempty"`
	Tags          *[]string `json:"tags,omitempty"`
}

// IsEmpty reports whether no field is defined
func (d DraftDefaults) IsEmpty() bool {
	return d.Price == nil && d.StockQuantity == nil && d.CategoryID == nil && d.Tags == nil
}

// Merge returns d overlaid with every defined field of other
func (d DraftDefaults) Merge(other DraftDefaults) DraftDefaults {
	if other.Price != nil {
		d.Price = other.Price
	}
	if other.StockQuantity != nil {
		d.StockQuantity = other.StockQuantity
	}
	if other.CategoryID != nil {
		d.CategoryID = other.CategoryID
	}
	if other.Tags != nil {
		d.Tags = other.Tags
	}
	return d
}

// ImportSession is one batch upload-to-promotion workflow. Sessions are kept
// after completion for the import summary.
type ImportSession struct {
	ID                   uuid.UUID                         `json:"id" gorm:"type:uuid;primaryKey"`
	StoreID              string                            `json:"storeId" gorm:"not null;index"`
	UserID               string                            `json:"userId" gorm:"not null"`
	Status               ImportStatus                      `json:"status" gorm:"not null;index"`
	TotalFiles           int                               `json:"totalFiles" gorm:"not null;default:0"`
	TotalGroups          int                               `json:"totalGroups" gorm:"not null;default:0"`
	TotalProductsCreated int                               `json:"totalProductsCreated" gorm:"not null;default:0"`
	DefaultSettings      datatypes.JSONType[DraftDefaults] `json:"defaultSettings"`
	ErrorMessage         *string                           `json:"errorMessage,omitempty"`
	CreatedAt            time.Time                         `json:"createdAt"`
	UpdatedAt            time.Time                         `json:"updatedAt"`
	CompletedAt          *time.Time                        `json:"completedAt,omitempty"`
	Drafts               []DraftProduct                    `json:"drafts,omitempty" gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// DraftProduct is a provisional, editable product grouped from uploaded images
type DraftProduct struct {
	ID               uuid.UUID                   `json:"id" gorm:"type:uuid;primaryKey"`
	SessionID        uuid.UUID                   `json:"sessionId" gorm:"type:uuid;not null;index"`
	GroupKey         string                      `json:"groupKey" gorm:"not null"`
	Name             string                      `json:"name"`
	Description      *string                     `json:"description,omitempty"`
	SKU              *string                     `json:"sku,omitempty"`
	Price            *int64                      `json:"price,omitempty"`
	StockQuantity    *int                        `json:"stockQuantity,omitempty"`
	CategoryID       *string                     `json:"categoryId,omitempty"`
	Tags             datatypes.JSONSlice[string] `json:"tags"`
	Status           DraftStatus                 `json:"status" gorm:"not null;index"`
	SortOrder        float64                     `json:"sortOrder" gorm:"not null;default:0"`
	ValidationErrors datatypes.JSONSlice[string] `json:"validationErrors,omitempty"`
	CreatedProductID *uuid.UUID                  `json:"createdProductId,omitempty" gorm:"type:uuid"`
	SourceFilenames  datatypes.JSONSlice[string] `json:"sourceFilenames,omitempty"`
	SplitFromID      *uuid.UUID                  `json:"splitFromId,omitempty" gorm:"type:uuid"`
	Images           []DraftImage                `json:"images" gorm:"foreignKey:DraftProductID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time                   `json:"createdAt"`
	UpdatedAt        time.Time                   `json:"updatedAt"`
}

// PrimaryImage returns the image flagged as primary, or nil
func (d *DraftProduct) PrimaryImage() *DraftImage {
	for i := range d.Images {
		if d.Images[i].IsPrimary {
			return &d.Images[i]
		}
	}
	return nil
}

// DraftImage is an uploaded file held in temporary storage. Its owning draft
// changes when groups are split or merged.
type DraftImage struct {
	ID               uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	DraftProductID   uuid.UUID `json:"draftProductId" gorm:"type:uuid;not null;index"`
	SessionID        uuid.UUID `json:"sessionId" gorm:"type:uuid;not null;index"`
	StoragePath      string    `json:"storagePath" gorm:"not null"`
	URL              string    `json:"url" gorm:"not null"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"originalFilename"`
	FileSize         int64     `json:"fileSize"`
	MimeType         string    `json:"mimeType"`
	IsPrimary        bool      `json:"isPrimary"`
	SortOrder        int       `json:"sortOrder"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ProductCreationLog records the outcome of promoting one draft
type ProductCreationLog struct {
	ID             uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	SessionID      uuid.UUID  `json:"sessionId" gorm:"type:uuid;not null;index"`
	DraftProductID uuid.UUID  `json:"draftProductId" gorm:"type:uuid;not null;index"`
	ProductID      *uuid.UUID `json:"productId,omitempty" gorm:"type:uuid"`
	Success        bool       `json:"success"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func (s *ImportSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (d *DraftProduct) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

func (i *DraftImage) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

func (l *ProductCreationLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

func (ImportSession) TableName() string      { return "import_sessions" }
func (DraftProduct) TableName() string       { return "draft_products" }
func (DraftImage) TableName() string         { return "draft_images" }
func (ProductCreationLog) TableName() string { return "product_creation_logs" }

// CreateImportRequest starts a new bulk import
type CreateImportRequest struct {
	DefaultSettings *DraftDefaults `json:"defaultSettings,omitempty"`
}

// SplitDraftRequest moves a subset of images into a new draft
type SplitDraftRequest struct {
	ImageIDs []uuid.UUID `json:"imageIds"`
}

// MergeDraftsRequest folds the source draft into the target draft in the URL
type MergeDraftsRequest struct {
	SourceDraftID uuid.UUID `json:"sourceDraftId" binding:"required"`
}

// ChangePrimaryImageRequest designates the primary image of a draft
type ChangePrimaryImageRequest struct {
	ImageID uuid.UUID `json:"imageId" binding:"required"`
}

// FileFailure is an uploaded file that could not be stored
type FileFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// UploadResult is the outcome of one upload batch. Failed files appear in no group.
type UploadResult struct {
	Drafts      []DraftProduct `json:"drafts"`
	StoredFiles int            `json:"storedFiles"`
	Failed      []FileFailure  `json:"failed,omitempty"`
}

// DraftValidationError lists the reasons a single draft cannot be promoted
type DraftValidationError struct {
	DraftID   uuid.UUID `json:"draftId"`
	DraftName string    `json:"draftName"`
	Errors    []string  `json:"errors"`
}

// ValidationReport is the result of validating every draft of a session
type ValidationReport struct {
	Valid  bool                   `json:"valid"`
	Total  int                    `json:"total"`
	Errors []DraftValidationError `json:"errors"`
}

// PromotedDraft is a draft that became a product
type PromotedDraft struct {
	DraftID   uuid.UUID `json:"draftId"`
	ProductID uuid.UUID `json:"productId"`
	Name      string    `json:"name"`
}

// FailedDraft is a draft whose promotion failed; it stays ready for a retry
type FailedDraft struct {
	DraftID uuid.UUID `json:"draftId"`
	Name    string    `json:"name"`
	Error   string    `json:"error"`
}

// PromotionResult is the outcome of one promotion run
type PromotionResult struct {
	Created []PromotedDraft `json:"created"`
	Failed  []FailedDraft   `json:"failed"`
}

// ImportSummary is a session together with per-status draft counts
type ImportSummary struct {
	Session     *ImportSession        `json:"session"`
	DraftCounts map[DraftStatus]int64 `json:"draftCounts"`
}

// ImportReportRow is one line of the downloadable import report
type ImportReportRow struct {
	DraftID    uuid.UUID   `json:"draftId"`
	Name       string      `json:"name"`
	Status     DraftStatus `json:"status"`
	ImageCount int         `json:"imageCount"`
	ProductID  string      `json:"productId,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// ImportReportColumns returns the header row of the import report
func ImportReportColumns() []string {
	return []string{"draftId", "name", "status", "imageCount", "productId", "message"}
}
