package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Product is a permanent catalog product. Bulk imports promote drafts into
// products; everything else in the catalog reads and writes this table directly.
type Product struct {
	ID              uuid.UUID                   `json:"id" gorm:"type:uuid;primaryKey"`
	StoreID         string                      `json:"storeId" gorm:"not null;index:idx_products_store_id;index:idx_products_store_sku,unique;index:idx_products_store_slug,unique"`
	Name            string                      `json:"name" gorm:"not null"`
	Slug            string                      `json:"slug" gorm:"not null;index:idx_products_store_slug,unique"`
	SKU             string                      `json:"sku" gorm:"not null;index:idx_products_store_sku,unique"`
	Description     *string                     `json:"description,omitempty"`
	Price           *int64                      `json:"price,omitempty"` // minor currency units
	StockQuantity   *int                        `json:"stockQuantity,omitempty"`
	CategoryID      *string                     `json:"categoryId,omitempty" gorm:"index"`
	Tags            datatypes.JSONSlice[string] `json:"tags,omitempty"`
	Active          bool                        `json:"active"`
	ImportSessionID *uuid.UUID                  `json:"importSessionId,omitempty" gorm:"type:uuid;index"`
	CreatedByID     *string                     `json:"createdById,omitempty"`
	Images          []ProductImage              `json:"images,omitempty" gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time                   `json:"createdAt"`
	UpdatedAt       time.Time                   `json:"updatedAt"`
}

// ProductImage is a permanent image attached to a product
type ProductImage struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ProductID   uuid.UUID `json:"productId" gorm:"type:uuid;not null;index"`
	URL         string    `json:"url" gorm:"not null"`
	StoragePath string    `json:"storagePath" gorm:"not null"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mimeType"`
	FileSize    int64     `json:"fileSize"`
	IsPrimary   bool      `json:"isPrimary"`
	SortOrder   int       `json:"sortOrder"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (i *ProductImage) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     Error  `json:"error"`
	Timestamp string `json:"timestamp,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message *string     `json:"message,omitempty"`
}

// TableName returns the table name for the Product model
func (Product) TableName() string {
	return "products"
}

// TableName returns the table name for the ProductImage model
func (ProductImage) TableName() string {
	return "product_images"
}
