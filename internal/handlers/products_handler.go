package handlers

import (
	"context"
	"errors"
	"net/http"

	"catalog-service/internal/middleware"
	"catalog-service/internal/models"
	"catalog-service/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ProductReader loads catalog products created by promotions
type ProductReader interface {
	GetProduct(ctx context.Context, storeID string, productID uuid.UUID) (*models.Product, error)
}

type ProductsHandler struct {
	products ProductReader
}

func NewProductsHandler(products ProductReader) *ProductsHandler {
	return &ProductsHandler{products: products}
}

// GetProduct retrieves a single product with its images
// @Summary Get product
// @Tags Products
// @Produce json
// @Param id path string true "Product ID"
// @Success 200 {object} models.SuccessResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /products/{id} [get]
func (h *ProductsHandler) GetProduct(c *gin.Context) {
	productID, ok := parseIDParam(c, "id", "product")
	if !ok {
		return
	}

	product, err := h.products.GetProduct(c.Request.Context(), middleware.GetStoreID(c), productID)
	if errors.Is(err, repository.ErrNotFound) {
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "Product not found")
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to retrieve product")
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    product,
	})
}
