package service

import (
	"context"
	"errors"
	"fmt"

	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CatalogService seeds SKUs and their inventory records. Registration is the
// only entry point for total quantity; everything after that moves through
// the concurrency strategies.
type CatalogService struct {
	store  store.Store
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(st store.Store) *CatalogService {
	return &CatalogService{
		store:  st,
		logger: util.GetLogger(),
	}
}

// RegisterSKURequest represents a SKU registration
type RegisterSKURequest struct {
	Code       string `json:"sku_code" binding:"required"`
	Name       string `json:"name" binding:"required"`
	InitialQty int64  `json:"initial_qty" binding:"min=0"`
}

// RegisterSKU creates a SKU and its inventory record with the initial quantity
func (s *CatalogService) RegisterSKU(ctx context.Context, req *RegisterSKURequest) (*models.SKU, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.RegisterSKU")
	defer span.End()

	if req.InitialQty < 0 {
		return nil, fmt.Errorf("%w: initial quantity must be non-negative", ErrInvalidQuantity)
	}

	sku := &models.SKU{
		ID:   uuid.New().String(),
		Code: req.Code,
		Name: req.Name,
	}

	if err := s.store.CreateSKU(ctx, sku, req.InitialQty); err != nil {
		return nil, fmt.Errorf("failed to register sku: %w", err)
	}

	s.logger.Info("SKU registered",
		zap.String("sku_id", sku.ID),
		zap.String("sku_code", sku.Code),
		zap.Int64("initial_qty", req.InitialQty))
	return sku, nil
}

// GetSKU retrieves a SKU by ID
func (s *CatalogService) GetSKU(ctx context.Context, skuID string) (*models.SKU, error) {
	sku, err := s.store.GetSKU(ctx, skuID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSKUNotFound
		}
		return nil, err
	}
	return sku, nil
}

// ListSKUs retrieves all registered SKUs
func (s *CatalogService) ListSKUs(ctx context.Context) ([]models.SKU, error) {
	return s.store.ListSKUs(ctx)
}
