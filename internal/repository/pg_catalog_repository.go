package repository

import (
	"context"
	"ec-order-lifecycle-service/internal/domain"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PgCatalogRepository PostgreSQL 實作的使用者 / 商品查詢
type PgCatalogRepository struct {
	queries      *directQueries
	queryTimeout time.Duration
}

// NewPgCatalogRepository 創建商品目錄倉儲
func NewPgCatalogRepository(pool *pgxpool.Pool, queryTimeout time.Duration) *PgCatalogRepository {
	return &PgCatalogRepository{
		queries:      &directQueries{pool: pool},
		queryTimeout: queryTimeout,
	}
}

// FindUserByID 根據 ID 獲取使用者
func (r *PgCatalogRepository) FindUserByID(ctx context.Context, userID string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	user, err := r.queries.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound{Resource: domain.ResourceUser, ID: userID}
		}
		return nil, fmt.Errorf("查詢使用者失敗: %w", err)
	}

	return &domain.User{ID: user.ID, Email: user.Email}, nil
}

// FindProductByID 根據 ID 獲取商品
func (r *PgCatalogRepository) FindProductByID(ctx context.Context, productID string) (*domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	product, err := r.queries.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound{Resource: domain.ResourceProduct, ID: productID}
		}
		return nil, fmt.Errorf("查詢商品失敗: %w", err)
	}

	price, err := decimal.NewFromString(product.Price)
	if err != nil {
		return nil, fmt.Errorf("解析商品價格失敗 (productId=%s): %w", productID, err)
	}

	return &domain.Product{
		ID:    product.ID,
		Name:  product.Name,
		Price: price,
		Stock: product.Stock,
	}, nil
}
