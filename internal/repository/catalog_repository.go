package repository

import (
	"context"
	"ec-order-lifecycle-service/internal/domain"
	"sync"
)

// CatalogRepository 使用者與商品查詢（外部協作者）
type CatalogRepository interface {
	FindUserByID(ctx context.Context, userID string) (*domain.User, error)
	FindProductByID(ctx context.Context, productID string) (*domain.Product, error)
}

// InMemoryCatalogRepository 記憶體實作的商品目錄（用於測試與本地開發）
type InMemoryCatalogRepository struct {
	users    map[string]*domain.User
	products map[string]*domain.Product
	mu       sync.RWMutex
}

// NewInMemoryCatalogRepository 創建記憶體商品目錄
func NewInMemoryCatalogRepository() *InMemoryCatalogRepository {
	return &InMemoryCatalogRepository{
		users:    make(map[string]*domain.User),
		products: make(map[string]*domain.Product),
	}
}

// SaveUser 新增或覆寫使用者
func (r *InMemoryCatalogRepository) SaveUser(user *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userCopy := *user
	r.users[user.ID] = &userCopy
}

// SaveProduct 新增或覆寫商品
func (r *InMemoryCatalogRepository) SaveProduct(product *domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()

	productCopy := *product
	r.products[product.ID] = &productCopy
}

// FindUserByID 根據 ID 獲取使用者
func (r *InMemoryCatalogRepository) FindUserByID(ctx context.Context, userID string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[userID]
	if !exists {
		return nil, domain.ErrNotFound{Resource: domain.ResourceUser, ID: userID}
	}
	userCopy := *user
	return &userCopy, nil
}

// FindProductByID 根據 ID 獲取商品
func (r *InMemoryCatalogRepository) FindProductByID(ctx context.Context, productID string) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, exists := r.products[productID]
	if !exists {
		return nil, domain.ErrNotFound{Resource: domain.ResourceProduct, ID: productID}
	}
	productCopy := *product
	return &productCopy, nil
}
