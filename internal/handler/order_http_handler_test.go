package handler

import (
	"bytes"
	"context"
	"ec-order-lifecycle-service/internal/domain"
	"ec-order-lifecycle-service/internal/repository"
	"ec-order-lifecycle-service/internal/service"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpFixture struct {
	router    *gin.Engine
	repo      *repository.InMemoryOrderRepository
	publisher *service.MockEventPublisher
}

func newHTTPFixture(stock int) *httpFixture {
	return newHTTPFixtureWithRepo(stock, func(repo *repository.InMemoryOrderRepository) repository.OrderRepository { return repo })
}

// newHTTPFixtureWithRepo 允許以包裝後的倉儲建立服務，用來模擬並發衝突
func newHTTPFixtureWithRepo(stock int, wrap func(*repository.InMemoryOrderRepository) repository.OrderRepository) *httpFixture {
	gin.SetMode(gin.TestMode)

	catalog := repository.NewInMemoryCatalogRepository()
	catalog.SaveUser(&domain.User{ID: "user-1", Email: "user-1@example.com"})
	catalog.SaveProduct(&domain.Product{ID: "product-1", Name: "Monitor", Price: decimal.RequireFromString("150.00"), Stock: stock})

	repo := repository.NewInMemoryOrderRepository(catalog)
	publisher := service.NewMockEventPublisher()
	ids := 0
	orderService := service.NewOrderService(wrap(repo), catalog, publisher, service.NewMockLogger()).
		WithClock(service.NewFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))).
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("ORDER-%03d", ids)
		})

	router := gin.New()
	NewOrderHTTPHandler(orderService).RegisterRoutes(router)
	return &httpFixture{router: router, repo: repo, publisher: publisher}
}

func (f *httpFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type orderResponse struct {
	OrderID  string          `json:"orderId"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
	Status   string          `json:"status"`
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) orderResponse {
	t.Helper()
	var resp orderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func createBody(quantity int) gin.H {
	return gin.H{"userId": "user-1", "productId": "product-1", "quantity": quantity}
}

func TestOrderHTTPHandler_CreateOrder(t *testing.T) {
	t.Run("建立成功回傳 201 與 PENDING 訂單", func(t *testing.T) {
		f := newHTTPFixture(10)

		w := f.do(http.MethodPost, "/orders", createBody(2))

		require.Equal(t, http.StatusCreated, w.Code)
		order := decodeOrder(t, w)
		assert.Equal(t, "ORDER-001", order.OrderID)
		assert.Equal(t, "PENDING", order.Status)
		assert.True(t, order.Total.Equal(decimal.RequireFromString("300.00")))
		assert.Len(t, f.publisher.EventsOfType(domain.EventTypeOrderCreated), 1)
	})

	tests := []struct {
		name     string
		stock    int
		body     any
		wantCode int
		wantErr  string
	}{
		{name: "數量為 0 回傳 400", stock: 10, body: createBody(0), wantCode: http.StatusBadRequest},
		{name: "JSON 格式錯誤回傳 400", stock: 10, body: "{broken", wantCode: http.StatusBadRequest},
		{name: "使用者不存在回傳 404", stock: 10, body: gin.H{"userId": "ghost", "productId": "product-1", "quantity": 1}, wantCode: http.StatusNotFound},
		{name: "商品不存在回傳 404", stock: 10, body: gin.H{"userId": "user-1", "productId": "ghost", "quantity": 1}, wantCode: http.StatusNotFound},
		{name: "庫存為零回傳 409", stock: 0, body: createBody(1), wantCode: http.StatusConflict, wantErr: "product is out of stock"},
		{name: "庫存不足回傳 409", stock: 2, body: createBody(3), wantCode: http.StatusConflict, wantErr: "insufficient stock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHTTPFixture(tt.stock)

			w := f.do(http.MethodPost, "/orders", tt.body)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decodeError(t, w)["error"])
			}
			assert.Empty(t, f.publisher.GetPublishedEvents())
		})
	}

	t.Run("事件發布失敗回傳 500 且不洩漏細節", func(t *testing.T) {
		f := newHTTPFixture(10)
		f.publisher.Err = domain.ErrSerialization{EventType: domain.EventTypeOrderCreated, Err: fmt.Errorf("bad payload")}

		w := f.do(http.MethodPost, "/orders", createBody(1))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "internal error", decodeError(t, w)["error"])
	})
}

func TestOrderHTTPHandler_GetUpdateDelete(t *testing.T) {
	t.Run("查詢不存在的訂單回傳 404", func(t *testing.T) {
		f := newHTTPFixture(10)

		w := f.do(http.MethodGet, "/orders/ghost", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("修改數量以原始單價重新計算總額", func(t *testing.T) {
		f := newHTTPFixture(10)
		require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/orders", createBody(2)).Code)

		w := f.do(http.MethodPatch, "/orders/ORDER-001", gin.H{"quantity": 7})

		require.Equal(t, http.StatusOK, w.Code)
		order := decodeOrder(t, w)
		assert.Equal(t, 7, order.Quantity)
		assert.True(t, order.Total.Equal(decimal.RequireFromString("1050.00")))

		got := decodeOrder(t, f.do(http.MethodGet, "/orders/ORDER-001", nil))
		assert.Equal(t, 7, got.Quantity)
	})

	t.Run("未知狀態回傳 400", func(t *testing.T) {
		f := newHTTPFixture(10)
		require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/orders", createBody(1)).Code)

		w := f.do(http.MethodPatch, "/orders/ORDER-001", gin.H{"status": "SHIPPED"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "status", decodeError(t, w)["field"])
	})

	t.Run("終態訂單不可修改回傳 409", func(t *testing.T) {
		f := newHTTPFixture(10)
		require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/orders", createBody(1)).Code)
		require.Equal(t, http.StatusOK, f.do(http.MethodPatch, "/orders/ORDER-001", gin.H{"status": "COMPLETED"}).Code)

		w := f.do(http.MethodPatch, "/orders/ORDER-001", gin.H{"quantity": 3})

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, domain.CodeOrderFinalized, decodeError(t, w)["code"])
	})

	t.Run("並發衝突超過重試次數回傳 409", func(t *testing.T) {
		f := newHTTPFixtureWithRepo(10, func(repo *repository.InMemoryOrderRepository) repository.OrderRepository {
			return conflictingRepository{repo}
		})
		require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/orders", createBody(1)).Code)

		w := f.do(http.MethodPatch, "/orders/ORDER-001", gin.H{"quantity": 3})

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, decodeError(t, w)["error"], "status conflict")
	})

	t.Run("刪除後查詢回傳 404", func(t *testing.T) {
		f := newHTTPFixture(10)
		require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/orders", createBody(1)).Code)

		assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/orders/ORDER-001", nil).Code)
		assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/orders/ORDER-001", nil).Code)
		assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/orders/ORDER-001", nil).Code)
	})
}

func TestOrderHTTPHandler_ListOrders(t *testing.T) {
	f := newHTTPFixture(10)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/orders", createBody(1)).Code)
	}

	t.Run("依使用者分頁查詢", func(t *testing.T) {
		w := f.do(http.MethodGet, "/users/user-1/orders?limit=2&offset=1", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Orders []orderResponse `json:"orders"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Orders, 2)
		assert.Equal(t, "ORDER-002", resp.Orders[0].OrderID)
	})

	t.Run("依狀態查詢", func(t *testing.T) {
		w := f.do(http.MethodGet, "/orders?status=PENDING", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Orders []orderResponse `json:"orders"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Orders, 3)
	})

	t.Run("缺少或未知狀態回傳 400", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/orders", nil).Code)
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/orders?status=SHIPPED", nil).Code)
	})

	t.Run("分頁參數錯誤回傳 400", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/orders?status=PENDING&limit=abc", nil).Code)
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/users/user-1/orders?offset=-1", nil).Code)
	})
}

// conflictingRepository 每次保存都回報訂單狀態已被其他流程改變
type conflictingRepository struct {
	*repository.InMemoryOrderRepository
}

func (r conflictingRepository) Update(ctx context.Context, order *domain.Order, expected domain.OrderStatus) error {
	return domain.ErrStatusConflict{OrderID: order.ID, Expected: expected, Actual: domain.StatusProcessing}
}
