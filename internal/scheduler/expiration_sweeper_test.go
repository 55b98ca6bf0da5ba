package scheduler

import (
	"context"
	"ec-order-lifecycle-service/internal/domain"
	"ec-order-lifecycle-service/internal/repository"
	"ec-order-lifecycle-service/internal/service"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type sweeperFixture struct {
	repo      *repository.InMemoryOrderRepository
	publisher *service.MockEventPublisher
	clock     *service.FakeClock
}

func newSweeperFixture() *sweeperFixture {
	catalog := repository.NewInMemoryCatalogRepository()
	catalog.SaveUser(&domain.User{ID: "user-1"})
	catalog.SaveProduct(&domain.Product{ID: "product-1", Price: decimal.RequireFromString("10.00"), Stock: 1000})

	return &sweeperFixture{
		repo:      repository.NewInMemoryOrderRepository(catalog),
		publisher: service.NewMockEventPublisher(),
		clock:     service.NewFakeClock(t0),
	}
}

func (f *sweeperFixture) sweeper(repo repository.OrderRepository, batchSize int) *ExpirationSweeper {
	return NewExpirationSweeperWithConfig(repo, f.publisher, time.Hour, 10*time.Minute, batchSize, 4).WithClock(f.clock)
}

// seed 建立一筆指定建立時間與狀態的訂單
func (f *sweeperFixture) seed(t *testing.T, id string, createdAt time.Time, status domain.OrderStatus) {
	t.Helper()
	product := &domain.Product{ID: "product-1", Price: decimal.RequireFromString("10.00"), Stock: 1000}
	order, err := domain.NewOrder(id, "user-1", product, 1, createdAt)
	require.NoError(t, err)
	require.NoError(t, f.repo.PlaceOrder(context.Background(), order, nil))

	path := map[domain.OrderStatus][]domain.OrderStatus{
		domain.StatusPending:    nil,
		domain.StatusProcessing: {domain.StatusProcessing},
		domain.StatusCompleted:  {domain.StatusProcessing, domain.StatusCompleted},
	}[status]
	from := domain.StatusPending
	for _, to := range path {
		_, err := f.repo.TransitionStatus(context.Background(), id, from, to, createdAt, nil)
		require.NoError(t, err)
		from = to
	}
}

func (f *sweeperFixture) status(t *testing.T, id string) domain.OrderStatus {
	t.Helper()
	order, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return order.Status
}

func TestExpirationSweeper_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("逾時 11 分鐘的 PROCESSING 訂單轉為 EXPIRED 並發布一個 order-expired", func(t *testing.T) {
		f := newSweeperFixture()
		f.seed(t, "order-1", t0, domain.StatusProcessing)
		f.clock.Advance(11 * time.Minute)

		result, err := f.sweeper(f.repo, 100).RunOnce(ctx)

		require.NoError(t, err)
		assert.Equal(t, SweepResult{Found: 1, Expired: 1}, result)
		assert.Equal(t, domain.StatusExpired, f.status(t, "order-1"))
		expired := f.publisher.EventsOfType(domain.EventTypeOrderExpired)
		require.Len(t, expired, 1)
		assert.Equal(t, "order-1", expired[0].Base().OrderID)
		assert.Equal(t, t0.Add(11*time.Minute), expired[0].Base().Timestamp)
	})

	t.Run("未逾時或非 PROCESSING 的訂單不受影響", func(t *testing.T) {
		f := newSweeperFixture()
		f.seed(t, "fresh", t0.Add(5*time.Minute), domain.StatusProcessing)
		f.seed(t, "pending", t0, domain.StatusPending)
		f.seed(t, "completed", t0, domain.StatusCompleted)
		f.clock.Advance(11 * time.Minute)

		result, err := f.sweeper(f.repo, 100).RunOnce(ctx)

		require.NoError(t, err)
		assert.Zero(t, result.Found)
		assert.Equal(t, domain.StatusProcessing, f.status(t, "fresh"))
		assert.Equal(t, domain.StatusPending, f.status(t, "pending"))
		assert.Equal(t, domain.StatusCompleted, f.status(t, "completed"))
		assert.Empty(t, f.publisher.GetPublishedEvents())
	})

	t.Run("超過一批的訂單會分批處理完畢", func(t *testing.T) {
		f := newSweeperFixture()
		for i := 0; i < 7; i++ {
			f.seed(t, fmt.Sprintf("order-%d", i), t0.Add(time.Duration(i)*time.Second), domain.StatusProcessing)
		}
		f.clock.Advance(20 * time.Minute)

		result, err := f.sweeper(f.repo, 3).RunOnce(ctx)

		require.NoError(t, err)
		assert.Equal(t, 7, result.Expired)
		assert.Len(t, f.publisher.EventsOfType(domain.EventTypeOrderExpired), 7)
	})

	t.Run("重複掃描不會重複發布事件", func(t *testing.T) {
		f := newSweeperFixture()
		f.seed(t, "order-1", t0, domain.StatusProcessing)
		f.clock.Advance(11 * time.Minute)
		sweeper := f.sweeper(f.repo, 100)

		_, err := sweeper.RunOnce(ctx)
		require.NoError(t, err)
		result, err := sweeper.RunOnce(ctx)
		require.NoError(t, err)

		assert.Zero(t, result.Found)
		assert.Len(t, f.publisher.EventsOfType(domain.EventTypeOrderExpired), 1)
	})

	t.Run("發布失敗的訂單維持 PROCESSING 且每筆只計一次失敗", func(t *testing.T) {
		f := newSweeperFixture()
		f.seed(t, "order-1", t0, domain.StatusProcessing)
		f.seed(t, "order-2", t0, domain.StatusProcessing)
		f.clock.Advance(11 * time.Minute)
		f.publisher.Err = errors.New("broker down")

		result, err := f.sweeper(f.repo, 1).RunOnce(ctx)

		require.NoError(t, err)
		assert.Equal(t, SweepResult{Found: 2, Failed: 2}, result)
		assert.Equal(t, domain.StatusProcessing, f.status(t, "order-1"))
		assert.Equal(t, domain.StatusProcessing, f.status(t, "order-2"))
	})

	t.Run("整批失敗的舊訂單不會阻擋後面的訂單過期", func(t *testing.T) {
		f := newSweeperFixture()
		f.seed(t, "a", t0.Add(-30*time.Minute), domain.StatusProcessing)
		f.seed(t, "b", t0.Add(-29*time.Minute), domain.StatusProcessing)
		f.seed(t, "c", t0.Add(-20*time.Minute), domain.StatusProcessing)
		publisher := &failingForOrders{MockEventPublisher: f.publisher, failing: map[string]bool{"a": true, "b": true}}
		sweeper := NewExpirationSweeperWithConfig(f.repo, publisher, time.Hour, 10*time.Minute, 2, 2).WithClock(f.clock)

		for cycle := 0; cycle < 2; cycle++ {
			result, err := sweeper.RunOnce(ctx)
			require.NoError(t, err)
			if cycle == 0 {
				assert.Equal(t, SweepResult{Found: 3, Expired: 1, Failed: 2}, result)
			} else {
				assert.Equal(t, SweepResult{Found: 2, Failed: 2}, result)
			}
		}

		assert.Equal(t, domain.StatusExpired, f.status(t, "c"))
		assert.Equal(t, domain.StatusProcessing, f.status(t, "a"))
		assert.Equal(t, domain.StatusProcessing, f.status(t, "b"))
		assert.Len(t, f.publisher.EventsOfType(domain.EventTypeOrderExpired), 1)
	})

	t.Run("掃描期間已被付款完成的訂單略過", func(t *testing.T) {
		f := newSweeperFixture()
		f.seed(t, "order-1", t0, domain.StatusProcessing)
		f.clock.Advance(11 * time.Minute)
		repo := &completeAfterFindRepository{InMemoryOrderRepository: f.repo, at: f.clock.Now()}

		result, err := f.sweeper(repo, 100).RunOnce(ctx)

		require.NoError(t, err)
		assert.Equal(t, SweepResult{Found: 1, Skipped: 1}, result)
		assert.Equal(t, domain.StatusCompleted, f.status(t, "order-1"))
		assert.Empty(t, f.publisher.EventsOfType(domain.EventTypeOrderExpired))
	})

	t.Run("查詢失敗時回傳錯誤", func(t *testing.T) {
		f := newSweeperFixture()
		repo := &failingFindRepository{InMemoryOrderRepository: f.repo}

		_, err := f.sweeper(repo, 100).RunOnce(ctx)

		assert.Error(t, err)
	})
}

func TestExpirationSweeper_StartStop(t *testing.T) {
	f := newSweeperFixture()
	f.seed(t, "order-1", t0, domain.StatusProcessing)
	f.clock.Advance(11 * time.Minute)
	sweeper := NewExpirationSweeperWithConfig(f.repo, f.publisher, 10*time.Millisecond, 10*time.Minute, 10, 1).WithClock(f.clock)

	go sweeper.Start()

	assert.Eventually(t, func() bool {
		return len(f.publisher.EventsOfType(domain.EventTypeOrderExpired)) == 1
	}, time.Second, 5*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
}

// completeAfterFindRepository 模擬付款處理在查詢與轉換之間先完成訂單
type completeAfterFindRepository struct {
	*repository.InMemoryOrderRepository
	at time.Time
}

func (r *completeAfterFindRepository) FindStaleOrders(ctx context.Context, status domain.OrderStatus, createdBefore time.Time, after repository.StaleCursor, limit int) ([]*domain.Order, error) {
	orders, err := r.InMemoryOrderRepository.FindStaleOrders(ctx, status, createdBefore, after, limit)
	if err != nil {
		return nil, err
	}
	for _, order := range orders {
		if _, err := r.TransitionStatus(ctx, order.ID, domain.StatusProcessing, domain.StatusCompleted, r.at, nil); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

type failingFindRepository struct {
	*repository.InMemoryOrderRepository
}

func (r *failingFindRepository) FindStaleOrders(ctx context.Context, status domain.OrderStatus, createdBefore time.Time, after repository.StaleCursor, limit int) ([]*domain.Order, error) {
	return nil, errors.New("connection refused")
}

// failingForOrders 指定訂單的事件發布失敗，其他訂單正常發布
type failingForOrders struct {
	*service.MockEventPublisher
	failing map[string]bool
}

func (p *failingForOrders) Publish(ctx context.Context, event domain.Event) error {
	if p.failing[event.Base().OrderID] {
		return errors.New("broker rejected " + event.Base().OrderID)
	}
	return p.MockEventPublisher.Publish(ctx, event)
}
