package scheduler

import (
	"context"
	"ec-order-lifecycle-service/internal/domain"
	"ec-order-lifecycle-service/internal/metrics"
	"ec-order-lifecycle-service/internal/repository"
	"ec-order-lifecycle-service/internal/service"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SweepResult 一次掃描的結果
type SweepResult struct {
	Found   int // 查詢到的逾時訂單數
	Expired int // 成功轉為 EXPIRED 的訂單數
	Skipped int // 掃描期間已被其他流程處理的訂單數
	Failed  int // 處理失敗的訂單數
}

// ExpirationSweeper 定期將停留在 PROCESSING 超過時限的訂單轉為 EXPIRED
type ExpirationSweeper struct {
	orderRepo       repository.OrderRepository
	eventPublisher  service.EventPublisher
	clock           service.Clock
	interval        time.Duration // 掃描間隔
	stalenessWindow time.Duration // PROCESSING 停留上限
	batchSize       int           // 每次查詢的訂單數量
	workerCount     int           // 同時處理的訂單數量
	stopChan        chan struct{}
	stopOnce        sync.Once
	done            chan struct{}
}

// NewExpirationSweeperWithConfig 創建過期掃描器（使用自訂配置）
func NewExpirationSweeperWithConfig(
	orderRepo repository.OrderRepository,
	eventPublisher service.EventPublisher,
	interval, stalenessWindow time.Duration,
	batchSize, workerCount int,
) *ExpirationSweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if workerCount <= 0 {
		workerCount = 1
	}

	return &ExpirationSweeper{
		orderRepo:       orderRepo,
		eventPublisher:  eventPublisher,
		clock:           service.SystemClock{},
		interval:        interval,
		stalenessWindow: stalenessWindow,
		batchSize:       batchSize,
		workerCount:     workerCount,
		stopChan:        make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// WithClock 替換時間來源
func (s *ExpirationSweeper) WithClock(clock service.Clock) *ExpirationSweeper {
	s.clock = clock
	return s
}

// Start 啟動掃描器（阻塞直到 Stop）
func (s *ExpirationSweeper) Start() {
	defer close(s.done)

	log.Printf("[定時器] 訂單過期掃描器已啟動，檢查間隔: %v，逾時時限: %v", s.interval, s.stalenessWindow)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopChan
		cancel()
	}()

	s.runAndLog(ctx)
	for {
		select {
		case <-ticker.C:
			s.runAndLog(ctx)
		case <-s.stopChan:
			log.Println("[定時器] 訂單過期掃描器已停止")
			return
		}
	}
}

// Stop 停止掃描器並等待進行中的掃描結束
func (s *ExpirationSweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.done
}

func (s *ExpirationSweeper) runAndLog(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[定時器] 過期掃描失敗: %v", err)
	}
}

// RunOnce 執行一次掃描：每筆訂單獨立提交，單筆失敗不影響其他訂單
func (s *ExpirationSweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	now := s.clock.Now()
	cutoff := now.Add(-s.stalenessWindow)

	var (
		result SweepResult
		cursor repository.StaleCursor
	)
	for {
		orders, err := s.orderRepo.FindStaleOrders(ctx, domain.StatusProcessing, cutoff, cursor, s.batchSize)
		if err != nil {
			return result, err
		}
		if len(orders) == 0 {
			break
		}

		batch := s.expireBatch(ctx, orders, now)
		result.Found += batch.Found
		result.Expired += batch.Expired
		result.Skipped += batch.Skipped
		result.Failed += batch.Failed

		// 游標越過本批所有訂單，失敗的訂單不會在同一次掃描中重複出現，留給下一次掃描
		cursor = repository.CursorAfter(orders[len(orders)-1])
		if len(orders) < s.batchSize {
			break
		}
	}

	if result.Found == 0 {
		log.Printf("[定時器] 沒有逾時的 PROCESSING 訂單 (cutoff=%s)", cutoff.Format(time.RFC3339))
	} else {
		log.Printf("[定時器] 過期掃描完成: 查詢 %d 筆，過期 %d 筆，略過 %d 筆，失敗 %d 筆",
			result.Found, result.Expired, result.Skipped, result.Failed)
	}
	metrics.RecordSweep(result.Expired, result.Failed, time.Since(start))
	return result, nil
}

// expireBatch 以有限的並發數處理一批訂單
func (s *ExpirationSweeper) expireBatch(ctx context.Context, orders []*domain.Order, now time.Time) SweepResult {
	var (
		result = SweepResult{Found: len(orders)}
		mu     sync.Mutex
		g      errgroup.Group
	)
	g.SetLimit(s.workerCount)

	for _, order := range orders {
		orderID := order.ID
		g.Go(func() error {
			outcome := s.expireOrder(ctx, orderID, now)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeExpired:
				result.Expired++
			case outcomeSkipped:
				result.Skipped++
			default:
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	return result
}

type expireOutcome int

const (
	outcomeExpired expireOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// expireOrder PROCESSING → EXPIRED 並在同一交易中發布 order-expired
func (s *ExpirationSweeper) expireOrder(ctx context.Context, orderID string, now time.Time) expireOutcome {
	eventID := service.NewUUID()
	_, err := s.orderRepo.TransitionStatus(ctx, orderID, domain.StatusProcessing, domain.StatusExpired, now,
		func(ctx context.Context, order *domain.Order) error {
			event := domain.NewOrderExpiredEvent(order, now)
			event.EventID = eventID // 交易重試時沿用同一個事件 ID
			return s.eventPublisher.Publish(ctx, event)
		})
	if err == nil {
		log.Printf("[定時器] 訂單已過期: orderId=%s", orderID)
		return outcomeExpired
	}

	var conflict domain.ErrStatusConflict
	var notFound domain.ErrNotFound
	if errors.As(err, &conflict) || errors.As(err, &notFound) {
		log.Printf("[定時器] 訂單狀態已改變，略過: orderId=%s, err=%v", orderID, err)
		return outcomeSkipped
	}

	processingErr := domain.ErrProcessing{OrderID: orderID, Op: "expire", Err: err}
	log.Printf("[定時器] 訂單過期處理失敗: %v", processingErr)
	return outcomeFailed
}
