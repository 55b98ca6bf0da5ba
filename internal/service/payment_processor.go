package service

import (
	"context"
	"ec-order-lifecycle-service/internal/domain"
	"ec-order-lifecycle-service/internal/metrics"
	"ec-order-lifecycle-service/internal/repository"
	"errors"
	"math/rand"
	"time"
)

// OutcomeDecider 決定模擬付款是否成功
type OutcomeDecider func() bool

// NewRandomDecider 以指定成功機率隨機決定結果
func NewRandomDecider(successRate float64) OutcomeDecider {
	return func() bool {
		return rand.Float64() < successRate
	}
}

// AlwaysSucceed 固定成功（用於測試）
func AlwaysSucceed() bool { return true }

// AlwaysFail 固定失敗（用於測試）
func AlwaysFail() bool { return false }

// PaymentProcessor 消費 order-created 事件並模擬付款
// PENDING → PROCESSING 在收到事件時完成，結果在延遲後由 SettlePayment 決定
type PaymentProcessor struct {
	orderRepo      repository.OrderRepository
	eventPublisher EventPublisher
	scheduler      DelayScheduler
	decide         OutcomeDecider
	delay          time.Duration
	logger         Logger
	clock          Clock
}

// NewPaymentProcessor 創建付款處理器
func NewPaymentProcessor(
	orderRepo repository.OrderRepository,
	eventPublisher EventPublisher,
	scheduler DelayScheduler,
	decide OutcomeDecider,
	delay time.Duration,
	logger Logger,
) *PaymentProcessor {
	return &PaymentProcessor{
		orderRepo:      orderRepo,
		eventPublisher: eventPublisher,
		scheduler:      scheduler,
		decide:         decide,
		delay:          delay,
		logger:         logger,
		clock:          SystemClock{},
	}
}

// WithClock 替換時間來源
func (p *PaymentProcessor) WithClock(clock Clock) *PaymentProcessor {
	p.clock = clock
	return p
}

// HandleOrderCreated 處理訂單建立事件（冪等：狀態不是 PENDING 的事件或已被處理的訂單都會被略過）
// 回傳錯誤代表需要通道重新投遞
func (p *PaymentProcessor) HandleOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	orderID := event.OrderID

	if event.Status != domain.StatusPending {
		p.logger.Info("事件內狀態不是 PENDING，略過", "orderId", orderID, "status", event.Status)
		metrics.RecordPaymentOutcome(metrics.OutcomeSkipped)
		return nil
	}

	_, err := p.orderRepo.TransitionStatus(ctx, orderID, domain.StatusPending, domain.StatusProcessing, p.clock.Now(), nil)
	if err != nil {
		var conflict domain.ErrStatusConflict
		if errors.As(err, &conflict) {
			p.logger.Info("訂單已不是 PENDING，略過重複投遞（冪等性）", "orderId", orderID, "currentStatus", conflict.Actual)
			metrics.RecordPaymentOutcome(metrics.OutcomeSkipped)
			return nil
		}

		var notFound domain.ErrNotFound
		if errors.As(err, &notFound) {
			p.logger.Warn("訂單不存在（可能已刪除），略過", "orderId", orderID)
			metrics.RecordPaymentOutcome(metrics.OutcomeSkipped)
			return nil
		}

		p.logger.Error("訂單轉為 PROCESSING 失敗", err, "orderId", orderID)
		return domain.ErrProcessing{OrderID: orderID, Op: "begin-payment", Err: err}
	}

	p.logger.Info("訂單進入付款處理", "orderId", orderID, "delay", p.delay.String())
	p.scheduler.Schedule(p.delay, func() {
		if err := p.SettlePayment(context.Background(), orderID); err != nil {
			// 訂單停留在 PROCESSING，由過期掃描處理
			p.logger.Error("付款結算失敗", err, "orderId", orderID)
		}
	})
	return nil
}

// SettlePayment 決定付款結果：成功則 PROCESSING → COMPLETED 並發布 order-completed，失敗則維持 PROCESSING
func (p *PaymentProcessor) SettlePayment(ctx context.Context, orderID string) error {
	if !p.decide() {
		p.logger.Info("模擬付款失敗，訂單維持 PROCESSING 等待過期", "orderId", orderID)
		metrics.RecordPaymentOutcome(metrics.OutcomeFailure)
		return nil
	}

	now := p.clock.Now()
	eventID := NewUUID()
	_, err := p.orderRepo.TransitionStatus(ctx, orderID, domain.StatusProcessing, domain.StatusCompleted, now,
		func(ctx context.Context, order *domain.Order) error {
			event := domain.NewOrderCompletedEvent(order, now)
			event.EventID = eventID
			return p.eventPublisher.Publish(ctx, event)
		})
	if err != nil {
		var conflict domain.ErrStatusConflict
		if errors.As(err, &conflict) {
			p.logger.Warn("訂單狀態已改變，放棄完成付款", "orderId", orderID, "currentStatus", conflict.Actual)
			metrics.RecordPaymentOutcome(metrics.OutcomeSkipped)
			return nil
		}

		var notFound domain.ErrNotFound
		if errors.As(err, &notFound) {
			p.logger.Warn("訂單不存在（可能已刪除），放棄完成付款", "orderId", orderID)
			metrics.RecordPaymentOutcome(metrics.OutcomeSkipped)
			return nil
		}

		return domain.ErrProcessing{OrderID: orderID, Op: "complete-payment", Err: err}
	}

	p.logger.Info("付款成功，訂單已完成", "orderId", orderID)
	metrics.RecordPaymentOutcome(metrics.OutcomeSuccess)
	return nil
}
