package step_definitions

import (
	"context"
	"ec-order-lifecycle-service/internal/domain"
	"ec-order-lifecycle-service/internal/handler"
	"ec-order-lifecycle-service/internal/repository"
	"ec-order-lifecycle-service/internal/scheduler"
	"ec-order-lifecycle-service/internal/service"
	"ec-order-lifecycle-service/pkg/events"
	"errors"
	"fmt"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"
)

var scenarioStart = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type orderLifecycleFeature struct {
	catalog         *repository.InMemoryCatalogRepository
	orderRepo       *repository.InMemoryOrderRepository
	eventPublisher  *service.MockEventPublisher
	logger          *service.MockLogger
	clock           *service.FakeClock
	delayScheduler  *service.ManualDelayScheduler
	orderService    *service.OrderService
	eventHandler    *handler.OrderEventHandler
	sweeper         *scheduler.ExpirationSweeper
	paymentSucceeds bool
	currentOrder    *domain.Order
	lastError       error
}

func (f *orderLifecycleFeature) reset(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
	// 每個場景開始前重置狀態
	f.catalog = repository.NewInMemoryCatalogRepository()
	f.orderRepo = repository.NewInMemoryOrderRepository(f.catalog)
	f.eventPublisher = service.NewMockEventPublisher()
	f.logger = service.NewMockLogger()
	f.clock = service.NewFakeClock(scenarioStart)
	f.delayScheduler = service.NewManualDelayScheduler()
	f.paymentSucceeds = true
	f.currentOrder = nil
	f.lastError = nil

	f.orderService = service.NewOrderService(f.orderRepo, f.catalog, f.eventPublisher, f.logger).WithClock(f.clock)
	processor := service.NewPaymentProcessor(
		f.orderRepo,
		f.eventPublisher,
		f.delayScheduler,
		func() bool { return f.paymentSucceeds },
		5*time.Second,
		f.logger,
	).WithClock(f.clock)
	f.eventHandler = handler.NewOrderEventHandler(processor)
	f.sweeper = scheduler.NewExpirationSweeperWithConfig(f.orderRepo, f.eventPublisher, time.Minute, 10*time.Minute, 100, 2).
		WithClock(f.clock)
	return ctx, nil
}

// Background 步驟
func (f *orderLifecycleFeature) 系統中存在使用者(userID string) error {
	f.catalog.SaveUser(&domain.User{ID: userID, Email: userID + "@example.com"})
	return nil
}

func (f *orderLifecycleFeature) 系統中存在商品單價庫存(productID, price string, stock int) error {
	unitPrice, err := decimal.NewFromString(price)
	if err != nil {
		return fmt.Errorf("單價格式錯誤: %w", err)
	}
	f.catalog.SaveProduct(&domain.Product{ID: productID, Name: productID, Price: unitPrice, Stock: stock})
	return nil
}

func (f *orderLifecycleFeature) 付款結果為(outcome string) error {
	switch outcome {
	case "成功":
		f.paymentSucceeds = true
	case "失敗":
		f.paymentSucceeds = false
	default:
		return fmt.Errorf("未知的付款結果: %s", outcome)
	}
	return nil
}

// 操作步驟
func (f *orderLifecycleFeature) 使用者購買商品數量(userID, productID string, quantity int) error {
	f.currentOrder, f.lastError = f.orderService.Create(context.Background(), service.CreateOrderRequest{
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
	})
	return nil
}

func (f *orderLifecycleFeature) 將訂單數量修改為(quantity int) error {
	if err := f.requireOrder(); err != nil {
		return err
	}
	_, f.lastError = f.orderService.Update(context.Background(), f.currentOrder.ID, service.UpdateOrderRequest{Quantity: &quantity})
	return nil
}

func (f *orderLifecycleFeature) 刪除該訂單() error {
	if err := f.requireOrder(); err != nil {
		return err
	}
	f.lastError = f.orderService.Delete(context.Background(), f.currentOrder.ID)
	return nil
}

// 付款處理器收到建立事件：經過編碼與解碼，模擬從 order-events 通道投遞
func (f *orderLifecycleFeature) 付款處理器收到建立事件() error {
	created := f.eventPublisher.EventsOfType(domain.EventTypeOrderCreated)
	if len(created) == 0 {
		return fmt.Errorf("沒有 order-created 事件可投遞")
	}

	body, err := events.Encode(service.ToMessage(created[len(created)-1]))
	if err != nil {
		return err
	}
	msg, err := events.Decode(body)
	if err != nil {
		return err
	}
	return f.eventHandler.HandleOrderCreated(context.Background(), msg)
}

func (f *orderLifecycleFeature) 付款延遲結束() error {
	f.clock.Advance(5 * time.Second)
	f.delayScheduler.RunPending()
	return nil
}

func (f *orderLifecycleFeature) 時間經過分鐘後執行過期掃描(minutes int) error {
	f.clock.Advance(time.Duration(minutes) * time.Minute)
	_, err := f.sweeper.RunOnce(context.Background())
	return err
}

// 驗證步驟
func (f *orderLifecycleFeature) 訂單狀態應為(expected string) error {
	order, err := f.reloadOrder()
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatus(expected) {
		return fmt.Errorf("期望狀態 %s，實際為 %s", expected, order.Status)
	}
	return nil
}

func (f *orderLifecycleFeature) 訂單總額應為(expected string) error {
	order, err := f.reloadOrder()
	if err != nil {
		return err
	}
	want, err := decimal.NewFromString(expected)
	if err != nil {
		return err
	}
	if !order.Total.Equal(want) {
		return fmt.Errorf("期望總額 %s，實際為 %s", want, order.Total)
	}
	return nil
}

func (f *orderLifecycleFeature) 商品庫存應為(productID string, expected int) error {
	product, err := f.catalog.FindProductByID(context.Background(), productID)
	if err != nil {
		return err
	}
	if product.Stock != expected {
		return fmt.Errorf("期望庫存 %d，實際為 %d", expected, product.Stock)
	}
	return nil
}

func (f *orderLifecycleFeature) 應發布個事件(count int, eventType string) error {
	published := f.eventPublisher.EventsOfType(eventType)
	if len(published) != count {
		return fmt.Errorf("期望 %d 個 %s 事件，實際為 %d 個", count, eventType, len(published))
	}
	return nil
}

func (f *orderLifecycleFeature) 應回傳錯誤(expected string) error {
	if f.lastError == nil {
		return fmt.Errorf("期望錯誤 %q，但操作成功", expected)
	}
	if f.lastError.Error() != expected {
		return fmt.Errorf("期望錯誤 %q，實際為 %q", expected, f.lastError.Error())
	}
	return nil
}

func (f *orderLifecycleFeature) 查詢該訂單應回傳找不到() error {
	_, err := f.reloadOrder()
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("期望找不到訂單，實際錯誤為 %v", err)
	}
	return nil
}

func (f *orderLifecycleFeature) requireOrder() error {
	if f.currentOrder == nil {
		return fmt.Errorf("訂單不存在 (建立錯誤: %v)", f.lastError)
	}
	return nil
}

func (f *orderLifecycleFeature) reloadOrder() (*domain.Order, error) {
	if err := f.requireOrder(); err != nil {
		return nil, err
	}
	return f.orderService.GetOrder(context.Background(), f.currentOrder.ID)
}

// InitializeScenario 註冊步驟定義
func InitializeScenario(ctx *godog.ScenarioContext) {
	f := &orderLifecycleFeature{}

	ctx.Before(f.reset)

	ctx.Step(`^系統中存在使用者 "([^"]*)"$`, f.系統中存在使用者)
	ctx.Step(`^系統中存在商品 "([^"]*)" 單價 "([^"]*)" 庫存 (\d+)$`, f.系統中存在商品單價庫存)
	ctx.Step(`^付款結果為 "([^"]*)"$`, f.付款結果為)

	ctx.Step(`^使用者 "([^"]*)" 購買商品 "([^"]*)" 數量 (\d+)$`, f.使用者購買商品數量)
	ctx.Step(`^將訂單數量修改為 (\d+)$`, f.將訂單數量修改為)
	ctx.Step(`^刪除該訂單$`, f.刪除該訂單)
	ctx.Step(`^付款處理器收到建立事件$`, f.付款處理器收到建立事件)
	ctx.Step(`^付款延遲結束$`, f.付款延遲結束)
	ctx.Step(`^時間經過 (\d+) 分鐘後執行過期掃描$`, f.時間經過分鐘後執行過期掃描)

	ctx.Step(`^訂單狀態應為 "([^"]*)"$`, f.訂單狀態應為)
	ctx.Step(`^訂單總額應為 "([^"]*)"$`, f.訂單總額應為)
	ctx.Step(`^商品 "([^"]*)" 庫存應為 (\d+)$`, f.商品庫存應為)
	ctx.Step(`^應發布 (\d+) 個 "([^"]*)" 事件$`, f.應發布個事件)
	ctx.Step(`^應回傳錯誤 "([^"]*)"$`, f.應回傳錯誤)
	ctx.Step(`^查詢該訂單應回傳找不到$`, f.查詢該訂單應回傳找不到)
}
