package handler

import (
	"ec-order-lifecycle-service/internal/domain"
	"ec-order-lifecycle-service/internal/repository"
	"ec-order-lifecycle-service/internal/service"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// OrderHTTPHandler 訂單 HTTP 端點
type OrderHTTPHandler struct {
	orderService *service.OrderService
}

// NewOrderHTTPHandler 建立訂單 HTTP 處理器
func NewOrderHTTPHandler(orderService *service.OrderService) *OrderHTTPHandler {
	return &OrderHTTPHandler{orderService: orderService}
}

// RegisterRoutes 註冊訂單路由
func (h *OrderHTTPHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/orders", h.CreateOrder)
	r.GET("/orders", h.ListOrdersByStatus)
	r.GET("/orders/:orderId", h.GetOrder)
	r.PATCH("/orders/:orderId", h.UpdateOrder)
	r.DELETE("/orders/:orderId", h.DeleteOrder)
	r.GET("/users/:userId/orders", h.ListOrdersByUser)
}

type createOrderRequest struct {
	UserID    string `json:"userId" binding:"required"`
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity"`
}

type updateOrderRequest struct {
	Quantity *int    `json:"quantity"`
	Status   *string `json:"status"`
}

// CreateOrder POST /orders
func (h *OrderHTTPHandler) CreateOrder(c *gin.Context) {
	startTime := time.Now()

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[API] 請求參數錯誤: error=%v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.Create(c.Request.Context(), service.CreateOrderRequest{
		UserID:    req.UserID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		log.Printf("[API] 建立訂單失敗: userId=%s, productId=%s, error=%v, duration=%v",
			req.UserID, req.ProductID, err, time.Since(startTime))
		writeError(c, err)
		return
	}

	log.Printf("[API] 建立訂單成功: orderId=%s, duration=%v", order.ID, time.Since(startTime))
	c.JSON(http.StatusCreated, order)
}

// GetOrder GET /orders/:orderId
func (h *OrderHTTPHandler) GetOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// UpdateOrder PATCH /orders/:orderId
func (h *OrderHTTPHandler) UpdateOrder(c *gin.Context) {
	orderID := c.Param("orderId")

	var req updateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[API] 請求參數錯誤: orderId=%s, error=%v", orderID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "orderId": orderID})
		return
	}

	update := service.UpdateOrderRequest{Quantity: req.Quantity}
	if req.Status != nil {
		status, err := domain.ParseOrderStatus(*req.Status)
		if err != nil {
			writeError(c, err)
			return
		}
		update.Status = &status
	}

	order, err := h.orderService.Update(c.Request.Context(), orderID, update)
	if err != nil {
		log.Printf("[API] 更新訂單失敗: orderId=%s, error=%v", orderID, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// DeleteOrder DELETE /orders/:orderId
func (h *OrderHTTPHandler) DeleteOrder(c *gin.Context) {
	orderID := c.Param("orderId")
	if err := h.orderService.Delete(c.Request.Context(), orderID); err != nil {
		log.Printf("[API] 刪除訂單失敗: orderId=%s, error=%v", orderID, err)
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListOrdersByUser GET /users/:userId/orders?limit=&offset=
func (h *OrderHTTPHandler) ListOrdersByUser(c *gin.Context) {
	limit, offset, err := pagination(c)
	if err != nil {
		writeError(c, err)
		return
	}

	orders, err := h.orderService.ListOrdersByUser(c.Request.Context(), c.Param("userId"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "limit": limit, "offset": offset})
}

// ListOrdersByStatus GET /orders?status=&limit=&offset=
func (h *OrderHTTPHandler) ListOrdersByStatus(c *gin.Context) {
	limit, offset, err := pagination(c)
	if err != nil {
		writeError(c, err)
		return
	}

	status := domain.OrderStatus(c.Query("status"))
	orders, err := h.orderService.ListOrdersByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "limit": limit, "offset": offset})
}

func pagination(c *gin.Context) (int, int, error) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		return 0, 0, domain.ErrValidation{Field: "limit", Reason: "must be a positive integer"}
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		return 0, 0, domain.ErrValidation{Field: "offset", Reason: "must be a non-negative integer"}
	}
	return limit, offset, nil
}

// writeError 將錯誤分類轉為 HTTP 狀態碼
func writeError(c *gin.Context, err error) {
	var (
		validation domain.ErrValidation
		notFound   domain.ErrNotFound
		business   domain.ErrBusinessRule
		conflict   domain.ErrStatusConflict
		duplicate  repository.ErrDuplicateOrder
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error(), "resource": notFound.Resource})
	case errors.As(err, &business):
		c.JSON(http.StatusConflict, gin.H{"error": business.Message, "code": business.Code})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	case errors.As(err, &duplicate):
		c.JSON(http.StatusConflict, gin.H{"error": duplicate.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
