package controllers

import (
	"errors"
	"go-storefront/payment/chain"
	"go-storefront/payment/currency"
	"go-storefront/payment/db"
	"go-storefront/payment/order"
	"go-storefront/payment/qrcode"
	"go-storefront/payment/store"
	"go-storefront/web/middleware"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWatch = 60 * time.Second

// Payment serves the buyer-facing checkout and payment endpoints.
type Payment struct {
	Orders    store.OrderRepository
	Checkout  *order.Checkout
	Confirmer *order.Confirmer
	Monitor   *order.Monitor
	Network   chain.Network
	Logger    *zap.Logger
}

type orderView struct {
	ID                    string     `json:"id"`
	OrderNumber           string     `json:"order_number"`
	Status                string     `json:"status"`
	PaymentStatus         string     `json:"payment_status"`
	PaymentMethod         string     `json:"payment_method"`
	TotalAmount           string     `json:"total_amount"`
	Currency              string     `json:"currency"`
	PaymentAddress        string     `json:"payment_address,omitempty"`
	PaymentNetwork        string     `json:"payment_network,omitempty"`
	PaymentExpiry         *time.Time `json:"payment_expiry,omitempty"`
	RequiredConfirmations int        `json:"required_confirmations,omitempty"`
	Confirmations         int        `json:"confirmations"`
	TxHash                string     `json:"tx_hash,omitempty"`
	PaidAt                *time.Time `json:"paid_at,omitempty"`
}

func newOrderView(o *db.Order) orderView {
	return orderView{
		ID:                    o.ID,
		OrderNumber:           o.OrderNumber,
		Status:                o.Status,
		PaymentStatus:         o.PaymentStatus,
		PaymentMethod:         o.PaymentMethod,
		TotalAmount:           o.TotalAmount.String(),
		Currency:              o.Currency,
		PaymentAddress:        o.PaymentAddress,
		PaymentNetwork:        o.PaymentNetwork,
		PaymentExpiry:         o.PaymentExpiry,
		RequiredConfirmations: o.RequiredConfirmations,
		Confirmations:         o.Confirmations,
		TxHash:                o.TxHash,
		PaidAt:                o.PaidAt,
	}
}

func (h *Payment) CreateCryptoOrder(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	var req struct {
		Currency string `json:"currency" binding:"required"`
		Email    string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	o, err := h.Checkout.CreateCryptoOrder(c.Request.Context(), order.CheckoutInput{UserID: userID, Email: req.Email, Currency: req.Currency})
	if err != nil {
		h.checkoutError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderView(o))
}

func (h *Payment) CreateCardOrder(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	var req struct {
		Provider string `json:"provider" binding:"required"`
		Email    string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	o, err := h.Checkout.CreateCardOrder(c.Request.Context(), order.CheckoutInput{UserID: userID, Email: req.Email}, req.Provider)
	if err != nil {
		h.checkoutError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderView(o))
}

func (h *Payment) checkoutError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrEmptyCart), errors.Is(err, order.ErrMixedCurrency),
		errors.Is(err, currency.ErrUnsupported), errors.Is(err, chain.ErrUnsupportedAsset):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.Logger.Error("checkout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create order"})
	}
}

// ownOrder loads the order in the path and checks it belongs to the caller.
// It writes the error response itself and returns nil on failure.
func (h *Payment) ownOrder(c *gin.Context) *db.Order {
	userID, err := middleware.UserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil
	}
	o, err := h.Orders.FindByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && o.UserID != userID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return nil
	}
	if err != nil {
		h.Logger.Error("load order failed", zap.String("order_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return nil
	}
	return o
}

func (h *Payment) GetPayment(c *gin.Context) {
	if o := h.ownOrder(c); o != nil {
		c.JSON(http.StatusOK, newOrderView(o))
	}
}

// WatchPayment long-polls until the order stops being monitored or the
// timeout passes, then returns its current state.
func (h *Payment) WatchPayment(c *gin.Context) {
	o := h.ownOrder(c)
	if o == nil {
		return
	}
	timeout := 30 * time.Second
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid timeout"})
			return
		}
		timeout = min(d, maxWatch)
	}

	if o.PaymentStatus == db.PaymentStatusUnpaid {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-h.Monitor.Done(o.ID):
		case <-timer.C:
		case <-c.Request.Context().Done():
			return
		}
		fresh, err := h.Orders.FindByID(c.Request.Context(), o.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
			return
		}
		o = fresh
	}
	c.JSON(http.StatusOK, newOrderView(o))
}

func (h *Payment) ConfirmPayment(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	res, err := h.Confirmer.Confirm(c.Request.Context(), c.Param("id"), userID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound), errors.Is(err, order.ErrNotOwner):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	case errors.Is(err, order.ErrPaymentNotDetected):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "payment_not_detected"})
		return
	case errors.Is(err, order.ErrOrderClosed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "order_closed"})
		return
	case errors.Is(err, order.ErrNotCryptoOrder):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "not_crypto"})
		return
	default:
		h.Logger.Error("confirm payment failed", zap.String("order_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not check payment, try again shortly"})
		return
	}

	resp := gin.H{"order": newOrderView(res.Order), "settled": res.Settled}
	if res.Sweep != nil {
		resp["sweep"] = gin.H{"success": res.Sweep.Success, "kind": res.Sweep.Kind.String(), "message": res.Sweep.Message}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Payment) PaymentQR(c *gin.Context) {
	o := h.ownOrder(c)
	if o == nil {
		return
	}
	if o.PaymentMethod != db.MethodCrypto || o.PaymentAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Order has no payment address"})
		return
	}
	cur, err := currency.Normalize(o.Currency)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	uri, err := qrcode.PaymentURI(h.Network, cur, o.PaymentAddress, o.TotalAmount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	png, err := qrcode.PNG(uri, qrcode.DefaultSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render QR code"})
		return
	}
	c.Header("X-Payment-URI", uri)
	c.Data(http.StatusOK, "image/png", png)
}
