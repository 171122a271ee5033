package controllers

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"go-storefront/payment/db"
	"go-storefront/payment/order"
	"go-storefront/payment/store"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxCallbackBody = 1 << 20

// Callbacks settles card orders from payment provider webhooks. The
// provider's reference is our order id.
type Callbacks struct {
	Orders         store.OrderRepository
	Settler        *order.Settler
	PaystackSecret string
	SeerBitSecret  string
	Logger         *zap.Logger
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"` // minor units
		Currency  string `json:"currency"`
	} `json:"data"`
}

func (h *Callbacks) Paystack(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if h.PaystackSecret == "" || !validPaystackSignature(h.PaystackSecret, body, c.GetHeader("x-paystack-signature")) {
		c.Status(http.StatusUnauthorized)
		return
	}

	var ev paystackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if ev.Event != "charge.success" || ev.Data.Status != "success" {
		c.Status(http.StatusOK)
		return
	}
	h.settleCard(c, db.MethodPaystack, ev.Data.Reference, decimal.New(ev.Data.Amount, -2), ev.Data.Currency)
}

func validPaystackSignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

type seerbitNotification struct {
	NotificationItems []struct {
		NotificationRequestItem struct {
			EventType string `json:"eventType"`
			Data      struct {
				PaymentReference string          `json:"paymentReference"`
				Code             string          `json:"code"`
				Amount           decimal.Decimal `json:"amount"`
				Currency         string          `json:"currency"`
			} `json:"data"`
		} `json:"notificationRequestItem"`
	} `json:"notificationItems"`
}

func (h *Callbacks) SeerBit(c *gin.Context) {
	secret := c.GetHeader("X-SeerBit-Secret")
	if h.SeerBitSecret == "" || !hmac.Equal([]byte(secret), []byte(h.SeerBitSecret)) {
		c.Status(http.StatusUnauthorized)
		return
	}
	var n seerbitNotification
	if err := c.ShouldBindJSON(&n); err != nil || len(n.NotificationItems) == 0 {
		c.Status(http.StatusBadRequest)
		return
	}
	item := n.NotificationItems[0].NotificationRequestItem
	if item.EventType != "transaction" || item.Data.Code != "00" {
		c.Status(http.StatusOK)
		return
	}
	h.settleCard(c, db.MethodSeerBit, item.Data.PaymentReference, item.Data.Amount, item.Data.Currency)
}

func (h *Callbacks) settleCard(c *gin.Context, method, reference string, paid decimal.Decimal, cur string) {
	log := h.Logger.With(zap.String("order_id", reference), zap.String("method", method))
	ctx := c.Request.Context()

	o, err := h.Orders.FindByID(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("callback for unknown order")
		c.Status(http.StatusOK)
		return
	}
	if err != nil {
		log.Error("load order failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	if o.PaymentMethod != method {
		log.Warn("callback method does not match order", zap.String("order_method", o.PaymentMethod))
		c.Status(http.StatusOK)
		return
	}
	if (cur != "" && cur != o.Currency) || paid.LessThan(o.TotalAmount) {
		log.Warn("card payment does not cover order",
			zap.String("paid", paid.String()), zap.String("currency", cur), zap.String("total", o.TotalAmount.String()))
		c.Status(http.StatusOK)
		return
	}

	if _, err := h.Settler.Settle(ctx, o.ID, order.SettleInput{TxHash: reference, Method: method}); err != nil {
		log.Error("card settlement failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)
}
