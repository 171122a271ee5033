package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Register mounts every route. limiter guards the buyer-facing endpoints;
// provider callbacks authenticate themselves and are not rate limited.
func Register(r gin.IRouter, p *Payment, cb *Callbacks, auth, limiter gin.HandlerFunc) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	r.POST("/checkout/crypto", limiter, auth, p.CreateCryptoOrder)
	r.POST("/checkout/card", limiter, auth, p.CreateCardOrder)
	r.GET("/orders/:id/payment", limiter, auth, p.GetPayment)
	r.GET("/orders/:id/payment/watch", auth, p.WatchPayment)
	r.POST("/orders/:id/payment/confirm", limiter, auth, p.ConfirmPayment)
	r.GET("/orders/:id/payment/qr", limiter, auth, p.PaymentQR)

	r.POST("/payments/paystack/callback", cb.Paystack)
	r.POST("/payments/seerbit/callback", cb.SeerBit)
}
