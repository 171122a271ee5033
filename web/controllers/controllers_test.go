package controllers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"go-storefront/payment/chain/chaintest"
	"go-storefront/payment/db"
	"go-storefront/payment/db/dbtest"
	"go-storefront/payment/order"
	"go-storefront/payment/store"
	"go-storefront/payment/sweep"
	"go-storefront/payment/wallet"
	"go-storefront/web/middleware"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	jwtSecret      = "jwt-secret"
	paystackSecret = "sk_test_paystack"
	seerbitSecret  = "seerbit-hook"
)

type env struct {
	router  *gin.Engine
	repos   *store.Repositories
	chain   *chaintest.Fake
	settler *order.Settler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	repos := store.New(dbtest.Open(t))
	fake := chaintest.New("base")

	deriver, err := wallet.NewDeriver("controller-secret", logger)
	require.NoError(t, err)
	book := wallet.NewAddressBook(deriver, repos.Users, logger)
	monitor := order.NewMonitor()
	matcher := order.NewMatcher(fake)
	settler := order.NewSettler(repos, monitor, nil, decimal.Zero, logger)
	sweeper := order.NewSweeper(repos.Orders, book, sweep.NewExecutor(fake, common.HexToAddress("0x000000000000000000000000000000000000dEaD"), logger), monitor, logger)
	checkout := order.NewCheckout(repos, book, nil, monitor, order.CheckoutConfig{
		Network:               fake.Network(),
		Window:                30 * time.Minute,
		RequiredConfirmations: 3,
	}, logger)

	r := gin.New()
	Register(r,
		&Payment{
			Orders:    repos.Orders,
			Checkout:  checkout,
			Confirmer: order.NewConfirmer(repos.Orders, matcher, fake, settler, sweeper, logger),
			Monitor:   monitor,
			Network:   fake.Network(),
			Logger:    logger,
		},
		&Callbacks{
			Orders:         repos.Orders,
			Settler:        settler,
			PaystackSecret: paystackSecret,
			SeerBitSecret:  seerbitSecret,
			Logger:         logger,
		},
		middleware.RequireAuth(jwtSecret),
		middleware.NewRateLimiter(100, time.Minute).Middleware(),
	)

	ctx := t.Context()
	for _, id := range []string{"buyer", "other"} {
		require.NoError(t, repos.Users.Create(ctx, &db.User{ID: id, Email: id + "@example.com"}))
	}
	require.NoError(t, repos.Products.Create(ctx, &db.Product{ID: "p1", Name: "Hoodie", Price: decimal.NewFromInt(100), Currency: "USDC", Stock: 5}))
	require.NoError(t, repos.Products.Create(ctx, &db.Product{ID: "p2", Name: "Mug", Price: decimal.NewFromInt(3000), Currency: "NGN", Stock: 5}))
	require.NoError(t, repos.Carts.Add(ctx, &db.CartItem{UserID: "buyer", ProductID: "p1", Quantity: 1}))
	require.NoError(t, repos.Carts.Add(ctx, &db.CartItem{UserID: "other", ProductID: "p2", Quantity: 1}))

	return &env{router: r, repos: repos, chain: fake, settler: settler}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return s
}

func (e *env) do(t *testing.T, method, path, userID string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (e *env) checkout(t *testing.T) map[string]any {
	t.Helper()
	w := e.do(t, http.MethodPost, "/checkout/crypto", "buyer", gin.H{"currency": "USDC", "email": "buyer@example.com"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckoutRequiresAuth(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/checkout/crypto", "", gin.H{"currency": "USDC"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckoutAndStatus(t *testing.T) {
	e := newEnv(t)
	o := e.checkout(t)
	assert.Equal(t, "100", o["total_amount"])
	assert.Equal(t, "USDC", o["currency"])
	assert.Equal(t, "unpaid", o["payment_status"])
	assert.True(t, common.IsHexAddress(o["payment_address"].(string)))

	id := o["id"].(string)
	w := e.do(t, http.MethodGet, "/orders/"+id+"/payment", "buyer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode(t, w)["id"])

	w = e.do(t, http.MethodGet, "/orders/"+id+"/payment", "other", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/checkout/crypto", "buyer", gin.H{"currency": "DOGE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmPayment(t *testing.T) {
	e := newEnv(t)
	o := e.checkout(t)
	id := o["id"].(string)

	w := e.do(t, http.MethodPost, "/orders/"+id+"/payment/confirm", "buyer", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "payment_not_detected", decode(t, w)["code"])

	w = e.do(t, http.MethodPost, "/orders/"+id+"/payment/confirm", "other", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	addr := common.HexToAddress(o["payment_address"].(string))
	e.chain.SetToken(addr, "100")
	e.chain.SetNative(addr, "0.01")

	w = e.do(t, http.MethodPost, "/orders/"+id+"/payment/confirm", "buyer", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["settled"])
	assert.Equal(t, "paid", body["order"].(map[string]any)["payment_status"])
	assert.Equal(t, "swept", body["sweep"].(map[string]any)["kind"])
}

func TestWatchPayment(t *testing.T) {
	e := newEnv(t)
	id := e.checkout(t)["id"].(string)

	w := e.do(t, http.MethodGet, "/orders/"+id+"/payment/watch?timeout=20ms", "buyer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unpaid", decode(t, w)["payment_status"])

	w = e.do(t, http.MethodGet, "/orders/"+id+"/payment/watch?timeout=bogus", "buyer", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, err := e.settler.Settle(t.Context(), id, order.SettleInput{})
		assert.NoError(t, err)
	}()
	w = e.do(t, http.MethodGet, "/orders/"+id+"/payment/watch?timeout=10s", "buyer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paid", decode(t, w)["payment_status"])
}

func TestPaymentQR(t *testing.T) {
	e := newEnv(t)
	id := e.checkout(t)["id"].(string)

	w := e.do(t, http.MethodGet, "/orders/"+id+"/payment/qr", "buyer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("X-Payment-URI"), "@8453/transfer?address=")
	assert.True(t, strings.HasSuffix(w.Header().Get("X-Payment-URI"), "uint256=100000000"))
}

func cardOrder(t *testing.T, e *env, provider string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/checkout/card", "other", gin.H{"provider": provider})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["id"].(string)
}

func paystackSign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(paystackSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaystackCallback(t *testing.T) {
	e := newEnv(t)
	id := cardOrder(t, e, db.MethodPaystack)

	event := func(amount int64) []byte {
		b, _ := json.Marshal(gin.H{
			"event": "charge.success",
			"data":  gin.H{"reference": id, "status": "success", "amount": amount, "currency": "NGN"},
		})
		return b
	}

	body := event(300000)
	w := e.do(t, http.MethodPost, "/payments/paystack/callback", "", body, "x-paystack-signature", paystackSign(append([]byte(" "), body...)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// underpaid: acknowledged but not settled
	short := event(100)
	w = e.do(t, http.MethodPost, "/payments/paystack/callback", "", short, "x-paystack-signature", paystackSign(short))
	assert.Equal(t, http.StatusOK, w.Code)
	o, err := e.repos.Orders.FindByID(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentStatusUnpaid, o.PaymentStatus)

	for i := 0; i < 2; i++ {
		w = e.do(t, http.MethodPost, "/payments/paystack/callback", "", body, "x-paystack-signature", paystackSign(body))
		assert.Equal(t, http.StatusOK, w.Code)
	}
	o, err = e.repos.Orders.FindByID(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentStatusPaid, o.PaymentStatus)

	payments, err := e.repos.Payments.ListByOrder(t.Context(), id)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, db.MethodPaystack, payments[0].Method)
	assert.Equal(t, id, payments[0].TxHash)
}

func TestSeerBitCallback(t *testing.T) {
	e := newEnv(t)
	id := cardOrder(t, e, db.MethodSeerBit)

	body := gin.H{"notificationItems": []gin.H{{
		"notificationRequestItem": gin.H{
			"eventType": "transaction",
			"data":      gin.H{"paymentReference": id, "code": "00", "amount": "3000.00", "currency": "NGN"},
		},
	}}}

	w := e.do(t, http.MethodPost, "/payments/seerbit/callback", "", body, "X-SeerBit-Secret", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodPost, "/payments/seerbit/callback", "", body, "X-SeerBit-Secret", seerbitSecret)
	require.Equal(t, http.StatusOK, w.Code)

	o, err := e.repos.Orders.FindByID(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentStatusPaid, o.PaymentStatus)
	assert.Equal(t, db.OrderStatusConfirmed, o.Status)
}
