package order

import (
	"context"
	"go-storefront/payment/chain/chaintest"
	"go-storefront/payment/currency"
	"go-storefront/payment/db"
	"go-storefront/payment/db/dbtest"
	"go-storefront/payment/store"
	"go-storefront/payment/sweep"
	"go-storefront/payment/wallet"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var treasury = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *fakeNotifier) OrderConfirmed(_ context.Context, o *db.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, o.ID)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixedRate decimal.Decimal

func (r fixedRate) Convert(_ context.Context, amount decimal.Decimal, _, _ currency.Code) (decimal.Decimal, error) {
	return amount.Mul(decimal.Decimal(r)), nil
}

type harness struct {
	repos     *store.Repositories
	chain     *chaintest.Fake
	book      *wallet.AddressBook
	monitor   *Monitor
	notifier  *fakeNotifier
	matcher   *Matcher
	settler   *Settler
	sweeper   *Sweeper
	scheduler *Scheduler
	confirmer *Confirmer
	checkout  *Checkout

	mu  sync.Mutex
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	h := &harness{
		repos:    store.New(dbtest.Open(t)),
		chain:    chaintest.New("base"),
		monitor:  NewMonitor(),
		notifier: &fakeNotifier{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	deriver, err := wallet.NewDeriver("test-master-secret", logger)
	require.NoError(t, err)
	h.book = wallet.NewAddressBook(deriver, h.repos.Users, logger)

	h.matcher = NewMatcher(h.chain)
	h.settler = NewSettler(h.repos, h.monitor, h.notifier, decimal.NewFromInt(500), logger)
	h.sweeper = NewSweeper(h.repos.Orders, h.book, sweep.NewExecutor(h.chain, treasury, logger), h.monitor, logger)
	h.scheduler = NewScheduler(h.repos.Orders, h.matcher, h.chain, h.settler, h.sweeper, h.monitor, SchedulerConfig{
		VerifyInterval:        time.Second,
		SweepInterval:         time.Second,
		Concurrency:           4,
		RequiredConfirmations: 3,
	}, logger)
	h.confirmer = NewConfirmer(h.repos.Orders, h.matcher, h.chain, h.settler, h.sweeper, logger)
	h.checkout = NewCheckout(h.repos, h.book, fixedRate(decimal.NewFromInt(1)), h.monitor, CheckoutConfig{
		Network:               h.chain.Network(),
		Window:                30 * time.Minute,
		RequiredConfirmations: 3,
		DeliveryFee:           decimal.Zero,
	}, logger)

	h.settler.now = h.clock
	h.sweeper.now = h.clock
	h.scheduler.now = h.clock
	h.checkout.now = h.clock
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

// seed creates a referrer, a referred buyer with two units of p1 in the cart,
// and a second product with a priced variant.
func (h *harness) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.repos.Users.Create(ctx, &db.User{ID: "referrer", Email: "ref@example.com"}))
	require.NoError(t, h.repos.Users.Create(ctx, &db.User{ID: "buyer", Email: "buyer@example.com", ReferredBy: "referrer"}))

	variantPrice := decimal.NewFromInt(7)
	require.NoError(t, h.repos.Products.Create(ctx, &db.Product{ID: "p1", Name: "Hoodie", Price: decimal.NewFromInt(50), Currency: "USD", Stock: 10}))
	require.NoError(t, h.repos.Products.Create(ctx, &db.Product{
		ID: "p2", Name: "Sticker", Price: decimal.NewFromInt(5), Currency: "USD", Stock: 10,
		Variants: []db.ProductVariant{{ID: "p2-holo", ProductID: "p2", Name: "holo", Price: &variantPrice, Stock: 3}},
	}))
	require.NoError(t, h.repos.Carts.Add(ctx, &db.CartItem{UserID: "buyer", ProductID: "p1", Quantity: 2}))
}

func (h *harness) cryptoOrder(t *testing.T) *db.Order {
	t.Helper()
	o, err := h.checkout.CreateCryptoOrder(context.Background(), CheckoutInput{UserID: "buyer", Email: "buyer@example.com", Currency: "USDC"})
	require.NoError(t, err)
	return o
}

func (h *harness) order(t *testing.T, id string) *db.Order {
	t.Helper()
	o, err := h.repos.Orders.FindByID(context.Background(), id)
	require.NoError(t, err)
	return o
}
