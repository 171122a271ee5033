package order

import (
	"context"
	"fmt"
	"go-storefront/payment/chain"
	"go-storefront/payment/currency"
	"go-storefront/payment/db"
	"go-storefront/payment/store"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// registrations older than this past their deadline are dropped from the monitor
const staleAfter = time.Hour

// FundingTracker finds the transaction that funded an address.
type FundingTracker interface {
	Network() chain.Network
	FindIncomingTokenTransfer(ctx context.Context, addr common.Address) (common.Hash, bool, error)
	Confirmations(ctx context.Context, hash common.Hash) (int, error)
}

type SchedulerConfig struct {
	VerifyInterval        time.Duration
	SweepInterval         time.Duration
	Concurrency           int
	RequiredConfirmations int // used when an order carries none
}

// Scheduler runs the verification and sweep loops.
type Scheduler struct {
	orders  store.OrderRepository
	matcher *Matcher
	tracker FundingTracker
	settler *Settler
	sweeper *Sweeper
	monitor *Monitor
	cfg     SchedulerConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewScheduler(orders store.OrderRepository, matcher *Matcher, tracker FundingTracker, settler *Settler, sweeper *Sweeper, monitor *Monitor, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		orders:  orders,
		matcher: matcher,
		tracker: tracker,
		settler: settler,
		sweeper: sweeper,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run ticks both loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, "verify", s.cfg.VerifyInterval, s.VerifyTick)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, "sweep", s.cfg.SweepInterval, s.SweepTick)
	}()
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, tick func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := tick(ctx); err != nil {
			s.logger.Warn(name+" tick finished with errors", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// each runs fn for every order with bounded concurrency. One order's error
// never stops the others; all errors are returned together.
func (s *Scheduler) each(ctx context.Context, orders []db.Order, fn func(context.Context, *db.Order) error) error {
	var (
		mu   sync.Mutex
		errs error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for i := range orders {
		o := &orders[i]
		g.Go(func() error {
			if err := fn(ctx, o); err != nil {
				s.logger.Warn("order processing failed", zap.String("order_id", o.ID), zap.Error(err))
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("order %s: %w", o.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errs
}

// VerifyTick settles funded orders and cancels expired ones.
func (s *Scheduler) VerifyTick(ctx context.Context) error {
	orders, err := s.orders.ListUnpaidCrypto(ctx)
	if err != nil {
		return err
	}
	err = s.each(ctx, orders, s.verify)
	if stale := s.monitor.Prune(s.now().Add(-staleAfter)); len(stale) > 0 {
		s.logger.Debug("pruned stale monitor entries", zap.Strings("order_ids", stale))
	}
	return err
}

func (s *Scheduler) verify(ctx context.Context, o *db.Order) error {
	received, err := covered(ctx, s.matcher, s.orders, o)
	if err != nil {
		return err
	}
	if !received {
		if o.PaymentExpiry == nil || !s.now().After(*o.PaymentExpiry) {
			return nil
		}
		cancelled, err := s.orders.Cancel(ctx, o.ID)
		if err != nil {
			return err
		}
		if cancelled {
			s.monitor.Stop(o.ID)
			s.logger.Info("payment window expired, order cancelled", zap.String("order_id", o.ID))
		}
		return nil
	}

	txHash, confirmations, known := s.captureFunding(ctx, o)
	required := o.RequiredConfirmations
	if required == 0 {
		required = s.cfg.RequiredConfirmations
	}
	if known && confirmations < required {
		s.logger.Debug("payment seen, waiting for confirmations",
			zap.String("order_id", o.ID), zap.Int("confirmations", confirmations), zap.Int("required", required))
		return nil
	}

	_, err = s.settler.Settle(ctx, o.ID, SettleInput{TxHash: txHash, Method: db.MethodCrypto})
	return err
}

// captureFunding looks up and stores the funding transaction. A failed hash
// lookup reports the hash as unknown; a failed confirmation lookup reports a
// known hash with zero confirmations so settlement waits for the next tick.
func (s *Scheduler) captureFunding(ctx context.Context, o *db.Order) (string, int, bool) {
	return captureFunding(ctx, s.tracker, s.orders, s.logger, o)
}

func captureFunding(ctx context.Context, tracker FundingTracker, orders store.OrderRepository, logger *zap.Logger, o *db.Order) (string, int, bool) {
	log := logger.With(zap.String("order_id", o.ID))

	var hash common.Hash
	if o.TxHash != "" {
		hash = common.HexToHash(o.TxHash)
	} else {
		code, err := currency.Normalize(o.Currency)
		if err != nil {
			return "", 0, false
		}
		asset, err := tracker.Network().AssetFor(code)
		if err != nil || asset.Kind != chain.AssetToken {
			return "", 0, false
		}
		found, ok, err := tracker.FindIncomingTokenTransfer(ctx, common.HexToAddress(o.PaymentAddress))
		if err != nil {
			log.Debug("funding transaction lookup failed", zap.Error(err))
			return "", 0, false
		}
		if !ok {
			return "", 0, false
		}
		hash = found
	}

	confirmations, err := tracker.Confirmations(ctx, hash)
	if err != nil {
		log.Debug("confirmation lookup failed", zap.Error(err))
		return hash.Hex(), 0, true
	}
	if err := orders.RecordChainProgress(ctx, o.ID, hash.Hex(), confirmations); err != nil {
		log.Warn("recording chain progress failed", zap.Error(err))
	}
	return hash.Hex(), confirmations, true
}

// onePerAddress keeps the oldest order of each address and currency. One
// sweep empties the address and books the others with it.
func onePerAddress(orders []db.Order) []db.Order {
	seen := make(map[string]bool, len(orders))
	out := orders[:0:0]
	for _, o := range orders {
		key := strings.ToLower(o.PaymentAddress) + "/" + currency.MustNormalize(o.Currency).String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, o)
	}
	return out
}

// SweepTick sweeps every paid crypto order whose funds are still at its
// deposit address.
func (s *Scheduler) SweepTick(ctx context.Context) error {
	orders, err := s.orders.ListUnswept(ctx)
	if err != nil {
		return err
	}
	return s.each(ctx, onePerAddress(orders), func(ctx context.Context, o *db.Order) error {
		_, err := s.sweeper.SweepOrder(ctx, o)
		return err
	})
}
