package order

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"go-storefront/payment/currency"
	"go-storefront/payment/db"
	"go-storefront/payment/store"
	"go-storefront/payment/sweep"
	"go-storefront/payment/wallet"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	noteNoFunds         = "no funds at payment address: already swept or never arrived"
	noteAddressMismatch = "payment address does not match buyer derivation; manual sweep required"
	notePending         = "sweep transaction submitted, awaiting inclusion"
)

// AccountSource recovers the signing account behind an order's address.
type AccountSource interface {
	Account(userID, expected string) (wallet.Account, error)
}

type SweepExecutor interface {
	Sweep(ctx context.Context, from common.Address, key *ecdsa.PrivateKey, cur currency.Code) (sweep.Result, error)
	Landed(ctx context.Context, hash common.Hash) (mined, succeeded bool, err error)
}

// Sweeper sweeps paid orders and records the outcome on them. A sweep empties
// the whole address, so every paid, unswept order in the same currency at
// that address is booked with it.
type Sweeper struct {
	orders   store.OrderRepository
	accounts AccountSource
	executor SweepExecutor
	monitor  *Monitor
	logger   *zap.Logger
	now      func() time.Time

	locks sync.Map // lower-cased payment address -> *sync.Mutex
}

func NewSweeper(orders store.OrderRepository, accounts AccountSource, executor SweepExecutor, monitor *Monitor, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		orders:   orders,
		accounts: accounts,
		executor: executor,
		monitor:  monitor,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Sweeper) lock(address string) func() {
	v, _ := s.locks.LoadOrStore(strings.ToLower(address), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// SweepOrder moves the order's funds to the treasury. Success and terminal
// failures mark the order swept; a missing-gas failure only leaves a note.
// While another order at the same address is still awaiting payment nothing
// is moved. Returned errors are transient or configuration problems and
// leave the order untouched for the next attempt.
func (s *Sweeper) SweepOrder(ctx context.Context, o *db.Order) (sweep.Result, error) {
	log := s.logger.With(zap.String("order_id", o.ID), zap.String("address", o.PaymentAddress))
	defer s.lock(o.PaymentAddress)()

	open, err := s.orders.ListOpenAtAddress(ctx, o.PaymentAddress)
	if err != nil {
		return sweep.Result{}, err
	}
	group, waiting, err := s.sweepGroup(o.ID, open)
	if err != nil {
		return sweep.Result{}, err
	}
	if len(group) == 0 {
		return sweep.Result{Kind: sweep.KindSwept, Success: true, Message: "already swept"}, nil
	}
	if waiting != "" {
		log.Debug("sweep deferred while address collects another payment", zap.String("waiting_for", waiting))
		return sweep.Result{Kind: sweep.KindDeferred, Message: "address still collects payment for order " + waiting}, nil
	}
	o = group[0]

	// bookkeeping after a broadcast must not be lost to a cancelled request
	book := context.WithoutCancel(ctx)

	for _, p := range group {
		if p.PendingSweepTx == "" {
			continue
		}
		res, done, err := s.resolvePending(ctx, book, p, group, log)
		if done || err != nil {
			return res, err
		}
		break
	}

	account, err := s.accounts.Account(o.UserID, o.PaymentAddress)
	if errors.Is(err, wallet.ErrAddressMismatch) {
		log.Error("cannot sign for payment address", zap.Error(err))
		if err := s.markSwept(book, group, "", noteAddressMismatch); err != nil {
			return sweep.Result{}, err
		}
		return sweep.Result{Message: noteAddressMismatch}, nil
	}
	if err != nil {
		return sweep.Result{}, err
	}

	code, err := currency.Normalize(o.Currency)
	if err != nil {
		return sweep.Result{}, err
	}
	res, err := s.executor.Sweep(ctx, account.Address, account.Key, code)
	if err != nil {
		return sweep.Result{}, fmt.Errorf("sweep order %s: %w", o.ID, err)
	}

	switch res.Kind {
	case sweep.KindSwept:
		err = s.markSwept(book, group, res.TxHash, "")
	case sweep.KindNoFunds:
		err = s.markSwept(book, group, "", noteNoFunds)
	case sweep.KindDust:
		err = s.markSwept(book, group, "", res.Message)
	case sweep.KindInsufficientGas:
		log.Warn("sweep waiting for gas top-up")
		err = s.orders.SetSweepNote(book, o.ID, res.Message)
	case sweep.KindPending:
		log.Warn("sweep inclusion not observed, receipt checked on next attempt", zap.String("tx", res.TxHash))
		if err = s.orders.SetPendingSweep(book, o.ID, res.TxHash); err == nil {
			err = s.orders.SetSweepNote(book, o.ID, notePending)
		}
	default:
		err = fmt.Errorf("unexpected sweep result %s", res.Kind)
	}
	if err != nil {
		return res, err
	}
	log.Info("sweep attempted", zap.Stringer("kind", res.Kind), zap.String("tx", res.TxHash), zap.Int("orders", len(group)))
	return res, nil
}

// sweepGroup picks, from the open orders at one address, the paid unswept
// orders sharing orderID's currency (orderID first), and the id of any unpaid
// order still being monitored.
func (s *Sweeper) sweepGroup(orderID string, open []db.Order) ([]*db.Order, string, error) {
	var (
		self    *db.Order
		waiting string
	)
	for i := range open {
		o := &open[i]
		if o.ID == orderID && o.PaymentStatus == db.PaymentStatusPaid {
			self = o
		}
		if waiting == "" && o.PaymentStatus == db.PaymentStatusUnpaid && s.monitor.IsWatching(o.ID) {
			waiting = o.ID
		}
	}
	if self == nil {
		return nil, waiting, nil
	}
	code, err := currency.Normalize(self.Currency)
	if err != nil {
		return nil, "", err
	}

	group := []*db.Order{self}
	for i := range open {
		o := &open[i]
		if o.ID == orderID || o.PaymentStatus != db.PaymentStatusPaid {
			continue
		}
		if c, err := currency.Normalize(o.Currency); err == nil && c == code {
			group = append(group, o)
		}
	}
	return group, waiting, nil
}

// resolvePending checks the receipt of a sweep whose inclusion was never
// observed. done is false when the sweep reverted and a fresh attempt should
// follow.
func (s *Sweeper) resolvePending(ctx, book context.Context, p *db.Order, group []*db.Order, log *zap.Logger) (sweep.Result, bool, error) {
	hash := p.PendingSweepTx
	mined, succeeded, err := s.executor.Landed(ctx, common.HexToHash(hash))
	if err != nil {
		return sweep.Result{}, true, fmt.Errorf("receipt of pending sweep %s: %w", hash, err)
	}
	if !mined {
		log.Debug("pending sweep not mined yet", zap.String("tx", hash))
		return sweep.Result{Kind: sweep.KindPending, TxHash: hash, Message: notePending}, true, nil
	}
	if succeeded {
		if err := s.markSwept(book, group, hash, ""); err != nil {
			return sweep.Result{}, true, err
		}
		log.Info("pending sweep confirmed", zap.String("tx", hash))
		return sweep.Result{Success: true, Kind: sweep.KindSwept, TxHash: hash}, true, nil
	}

	log.Warn("pending sweep reverted, sweeping again", zap.String("tx", hash))
	if err := s.orders.SetPendingSweep(book, p.ID, ""); err != nil {
		return sweep.Result{}, true, err
	}
	return sweep.Result{}, false, nil
}

func (s *Sweeper) markSwept(ctx context.Context, group []*db.Order, txHash, note string) error {
	now := s.now()
	for _, o := range group {
		if _, err := s.orders.MarkSwept(ctx, o.ID, txHash, note, now); err != nil {
			return fmt.Errorf("mark order %s swept: %w", o.ID, err)
		}
	}
	return nil
}
