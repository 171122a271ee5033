package order

import (
	"context"
	"go-storefront/payment/store"
	"sync"
	"time"

	"github.com/google/btree"
)

// Monitor is the registry of orders awaiting payment. Checkout and Restore
// insert; settlement and expiry remove. Watchers block on Done until the
// order leaves the registry.
type Monitor struct {
	mu      sync.Mutex
	tree    *btree.BTree // watches with a deadline, earliest first
	entries map[string]*watch
}

type watch struct {
	orderID  string
	deadline time.Time
	done     chan struct{}
}

type deadlineKey struct {
	deadline time.Time
	orderID  string
}

func (a deadlineKey) Less(b btree.Item) bool {
	o := b.(deadlineKey)
	if a.deadline.Equal(o.deadline) {
		return a.orderID < o.orderID
	}
	return a.deadline.Before(o.deadline)
}

func NewMonitor() *Monitor {
	return &Monitor{
		tree:    btree.New(2),
		entries: make(map[string]*watch),
	}
}

// Watch registers orderID. A zero deadline means the order never goes stale.
// Registering an order twice keeps the first registration.
func (m *Monitor) Watch(orderID string, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[orderID]; ok {
		return
	}
	m.entries[orderID] = &watch{orderID: orderID, deadline: deadline, done: make(chan struct{})}
	if !deadline.IsZero() {
		m.tree.ReplaceOrInsert(deadlineKey{deadline, orderID})
	}
}

// Stop removes orderID and wakes its watchers. Stopping an unknown order is a no-op.
func (m *Monitor) Stop(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(orderID)
}

func (m *Monitor) remove(orderID string) {
	w, ok := m.entries[orderID]
	if !ok {
		return
	}
	delete(m.entries, orderID)
	if !w.deadline.IsZero() {
		m.tree.Delete(deadlineKey{w.deadline, orderID})
	}
	close(w.done)
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Done returns a channel closed when orderID stops being monitored. For an
// order that is not registered the channel is already closed.
func (m *Monitor) Done(orderID string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.entries[orderID]; ok {
		return w.done
	}
	return closedChan
}

func (m *Monitor) IsWatching(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[orderID]
	return ok
}

func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Prune drops every registration whose deadline is before cutoff and returns
// their order ids. It never touches the orders themselves.
func (m *Monitor) Prune(cutoff time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []string
	m.tree.Ascend(func(it btree.Item) bool {
		k := it.(deadlineKey)
		if !k.deadline.Before(cutoff) {
			return false
		}
		stale = append(stale, k.orderID)
		return true
	})
	for _, id := range stale {
		m.remove(id)
	}
	return stale
}

// Restore registers every unpaid crypto order, so a restarted process keeps
// serving watchers.
func (m *Monitor) Restore(ctx context.Context, orders store.OrderRepository) (int, error) {
	pending, err := orders.ListUnpaidCrypto(ctx)
	if err != nil {
		return 0, err
	}
	for _, o := range pending {
		var deadline time.Time
		if o.PaymentExpiry != nil {
			deadline = *o.PaymentExpiry
		}
		m.Watch(o.ID, deadline)
	}
	return len(pending), nil
}
