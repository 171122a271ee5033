package currency

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/imroc/req/v3"
	"github.com/shopspring/decimal"
)

// USD value of one unit, used until the first successful fetch.
var defaultRates = map[Code]float64{
	USD:  1.0,
	USDC: 1.0,
	NGN:  0.00065,
	ETH:  3000,
	POL:  0.4,
	BNB:  600,
}

const (
	defaultFiatURL = "https://open.er-api.com/v6/latest/USD"
	defaultOKXURL  = "https://www.okx.com/api/v5/market/ticker"
)

type erResponse struct {
	Rates map[string]float64 `json:"rates"`
}

type okxResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
	} `json:"data"`
}

// Quoter converts checkout totals between currencies using cached public rates.
type Quoter struct {
	client   *req.Client
	fiatURL  string
	okxURL   string
	cacheTTL time.Duration

	mu        sync.Mutex
	rates     map[Code]float64
	fetchedAt time.Time
}

func NewQuoter() *Quoter {
	return &Quoter{
		client:   req.C().SetTimeout(10 * time.Second),
		fiatURL:  defaultFiatURL,
		okxURL:   defaultOKXURL,
		cacheTTL: 5 * time.Minute,
	}
}

// WithEndpoints points the quoter at alternative rate sources.
func (q *Quoter) WithEndpoints(fiatURL, okxURL string) *Quoter {
	q.fiatURL = fiatURL
	q.okxURL = okxURL
	return q
}

func (q *Quoter) fetchFiat(ctx context.Context) (map[Code]float64, error) {
	var data erResponse
	resp, err := q.client.R().SetContext(ctx).SetSuccessResult(&data).Get(q.fiatURL)
	if err != nil {
		return nil, err
	}
	if resp.IsErrorState() {
		return nil, fmt.Errorf("fiat rates: %s", resp.Status)
	}

	rates := make(map[Code]float64)
	for k, v := range data.Rates {
		// 1 USD = v target, so 1 target = 1/v USD
		if v > 0 {
			rates[Code(k)] = 1.0 / v
		}
	}
	rates[USD] = 1.0
	rates[USDC] = 1.0
	return rates, nil
}

func (q *Quoter) fetchPair(ctx context.Context, instID string) (float64, error) {
	var result okxResponse
	resp, err := q.client.R().SetContext(ctx).
		SetQueryParam("instId", instID).
		SetSuccessResult(&result).
		Get(q.okxURL)
	if err != nil {
		return 0, err
	}
	if resp.IsErrorState() {
		return 0, fmt.Errorf("ticker %s: %s", instID, resp.Status)
	}
	if len(result.Data) == 0 {
		return 0, fmt.Errorf("no data for %s", instID)
	}
	return strconv.ParseFloat(result.Data[0].Last, 64)
}

func (q *Quoter) refresh(ctx context.Context) error {
	all, err := q.fetchFiat(ctx)
	if err != nil {
		return err
	}
	for code, inst := range map[Code]string{ETH: "ETH-USDT", POL: "POL-USDT", BNB: "BNB-USDT"} {
		price, err := q.fetchPair(ctx, inst)
		if err != nil || price <= 0 {
			continue
		}
		all[code] = price
	}
	for k, v := range defaultRates {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}

	q.rates = all
	q.fetchedAt = time.Now()
	return nil
}

// Convert converts amount between currencies. A failed refresh keeps serving
// the previous rates, or the defaults when nothing was ever fetched.
func (q *Quoter) Convert(ctx context.Context, amount decimal.Decimal, from, to Code) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if time.Since(q.fetchedAt) > q.cacheTTL {
		if err := q.refresh(ctx); err != nil && q.rates == nil {
			q.rates = defaultRates
		}
	}

	rA, ok1 := q.rates[from]
	rB, ok2 := q.rates[to]
	if !ok1 || !ok2 || rB == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s or %s", ErrUnsupported, from, to)
	}
	return amount.Mul(decimal.NewFromFloat(rA / rB)), nil
}
