package currency

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw     string
		want    Code
		wantErr bool
	}{
		{"usdc", USDC, false},
		{" USDbC ", USDC, false},
		{"matic", POL, false},
		{"NGN", NGN, false},
		{"DOGE", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupported)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToBaseUnitsTruncates(t *testing.T) {
	// float artifact from upstream division
	amount := decimal.NewFromFloat(190.0 / 3.0)
	got := ToBaseUnits(amount, 6)
	assert.Equal(t, "63333333", got.String())

	got = ToBaseUnits(decimal.RequireFromString("0.0000019"), 6)
	assert.Equal(t, "1", got.String())

	got = ToBaseUnits(decimal.RequireFromString("1.5"), 18)
	assert.Equal(t, "1500000000000000000", got.String())
}

func TestFromBaseUnits(t *testing.T) {
	got := FromBaseUnits(big.NewInt(99950000), 6)
	assert.True(t, got.Equal(decimal.RequireFromString("99.95")), got.String())
	assert.True(t, FromBaseUnits(nil, 6).IsZero())
}

func TestQuoterConvert(t *testing.T) {
	fiat := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"rates":{"USD":1,"NGN":1500}}`)
	}))
	defer fiat.Close()
	okx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"code":"0","data":[{"instId":%q,"last":"2000"}]}`, r.URL.Query().Get("instId"))
	}))
	defer okx.Close()

	q := NewQuoter().WithEndpoints(fiat.URL, okx.URL)

	got, err := q.Convert(context.Background(), decimal.NewFromInt(150000), NGN, USDC)
	require.NoError(t, err)
	assert.True(t, got.Round(6).Equal(decimal.NewFromInt(100)), got.String())

	got, err = q.Convert(context.Background(), decimal.NewFromInt(4000), USDC, ETH)
	require.NoError(t, err)
	assert.True(t, got.Round(6).Equal(decimal.NewFromInt(2)), got.String())

	_, err = q.Convert(context.Background(), decimal.NewFromInt(1), "XYZ", USDC)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestQuoterFallsBackToDefaults(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	q := NewQuoter().WithEndpoints(down.URL, down.URL)
	got, err := q.Convert(context.Background(), decimal.NewFromInt(10), USD, USDC)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(10)))
}
