package qrcode

import (
	"bytes"
	"go-storefront/payment/chain"
	"go-storefront/payment/currency"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addr = "0x2222222222222222222222222222222222222222"

func TestPaymentURI(t *testing.T) {
	base, err := chain.LookupNetwork("base")
	require.NoError(t, err)

	uri, err := PaymentURI(base, currency.USDC, addr, decimal.RequireFromString("63.333333333333336"))
	require.NoError(t, err)
	assert.Equal(t, "ethereum:"+base.Token.Hex()+"@8453/transfer?address="+addr+"&uint256=63333333", uri)

	uri, err = PaymentURI(base, currency.ETH, addr, decimal.RequireFromString("0.25"))
	require.NoError(t, err)
	assert.Equal(t, "ethereum:"+addr+"@8453?value=250000000000000000", uri)

	_, err = PaymentURI(base, currency.POL, addr, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, chain.ErrUnsupportedAsset)
}

func TestPNG(t *testing.T) {
	png, err := PNG("ethereum:"+addr+"@8453?value=1", 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))
}
