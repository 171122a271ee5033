package qrcode

import (
	"fmt"
	"go-storefront/payment/chain"
	"go-storefront/payment/currency"

	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"
)

const DefaultSize = 256

// PaymentURI builds an EIP-681 request for paying amount of cur into address.
// The amount is truncated to the asset's decimals.
func PaymentURI(network chain.Network, cur currency.Code, address string, amount decimal.Decimal) (string, error) {
	asset, err := network.AssetFor(cur)
	if err != nil {
		return "", err
	}
	units := currency.ToBaseUnits(amount, asset.Decimals)

	switch asset.Kind {
	case chain.AssetToken:
		return fmt.Sprintf("ethereum:%s@%d/transfer?address=%s&uint256=%s",
			network.Token.Hex(), network.ChainID, address, units.String()), nil
	case chain.AssetNative:
		return fmt.Sprintf("ethereum:%s@%d?value=%s", address, network.ChainID, units.String()), nil
	}
	return "", fmt.Errorf("unknown asset kind %d", asset.Kind)
}

// PNG renders uri as a QR code image.
func PNG(uri string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(uri, qrcode.Medium, size)
}
