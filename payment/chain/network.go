package chain

import (
	"errors"
	"fmt"
	"go-storefront/payment/currency"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnsupportedNetwork = errors.New("unsupported network")
	ErrUnsupportedAsset   = errors.New("currency not payable on this network")
)

// Network describes one EVM chain the storefront can settle on. Each network
// accepts its native coin and exactly one settlement token.
type Network struct {
	Name          string
	ChainID       int64
	NativeSymbol  currency.Code
	Token         common.Address
	TokenSymbol   currency.Code
	TokenDecimals int32
	PublicRPC     string
	AlchemySlug   string
}

const NativeDecimals = 18

var networks = map[string]Network{
	"base": {
		Name:          "base",
		ChainID:       8453,
		NativeSymbol:  currency.ETH,
		Token:         common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		TokenSymbol:   currency.USDC,
		TokenDecimals: 6,
		PublicRPC:     "https://mainnet.base.org",
		AlchemySlug:   "base-mainnet",
	},
	"ethereum": {
		Name:          "ethereum",
		ChainID:       1,
		NativeSymbol:  currency.ETH,
		Token:         common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		TokenSymbol:   currency.USDC,
		TokenDecimals: 6,
		PublicRPC:     "https://eth.llamarpc.com",
		AlchemySlug:   "eth-mainnet",
	},
	"polygon": {
		Name:          "polygon",
		ChainID:       137,
		NativeSymbol:  currency.POL,
		Token:         common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
		TokenSymbol:   currency.USDC,
		TokenDecimals: 6,
		PublicRPC:     "https://polygon-rpc.com",
		AlchemySlug:   "polygon-mainnet",
	},
	"bsc": {
		Name:          "bsc",
		ChainID:       56,
		NativeSymbol:  currency.BNB,
		Token:         common.HexToAddress("0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"),
		TokenSymbol:   currency.USDC,
		TokenDecimals: 18,
		PublicRPC:     "https://bsc-dataseed.binance.org",
		AlchemySlug:   "bnb-mainnet",
	},
}

// LookupNetwork resolves the active network selector.
func LookupNetwork(name string) (Network, error) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Network{}, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, name)
	}
	return n, nil
}

// Endpoint picks the RPC URL. An explicit override wins, then Alchemy when a
// key is configured, then the public endpoint.
func (n Network) Endpoint(override, alchemyKey string) string {
	if override != "" {
		return override
	}
	if alchemyKey != "" && n.AlchemySlug != "" {
		return fmt.Sprintf("https://%s.g.alchemy.com/v2/%s", n.AlchemySlug, alchemyKey)
	}
	return n.PublicRPC
}

type AssetKind int

const (
	AssetNative AssetKind = iota + 1
	AssetToken
)

// Asset is what a currency means on this network.
type Asset struct {
	Kind     AssetKind
	Symbol   currency.Code
	Decimals int32
}

// AssetFor maps an order currency to the asset that must arrive on chain.
// Fiat currencies and foreign native coins are rejected.
func (n Network) AssetFor(c currency.Code) (Asset, error) {
	switch c {
	case n.TokenSymbol:
		return Asset{Kind: AssetToken, Symbol: c, Decimals: n.TokenDecimals}, nil
	case n.NativeSymbol:
		return Asset{Kind: AssetNative, Symbol: c, Decimals: NativeDecimals}, nil
	}
	return Asset{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedAsset, c, n.Name)
}
