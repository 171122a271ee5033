// Package wallet derives per-user deposit accounts from one master secret.
//
// Every key is keccak256("user-" + userID + secret). This stands in for a real
// HD wallet or custody provider: compromise of the secret exposes every
// derived key, past and future, and losing it strands any funds that were not
// yet swept. Moving to per-user key material held in a secrets manager is an
// open question.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

var ErrEmptyUserID = errors.New("user id is required")

type Account struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

type Deriver struct {
	secret string
	logger *zap.Logger
	now    func() time.Time
}

func NewDeriver(secret string, logger *zap.Logger) (*Deriver, error) {
	if secret == "" {
		return nil, errors.New("master secret is required")
	}
	return &Deriver{secret: secret, logger: logger, now: time.Now}, nil
}

// Derive returns the deposit account for userID. It is a pure function of
// userID and the master secret except in one case: if the hash is not a valid
// secp256k1 scalar (probability ~2^-128) a time-salted retry is used and the
// result is no longer reproducible. That is logged loudly; callers persist the
// address so the sweep can detect the mismatch.
func (d *Deriver) Derive(userID string) (Account, error) {
	if userID == "" {
		return Account{}, ErrEmptyUserID
	}

	seed := crypto.Keccak256([]byte("user-" + userID + d.secret))
	key, err := crypto.ToECDSA(seed)
	for attempt := 0; err != nil && attempt < 3; attempt++ {
		d.logger.Warn("derived seed is not a valid key, using salted non-deterministic retry",
			zap.String("user_id", userID), zap.Int("attempt", attempt), zap.Error(err))
		salt := strconv.FormatInt(d.now().UnixNano(), 10) + strconv.Itoa(attempt)
		key, err = crypto.ToECDSA(crypto.Keccak256([]byte("user-" + userID + d.secret + salt)))
	}
	if err != nil {
		return Account{}, fmt.Errorf("derive key for %s: %w", userID, err)
	}

	return Account{Address: crypto.PubkeyToAddress(key.PublicKey), Key: key}, nil
}

// ErrAddressMismatch means a stored address cannot be reproduced by the
// current derivation, so its key is unavailable to this process.
var ErrAddressMismatch = errors.New("payment address does not match derivation")

func equalAddress(a, b string) bool {
	return common.IsHexAddress(a) && common.IsHexAddress(b) && common.HexToAddress(a) == common.HexToAddress(b)
}
