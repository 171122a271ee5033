package wallet

import (
	"context"
	"fmt"
	"go-storefront/payment/store"

	"go.uber.org/zap"
)

// AddressBook memoizes each user's deposit address on the user record.
type AddressBook struct {
	deriver *Deriver
	users   store.UserRepository
	logger  *zap.Logger
}

func NewAddressBook(deriver *Deriver, users store.UserRepository, logger *zap.Logger) *AddressBook {
	return &AddressBook{deriver: deriver, users: users, logger: logger}
}

// GetOrCreatePaymentAddress returns the stored address, deriving and storing it
// on first use. A stored address is never regenerated.
func (b *AddressBook) GetOrCreatePaymentAddress(ctx context.Context, userID string) (string, error) {
	user, err := b.users.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load user %s: %w", userID, err)
	}
	if user.PaymentAddress != "" {
		return user.PaymentAddress, nil
	}

	account, err := b.deriver.Derive(userID)
	if err != nil {
		return "", err
	}
	addr := account.Address.Hex()

	stored, err := b.users.SetPaymentAddressIfEmpty(ctx, userID, addr)
	if err != nil {
		return "", fmt.Errorf("store payment address: %w", err)
	}
	if !stored {
		// a concurrent checkout stored it first
		user, err = b.users.FindByID(ctx, userID)
		if err != nil {
			return "", err
		}
		return user.PaymentAddress, nil
	}

	b.logger.Info("payment address assigned", zap.String("user_id", userID), zap.String("address", addr))
	return addr, nil
}

// Account returns the signing account behind a stored address, checking that
// the derivation still reproduces it.
func (b *AddressBook) Account(userID, expected string) (Account, error) {
	account, err := b.deriver.Derive(userID)
	if err != nil {
		return Account{}, err
	}
	if expected != "" && !equalAddress(account.Address.Hex(), expected) {
		return Account{}, fmt.Errorf("%w: user %s derives %s, order holds %s", ErrAddressMismatch, userID, account.Address.Hex(), expected)
	}
	return account, nil
}
