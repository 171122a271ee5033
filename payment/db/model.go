package db

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusCancelled = "cancelled"

	PaymentStatusUnpaid   = "unpaid"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"

	MethodCrypto   = "crypto"
	MethodPaystack = "paystack"
	MethodSeerBit  = "seerbit"

	CartItemActive  = "active"
	CartItemOrdered = "ordered"
)

type Order struct {
	ID          string          `gorm:"primaryKey;size:36"`
	OrderNumber string          `gorm:"size:32;uniqueIndex;not null"`
	UserID      string          `gorm:"size:36;index;not null"`
	Email       string          `gorm:"size:255"`
	Subtotal    decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	DeliveryFee decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Currency    string          `gorm:"size:8;not null"`
	Status      string          `gorm:"size:16;index;not null"`

	PaymentMethod         string `gorm:"size:16;index;not null"`
	PaymentStatus         string `gorm:"size:16;index;not null"`
	PaymentAddress        string `gorm:"size:42;index"` // derived from the buyer, never random
	PaymentNetwork        string `gorm:"size:16"`
	PaymentExpiry         *time.Time
	RequiredConfirmations int
	Confirmations         int
	TxHash                string `gorm:"size:66"`
	PaidAt                *time.Time
	ReferralCredited      bool `gorm:"not null;default:false"`

	FundsSwept  bool `gorm:"index;not null;default:false"`
	SweptAt     *time.Time
	SweptTxHash string `gorm:"size:66"`
	SweepNote   string `gorm:"size:255"` // diagnosed but unresolved sweep failure
	// submitted sweep whose inclusion was not observed; checked before the
	// next sweep attempt
	PendingSweepTx string `gorm:"size:66"`

	Items     []OrderItem `gorm:"foreignKey:OrderID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderItem struct {
	ID        uint            `gorm:"primaryKey"`
	OrderID    string          `gorm:"size:36;index;not null"`
	CartItemID uint            `gorm:"index"` // cart row this item was taken from
	ProductID  string          `gorm:"size:36;index;not null"`
	VariantID  string          `gorm:"size:36"`
	Quantity   int             `gorm:"not null"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(36,18);not null"`
}

// Payment is append-only: one row per completed settlement or refund.
type Payment struct {
	ID        string          `gorm:"primaryKey;size:36"`
	OrderID   string          `gorm:"size:36;index;not null"`
	UserID    string          `gorm:"size:36;index;not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Currency  string          `gorm:"size:8;not null"`
	Method    string          `gorm:"size:16;not null"`
	TxHash    string          `gorm:"size:128"`
	Refund    bool            `gorm:"not null;default:false"`
	CreatedAt time.Time
}

type User struct {
	ID              string          `gorm:"primaryKey;size:36"`
	Email           string          `gorm:"size:255;uniqueIndex"`
	Name            string          `gorm:"size:128"`
	PaymentAddress  string          `gorm:"size:42;index"` // user-tied deposit address, set once
	ReferredBy      string          `gorm:"size:36;index"`
	ReferralBalance decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type CartItem struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:36;index;not null"`
	ProductID string `gorm:"size:36;index;not null"`
	VariantID string `gorm:"size:36"`
	Quantity  int    `gorm:"not null"`
	Status    string `gorm:"size:16;index;not null"`
	OrderID   string `gorm:"size:36;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Product struct {
	ID        string          `gorm:"primaryKey;size:36"`
	Name      string          `gorm:"size:255;not null"`
	Price     decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Currency  string          `gorm:"size:8;not null"`
	Stock     int             `gorm:"not null"`
	Variants  []ProductVariant
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ProductVariant struct {
	ID        string           `gorm:"primaryKey;size:36"`
	ProductID string           `gorm:"size:36;index;not null"`
	Name      string           `gorm:"size:128"`
	Price     *decimal.Decimal `gorm:"type:decimal(36,18)"` // nil means product price
	Stock     int              `gorm:"not null"`
}
