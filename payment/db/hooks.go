package db

import (
	"go-storefront/payment/currency"

	"gorm.io/gorm"
)

// Currency codes are normalized on every write and read so a legacy alias
// never leaks past the store.

func (o *Order) BeforeSave(*gorm.DB) error {
	o.Currency = currency.MustNormalize(o.Currency).String()
	return nil
}

func (o *Order) AfterFind(*gorm.DB) error {
	o.Currency = currency.MustNormalize(o.Currency).String()
	return nil
}

func (p *Payment) BeforeSave(*gorm.DB) error {
	p.Currency = currency.MustNormalize(p.Currency).String()
	return nil
}

func (p *Payment) AfterFind(*gorm.DB) error {
	p.Currency = currency.MustNormalize(p.Currency).String()
	return nil
}

func (p *Product) BeforeSave(*gorm.DB) error {
	p.Currency = currency.MustNormalize(p.Currency).String()
	return nil
}
