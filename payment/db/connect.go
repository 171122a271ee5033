package db

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the mysql store behind dsn and migrates the schema.
func Connect(dsn string) (*gorm.DB, error) {
	conn, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Sync(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Sync creates or updates every table the payment service owns.
func Sync(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&Order{},
		&OrderItem{},
		&Payment{},
		&User{},
		&CartItem{},
		&Product{},
		&ProductVariant{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
