package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateBookings,
		migrationAddBookingIndexes,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateBookings = `
CREATE TABLE IF NOT EXISTS bookings (
    reference VARCHAR(16) PRIMARY KEY,
    customer_name VARCHAR(255) NOT NULL,
    customer_email VARCHAR(255) NOT NULL,
    customer_phone VARCHAR(50) NOT NULL DEFAULT '',
    registration VARCHAR(10) NOT NULL,
    services JSONB NOT NULL,
    resource_id VARCHAR(50) NOT NULL,
    resource_class VARCHAR(50) NOT NULL,
    slot_start TIMESTAMP WITH TIME ZONE NOT NULL,
    slot_end TIMESTAMP WITH TIME ZONE NOT NULL,
    quotes JSONB NOT NULL,
    total_pence BIGINT NOT NULL,
    currency VARCHAR(3) NOT NULL DEFAULT 'GBP',
    state VARCHAR(20) NOT NULL,
    hold_expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
    payment_reference VARCHAR(255) NOT NULL DEFAULT '',
    special_requirements TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    CHECK (slot_end > slot_start)
);
`

const migrationAddBookingIndexes = `
CREATE INDEX IF NOT EXISTS idx_bookings_resource_slot ON bookings(resource_id, slot_start);
CREATE INDEX IF NOT EXISTS idx_bookings_state_hold ON bookings(state, hold_expires_at);
`
