package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/langchou/garagebook/internal/models"
)

// BookingRepository 预约数据仓库
type BookingRepository struct {
	db *DB
}

// NewBookingRepository 创建预约仓库
func NewBookingRepository(db *DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `
	reference, customer_name, customer_email, customer_phone, registration, services,
	resource_id, resource_class, slot_start, slot_end, quotes, total_pence, currency,
	state, hold_expires_at, payment_reference, special_requirements, created_at, updated_at
`

// Reserve 事务内持有工位级别的 advisory lock，重新校验冲突后写入
func (r *BookingRepository) Reserve(ctx context.Context, b *models.Booking) error {
	services, err := json.Marshal(b.Services)
	if err != nil {
		return fmt.Errorf("encode services: %w", err)
	}
	quotes, err := json.Marshal(b.Quotes)
	if err != nil {
		return fmt.Errorf("encode quotes: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, b.Slot.ResourceID); err != nil {
		return fmt.Errorf("lock resource %s: %w", b.Slot.ResourceID, err)
	}

	var conflict bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE resource_id = $1
			  AND state IN ('pending_payment', 'confirmed')
			  AND slot_start < $3 AND slot_end > $2
		)
	`, b.Slot.ResourceID, b.Slot.Start, b.Slot.End).Scan(&conflict)
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if conflict {
		return &models.SlotError{ResourceID: b.Slot.ResourceID, Start: b.Slot.Start}
	}

	query := `INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	_, err = tx.Exec(ctx, query,
		b.Reference,
		b.Customer.Name,
		b.Customer.Email,
		b.Customer.Phone,
		b.Registration,
		services,
		b.Slot.ResourceID,
		b.Slot.ResourceClass,
		b.Slot.Start,
		b.Slot.End,
		quotes,
		b.TotalPence,
		b.Currency,
		string(b.State),
		b.HoldExpiresAt,
		b.PaymentReference,
		b.SpecialRequirements,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("booking %s already exists: %w", b.Reference, models.ErrConcurrentUpdate)
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reserve: %w", err)
	}
	return nil
}

// Get 按预约号查询
func (r *BookingRepository) Get(ctx context.Context, reference string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE reference = $1`
	b, err := scanBooking(r.db.Pool.QueryRow(ctx, query, reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", reference, models.ErrBookingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", reference, err)
	}
	return b, nil
}

// UpdateState 比较并交换状态；当前状态不是 expected 时返回 ErrConcurrentUpdate
func (r *BookingRepository) UpdateState(ctx context.Context, b *models.Booking, expected models.BookingState) error {
	query := `
		UPDATE bookings SET
			state = $2,
			payment_reference = $3,
			updated_at = $4
		WHERE reference = $1 AND state = $5
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		b.Reference,
		string(b.State),
		b.PaymentReference,
		b.UpdatedAt,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("update booking %s: %w", b.Reference, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE reference = $1)`, b.Reference).Scan(&exists); err != nil {
		return fmt.Errorf("check booking %s: %w", b.Reference, err)
	}
	if !exists {
		return fmt.Errorf("booking %s: %w", b.Reference, models.ErrBookingNotFound)
	}
	return fmt.Errorf("booking %s no longer %s: %w", b.Reference, expected, models.ErrConcurrentUpdate)
}

// ListActive 与 [from, to) 相交的待支付/已确认时段
func (r *BookingRepository) ListActive(ctx context.Context, resourceIDs []string, from, to time.Time) ([]models.Slot, error) {
	query := `
		SELECT resource_id, resource_class, slot_start, slot_end
		FROM bookings
		WHERE resource_id = ANY($1)
		  AND state IN ('pending_payment', 'confirmed')
		  AND slot_start < $3 AND slot_end > $2
		ORDER BY resource_id, slot_start
	`
	rows, err := r.db.Pool.Query(ctx, query, resourceIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("query active slots: %w", err)
	}
	defer rows.Close()

	var slots []models.Slot
	for rows.Next() {
		var s models.Slot
		if err := rows.Scan(&s.ResourceID, &s.ResourceClass, &s.Start, &s.End); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// ListExpiredHolds 保留期已过的待支付预约
func (r *BookingRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE state = 'pending_payment' AND hold_expires_at <= $1
		ORDER BY hold_expires_at
		LIMIT $2`
	return r.list(ctx, query, now, limit)
}

// ListEndedConfirmed 预约时段已结束的已确认预约
func (r *BookingRepository) ListEndedConfirmed(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE state = 'confirmed' AND slot_end <= $1
		ORDER BY slot_end
		LIMIT $2`
	return r.list(ctx, query, now, limit)
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var (
		b        models.Booking
		state    string
		services []byte
		quotes   []byte
	)
	err := row.Scan(
		&b.Reference,
		&b.Customer.Name,
		&b.Customer.Email,
		&b.Customer.Phone,
		&b.Registration,
		&services,
		&b.Slot.ResourceID,
		&b.Slot.ResourceClass,
		&b.Slot.Start,
		&b.Slot.End,
		&quotes,
		&b.TotalPence,
		&b.Currency,
		&state,
		&b.HoldExpiresAt,
		&b.PaymentReference,
		&b.SpecialRequirements,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.State = models.BookingState(state)
	if err := json.Unmarshal(services, &b.Services); err != nil {
		return nil, fmt.Errorf("decode services: %w", err)
	}
	if err := json.Unmarshal(quotes, &b.Quotes); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}
	return &b, nil
}
