package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DukeRupert/tutorbook/internal/domain"
)

const bookingColumns = `
	id, account_id, scheduled_time, consumed_from, parent_name, student_name,
	email, phone, grade, concerns, created_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.AccountID, &b.ScheduledTime, &b.ConsumedFrom, &b.ParentName,
		&b.StudentName, &b.Email, &b.Phone, &b.Grade, &b.Concerns, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBooking persists an admitted booking tagged with the bucket it
// consumed.
func (s *Store) CreateBooking(ctx context.Context, b *domain.Booking) error {
	const op = "repository.create_booking"

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO bookings (id, account_id, scheduled_time, consumed_from,
			parent_name, student_name, email, phone, grade, concerns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		b.ID, b.AccountID, b.ScheduledTime.UTC(), string(b.ConsumedFrom),
		b.ParentName, b.StudentName, b.Email, b.Phone, b.Grade, b.Concerns)
	if err := row.Scan(&b.CreatedAt); err != nil {
		return translateErr(err, op)
	}
	return nil
}

// ListBookingsByAccount returns an account's bookings scheduled within
// [from, to), newest first.
func (s *Store) ListBookingsByAccount(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]*domain.Booking, error) {
	const op = "repository.list_bookings"

	rows, err := s.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE account_id = $1 AND scheduled_time >= $2 AND scheduled_time < $3
		ORDER BY scheduled_time DESC`,
		accountID, from.UTC(), to.UTC())
	if err != nil {
		return nil, translateErr(err, op)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, translateErr(err, op)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err, op)
	}
	return bookings, nil
}
