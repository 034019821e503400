package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/models"
)

// ErrScheduleNotFound is returned when a booking has no installment schedule.
var ErrScheduleNotFound = errors.New("installment schedule not found")

// InstallmentRepository handles installment plans and schedules
type InstallmentRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewInstallmentRepository creates a new installment repository
func NewInstallmentRepository(db *sqlx.DB, logger *logrus.Logger) *InstallmentRepository {
	return &InstallmentRepository{
		db:     db,
		logger: logger,
	}
}

// CreatePlan inserts an installment plan inside an open transaction
func (r *InstallmentRepository) CreatePlan(ctx context.Context, tx *sqlx.Tx, plan *models.InstallmentPlan) error {
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO installment_plans (id, booking_id, total_amount, number_of_installments, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := tx.ExecContext(ctx, query,
		plan.ID, plan.BookingID, plan.TotalAmount, plan.NumberOfInstallments, plan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create installment plan: %w", err)
	}

	return nil
}

// CreateSchedule inserts one schedule entry inside an open transaction
func (r *InstallmentRepository) CreateSchedule(ctx context.Context, tx *sqlx.Tx, schedule *models.InstallmentSchedule) error {
	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO installment_schedules (
			id, booking_id, booking_public_id, installment_no,
			due_amount, due_date, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.ExecContext(ctx, query,
		schedule.ID, schedule.BookingID, schedule.BookingPublicID, schedule.InstallmentNo,
		schedule.DueAmount, schedule.DueDate, schedule.Status, schedule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create installment schedule: %w", err)
	}

	return nil
}

// GetPlanByBookingID returns the plan of a booking, or nil when none exists
func (r *InstallmentRepository) GetPlanByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.InstallmentPlan, error) {
	var plan models.InstallmentPlan
	query := `SELECT * FROM installment_plans WHERE booking_id = $1`

	err := r.db.GetContext(ctx, &plan, query, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get installment plan: %w", err)
	}

	return &plan, nil
}

// GetSchedulesByBookingID returns a booking's schedule entries ordered by
// installment number
func (r *InstallmentRepository) GetSchedulesByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*models.InstallmentSchedule, error) {
	var schedules []*models.InstallmentSchedule
	query := `
		SELECT * FROM installment_schedules
		WHERE booking_id = $1
		ORDER BY installment_no ASC`

	err := r.db.SelectContext(ctx, &schedules, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get installment schedules: %w", err)
	}

	return schedules, nil
}

// GetScheduleForUpdate locks and returns one schedule entry of a booking
// inside an open transaction.
func (r *InstallmentRepository) GetScheduleForUpdate(ctx context.Context, tx *sqlx.Tx, bookingID uuid.UUID, installmentNo int) (*models.InstallmentSchedule, error) {
	var schedule models.InstallmentSchedule
	query := `
		SELECT * FROM installment_schedules
		WHERE booking_id = $1 AND installment_no = $2
		FOR UPDATE`

	err := tx.GetContext(ctx, &schedule, query, bookingID, installmentNo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to lock installment schedule: %w", err)
	}

	return &schedule, nil
}

// MarkPaid moves a schedule entry to PAID inside an open transaction
func (r *InstallmentRepository) MarkPaid(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	query := `UPDATE installment_schedules SET status = $1 WHERE id = $2`

	result, err := tx.ExecContext(ctx, query, models.InstallmentPaid, id)
	if err != nil {
		return fmt.Errorf("failed to mark installment paid: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check installment update: %w", err)
	}
	if rows == 0 {
		return ErrScheduleNotFound
	}

	return nil
}
