package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tripora/booking-payments-backend/internal/apperrors"
	"github.com/tripora/booking-payments-backend/internal/database"
	"github.com/tripora/booking-payments-backend/internal/models"
	"github.com/tripora/booking-payments-backend/pkg/money"
)

// Installment split: the first installment is 25% of the total, the second
// is the exact remainder so the two always sum to the total. The second
// installment falls due seven days after the first.
var firstInstallmentRatio = decimal.NewFromFloat(0.25)

const (
	supportedInstallmentCount = 2
	secondInstallmentOffset   = 7 * 24 * time.Hour
)

// InstallmentService creates and reads installment schedules
type InstallmentService struct {
	db     database.DB
	repo   *database.InstallmentRepository
	logger *logrus.Logger
}

// NewInstallmentService creates a new installment service
func NewInstallmentService(db database.DB, repo *database.InstallmentRepository, logger *logrus.Logger) *InstallmentService {
	return &InstallmentService{
		db:     db,
		repo:   repo,
		logger: logger,
	}
}

// CreateSchedule builds the installment schedule for a booking. Calling it
// again for the same booking returns the existing schedule unchanged.
func (s *InstallmentService) CreateSchedule(ctx context.Context, req *models.CreateScheduleRequest) (*models.CreateScheduleResponse, error) {
	// Replays win over argument validation: a booking that already has a
	// schedule gets it back unchanged even when the retry carries a
	// different total or count.
	existing, err := s.repo.GetSchedulesByBookingID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		existingTotal := decimal.Zero
		for _, schedule := range existing {
			existingTotal = existingTotal.Add(schedule.DueAmount)
		}
		// Repair path: schedules without a plan row happens when an older
		// deployment crashed between the two inserts.
		if err := s.ensurePlan(ctx, req.BookingID, existingTotal); err != nil {
			return nil, err
		}
		return models.ToScheduleResponse(existing), nil
	}

	if req.NumberOfInstallments != supportedInstallmentCount {
		return nil, apperrors.Validation("only two-installment schedules are supported")
	}

	total, err := money.FromString(req.TotalAmount)
	if err != nil {
		return nil, apperrors.Validation("invalid total amount")
	}
	if !money.IsPositive(total) {
		return nil, apperrors.Validation("total amount must be positive")
	}

	first := money.RoundHalfUp(total.Mul(firstInstallmentRatio))
	second := total.Sub(first).Round(2)
	now := time.Now()

	schedules := []*models.InstallmentSchedule{
		{
			BookingID:       req.BookingID,
			BookingPublicID: req.BookingPublicID,
			InstallmentNo:   1,
			DueAmount:       first,
			DueDate:         now,
			Status:          models.InstallmentPending,
		},
		{
			BookingID:       req.BookingID,
			BookingPublicID: req.BookingPublicID,
			InstallmentNo:   2,
			DueAmount:       second,
			DueDate:         now.Add(secondInstallmentOffset),
			Status:          models.InstallmentPending,
		},
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	plan := &models.InstallmentPlan{
		BookingID:            req.BookingID,
		TotalAmount:          total,
		NumberOfInstallments: supportedInstallmentCount,
	}
	if err := s.repo.CreatePlan(ctx, tx, plan); err != nil {
		return nil, err
	}
	for _, schedule := range schedules {
		if err := s.repo.CreateSchedule(ctx, tx, schedule); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "failed to commit schedule", err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":   req.BookingID,
		"total_amount": total.StringFixed(2),
		"first":        first.StringFixed(2),
		"second":       second.StringFixed(2),
	}).Info("Installment schedule created")

	return models.ToScheduleResponse(schedules), nil
}

// GetSchedule returns a booking's schedule entries
func (s *InstallmentService) GetSchedule(ctx context.Context, bookingID uuid.UUID) (*models.CreateScheduleResponse, error) {
	schedules, err := s.repo.GetSchedulesByBookingID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if len(schedules) == 0 {
		return nil, apperrors.NotFound("no installment schedule for booking")
	}

	return models.ToScheduleResponse(schedules), nil
}

// ensurePlan creates the plan row for a booking whose schedules already exist
func (s *InstallmentService) ensurePlan(ctx context.Context, bookingID uuid.UUID, total decimal.Decimal) error {
	plan, err := s.repo.GetPlanByBookingID(ctx, bookingID)
	if err != nil {
		return err
	}
	if plan != nil {
		return nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	newPlan := &models.InstallmentPlan{
		BookingID:            bookingID,
		TotalAmount:          total,
		NumberOfInstallments: supportedInstallmentCount,
	}
	if err := s.repo.CreatePlan(ctx, tx, newPlan); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "failed to commit plan repair", err)
	}

	s.logger.WithField("booking_id", bookingID).Warn("Repaired missing installment plan row")

	return nil
}
