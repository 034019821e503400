package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InstallmentStatus is the state of a single schedule entry. Only the
// webhook reconciler moves PENDING to PAID; refunds never touch it.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
)

// InstallmentPlan is created once per booking and immutable afterwards.
type InstallmentPlan struct {
	ID                   uuid.UUID       `json:"id" db:"id"`
	BookingID            uuid.UUID       `json:"booking_id" db:"booking_id"`
	TotalAmount          decimal.Decimal `json:"total_amount" db:"total_amount"`
	NumberOfInstallments int             `json:"number_of_installments" db:"number_of_installments"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}

// InstallmentSchedule is one due-date/amount entry of a booking's plan.
// Invariant: due amounts across a booking sum to the plan total.
type InstallmentSchedule struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	BookingID       uuid.UUID         `json:"booking_id" db:"booking_id"`
	BookingPublicID string            `json:"booking_public_id" db:"booking_public_id"`
	InstallmentNo   int               `json:"installment_no" db:"installment_no"`
	DueAmount       decimal.Decimal   `json:"due_amount" db:"due_amount"`
	DueDate         time.Time         `json:"due_date" db:"due_date"`
	Status          InstallmentStatus `json:"status" db:"status"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
}

// CreateScheduleRequest is the body of POST /bookings/schedule.
type CreateScheduleRequest struct {
	BookingID            uuid.UUID `json:"bookingId" binding:"required"`
	BookingPublicID      string    `json:"bookingPublicId" binding:"required"`
	TotalAmount          string    `json:"totalAmount" binding:"required"`
	NumberOfInstallments int       `json:"numberOfInstallments" binding:"required"`
}

// ScheduleItem is one entry of the schedule response.
type ScheduleItem struct {
	BookingID       uuid.UUID `json:"bookingId"`
	BookingPublicID string    `json:"bookingPublicId"`
	InstallmentNo   int       `json:"installmentNo"`
	DueAmount       string    `json:"dueAmount"`
	DueDate         string    `json:"dueDate"`
	Status          string    `json:"status"`
}

// CreateScheduleResponse lists the booking's schedule entries in order.
type CreateScheduleResponse struct {
	Schedules []ScheduleItem `json:"schedules"`
}

// ToScheduleResponse maps schedule rows to the API response shape.
func ToScheduleResponse(schedules []*InstallmentSchedule) *CreateScheduleResponse {
	items := make([]ScheduleItem, 0, len(schedules))
	for _, s := range schedules {
		items = append(items, ScheduleItem{
			BookingID:       s.BookingID,
			BookingPublicID: s.BookingPublicID,
			InstallmentNo:   s.InstallmentNo,
			DueAmount:       s.DueAmount.StringFixed(2),
			DueDate:         s.DueDate.Format("2006-01-02"),
			Status:          string(s.Status),
		})
	}
	return &CreateScheduleResponse{Schedules: items}
}
