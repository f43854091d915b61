package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-booking/internal/availability"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrPaymentNotFound      = errors.New("payment not found")

	// ErrPendingPaymentExists is returned by CreatePayment when another pending
	// payment for the same prescription and patient won a concurrent insert.
	ErrPendingPaymentExists = errors.New("pending payment already exists")
)

// Repository contains all DB interactions needed by the service.
//
// Constraint violations surface as domain errors: CreateAppointment returns
// ErrSlotConflict, CreatePrescription returns ErrAlreadyPrescribed and
// MarkPaymentSucceeded returns ErrDuplicateGatewayRef or ErrAlreadyPaid.
type Repository interface {
	// WithinTx runs fn atomically. Repository calls made with the ctx passed
	// to fn join the transaction; an error from fn rolls all of them back.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	UpdateDoctorAvailability(ctx context.Context, id uuid.UUID, cfg availability.Config) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// For conflict checks
	GetActiveAppointmentForSlot(ctx context.Context, doctorID uuid.UUID, date, slot string) (*Appointment, error)
	ListActiveAppointmentsForDate(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointmentStatus only applies when the row is still in from;
	// otherwise it returns ErrAppointmentNotFound.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	CreatePrescription(ctx context.Context, p *Prescription) error
	GetPrescriptionByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	GetPrescriptionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error)
	LockPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error)
	MarkPrescriptionPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (*Prescription, error)

	CreatePayment(ctx context.Context, p *Payment) error
	GetPaymentByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	LockPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	FindPendingPayment(ctx context.Context, prescriptionID, patientID uuid.UUID) (*Payment, error)
	// MarkPaymentFailed only touches a pending payment.
	MarkPaymentFailed(ctx context.Context, id uuid.UUID, reason FailureReason) error
	// MarkPaymentSucceeded accepts a pending payment or one failed by expiry,
	// and returns ErrPaymentNotPending for anything else.
	MarkPaymentSucceeded(ctx context.Context, id uuid.UUID, gatewayPaymentID string, verifiedAt time.Time) (*Payment, error)
	// FailPendingPayments fails every pending payment of a prescription as
	// superseded.
	FailPendingPayments(ctx context.Context, prescriptionID uuid.UUID) (int64, error)

	// Expiry worker
	FailStalePayments(ctx context.Context, createdBefore time.Time) (int64, error)
}
