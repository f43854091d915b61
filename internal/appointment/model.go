package appointment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-booking/internal/availability"
)

type Doctor struct {
	ID              uuid.UUID
	Name            string
	Specialty       *string
	Availability    availability.Config
	ConsultationFee Money
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	ClinicID  *uuid.UUID
	Date      string // YYYY-MM-DD
	Time      string // HH:MM, 24h
	Status    Status
	Reason    string
	AITriage  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Medicine struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Duration  string `json:"duration"`
}

type PrescriptionStatus string

const (
	PrescriptionPending PrescriptionStatus = "pending"
	PrescriptionPaid    PrescriptionStatus = "paid"
)

type Prescription struct {
	ID                uuid.UUID
	AppointmentID     uuid.UUID
	PatientID         uuid.UUID
	DoctorID          uuid.UUID
	Diagnosis         string
	Notes             string
	Medicines         []Medicine
	ConsultationFee   Money
	MedicineCharges   Money
	AdditionalCharges Money
	TotalAmount       Money
	Status            PrescriptionStatus
	PaidAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// FailureReason records why a payment left pending without succeeding.
type FailureReason string

const (
	FailureSignature  FailureReason = "signature"
	FailureExpired    FailureReason = "expired"
	FailureSuperseded FailureReason = "superseded"
)

type PaymentMethod string

const (
	MethodGateway PaymentMethod = "gateway"
	MethodManual  PaymentMethod = "manual"
)

type Payment struct {
	ID               uuid.UUID
	PrescriptionID   uuid.UUID
	PatientID        uuid.UUID
	DoctorID         uuid.UUID
	AppointmentID    uuid.UUID
	Amount           Money
	Currency         string
	Status           PaymentStatus
	Method           PaymentMethod
	GatewayPaymentID *string
	OverrideReason   *string
	FailureReason    FailureReason
	VerifiedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Settleable reports whether a gateway callback may still settle the
// payment. A payment failed only by expiry stays settleable so a late but
// correctly signed callback is not lost.
func (p *Payment) Settleable() bool {
	return p.Status == PaymentPending ||
		(p.Status == PaymentFailed && p.FailureReason == FailureExpired)
}

// Caller is the authenticated party behind a request.
type Caller struct {
	ID   uuid.UUID
	Role Actor
}

// SlotView is one row of the availability listing.
type SlotView struct {
	StartTime     string
	IsBooked      bool
	IsUnavailable bool
	Reason        string
}

type AppointmentFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Limit     int
	Offset    int
}
