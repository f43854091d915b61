package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidTimeFormat     = errors.New("invalid time format")
	ErrPastDateTime          = errors.New("appointment date and time are in the past")
	ErrOutsideClinicHours    = errors.New("time is outside clinic hours or not on a 30 minute slot")
	ErrDoctorUnavailable     = errors.New("doctor unavailable")
	ErrPatientProfileMissing = errors.New("patient profile missing")
	ErrSlotConflict          = errors.New("slot already booked")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrInvalidState          = errors.New("appointment is not in a state that allows this")
	ErrNoMedicines           = errors.New("at least one medicine is required")
	ErrIncompleteMedicine    = errors.New("medicine is incomplete")
	ErrAmountNotConfigured   = errors.New("amount is not configured")
	ErrAlreadyPrescribed     = errors.New("appointment already has a prescription")
	ErrAlreadyPaid           = errors.New("prescription already paid")
	ErrPaymentNotPending     = errors.New("payment is no longer pending")
	ErrInvalidSignature      = errors.New("invalid payment signature")
	ErrDuplicateGatewayRef   = errors.New("gateway payment id already used")
	ErrForbidden             = errors.New("not allowed for this caller")
)

// UnavailableError carries the reason a doctor cannot take a slot.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("doctor unavailable: %s", e.Reason)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrDoctorUnavailable
}

// IncompleteMedicineError points at the first medicine missing a field.
// Index counts medicines after unnamed entries were dropped.
type IncompleteMedicineError struct {
	Index int
	Field string
}

func (e *IncompleteMedicineError) Error() string {
	return fmt.Sprintf("medicine %d is missing %s", e.Index, e.Field)
}

func (e *IncompleteMedicineError) Is(target error) bool {
	return target == ErrIncompleteMedicine
}
