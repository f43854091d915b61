package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-booking/internal/appointment"
)

type BookAppointmentRequest struct {
	DoctorID        string          `json:"doctorId"`
	ClinicID        *string         `json:"clinicId,omitempty"`
	AppointmentDate string          `json:"appointmentDate"`
	AppointmentTime string          `json:"appointmentTime"`
	Reason          string          `json:"reason,omitempty"`
	AITriage        json.RawMessage `json:"aiTriage,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type IssuePrescriptionRequest struct {
	AppointmentID     string                 `json:"appointmentId"`
	Diagnosis         string                 `json:"diagnosis"`
	Medicines         []appointment.Medicine `json:"medicines"`
	ConsultationFee   appointment.Money      `json:"consultationFee"`
	MedicineCharges   appointment.Money      `json:"medicineCharges"`
	AdditionalCharges appointment.Money      `json:"additionalCharges"`
	Notes             string                 `json:"notes,omitempty"`
}

type VerifyPaymentRequest struct {
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

type MarkPaidRequest struct {
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID              uuid.UUID       `json:"id"`
	PatientID       uuid.UUID       `json:"patientId"`
	DoctorID        uuid.UUID       `json:"doctorId"`
	ClinicID        *uuid.UUID      `json:"clinicId,omitempty"`
	AppointmentDate string          `json:"appointmentDate"`
	AppointmentTime string          `json:"appointmentTime"`
	Status          string          `json:"status"`
	Reason          string          `json:"reason,omitempty"`
	AITriage        json.RawMessage `json:"aiTriage,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type BookAppointmentResponse struct {
	AppointmentID uuid.UUID           `json:"appointmentId"`
	Appointment   AppointmentResponse `json:"appointment"`
}

type StatusResponse struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type SlotResponse struct {
	StartTime     string `json:"startTime"`
	IsBooked      bool   `json:"isBooked"`
	IsUnavailable bool   `json:"isUnavailable"`
	Reason        string `json:"reason,omitempty"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID      `json:"doctorId"`
	Date     string         `json:"date"`
	Slots    []SlotResponse `json:"slots"`
}

type PrescriptionResponse struct {
	ID                uuid.UUID              `json:"id"`
	AppointmentID     uuid.UUID              `json:"appointmentId"`
	PatientID         uuid.UUID              `json:"patientId"`
	DoctorID          uuid.UUID              `json:"doctorId"`
	Diagnosis         string                 `json:"diagnosis"`
	Notes             string                 `json:"notes,omitempty"`
	Medicines         []appointment.Medicine `json:"medicines"`
	ConsultationFee   appointment.Money      `json:"consultationFee"`
	MedicineCharges   appointment.Money      `json:"medicineCharges"`
	AdditionalCharges appointment.Money      `json:"additionalCharges"`
	TotalAmount       appointment.Money      `json:"totalAmount"`
	Status            string                 `json:"status"`
	PaidAt            *time.Time             `json:"paidAt,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
}

type PaymentIntentResponse struct {
	PaymentID       uuid.UUID         `json:"paymentId"`
	PrescriptionID  uuid.UUID         `json:"prescriptionId"`
	Amount          appointment.Money `json:"amount"`
	Currency        string            `json:"currency"`
	SignatureFormat string            `json:"signatureFormat"`
	Reused          bool              `json:"reused"`
}

type SettlementResponse struct {
	PaymentID        uuid.UUID `json:"paymentId"`
	PrescriptionID   uuid.UUID `json:"prescriptionId"`
	AppointmentID    uuid.UUID `json:"appointmentId"`
	AlreadyProcessed bool      `json:"alreadyProcessed"`
	RemindersCreated int       `json:"remindersCreated"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		ClinicID:        a.ClinicID,
		AppointmentDate: a.Date,
		AppointmentTime: a.Time,
		Status:          string(a.Status),
		Reason:          a.Reason,
		AITriage:        a.AITriage,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toPrescriptionResponse(p *appointment.Prescription) PrescriptionResponse {
	meds := p.Medicines
	if meds == nil {
		meds = []appointment.Medicine{}
	}
	return PrescriptionResponse{
		ID:                p.ID,
		AppointmentID:     p.AppointmentID,
		PatientID:         p.PatientID,
		DoctorID:          p.DoctorID,
		Diagnosis:         p.Diagnosis,
		Notes:             p.Notes,
		Medicines:         meds,
		ConsultationFee:   p.ConsultationFee,
		MedicineCharges:   p.MedicineCharges,
		AdditionalCharges: p.AdditionalCharges,
		TotalAmount:       p.TotalAmount,
		Status:            string(p.Status),
		PaidAt:            p.PaidAt,
		CreatedAt:         p.CreatedAt,
	}
}

func toSettlementResponse(s *appointment.Settlement) SettlementResponse {
	return SettlementResponse{
		PaymentID:        s.PaymentID,
		PrescriptionID:   s.PrescriptionID,
		AppointmentID:    s.AppointmentID,
		AlreadyProcessed: s.AlreadyProcessed,
		RemindersCreated: s.RemindersCreated,
	}
}
