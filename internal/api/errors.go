package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/telehealth-booking/internal/appointment"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorTable is checked in order; the first errors.Is match wins.
var errorTable = []errorMapping{
	{appointment.ErrInvalidTimeFormat, http.StatusBadRequest, "invalid_time_format"},
	{appointment.ErrPastDateTime, http.StatusBadRequest, "past_date_time"},
	{appointment.ErrOutsideClinicHours, http.StatusBadRequest, "outside_clinic_hours"},
	{appointment.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{appointment.ErrDoctorUnavailable, http.StatusConflict, "doctor_unavailable"},
	{appointment.ErrPatientProfileMissing, http.StatusNotFound, "patient_profile_missing"},
	{appointment.ErrSlotConflict, http.StatusConflict, "slot_conflict"},
	{appointment.ErrInvalidTransition, http.StatusBadRequest, "invalid_transition"},
	{appointment.ErrInvalidState, http.StatusBadRequest, "invalid_state"},
	{appointment.ErrNoMedicines, http.StatusBadRequest, "no_medicines"},
	{appointment.ErrIncompleteMedicine, http.StatusBadRequest, "incomplete_medicine"},
	{appointment.ErrAmountNotConfigured, http.StatusBadRequest, "amount_not_configured"},
	{appointment.ErrAlreadyPrescribed, http.StatusConflict, "already_prescribed"},
	{appointment.ErrAlreadyPaid, http.StatusConflict, "already_paid"},
	{appointment.ErrPaymentNotPending, http.StatusConflict, "payment_not_pending"},
	{appointment.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{appointment.ErrDuplicateGatewayRef, http.StatusConflict, "duplicate_gateway_reference"},
	{appointment.ErrDoctorNotFound, http.StatusNotFound, "doctor_not_found"},
	{appointment.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
	{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	{appointment.ErrPrescriptionNotFound, http.StatusNotFound, "prescription_not_found"},
	{appointment.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
	{appointment.ErrForbidden, http.StatusForbidden, "forbidden"},
}

// classify maps a service error to an HTTP status and error code.
func classify(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		LoggerFrom(r.Context(), logger).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, code, "internal server error")
		return
	}

	var unavailable *appointment.UnavailableError
	if errors.As(err, &unavailable) {
		writeError(w, status, code, unavailable.Reason)
		return
	}
	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Details: msg,
	})
}
