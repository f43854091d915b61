package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-booking/internal/appointment"
	"github.com/hackgods/telehealth-booking/internal/auth"
	"github.com/hackgods/telehealth-booking/internal/availability"
	"github.com/hackgods/telehealth-booking/internal/metrics"
)

// deps is what every handler needs.
type deps struct {
	svc     *appointment.Service
	metrics *metrics.Collector
	logger  *zap.Logger
}

func (d deps) recordBooking(err error) {
	if d.metrics == nil {
		return
	}
	if err == nil {
		d.metrics.RecordBooking("created")
		return
	}
	_, code := classify(err)
	d.metrics.RecordBooking(code)
}

func (d deps) recordSettlement(s *appointment.Settlement, err error) {
	if d.metrics == nil {
		return
	}
	switch {
	case err != nil:
		_, code := classify(err)
		d.metrics.RecordSettlement(code)
	case s.AlreadyProcessed:
		d.metrics.RecordSettlement("replayed")
	default:
		d.metrics.RecordSettlement("settled")
	}
}

func callerFrom(r *http.Request) appointment.Caller {
	p, _ := auth.FromContext(r.Context())
	return appointment.Caller{ID: p.UserID, Role: appointment.Actor(p.Role)}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func listSlotsHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		doctorID, err := uuid.Parse(q.Get("doctorId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
			return
		}
		date := q.Get("date")

		slots, err := d.svc.ListSlots(r.Context(), doctorID, date)
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}

		resp := SlotsResponse{DoctorID: doctorID, Date: date, Slots: make([]SlotResponse, 0, len(slots))}
		for _, s := range slots {
			resp.Slots = append(resp.Slots, SlotResponse{
				StartTime:     s.StartTime,
				IsBooked:      s.IsBooked,
				IsUnavailable: s.IsUnavailable,
				Reason:        s.Reason,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getDoctorAvailabilityHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		cfg, err := d.svc.GetDoctorAvailability(r.Context(), doctorID)
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

func updateMyAvailabilityHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req availability.Config
		if !decode(w, r, &req) {
			return
		}

		cfg, err := d.svc.UpdateDoctorAvailability(r.Context(), callerFrom(r).ID, req)
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

func bookAppointmentHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decode(w, r, &req) {
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
			return
		}

		var clinicID *uuid.UUID
		if req.ClinicID != nil && *req.ClinicID != "" {
			id, err := uuid.Parse(*req.ClinicID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinicId must be a valid UUID")
				return
			}
			clinicID = &id
		}

		appt, err := d.svc.BookAppointment(r.Context(), appointment.BookingRequest{
			PatientID: callerFrom(r).ID,
			DoctorID:  doctorID,
			ClinicID:  clinicID,
			Date:      req.AppointmentDate,
			Time:      req.AppointmentTime,
			Reason:    req.Reason,
			AITriage:  req.AITriage,
		})
		d.recordBooking(err)
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookAppointmentResponse{
			AppointmentID: appt.ID,
			Appointment:   toAppointmentResponse(appt),
		})
	}
}

func listAppointmentsHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := d.svc.ListAppointments(r.Context(), callerFrom(r), limit, offset)
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}

		resp := ListAppointmentsResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := d.svc.GetAppointment(r.Context(), callerFrom(r), id)
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateStatusHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req UpdateStatusRequest
		if !decode(w, r, &req) {
			return
		}
		to, err := appointment.ParseStatus(req.Status)
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}

		appt, err := d.svc.UpdateStatus(r.Context(), callerFrom(r).ID, id, to)
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, StatusResponse{ID: appt.ID, Status: string(appt.Status)})
	}
}

func cancelAppointmentHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := d.svc.CancelAppointment(r.Context(), callerFrom(r).ID, id)
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, StatusResponse{ID: appt.ID, Status: string(appt.Status)})
	}
}

func issuePrescriptionHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IssuePrescriptionRequest
		if !decode(w, r, &req) {
			return
		}

		appointmentID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointmentId must be a valid UUID")
			return
		}

		p, err := d.svc.IssuePrescription(r.Context(), callerFrom(r).ID, appointment.IssueRequest{
			AppointmentID:     appointmentID,
			Diagnosis:         req.Diagnosis,
			Medicines:         req.Medicines,
			ConsultationFee:   req.ConsultationFee,
			MedicineCharges:   req.MedicineCharges,
			AdditionalCharges: req.AdditionalCharges,
			Notes:             req.Notes,
		})
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toPrescriptionResponse(p))
	}
}

func getPrescriptionHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_prescription_id")
		if !ok {
			return
		}

		p, err := d.svc.GetPrescription(r.Context(), callerFrom(r), id)
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toPrescriptionResponse(p))
	}
}

func initiatePaymentHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prescriptionID, ok := uuidParam(w, r, "id", "invalid_prescription_id")
		if !ok {
			return
		}

		intent, err := d.svc.InitiatePayment(r.Context(), callerFrom(r).ID, prescriptionID)
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}

		status := http.StatusCreated
		if intent.Reused {
			status = http.StatusOK
		}
		writeJSON(w, status, PaymentIntentResponse{
			PaymentID:       intent.PaymentID,
			PrescriptionID:  intent.PrescriptionID,
			Amount:          intent.Amount,
			Currency:        intent.Currency,
			SignatureFormat: intent.SignatureFormat,
			Reused:          intent.Reused,
		})
	}
}

func verifyPaymentHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, ok := uuidParam(w, r, "paymentId", "invalid_payment_id")
		if !ok {
			return
		}

		var req VerifyPaymentRequest
		if !decode(w, r, &req) {
			return
		}

		settled, err := d.svc.VerifyPayment(r.Context(), callerFrom(r).ID, appointment.VerifyRequest{
			PaymentID:        paymentID,
			GatewayPaymentID: req.GatewayPaymentID,
			Signature:        req.Signature,
		})
		d.recordSettlement(settled, err)
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toSettlementResponse(settled))
	}
}

func markPaidHandler(d deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prescriptionID, ok := uuidParam(w, r, "id", "invalid_prescription_id")
		if !ok {
			return
		}

		var req MarkPaidRequest
		if !decode(w, r, &req) {
			return
		}

		settled, err := d.svc.ForceMarkPaid(r.Context(), callerFrom(r).ID, prescriptionID, req.Reason)
		if err != nil {
			writeServiceError(w, r, d.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toSettlementResponse(settled))
	}
}
