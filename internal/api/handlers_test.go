package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-booking/internal/appointment"
	"github.com/hackgods/telehealth-booking/internal/appointment/apptest"
	"github.com/hackgods/telehealth-booking/internal/auth"
	"github.com/hackgods/telehealth-booking/internal/availability"
	"github.com/hackgods/telehealth-booking/internal/config"
	"github.com/hackgods/telehealth-booking/internal/metrics"
	redisclient "github.com/hackgods/telehealth-booking/internal/redis"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testServer struct {
	handler  http.Handler
	repo     *apptest.Repository
	svc      *appointment.Service
	verifier *auth.Verifier
	doctor   appointment.Doctor
	patient  appointment.Patient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	repo := apptest.NewRepository(apptest.WithClock(clock))
	cfg := config.Config{
		PaymentSecret:     "handler-secret",
		PaymentCurrency:   "INR",
		PaymentPendingTTL: 30 * time.Minute,
		ClinicLocation:    time.UTC,
	}
	svc := appointment.NewService(repo, redisclient.NoopLocker{}, repo, &apptest.Sink{}, cfg, zap.NewNop(),
		appointment.WithClock(clock))
	verifier := auth.NewVerifier("handler-jwt-key", "telehealth")

	return &testServer{
		handler: NewRouter(RouterConfig{
			Service:  svc,
			Verifier: verifier,
			Metrics:  metrics.New("test"),
			Logger:   zap.NewNop(),
			Postgres: stubPinger{},
			Env:      "test",
			Version:  "dev",
		}),
		repo:     repo,
		svc:      svc,
		verifier: verifier,
		doctor:   repo.AddDoctor(appointment.Doctor{Availability: availability.Open()}),
		patient:  repo.AddPatient(appointment.Patient{}),
	}
}

func (s *testServer) token(t *testing.T, id uuid.UUID, role string) string {
	t.Helper()
	tok, err := s.verifier.Issue(auth.Principal{UserID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decodeBody[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "disabled", ready.Dependencies["redis"])
}

func TestReadinessReportsDependencies(t *testing.T) {
	tests := []struct {
		name       string
		postgres   Pinger
		redis      Pinger
		wantStatus string
		wantCode   int
	}{
		{"all up", stubPinger{}, stubPinger{}, "ok", http.StatusOK},
		{"redis down", stubPinger{}, stubPinger{err: errors.New("refused")}, "degraded", http.StatusOK},
		{"postgres down", stubPinger{err: errors.New("refused")}, stubPinger{}, "error", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.postgres, tt.redis, "test", "dev")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, decodeBody[ReadinessResponse](t, rec).Status)
		})
	}
}

func TestRoutesRequireAuthAndRole(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/appointments", "", BookAppointmentRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	doctorToken := s.token(t, s.doctor.ID, auth.RoleDoctor)
	rec = s.do(t, http.MethodPost, "/appointments", doctorToken, BookAppointmentRequest{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeBody[ErrorResponse](t, rec).Error)
}

func TestBookingFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	patientToken := s.token(t, s.patient.ID, auth.RolePatient)
	doctorToken := s.token(t, s.doctor.ID, auth.RoleDoctor)

	rec := s.do(t, http.MethodPost, "/appointments", patientToken, BookAppointmentRequest{
		DoctorID:        s.doctor.ID.String(),
		AppointmentDate: "2026-03-01",
		AppointmentTime: "2:30 PM",
		Reason:          "cough",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booked := decodeBody[BookAppointmentResponse](t, rec)
	assert.Equal(t, "14:30", booked.Appointment.AppointmentTime)
	assert.Equal(t, "pending", booked.Appointment.Status)

	rec = s.do(t, http.MethodGet, "/availability?doctorId="+s.doctor.ID.String()+"&date=2026-03-01", patientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decodeBody[SlotsResponse](t, rec)
	require.Len(t, slots.Slots, 18)
	for _, slot := range slots.Slots {
		assert.Equal(t, slot.StartTime == "14:30", slot.IsBooked, slot.StartTime)
	}

	rec = s.do(t, http.MethodPut, "/appointments/"+booked.AppointmentID.String()+"/status", doctorToken,
		UpdateStatusRequest{Status: "completed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_transition", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPut, "/appointments/"+booked.AppointmentID.String()+"/status", doctorToken,
		UpdateStatusRequest{Status: "approved"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decodeBody[StatusResponse](t, rec).Status)

	rec = s.do(t, http.MethodDelete, "/appointments/"+booked.AppointmentID.String(), patientToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingErrorsMapToStatusCodes(t *testing.T) {
	s := newTestServer(t)
	patientToken := s.token(t, s.patient.ID, auth.RolePatient)

	book := func(date, slot string) *httptest.ResponseRecorder {
		return s.do(t, http.MethodPost, "/appointments", patientToken, BookAppointmentRequest{
			DoctorID:        s.doctor.ID.String(),
			AppointmentDate: date,
			AppointmentTime: slot,
		})
	}

	require.Equal(t, http.StatusCreated, book("2026-03-01", "09:00").Code)

	tests := []struct {
		name     string
		date     string
		slot     string
		wantCode int
		wantErr  string
	}{
		{"taken", "2026-03-01", "9:00 AM", http.StatusConflict, "slot_conflict"},
		{"closing time", "2026-03-01", "18:00", http.StatusBadRequest, "outside_clinic_hours"},
		{"grammar", "2026-03-01", "9 o'clock", http.StatusBadRequest, "invalid_time_format"},
		{"past", "2025-12-01", "10:00", http.StatusBadRequest, "past_date_time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := book(tt.date, tt.slot)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeBody[ErrorResponse](t, rec).Error)
		})
	}

	t.Run("unknown doctor", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/appointments", patientToken, BookAppointmentRequest{
			DoctorID: uuid.NewString(), AppointmentDate: "2026-03-01", AppointmentTime: "10:00",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "doctor_not_found", decodeBody[ErrorResponse](t, rec).Error)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString("{"))
		req.Header.Set("Authorization", "Bearer "+patientToken)
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestConcurrentBookingOverHTTP(t *testing.T) {
	s := newTestServer(t)

	const n = 8
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		p := s.repo.AddPatient(appointment.Patient{})
		token := s.token(t, p.ID, auth.RolePatient)
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			var buf bytes.Buffer
			_ = json.NewEncoder(&buf).Encode(BookAppointmentRequest{
				DoctorID: s.doctor.ID.String(), AppointmentDate: "2026-03-01", AppointmentTime: "09:00",
			})
			req := httptest.NewRequest(http.MethodPost, "/appointments", &buf)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i, token)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, conflicts)
}

func TestPrescriptionAndPaymentOverHTTP(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	patientToken := s.token(t, s.patient.ID, auth.RolePatient)
	doctorToken := s.token(t, s.doctor.ID, auth.RoleDoctor)
	adminToken := s.token(t, uuid.New(), auth.RoleAdmin)

	appt, err := s.svc.BookAppointment(ctx, appointment.BookingRequest{
		PatientID: s.patient.ID, DoctorID: s.doctor.ID, Date: "2026-03-01", Time: "10:00",
	})
	require.NoError(t, err)
	_, err = s.svc.UpdateStatus(ctx, s.doctor.ID, appt.ID, appointment.StatusApproved)
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/prescriptions", doctorToken, map[string]any{
		"appointmentId": appt.ID.String(),
		"diagnosis":     "sprain",
		"medicines": []map[string]string{
			{"name": "Ibuprofen", "dosage": "", "frequency": "daily", "duration": "3 days"},
		},
		"consultationFee": 500,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "incomplete_medicine", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/prescriptions", doctorToken, map[string]any{
		"appointmentId": appt.ID.String(),
		"diagnosis":     "sprain",
		"medicines": []map[string]string{
			{"name": "Ibuprofen", "dosage": "200mg", "frequency": "daily", "duration": "3 days"},
		},
		"consultationFee":   500,
		"medicineCharges":   100,
		"additionalCharges": 0,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	prescription := decodeBody[PrescriptionResponse](t, rec)
	assert.Equal(t, appointment.Money(60000), prescription.TotalAmount)

	rec = s.do(t, http.MethodPost, "/payments/prescriptions/"+prescription.ID.String()+"/initiate", patientToken, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	intent := decodeBody[PaymentIntentResponse](t, rec)
	assert.Equal(t, "INR", intent.Currency)

	rec = s.do(t, http.MethodPost, "/payments/"+intent.PaymentID.String()+"/verify", patientToken, VerifyPaymentRequest{
		GatewayPaymentID: "pay_http",
		Signature:        "deadbeef",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_signature", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/payments/prescriptions/"+prescription.ID.String()+"/initiate", patientToken, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	intent = decodeBody[PaymentIntentResponse](t, rec)

	sig := s.svc.Signer().Sign(appointment.Payload(intent.PaymentID, "pay_http", intent.PrescriptionID, intent.Amount))
	for i, wantReplay := range []bool{false, true} {
		rec = s.do(t, http.MethodPost, "/payments/"+intent.PaymentID.String()+"/verify", patientToken, VerifyPaymentRequest{
			GatewayPaymentID: "pay_http",
			Signature:        sig,
		})
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d: %s", i, rec.Body.String())
		settled := decodeBody[SettlementResponse](t, rec)
		assert.Equal(t, wantReplay, settled.AlreadyProcessed)
		assert.Equal(t, appt.ID, settled.AppointmentID)
	}

	rec = s.do(t, http.MethodPost, "/admin/prescriptions/"+prescription.ID.String()+"/mark-paid", adminToken, MarkPaidRequest{Reason: "cash"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_paid", decodeBody[ErrorResponse](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/prescriptions/"+prescription.ID.String(), patientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", decodeBody[PrescriptionResponse](t, rec).Status)
}

func TestDoctorAvailabilityEndpoints(t *testing.T) {
	s := newTestServer(t)
	doctorToken := s.token(t, s.doctor.ID, auth.RoleDoctor)
	patientToken := s.token(t, s.patient.ID, auth.RolePatient)

	rec := s.do(t, http.MethodPut, "/doctors/me/availability", doctorToken, availability.Config{
		AcceptingAppointments: false,
		StatusNote:            "Away for training",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/doctors/"+s.doctor.ID.String()+"/availability", patientToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[availability.Config](t, rec).AcceptingAppointments)

	rec = s.do(t, http.MethodPost, "/appointments", patientToken, BookAppointmentRequest{
		DoctorID: s.doctor.ID.String(), AppointmentDate: "2026-03-01", AppointmentTime: "11:00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "doctor_unavailable", body.Error)
	assert.Equal(t, "Away for training", body.Details)
}

func TestClassifyUnknownErrorIsInternal(t *testing.T) {
	status, code := classify(errors.New("connection refused"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", code)

	status, code = classify(&appointment.IncompleteMedicineError{Index: 2, Field: "duration"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "incomplete_medicine", code)
}

func TestIssuePrescriptionRejectsOutOfRangeFee(t *testing.T) {
	s := newTestServer(t)
	doctorToken := s.token(t, s.doctor.ID, auth.RoleDoctor)

	rec := s.do(t, http.MethodPost, "/prescriptions", doctorToken, map[string]any{
		"appointmentId": uuid.New().String(),
		"diagnosis":     "sprain",
		"medicines": []map[string]string{
			{"name": "Ibuprofen", "dosage": "200mg", "frequency": "daily", "duration": "3 days"},
		},
		"consultationFee": 1e30,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeBody[ErrorResponse](t, rec).Error)
}
