// Package apptest provides an in-memory appointment.Repository that enforces
// the same uniqueness rules as the Postgres schema. It is meant for service
// and handler tests.
package apptest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-booking/internal/appointment"
	"github.com/hackgods/telehealth-booking/internal/availability"
	"github.com/hackgods/telehealth-booking/internal/reminder"
)

type txKey struct{}

type state struct {
	doctors       map[uuid.UUID]appointment.Doctor
	patients      map[uuid.UUID]appointment.Patient
	appointments  map[uuid.UUID]appointment.Appointment
	prescriptions map[uuid.UUID]appointment.Prescription
	payments      map[uuid.UUID]appointment.Payment
	reminders     []reminder.Reminder
}

func (s state) clone() state {
	out := state{
		doctors:       make(map[uuid.UUID]appointment.Doctor, len(s.doctors)),
		patients:      make(map[uuid.UUID]appointment.Patient, len(s.patients)),
		appointments:  make(map[uuid.UUID]appointment.Appointment, len(s.appointments)),
		prescriptions: make(map[uuid.UUID]appointment.Prescription, len(s.prescriptions)),
		payments:      make(map[uuid.UUID]appointment.Payment, len(s.payments)),
		reminders:     append([]reminder.Reminder(nil), s.reminders...),
	}
	for k, v := range s.doctors {
		out.doctors[k] = v
	}
	for k, v := range s.patients {
		out.patients[k] = v
	}
	for k, v := range s.appointments {
		out.appointments[k] = v
	}
	for k, v := range s.prescriptions {
		v.Medicines = append([]appointment.Medicine(nil), v.Medicines...)
		out.prescriptions[k] = v
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	return out
}

// Repository is safe for concurrent use. Transactions are serialized and
// roll back by restoring a snapshot.
type Repository struct {
	txMu sync.Mutex

	mu       sync.Mutex
	data     state
	failures map[string]error
	now      func() time.Time
}

var _ appointment.Repository = (*Repository)(nil)

type Option func(*Repository)

// WithClock stamps rows with now instead of the wall clock. Pass the same
// clock the service under test uses.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func NewRepository(opts ...Option) *Repository {
	r := &Repository{
		data: state{
			doctors:       map[uuid.UUID]appointment.Doctor{},
			patients:      map[uuid.UUID]appointment.Patient{},
			appointments:  map[uuid.UUID]appointment.Appointment{},
			prescriptions: map[uuid.UUID]appointment.Prescription{},
			payments:      map[uuid.UUID]appointment.Payment{},
		},
		failures: map[string]error{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InjectError makes the next call to the named method return err.
func (r *Repository) InjectError(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[method] = err
}

// fail must be called with mu held.
func (r *Repository) fail(method string) error {
	if err, ok := r.failures[method]; ok {
		delete(r.failures, method)
		return err
	}
	return nil
}

func (r *Repository) AddDoctor(d appointment.Doctor) appointment.Doctor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Name == "" {
		d.Name = "Dr. Test"
	}
	d.CreatedAt, d.UpdatedAt = r.now(), r.now()
	r.data.doctors[d.ID] = d
	return d
}

func (r *Repository) AddPatient(p appointment.Patient) appointment.Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Name == "" {
		p.Name = "Test Patient"
	}
	p.CreatedAt, p.UpdatedAt = r.now(), r.now()
	r.data.patients[p.ID] = p
	return p
}

// Payments returns every payment recorded for a prescription.
func (r *Repository) Payments(prescriptionID uuid.UUID) []appointment.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []appointment.Payment
	for _, p := range r.data.payments {
		if p.PrescriptionID == prescriptionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Reminders returns every reminder recorded for a prescription.
func (r *Repository) Reminders(prescriptionID uuid.UUID) []reminder.Reminder {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []reminder.Reminder
	for _, rem := range r.data.reminders {
		if rem.PrescriptionID == prescriptionID {
			out = append(out, rem)
		}
	}
	return out
}

// AgePayment moves a payment's creation time back, for expiry tests.
func (r *Repository) AgePayment(id uuid.UUID, by time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data.payments[id]; ok {
		p.CreatedAt = p.CreatedAt.Add(-by)
		r.data.payments[id] = p
	}
}

func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	if err := r.fail("WithinTx"); err != nil {
		r.mu.Unlock()
		return err
	}
	snapshot := r.data.clone()
	r.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		r.mu.Lock()
		r.data = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

// Generate stores planned reminders alongside the rest of the state so they
// roll back with the surrounding transaction.
func (r *Repository) Generate(_ context.Context, req reminder.Request) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("Generate"); err != nil {
		return 0, err
	}
	planned := reminder.Plan(req)
	r.data.reminders = append(r.data.reminders, planned...)
	return len(planned), nil
}

func (r *Repository) GetDoctorByID(_ context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetDoctorByID"); err != nil {
		return nil, err
	}
	d, ok := r.data.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	return &d, nil
}

func (r *Repository) UpdateDoctorAvailability(_ context.Context, id uuid.UUID, cfg availability.Config) (*appointment.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("UpdateDoctorAvailability"); err != nil {
		return nil, err
	}
	d, ok := r.data.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	d.Availability = cfg
	d.UpdatedAt = r.now()
	r.data.doctors[id] = d
	return &d, nil
}

func (r *Repository) GetPatientByID(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetPatientByID"); err != nil {
		return nil, err
	}
	p, ok := r.data.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return &p, nil
}

func (r *Repository) GetActiveAppointmentForSlot(_ context.Context, doctorID uuid.UUID, date, slot string) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetActiveAppointmentForSlot"); err != nil {
		return nil, err
	}
	if a, ok := r.activeSlot(doctorID, date, slot); ok {
		return &a, nil
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (r *Repository) activeSlot(doctorID uuid.UUID, date, slot string) (appointment.Appointment, bool) {
	for _, a := range r.data.appointments {
		if a.DoctorID == doctorID && a.Date == date && a.Time == slot && a.Status.HoldsSlot() {
			return a, true
		}
	}
	return appointment.Appointment{}, false
}

func (r *Repository) ListActiveAppointmentsForDate(_ context.Context, doctorID uuid.UUID, date string) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("ListActiveAppointmentsForDate"); err != nil {
		return nil, err
	}
	var out []appointment.Appointment
	for _, a := range r.data.appointments {
		if a.DoctorID == doctorID && a.Date == date && a.Status.HoldsSlot() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (r *Repository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetAppointmentByID"); err != nil {
		return nil, err
	}
	a, ok := r.data.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *Repository) LockAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return r.GetAppointmentByID(ctx, id)
}

func (r *Repository) ListAppointments(_ context.Context, filter appointment.AppointmentFilter) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("ListAppointments"); err != nil {
		return nil, err
	}
	var out []appointment.Appointment
	for _, a := range r.data.appointments {
		if filter.PatientID != nil && a.PatientID != *filter.PatientID {
			continue
		}
		if filter.DoctorID != nil && a.DoctorID != *filter.DoctorID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Time > out[j].Time
	})
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *Repository) CreateAppointment(_ context.Context, a *appointment.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("CreateAppointment"); err != nil {
		return err
	}
	if _, taken := r.activeSlot(a.DoctorID, a.Date, a.Time); taken {
		return appointment.ErrSlotConflict
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt, a.UpdatedAt = r.now(), r.now()
	r.data.appointments[a.ID] = *a
	return nil
}

func (r *Repository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to appointment.Status) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("UpdateAppointmentStatus"); err != nil {
		return nil, err
	}
	a, ok := r.data.appointments[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = r.now()
	r.data.appointments[id] = a
	return &a, nil
}

func (r *Repository) CreatePrescription(_ context.Context, p *appointment.Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("CreatePrescription"); err != nil {
		return err
	}
	for _, existing := range r.data.prescriptions {
		if existing.AppointmentID == p.AppointmentID {
			return appointment.ErrAlreadyPrescribed
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt, p.UpdatedAt = r.now(), r.now()
	stored := *p
	stored.Medicines = append([]appointment.Medicine(nil), p.Medicines...)
	r.data.prescriptions[p.ID] = stored
	return nil
}

func (r *Repository) GetPrescriptionByID(_ context.Context, id uuid.UUID) (*appointment.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetPrescriptionByID"); err != nil {
		return nil, err
	}
	p, ok := r.data.prescriptions[id]
	if !ok {
		return nil, appointment.ErrPrescriptionNotFound
	}
	return &p, nil
}

func (r *Repository) GetPrescriptionByAppointment(_ context.Context, appointmentID uuid.UUID) (*appointment.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetPrescriptionByAppointment"); err != nil {
		return nil, err
	}
	for _, p := range r.data.prescriptions {
		if p.AppointmentID == appointmentID {
			return &p, nil
		}
	}
	return nil, appointment.ErrPrescriptionNotFound
}

func (r *Repository) LockPrescription(ctx context.Context, id uuid.UUID) (*appointment.Prescription, error) {
	return r.GetPrescriptionByID(ctx, id)
}

func (r *Repository) MarkPrescriptionPaid(_ context.Context, id uuid.UUID, paidAt time.Time) (*appointment.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("MarkPrescriptionPaid"); err != nil {
		return nil, err
	}
	p, ok := r.data.prescriptions[id]
	if !ok || p.Status != appointment.PrescriptionPending {
		return nil, appointment.ErrAlreadyPaid
	}
	p.Status = appointment.PrescriptionPaid
	p.PaidAt = &paidAt
	p.UpdatedAt = r.now()
	r.data.prescriptions[id] = p
	return &p, nil
}

// paymentConflict mirrors the partial unique indexes on payments.
func (r *Repository) paymentConflict(candidate appointment.Payment) error {
	for _, p := range r.data.payments {
		if p.ID == candidate.ID {
			continue
		}
		if candidate.GatewayPaymentID != nil && p.GatewayPaymentID != nil && *p.GatewayPaymentID == *candidate.GatewayPaymentID {
			return appointment.ErrDuplicateGatewayRef
		}
		if candidate.Status == appointment.PaymentSuccess && p.Status == appointment.PaymentSuccess && p.PrescriptionID == candidate.PrescriptionID {
			return appointment.ErrAlreadyPaid
		}
		if candidate.Status == appointment.PaymentPending && p.Status == appointment.PaymentPending &&
			p.PrescriptionID == candidate.PrescriptionID && p.PatientID == candidate.PatientID {
			return appointment.ErrPendingPaymentExists
		}
	}
	return nil
}

func (r *Repository) CreatePayment(_ context.Context, p *appointment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("CreatePayment"); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if err := r.paymentConflict(*p); err != nil {
		return err
	}
	p.CreatedAt, p.UpdatedAt = r.now(), r.now()
	r.data.payments[p.ID] = *p
	return nil
}

func (r *Repository) GetPaymentByID(_ context.Context, id uuid.UUID) (*appointment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("GetPaymentByID"); err != nil {
		return nil, err
	}
	p, ok := r.data.payments[id]
	if !ok {
		return nil, appointment.ErrPaymentNotFound
	}
	return &p, nil
}

func (r *Repository) LockPayment(ctx context.Context, id uuid.UUID) (*appointment.Payment, error) {
	return r.GetPaymentByID(ctx, id)
}

func (r *Repository) FindPendingPayment(_ context.Context, prescriptionID, patientID uuid.UUID) (*appointment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("FindPendingPayment"); err != nil {
		return nil, err
	}
	for _, p := range r.data.payments {
		if p.PrescriptionID == prescriptionID && p.PatientID == patientID && p.Status == appointment.PaymentPending {
			return &p, nil
		}
	}
	return nil, appointment.ErrPaymentNotFound
}

func (r *Repository) MarkPaymentFailed(_ context.Context, id uuid.UUID, reason appointment.FailureReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("MarkPaymentFailed"); err != nil {
		return err
	}
	if p, ok := r.data.payments[id]; ok && p.Status == appointment.PaymentPending {
		p.Status = appointment.PaymentFailed
		p.FailureReason = reason
		p.UpdatedAt = r.now()
		r.data.payments[id] = p
	}
	return nil
}

func (r *Repository) MarkPaymentSucceeded(_ context.Context, id uuid.UUID, gatewayPaymentID string, verifiedAt time.Time) (*appointment.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("MarkPaymentSucceeded"); err != nil {
		return nil, err
	}
	p, ok := r.data.payments[id]
	if !ok || !p.Settleable() {
		return nil, appointment.ErrPaymentNotPending
	}
	p.Status = appointment.PaymentSuccess
	p.FailureReason = ""
	p.GatewayPaymentID = &gatewayPaymentID
	p.VerifiedAt = &verifiedAt
	if err := r.paymentConflict(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = r.now()
	r.data.payments[id] = p
	return &p, nil
}

func (r *Repository) FailPendingPayments(_ context.Context, prescriptionID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("FailPendingPayments"); err != nil {
		return 0, err
	}
	var n int64
	for id, p := range r.data.payments {
		if p.PrescriptionID == prescriptionID && p.Status == appointment.PaymentPending {
			p.Status = appointment.PaymentFailed
			p.FailureReason = appointment.FailureSuperseded
			p.UpdatedAt = r.now()
			r.data.payments[id] = p
			n++
		}
	}
	return n, nil
}

func (r *Repository) FailStalePayments(_ context.Context, createdBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("FailStalePayments"); err != nil {
		return 0, err
	}
	var n int64
	for id, p := range r.data.payments {
		if p.Status == appointment.PaymentPending && p.CreatedAt.Before(createdBefore) {
			p.Status = appointment.PaymentFailed
			p.FailureReason = appointment.FailureExpired
			p.UpdatedAt = r.now()
			r.data.payments[id] = p
			n++
		}
	}
	return n, nil
}
