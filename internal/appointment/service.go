package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-booking/internal/audit"
	"github.com/hackgods/telehealth-booking/internal/availability"
	"github.com/hackgods/telehealth-booking/internal/config"
	redisclient "github.com/hackgods/telehealth-booking/internal/redis"
	"github.com/hackgods/telehealth-booking/internal/reminder"
)

// ReminderGenerator schedules follow-up reminders for a settled prescription.
// It runs inside the settlement transaction; its count is informational.
type ReminderGenerator interface {
	Generate(ctx context.Context, req reminder.Request) (int, error)
}

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	reminders ReminderGenerator
	audit     audit.Sink
	signer    *Signer
	cfg       config.Config
	logger    *zap.Logger
	now       func() time.Time

	lockRetries []time.Duration
}

// defaultLockRetries spaces out further attempts at a slot lock held by
// another booking. The holder usually finishes or fails well inside this.
var defaultLockRetries = []time.Duration{25 * time.Millisecond, 50 * time.Millisecond, 100 * time.Millisecond}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLockRetries sets the waits between attempts at a busy slot lock. No
// delays means a busy lock is a conflict straight away.
func WithLockRetries(delays ...time.Duration) Option {
	return func(s *Service) { s.lockRetries = delays }
}

func NewService(
	repo Repository,
	locker redisclient.Locker,
	reminders ReminderGenerator,
	sink audit.Sink,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if cfg.ClinicLocation == nil {
		cfg.ClinicLocation = time.UTC
	}
	if cfg.PaymentCurrency == "" {
		cfg.PaymentCurrency = "INR"
	}

	s := &Service{
		repo:      repo,
		locker:    locker,
		reminders: reminders,
		audit:     sink,
		signer:    NewSigner(cfg.PaymentSecret),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,

		lockRetries: defaultLockRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withSlotLock runs fn under the slot lock, waiting a little for a busy lock
// before giving up with ErrLockNotAcquired.
func (s *Service) withSlotLock(ctx context.Context, key redisclient.SlotKey, fn func(ctx context.Context) error) error {
	err := s.locker.WithSlotLock(ctx, key, fn)
	for _, delay := range s.lockRetries {
		if !errors.Is(err, redisclient.ErrLockNotAcquired) {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		err = s.locker.WithSlotLock(ctx, key, fn)
	}
	return err
}

// Signer exposes the settlement signer so tools can produce test callbacks.
func (s *Service) Signer() *Signer {
	return s.signer
}

type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	ClinicID  *uuid.UUID
	Date      string
	Time      string
	Reason    string
	AITriage  json.RawMessage
}

// BookAppointment validates a request against the clinic grid and the
// doctor's availability and creates a pending appointment. A concurrent
// booking of the same slot loses with ErrSlotConflict, either at the pre-check
// or when the insert trips the unique index.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	date := strings.TrimSpace(req.Date)
	if req.DoctorID == uuid.Nil || date == "" || strings.TrimSpace(req.Time) == "" {
		return nil, fmt.Errorf("%w: doctorId, appointmentDate and appointmentTime are required", ErrInvalidInput)
	}
	if !availability.ValidDate(date) {
		return nil, fmt.Errorf("%w: appointmentDate must be YYYY-MM-DD", ErrInvalidInput)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	slot, err := NormalizeTime(req.Time)
	if err != nil {
		return nil, err
	}

	startsAt, err := time.ParseInLocation("2006-01-02 15:04", date+" "+slot, s.cfg.ClinicLocation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if startsAt.Before(s.now()) {
		return nil, ErrPastDateTime
	}

	if !availability.OnGrid(slot) {
		return nil, ErrOutsideClinicHours
	}

	if block := doctor.Availability.BlockFor(date, slot); block.Blocked {
		return nil, &UnavailableError{Reason: block.Reason}
	}

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, ErrPatientProfileMissing
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	var created *Appointment
	book := func(ctx context.Context) error {
		existing, err := s.repo.GetActiveAppointmentForSlot(ctx, doctor.ID, date, slot)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check slot: %w", err)
		}
		if existing != nil {
			return ErrSlotConflict
		}

		appt := &Appointment{
			PatientID: req.PatientID,
			DoctorID:  doctor.ID,
			ClinicID:  req.ClinicID,
			Date:      date,
			Time:      slot,
			Status:    StatusPending,
			Reason:    strings.TrimSpace(req.Reason),
			AITriage:  req.AITriage,
		}
		if err := s.repo.CreateAppointment(ctx, appt); err != nil {
			if errors.Is(err, ErrSlotConflict) {
				return err
			}
			return fmt.Errorf("create appointment: %w", err)
		}
		created = appt
		return nil
	}

	key := redisclient.SlotKey{DoctorID: doctor.ID, Date: date, Time: slot}
	err = s.withSlotLock(ctx, key, book)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return nil, ErrSlotConflict
	case errors.Is(err, redisclient.ErrLockUnavailable):
		// the unique index still protects the slot
		s.logger.Warn("slot lock unavailable, booking without it", zap.String("slot", key.String()), zap.Error(err))
		err = book(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, &created.ID, audit.EventAppointmentCreated, map[string]any{
		"patient_id": created.PatientID.String(),
		"doctor_id":  created.DoctorID.String(),
		"date":       created.Date,
		"time":       created.Time,
	})
	s.logger.Info("appointment booked",
		zap.Stringer("appointment_id", created.ID),
		zap.Stringer("doctor_id", created.DoctorID),
		zap.String("date", created.Date),
		zap.String("time", created.Time),
	)

	return created, nil
}

// UpdateStatus applies a doctor-driven transition (approve, reject, mark
// arrived). Completion is not reachable from here.
func (s *Service) UpdateStatus(ctx context.Context, doctorID, appointmentID uuid.UUID, to Status) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, s.wrapLoad("load appointment", err)
	}
	if appt.DoctorID != doctorID {
		return nil, ErrAppointmentNotFound
	}

	if err := CheckTransition(appt.Status, to, ActorDoctor); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// status moved underneath us
			return nil, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logEvent(ctx, &updated.ID, audit.EventAppointmentStatus, map[string]any{
		"from":  string(appt.Status),
		"to":    string(to),
		"actor": string(ActorDoctor),
	})

	return updated, nil
}

// CancelAppointment lets a patient withdraw a booking that has not been
// approved yet.
func (s *Service) CancelAppointment(ctx context.Context, patientID, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, s.wrapLoad("load appointment", err)
	}
	if appt.PatientID != patientID {
		return nil, ErrAppointmentNotFound
	}

	if err := CheckTransition(appt.Status, StatusCancelled, ActorPatient); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, &updated.ID, audit.EventAppointmentCancelled, map[string]any{
		"from": string(appt.Status),
	})

	return updated, nil
}

// ListSlots returns the full grid for a doctor and date with booking and
// availability flags.
func (s *Service) ListSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]SlotView, error) {
	if doctorID == uuid.Nil || !availability.ValidDate(date) {
		return nil, fmt.Errorf("%w: doctorId and date (YYYY-MM-DD) are required", ErrInvalidInput)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, s.wrapLoad("load doctor", err)
	}

	active, err := s.repo.ListActiveAppointmentsForDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}
	booked := make(map[string]bool, len(active))
	for _, a := range active {
		booked[a.Time] = true
	}

	blocked := doctor.Availability.BlockedSlotsForDate(date)

	grid := availability.Slots()
	views := make([]SlotView, 0, len(grid))
	for _, slot := range grid {
		reason, unavailable := blocked[slot]
		views = append(views, SlotView{
			StartTime:     slot,
			IsBooked:      booked[slot],
			IsUnavailable: unavailable,
			Reason:        reason,
		})
	}
	return views, nil
}

// GetDoctorAvailability returns the stored availability value.
func (s *Service) GetDoctorAvailability(ctx context.Context, doctorID uuid.UUID) (availability.Config, error) {
	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return availability.Config{}, s.wrapLoad("load doctor", err)
	}
	return doctor.Availability, nil
}

// UpdateDoctorAvailability normalizes and stores a doctor's availability.
// Malformed ranges are dropped, never persisted.
func (s *Service) UpdateDoctorAvailability(ctx context.Context, doctorID uuid.UUID, cfg availability.Config) (availability.Config, error) {
	normalized := availability.Normalize(cfg)

	doctor, err := s.repo.UpdateDoctorAvailability(ctx, doctorID, normalized)
	if err != nil {
		return availability.Config{}, s.wrapLoad("update availability", err)
	}

	s.logEvent(ctx, nil, audit.EventAvailabilityUpdated, map[string]any{
		"doctor_id":      doctorID.String(),
		"accepting":      normalized.AcceptingAppointments,
		"leave_ranges":   len(normalized.LeaveRanges),
		"blocked_slots":  len(normalized.BlockedSlots),
		"dropped_leave":  len(cfg.LeaveRanges) - len(normalized.LeaveRanges),
		"dropped_blocks": len(cfg.BlockedSlots) - len(normalized.BlockedSlots),
	})

	return doctor.Availability, nil
}

// GetAppointment retrieves an appointment visible to the caller.
func (s *Service) GetAppointment(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, s.wrapLoad("get appointment", err)
	}
	if !canSee(caller, appt.PatientID, appt.DoctorID) {
		return nil, ErrAppointmentNotFound
	}
	return appt, nil
}

// ListAppointments returns the caller's own appointments, newest first.
func (s *Service) ListAppointments(ctx context.Context, caller Caller, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	filter := AppointmentFilter{Limit: limit, Offset: offset}
	switch caller.Role {
	case ActorPatient:
		filter.PatientID = &caller.ID
	case ActorDoctor:
		filter.DoctorID = &caller.ID
	case ActorAdmin:
	default:
		return nil, ErrForbidden
	}

	appointments, err := s.repo.ListAppointments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

func canSee(caller Caller, patientID, doctorID uuid.UUID) bool {
	switch caller.Role {
	case ActorAdmin:
		return true
	case ActorPatient:
		return caller.ID == patientID
	case ActorDoctor:
		return caller.ID == doctorID
	}
	return false
}

// wrapLoad keeps not-found sentinels bare and wraps everything else.
func (s *Service) wrapLoad(op string, err error) error {
	for _, nf := range []error{ErrDoctorNotFound, ErrPatientNotFound, ErrAppointmentNotFound, ErrPrescriptionNotFound, ErrPaymentNotFound} {
		if errors.Is(err, nf) {
			return err
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) logEvent(ctx context.Context, appointmentID *uuid.UUID, eventType string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.Event{
		Type:          eventType,
		AppointmentID: appointmentID,
		Payload:       payload,
		CreatedAt:     s.now(),
	})
}
