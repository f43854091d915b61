package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-booking/internal/audit"
	"github.com/hackgods/telehealth-booking/internal/reminder"
)

// PaymentIntent is what a patient needs to hand the gateway.
type PaymentIntent struct {
	PaymentID       uuid.UUID
	PrescriptionID  uuid.UUID
	Amount          Money
	Currency        string
	SignatureFormat string
	Reused          bool
}

// Settlement describes the result of a verified (or replayed) payment.
type Settlement struct {
	PaymentID        uuid.UUID
	PrescriptionID   uuid.UUID
	AppointmentID    uuid.UUID
	RemindersCreated int
	AlreadyProcessed bool
}

type VerifyRequest struct {
	PaymentID        uuid.UUID
	GatewayPaymentID string
	Signature        string
}

// InitiatePayment opens a pending payment for a prescription, reusing the
// patient's existing pending one if there is any.
func (s *Service) InitiatePayment(ctx context.Context, patientID, prescriptionID uuid.UUID) (*PaymentIntent, error) {
	p, err := s.repo.GetPrescriptionByID(ctx, prescriptionID)
	if err != nil {
		return nil, s.wrapLoad("load prescription", err)
	}
	if p.PatientID != patientID {
		return nil, ErrPrescriptionNotFound
	}
	if p.Status == PrescriptionPaid {
		return nil, ErrAlreadyPaid
	}
	if p.TotalAmount <= 0 {
		return nil, ErrAmountNotConfigured
	}

	existing, err := s.repo.FindPendingPayment(ctx, p.ID, patientID)
	if err == nil {
		return s.intent(existing, true), nil
	}
	if !errors.Is(err, ErrPaymentNotFound) {
		return nil, fmt.Errorf("find pending payment: %w", err)
	}

	pay := &Payment{
		PrescriptionID: p.ID,
		PatientID:      p.PatientID,
		DoctorID:       p.DoctorID,
		AppointmentID:  p.AppointmentID,
		Amount:         p.TotalAmount,
		Currency:       s.cfg.PaymentCurrency,
		Status:         PaymentPending,
		Method:         MethodGateway,
	}
	if err := s.repo.CreatePayment(ctx, pay); err != nil {
		if !errors.Is(err, ErrPendingPaymentExists) {
			return nil, fmt.Errorf("create payment: %w", err)
		}
		// lost a concurrent initiate; hand back the winner
		existing, err := s.repo.FindPendingPayment(ctx, p.ID, patientID)
		if err != nil {
			return nil, fmt.Errorf("find pending payment: %w", err)
		}
		return s.intent(existing, true), nil
	}

	s.logEvent(ctx, &pay.AppointmentID, audit.EventPaymentInitiated, map[string]any{
		"payment_id":      pay.ID.String(),
		"prescription_id": pay.PrescriptionID.String(),
		"amount":          pay.Amount.String(),
		"currency":        pay.Currency,
	})

	return s.intent(pay, false), nil
}

func (s *Service) intent(p *Payment, reused bool) *PaymentIntent {
	return &PaymentIntent{
		PaymentID:       p.ID,
		PrescriptionID:  p.PrescriptionID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		SignatureFormat: SignatureFormat,
		Reused:          reused,
	}
}

// VerifyPayment checks the gateway signature and settles the payment,
// prescription and appointment in one transaction. Replaying a verified
// payment returns the same settlement without writing anything.
func (s *Service) VerifyPayment(ctx context.Context, patientID uuid.UUID, req VerifyRequest) (*Settlement, error) {
	gatewayID := strings.TrimSpace(req.GatewayPaymentID)
	if req.PaymentID == uuid.Nil || gatewayID == "" {
		return nil, fmt.Errorf("%w: gatewayPaymentId is required", ErrInvalidInput)
	}

	pay, err := s.repo.GetPaymentByID(ctx, req.PaymentID)
	if err != nil {
		return nil, s.wrapLoad("load payment", err)
	}
	if pay.PatientID != patientID {
		return nil, ErrPaymentNotFound
	}

	if pay.Status == PaymentSuccess {
		return replayed(pay), nil
	}
	if !pay.Settleable() {
		return nil, ErrPaymentNotPending
	}

	payload := Payload(pay.ID, gatewayID, pay.PrescriptionID, pay.Amount)
	if !s.signer.Verify(payload, req.Signature) {
		if err := s.repo.MarkPaymentFailed(ctx, pay.ID, FailureSignature); err != nil {
			return nil, err
		}
		s.logEvent(ctx, &pay.AppointmentID, audit.EventPaymentFailed, map[string]any{
			"payment_id":         pay.ID.String(),
			"gateway_payment_id": gatewayID,
		})
		s.logger.Warn("payment signature mismatch", zap.Stringer("payment_id", pay.ID))
		return nil, ErrInvalidSignature
	}

	var out *Settlement
	var late bool
	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockPayment(ctx, pay.ID)
		if err != nil {
			return err
		}
		if locked.Status == PaymentSuccess {
			out = replayed(locked)
			return nil
		}
		if !locked.Settleable() {
			return ErrPaymentNotPending
		}

		// The gateway took the money after expiry gave up on this payment.
		// Any retry the patient opened since is superseded by it.
		if late = locked.Status == PaymentFailed; late {
			if _, err := s.repo.FailPendingPayments(ctx, locked.PrescriptionID); err != nil {
				return err
			}
		}

		settled, err := s.settle(ctx, locked.PrescriptionID, func(ctx context.Context) error {
			_, err := s.repo.MarkPaymentSucceeded(ctx, locked.ID, gatewayID, s.now())
			return err
		})
		if err != nil {
			return err
		}
		settled.PaymentID = locked.ID
		out = settled
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !out.AlreadyProcessed {
		s.logEvent(ctx, &out.AppointmentID, audit.EventPaymentSettled, map[string]any{
			"payment_id":         out.PaymentID.String(),
			"prescription_id":    out.PrescriptionID.String(),
			"gateway_payment_id": gatewayID,
			"reminders":          out.RemindersCreated,
			"after_expiry":       late,
		})
		s.logger.Info("payment settled",
			zap.Stringer("payment_id", out.PaymentID),
			zap.Stringer("prescription_id", out.PrescriptionID),
			zap.Int("reminders", out.RemindersCreated),
		)
	}

	return out, nil
}

func replayed(p *Payment) *Settlement {
	return &Settlement{
		PaymentID:        p.ID,
		PrescriptionID:   p.PrescriptionID,
		AppointmentID:    p.AppointmentID,
		AlreadyProcessed: true,
	}
}

// ForceMarkPaid settles a prescription without a gateway callback. Any
// pending gateway payments are failed and a manual success payment records
// who did it and why.
func (s *Service) ForceMarkPaid(ctx context.Context, adminID, prescriptionID uuid.UUID, reason string) (*Settlement, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}

	var out *Settlement
	var failed int64
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.LockPrescription(ctx, prescriptionID)
		if err != nil {
			return err
		}
		if p.Status == PrescriptionPaid {
			return ErrAlreadyPaid
		}

		failed, err = s.repo.FailPendingPayments(ctx, p.ID)
		if err != nil {
			return err
		}

		var manual *Payment
		settled, err := s.settle(ctx, p.ID, func(ctx context.Context) error {
			now := s.now()
			manual = &Payment{
				PrescriptionID: p.ID,
				PatientID:      p.PatientID,
				DoctorID:       p.DoctorID,
				AppointmentID:  p.AppointmentID,
				Amount:         p.TotalAmount,
				Currency:       s.cfg.PaymentCurrency,
				Status:         PaymentSuccess,
				Method:         MethodManual,
				OverrideReason: &reason,
				VerifiedAt:     &now,
			}
			if err := s.repo.CreatePayment(ctx, manual); err != nil {
				if errors.Is(err, ErrAlreadyPaid) {
					return err
				}
				return fmt.Errorf("record manual payment: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		settled.PaymentID = manual.ID
		out = settled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, &out.AppointmentID, audit.EventPaymentOverride, map[string]any{
		"admin_id":         adminID.String(),
		"prescription_id":  out.PrescriptionID.String(),
		"payment_id":       out.PaymentID.String(),
		"reason":           reason,
		"pending_canceled": failed,
	})
	s.logger.Warn("prescription marked paid manually",
		zap.Stringer("admin_id", adminID),
		zap.Stringer("prescription_id", out.PrescriptionID),
		zap.String("reason", reason),
	)

	return out, nil
}

// settle runs inside a transaction. It marks the prescription paid, makes
// sure the appointment is completed, records the payment through
// markPayment and finally asks for reminders.
func (s *Service) settle(ctx context.Context, prescriptionID uuid.UUID, markPayment func(ctx context.Context) error) (*Settlement, error) {
	p, err := s.repo.LockPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if p.Status != PrescriptionPaid {
		if _, err := s.repo.MarkPrescriptionPaid(ctx, p.ID, s.now()); err != nil {
			return nil, err
		}
	}

	appt, err := s.repo.LockAppointment(ctx, p.AppointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusCompleted {
		if err := CheckTransition(appt.Status, StatusCompleted, ActorSystem); err != nil {
			return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidState, appt.Status)
		}
		if _, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCompleted); err != nil {
			return nil, fmt.Errorf("complete appointment: %w", err)
		}
	}

	if err := markPayment(ctx); err != nil {
		return nil, err
	}

	created := 0
	if s.reminders != nil {
		created, err = s.reminders.Generate(ctx, reminderRequest(p, s.now()))
		if err != nil {
			// reminders never gate settlement
			s.logger.Warn("reminder generation failed",
				zap.Stringer("prescription_id", p.ID),
				zap.Error(err),
			)
			created = 0
		}
	}

	return &Settlement{
		PrescriptionID:   p.ID,
		AppointmentID:    p.AppointmentID,
		RemindersCreated: created,
	}, nil
}

func reminderRequest(p *Prescription, settledAt time.Time) reminder.Request {
	meds := make([]reminder.Medicine, 0, len(p.Medicines))
	for _, m := range p.Medicines {
		meds = append(meds, reminder.Medicine{
			Name:      m.Name,
			Dosage:    m.Dosage,
			Frequency: m.Frequency,
			Duration:  m.Duration,
		})
	}
	return reminder.Request{
		PrescriptionID: p.ID,
		PatientID:      p.PatientID,
		Medicines:      meds,
		SettledAt:      settledAt,
	}
}

// ExpireStalePayments fails gateway payments left pending longer than the
// configured TTL so the patient can start over.
func (s *Service) ExpireStalePayments(ctx context.Context) (int64, error) {
	if s.cfg.PaymentPendingTTL <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.cfg.PaymentPendingTTL)

	n, err := s.repo.FailStalePayments(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logEvent(ctx, nil, audit.EventPaymentsExpired, map[string]any{
			"count":  n,
			"cutoff": cutoff.UTC().Format(time.RFC3339),
		})
	}
	return n, nil
}
