package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-booking/internal/audit"
)

type IssueRequest struct {
	AppointmentID     uuid.UUID
	Diagnosis         string
	Medicines         []Medicine
	ConsultationFee   Money
	MedicineCharges   Money
	AdditionalCharges Money
	Notes             string
}

// validate trims the request in place and returns the surviving medicines
// along with the prescription total.
func (r *IssueRequest) validate() ([]Medicine, Money, error) {
	r.Diagnosis = strings.TrimSpace(r.Diagnosis)
	if r.Diagnosis == "" {
		return nil, 0, fmt.Errorf("%w: diagnosis is required", ErrInvalidInput)
	}

	medicines := make([]Medicine, 0, len(r.Medicines))
	for _, m := range r.Medicines {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			continue
		}
		m.Dosage = strings.TrimSpace(m.Dosage)
		m.Frequency = strings.TrimSpace(m.Frequency)
		m.Duration = strings.TrimSpace(m.Duration)
		medicines = append(medicines, m)
	}
	if len(medicines) == 0 {
		return nil, 0, ErrNoMedicines
	}
	for i, m := range medicines {
		switch {
		case m.Dosage == "":
			return nil, 0, &IncompleteMedicineError{Index: i, Field: "dosage"}
		case m.Frequency == "":
			return nil, 0, &IncompleteMedicineError{Index: i, Field: "frequency"}
		case m.Duration == "":
			return nil, 0, &IncompleteMedicineError{Index: i, Field: "duration"}
		}
	}

	if r.ConsultationFee < 0 || r.MedicineCharges < 0 || r.AdditionalCharges < 0 {
		return nil, 0, fmt.Errorf("%w: charges cannot be negative", ErrInvalidInput)
	}
	total, err := r.total()
	if err != nil {
		return nil, 0, err
	}
	if total <= 0 {
		return nil, 0, ErrAmountNotConfigured
	}

	r.Notes = strings.TrimSpace(r.Notes)
	return medicines, total, nil
}

func (r *IssueRequest) total() (Money, error) {
	sum, ok := addMoney(r.ConsultationFee, r.MedicineCharges, r.AdditionalCharges)
	if !ok {
		return 0, fmt.Errorf("%w: charges out of range", ErrInvalidInput)
	}
	return sum, nil
}

// IssuePrescription records the outcome of a visit and completes the
// appointment. Both writes commit together or not at all.
func (s *Service) IssuePrescription(ctx context.Context, doctorID uuid.UUID, req IssueRequest) (*Prescription, error) {
	if req.AppointmentID == uuid.Nil {
		return nil, fmt.Errorf("%w: appointmentId is required", ErrInvalidInput)
	}

	var issued *Prescription
	var from Status
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		appt, err := s.repo.LockAppointment(ctx, req.AppointmentID)
		if err != nil {
			return err
		}
		if appt.DoctorID != doctorID {
			return ErrAppointmentNotFound
		}

		if appt.Status == StatusCompleted {
			if _, err := s.repo.GetPrescriptionByAppointment(ctx, appt.ID); err == nil {
				return ErrAlreadyPrescribed
			}
		}
		if err := CheckTransition(appt.Status, StatusCompleted, ActorSystem); err != nil {
			return fmt.Errorf("%w: appointment is %s", ErrInvalidState, appt.Status)
		}
		from = appt.Status

		// the payload is only judged once the appointment can take it
		medicines, total, err := req.validate()
		if err != nil {
			return err
		}

		p := &Prescription{
			AppointmentID:     appt.ID,
			PatientID:         appt.PatientID,
			DoctorID:          appt.DoctorID,
			Diagnosis:         req.Diagnosis,
			Notes:             req.Notes,
			Medicines:         medicines,
			ConsultationFee:   req.ConsultationFee,
			MedicineCharges:   req.MedicineCharges,
			AdditionalCharges: req.AdditionalCharges,
			TotalAmount:       total,
			Status:            PrescriptionPending,
		}
		if err := s.repo.CreatePrescription(ctx, p); err != nil {
			if errors.Is(err, ErrAlreadyPrescribed) {
				return err
			}
			return fmt.Errorf("create prescription: %w", err)
		}

		if _, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCompleted); err != nil {
			return fmt.Errorf("complete appointment: %w", err)
		}

		issued = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, &issued.AppointmentID, audit.EventPrescriptionIssued, map[string]any{
		"prescription_id": issued.ID.String(),
		"total_amount":    issued.TotalAmount.String(),
		"medicines":       len(issued.Medicines),
		"from":            string(from),
	})
	s.logger.Info("prescription issued",
		zap.Stringer("prescription_id", issued.ID),
		zap.Stringer("appointment_id", issued.AppointmentID),
		zap.Stringer("total", issued.TotalAmount),
	)

	return issued, nil
}

// GetPrescription returns a prescription visible to the caller.
func (s *Service) GetPrescription(ctx context.Context, caller Caller, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetPrescriptionByID(ctx, id)
	if err != nil {
		return nil, s.wrapLoad("get prescription", err)
	}
	if !canSee(caller, p.PatientID, p.DoctorID) {
		return nil, ErrPrescriptionNotFound
	}
	return p, nil
}
