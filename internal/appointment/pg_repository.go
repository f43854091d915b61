package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telehealth-booking/internal/availability"
	"github.com/hackgods/telehealth-booking/internal/db"
)

const (
	constraintActiveSlot       = "appointments_active_slot_uidx"
	constraintOnePrescription  = "prescriptions_appointment_uidx"
	constraintGatewayPaymentID = "payments_gateway_payment_id_uidx"
	constraintOneSuccess       = "payments_success_per_prescription_uidx"
	constraintOnePending       = "payments_pending_per_patient_uidx"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

// Helpers

const doctorColumns = `id, name, specialty, accepting_appointments, status_note, leave_ranges, blocked_slots,
	consultation_fee_minor, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var leave, blocked []byte

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.Availability.AcceptingAppointments,
		&d.Availability.StatusNote,
		&leave,
		&blocked,
		&d.ConsultationFee,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(leave, &d.Availability.LeaveRanges); err != nil {
		return nil, fmt.Errorf("decode leave ranges: %w", err)
	}
	if err := json.Unmarshal(blocked, &d.Availability.BlockedSlots); err != nil {
		return nil, fmt.Errorf("decode blocked slots: %w", err)
	}

	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

const appointmentColumns = `id, patient_id, doctor_id, clinic_id, to_char(appointment_date, 'YYYY-MM-DD'),
	appointment_time, status, reason, ai_triage, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var triage []byte

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ClinicID,
		&a.Date,
		&a.Time,
		&a.Status,
		&a.Reason,
		&triage,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if len(triage) > 0 {
		a.AITriage = json.RawMessage(triage)
	}
	return &a, nil
}

const prescriptionColumns = `id, appointment_id, patient_id, doctor_id, diagnosis, notes,
	consultation_fee_minor, medicine_charges_minor, additional_charges_minor, total_amount_minor,
	status, paid_at, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription

	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.PatientID,
		&p.DoctorID,
		&p.Diagnosis,
		&p.Notes,
		&p.ConsultationFee,
		&p.MedicineCharges,
		&p.AdditionalCharges,
		&p.TotalAmount,
		&p.Status,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}

	return &p, nil
}

const paymentColumns = `id, prescription_id, patient_id, doctor_id, appointment_id, amount_minor, currency,
	status, method, gateway_payment_id, override_reason, failure_reason, verified_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p             Payment
		failureReason *string
	)

	err := row.Scan(
		&p.ID,
		&p.PrescriptionID,
		&p.PatientID,
		&p.DoctorID,
		&p.AppointmentID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.Method,
		&p.GatewayPaymentID,
		&p.OverrideReason,
		&failureReason,
		&p.VerifiedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if failureReason != nil {
		p.FailureReason = FailureReason(*failureReason)
	}

	return &p, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// Doctors and patients

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, id)
	return scanDoctor(row)
}

func (r *PgRepository) UpdateDoctorAvailability(ctx context.Context, id uuid.UUID, cfg availability.Config) (*Doctor, error) {
	leave, err := json.Marshal(cfg.LeaveRanges)
	if err != nil {
		return nil, fmt.Errorf("encode leave ranges: %w", err)
	}
	blocked, err := json.Marshal(cfg.BlockedSlots)
	if err != nil {
		return nil, fmt.Errorf("encode blocked slots: %w", err)
	}

	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctors
		SET accepting_appointments = $2,
		    status_note = $3,
		    leave_ranges = $4,
		    blocked_slots = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+doctorColumns,
		id, cfg.AcceptingAppointments, cfg.StatusNote, leave, blocked)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

// Appointments

func (r *PgRepository) GetActiveAppointmentForSlot(ctx context.Context, doctorID uuid.UUID, date, slot string) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2::date
		  AND appointment_time = $3
		  AND status NOT IN ('rejected', 'cancelled')
		LIMIT 1
	`, doctorID, date, slot)
	return scanAppointment(row)
}

func (r *PgRepository) ListActiveAppointmentsForDate(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2::date
		  AND status NOT IN ('rejected', 'cancelled')
		ORDER BY appointment_time
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.DoctorID != nil {
		args = append(args, *filter.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY appointment_date DESC, appointment_time DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, clinic_id, appointment_date, appointment_time,
			status, reason, ai_triage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8, $9, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.ClinicID, a.Date, a.Time, a.Status, a.Reason, nullableJSON(a.AITriage))

	created, err := scanAppointment(row)
	if err != nil {
		if name, ok := db.UniqueViolation(err); ok && name == constraintActiveSlot {
			return ErrSlotConflict
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	*a = *created
	return nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from)

	return scanAppointment(row)
}

// Prescriptions

func (r *PgRepository) CreatePrescription(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	q := r.conn(ctx)
	row := q.QueryRow(ctx, `
		INSERT INTO prescriptions (id, appointment_id, patient_id, doctor_id, diagnosis, notes,
			consultation_fee_minor, medicine_charges_minor, additional_charges_minor, total_amount_minor,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		RETURNING `+prescriptionColumns,
		p.ID, p.AppointmentID, p.PatientID, p.DoctorID, p.Diagnosis, p.Notes,
		p.ConsultationFee, p.MedicineCharges, p.AdditionalCharges, p.TotalAmount, p.Status)

	created, err := scanPrescription(row)
	if err != nil {
		if name, ok := db.UniqueViolation(err); ok && name == constraintOnePrescription {
			return ErrAlreadyPrescribed
		}
		return fmt.Errorf("insert prescription: %w", err)
	}

	for i, m := range p.Medicines {
		_, err := q.Exec(ctx, `
			INSERT INTO prescription_medicines (prescription_id, position, name, dosage, frequency, duration)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, created.ID, i, m.Name, m.Dosage, m.Frequency, m.Duration)
		if err != nil {
			return fmt.Errorf("insert prescription medicine %d: %w", i, err)
		}
	}

	created.Medicines = p.Medicines
	*p = *created
	return nil
}

func (r *PgRepository) GetPrescriptionByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = $1`, id)
	return r.withMedicines(ctx, row)
}

func (r *PgRepository) GetPrescriptionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Prescription, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE appointment_id = $1`, appointmentID)
	return r.withMedicines(ctx, row)
}

func (r *PgRepository) LockPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = $1 FOR UPDATE`, id)
	return r.withMedicines(ctx, row)
}

func (r *PgRepository) MarkPrescriptionPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (*Prescription, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE prescriptions
		SET status = 'paid',
		    paid_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+prescriptionColumns,
		id, paidAt)

	p, err := r.withMedicines(ctx, row)
	if errors.Is(err, ErrPrescriptionNotFound) {
		return nil, ErrAlreadyPaid
	}
	return p, err
}

func (r *PgRepository) withMedicines(ctx context.Context, row pgx.Row) (*Prescription, error) {
	p, err := scanPrescription(row)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT name, dosage, frequency, duration
		FROM prescription_medicines
		WHERE prescription_id = $1
		ORDER BY position
	`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load medicines: %w", err)
	}
	defer rows.Close()

	p.Medicines = []Medicine{}
	for rows.Next() {
		var m Medicine
		if err := rows.Scan(&m.Name, &m.Dosage, &m.Frequency, &m.Duration); err != nil {
			return nil, fmt.Errorf("scan medicine: %w", err)
		}
		p.Medicines = append(p.Medicines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return p, nil
}

// Payments

func paymentConstraintError(err error) error {
	name, ok := db.UniqueViolation(err)
	if !ok {
		return nil
	}
	switch name {
	case constraintGatewayPaymentID:
		return ErrDuplicateGatewayRef
	case constraintOneSuccess:
		return ErrAlreadyPaid
	case constraintOnePending:
		return ErrPendingPaymentExists
	}
	return nil
}

func (r *PgRepository) CreatePayment(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, prescription_id, patient_id, doctor_id, appointment_id, amount_minor, currency,
			status, method, gateway_payment_id, override_reason, verified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING `+paymentColumns,
		p.ID, p.PrescriptionID, p.PatientID, p.DoctorID, p.AppointmentID, p.Amount, p.Currency,
		p.Status, p.Method, p.GatewayPaymentID, p.OverrideReason, p.VerifiedAt)

	created, err := scanPayment(row)
	if err != nil {
		if domainErr := paymentConstraintError(err); domainErr != nil {
			return domainErr
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	*p = *created
	return nil
}

func (r *PgRepository) GetPaymentByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (r *PgRepository) LockPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
	return scanPayment(row)
}

func (r *PgRepository) FindPendingPayment(ctx context.Context, prescriptionID, patientID uuid.UUID) (*Payment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE prescription_id = $1
		  AND patient_id = $2
		  AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`, prescriptionID, patientID)
	return scanPayment(row)
}

func (r *PgRepository) MarkPaymentFailed(ctx context.Context, id uuid.UUID, reason FailureReason) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments
		SET status = 'failed',
		    failure_reason = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
	`, id, string(reason))
	if err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	return nil
}

func (r *PgRepository) MarkPaymentSucceeded(ctx context.Context, id uuid.UUID, gatewayPaymentID string, verifiedAt time.Time) (*Payment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE payments
		SET status = 'success',
		    gateway_payment_id = $2,
		    verified_at = $3,
		    failure_reason = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND (status = 'pending' OR (status = 'failed' AND failure_reason = 'expired'))
		RETURNING `+paymentColumns,
		id, gatewayPaymentID, verifiedAt)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, ErrPaymentNotPending
		}
		if domainErr := paymentConstraintError(err); domainErr != nil {
			return nil, domainErr
		}
		return nil, fmt.Errorf("mark payment succeeded: %w", err)
	}
	return p, nil
}

func (r *PgRepository) FailPendingPayments(ctx context.Context, prescriptionID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments
		SET status = 'failed',
		    failure_reason = 'superseded',
		    updated_at = now()
		WHERE prescription_id = $1
		  AND status = 'pending'
	`, prescriptionID)
	if err != nil {
		return 0, fmt.Errorf("fail pending payments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) FailStalePayments(ctx context.Context, createdBefore time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments
		SET status = 'failed',
		    failure_reason = 'expired',
		    updated_at = now()
		WHERE status = 'pending'
		  AND created_at < $1
	`, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("fail stale payments: %w", err)
	}
	return tag.RowsAffected(), nil
}
