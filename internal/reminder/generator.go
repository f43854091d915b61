// Package reminder schedules follow-up medicine reminders for a settled
// prescription.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/telehealth-booking/internal/db"
)

// FirstReminderDelay is how long after settlement the first reminder fires.
const FirstReminderDelay = time.Hour

type Medicine struct {
	Name      string
	Dosage    string
	Frequency string
	Duration  string
}

type Request struct {
	PrescriptionID uuid.UUID
	PatientID      uuid.UUID
	Medicines      []Medicine
	SettledAt      time.Time
}

type Reminder struct {
	ID             uuid.UUID
	PrescriptionID uuid.UUID
	PatientID      uuid.UUID
	Medicine       Medicine
	RemindAt       time.Time
}

// Plan builds one reminder per named medicine. It does not persist anything.
func Plan(req Request) []Reminder {
	remindAt := req.SettledAt.Add(FirstReminderDelay)

	out := make([]Reminder, 0, len(req.Medicines))
	for _, m := range req.Medicines {
		if strings.TrimSpace(m.Name) == "" {
			continue
		}
		out = append(out, Reminder{
			ID:             uuid.New(),
			PrescriptionID: req.PrescriptionID,
			PatientID:      req.PatientID,
			Medicine:       m,
			RemindAt:       remindAt,
		})
	}
	return out
}

// PgGenerator writes reminders through the caller's transaction when one is
// on the context. The inserts run under a savepoint so a failure here can be
// reported without poisoning the surrounding transaction.
type PgGenerator struct {
	pool *pgxpool.Pool
}

func NewPgGenerator(pool *pgxpool.Pool) *PgGenerator {
	return &PgGenerator{pool: pool}
}

func (g *PgGenerator) Generate(ctx context.Context, req Request) (int, error) {
	reminders := Plan(req)
	if len(reminders) == 0 {
		return 0, nil
	}

	if tx, ok := db.TxFromContext(ctx); ok {
		sp, err := tx.Begin(ctx)
		if err != nil {
			return 0, fmt.Errorf("open reminder savepoint: %w", err)
		}
		if err := insertReminders(ctx, sp, reminders); err != nil {
			_ = sp.Rollback(ctx)
			return 0, err
		}
		if err := sp.Commit(ctx); err != nil {
			return 0, fmt.Errorf("release reminder savepoint: %w", err)
		}
		return len(reminders), nil
	}

	err := pgx.BeginFunc(ctx, g.pool, func(tx pgx.Tx) error {
		return insertReminders(ctx, tx, reminders)
	})
	if err != nil {
		return 0, err
	}
	return len(reminders), nil
}

func insertReminders(ctx context.Context, q db.Querier, reminders []Reminder) error {
	for _, r := range reminders {
		_, err := q.Exec(ctx, `
			INSERT INTO reminders (id, prescription_id, patient_id, medicine_name, dosage, frequency, duration, remind_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, r.ID, r.PrescriptionID, r.PatientID, r.Medicine.Name, r.Medicine.Dosage, r.Medicine.Frequency, r.Medicine.Duration, r.RemindAt)
		if err != nil {
			return fmt.Errorf("insert reminder for %q: %w", r.Medicine.Name, err)
		}
	}
	return nil
}
