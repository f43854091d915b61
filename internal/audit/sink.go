// Package audit records domain events. Recording is fire-and-forget: a
// failed write is logged and never reaches the caller.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentStatus    = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventPrescriptionIssued   = "PRESCRIPTION_ISSUED"
	EventPaymentInitiated     = "PAYMENT_INITIATED"
	EventPaymentFailed        = "PAYMENT_SIGNATURE_FAILED"
	EventPaymentSettled       = "PAYMENT_SETTLED"
	EventPaymentOverride      = "PAYMENT_MANUAL_OVERRIDE"
	EventPaymentsExpired      = "PAYMENTS_EXPIRED"
	EventAvailabilityUpdated  = "DOCTOR_AVAILABILITY_UPDATED"
)

type Event struct {
	Type          string
	AppointmentID *uuid.UUID
	Payload       map[string]any
	CreatedAt     time.Time
}

// Sink accepts events. Implementations must not block the caller on failure.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// PgSink appends events to the event_logs table using the pool directly so
// that it never joins, or aborts, a caller's transaction.
type PgSink struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPgSink(pool *pgxpool.Pool, logger *zap.Logger) *PgSink {
	return &PgSink{pool: pool, logger: logger}
}

func (s *PgSink) Record(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		s.logger.Warn("marshal audit payload", zap.String("event", ev.Type), zap.Error(err))
		data = nil
	}

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(context.WithoutCancel(ctx), `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, ev.Type, ev.AppointmentID, data, createdAt)
	if err != nil {
		fields := []zap.Field{zap.String("event", ev.Type), zap.Error(err)}
		if ev.AppointmentID != nil {
			fields = append(fields, zap.Stringer("appointment_id", ev.AppointmentID))
		}
		s.logger.Warn("failed to insert audit event", fields...)
	}
}

// LogSink writes events to the logger. The API tees it next to PgSink so
// audit events also reach the log pipeline.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, ev Event) {
	fields := []zap.Field{zap.String("event", ev.Type), zap.Any("payload", ev.Payload)}
	if ev.AppointmentID != nil {
		fields = append(fields, zap.Stringer("appointment_id", ev.AppointmentID))
	}
	s.logger.Info("audit", fields...)
}

type tee []Sink

// Tee fans each event out to every sink in order.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

func (t tee) Record(ctx context.Context, ev Event) {
	for _, s := range t {
		s.Record(ctx, ev)
	}
}
