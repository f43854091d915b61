package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSinkRecordsEvent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	id := uuid.New()

	NewLogSink(zap.New(core)).Record(context.Background(), Event{
		Type:          EventAppointmentCreated,
		AppointmentID: &id,
		Payload:       map[string]any{"slot": "09:00"},
	})

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, EventAppointmentCreated, fields["event"])
	assert.Equal(t, id.String(), fields["appointment_id"])
}

func TestTeeFansOutInOrder(t *testing.T) {
	var got []string
	record := func(name string) Sink {
		return sinkFunc(func(_ context.Context, ev Event) { got = append(got, name+":"+ev.Type) })
	}

	Tee(record("a"), record("b")).Record(context.Background(), Event{Type: EventPaymentSettled})

	assert.Equal(t, []string{"a:" + EventPaymentSettled, "b:" + EventPaymentSettled}, got)
}

type sinkFunc func(context.Context, Event)

func (f sinkFunc) Record(ctx context.Context, ev Event) { f(ctx, ev) }
