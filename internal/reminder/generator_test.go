package reminder

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanOnePerNamedMedicine(t *testing.T) {
	settled := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	req := Request{
		PrescriptionID: uuid.New(),
		PatientID:      uuid.New(),
		SettledAt:      settled,
		Medicines: []Medicine{
			{Name: "Paracetamol", Dosage: "500mg", Frequency: "TID", Duration: "5 days"},
			{Name: "  "},
			{Name: "ORS", Dosage: "1 sachet", Frequency: "BD", Duration: "3 days"},
		},
	}

	got := Plan(req)

	require.Len(t, got, 2)
	assert.Equal(t, "Paracetamol", got[0].Medicine.Name)
	assert.Equal(t, "ORS", got[1].Medicine.Name)
	for _, r := range got {
		assert.Equal(t, req.PrescriptionID, r.PrescriptionID)
		assert.Equal(t, req.PatientID, r.PatientID)
		assert.Equal(t, settled.Add(FirstReminderDelay), r.RemindAt)
		assert.NotEqual(t, uuid.Nil, r.ID)
	}
}

func TestPlanEmpty(t *testing.T) {
	assert.Empty(t, Plan(Request{}))
}
