package applier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/dispatch/internal/models"
	"github.com/ILLUVRSE/dispatch/internal/store"
)

type recordingWriter struct {
	calls []store.AssignmentInput
	err   error
}

func (w *recordingWriter) ApplyAssignment(ctx context.Context, in store.AssignmentInput) (models.Emergency, error) {
	w.calls = append(w.calls, in)
	if w.err != nil {
		return models.Emergency{}, w.err
	}
	em := models.Emergency{ID: in.EmergencyID, Status: in.Status}
	if in.HospitalID != nil {
		em.AssignedHospitalID = in.HospitalID.Ptr()
	}
	if in.VehicleID != nil {
		em.AssignedVehicleID = in.VehicleID.Ptr()
	}
	return em, nil
}

func TestPlan(t *testing.T) {
	em := models.Emergency{ID: 7, Status: models.EmergencyActive}

	cases := []struct {
		name     string
		decision models.Decision
		ok       bool
		hospital *models.ID
		vehicle  *models.ID
	}{
		{name: "both", decision: models.Decision{HospitalID: models.ID(1).Ptr(), VehicleID: models.ID(2).Ptr()}, ok: true, hospital: models.ID(1).Ptr(), vehicle: models.ID(2).Ptr()},
		{name: "hospital only", decision: models.Decision{HospitalID: models.ID(1).Ptr()}, ok: true, hospital: models.ID(1).Ptr()},
		{name: "vehicle only", decision: models.Decision{VehicleID: models.ID(2).Ptr()}, ok: true, vehicle: models.ID(2).Ptr()},
		{name: "empty", decision: models.Decision{}, ok: false},
		{name: "zero ids", decision: models.Decision{HospitalID: models.ID(0).Ptr(), VehicleID: models.ID(0).Ptr()}, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, ok := Plan(em, tc.decision)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.hospital, in.HospitalID)
			assert.Equal(t, tc.vehicle, in.VehicleID)
			if ok {
				assert.Equal(t, models.EmergencyAssigned, in.Status)
			} else {
				assert.Equal(t, models.EmergencyActive, in.Status)
			}
		})
	}
}

func TestApplyWritesAssignment(t *testing.T) {
	w := &recordingWriter{}
	a := New(w, nil)
	em := models.Emergency{ID: 7, Status: models.EmergencyActive}

	got, err := a.Apply(context.Background(), em, models.Decision{HospitalID: models.ID(1).Ptr(), VehicleID: models.ID(2).Ptr()})
	require.NoError(t, err)
	require.Len(t, w.calls, 1)
	assert.Equal(t, models.EmergencyAssigned, got.Status)
	assert.EqualValues(t, 2, *got.AssignedVehicleID)
}

func TestApplyEmptyDecisionSkipsWriter(t *testing.T) {
	w := &recordingWriter{}
	a := New(w, nil)
	em := models.Emergency{ID: 7, Status: models.EmergencyActive}

	got, err := a.Apply(context.Background(), em, models.Decision{Justification: "nothing fits"})
	require.NoError(t, err)
	assert.Empty(t, w.calls)
	assert.Equal(t, em, got)
}

func TestApplyReturnsOriginalOnError(t *testing.T) {
	w := &recordingWriter{err: store.ErrUnknownReference}
	a := New(w, nil)
	em := models.Emergency{ID: 7, Status: models.EmergencyActive}

	got, err := a.Apply(context.Background(), em, models.Decision{VehicleID: models.ID(99).Ptr()})
	assert.True(t, errors.Is(err, store.ErrUnknownReference))
	assert.Equal(t, em, got)
}

func TestSanitize(t *testing.T) {
	hospitals := []models.HospitalCandidate{{ID: 1}, {ID: 2}}
	vehicles := []models.VehicleCandidate{{ID: 5}}

	clean, dropped := Sanitize(models.Decision{HospitalID: models.ID(2).Ptr(), VehicleID: models.ID(5).Ptr()}, hospitals, vehicles)
	assert.Empty(t, dropped)
	assert.EqualValues(t, 2, *clean.HospitalID)
	assert.EqualValues(t, 5, *clean.VehicleID)

	clean, dropped = Sanitize(models.Decision{HospitalID: models.ID(9).Ptr(), VehicleID: models.ID(5).Ptr(), Justification: "x"}, hospitals, vehicles)
	assert.Equal(t, []string{"hospital_id=9"}, dropped)
	assert.Nil(t, clean.HospitalID)
	assert.EqualValues(t, 5, *clean.VehicleID)
	assert.Equal(t, "x", clean.Justification)

	clean, dropped = Sanitize(models.Decision{VehicleID: models.ID(6).Ptr()}, hospitals, nil)
	assert.Equal(t, []string{"vehicle_id=6"}, dropped)
	assert.Nil(t, clean.VehicleID)
}
