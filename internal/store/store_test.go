package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/dispatch/internal/models"
)

var emergencyCols = []string{"id", "type", "description", "zone_id", "latitude", "longitude", "status",
	"assigned_hospital_id", "assigned_vehicle_id", "created_at", "updated_at"}

func emergencyRow(status string, hospital, vehicle driver.Value) *sqlmock.Rows {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(emergencyCols).
		AddRow(int64(5), "trauma", "car crash", int64(1), nil, nil, status, hospital, vehicle, now, now)
}

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func TestPGCreateEmergency(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO emergencies").
		WithArgs("trauma", "car crash", int64(1), nil, nil, "active").
		WillReturnRows(emergencyRow("active", nil, nil))

	em, err := st.CreateEmergency(context.Background(), EmergencyInput{Type: "trauma", Description: "car crash", ZoneID: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 5, em.ID)
	assert.Equal(t, models.EmergencyActive, em.Status)
	assert.Nil(t, em.AssignedHospitalID)
	assert.Nil(t, em.Latitude)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCreateEmergencyUnknownZone(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO emergencies").
		WillReturnError(&pq.Error{Code: "23503", Constraint: "emergencies_zone_id_fkey"})

	_, err := st.CreateEmergency(context.Background(), EmergencyInput{Type: "fire", ZoneID: 99})
	assert.ErrorIs(t, err, ErrUnknownReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGGetEmergencyNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("FROM emergencies WHERE id").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(emergencyCols))

	_, err := st.GetEmergency(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGApplyAssignmentDispatchesVehicle(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM emergencies").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectExec("UPDATE vehicles SET state").
		WithArgs(int64(3), "en_route").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE emergencies").
		WithArgs(int64(5), int64(10), int64(3), "assigned").
		WillReturnRows(emergencyRow("assigned", int64(10), int64(3)))
	mock.ExpectCommit()

	em, err := st.ApplyAssignment(context.Background(), AssignmentInput{
		EmergencyID: 5,
		HospitalID:  models.ID(10).Ptr(),
		VehicleID:   models.ID(3).Ptr(),
		Status:      models.EmergencyAssigned,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyAssigned, em.Status)
	require.NotNil(t, em.AssignedHospitalID)
	require.NotNil(t, em.AssignedVehicleID)
	assert.EqualValues(t, 10, *em.AssignedHospitalID)
	assert.EqualValues(t, 3, *em.AssignedVehicleID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGApplyAssignmentHospitalOnly(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM emergencies").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectQuery("UPDATE emergencies").
		WithArgs(int64(5), int64(10), nil, "assigned").
		WillReturnRows(emergencyRow("assigned", int64(10), nil))
	mock.ExpectCommit()

	em, err := st.ApplyAssignment(context.Background(), AssignmentInput{
		EmergencyID: 5,
		HospitalID:  models.ID(10).Ptr(),
		Status:      models.EmergencyAssigned,
	})
	require.NoError(t, err)
	assert.Nil(t, em.AssignedVehicleID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGApplyAssignmentUnknownVehicleRollsBack(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM emergencies").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectExec("UPDATE vehicles SET state").
		WithArgs(int64(77), "en_route").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := st.ApplyAssignment(context.Background(), AssignmentInput{
		EmergencyID: 5,
		VehicleID:   models.ID(77).Ptr(),
		Status:      models.EmergencyAssigned,
	})
	assert.ErrorIs(t, err, ErrUnknownReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGApplyAssignmentMissingEmergency(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM emergencies").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	_, err := st.ApplyAssignment(context.Background(), AssignmentInput{EmergencyID: 5, HospitalID: models.ID(1).Ptr()})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGApplyAssignmentRejectsResolvedEmergency(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM emergencies").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("resolved"))
	mock.ExpectRollback()

	_, err := st.ApplyAssignment(context.Background(), AssignmentInput{
		EmergencyID: 5,
		VehicleID:   models.ID(3).Ptr(),
		Status:      models.EmergencyAssigned,
	})
	assert.ErrorIs(t, err, ErrNotActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGResolveEmergencyReleasesVehicle(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE emergencies SET status").
		WithArgs(int64(5), "resolved").
		WillReturnRows(emergencyRow("resolved", int64(10), int64(3)))
	mock.ExpectExec("UPDATE vehicles SET state").
		WithArgs(int64(3), "available", "en_route").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	em, err := st.ResolveEmergency(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyResolved, em.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGListHospitalsAttachesDoctors(t *testing.T) {
	st, mock := newMockStore(t)
	hospitalCols := []string{"id", "name", "zone_id", "capacity_total", "occupancy_current", "has_antivenom",
		"has_trauma_unit", "has_cardiology", "has_pediatrics", "has_burn_unit", "latitude", "longitude"}
	mock.ExpectQuery("FROM hospitals ORDER BY id").
		WillReturnRows(sqlmock.NewRows(hospitalCols).
			AddRow(int64(1), "Hospital Padilla", int64(1), 100, 60, true, true, true, false, true, -26.835, -65.205).
			AddRow(int64(2), "Hospital Avellaneda", int64(2), 60, 30, false, false, true, true, false, -26.805, -65.215))
	mock.ExpectQuery("FROM doctors WHERE hospital_id = ANY").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "hospital_id", "name", "specialty", "available"}).
			AddRow(int64(11), int64(1), "Dr. Perez", "traumatology", true).
			AddRow(int64(12), int64(1), "Dr. Diaz", "cardiology", false))

	hospitals, err := st.ListHospitals(context.Background())
	require.NoError(t, err)
	require.Len(t, hospitals, 2)
	assert.Len(t, hospitals[0].Doctors, 2)
	assert.NotNil(t, hospitals[1].Doctors)
	assert.Empty(t, hospitals[1].Doctors)
	assert.True(t, hospitals[0].HasTraumaUnit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGListAvailableVehiclesFiltersByState(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("FROM vehicles WHERE state").
		WithArgs("available").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "type", "zone_id", "state", "latitude", "longitude"}).
			AddRow(int64(1), "Movil-101", "ambulance", int64(1), "available", -26.831, -65.201))

	vehicles, err := st.ListAvailableVehicles(context.Background())
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, models.VehicleAvailable, vehicles[0].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAppendActivitiesInOneTransaction(t *testing.T) {
	st, mock := newMockStore(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "agent", "kind", "description", "created_at"}
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO activities").
		WithArgs("HospitalAgent", "proposal", "a", ts).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(1), "HospitalAgent", "proposal", "a", ts))
	mock.ExpectQuery("INSERT INTO activities").
		WithArgs("VehicleAgent", "proposal", "b", ts).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(2), "VehicleAgent", "proposal", "b", ts))
	mock.ExpectCommit()

	out, err := st.AppendActivities(context.Background(), []ActivityInput{
		{Agent: "HospitalAgent", Kind: "proposal", Description: "a", Timestamp: ts},
		{Agent: "VehicleAgent", Kind: "proposal", Description: "b", Timestamp: ts},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.EqualValues(t, 2, out[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGListRecentActivitiesDefaultsLimit(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("FROM activities ORDER BY created_at DESC").
		WithArgs(int64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "agent", "kind", "description", "created_at"}))

	out, err := st.ListRecentActivities(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGIsEmpty(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	empty, err := st.IsEmpty(context.Background())
	require.NoError(t, err)
	assert.True(t, empty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGMigrate(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS zones").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, st.Migrate(context.Background()))

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	assert.Error(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
