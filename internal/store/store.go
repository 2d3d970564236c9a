package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ILLUVRSE/dispatch/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrUnknownReference is returned when a write names a zone, hospital or
	// vehicle that does not exist.
	ErrUnknownReference = errors.New("unknown reference")
	// ErrNotActive is returned when an assignment targets an emergency that
	// is no longer active.
	ErrNotActive = errors.New("emergency is not active")
)

const defaultActivityLimit = 30

type Store interface {
	CreateEmergency(ctx context.Context, in EmergencyInput) (models.Emergency, error)
	GetEmergency(ctx context.Context, id models.ID) (models.Emergency, error)
	ListOpenEmergencies(ctx context.Context) ([]models.Emergency, error)
	ApplyAssignment(ctx context.Context, in AssignmentInput) (models.Emergency, error)
	ResolveEmergency(ctx context.Context, id models.ID) (models.Emergency, error)
	ListHospitals(ctx context.Context) ([]models.Hospital, error)
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	ListAvailableVehicles(ctx context.Context) ([]models.Vehicle, error)
	GetZone(ctx context.Context, id models.ID) (models.Zone, error)
	ListZones(ctx context.Context) ([]models.Zone, error)
	AppendActivity(ctx context.Context, in ActivityInput) (models.Activity, error)
	AppendActivities(ctx context.Context, in []ActivityInput) ([]models.Activity, error)
	ListRecentActivities(ctx context.Context, limit int) ([]models.Activity, error)
	Seed(ctx context.Context, data SeedData) error
	IsEmpty(ctx context.Context) (bool, error)
	Ping(ctx context.Context) error
}

type EmergencyInput struct {
	Type        string
	Description string
	ZoneID      models.ID
	Latitude    *float64
	Longitude   *float64
}

// AssignmentInput is one committed decision. Nil ids leave the current
// assignment untouched; a vehicle id also moves that vehicle to en_route.
type AssignmentInput struct {
	EmergencyID models.ID
	HospitalID  *models.ID
	VehicleID   *models.ID
	Status      models.EmergencyStatus
}

type ActivityInput struct {
	Agent       string
	Kind        string
	Description string
	Timestamp   time.Time
}

// SeedData is reference data inserted with explicit ids.
type SeedData struct {
	Zones     []models.Zone
	Hospitals []models.Hospital
	Vehicles  []models.Vehicle
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return defaultActivityLimit
	}
	return limit
}

func nullID(id *models.ID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// wrapWriteErr maps foreign key violations to ErrUnknownReference.
func wrapWriteErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return fmt.Errorf("%s: %w: %s", op, ErrUnknownReference, pqErr.Constraint)
	}
	return fmt.Errorf("%s: %w", op, err)
}

const emergencyColumns = `id, type, description, zone_id, latitude, longitude, status, assigned_hospital_id, assigned_vehicle_id, created_at, updated_at`

func scanEmergency(row rowScanner) (models.Emergency, error) {
	var (
		em       models.Emergency
		lat, lon sql.NullFloat64
		hospital sql.NullInt64
		vehicle  sql.NullInt64
		status   string
	)
	if err := row.Scan(
		&em.ID,
		&em.Type,
		&em.Description,
		&em.ZoneID,
		&lat,
		&lon,
		&status,
		&hospital,
		&vehicle,
		&em.CreatedAt,
		&em.UpdatedAt,
	); err != nil {
		return models.Emergency{}, err
	}
	em.Status = models.EmergencyStatus(status)
	if lat.Valid {
		v := lat.Float64
		em.Latitude = &v
	}
	if lon.Valid {
		v := lon.Float64
		em.Longitude = &v
	}
	if hospital.Valid {
		em.AssignedHospitalID = models.ID(hospital.Int64).Ptr()
	}
	if vehicle.Valid {
		em.AssignedVehicleID = models.ID(vehicle.Int64).Ptr()
	}
	return em, nil
}

func scanVehicle(row rowScanner) (models.Vehicle, error) {
	var (
		v     models.Vehicle
		state string
	)
	if err := row.Scan(&v.ID, &v.Name, &v.Type, &v.ZoneID, &state, &v.Latitude, &v.Longitude); err != nil {
		return models.Vehicle{}, err
	}
	v.State = models.VehicleState(state)
	return v, nil
}

func scanActivity(row rowScanner) (models.Activity, error) {
	var a models.Activity
	if err := row.Scan(&a.ID, &a.Agent, &a.Kind, &a.Description, &a.Timestamp); err != nil {
		return models.Activity{}, err
	}
	return a, nil
}

func (s *PGStore) CreateEmergency(ctx context.Context, in EmergencyInput) (models.Emergency, error) {
	query := `
		INSERT INTO emergencies (type, description, zone_id, latitude, longitude, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING ` + emergencyColumns
	row := s.db.QueryRowContext(ctx, query, in.Type, in.Description, in.ZoneID, nullFloat(in.Latitude), nullFloat(in.Longitude), string(models.EmergencyActive))
	em, err := scanEmergency(row)
	if err != nil {
		return models.Emergency{}, wrapWriteErr("insert emergency", err)
	}
	return em, nil
}

func (s *PGStore) GetEmergency(ctx context.Context, id models.ID) (models.Emergency, error) {
	query := `SELECT ` + emergencyColumns + ` FROM emergencies WHERE id=$1`
	em, err := scanEmergency(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Emergency{}, ErrNotFound
		}
		return models.Emergency{}, fmt.Errorf("get emergency: %w", err)
	}
	return em, nil
}

func (s *PGStore) ListOpenEmergencies(ctx context.Context) ([]models.Emergency, error) {
	query := `SELECT ` + emergencyColumns + ` FROM emergencies WHERE status <> $1 ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, string(models.EmergencyResolved))
	if err != nil {
		return nil, fmt.Errorf("list emergencies: %w", err)
	}
	defer rows.Close()
	out := []models.Emergency{}
	for rows.Next() {
		em, err := scanEmergency(rows)
		if err != nil {
			return nil, fmt.Errorf("scan emergency: %w", err)
		}
		out = append(out, em)
	}
	return out, rows.Err()
}

func (s *PGStore) ApplyAssignment(ctx context.Context, in AssignmentInput) (models.Emergency, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Emergency{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM emergencies WHERE id=$1 FOR UPDATE`, in.EmergencyID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Emergency{}, ErrNotFound
		}
		return models.Emergency{}, fmt.Errorf("lock emergency: %w", err)
	}
	if current != string(models.EmergencyActive) {
		return models.Emergency{}, fmt.Errorf("emergency %s is %s: %w", in.EmergencyID, current, ErrNotActive)
	}

	if in.VehicleID != nil {
		res, err := tx.ExecContext(ctx, `UPDATE vehicles SET state=$2 WHERE id=$1`, *in.VehicleID, string(models.VehicleEnRoute))
		if err != nil {
			return models.Emergency{}, fmt.Errorf("dispatch vehicle: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.Emergency{}, fmt.Errorf("vehicle %s: %w", *in.VehicleID, ErrUnknownReference)
		}
	}

	query := `
		UPDATE emergencies
		SET assigned_hospital_id = COALESCE($2, assigned_hospital_id),
			assigned_vehicle_id = COALESCE($3, assigned_vehicle_id),
			status = $4,
			updated_at = NOW()
		WHERE id=$1
		RETURNING ` + emergencyColumns
	em, err := scanEmergency(tx.QueryRowContext(ctx, query, in.EmergencyID, nullID(in.HospitalID), nullID(in.VehicleID), string(in.Status)))
	if err != nil {
		return models.Emergency{}, wrapWriteErr("update emergency", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Emergency{}, fmt.Errorf("commit assignment: %w", err)
	}
	return em, nil
}

func (s *PGStore) ResolveEmergency(ctx context.Context, id models.ID) (models.Emergency, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Emergency{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE emergencies SET status=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING ` + emergencyColumns
	em, err := scanEmergency(tx.QueryRowContext(ctx, query, id, string(models.EmergencyResolved)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Emergency{}, ErrNotFound
		}
		return models.Emergency{}, fmt.Errorf("resolve emergency: %w", err)
	}
	if em.AssignedVehicleID != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE vehicles SET state=$2 WHERE id=$1 AND state=$3`,
			*em.AssignedVehicleID, string(models.VehicleAvailable), string(models.VehicleEnRoute)); err != nil {
			return models.Emergency{}, fmt.Errorf("release vehicle: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Emergency{}, fmt.Errorf("commit resolve: %w", err)
	}
	return em, nil
}

func (s *PGStore) ListHospitals(ctx context.Context) ([]models.Hospital, error) {
	const query = `
		SELECT id, name, zone_id, capacity_total, occupancy_current, has_antivenom, has_trauma_unit,
			has_cardiology, has_pediatrics, has_burn_unit, latitude, longitude
		FROM hospitals ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	defer rows.Close()
	hospitals := []models.Hospital{}
	index := map[models.ID]int{}
	ids := []int64{}
	for rows.Next() {
		var h models.Hospital
		if err := rows.Scan(&h.ID, &h.Name, &h.ZoneID, &h.CapacityTotal, &h.OccupancyCurrent, &h.HasAntivenom,
			&h.HasTraumaUnit, &h.HasCardiology, &h.HasPediatrics, &h.HasBurnUnit, &h.Latitude, &h.Longitude); err != nil {
			return nil, fmt.Errorf("scan hospital: %w", err)
		}
		h.Doctors = []models.Doctor{}
		index[h.ID] = len(hospitals)
		ids = append(ids, int64(h.ID))
		hospitals = append(hospitals, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return hospitals, nil
	}

	const doctorsQuery = `
		SELECT id, hospital_id, name, specialty, available
		FROM doctors WHERE hospital_id = ANY($1)
		ORDER BY hospital_id, id
	`
	docRows, err := s.db.QueryContext(ctx, doctorsQuery, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer docRows.Close()
	for docRows.Next() {
		var d models.Doctor
		if err := docRows.Scan(&d.ID, &d.HospitalID, &d.Name, &d.Specialty, &d.Available); err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		if i, ok := index[d.HospitalID]; ok {
			hospitals[i].Doctors = append(hospitals[i].Doctors, d)
		}
	}
	return hospitals, docRows.Err()
}

func (s *PGStore) listVehicles(ctx context.Context, state *models.VehicleState) ([]models.Vehicle, error) {
	query := `SELECT id, name, type, zone_id, state, latitude, longitude FROM vehicles`
	args := []interface{}{}
	if state != nil {
		query += ` WHERE state=$1`
		args = append(args, string(*state))
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()
	out := []models.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PGStore) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	return s.listVehicles(ctx, nil)
}

func (s *PGStore) ListAvailableVehicles(ctx context.Context) ([]models.Vehicle, error) {
	state := models.VehicleAvailable
	return s.listVehicles(ctx, &state)
}

func (s *PGStore) GetZone(ctx context.Context, id models.ID) (models.Zone, error) {
	var z models.Zone
	err := s.db.QueryRowContext(ctx, `SELECT id, name, latitude, longitude FROM zones WHERE id=$1`, id).
		Scan(&z.ID, &z.Name, &z.Latitude, &z.Longitude)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Zone{}, ErrNotFound
		}
		return models.Zone{}, fmt.Errorf("get zone: %w", err)
	}
	return z, nil
}

func (s *PGStore) ListZones(ctx context.Context) ([]models.Zone, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, latitude, longitude FROM zones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()
	out := []models.Zone{}
	for rows.Next() {
		var z models.Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.Latitude, &z.Longitude); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

const insertActivity = `
	INSERT INTO activities (agent, kind, description, created_at)
	VALUES ($1,$2,$3,$4)
	RETURNING id, agent, kind, description, created_at
`

func activityTime(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts.UTC()
}

func (s *PGStore) AppendActivity(ctx context.Context, in ActivityInput) (models.Activity, error) {
	a, err := scanActivity(s.db.QueryRowContext(ctx, insertActivity, in.Agent, in.Kind, in.Description, activityTime(in.Timestamp)))
	if err != nil {
		return models.Activity{}, fmt.Errorf("insert activity: %w", err)
	}
	return a, nil
}

// AppendActivities inserts all records in one transaction, in order.
func (s *PGStore) AppendActivities(ctx context.Context, in []ActivityInput) ([]models.Activity, error) {
	out := make([]models.Activity, 0, len(in))
	if len(in) == 0 {
		return out, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, rec := range in {
		a, err := scanActivity(tx.QueryRowContext(ctx, insertActivity, rec.Agent, rec.Kind, rec.Description, activityTime(rec.Timestamp)))
		if err != nil {
			return nil, fmt.Errorf("insert activity: %w", err)
		}
		out = append(out, a)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit activities: %w", err)
	}
	return out, nil
}

func (s *PGStore) ListRecentActivities(ctx context.Context, limit int) ([]models.Activity, error) {
	const query = `
		SELECT id, agent, kind, description, created_at
		FROM activities ORDER BY created_at DESC, id DESC LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()
	out := []models.Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) Seed(ctx context.Context, data SeedData) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, z := range data.Zones {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO zones (id, name, latitude, longitude) VALUES ($1,$2,$3,$4) ON CONFLICT (id) DO NOTHING`,
			z.ID, z.Name, z.Latitude, z.Longitude); err != nil {
			return fmt.Errorf("seed zone %s: %w", z.Name, err)
		}
	}
	for _, h := range data.Hospitals {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO hospitals (id, name, zone_id, capacity_total, occupancy_current, has_antivenom, has_trauma_unit,
				has_cardiology, has_pediatrics, has_burn_unit, latitude, longitude)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) ON CONFLICT (id) DO NOTHING`,
			h.ID, h.Name, h.ZoneID, h.CapacityTotal, h.OccupancyCurrent, h.HasAntivenom, h.HasTraumaUnit,
			h.HasCardiology, h.HasPediatrics, h.HasBurnUnit, h.Latitude, h.Longitude); err != nil {
			return fmt.Errorf("seed hospital %s: %w", h.Name, err)
		}
		for _, d := range h.Doctors {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO doctors (id, hospital_id, name, specialty, available) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO NOTHING`,
				d.ID, h.ID, d.Name, d.Specialty, d.Available); err != nil {
				return fmt.Errorf("seed doctor %s: %w", d.ID, err)
			}
		}
	}
	for _, v := range data.Vehicles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vehicles (id, name, type, zone_id, state, latitude, longitude)
			VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (id) DO NOTHING`,
			v.ID, v.Name, v.Type, v.ZoneID, string(v.State), v.Latitude, v.Longitude); err != nil {
			return fmt.Errorf("seed vehicle %s: %w", v.Name, err)
		}
	}
	return tx.Commit()
}

func (s *PGStore) IsEmpty(ctx context.Context) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM zones)`).Scan(&exists); err != nil {
		return false, fmt.Errorf("check zones: %w", err)
	}
	return !exists, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
