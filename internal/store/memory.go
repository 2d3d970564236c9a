package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ILLUVRSE/dispatch/internal/models"
)

// MemoryStore keeps everything in process. It is used when no database is
// configured and in tests.
type MemoryStore struct {
	mu            sync.RWMutex
	zones         map[models.ID]models.Zone
	hospitals     map[models.ID]models.Hospital
	vehicles      map[models.ID]models.Vehicle
	emergencies   map[models.ID]models.Emergency
	activities    []models.Activity
	nextEmergency models.ID
	nextActivity  models.ID
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		zones:       map[models.ID]models.Zone{},
		hospitals:   map[models.ID]models.Hospital{},
		vehicles:    map[models.ID]models.Vehicle{},
		emergencies: map[models.ID]models.Emergency{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func copyHospital(h models.Hospital) models.Hospital {
	h.Doctors = append([]models.Doctor{}, h.Doctors...)
	return h
}

func copyEmergency(em models.Emergency) models.Emergency {
	if em.AssignedHospitalID != nil {
		em.AssignedHospitalID = em.AssignedHospitalID.Ptr()
	}
	if em.AssignedVehicleID != nil {
		em.AssignedVehicleID = em.AssignedVehicleID.Ptr()
	}
	if em.Latitude != nil {
		v := *em.Latitude
		em.Latitude = &v
	}
	if em.Longitude != nil {
		v := *em.Longitude
		em.Longitude = &v
	}
	return em
}

func (m *MemoryStore) CreateEmergency(ctx context.Context, in EmergencyInput) (models.Emergency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.zones[in.ZoneID]; !ok {
		return models.Emergency{}, fmt.Errorf("insert emergency: %w: zone %s", ErrUnknownReference, in.ZoneID)
	}
	m.nextEmergency++
	now := m.now()
	em := copyEmergency(models.Emergency{
		ID:          m.nextEmergency,
		Type:        in.Type,
		Description: in.Description,
		ZoneID:      in.ZoneID,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		Status:      models.EmergencyActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	m.emergencies[em.ID] = em
	return copyEmergency(em), nil
}

func (m *MemoryStore) GetEmergency(ctx context.Context, id models.ID) (models.Emergency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	em, ok := m.emergencies[id]
	if !ok {
		return models.Emergency{}, ErrNotFound
	}
	return copyEmergency(em), nil
}

func (m *MemoryStore) ListOpenEmergencies(ctx context.Context) ([]models.Emergency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Emergency{}
	for _, em := range m.emergencies {
		if em.Status == models.EmergencyResolved {
			continue
		}
		out = append(out, copyEmergency(em))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) ApplyAssignment(ctx context.Context, in AssignmentInput) (models.Emergency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	em, ok := m.emergencies[in.EmergencyID]
	if !ok {
		return models.Emergency{}, ErrNotFound
	}
	if em.Status != models.EmergencyActive {
		return models.Emergency{}, fmt.Errorf("emergency %s is %s: %w", em.ID, em.Status, ErrNotActive)
	}
	if in.HospitalID != nil {
		if _, ok := m.hospitals[*in.HospitalID]; !ok {
			return models.Emergency{}, fmt.Errorf("hospital %s: %w", *in.HospitalID, ErrUnknownReference)
		}
	}
	if in.VehicleID != nil {
		v, ok := m.vehicles[*in.VehicleID]
		if !ok {
			return models.Emergency{}, fmt.Errorf("vehicle %s: %w", *in.VehicleID, ErrUnknownReference)
		}
		v.State = models.VehicleEnRoute
		m.vehicles[v.ID] = v
		em.AssignedVehicleID = in.VehicleID.Ptr()
	}
	if in.HospitalID != nil {
		em.AssignedHospitalID = in.HospitalID.Ptr()
	}
	em.Status = in.Status
	em.UpdatedAt = m.now()
	m.emergencies[em.ID] = em
	return copyEmergency(em), nil
}

func (m *MemoryStore) ResolveEmergency(ctx context.Context, id models.ID) (models.Emergency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	em, ok := m.emergencies[id]
	if !ok {
		return models.Emergency{}, ErrNotFound
	}
	em.Status = models.EmergencyResolved
	em.UpdatedAt = m.now()
	m.emergencies[id] = em
	if em.AssignedVehicleID != nil {
		if v, ok := m.vehicles[*em.AssignedVehicleID]; ok && v.State == models.VehicleEnRoute {
			v.State = models.VehicleAvailable
			m.vehicles[v.ID] = v
		}
	}
	return copyEmergency(em), nil
}

func (m *MemoryStore) ListHospitals(ctx context.Context) ([]models.Hospital, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Hospital, 0, len(m.hospitals))
	for _, h := range m.hospitals {
		out = append(out, copyHospital(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) listVehicles(filter func(models.Vehicle) bool) []models.Vehicle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Vehicle{}
	for _, v := range m.vehicles {
		if filter(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	return m.listVehicles(func(models.Vehicle) bool { return true }), nil
}

func (m *MemoryStore) ListAvailableVehicles(ctx context.Context) ([]models.Vehicle, error) {
	return m.listVehicles(func(v models.Vehicle) bool { return v.State == models.VehicleAvailable }), nil
}

func (m *MemoryStore) GetZone(ctx context.Context, id models.ID) (models.Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	z, ok := m.zones[id]
	if !ok {
		return models.Zone{}, ErrNotFound
	}
	return z, nil
}

func (m *MemoryStore) ListZones(ctx context.Context) ([]models.Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Zone, 0, len(m.zones))
	for _, z := range m.zones {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) appendLocked(in ActivityInput) models.Activity {
	m.nextActivity++
	ts := in.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}
	a := models.Activity{
		ID:          m.nextActivity,
		Agent:       in.Agent,
		Kind:        in.Kind,
		Description: in.Description,
		Timestamp:   ts.UTC(),
	}
	m.activities = append(m.activities, a)
	return a
}

func (m *MemoryStore) AppendActivity(ctx context.Context, in ActivityInput) (models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(in), nil
}

func (m *MemoryStore) AppendActivities(ctx context.Context, in []ActivityInput) ([]models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Activity, 0, len(in))
	for _, rec := range in {
		out = append(out, m.appendLocked(rec))
	}
	return out, nil
}

func (m *MemoryStore) ListRecentActivities(ctx context.Context, limit int) ([]models.Activity, error) {
	limit = normalizeLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Activity, 0, limit)
	for i := len(m.activities) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.activities[i])
	}
	return out, nil
}

func (m *MemoryStore) Seed(ctx context.Context, data SeedData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, z := range data.Zones {
		if _, ok := m.zones[z.ID]; !ok {
			m.zones[z.ID] = z
		}
	}
	for _, h := range data.Hospitals {
		if _, ok := m.hospitals[h.ID]; ok {
			continue
		}
		h = copyHospital(h)
		for i := range h.Doctors {
			h.Doctors[i].HospitalID = h.ID
		}
		m.hospitals[h.ID] = h
	}
	for _, v := range data.Vehicles {
		if _, ok := m.vehicles[v.ID]; !ok {
			m.vehicles[v.ID] = v
		}
	}
	return nil
}

func (m *MemoryStore) IsEmpty(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.zones) == 0, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
