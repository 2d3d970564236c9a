// Package seed provides the demo dataset: four zones around San Miguel de
// Tucumán with their hospitals, doctors and rescue vehicles.
package seed

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"github.com/ILLUVRSE/dispatch/internal/models"
	"github.com/ILLUVRSE/dispatch/internal/store"
)

// Seeder is the part of the store seeding needs.
type Seeder interface {
	IsEmpty(ctx context.Context) (bool, error)
	Seed(ctx context.Context, data store.SeedData) error
}

var (
	specialties = []string{"pediatrics", "cardiology", "traumatology", "toxicology", "internal_medicine"}
	surnames    = []string{"Perez", "Gomez", "Diaz", "Lopez", "Martinez"}
)

const (
	zoneCentro models.ID = iota + 1
	zoneNorte
	zoneSur
	zoneYerbaBuena
)

type hospitalSpec struct {
	hospital     models.Hospital
	minOccupancy int
	maxOccupancy int
}

// Data builds the dataset. Occupancy, doctor names, specialties and
// availability are drawn from rng.
func Data(rng *rand.Rand) store.SeedData {
	zones := []models.Zone{
		{ID: zoneCentro, Name: "Centro", Latitude: -26.8300, Longitude: -65.2000},
		{ID: zoneNorte, Name: "Norte", Latitude: -26.8100, Longitude: -65.2100},
		{ID: zoneSur, Name: "Sur", Latitude: -26.8500, Longitude: -65.1900},
		{ID: zoneYerbaBuena, Name: "Yerba Buena", Latitude: -26.8200, Longitude: -65.2900},
	}

	specs := []hospitalSpec{
		{models.Hospital{ID: 1, Name: "Hospital Padilla", ZoneID: zoneCentro, CapacityTotal: 100,
			HasAntivenom: true, HasTraumaUnit: true, HasCardiology: true, HasBurnUnit: true,
			Latitude: -26.8350, Longitude: -65.2050}, 50, 90},
		{models.Hospital{ID: 2, Name: "Hospital de Niños", ZoneID: zoneCentro, CapacityTotal: 80,
			HasAntivenom: true, HasTraumaUnit: true, HasCardiology: true, HasPediatrics: true,
			Latitude: -26.8290, Longitude: -65.2010}, 30, 70},
		{models.Hospital{ID: 3, Name: "Hospital Avellaneda", ZoneID: zoneNorte, CapacityTotal: 60,
			HasCardiology: true, HasPediatrics: true,
			Latitude: -26.8050, Longitude: -65.2150}, 20, 50},
		{models.Hospital{ID: 4, Name: "Hospital Carrillo", ZoneID: zoneYerbaBuena, CapacityTotal: 50,
			HasAntivenom: true, HasPediatrics: true,
			Latitude: -26.8210, Longitude: -65.2850}, 10, 40},
	}

	hospitals := make([]models.Hospital, 0, len(specs))
	var doctorID models.ID
	for _, spec := range specs {
		h := spec.hospital
		h.OccupancyCurrent = between(rng, spec.minOccupancy, spec.maxOccupancy)
		n := between(rng, 3, 6)
		h.Doctors = make([]models.Doctor, 0, n)
		for i := 0; i < n; i++ {
			doctorID++
			h.Doctors = append(h.Doctors, models.Doctor{
				ID:         doctorID,
				HospitalID: h.ID,
				Name:       "Dr. " + surnames[rng.Intn(len(surnames))],
				Specialty:  specialties[rng.Intn(len(specialties))],
				// two in three doctors are on duty
				Available: rng.Intn(3) != 0,
			})
		}
		hospitals = append(hospitals, h)
	}

	vehicles := []models.Vehicle{
		{ID: 1, Name: "Movil-101", Type: models.VehicleTypeAmbulance, ZoneID: zoneCentro, State: models.VehicleAvailable, Latitude: -26.8310, Longitude: -65.2010},
		{ID: 2, Name: "Movil-102", Type: models.VehicleTypeICUAmbulance, ZoneID: zoneCentro, State: models.VehicleAvailable, Latitude: -26.8340, Longitude: -65.2040},
		{ID: 3, Name: "Movil-201", Type: models.VehicleTypeAmbulance, ZoneID: zoneNorte, State: models.VehicleAvailable, Latitude: -26.8110, Longitude: -65.2120},
		{ID: 4, Name: "Heli-1", Type: models.VehicleTypeHelicopter, ZoneID: zoneSur, State: models.VehicleAvailable, Latitude: -26.8510, Longitude: -65.1920},
		{ID: 5, Name: "Movil-301", Type: models.VehicleTypeAmbulance, ZoneID: zoneYerbaBuena, State: models.VehicleBusy, Latitude: -26.8220, Longitude: -65.2860},
	}

	return store.SeedData{Zones: zones, Hospitals: hospitals, Vehicles: vehicles}
}

// between returns a value in [lo, hi].
func between(rng *rand.Rand, lo, hi int) int {
	return lo + rng.Intn(hi-lo+1)
}

// Apply seeds st when it holds no zones yet. It reports whether anything was
// written.
func Apply(ctx context.Context, st Seeder, rng *rand.Rand, logger *zap.Logger) (bool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	empty, err := st.IsEmpty(ctx)
	if err != nil {
		return false, fmt.Errorf("seed: %w", err)
	}
	if !empty {
		logger.Info("store already populated, skipping seed")
		return false, nil
	}
	data := Data(rng)
	if err := st.Seed(ctx, data); err != nil {
		return false, fmt.Errorf("seed: %w", err)
	}
	logger.Info("seeded demo dataset",
		zap.Int("zones", len(data.Zones)),
		zap.Int("hospitals", len(data.Hospitals)),
		zap.Int("vehicles", len(data.Vehicles)),
	)
	return true, nil
}
