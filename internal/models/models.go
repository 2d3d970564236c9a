package models

import (
	"time"
)

type EmergencyStatus string

const (
	EmergencyActive   EmergencyStatus = "active"
	EmergencyAssigned EmergencyStatus = "assigned"
	EmergencyResolved EmergencyStatus = "resolved"
)

type VehicleState string

const (
	VehicleAvailable VehicleState = "available"
	VehicleEnRoute   VehicleState = "en_route"
	VehicleBusy      VehicleState = "busy"
)

// Vehicle types known to the seed data. The field is free text; the reasoning
// stages are told that a plain ambulance substitutes for any of them.
const (
	VehicleTypeAmbulance    = "ambulance"
	VehicleTypeICUAmbulance = "icu_ambulance"
	VehicleTypeHelicopter   = "helicopter"
)

type Zone struct {
	ID        ID      `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Doctor struct {
	ID         ID     `json:"id"`
	HospitalID ID     `json:"hospitalId"`
	Name       string `json:"name"`
	Specialty  string `json:"specialty"`
	Available  bool   `json:"available"`
}

type Hospital struct {
	ID               ID       `json:"id"`
	Name             string   `json:"name"`
	ZoneID           ID       `json:"zoneId"`
	CapacityTotal    int      `json:"capacityTotal"`
	OccupancyCurrent int      `json:"occupancyCurrent"`
	HasAntivenom     bool     `json:"hasAntivenom"`
	HasTraumaUnit    bool     `json:"hasTraumaUnit"`
	HasCardiology    bool     `json:"hasCardiology"`
	HasPediatrics    bool     `json:"hasPediatrics"`
	HasBurnUnit      bool     `json:"hasBurnUnit"`
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	Doctors          []Doctor `json:"doctors"`
}

type Vehicle struct {
	ID        ID           `json:"id"`
	Name      string       `json:"name"`
	Type      string       `json:"type"`
	ZoneID    ID           `json:"zoneId"`
	State     VehicleState `json:"state"`
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
}

type Emergency struct {
	ID                 ID              `json:"id"`
	Type               string          `json:"type"`
	Description        string          `json:"description"`
	ZoneID             ID              `json:"zoneId"`
	Latitude           *float64        `json:"latitude,omitempty"`
	Longitude          *float64        `json:"longitude,omitempty"`
	Status             EmergencyStatus `json:"status"`
	AssignedHospitalID *ID             `json:"assignedHospitalId,omitempty"`
	AssignedVehicleID  *ID             `json:"assignedVehicleId,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

type Activity struct {
	ID          ID        `json:"id"`
	Agent       string    `json:"agent"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}
