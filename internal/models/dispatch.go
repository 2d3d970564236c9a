package models

import "time"

// EmergencyContext is the read-only view of an emergency handed to every stage.
type EmergencyContext struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	ZoneID      ID     `json:"zone_id"`
}

type Capability string

const (
	CapabilityAntivenom  Capability = "antivenom"
	CapabilityTrauma     Capability = "trauma"
	CapabilityCardiology Capability = "cardiology"
	CapabilityPediatrics Capability = "pediatrics"
	CapabilityBurn       Capability = "burn"
)

type HospitalCandidate struct {
	ID                   ID           `json:"id"`
	Name                 string       `json:"name"`
	ZoneID               ID           `json:"zone_id"`
	OccupancyCurrent     int          `json:"occupancy_current"`
	OccupancyTotal       int          `json:"occupancy_total"`
	Capabilities         []Capability `json:"capabilities"`
	AvailableSpecialties []string     `json:"available_specialties"`
}

// HasSpareCapacity reports whether the hospital can take one more patient.
func (h HospitalCandidate) HasSpareCapacity() bool {
	return h.OccupancyCurrent < h.OccupancyTotal
}

type VehicleCandidate struct {
	ID     ID           `json:"id"`
	Name   string       `json:"name"`
	Type   string       `json:"type"`
	State  VehicleState `json:"state"`
	ZoneID ID           `json:"zone_id"`
}

type HospitalProposal struct {
	HospitalID         ID      `json:"hospital_id"`
	Accepted           bool    `json:"accepted"`
	Priority           float64 `json:"priority"`
	Reason             string  `json:"reason"`
	ProjectedOccupancy int     `json:"projected_occupancy"`
}

type VehicleProposal struct {
	VehicleID  ID      `json:"vehicle_id"`
	Accepted   bool    `json:"accepted"`
	Priority   float64 `json:"priority"`
	ETAMinutes float64 `json:"eta_minutes"`
	Reason     string  `json:"reason"`
}

// Decision is the coordinator's single choice for a run. A nil id means no
// assignment was made for that resource.
type Decision struct {
	HospitalID    *ID    `json:"hospital_id"`
	VehicleID     *ID    `json:"vehicle_id"`
	Justification string `json:"justification"`
}

// Hospital returns the chosen hospital id. Zero ids count as absent.
func (d Decision) Hospital() (ID, bool) {
	if d.HospitalID == nil || *d.HospitalID <= 0 {
		return 0, false
	}
	return *d.HospitalID, true
}

// Vehicle returns the chosen vehicle id. Zero ids count as absent.
func (d Decision) Vehicle() (ID, bool) {
	if d.VehicleID == nil || *d.VehicleID <= 0 {
		return 0, false
	}
	return *d.VehicleID, true
}

type ActivityRecord struct {
	Agent       string    `json:"agent"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEmergencyContext snapshots the fields the stages are allowed to see.
func NewEmergencyContext(em Emergency) EmergencyContext {
	return EmergencyContext{
		Type:        em.Type,
		Description: em.Description,
		ZoneID:      em.ZoneID,
	}
}

// NewHospitalCandidate projects a stored hospital into the shape offered to
// the hospital stage. Specialties keep the order doctors are stored in.
func NewHospitalCandidate(h Hospital) HospitalCandidate {
	caps := make([]Capability, 0, 5)
	if h.HasAntivenom {
		caps = append(caps, CapabilityAntivenom)
	}
	if h.HasTraumaUnit {
		caps = append(caps, CapabilityTrauma)
	}
	if h.HasCardiology {
		caps = append(caps, CapabilityCardiology)
	}
	if h.HasPediatrics {
		caps = append(caps, CapabilityPediatrics)
	}
	if h.HasBurnUnit {
		caps = append(caps, CapabilityBurn)
	}
	specialties := make([]string, 0, len(h.Doctors))
	for _, d := range h.Doctors {
		if d.Available {
			specialties = append(specialties, d.Specialty)
		}
	}
	return HospitalCandidate{
		ID:                   h.ID,
		Name:                 h.Name,
		ZoneID:               h.ZoneID,
		OccupancyCurrent:     h.OccupancyCurrent,
		OccupancyTotal:       h.CapacityTotal,
		Capabilities:         caps,
		AvailableSpecialties: specialties,
	}
}

func NewVehicleCandidate(v Vehicle) VehicleCandidate {
	return VehicleCandidate{
		ID:     v.ID,
		Name:   v.Name,
		Type:   v.Type,
		State:  v.State,
		ZoneID: v.ZoneID,
	}
}
