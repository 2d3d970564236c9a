// Package applier commits a coordinator decision to emergency and vehicle
// state. It is the only writer of assignments.
package applier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ILLUVRSE/dispatch/internal/models"
	"github.com/ILLUVRSE/dispatch/internal/store"
)

// AssignmentWriter persists an assignment atomically.
type AssignmentWriter interface {
	ApplyAssignment(ctx context.Context, in store.AssignmentInput) (models.Emergency, error)
}

type Applier struct {
	writer AssignmentWriter
	logger *zap.Logger
}

func New(writer AssignmentWriter, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{writer: writer, logger: logger.Named("applier")}
}

// Plan computes the writes decision implies for em. ok is false when the
// decision assigns nothing, in which case em stays as it is.
func Plan(em models.Emergency, decision models.Decision) (store.AssignmentInput, bool) {
	in := store.AssignmentInput{EmergencyID: em.ID, Status: em.Status}
	if id, ok := decision.Hospital(); ok {
		in.HospitalID = id.Ptr()
	}
	if id, ok := decision.Vehicle(); ok {
		in.VehicleID = id.Ptr()
	}
	if in.HospitalID == nil && in.VehicleID == nil {
		return in, false
	}
	in.Status = models.EmergencyAssigned
	return in, true
}

// Apply writes decision to em. Assigning a vehicle also moves it to
// en_route. An empty decision leaves em unchanged and touches no state.
func (a *Applier) Apply(ctx context.Context, em models.Emergency, decision models.Decision) (models.Emergency, error) {
	in, ok := Plan(em, decision)
	if !ok {
		a.logger.Info("decision assigns nothing, emergency left as is",
			zap.Stringer("emergency_id", em.ID),
			zap.String("status", string(em.Status)),
		)
		return em, nil
	}
	updated, err := a.writer.ApplyAssignment(ctx, in)
	if err != nil {
		return em, fmt.Errorf("apply assignment: %w", err)
	}
	a.logger.Info("decision applied",
		zap.Stringer("emergency_id", em.ID),
		zap.Any("hospital_id", in.HospitalID),
		zap.Any("vehicle_id", in.VehicleID),
	)
	return updated, nil
}

// Sanitize drops decision ids that do not name one of the supplied
// candidates. It returns the cleaned decision and the dropped fields.
func Sanitize(decision models.Decision, hospitals []models.HospitalCandidate, vehicles []models.VehicleCandidate) (models.Decision, []string) {
	var dropped []string
	if id, ok := decision.Hospital(); ok {
		known := false
		for _, h := range hospitals {
			if h.ID == id {
				known = true
				break
			}
		}
		if !known {
			decision.HospitalID = nil
			dropped = append(dropped, "hospital_id="+id.String())
		}
	}
	if id, ok := decision.Vehicle(); ok {
		known := false
		for _, v := range vehicles {
			if v.ID == id {
				known = true
				break
			}
		}
		if !known {
			decision.VehicleID = nil
			dropped = append(dropped, "vehicle_id="+id.String())
		}
	}
	return decision, dropped
}
