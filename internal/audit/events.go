// Package audit ships the outcome of each dispatch run off-box: a compact
// decision event to Kafka and the full run transcript to S3. Both sinks are
// advisory; callers log their failures and carry on.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/dispatch/internal/models"
	"github.com/ILLUVRSE/dispatch/internal/stages"
)

const EventDispatchDecided = "dispatch.decided"

// DecisionEvent is the message published once per run.
type DecisionEvent struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	RunID         string                 `json:"runId"`
	EmergencyID   models.ID              `json:"emergencyId"`
	EmergencyType string                 `json:"emergencyType"`
	ZoneID        models.ID              `json:"zoneId"`
	Status        models.EmergencyStatus `json:"status"`
	HospitalID    *models.ID             `json:"hospitalId"`
	VehicleID     *models.ID             `json:"vehicleId"`
	Justification string                 `json:"justification"`
	Degraded      bool                   `json:"degraded"`
	Rejected      []string               `json:"rejected,omitempty"`
	OccurredAt    time.Time              `json:"occurredAt"`
}

// NewDecisionEvent fills ID and Type. OccurredAt defaults to now.
func NewDecisionEvent(ev DecisionEvent) DecisionEvent {
	ev.ID = uuid.NewString()
	ev.Type = EventDispatchDecided
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return ev
}

// Transcript is everything a run saw and produced.
type Transcript struct {
	RunID              string                     `json:"runId"`
	Emergency          models.Emergency           `json:"emergency"`
	HospitalCandidates []models.HospitalCandidate `json:"hospitalCandidates"`
	VehicleCandidates  []models.VehicleCandidate  `json:"vehicleCandidates"`
	HospitalProposals  []models.HospitalProposal  `json:"hospitalProposals"`
	VehicleProposals   []models.VehicleProposal   `json:"vehicleProposals"`
	Decision           models.Decision            `json:"decision"`
	Rejected           []string                   `json:"rejected,omitempty"`
	Activities         []models.Activity          `json:"activities"`
	Stages             map[string]stages.Report   `json:"stages"`
	StartedAt          time.Time                  `json:"startedAt"`
	FinishedAt         time.Time                  `json:"finishedAt"`
}

type Publisher interface {
	PublishDecision(ctx context.Context, ev DecisionEvent) error
}

// Archiver stores a transcript and returns the object key it was written to.
type Archiver interface {
	ArchiveRun(ctx context.Context, t Transcript) (string, error)
}

type NopPublisher struct{}

func (NopPublisher) PublishDecision(ctx context.Context, ev DecisionEvent) error { return nil }

type NopArchiver struct{}

func (NopArchiver) ArchiveRun(ctx context.Context, t Transcript) (string, error) { return "", nil }
