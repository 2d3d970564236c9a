package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ILLUVRSE/dispatch/internal/audit"
	"github.com/ILLUVRSE/dispatch/internal/models"
	"github.com/ILLUVRSE/dispatch/internal/pipeline"
	"github.com/ILLUVRSE/dispatch/internal/store"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotActive    = store.ErrNotActive
)

const (
	SensorAgent          = "EmergencySensor"
	KindEmergencyCreated = "emergency_created"
	stateActivityLimit   = 30
)

type Service struct {
	store     store.Store
	pipeline  *pipeline.Pipeline
	publisher audit.Publisher
	archiver  audit.Archiver
	logger    *zap.Logger
	runs      *keyedMutex
}

type Deps struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	// Publisher and Archiver default to no-ops.
	Publisher audit.Publisher
	Archiver  audit.Archiver
	Logger    *zap.Logger
}

func New(d Deps) *Service {
	if d.Publisher == nil {
		d.Publisher = audit.NopPublisher{}
	}
	if d.Archiver == nil {
		d.Archiver = audit.NopArchiver{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		store:     d.Store,
		pipeline:  d.Pipeline,
		publisher: d.Publisher,
		archiver:  d.Archiver,
		logger:    d.Logger.Named("service"),
		runs:      newKeyedMutex(),
	}
}

type ReportInput struct {
	Type        string
	Description string
	ZoneID      models.ID
	Latitude    *float64
	Longitude   *float64
}

// Outcome is an emergency after a dispatch run together with that run.
type Outcome struct {
	Emergency models.Emergency `json:"emergency"`
	Run       pipeline.Result  `json:"run"`
}

type State struct {
	Emergencies []models.Emergency `json:"emergencies"`
	Hospitals   []models.Hospital  `json:"hospitals"`
	Vehicles    []models.Vehicle   `json:"vehicles"`
	Activities  []models.Activity  `json:"activities"`
}

// ReportEmergency records a new emergency and dispatches it.
func (s *Service) ReportEmergency(ctx context.Context, in ReportInput) (Outcome, error) {
	in.Type = strings.TrimSpace(in.Type)
	if in.Type == "" {
		return Outcome{}, fmt.Errorf("%w: type is required", ErrInvalidInput)
	}
	if in.ZoneID <= 0 {
		return Outcome{}, fmt.Errorf("%w: zoneId is required", ErrInvalidInput)
	}
	if _, err := s.store.GetZone(ctx, in.ZoneID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Outcome{}, fmt.Errorf("%w: unknown zone %s", ErrInvalidInput, in.ZoneID)
		}
		return Outcome{}, err
	}

	ctx = context.WithoutCancel(ctx)
	em, err := s.store.CreateEmergency(ctx, store.EmergencyInput{
		Type:        in.Type,
		Description: strings.TrimSpace(in.Description),
		ZoneID:      in.ZoneID,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("create emergency: %w", err)
	}
	if _, err := s.store.AppendActivity(ctx, store.ActivityInput{
		Agent:       SensorAgent,
		Kind:        KindEmergencyCreated,
		Description: fmt.Sprintf("New emergency reported: %s in zone %s", em.Type, em.ZoneID),
	}); err != nil {
		return Outcome{}, fmt.Errorf("record emergency: %w", err)
	}
	s.logger.Info("emergency reported",
		zap.Stringer("emergency_id", em.ID),
		zap.String("type", em.Type),
		zap.Stringer("zone_id", em.ZoneID),
	)
	return s.run(ctx, em)
}

// Dispatch re-runs the pipeline for an emergency that is still active.
func (s *Service) Dispatch(ctx context.Context, id models.ID) (Outcome, error) {
	unlock := s.runs.Lock(id)
	defer unlock()
	em, err := s.store.GetEmergency(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if em.Status != models.EmergencyActive {
		return Outcome{}, fmt.Errorf("%w: emergency %s is %s", ErrNotActive, id, em.Status)
	}
	return s.runLocked(ctx, em)
}

func (s *Service) run(ctx context.Context, em models.Emergency) (Outcome, error) {
	unlock := s.runs.Lock(em.ID)
	defer unlock()
	return s.runLocked(ctx, em)
}

// runLocked detaches from the caller's cancellation: once started, a run
// always reaches ApplyDecision and persists its narrative.
func (s *Service) runLocked(ctx context.Context, em models.Emergency) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	in, err := s.gatherCandidates(ctx, em)
	if err != nil {
		return Outcome{}, err
	}
	res, err := s.pipeline.Run(ctx, in)
	if err != nil {
		return Outcome{Emergency: res.Emergency, Run: res}, err
	}
	s.record(ctx, in, res)
	return Outcome{Emergency: res.Emergency, Run: res}, nil
}

// gatherCandidates loads hospitals and available vehicles concurrently.
func (s *Service) gatherCandidates(ctx context.Context, em models.Emergency) (pipeline.Input, error) {
	var (
		hospitals []models.Hospital
		vehicles  []models.Vehicle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hospitals, err = s.store.ListHospitals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		vehicles, err = s.store.ListAvailableVehicles(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return pipeline.Input{}, fmt.Errorf("load candidates: %w", err)
	}

	in := pipeline.Input{
		Emergency: em,
		Hospitals: make([]models.HospitalCandidate, 0, len(hospitals)),
		Vehicles:  make([]models.VehicleCandidate, 0, len(vehicles)),
	}
	for _, h := range hospitals {
		in.Hospitals = append(in.Hospitals, models.NewHospitalCandidate(h))
	}
	for _, v := range vehicles {
		in.Vehicles = append(in.Vehicles, models.NewVehicleCandidate(v))
	}
	return in, nil
}

// record ships the run to the audit sinks. Failures are logged only.
func (s *Service) record(ctx context.Context, in pipeline.Input, res pipeline.Result) {
	logger := s.logger.With(zap.String("run_id", res.RunID))
	ev := audit.NewDecisionEvent(audit.DecisionEvent{
		RunID:         res.RunID,
		EmergencyID:   res.Emergency.ID,
		EmergencyType: res.Emergency.Type,
		ZoneID:        res.Emergency.ZoneID,
		Status:        res.Emergency.Status,
		HospitalID:    res.Decision.HospitalID,
		VehicleID:     res.Decision.VehicleID,
		Justification: res.Decision.Justification,
		Degraded:      res.Degraded(),
		Rejected:      res.Rejected,
		OccurredAt:    res.FinishedAt,
	})
	if err := s.publisher.PublishDecision(ctx, ev); err != nil {
		logger.Warn("publish decision event failed", zap.Error(err))
	}
	key, err := s.archiver.ArchiveRun(ctx, audit.Transcript{
		RunID:              res.RunID,
		Emergency:          res.Emergency,
		HospitalCandidates: in.Hospitals,
		VehicleCandidates:  in.Vehicles,
		HospitalProposals:  res.HospitalProposals,
		VehicleProposals:   res.VehicleProposals,
		Decision:           res.Decision,
		Rejected:           res.Rejected,
		Activities:         res.Activities,
		Stages:             res.Stages,
		StartedAt:          res.StartedAt,
		FinishedAt:         res.FinishedAt,
	})
	if err != nil {
		logger.Warn("archive run transcript failed", zap.Error(err))
		return
	}
	if key != "" {
		logger.Debug("run transcript archived", zap.String("key", key))
	}
}

func (s *Service) GetEmergency(ctx context.Context, id models.ID) (models.Emergency, error) {
	return s.store.GetEmergency(ctx, id)
}

// ResolveEmergency closes an emergency and frees its vehicle if it is still
// en route.
func (s *Service) ResolveEmergency(ctx context.Context, id models.ID) (models.Emergency, error) {
	unlock := s.runs.Lock(id)
	defer unlock()
	em, err := s.store.ResolveEmergency(ctx, id)
	if err != nil {
		return models.Emergency{}, err
	}
	s.logger.Info("emergency resolved", zap.Stringer("emergency_id", id))
	return em, nil
}

// State returns open emergencies, all hospitals and vehicles, and the most
// recent activities, newest first.
func (s *Service) State(ctx context.Context) (State, error) {
	var st State
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		st.Emergencies, err = s.store.ListOpenEmergencies(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		st.Hospitals, err = s.store.ListHospitals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		st.Vehicles, err = s.store.ListVehicles(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		st.Activities, err = s.store.ListRecentActivities(gctx, stateActivityLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return State{}, fmt.Errorf("load state: %w", err)
	}
	return st, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// keyedMutex serializes runs per emergency.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[models.ID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[models.ID]*refMutex{}}
}

func (k *keyedMutex) Lock(id models.ID) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
