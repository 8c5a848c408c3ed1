// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tuning

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/relabs-tech/hyperbaric_controller/internal/control"
)

var (
	ErrAlreadyCollecting = errors.New("tuning collection already active")
	ErrNotCollecting     = errors.New("tuning collection not active")
	ErrNoRecommendation  = errors.New("no tuning recommendation to apply")
)

// Session status values.
const (
	StatusCollecting = "collecting"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// SaveEvery is how many samples are collected between background saves.
const SaveEvery = 60

// Session is one tuning recording and its outcome.
type Session struct {
	ID             uuid.UUID       `json:"id"`
	StartedAt      time.Time       `json:"sessionStartTime"`
	EndedAt        *time.Time      `json:"sessionEndTime,omitempty"`
	Status         string          `json:"status"`
	TargetDepth    float64         `json:"targetDepth"`
	TargetDuration float64         `json:"targetDuration"`
	Used           control.Gains   `json:"usedParams"`
	Samples        []Sample        `json:"-"`
	Analysis       *Analysis       `json:"analysisResults,omitempty"`
	Recommendation *Recommendation `json:"suggestedParams,omitempty"`
	Error          string          `json:"error,omitempty"`
	Approved       bool            `json:"approved"`
	ApprovedAt     *time.Time      `json:"approvedAt,omitempty"`
}

// Repository persists tuning sessions.
type Repository interface {
	CreateTuningSession(ctx context.Context, s *Session) error
	SaveTuningSamples(ctx context.Context, id uuid.UUID, samples []Sample) error
	CompleteTuningSession(ctx context.Context, s *Session) error
	ApproveTuningSession(ctx context.Context, id uuid.UUID, at time.Time) error
	TuningHistory(ctx context.Context, limit int) ([]Session, error)
}

// Status is a point-in-time view of the tuner.
type Status struct {
	Collecting bool      `json:"isCollecting"`
	Samples    int       `json:"dataPointCount"`
	SessionID  uuid.UUID `json:"sessionId"`
}

// Tuner records samples while collecting and turns them into recommendations.
type Tuner struct {
	mu     sync.Mutex
	logger logr.Logger
	repo   Repository
	rules  Rules
	now    func() time.Time

	collecting bool
	current    *Session
	last       *Session

	saves    chan saveJob
	stopChan chan struct{}
	wg       sync.WaitGroup
}

type saveJob struct {
	id      uuid.UUID
	samples []Sample
}

// New starts the background writer. repo may be nil to keep sessions in memory only.
func New(logger logr.Logger, repo Repository, rules Rules) *Tuner {
	t := &Tuner{
		logger:   logger,
		repo:     repo,
		rules:    rules,
		now:      time.Now,
		saves:    make(chan saveJob, 16),
		stopChan: make(chan struct{}),
	}
	t.wg.Add(1)
	go t.saveWorker()
	return t
}

// Start begins a recording with the gains in use.
func (t *Tuner) Start(ctx context.Context, used control.Gains, depth, duration float64) (Session, error) {
	t.mu.Lock()
	if t.collecting {
		t.mu.Unlock()
		return Session{}, ErrAlreadyCollecting
	}
	s := &Session{
		ID:             uuid.New(),
		StartedAt:      t.now(),
		Status:         StatusCollecting,
		TargetDepth:    depth,
		TargetDuration: duration,
		Used:           used,
	}
	t.collecting = true
	t.current = s
	snapshot := *s
	t.mu.Unlock()

	if t.repo != nil {
		if err := t.repo.CreateTuningSession(ctx, &snapshot); err != nil {
			t.logger.Error(err, "tuning session not persisted", "id", s.ID)
		}
	}
	t.logger.Info("tuning collection started", "id", s.ID)
	return snapshot, nil
}

// Collect appends one sample. It never blocks on persistence.
func (t *Tuner) Collect(s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.collecting {
		return
	}
	t.current.Samples = append(t.current.Samples, s)
	if len(t.current.Samples)%SaveEvery == 0 {
		t.enqueueLocked()
	}
}

func (t *Tuner) enqueueLocked() {
	if t.repo == nil {
		return
	}
	job := saveJob{id: t.current.ID, samples: append([]Sample(nil), t.current.Samples...)}
	select {
	case t.saves <- job:
	default:
		t.logger.Info("tuning save queue full, samples kept in memory", "id", job.id)
	}
}

func (t *Tuner) saveWorker() {
	defer t.wg.Done()
	for {
		select {
		case job := <-t.saves:
			t.save(job)
		case <-t.stopChan:
			for {
				select {
				case job := <-t.saves:
					t.save(job)
				default:
					return
				}
			}
		}
	}
}

func (t *Tuner) save(job saveJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.repo.SaveTuningSamples(ctx, job.id, job.samples); err != nil {
		t.logger.Error(err, "tuning samples not saved", "id", job.id, "samples", len(job.samples))
	}
}

// Stop ends the recording, analyses it and stores the recommendation.
// An analysis error is returned along with the sealed session.
func (t *Tuner) Stop(ctx context.Context) (Session, error) {
	t.mu.Lock()
	if !t.collecting {
		t.mu.Unlock()
		return Session{}, ErrNotCollecting
	}
	t.collecting = false
	s := t.current
	t.current = nil
	t.last = s
	end := t.now()
	s.EndedAt = &end

	analysis, err := Analyze(s.Samples)
	if err != nil {
		s.Status = StatusFailed
		s.Error = err.Error()
	} else {
		rec := t.rules.Recommend(analysis, s.Used)
		s.Analysis = &analysis
		s.Recommendation = &rec
		s.Status = StatusCompleted
	}
	snapshot := *s
	snapshot.Samples = append([]Sample(nil), s.Samples...)
	t.mu.Unlock()

	if t.repo != nil {
		if perr := t.repo.SaveTuningSamples(ctx, snapshot.ID, snapshot.Samples); perr != nil {
			t.logger.Error(perr, "tuning samples not saved", "id", snapshot.ID)
		}
		if perr := t.repo.CompleteTuningSession(ctx, &snapshot); perr != nil {
			t.logger.Error(perr, "tuning result not saved", "id", snapshot.ID)
		}
	}
	t.logger.Info("tuning collection stopped", "id", snapshot.ID, "samples", len(snapshot.Samples), "status", snapshot.Status)
	return snapshot, err
}

// Recommended returns the suggested gains of the last analysed session
// without approving them.
func (t *Tuner) Recommended() (uuid.UUID, control.Gains, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.last
	if s == nil || s.Recommendation == nil {
		return uuid.Nil, control.Gains{}, ErrNoRecommendation
	}
	return s.ID, s.Recommendation.Suggested, nil
}

// Approve marks session id approved. Call it once its gains are live.
func (t *Tuner) Approve(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	s := t.last
	if s == nil || s.Recommendation == nil || s.ID != id {
		t.mu.Unlock()
		return ErrNoRecommendation
	}
	at := t.now()
	s.Approved = true
	s.ApprovedAt = &at
	t.mu.Unlock()

	if t.repo != nil {
		if err := t.repo.ApproveTuningSession(ctx, id, at); err != nil {
			t.logger.Error(err, "tuning approval not saved", "id", id)
		}
	}
	return nil
}

// Last returns the most recently stopped session.
func (t *Tuner) Last() (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Session{}, false
	}
	return *t.last, true
}

func (t *Tuner) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Status{Collecting: t.collecting}
	if t.current != nil {
		st.Samples = len(t.current.Samples)
		st.SessionID = t.current.ID
	}
	return st
}

func (t *Tuner) Collecting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collecting
}

// History returns the latest limit sessions from the repository.
func (t *Tuner) History(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 10
	}
	if t.repo == nil {
		if s, ok := t.Last(); ok {
			return []Session{s}, nil
		}
		return nil, nil
	}
	return t.repo.TuningHistory(ctx, limit)
}

// Close drains pending saves and stops the writer.
func (t *Tuner) Close() {
	select {
	case <-t.stopChan:
	default:
		close(t.stopChan)
	}
	t.wg.Wait()
}
