// Copyright 2026 ERPilot, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package workers runs cron-scheduled background jobs: billing
// reconciliation, audit retention, metadata discovery and document import.
// Every run writes a job row and job.start/job.complete/job.failed audit
// events.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/erpilot/erpilot/pkg/audit"
)

// DefaultJobTimeout bounds one worker run.
const DefaultJobTimeout = time.Hour

// Worker is one unit of scheduled background work.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

// JobTracker records job lifecycle rows.
type JobTracker interface {
	Start(ctx context.Context, name string) (string, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID, errMsg string) error
}

// Scheduler manages cron-driven worker execution. Overlapping runs of the
// same worker are skipped, not queued.
type Scheduler struct {
	cronEngine *cron.Cron
	jobs       JobTracker
	recorder   audit.Recorder
	logger     *zap.Logger
	timeout    time.Duration

	mu      sync.Mutex
	running map[string]bool
	workers map[string]Worker
	wg      sync.WaitGroup
}

// NewScheduler creates a worker scheduler.
func NewScheduler(jobs JobTracker, recorder audit.Recorder, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cronEngine: cron.New(),
		jobs:       jobs,
		recorder:   recorder,
		logger:     logger,
		timeout:    DefaultJobTimeout,
		running:    make(map[string]bool),
		workers:    make(map[string]Worker),
	}
}

// Register schedules w under a standard 5-field cron expression.
func (s *Scheduler) Register(spec string, w Worker) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q for %s: %w", spec, w.Name(), err)
	}

	s.mu.Lock()
	if _, exists := s.workers[w.Name()]; exists {
		s.mu.Unlock()
		return fmt.Errorf("worker %s already registered", w.Name())
	}
	s.workers[w.Name()] = w
	s.mu.Unlock()

	_, err := s.cronEngine.AddFunc(spec, func() {
		s.wg.Add(1)
		defer s.wg.Done()
		s.execute(context.Background(), w)
	})
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", w.Name(), err)
	}

	s.logger.Info("registered worker",
		zap.String("worker", w.Name()),
		zap.String("cron", spec))
	return nil
}

// TriggerNow runs a registered worker immediately, outside its schedule.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) error {
	s.mu.Lock()
	w, ok := s.workers[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker %s not registered", name)
	}
	s.execute(ctx, w)
	return nil
}

// Start begins scheduled execution.
func (s *Scheduler) Start() {
	s.cronEngine.Start()
	s.logger.Info("worker scheduler started")
}

// Stop halts scheduling and waits for in-flight runs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronCtx := s.cronEngine.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timeout, some workers may still be running")
		return ctx.Err()
	}

	<-cronCtx.Done()
	s.logger.Info("worker scheduler stopped")
	return nil
}

// execute runs one worker with job tracking and audit events.
func (s *Scheduler) execute(ctx context.Context, w Worker) {
	s.mu.Lock()
	if s.running[w.Name()] {
		s.mu.Unlock()
		s.logger.Info("skipping run, previous still in flight", zap.String("worker", w.Name()))
		return
	}
	s.running[w.Name()] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, w.Name())
		s.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	jobID, err := s.jobs.Start(runCtx, w.Name())
	if err != nil {
		s.logger.Error("failed to record job start",
			zap.String("worker", w.Name()), zap.Error(err))
		return
	}

	s.appendAudit(runCtx, audit.Event{
		Action:     audit.ActionJobStart,
		JobID:      jobID,
		ResourceID: w.Name(),
	})

	start := time.Now()
	runErr := w.Run(runCtx)
	duration := time.Since(start)

	if runErr != nil {
		s.logger.Error("worker run failed",
			zap.String("worker", w.Name()),
			zap.String("job_id", jobID),
			zap.Duration("duration", duration),
			zap.Error(runErr))
		if err := s.jobs.Fail(runCtx, jobID, runErr.Error()); err != nil {
			s.logger.Error("failed to record job failure", zap.Error(err))
		}
		s.appendAudit(runCtx, audit.Event{
			Action:     audit.ActionJobFailed,
			JobID:      jobID,
			ResourceID: w.Name(),
			Status:     audit.StatusError,
			Error:      runErr.Error(),
		})
		return
	}

	s.logger.Info("worker run complete",
		zap.String("worker", w.Name()),
		zap.String("job_id", jobID),
		zap.Duration("duration", duration))
	if err := s.jobs.Complete(runCtx, jobID); err != nil {
		s.logger.Error("failed to record job completion", zap.Error(err))
	}
	s.appendAudit(runCtx, audit.Event{
		Action:     audit.ActionJobComplete,
		JobID:      jobID,
		ResourceID: w.Name(),
	})
}

func (s *Scheduler) appendAudit(ctx context.Context, event audit.Event) {
	event.Category = audit.CategoryJob
	event.ResourceType = "worker"
	event.Actor = string(audit.ActorWorker)
	event.ActorType = audit.ActorWorker
	if event.TenantID == "" {
		event.TenantID = "system"
	}
	if err := s.recorder.Append(ctx, audit.Prepare(ctx, event)); err != nil {
		s.logger.Error("failed to append job audit event", zap.Error(err))
	}
}
