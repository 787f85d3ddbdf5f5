package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RunFunc performs one run of a job
type RunFunc func(ctx context.Context) error

// Job is a named run function and its schedule
type Job struct {
	Name     string
	Schedule Schedule
	Run      RunFunc
}

// State is the observable state of a job
type State struct {
	Name              string        `json:"name"`
	Schedule          string        `json:"schedule"`
	Running           bool          `json:"running"`
	NextRunAt         time.Time     `json:"next_run_at"`
	LastRunAt         time.Time     `json:"last_run_at,omitempty"`
	LastDuration      time.Duration `json:"last_duration,omitempty"`
	LastStatus        string        `json:"last_status,omitempty"` // ok, error
	LastError         string        `json:"last_error,omitempty"`
	Runs              int           `json:"runs"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
}

type entry struct {
	job   Job
	state State
	timer *time.Timer
}

// Service fires jobs on their schedules. A job never overlaps itself: a run
// that comes due while the previous one is still going is skipped.
type Service struct {
	entries map[string]*entry
	order   []string
	now     func() time.Time

	mu      sync.Mutex
	running sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// NewService validates jobs and returns a service that has not started yet
func NewService(jobs ...Job) (*Service, error) {
	s := &Service{
		entries: make(map[string]*entry, len(jobs)),
		now:     time.Now,
	}

	for i, job := range jobs {
		if job.Name == "" {
			return nil, fmt.Errorf("job %d: name is required", i)
		}
		if job.Run == nil {
			return nil, fmt.Errorf("job %s: run function is required", job.Name)
		}
		if _, exists := s.entries[job.Name]; exists {
			return nil, fmt.Errorf("job %s: duplicate name", job.Name)
		}
		if err := job.Schedule.Validate(); err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Name, err)
		}

		s.entries[job.Name] = &entry{
			job:   job,
			state: State{Name: job.Name, Schedule: job.Schedule.String()},
		}
		s.order = append(s.order, job.Name)
	}

	return s, nil
}

// Len returns the number of jobs
func (s *Service) Len() int {
	return len(s.order)
}

// Start arms every job. Runs receive a context derived from ctx that is
// canceled by Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("service is stopped")
	}
	if s.started {
		return fmt.Errorf("service already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, name := range s.order {
		s.scheduleLocked(s.entries[name])
	}

	log.Info().Int("jobCount", len(s.order)).Msg("Scheduler started")
	return nil
}

// Stop disarms every job and waits for running ones to return
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	s.mu.Unlock()

	s.running.Wait()
	log.Info().Msg("Scheduler stopped")
}

// Jobs returns the state of every job in declaration order
func (s *Service) Jobs() []State {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]State, 0, len(s.order))
	for _, name := range s.order {
		states = append(states, s.entries[name].state)
	}
	return states
}

// RunNow fires name immediately, outside its schedule
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	started := s.started
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("job not found: %s", name)
	}
	if !started {
		return fmt.Errorf("service is not started")
	}

	go s.execute(e, false)
	return nil
}

func (s *Service) scheduleLocked(e *entry) {
	now := s.now()
	next, err := e.job.Schedule.Next(now)
	if err != nil {
		log.Error().Str("job", e.job.Name).Err(err).Msg("Failed to calculate next run")
		return
	}
	e.state.NextRunAt = next

	e.timer = time.AfterFunc(next.Sub(now), func() {
		s.execute(e, true)
	})

	log.Debug().
		Str("job", e.job.Name).
		Time("nextRun", next).
		Msg("Job scheduled")
}

func (s *Service) execute(e *entry, reschedule bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if e.state.Running {
		if reschedule {
			s.scheduleLocked(e)
		}
		s.mu.Unlock()
		log.Debug().Str("job", e.job.Name).Msg("Job already running, skipping run")
		return
	}
	e.state.Running = true
	s.running.Add(1)
	ctx := s.ctx
	s.mu.Unlock()
	defer s.running.Done()

	log.Info().Str("job", e.job.Name).Msg("Executing job")

	start := s.now()
	err := e.job.Run(ctx)
	duration := s.now().Sub(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	e.state.Running = false
	e.state.Runs++
	e.state.LastRunAt = start
	e.state.LastDuration = duration

	if err != nil {
		e.state.LastStatus = "error"
		e.state.LastError = err.Error()
		e.state.ConsecutiveErrors++

		log.Error().
			Str("job", e.job.Name).
			Err(err).
			Int("consecutiveErrors", e.state.ConsecutiveErrors).
			Msg("Job execution failed")
	} else {
		e.state.LastStatus = "ok"
		e.state.LastError = ""
		e.state.ConsecutiveErrors = 0

		log.Info().
			Str("job", e.job.Name).
			Dur("duration", duration).
			Msg("Job execution completed")
	}

	if reschedule && !s.stopped {
		s.scheduleLocked(e)
	}
}
