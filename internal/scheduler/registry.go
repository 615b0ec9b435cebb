// Package scheduler owns the per-user job registry. One shared cron
// runner drives every armed user entry; jobs are created, replaced, and
// torn down while the runner keeps going.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"stepflow/internal/auth"
	"stepflow/internal/domain"
	"stepflow/internal/schedule"
)

// ConfigSource reads per-user scheduling configuration. It is consulted
// fresh on every firing so live edits take effect without a restart.
type ConfigSource interface {
	GetConfig(ctx context.Context, userID string) (domain.UserScheduleConfig, error)
	ListUserIDs(ctx context.Context) ([]string, error)
}

// AuthProvider yields a credential handle for a user, or auth.ErrNotAuthorized.
type AuthProvider interface {
	Handle(ctx context.Context, userID string) (auth.Credential, error)
}

// ActivitySink records an amount against the external system.
type ActivitySink interface {
	Submit(ctx context.Context, cred auth.Credential, amount int) error
}

// LogSink receives the job log stream.
type LogSink interface {
	Emit(userID string, sev domain.Severity, message string)
}

type Config struct {
	Timezone    string        // IANA TZ; empty means local
	FireTimeout time.Duration // per-firing deadline for external calls
}

const defaultFireTimeout = time.Minute

type job struct {
	userID string
	spec   string
	entry  cron.EntryID
	state  *runState
}

// runState serializes firings for one user: a tick that lands while the
// previous body is still in flight is skipped. The guard is owned by the
// registry and keyed by user, not by job, so it survives a restart and
// still excludes an old in-flight firing from the replacement job's first
// tick.
type runState struct {
	mu      sync.Mutex
	running bool
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

type Registry struct {
	mu     sync.Mutex
	jobs   map[string]*job
	states map[string]*runState

	c   *cron.Cron
	loc *time.Location

	cfgs ConfigSource
	auth AuthProvider
	sink ActivitySink
	logs LogSink

	fireTimeout time.Duration
	now         func() time.Time
}

func NewRegistry(cfg Config, cfgs ConfigSource, ap AuthProvider, sink ActivitySink, logs LogSink) *Registry {
	loc := loadLocation(cfg.Timezone)
	timeout := cfg.FireTimeout
	if timeout <= 0 {
		timeout = defaultFireTimeout
	}
	r := &Registry{
		jobs:        map[string]*job{},
		states:      map[string]*runState{},
		c:           cron.New(cron.WithLocation(loc)),
		loc:         loc,
		cfgs:        cfgs,
		auth:        ap,
		sink:        sink,
		logs:        logs,
		fireTimeout: timeout,
		now:         time.Now,
	}
	r.c.Start()
	return r
}

func loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn().Str("tz", tz).Err(err).Msg("invalid timezone, falling back to local")
		return time.Local
	}
	return loc
}

// Start arms (or re-arms) the user's job. A running job is torn down
// first, so two Start calls leave exactly one trigger. Missing config,
// disabled scheduling, or a missing credential leave the user stopped and
// are reported through the log channel; only a trigger-allocation failure
// is returned to the caller.
func (r *Registry) Start(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked(userID, false)

	cfg, err := r.cfgs.GetConfig(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNoConfig):
		r.logs.Emit(userID, domain.SeverityWarning, "no schedule configured; job not started")
		return nil
	case err != nil:
		r.logs.Emit(userID, domain.SeverityError, "failed to read schedule config: "+err.Error())
		return nil
	}
	if !cfg.Enabled {
		r.logs.Emit(userID, domain.SeverityWarning, "scheduling disabled; job not started")
		return nil
	}
	if _, err := r.auth.Handle(ctx, userID); err != nil {
		r.logs.Emit(userID, domain.SeverityError, "not authorized; job not started: "+err.Error())
		return nil
	}

	spec := schedule.SpecFor(cfg.Period, cfg.Unit)
	j := &job{userID: userID, spec: spec, state: r.stateLocked(userID)}
	entry, err := r.c.AddFunc(spec, func() { r.fire(userID, j) })
	if err != nil {
		return fmt.Errorf("arm trigger for %s: %w", userID, err)
	}
	j.entry = entry
	r.jobs[userID] = j

	r.logs.Emit(userID, domain.SeverityInfo, fmt.Sprintf(
		"job started: every %d %s within %s-%s", cfg.Period, cfg.Unit, cfg.WindowStart, cfg.WindowEnd))
	log.Info().Str("user", userID).Str("spec", spec).Msg("job armed")
	return nil
}

// Stop cancels the user's trigger. No-op when nothing is running.
func (r *Registry) Stop(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopLocked(userID, true) {
		log.Debug().Str("user", userID).Msg("stop requested for a user with no running job")
	}
}

// stateLocked returns the user's firing guard, creating it on first use.
// Guards are never dropped on stop; a user re-armed mid-firing reuses the
// same guard.
func (r *Registry) stateLocked(userID string) *runState {
	st, ok := r.states[userID]
	if !ok {
		st = &runState{}
		r.states[userID] = st
	}
	return st
}

func (r *Registry) stopLocked(userID string, announce bool) bool {
	j, ok := r.jobs[userID]
	if !ok {
		return false
	}
	r.c.Remove(j.entry)
	delete(r.jobs, userID)
	if announce {
		r.logs.Emit(userID, domain.SeverityInfo, "job stopped")
		log.Info().Str("user", userID).Msg("job stopped")
	}
	return true
}

// StartAll arms a job for every known user. Per-user failures are logged
// and do not abort the remaining users.
func (r *Registry) StartAll(ctx context.Context) error {
	ids, err := r.cfgs.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, id := range ids {
		if err := r.Start(ctx, id); err != nil {
			log.Error().Err(err).Str("user", id).Msg("failed to start job")
		}
	}
	log.Info().Int("users", len(ids)).Int("running", r.Len()).Msg("bulk start complete")
	return nil
}

// StopAll tears down every running job. Safe with zero jobs and safe to
// call from the shutdown signal path.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.jobs {
		r.stopLocked(id, true)
	}
}

// Close stops all jobs and waits for the cron runner to drain in-flight
// firings, bounded by ctx.
func (r *Registry) Close(ctx context.Context) {
	r.StopAll()
	stopped := r.c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		log.Warn().Msg("shutdown deadline reached with firings still in flight")
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type JobInfo struct {
	UserID string    `json:"userId"`
	Spec   string    `json:"spec"`
	Prev   time.Time `json:"prev"`
	Next   time.Time `json:"next"`
}

// Jobs returns a snapshot of the running entries, sorted by user.
func (r *Registry) Jobs() []JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]JobInfo, 0, len(r.jobs))
	for _, j := range r.jobs {
		e := r.c.Entry(j.entry)
		infos = append(infos, JobInfo{UserID: j.userID, Spec: j.spec, Prev: e.Prev, Next: e.Next})
	}
	sort.Slice(infos, func(i, k int) bool { return infos[i].UserID < infos[k].UserID })
	return infos
}
