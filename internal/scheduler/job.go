package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"stepflow/internal/domain"
)

// fire is the trigger entry point for one user. Firings for the same user
// never overlap: a tick landing while the previous body is still in
// flight is dropped. Failures are contained here so no firing can take
// down the runner or another user's job.
func (r *Registry) fire(userID string, j *job) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("user", userID).Any("panic", p).
				Str("stack", string(debug.Stack())).Msg("panic in job firing")
		}
	}()

	if !j.state.tryAcquire() {
		log.Debug().Str("user", userID).Msg("previous firing still in flight, skipping tick")
		return
	}
	defer j.state.release()

	ctx, cancel := context.WithTimeout(context.Background(), r.fireTimeout)
	defer cancel()
	r.runOnce(ctx, userID)
}

// runOnce executes one firing body. The decision sequence is fixed:
// re-read config, gate on the allowed window, obtain a credential, draw
// an amount, submit. Nothing here ever disarms the job; only an explicit
// Stop or a config-driven restart does.
func (r *Registry) runOnce(ctx context.Context, userID string) {
	cfg, err := r.cfgs.GetConfig(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNoConfig):
		r.logs.Emit(userID, domain.SeverityWarning, "schedule config missing; skipping run")
		return
	case err != nil:
		r.logs.Emit(userID, domain.SeverityError, "failed to read schedule config: "+err.Error())
		return
	}
	if !cfg.Enabled {
		r.logs.Emit(userID, domain.SeverityWarning, "scheduling disabled; skipping run")
		return
	}

	nowClock := domain.ClockOf(r.now().In(r.loc))
	if !domain.InWindow(nowClock, cfg.WindowStart, cfg.WindowEnd) {
		r.logs.Emit(userID, domain.SeverityWarning, fmt.Sprintf(
			"outside allowed window %s-%s (now %s); skipping run", cfg.WindowStart, cfg.WindowEnd, nowClock))
		return
	}

	cred, err := r.auth.Handle(ctx, userID)
	if err != nil {
		r.logs.Emit(userID, domain.SeverityError, "authorization failed: "+err.Error())
		return
	}

	amount := domain.NextAmount(cfg.Amount)
	if err := r.sink.Submit(ctx, cred, amount); err != nil {
		r.logs.Emit(userID, domain.SeverityError, fmt.Sprintf("failed to add %d steps: %v", amount, err))
		return
	}
	r.logs.Emit(userID, domain.SeveritySuccess, fmt.Sprintf("added %d steps", amount))
}
