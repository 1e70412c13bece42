// File: internal/jobs/upstream_probe.go
package jobs

import (
	"context"
	"sync"
	"time"

	"cargo_portal/internal/config"
	"cargo_portal/internal/identity"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Upstream names reported by the probe.
const (
	UpstreamIdentity = "identity_provider"
	UpstreamRoleAPI  = "role_api"
)

// APIPinger is implemented by the role-lookup client.
type APIPinger interface {
	Ping(ctx context.Context) error
}

// ProbeResult is the latest health check of one upstream.
type ProbeResult struct {
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
	Latency   string    `json:"latency"`
}

// UpstreamProbeJob periodically pings the identity provider and the role API.
type UpstreamProbeJob struct {
	pingers       map[string]func(context.Context) error
	logger        *zap.Logger
	cfg           *config.Config
	cronScheduler *cron.Cron

	mu      sync.RWMutex
	results map[string]ProbeResult
	now     func() time.Time
}

// NewUpstreamProbeJob creates a new UpstreamProbeJob.
func NewUpstreamProbeJob(
	cfg *config.Config,
	idp identity.Pinger,
	api APIPinger,
	logger *zap.Logger,
) *UpstreamProbeJob {
	scheduler := cron.New(
		cron.WithLogger(NewCronLogger(logger.Named("cron"))),
		cron.WithChain(cron.SkipIfStillRunning(NewCronLogger(logger.Named("cron")))),
	)

	pingers := make(map[string]func(context.Context) error, 2)
	if idp != nil {
		pingers[UpstreamIdentity] = idp.Ping
	}
	if api != nil {
		pingers[UpstreamRoleAPI] = api.Ping
	}

	return &UpstreamProbeJob{
		pingers:       pingers,
		logger:        logger.Named("UpstreamProbeJob"),
		cfg:           cfg,
		cronScheduler: scheduler,
		results:       make(map[string]ProbeResult, len(pingers)),
		now:           time.Now,
	}
}

// SetupAndStart schedules and starts the cron job.
func (j *UpstreamProbeJob) SetupAndStart() error {
	jobSpec := j.cfg.UpstreamProbeSchedule
	if jobSpec == "" {
		j.logger.Warn("Upstream probe schedule not defined (UPSTREAM_PROBE_SCHEDULE). Job will not run.")
		return nil
	}

	jobID, err := j.cronScheduler.AddFunc(jobSpec, j.runJob)
	if err != nil {
		j.logger.Error("Failed to schedule upstream probe job", zap.String("spec", jobSpec), zap.Error(err))
		return err
	}

	j.logger.Info("Upstream probe job scheduled", zap.String("spec", jobSpec), zap.Any("jobID", jobID))
	j.cronScheduler.Start()
	return nil
}

func (j *UpstreamProbeJob) runJob() {
	timeout := j.cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	j.RunOnce(ctx)
}

// RunOnce pings every upstream concurrently and stores the results.
func (j *UpstreamProbeJob) RunOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for name, ping := range j.pingers {
		wg.Add(1)
		go func(name string, ping func(context.Context) error) {
			defer wg.Done()
			start := j.now()
			err := ping(ctx)
			result := ProbeResult{
				Healthy:   err == nil,
				CheckedAt: start.UTC(),
				Latency:   time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				result.Error = err.Error()
				j.logger.Warn("Upstream probe failed", zap.String("upstream", name), zap.Error(err))
			}

			j.mu.Lock()
			j.results[name] = result
			j.mu.Unlock()
		}(name, ping)
	}
	wg.Wait()
}

// Snapshot returns a copy of the latest results keyed by upstream name.
func (j *UpstreamProbeJob) Snapshot() map[string]ProbeResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]ProbeResult, len(j.results))
	for name, result := range j.results {
		out[name] = result
	}
	return out
}

// Stop gracefully stops the cron scheduler.
func (j *UpstreamProbeJob) Stop() {
	if j.cronScheduler != nil {
		j.logger.Info("Stopping upstream probe scheduler...")
		stopCtx := j.cronScheduler.Stop()
		select {
		case <-stopCtx.Done():
			j.logger.Info("Upstream probe scheduler stopped gracefully.")
		case <-time.After(10 * time.Second):
			j.logger.Warn("Upstream probe scheduler stop timed out.")
		}
	}
}
