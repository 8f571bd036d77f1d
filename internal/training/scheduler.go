package training

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/zhenzou/executors"

	"github.com/looplj/guardianbridge/internal/log"
	"github.com/looplj/guardianbridge/internal/moderation/profile"
	"github.com/looplj/guardianbridge/internal/samplestore"
)

// Config is the Trainer Scheduler's own tuning knobs (spec.md §4.5
// "Scheduler"), process-level config loaded by internal/config.
type Config struct {
	IntervalMinutes int           `conf:"interval_minutes" yaml:"interval_minutes" json:"interval_minutes"`
	Cooldown        time.Duration `conf:"cooldown" yaml:"cooldown" json:"cooldown"`
	// BinaryPath is the executable re-invoked as the training subprocess
	// (spec.md §4.5 step 5 "Spawn a subprocess running the appropriate
	// trainer script"). Defaults to the running process's own executable,
	// invoked with the hidden `train` subcommand.
	BinaryPath string `conf:"-" yaml:"-" json:"-"`
}

func (c Config) interval() time.Duration {
	if c.IntervalMinutes <= 0 {
		return 10 * time.Minute
	}

	return time.Duration(c.IntervalMinutes) * time.Minute
}

// cron renders the interval as a `*/N * * * *` cron expression, matching
// the teacher's CRON-scheduled `gc.Worker` (spec.md §4.5 "every N minutes
// (default 10)"; N is clamped to [1,59] since `*/60` is not valid cron).
func (c Config) cron() string {
	n := int(c.interval() / time.Minute)
	if n < 1 {
		n = 1
	}

	if n > 59 {
		n = 59
	}

	return fmt.Sprintf("*/%d * * * *", n)
}

func (c Config) cooldown() time.Duration {
	if c.Cooldown <= 0 {
		return 30 * time.Minute
	}

	return c.Cooldown
}

// Scheduler is the background worker of spec.md §4.5: every tick it scans
// the profiles root and spawns a training subprocess per eligible profile,
// serialized by the per-profile and global file locks.
type Scheduler struct {
	config       Config
	profileStore *profile.Store
	profilesRoot string

	executor   executors.ScheduledExecutor
	cancelFunc context.CancelFunc

	// inProcess tracks profiles this scheduler is itself currently
	// spawning/awaiting a subprocess for (spec.md §4.5 step 2 "Skip if an
	// in-process lock for the profile is held").
	inProcess map[string]bool
}

// NewScheduler builds a Scheduler over profilesRoot.
func NewScheduler(config Config, profilesRoot string) *Scheduler {
	if config.BinaryPath == "" {
		if exe, err := os.Executable(); err == nil {
			config.BinaryPath = exe
		}
	}

	return &Scheduler{
		config:       config,
		profileStore: profile.NewStore(profilesRoot),
		profilesRoot: profilesRoot,
		executor:     executors.NewPoolScheduleExecutor(executors.WithMaxConcurrent(4)),
		inProcess:    map[string]bool{},
	}
}

// Start launches the periodic scan (spec.md §4.5 "every N minutes...").
func (s *Scheduler) Start(ctx context.Context) error {
	cancel, err := s.executor.ScheduleFuncAtCronRate(
		s.tick,
		executors.CRONRule{Expr: s.config.cron()},
	)
	if err != nil {
		return err
	}

	s.cancelFunc = cancel

	log.Info(ctx, "training scheduler started",
		log.String("profiles_root", s.profilesRoot),
		log.Duration("interval", s.config.interval()))

	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	return s.executor.Shutdown(ctx)
}

func (s *Scheduler) tick(ctx context.Context) {
	names, err := s.profileStore.Profiles()
	if err != nil {
		log.Error(ctx, "training scheduler: failed to enumerate profiles", log.Cause(err))
		return
	}

	for _, name := range names {
		s.considerProfile(ctx, name)
	}
}

func (s *Scheduler) considerProfile(ctx context.Context, name string) {
	prof, err := s.profileStore.Get(name)
	if err != nil {
		log.Warn(ctx, "training scheduler: failed to load profile", log.String("profile", name), log.Cause(err))
		return
	}

	// Step 1: reclaim a stale lock (dead pid or too old) so a crashed
	// prior run doesn't wedge the profile forever.
	reclaimStaleLock(ctx, prof.LockPath())

	// Step 2: skip if this scheduler is already awaiting a subprocess for
	// this profile.
	if s.inProcess[name] {
		log.Debug(ctx, "training scheduler: skip this round, already in flight", log.String("profile", name))
		return
	}

	// Step 3: cooldown after a recent failure.
	if cooldownActive(prof.StatusPath(), s.config.cooldown()) {
		log.Debug(ctx, "training scheduler: skip this round, in cooldown", log.String("profile", name))
		return
	}

	should, err := shouldTrain(prof)
	if err != nil {
		log.Warn(ctx, "training scheduler: should_train check failed", log.String("profile", name), log.Cause(err))
		return
	}

	if !should {
		return
	}

	s.inProcess[name] = true
	defer delete(s.inProcess, name)

	s.spawn(ctx, prof)
}

// shouldTrain implements spec.md §4.5 step 4: samples >= min_samples AND
// (model missing OR model mtime older than retrain_interval_minutes).
func shouldTrain(prof *profile.Profile) (bool, error) {
	store, err := samplestore.Open(prof.HistoryDir(), prof.HistoryDir()+".sqlite")
	if err != nil {
		return false, err
	}
	defer store.Close()

	count, err := store.Count()
	if err != nil {
		return false, err
	}

	if int(count) < prof.Training.MinSamples {
		return false, nil
	}

	info, err := os.Stat(prof.ModelPath())
	if err != nil {
		return true, nil
	}

	interval := time.Duration(prof.Training.RetrainIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 60 * time.Minute
	}

	return time.Since(info.ModTime()) > interval, nil
}

// spawn runs the training subprocess for prof, streaming its stdout into
// train.log line-by-line (spec.md §4.5 step 5) and interpreting its exit
// code per spec.md §6.5.
func (s *Scheduler) spawn(ctx context.Context, prof *profile.Profile) {
	if s.config.BinaryPath == "" {
		log.Error(ctx, "training scheduler: no binary path configured, cannot spawn trainer")
		return
	}

	cmd := exec.CommandContext(ctx, s.config.BinaryPath, "train", "--profile", prof.Name, "--root", s.profilesRoot)
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Error(ctx, "training scheduler: failed to open stdout pipe", log.Cause(err))
		return
	}

	cmd.Stderr = cmd.Stdout

	logFile, logErr := os.OpenFile(prof.TrainLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if logErr == nil {
		defer logFile.Close()
	}

	if err := cmd.Start(); err != nil {
		log.Error(ctx, "training scheduler: failed to start trainer subprocess", log.Cause(err), log.String("profile", prof.Name))
		return
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if logFile != nil {
			fmt.Fprintln(logFile, line)
		}
	}

	err = cmd.Wait()

	switch {
	case err == nil:
		log.Info(ctx, "training scheduler: trainer completed", log.String("profile", prof.Name))
	case isExitCode(err, ExitLockHeld):
		log.Info(ctx, "training scheduler: skip this round, lock held", log.String("profile", prof.Name))
	default:
		log.Error(ctx, "training scheduler: trainer subprocess failed", log.Cause(err), log.String("profile", prof.Name))
	}
}

func isExitCode(err error, code int) bool {
	var exitErr *exec.ExitError
	if !asExitError(err, &exitErr) {
		return false
	}

	return exitErr.ExitCode() == code
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}

	*target = ee

	return true
}

// reclaimStaleLock removes a profile's lock file if it is stale (spec.md
// §4.5 step 1), independent of acquiring it — the scheduler only probes,
// it never holds the training lock itself across a tick.
func reclaimStaleLock(ctx context.Context, path string) {
	info, err := readLockFile(path)
	if err != nil {
		return
	}

	if isStale(info) {
		log.Info(ctx, "training scheduler: reclaiming stale lock", log.String("path", path))
		releaseLock(path)
	}
}
