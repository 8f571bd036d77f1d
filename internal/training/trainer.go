// Package training implements the Trainer Scheduler and training
// subprocess of spec.md §4.5: cron-scheduled scans of the profiles root,
// file-lock-serialized subprocess training, stale-lock reclamation, and
// atomic model swap-in.
package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/looplj/guardianbridge/internal/log"
	"github.com/looplj/guardianbridge/internal/moderation/profile"
	"github.com/looplj/guardianbridge/internal/moderation/smart/localmodel"
	"github.com/looplj/guardianbridge/internal/samplestore"
)

// Exit codes of the trainer subprocess (spec.md §6.5).
const (
	ExitCompleted   = 0
	ExitFailed      = 1
	ExitLockHeld    = 2
	minTrainSamples = 20 // soft floor below a profile's own min_samples
)

// GlobalLockPath is the well-known file-lock path that serializes training
// across every profile and model type on this node (spec.md §4.5 "A global
// training lock... serializes training across all profiles and model
// types").
var GlobalLockPath = filepath.Join(os.TempDir(), "guardianbridge-train.lock")

// RunSubprocess is the entry point of the training subprocess spawned by
// the Scheduler (spec.md §4.5 "Training subprocess"). It returns the
// process exit code to use (0/1/2 per spec.md §6.5); it never panics.
func RunSubprocess(ctx context.Context, prof *profile.Profile) int {
	parentPID := os.Getppid()

	gotGlobal, err := acquireLock(GlobalLockPath, LockSubprocess, parentPID)
	if err != nil {
		log.Error(ctx, "training: failed to acquire global lock", log.Cause(err))
		return ExitFailed
	}

	if !gotGlobal {
		return ExitLockHeld
	}
	defer releaseLock(GlobalLockPath)

	gotProfile, err := acquireLock(prof.LockPath(), LockSubprocess, parentPID)
	if err != nil {
		log.Error(ctx, "training: failed to acquire profile lock", log.Cause(err), log.String("profile", prof.Name))
		return ExitFailed
	}

	if !gotProfile {
		return ExitLockHeld
	}
	defer releaseLock(prof.LockPath())

	if err := writeStatus(prof.StatusPath(), Status{Status: StatusStarted}); err != nil {
		log.Warn(ctx, "training: failed to write start status", log.Cause(err))
	}

	if err := train(ctx, prof); err != nil {
		log.Error(ctx, "training: run failed", log.Cause(err), log.String("profile", prof.Name))

		_ = writeStatus(prof.StatusPath(), Status{
			Status: StatusFailed,
			Error:  truncateError(err),
		})

		return ExitFailed
	}

	_ = writeStatus(prof.StatusPath(), Status{
		Status:    StatusCompleted,
		ModelPath: prof.ModelPath(),
	})

	return ExitCompleted
}

func truncateError(err error) string {
	s := err.Error()
	if len(s) > 2000 {
		s = s[:2000]
	}

	return s
}

// train loads samples per the profile's sample_loading strategy and trains
// the configured local-model variant, validating the written file before
// returning (spec.md §4.5 steps 3-5).
func train(ctx context.Context, prof *profile.Profile) error {
	store, err := samplestore.Open(prof.HistoryDir(), prof.HistoryDir()+".sqlite")
	if err != nil {
		return fmt.Errorf("open sample store: %w", err)
	}
	defer store.Close()

	maxPerClass := prof.Training.MaxSamples / 2
	if maxPerClass <= 0 {
		maxPerClass = 1000
	}

	strategy := samplestore.SampleLoading(prof.Training.SampleLoading)
	if strategy == "" {
		strategy = samplestore.LoadBalancedUndersample
	}

	samples, err := store.LoadSamples(strategy, maxPerClass, prof.Probability.RandomSeed)
	if err != nil {
		return fmt.Errorf("load samples: %w", err)
	}

	if len(samples) < max(prof.Training.MinSamples, minTrainSamples) {
		log.Info(ctx, "training: below sample threshold, soft success",
			log.String("profile", prof.Name), log.Int("samples", len(samples)))

		return nil
	}

	labeled := make([]localmodel.LabeledText, len(samples))
	for i, s := range samples {
		labeled[i] = localmodel.LabeledText{Text: s.Text, Label: s.Label}
	}

	cfg := localmodel.TrainConfig{
		Epochs:     prof.Training.Epochs,
		BatchSize:  prof.Training.BatchSize,
		MaxSeconds: prof.Training.MaxSeconds,
		OnProgress: progressLogger(ctx, prof.Name, prof.TrainLogPath()),
	}

	switch prof.LocalModelType {
	case profile.ModelBoW:
		return trainBoW(prof, labeled, cfg)
	case profile.ModelHashLinear:
		return trainHashLinear(prof, labeled, cfg)
	case profile.ModelFastText:
		return trainFastText(ctx, prof, labeled)
	default:
		return fmt.Errorf("unknown local_model_type %q", prof.LocalModelType)
	}
}

func trainBoW(prof *profile.Profile, samples []localmodel.LabeledText, cfg localmodel.TrainConfig) error {
	model := localmodel.TrainBoW(samples, prof.Training.MaxFeatures, cfg)

	modelPath := filepath.Join(prof.Dir, "bow.model")
	vecPath := filepath.Join(prof.Dir, "bow.vectorizer")

	if err := localmodel.SaveBoWModel(modelPath, vecPath, model); err != nil {
		return fmt.Errorf("save bow model: %w", err)
	}

	if _, err := localmodel.LoadBoWModel(modelPath, vecPath); err != nil {
		return fmt.Errorf("validate bow model: %w", err)
	}

	return nil
}

func trainHashLinear(prof *profile.Profile, samples []localmodel.LabeledText, cfg localmodel.TrainConfig) error {
	model := localmodel.TrainHashLinear(samples, cfg)

	path := filepath.Join(prof.Dir, "hashlinear.model")

	if err := localmodel.SaveHashLinearModel(path, model); err != nil {
		return fmt.Errorf("save hashlinear model: %w", err)
	}

	if _, err := localmodel.LoadHashLinearModel(path); err != nil {
		return fmt.Errorf("validate hashlinear model: %w", err)
	}

	return nil
}

// trainFastText writes samples in fastText's "__label__N text" input
// format, shells out to TrainFastText, then atomically swaps the produced
// model into place (spec.md §4.5 step 5).
func trainFastText(ctx context.Context, prof *profile.Profile, samples []localmodel.LabeledText) error {
	inputPath := filepath.Join(prof.Dir, ".fasttext_train.txt")

	var sb strings.Builder

	for _, s := range samples {
		sb.WriteString("__label__")
		sb.WriteString(strconv.Itoa(s.Label))
		sb.WriteByte(' ')
		sb.WriteString(strings.ReplaceAll(s.Text, "\n", " "))
		sb.WriteByte('\n')
	}

	if err := os.WriteFile(inputPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write fasttext input: %w", err)
	}
	defer os.Remove(inputPath)

	tmpPrefix := filepath.Join(prof.Dir, ".fasttext_train_tmp")

	timeout := time.Duration(prof.Training.MaxSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	trainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := localmodel.TrainFastText(trainCtx, inputPath, tmpPrefix, prof.Training.Epochs); err != nil {
		return fmt.Errorf("fasttext supervised: %w", err)
	}

	tmpBin := tmpPrefix + ".bin"
	defer os.Remove(tmpBin)

	modelPath := filepath.Join(prof.Dir, "fasttext.bin")
	if err := os.Rename(tmpBin, modelPath); err != nil {
		return fmt.Errorf("swap fasttext model: %w", err)
	}

	if _, err := localmodel.LoadFastTextModel(modelPath, prof.AI.Timeout); err != nil {
		return fmt.Errorf("validate fasttext model: %w", err)
	}

	return nil
}

func progressLogger(ctx context.Context, name, logPath string) func(done, total int, elapsed time.Duration) {
	return func(done, total int, elapsed time.Duration) {
		rate := float64(done) / max(elapsed.Seconds(), 0.001)

		line := fmt.Sprintf("%s profile=%s samples=%d/%d rate=%.1f/s elapsed=%s\n",
			time.Now().UTC().Format(time.RFC3339), name, done, total, rate, elapsed.Round(time.Millisecond))

		appendLine(logPath, line)
	}
}

func appendLine(path, line string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	_, _ = f.WriteString(line)
}
