// Command guardianbridge is the process entry point: it loads
// internal/config, wires the pipeline/training/memory-guard subsystems,
// and either runs the HTTP proxy server or (invoked as `guardianbridge
// train --profile NAME --root DIR`) runs one training subprocess, the
// contract internal/training.Scheduler's spawn step assumes.
//
// Grounded on the teacher's cmd/axonhub/main.go subcommand dispatch
// shape (config/version/help/build-info), with the fx.App/ent/metrics
// composition dropped in favor of plain Go wiring (see DESIGN.md): this
// module has no database, GraphQL surface, or OpenTelemetry metrics
// exporter in scope.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andreazorzetto/yh/highlight"
	"github.com/hokaccha/go-prettyjson"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/looplj/guardianbridge/internal/config"
	"github.com/looplj/guardianbridge/internal/log"
	"github.com/looplj/guardianbridge/internal/memguard"
	"github.com/looplj/guardianbridge/internal/moderation/profile"
	"github.com/looplj/guardianbridge/internal/moderation/smart/localmodel"
	"github.com/looplj/guardianbridge/internal/pipeline"
	"github.com/looplj/guardianbridge/internal/pkg/httpclient"
	"github.com/looplj/guardianbridge/internal/samplestore"
	"github.com/looplj/guardianbridge/internal/server"
	"github.com/looplj/guardianbridge/internal/training"
)

// version is set via -ldflags "-X main.version=..." by the release build.
var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			handleConfigCommand()
			return
		case "train":
			os.Exit(runTrainCommand(os.Args[2:]))
		case "version", "--version", "-v":
			fmt.Println(version)
			return
		case "help", "--help", "-h":
			showHelp()
			return
		}
	}

	startServer()
}

func configPath() string {
	return os.Getenv("GUARDIANBRIDGE_CONFIG")
}

func startServer() {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if !cfg.Debug {
		logger, err := zap.NewProduction()
		if err == nil {
			log.SetLogger(logger)
		}
	}

	ctx := context.Background()

	profiles := profile.NewStore(cfg.Moderation.ProfilesRoot)
	modelCache := localmodel.NewCache(32)

	opener := func(prof *profile.Profile) (*samplestore.Store, error) {
		legacy := prof.Dir + "/history.db"
		return samplestore.Open(prof.HistoryDir(), legacy)
	}

	pipe := pipeline.New(pipeline.Dependencies{
		Profiles:    profiles,
		ModelCache:  modelCache,
		OpenSamples: opener,
		Upstream:    httpclient.NewHttpClient(),
		AIClient:    httpclient.NewHttpClient(),
	})

	scheduler := training.NewScheduler(cfg.Training, cfg.Moderation.ProfilesRoot)
	if err := scheduler.Start(ctx); err != nil {
		log.Error(ctx, "failed to start training scheduler", log.Cause(err))
		os.Exit(1)
	}

	guard := memguard.New(cfg.MemoryGuard, modelCache)
	if err := guard.Start(ctx); err != nil {
		log.Error(ctx, "failed to start memory guard", log.Cause(err))
		os.Exit(1)
	}

	srv := server.New(server.FromProcessConfig(*cfg))
	server.SetupRoutes(srv, pipe)

	go func() {
		if err := srv.Run(); err != nil {
			log.Error(ctx, "server run error", log.Cause(err))
			os.Exit(1)
		}
	}()

	waitForShutdown(ctx, srv, scheduler, guard)
}

func waitForShutdown(ctx context.Context, srv *server.Server, scheduler *training.Scheduler, guard *memguard.Guard) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown error", log.Cause(err))
	}

	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "scheduler shutdown error", log.Cause(err))
	}

	if err := guard.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "memory guard shutdown error", log.Cause(err))
	}
}

// runTrainCommand runs exactly one training subprocess for --profile under
// --root, the invocation internal/training.Scheduler's spawn step issues
// (spec.md §4.5 step 5), and returns the process exit code to use.
func runTrainCommand(args []string) int {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	profileName := fs.String("profile", "", "profile name to train")
	root := fs.String("root", "", "profiles root directory")
	_ = fs.Parse(args)

	if *profileName == "" || *root == "" {
		fmt.Fprintln(os.Stderr, "Usage: guardianbridge train --profile NAME --root DIR")
		return training.ExitFailed
	}

	store := profile.NewStore(*root)

	prof, err := store.Get(*profileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load profile %q: %v\n", *profileName, err)
		return training.ExitFailed
	}

	return training.RunSubprocess(context.Background(), prof)
}

func handleConfigCommand() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: guardianbridge config <preview|validate>")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "preview":
		configPreview()
	case "validate":
		configValidate()
	default:
		fmt.Println("Usage: guardianbridge config <preview|validate>")
		os.Exit(1)
	}
}

func configPreview() {
	format := "yml"

	for i := 3; i < len(os.Args); i++ {
		if os.Args[i] == "--format" || os.Args[i] == "-f" {
			if i+1 < len(os.Args) {
				format = os.Args[i+1]
			}
		}
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var output string

	switch format {
	case "json":
		b, err := prettyjson.Marshal(cfg)
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}

		output = string(b)
	case "yml", "yaml":
		b, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}

		output, err = highlight.Highlight(bytes.NewBuffer(b))
		if err != nil {
			fmt.Printf("Failed to preview config: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Unsupported format: %s\n", format)
		os.Exit(1)
	}

	fmt.Println(output)
}

func configValidate() {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	errs := validateConfig(cfg)
	if len(errs) == 0 {
		fmt.Println("Configuration is valid!")
		return
	}

	fmt.Println("Configuration validation failed:")

	for _, e := range errs {
		fmt.Printf("  - %s\n", e)
	}

	os.Exit(1)
}

func validateConfig(cfg *config.Config) []string {
	var errs []string

	if cfg.Server.Addr == "" {
		errs = append(errs, "server.addr cannot be empty")
	}

	if cfg.Moderation.ProfilesRoot == "" {
		errs = append(errs, "moderation.profiles_root cannot be empty")
	}

	if cfg.Server.CORS.Enabled && len(cfg.Server.CORS.AllowedOrigins) == 0 {
		errs = append(errs, "server.cors.allowed_origins cannot be empty when CORS is enabled")
	}

	return errs
}

func showHelp() {
	fmt.Println("GuardianBridge moderation proxy")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  guardianbridge                          Start the proxy server")
	fmt.Println("  guardianbridge config preview           Preview configuration")
	fmt.Println("  guardianbridge config validate           Validate configuration")
	fmt.Println("  guardianbridge train --profile NAME --root DIR   Run one training pass")
	fmt.Println("  guardianbridge version                  Show version")
	fmt.Println("  guardianbridge help                     Show this help message")
}
