package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/verikit/sheerid-batch/pkg/client"
	"github.com/verikit/sheerid-batch/pkg/logging"
	"github.com/verikit/sheerid-batch/pkg/runner"
	"github.com/verikit/sheerid-batch/pkg/store"
	"github.com/verikit/sheerid-batch/pkg/verify"
)

// appConfig is loaded from the environment, optionally seeded from a .env
// file in the working directory.
type appConfig struct {
	APIKey      string `envconfig:"SHEERID_API_KEY" default:""`
	BaseURL     string `envconfig:"SHEERID_BASE_URL" default:""`
	UserAgent   string `envconfig:"SHEERID_USER_AGENT" default:""`
	LinksFile   string `envconfig:"SHEERID_LINKS_FILE" default:"links.txt"`
	LogLevel    string `envconfig:"SHEERID_LOG_LEVEL" default:"info"`
	LogPretty   bool   `envconfig:"SHEERID_LOG_PRETTY" default:"true"`
	RedisURL    string `envconfig:"REDIS_URL" default:""`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:""`
}

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	var cfg appConfig
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	linksFile := flag.String("file", "", "links file (overrides SHEERID_LINKS_FILE)")
	cancelID := flag.String("cancel", "", "cancel the given verification instead of submitting")
	dryRun := flag.Bool("dry-run", false, "parse the links file and list the IDs without submitting")
	flag.Parse()

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	if *linksFile != "" {
		cfg.LinksFile = *linksFile
	}

	ctx := context.Background()

	verificationClient, err := client.New(client.Config{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		UserAgent: cfg.UserAgent,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create verification client")
	}

	// Out-of-band cancellation does not touch the links file.
	if *cancelID != "" {
		result, err := verificationClient.Cancel(ctx, *cancelID)
		if err != nil {
			logger.Fatal().Err(err).Str("verification_id", *cancelID).Msg("Cancellation failed")
		}
		fmt.Printf("%s: %s %s\n", *cancelID, result.Status, result.Message)
		return
	}

	ids, malformed, err := loadIDs(cfg.LinksFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.LinksFile).Msg("Failed to read links file")
	}
	for _, line := range malformed {
		logger.Warn().Str("line", line).Msg("No verification ID in line, skipping")
	}
	if len(ids) == 0 {
		logger.Fatal().Str("file", cfg.LinksFile).Msg("No verification IDs found")
	}

	if *dryRun {
		for _, id := range ids {
			fmt.Println(id)
		}
		fmt.Printf("%d verification IDs\n", len(ids))
		return
	}

	if cfg.APIKey == "" {
		logger.Warn().Msg("SHEERID_API_KEY is empty, the service will likely reject submissions")
	}

	// Optional Redis-backed record store.
	var recordStore *store.Store
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("addr", cfg.RedisURL).Msg("Connected to Redis")
		recordStore = store.New(redisClient)

		ids = skipVerified(ctx, recordStore, ids, logger)
		if len(ids) == 0 {
			fmt.Println("All IDs already verified, nothing to submit")
			return
		}
	}

	if cfg.MetricsAddr != "" {
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
			if err := http.ListenAndServe(cfg.MetricsAddr, newOpsMux(redisClient)); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	runnerCfg := runner.Config{}
	if recordStore != nil {
		runnerCfg.OnVerified = recordStore.MarkVerified
	}

	job := runner.New(verificationClient, runnerCfg).Start(ctx, ids)
	logger.Info().Str("job_id", job.ID()).Int("ids", len(ids)).Msg("Job started")

	// First interrupt stops after the current batch, second one aborts.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn().Msg("Interrupt received, stopping after the current batch")
		job.Stop()
		<-sigCh
		logger.Error().Msg("Second interrupt, exiting immediately")
		os.Exit(1)
	}()

	for event := range job.Progress() {
		fmt.Printf("%-26s %-12s %s\n", event.VerificationID, event.Status, event.Message)
	}
	results := <-job.Done()

	if recordStore != nil {
		for _, event := range results {
			if err := recordStore.RecordResult(ctx, event); err != nil {
				logger.Warn().Err(err).Str("verification_id", event.VerificationID).Msg("Failed to record result")
			}
		}
	}

	succeeded, failed := summarize(results)
	fmt.Printf("\n%d verified, %d failed, %d unprocessed\n", succeeded, failed, len(ids)-len(results))
}

// loadIDs reads a links file and extracts one verification ID per line.
// Lines without an extractable ID are returned separately for reporting.
func loadIDs(path string) (ids []string, malformed []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return parseIDs(f)
}

// parseIDs extracts verification IDs from link lines, skipping blanks and
// comments and dropping duplicates while preserving order.
func parseIDs(r io.Reader) (ids []string, malformed []string, err error) {
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		id, ok := verify.ExtractID(line)
		if !ok {
			malformed = append(malformed, line)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, malformed, scanner.Err()
}

// skipVerified drops IDs that a previous run already verified.
func skipVerified(ctx context.Context, recordStore *store.Store, ids []string, logger zerolog.Logger) []string {
	remaining := make([]string, 0, len(ids))
	for _, id := range ids {
		verified, err := recordStore.IsVerified(ctx, id)
		if err != nil {
			logger.Warn().Err(err).Str("verification_id", id).Msg("Verified lookup failed, submitting anyway")
			remaining = append(remaining, id)
			continue
		}
		if verified {
			logger.Info().Str("verification_id", id).Msg("Already verified, skipping")
			continue
		}
		remaining = append(remaining, id)
	}
	if skipped := len(ids) - len(remaining); skipped > 0 {
		logger.Info().Int("skipped", skipped).Msg("Skipped already verified IDs")
	}
	return remaining
}

// summarize counts terminal results by step.
func summarize(results map[string]verify.Event) (succeeded, failed int) {
	for _, event := range results {
		if event.CurrentStep == verify.StepSuccess {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// newOpsMux serves metrics and probe endpoints.
func newOpsMux(redisClient *redis.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports readiness. With no Redis configured there is nothing
// to wait for; with Redis the probe fails until it answers pings.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				http.Error(w, fmt.Sprintf("redis unavailable: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}
