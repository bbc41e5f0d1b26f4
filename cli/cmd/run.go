package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/sluice/adapter"
	"github.com/pithecene-io/sluice/backend"
	"github.com/pithecene-io/sluice/backend/builtin"
	"github.com/pithecene-io/sluice/cli/config"
	"github.com/pithecene-io/sluice/cli/render"
	"github.com/pithecene-io/sluice/combiner"
	"github.com/pithecene-io/sluice/iox"
	"github.com/pithecene-io/sluice/lode"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/trace"
	"github.com/pithecene-io/sluice/types"
)

// Exit codes of sluice run.
const (
	exitSuccess           = 0
	exitTraceError        = 1
	exitInvalidInput      = 2
	exitOrderingViolation = 3
)

// stopTimeout bounds the Stop issued on SIGINT/SIGTERM.
const stopTimeout = 10 * time.Second

// reportFilename is the name of the report sidecar in the results dataset.
const reportFilename = "report.json"

// RunCommand returns the run command.
// This is the only command that processes packets.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Process a packet source in parallel and report ordered results",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to sluice.yaml; flags override its values",
			},
			// Trace flags
			&cli.StringFlag{
				Name:  "uri",
				Usage: "Packet source URI (mem:<count>, pcapfile:<path>, framed:<path>)",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of workers (0 = GOMAXPROCS)",
			},
			&cli.StringFlag{
				Name:  "combiner",
				Usage: "Result combiner: ordered or sorted",
				Value: combiner.DefaultName,
			},
			&cli.IntFlag{
				Name:  "buffer-size",
				Usage: "Read buffer capacity in bytes (0 = default)",
			},
			&cli.DurationFlag{
				Name:  "tick-interval",
				Usage: "Post an interval tick at this period (0 = off)",
			},
			&cli.Uint64Flag{
				Name:  "tick-count",
				Usage: "Post a count tick every N packets per worker (0 = off)",
			},
			&cli.Uint64Flag{
				Name:  "pause-after",
				Usage: "Pause and restart the trace once N results are delivered (0 = off)",
			},
			&cli.DurationFlag{
				Name:  "pause-timeout",
				Usage: "Warn when a worker takes longer than this to pause",
				Value: trace.DefaultPauseTimeout,
			},
			&cli.StringFlag{
				Name:  "write",
				Usage: "Write every delivered packet to this sink URI (pcapfile:<path>, framed:<path>)",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON trace report to this path (- for stderr)",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write final counters in Prometheus text format to this path",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the summary and informational logs",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
			FormatFlag,
			NoColorFlag,
			// Results dataset flags
			&cli.StringFlag{
				Name:  "output-backend",
				Usage: "Results dataset backend: fs, s3 or none",
				Value: outputBackendFS,
			},
			&cli.StringFlag{
				Name:  "output-path",
				Usage: "Results dataset location (fs: directory, s3: bucket/prefix); empty disables persistence",
			},
			&cli.StringFlag{
				Name:  "output-dataset",
				Usage: "Results dataset ID",
				Value: lode.DefaultDataset,
			},
			&cli.StringFlag{
				Name:  "output-region",
				Usage: "AWS region for the s3 backend (default chain when empty)",
			},
			&cli.StringFlag{
				Name:  "output-endpoint",
				Usage: "Custom S3 endpoint (MinIO, R2)",
			},
			&cli.BoolFlag{
				Name:  "output-s3-path-style",
				Usage: "Force path-style S3 addressing",
			},
			&cli.BoolFlag{
				Name:  "output-include-data",
				Usage: "Persist packet bytes with each result",
			},
			&cli.IntFlag{
				Name:  "output-batch-size",
				Usage: "Results per dataset write (0 = default)",
			},
			// Completion adapter flags
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Completion adapter: webhook or redis",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Webhook URL or Redis URL",
			},
			&cli.StringSliceFlag{
				Name:  "adapter-header",
				Usage: "Extra webhook header as key=value (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "adapter-timeout",
				Usage: "Per-attempt adapter timeout",
				Value: 10 * time.Second,
			},
			&cli.IntFlag{
				Name:  "adapter-retries",
				Usage: "Adapter retry attempts",
				Value: 3,
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis pub/sub channel",
			},
		},
		Action: runAction,
	}
}

// runChoice holds the resolved run configuration.
type runChoice struct {
	uri          string
	workers      int
	combiner     string
	bufferSize   int
	tickInterval time.Duration
	tickCount    uint64
	pauseAfter   uint64
	pauseTimeout time.Duration
	write        string
	report       string
	metricsFile  string
	quiet        bool
	logLevel     string
	output       outputChoice
	adapter      *adapterChoice
}

func runAction(c *cli.Context) error {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		cfg = loaded
	}

	choice, err := resolveRunChoice(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	return executeRun(c, choice)
}

// resolveRunChoice merges flags over cfg and validates the result.
func resolveRunChoice(c *cli.Context, cfg *config.Config) (*runChoice, error) {
	choice := &runChoice{
		uri:          resolveString(c, "uri", configVal(cfg, func(c *config.Config) string { return c.URI })),
		workers:      resolveInt(c, "workers", configVal(cfg, func(c *config.Config) int { return c.Workers })),
		combiner:     resolveString(c, "combiner", configVal(cfg, func(c *config.Config) string { return c.Combiner })),
		bufferSize:   resolveInt(c, "buffer-size", configVal(cfg, func(c *config.Config) int { return c.BufferSize })),
		tickInterval: resolveDuration(c, "tick-interval", configVal(cfg, func(c *config.Config) time.Duration { return c.Tick.Interval.Duration })),
		tickCount:    resolveUint64(c, "tick-count", configVal(cfg, func(c *config.Config) uint64 { return c.Tick.Count })),
		pauseAfter:   c.Uint64("pause-after"),
		pauseTimeout: resolveDuration(c, "pause-timeout", configVal(cfg, func(c *config.Config) time.Duration { return c.PauseTimeout.Duration })),
		write:        resolveString(c, "write", configVal(cfg, func(c *config.Config) string { return c.Write })),
		report:       c.String("report"),
		metricsFile:  c.String("metrics-file"),
		quiet:        c.Bool("quiet"),
		logLevel:     resolveString(c, "log-level", configVal(cfg, func(c *config.Config) string { return c.Log.Level })),
		output: outputChoice{
			backend:     resolveString(c, "output-backend", configVal(cfg, func(c *config.Config) string { return c.Output.Backend })),
			dataset:     resolveString(c, "output-dataset", configVal(cfg, func(c *config.Config) string { return c.Output.Dataset })),
			path:        resolveString(c, "output-path", configVal(cfg, func(c *config.Config) string { return c.Output.Path })),
			region:      resolveString(c, "output-region", configVal(cfg, func(c *config.Config) string { return c.Output.Region })),
			endpoint:    resolveString(c, "output-endpoint", configVal(cfg, func(c *config.Config) string { return c.Output.Endpoint })),
			pathStyle:   resolveBool(c, "output-s3-path-style", configVal(cfg, func(c *config.Config) bool { return c.Output.S3PathStyle })),
			includeData: resolveBool(c, "output-include-data", configVal(cfg, func(c *config.Config) bool { return c.Output.IncludeData })),
			batchSize:   resolveInt(c, "output-batch-size", configVal(cfg, func(c *config.Config) int { return c.Output.BatchSize })),
		},
	}

	if choice.uri == "" {
		return nil, errors.New("--uri is required (or set uri in the config file)")
	}
	if _, _, err := backend.ParseURI(choice.uri); err != nil {
		return nil, fmt.Errorf("invalid --uri: %w", err)
	}
	if choice.workers < 0 {
		return nil, fmt.Errorf("--workers must be >= 0, got %d", choice.workers)
	}
	if choice.bufferSize < 0 {
		return nil, fmt.Errorf("--buffer-size must be >= 0, got %d", choice.bufferSize)
	}
	if !slices.Contains(combiner.Names(), choice.combiner) {
		return nil, fmt.Errorf("invalid --combiner %q (available: %v)", choice.combiner, combiner.Names())
	}
	if choice.tickInterval < 0 {
		return nil, fmt.Errorf("--tick-interval must not be negative, got %v", choice.tickInterval)
	}
	if err := log.NewNop().SetLevel(choice.logLevel); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	if err := choice.output.validate(); err != nil {
		return nil, err
	}

	adapterType := resolveString(c, "adapter", configVal(cfg, func(c *config.Config) string { return c.Adapter.Type }))
	if adapterType != "" {
		ac, err := parseAdapterConfigWithPrecedence(c, cfg, adapterType)
		if err != nil {
			return nil, err
		}
		choice.adapter = ac
	}
	return choice, nil
}

func executeRun(c *cli.Context, choice *runChoice) error {
	logger := newRunLogger(c, choice)
	defer iox.DiscardErr(logger.Sync)

	scheme, _, _ := backend.ParseURI(choice.uri)
	storageName := outputBackendNone
	if choice.output.enabled() {
		storageName = choice.output.backend
	}
	collector := metrics.NewCollector(choice.combiner, scheme, storageName, "")

	comb, err := combiner.New(choice.combiner, combiner.Options{Logger: logger})
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	t, err := trace.Create(trace.Config{
		URI:          choice.uri,
		Workers:      choice.workers,
		BufferSize:   choice.bufferSize,
		TickInterval: choice.tickInterval,
		TickCount:    choice.tickCount,
		PauseTimeout: choice.pauseTimeout,
		Logger:       logger,
		Collector:    collector,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot create trace: %v", err), exitCodeForSetup(err))
	}
	defer iox.DiscardErr(t.Destroy)
	if err := t.SetCombiner(comb); err != nil {
		return cli.Exit(fmt.Sprintf("cannot set combiner: %v", err), exitTraceError)
	}
	meta := t.Meta()
	collector.SetTraceID(meta.TraceID)
	logger = logger.With("trace_id", meta.TraceID)

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	startTime := time.Now()
	rep := newRunReporter(ctx, logger, collector)
	rep.pauseAfter = choice.pauseAfter

	var client *lode.LodeClient
	var lodeCfg lode.Config
	if choice.output.enabled() {
		lodeCfg = newLodeConfig(choice.output, scheme, comb.Name(), meta.TraceID, startTime)
		client, err = buildLodeClient(ctx, choice.output, lodeCfg)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot open results dataset: %v", err), exitTraceError)
		}
		rep.results = lode.NewResultSink(lodeCfg, client, lode.SinkConfig{
			BatchSize:   choice.output.batchSize,
			IncludeData: choice.output.includeData,
			Logger:      logger,
			Collector:   collector,
		})
	}

	if choice.write != "" {
		sink, err := builtin.NewRegistry().OpenSink(choice.write)
		if err != nil {
			closeResults(ctx, rep, logger)
			return cli.Exit(fmt.Sprintf("invalid --write: %v", err), exitInvalidInput)
		}
		if err := sink.Start(ctx); err != nil {
			iox.DiscardClose(sink)
			closeResults(ctx, rep, logger)
			return cli.Exit(fmt.Sprintf("cannot open --write sink: %v", err), exitTraceError)
		}
		rep.frames = sink
	}

	if err := t.Start(ctx, forwardPackets, rep.handle); err != nil {
		_ = iox.CloseAll(rep.frames)
		closeResults(ctx, rep, logger)
		return cli.Exit(fmt.Sprintf("cannot start trace: %v", err), exitTraceError)
	}
	logger.Info("trace started", map[string]any{
		"uri":      choice.uri,
		"workers":  t.Workers(),
		"combiner": comb.Name(),
	})

	joinErr := superviseRun(ctx, t, rep, logger)

	if rep.frames != nil {
		if err := rep.frames.Close(); err != nil && rep.writeErr == nil {
			rep.writeErr = err
		}
	}

	summary := t.Summary()
	snap := collector.Snapshot()

	// Persistence happens on a fresh context so an interrupted run still
	// records what it processed.
	persistCtx := context.WithoutCancel(ctx)
	if rep.results != nil {
		rec := lode.NewSummaryRecord(lode.SummaryInput{
			URI:                meta.URI,
			Workers:            meta.Workers,
			State:              summary.State,
			StartedAt:          summary.StartedAt,
			FinishedAt:         summary.FinishedAt,
			Err:                summary.Err,
			ErrorCount:         summary.ErrorCount,
			OrderingViolations: rep.violations,
		}, snap, lodeCfg)
		if err := rep.results.WriteSummary(persistCtx, rec); err != nil && rep.storeErr == nil {
			rep.storeErr = err
		}
	}

	exitCode, exitMsg := runOutcome(joinErr, t.Errors(), rep)
	report := trace.BuildReport(summary, collector.Snapshot(), rep.violations, exitCode)

	if choice.report != "" {
		if err := trace.WriteReport(report, choice.report); err != nil {
			logger.Error("report not written", map[string]any{"error": err.Error()})
		}
	}
	if choice.metricsFile != "" {
		if err := metrics.WriteTextfile(collector, choice.metricsFile); err != nil {
			logger.Error("metrics file not written", map[string]any{"error": err.Error()})
		}
	}
	if client != nil {
		writeReportSidecar(persistCtx, client, report, logger)
		closeResults(persistCtx, rep, logger)
	}

	if choice.adapter != nil {
		a, err := buildAdapter(choice.adapter)
		if err != nil {
			logger.Warn("adapter not created", map[string]any{"error": err.Error()})
		} else {
			event := buildTraceCompletedEvent(report, lodeCfg, buildStoragePath(choice.output, lodeCfg), scheme, startTime)
			publishCompletion(persistCtx, a, event, logger)
		}
	}

	if !choice.quiet {
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		if err := r.Render(report); err != nil {
			return cli.Exit(fmt.Sprintf("cannot render summary: %v", err), exitTraceError)
		}
	}

	if exitCode == exitSuccess {
		return nil
	}
	return cli.Exit(exitMsg, exitCode)
}

// newRunLogger builds the run logger on the app's error writer.
func newRunLogger(c *cli.Context, choice *runChoice) *log.Logger {
	var w io.Writer = os.Stderr
	if c.App != nil && c.App.ErrWriter != nil {
		w = c.App.ErrWriter
	}
	logger := log.NewLogger(nil).WithOutput(w)
	level := choice.logLevel
	if choice.quiet && !c.IsSet("log-level") {
		level = "error"
	}
	_ = logger.SetLevel(level)
	return logger
}

// superviseRun waits for the trace to finish, applying --pause-after and
// stopping the trace on cancellation. Returns the Join error.
func superviseRun(ctx context.Context, t *trace.Trace, rep *runReporter, logger *log.Logger) error {
	for {
		select {
		case <-t.Done():
			return t.Join(context.Background())

		case <-rep.pauseCh:
			if err := t.Pause(ctx); err != nil {
				// The trace may already be finishing on its own.
				logger.Debug("pause skipped", map[string]any{"error": err.Error()})
				continue
			}
			logger.Info("trace paused", map[string]any{"delivered": rep.pauseAfter})
			if err := t.Start(ctx, forwardPackets, rep.handle); err != nil {
				logger.Error("restart failed", map[string]any{"error": err.Error()})
				return stopAndJoin(t)
			}
			logger.Info("trace resumed", nil)

		case <-ctx.Done():
			logger.Warn("interrupted, stopping trace", nil)
			return stopAndJoin(t)
		}
	}
}

func stopAndJoin(t *trace.Trace) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := t.Stop(ctx); err != nil {
		return err
	}
	return t.Join(ctx)
}

// writeReportSidecar stores the report next to the trace's records.
func writeReportSidecar(ctx context.Context, fw lode.FileWriter, report *trace.Report, logger *log.Logger) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err == nil {
		err = fw.PutFile(ctx, reportFilename, "application/json", data)
	}
	if err != nil {
		logger.Warn("report sidecar not written", map[string]any{"error": err.Error()})
	}
}

// closeResults flushes and closes the results sink, if any.
func closeResults(ctx context.Context, rep *runReporter, logger *log.Logger) {
	if rep.results == nil {
		return
	}
	if err := rep.results.Close(ctx); err != nil {
		if rep.storeErr == nil {
			rep.storeErr = err
		}
		logger.Error("results dataset close failed", map[string]any{"error": err.Error()})
	}
	rep.results = nil
}

// exitCodeForSetup maps a trace creation error to an exit code.
// Problems with what the user asked for are invalid input.
func exitCodeForSetup(err error) int {
	switch types.ErrorCodeOf(err) {
	case types.ErrCodeURI, types.ErrCodeUnknownOption, types.ErrCodeUnsupported:
		return exitInvalidInput
	default:
		return exitTraceError
	}
}

// runOutcome decides the exit code and message of a finished run.
// Malformed frames are skipped and never fail a run by themselves, and
// neither does a refused control call, such as --pause-after landing on
// a trace that is already finishing.
func runOutcome(joinErr error, errs []*types.TraceError, rep *runReporter) (int, string) {
	if joinErr != nil {
		return exitTraceError, fmt.Sprintf("trace failed: %v", joinErr)
	}
	for _, e := range errs {
		switch e.Code {
		case types.ErrCodeBadFrame, types.ErrCodeBadState:
		default:
			return exitTraceError, fmt.Sprintf("trace error: %v", e)
		}
	}
	if rep.violations > 0 {
		return exitOrderingViolation, fmt.Sprintf("ordering violations: %d", rep.violations)
	}
	if rep.writeErr != nil {
		return exitTraceError, fmt.Sprintf("frame write failed: %v", rep.writeErr)
	}
	if rep.storeErr != nil {
		return exitTraceError, fmt.Sprintf("result persistence failed: %v", rep.storeErr)
	}
	return exitSuccess, ""
}

// buildTraceCompletedEvent builds the adapter payload from the report.
func buildTraceCompletedEvent(report *trace.Report, cfg lode.Config, storagePath, source string, startTime time.Time) *adapter.TraceCompletedEvent {
	day := cfg.Day
	if day == "" {
		day = lode.DeriveDay(startTime)
	}
	event := &adapter.TraceCompletedEvent{
		ContractVersion:    adapter.ContractVersion,
		EventType:          adapter.EventTypeTraceCompleted,
		TraceID:            report.TraceID,
		URI:                report.URI,
		Source:             source,
		Workers:            report.Workers,
		Day:                day,
		State:              report.State,
		StoragePath:        storagePath,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		OrderingViolations: report.OrderingViolations,
		DurationMs:         report.DurationMs,
	}
	if report.Combiner != nil {
		event.Combiner = report.Combiner.Name
	}
	if report.Metrics != nil {
		event.PacketsRead = report.Metrics.PacketsRead
		event.ResultsDelivered = report.Metrics.ResultsDelivered
	}
	if report.Error != nil {
		event.ErrorCode = report.Error.Code
		event.ErrorMessage = report.Error.Message
	}
	return event
}
