// Command oralexam runs a live spoken examination from the terminal. The
// student talks to a remote voice agent through the local microphone and
// speakers; when the exam ends the transcript is graded and the report is
// printed and stored.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/echolabs/oralexam/internal/config"
	"github.com/echolabs/oralexam/internal/exam"
	"github.com/echolabs/oralexam/internal/health"
	"github.com/echolabs/oralexam/internal/observe"
	"github.com/echolabs/oralexam/internal/results"
	pgresults "github.com/echolabs/oralexam/internal/results/postgres"
	"github.com/echolabs/oralexam/pkg/audio"
	"github.com/echolabs/oralexam/pkg/audio/capture"
	"github.com/echolabs/oralexam/pkg/audio/playback"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// finishGrace is added to the analysis timeout when bounding Finish.
const finishGrace = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	code := flag.String("assessment", "", "join code of the assessment to take")
	student := flag.String("student", "", "student name recorded on the result")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "oralexam: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "oralexam: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	in := bufio.NewReader(os.Stdin)
	if *code == "" {
		*code = prompt(in, "Assessment code: ")
	}
	assessment, err := cfg.Assessment(*code)
	if err != nil {
		fmt.Fprintf(os.Stderr, "oralexam: %v\n", err)
		return 1
	}
	if *student == "" {
		*student = prompt(in, "Your name: ")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, metrics)

	agentProvider, err := buildAgent(cfg, reg)
	if err != nil {
		slog.Error("failed to build agent", "err", err)
		return 1
	}
	analyzer, err := buildAnalyzer(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build analyzer", "err", err)
		return 1
	}

	// ── Result sinks ──────────────────────────────────────────────────────────
	checkers := []health.Checker{{Name: "analysis", Check: analyzer.ready}}
	var savers []results.Saver
	if dsn := cfg.Results.PostgresDSN; dsn != "" {
		store, err := pgresults.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect results database", "err", err)
			return 1
		}
		defer store.Close()
		savers = append(savers, store)
		checkers = append(checkers, health.Checker{Name: "postgres", Check: store.Ping})
	}
	if path := cfg.Results.FilePath; path != "" {
		savers = append(savers, results.NewFileStore(path))
	}
	if url := cfg.Results.WebhookURL; url != "" {
		wh, err := results.NewWebhook(url, results.WithWebhookToken(cfg.Results.WebhookToken))
		if err != nil {
			slog.Error("invalid results webhook", "err", err)
			return 1
		}
		savers = append(savers, wh)
	}

	// ── Operator listener ─────────────────────────────────────────────────────
	srvCtx, stopSrv := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(srvCtx)
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", tel.Handler())
		health.New(checkers...).Register(mux)
		srv := &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
		slog.Info("operator listener started", "addr", cfg.Server.ListenAddr)
	}
	defer func() {
		stopSrv()
		if err := g.Wait(); err != nil {
			slog.Warn("operator listener error", "err", err)
		}
	}()

	// ── Session ───────────────────────────────────────────────────────────────
	status := newStatusLine(os.Stdout)
	sess, err := exam.New(exam.Config{
		Assessment:   assessment,
		StudentName:  *student,
		Voice:        cfg.Agent.Voice,
		Minutes:      cfg.Exam.Minutes,
		InputFormat:  audio.Format{SampleRate: cfg.Audio.InputSampleRate, Channels: 1},
		OutputFormat: audio.Format{SampleRate: cfg.Audio.OutputSampleRate, Channels: 1},
		FrameSize:    cfg.Audio.FrameSize,
	}, exam.Deps{
		Agent:    agentProvider,
		Analyzer: analyzer,
		Input:    capture.New(capture.WithLogger(logger)),
		Output:   playback.New(),
	},
		exam.WithTurnOrder(cfg.Exam.TurnOrder.Exam()),
		exam.WithLogger(logger),
		exam.WithMetrics(metrics),
		exam.WithEntryHook(status.Entry),
	)
	if err != nil {
		slog.Error("failed to create session", "err", err)
		return 1
	}
	sctx := observe.WithSession(ctx, sess.ID())

	fmt.Printf("Starting %s for %s. Connecting to %s…\n", titleOf(assessment), *student, agentProvider.Name())
	if err := sess.Start(sctx); err != nil {
		fmt.Fprintf(os.Stderr, "oralexam: could not start the exam: %v\n", err)
		return 1
	}
	fmt.Println("Exam in progress. Press Enter to finish.")

	reason := waitForEnd(ctx, sess, in, cfg.Exam.MaxDuration, status)
	status.Clear()
	fmt.Printf("\nExam ended (%s). Grading…\n", reason)

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(sctx), cfg.Analysis.Timeout+finishGrace)
	defer cancel()
	res, err := sess.Finish(finishCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "oralexam: %v\n", err)
		return 1
	}
	printReport(os.Stdout, res)

	if len(savers) > 0 {
		if err := results.Fanout(savers...).Save(finishCtx, res); err != nil {
			observe.Logger(sctx).Error("failed to save result", "err", err)
			return 1
		}
		observe.Logger(sctx).Info("result saved", "result_id", res.ID, "sinks", len(savers))
	}
	return 0
}

// waitForEnd blocks until the exam should finish and says why.
func waitForEnd(ctx context.Context, sess *exam.Session, in *bufio.Reader, maxDuration time.Duration, status *statusLine) string {
	enter := make(chan struct{})
	go func() {
		_, _ = in.ReadString('\n')
		close(enter)
	}()

	var limit <-chan time.Time
	if maxDuration > 0 {
		t := time.NewTimer(maxDuration)
		defer t.Stop()
		limit = t.C
	}

	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-enter:
			return "finished by student"
		case <-ctx.Done():
			return "interrupted"
		case <-sess.Done():
			return "connection closed"
		case <-limit:
			return "time limit reached"
		case <-tick.C:
			status.Clock(sess.Elapsed())
		}
	}
}

func prompt(in *bufio.Reader, label string) string {
	fmt.Print(label)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	return strings.TrimSpace(line)
}

func titleOf(a exam.Assessment) string {
	if a.Title != "" {
		return fmt.Sprintf("%q (%s)", a.Title, a.Code)
	}
	return a.Code
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
