// Package main is wardenctl, the operator's command line for the warden
// trading governor. It launches headless validation runs and verifies the
// persisted record offline:
//
//	wardenctl start-shadow       run the pipeline with shadow execution
//	wardenctl start-simulation   run the pipeline with simulated execution
//	wardenctl replay-range       replay journal days against sealed snapshots
//	wardenctl snapshot-day       print and verify one sealed snapshot
//
// Every command exits 0 on success and 1 on failure, with the failure
// written to stderr. Offline commands read the same data directory the
// service writes; they never mutate it.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/config"
	"github.com/wardenlabs/warden/internal/database"
	"github.com/wardenlabs/warden/internal/di"
	"github.com/wardenlabs/warden/internal/domain"
	"github.com/wardenlabs/warden/internal/events"
	"github.com/wardenlabs/warden/internal/scheduler"
	"github.com/wardenlabs/warden/internal/snapshot"
	"github.com/wardenlabs/warden/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "start-shadow":
		err = runValidation(domain.ExecutionShadow)
	case "start-simulation":
		err = runValidation(domain.ExecutionSimulation)
	case "replay-range":
		err = runReplayRange(args)
	case "snapshot-day":
		err = runSnapshotDay(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "wardenctl: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "wardenctl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `wardenctl - operator commands for the warden trading governor

Usage:
  wardenctl <command> [flags]

Commands:
  start-shadow       Run the full pipeline headless with shadow execution
  start-simulation   Run the full pipeline headless with simulated execution
  replay-range       Replay journal days and compare against sealed snapshots
                       -from YYYY-MM-DD  range start (required)
                       -to   YYYY-MM-DD  range end (required)
                       -data DIR         data directory (default $WARDEN_DATA_DIR or ./data)
  snapshot-day       Print one sealed snapshot after verifying its checksum
                       -date YYYY-MM-DD  the sealed day (required)
                       -data DIR         data directory (default $WARDEN_DATA_DIR or ./data)

Validation runs use the same environment configuration as the service; the
execution mode is forced by the command. Offline commands print JSON on
stdout and diagnostics on stderr.
`)
}

// runValidation boots the full pipeline with the execution mode forced and
// runs until interrupted. Headless by design: the operator HTTP surface
// belongs to the service binary.
func runValidation(execMode domain.ExecutionMode) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Execution.Mode = execMode.String()

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Str("executionMode", cfg.Execution.Mode).Msg("Starting validation run")

	container, err := di.Wire(cfg, log)
	if err != nil {
		return err
	}
	defer container.Close()

	container.ApplyStartupPosture(cfg, log)

	if container.MarketFeed != nil {
		if err := container.MarketFeed.Start(); err != nil {
			log.Warn().Err(err).Msg("Market feed connection deferred to the reconnect loop")
		}
	}

	container.Queue.Start()
	defer container.Queue.Stop()

	sched := scheduler.New(log)
	if err := di.RegisterJobs(sched, container, cfg, log); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Validation run stopping")
	return nil
}

// diskJournal reads persisted days straight from the JSONL tree, so replay
// works without the service running.
type diskJournal struct {
	dir string
	log zerolog.Logger
}

func (d diskJournal) ForDay(day string) []events.Event {
	evts, err := events.ReadDay(d.dir, day)
	if err != nil {
		d.log.Warn().Err(err).Str("day", day).Msg("Failed to read journal day")
		return nil
	}
	return evts
}

func runReplayRange(args []string) error {
	fs := newFlagSet("replay-range")
	from := fs.String("from", "", "range start, YYYY-MM-DD")
	to := fs.String("to", "", "range end, YYYY-MM-DD")
	data := fs.String("data", "", "data directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *from == "" || *to == "" {
		return fmt.Errorf("both -from and -to are required")
	}

	dataDir, err := resolveDataDir(*data)
	if err != nil {
		return err
	}
	log := stderrLogger()

	store, closeStore, err := openSnapshotStore(dataDir, log)
	if err != nil {
		return err
	}
	defer closeStore()

	sealed, err := store.Range(*from, *to)
	if err != nil {
		return err
	}
	snaps := make(map[string]*snapshot.Snapshot, len(sealed))
	for i := range sealed {
		snaps[sealed[i].Snapshot.Date] = &sealed[i].Snapshot
	}

	journal := diskJournal{dir: filepath.Join(dataDir, "events"), log: log}
	days, err := snapshot.ReplayRange(*from, *to, journal, snaps)
	if err != nil {
		return err
	}

	divergent := 0
	for _, day := range days {
		if len(day.Discrepancies) > 0 {
			divergent++
		}
	}

	out := struct {
		From      string               `json:"from"`
		To        string               `json:"to"`
		Days      []snapshot.DayResult `json:"days"`
		Sealed    int                  `json:"sealed"`
		Divergent int                  `json:"divergent"`
	}{From: *from, To: *to, Days: days, Sealed: len(sealed), Divergent: divergent}

	if err := printJSON(out); err != nil {
		return err
	}
	if divergent > 0 {
		return fmt.Errorf("%d day(s) diverged from their sealed snapshots", divergent)
	}
	return nil
}

func runSnapshotDay(args []string) error {
	fs := newFlagSet("snapshot-day")
	date := fs.String("date", "", "the sealed day, YYYY-MM-DD")
	data := fs.String("data", "", "data directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *date == "" {
		return fmt.Errorf("-date is required")
	}

	dataDir, err := resolveDataDir(*data)
	if err != nil {
		return err
	}
	log := stderrLogger()

	store, closeStore, err := openSnapshotStore(dataDir, log)
	if err != nil {
		return err
	}
	defer closeStore()

	sealed, err := store.ByDate(*date)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return fmt.Errorf("day %s is not sealed", *date)
		}
		return err
	}

	// The stored checksum must match the stored bytes, and the replayed
	// counters must match the sealed ones. Either failure means the record
	// was tampered with or the journal lost events.
	sum := sha256.Sum256(sealed.Payload)
	if got := hex.EncodeToString(sum[:]); got != sealed.Checksum {
		return fmt.Errorf("checksum mismatch for %s: stored %s, payload hashes to %s", *date, sealed.Checksum, got)
	}

	journal := diskJournal{dir: filepath.Join(dataDir, "events"), log: log}
	replayed := snapshot.ReplayDay(*date, journal, &sealed.Snapshot)

	if _, err := os.Stdout.Write(append(sealed.Payload, '\n')); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "checksum %s verified, %d events replayed\n", sealed.Checksum[:12], replayed.Events)

	if len(replayed.Discrepancies) > 0 {
		for _, d := range replayed.Discrepancies {
			fmt.Fprintf(os.Stderr, "discrepancy: %s\n", d)
		}
		return fmt.Errorf("replay diverged from the sealed snapshot")
	}
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func resolveDataDir(flagValue string) (string, error) {
	_ = godotenv.Load()
	dir := flagValue
	if dir == "" {
		dir = os.Getenv("WARDEN_DATA_DIR")
	}
	if dir == "" {
		dir = "./data"
	}
	return filepath.Abs(dir)
}

func openSnapshotStore(dataDir string, log zerolog.Logger) (*snapshot.Store, func(), error) {
	path := filepath.Join(dataDir, "db", "snapshots.db")
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("no snapshot database at %s", path)
	}
	db, err := database.New(database.Config{Path: path, Profile: database.ProfileLedger, Name: "snapshots"})
	if err != nil {
		return nil, nil, err
	}
	store, err := snapshot.NewStore(db, log)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}

func stderrLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger().Level(zerolog.WarnLevel)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
