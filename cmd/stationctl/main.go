package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fuelops/stationledger/cmd/stationctl/cli"
	"github.com/fuelops/stationledger/internal/app"
	"github.com/fuelops/stationledger/internal/platform/db"
	"github.com/fuelops/stationledger/internal/safe"
	"github.com/fuelops/stationledger/internal/shared"
)

const usage = `usage:
  stationctl ledger verify [-station ID] [-json]
  stationctl jobs trigger -name TASK [-station ID] [-retention DURATION]
  stationctl jobs inspect
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	switch args[0] + " " + args[1] {
	case "ledger verify":
		fs := flag.NewFlagSet("ledger verify", flag.ContinueOnError)
		fs.SetOutput(stderr)
		station := fs.Int64("station", 0, "station id; 0 verifies every safe")
		jsonOut := fs.Bool("json", false, "emit JSON")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "connect database: %v\n", err)
			return 1
		}
		defer pool.Close()
		periodLoc, _ := cfg.PeriodLocation()
		ledger := safe.NewService(safe.NewRepository(pool), safe.ServiceConfig{
			Audit:          shared.NewAuditLogger(pool),
			PeriodLocation: periodLoc,
			Logger:         logger,
		})
		ledgerCLI, err := cli.NewLedgerCLI(ledger, logger)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		return ledgerCLI.VerifyCommand(ctx, cli.VerifyOptions{StationID: *station, JSONOutput: *jsonOut, Stdout: stdout, Stderr: stderr})
	case "jobs trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		fs.SetOutput(stderr)
		name := fs.String("name", "", "task type, e.g. safe:chain_audit")
		station := fs.Int64("station", 0, "station id for safe:chain_audit; 0 audits every safe")
		retention := fs.Duration("retention", 72*time.Hour, "retention for idempotency:cleanup")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		jobsCLI := cli.NewJobsCLI(redisOpts)
		defer jobsCLI.Close()
		return jobsCLI.TriggerCommand(ctx, cli.TriggerOptions{Name: *name, StationID: *station, Retention: *retention, Stdout: stdout, Stderr: stderr})
	case "jobs inspect":
		jobsCLI := cli.NewJobsCLI(redisOpts)
		defer jobsCLI.Close()
		return jobsCLI.InspectCommand(ctx, stdout, stderr)
	default:
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
}
