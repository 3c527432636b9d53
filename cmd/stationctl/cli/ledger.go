package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fuelops/stationledger/internal/safe"
	"github.com/fuelops/stationledger/jobs"
)

// LedgerCLI runs safe ledger maintenance commands.
type LedgerCLI struct {
	audit *jobs.ChainAuditJob
}

// NewLedgerCLI constructs the ledger helpers.
func NewLedgerCLI(ledger jobs.ChainVerifier, logger *slog.Logger) (*LedgerCLI, error) {
	if ledger == nil {
		return nil, errors.New("ledger cli: ledger not configured")
	}
	return &LedgerCLI{audit: jobs.NewChainAuditJob(ledger, logger, nil)}, nil
}

// VerifyOptions defines available flags for the ledger verify command.
type VerifyOptions struct {
	StationID  int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// VerifySummary is the JSON output of ledger verify.
type VerifySummary struct {
	OK      bool               `json:"ok"`
	Reports []safe.ChainReport `json:"reports"`
}

// VerifyCommand replays one station's ledger, or every ledger when StationID is zero.
// It exits 0 when every chain is intact, 10 when any safe was halted and 1 on errors.
func (c *LedgerCLI) VerifyCommand(ctx context.Context, opts VerifyOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.StationID < 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "ledger verify: --station must not be negative")
		return 1
	}
	reports, err := c.audit.Run(ctx, opts.StationID)
	violations := errors.Is(err, jobs.ErrChainViolations)
	if err != nil && !violations {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: %v\n", err)
		return 1
	}
	if reports == nil {
		reports = []safe.ChainReport{}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(VerifySummary{OK: !violations, Reports: reports}); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: encode json: %v\n", err)
			return 1
		}
	} else {
		renderVerifyHuman(opts.Stdout, reports)
	}
	if violations {
		return 10
	}
	return 0
}

func renderVerifyHuman(out io.Writer, reports []safe.ChainReport) {
	if len(reports) == 0 {
		_, _ = fmt.Fprintln(out, "No safes to verify.")
		return
	}
	for _, r := range reports {
		if r.Valid {
			_, _ = fmt.Fprintf(out, "station %d: ok entries=%d balance=%s head=%.12s\n",
				r.StationID, r.Entries, r.Balance.StringFixed(2), r.HeadHash)
			continue
		}
		_, _ = fmt.Fprintf(out, "station %d: HALTED %s\n", r.StationID, r.Violation)
	}
}
