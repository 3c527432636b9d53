package shift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fuelops/stationledger/internal/masterdata"
	"github.com/fuelops/stationledger/internal/reconcile"
	"github.com/fuelops/stationledger/internal/safe"
	"github.com/fuelops/stationledger/internal/shared"
)

//go:generate mockgen -destination=mocks/mock_ledger.go -package=mocks github.com/fuelops/stationledger/internal/shift Ledger

// Repository abstracts shift persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetShift(ctx context.Context, id uuid.UUID) (Shift, error)
	ClosureSummaries(ctx context.Context, shiftIDs []uuid.UUID) (map[uuid.UUID]safe.ClosureSummary, error)
}

// TxRepository exposes operations available inside a shift transaction.
type TxRepository interface {
	HasOpenShift(ctx context.Context, stationID int64) (bool, error)
	InsertShift(ctx context.Context, sh Shift) error
	LockShift(ctx context.Context, id uuid.UUID) (Shift, error)
	UpdateShopLine(ctx context.Context, shiftID uuid.UUID, line reconcile.ShopStockLine) error
	UpsertDeclaration(ctx context.Context, shiftID uuid.UUID, decl reconcile.TenderDeclaration) error
	SaveClosure(ctx context.Context, sh Shift) error
	// Ledger posts safe entries inside the same transaction.
	Ledger() safe.TxRepository
}

// Catalog supplies station reference data.
type Catalog interface {
	Station(ctx context.Context, id int64) (masterdata.Station, error)
	Nozzles(ctx context.Context, stationID int64) (map[string]masterdata.Nozzle, error)
	ActiveFuelPrices(ctx context.Context, stationID int64, at time.Time) (map[string]decimal.Decimal, error)
	ProductPrices(ctx context.Context, stationID int64) (map[string]decimal.Decimal, error)
	Attendants(ctx context.Context, stationID int64) (map[string]bool, error)
	Terminals(ctx context.Context, stationID int64) (map[string]bool, error)
	Banks(ctx context.Context) (map[string]bool, error)
}

// Ledger is the safe ledger as seen by shift closure.
type Ledger interface {
	WithSafeLock(ctx context.Context, stationID int64, fn func(context.Context) error) error
	Append(ctx context.Context, tx safe.TxRepository, stationID int64, inputs []safe.PostInput) ([]safe.SafeTransaction, error)
	RecordPosted(ctx context.Context, entries []safe.SafeTransaction)
	HandleFailure(ctx context.Context, stationID int64, err error)
}

// ChainAuditQueue schedules asynchronous ledger verification.
type ChainAuditQueue interface {
	EnqueueSafeChainAudit(ctx context.Context, stationID int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder receives closure metrics.
type Recorder interface {
	ObserveClosure(result string)
	ObserveClassification(classification string)
}

// Config groups optional collaborators and policy.
type Config struct {
	Policy  reconcile.Policy
	Audit   AuditPort
	Queue   ChainAuditQueue
	Metrics Recorder
	Cache   *PreviewCache
	Logger  *slog.Logger
}

// Service orchestrates the shift lifecycle and closure.
type Service struct {
	repo    Repository
	catalog Catalog
	ledger  Ledger
	policy  reconcile.Policy
	audit   AuditPort
	queue   ChainAuditQueue
	metrics Recorder
	cache   *PreviewCache
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, catalog Catalog, ledger Ledger, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		catalog: catalog,
		ledger:  ledger,
		policy:  cfg.Policy,
		audit:   cfg.Audit,
		queue:   cfg.Queue,
		metrics: cfg.Metrics,
		cache:   cfg.Cache,
		logger:  logger,
		now:     time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

type reference struct {
	station       masterdata.Station
	nozzles       map[string]masterdata.Nozzle
	fuelPrices    map[string]decimal.Decimal
	productPrices map[string]decimal.Decimal
	attendants    map[string]bool
	terminals     map[string]bool
	banks         map[string]bool
}

func (s *Service) loadReference(ctx context.Context, stationID int64, at time.Time) (reference, error) {
	var ref reference
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ref.station, err = s.catalog.Station(gctx, stationID)
		return err
	})
	g.Go(func() (err error) {
		ref.nozzles, err = s.catalog.Nozzles(gctx, stationID)
		return err
	})
	g.Go(func() (err error) {
		ref.fuelPrices, err = s.catalog.ActiveFuelPrices(gctx, stationID, at)
		return err
	})
	g.Go(func() (err error) {
		ref.productPrices, err = s.catalog.ProductPrices(gctx, stationID)
		return err
	})
	g.Go(func() (err error) {
		ref.attendants, err = s.catalog.Attendants(gctx, stationID)
		return err
	})
	g.Go(func() (err error) {
		ref.terminals, err = s.catalog.Terminals(gctx, stationID)
		return err
	})
	g.Go(func() (err error) {
		ref.banks, err = s.catalog.Banks(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return reference{}, err
	}
	return ref, nil
}

func (s *Service) policyFor(station masterdata.Station) reconcile.Policy {
	p := s.policy
	if station.Tolerance != nil {
		p.Tolerance = *station.Tolerance
	}
	return p
}

// OpenShift starts a shift with nozzle assignments and opening shop stock.
func (s *Service) OpenShift(ctx context.Context, in OpenInput) (Shift, error) {
	if err := in.Validate(); err != nil {
		return Shift{}, err
	}
	startedAt := in.StartedAt
	if startedAt.IsZero() {
		startedAt = s.now()
	}
	ref, err := s.loadReference(ctx, in.StationID, startedAt)
	if err != nil {
		return Shift{}, err
	}
	now := s.now().UTC()
	sh := Shift{
		ID:        uuid.New(),
		StationID: in.StationID,
		Status:    StatusOpen,
		StartedAt: startedAt.UTC(),
		OpenedBy:  in.OpenedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, a := range in.Assignments {
		nozzle, ok := ref.nozzles[a.NozzleID]
		if !ok || !nozzle.Active {
			return Shift{}, fmt.Errorf("%w: assignments[%d].nozzle_id %s", ErrUnknownNozzle, i, a.NozzleID)
		}
		attendant := reconcile.NormalizeAttendant(a.Attendant)
		if !ref.attendants[attendant] {
			return Shift{}, fmt.Errorf("%w: assignments[%d].attendant %s", ErrUnknownAttendant, i, attendant)
		}
		sh.Assignments = append(sh.Assignments, reconcile.Assignment{
			NozzleID:     a.NozzleID,
			Attendant:    attendant,
			FuelTypeID:   nozzle.FuelTypeID,
			StartReading: a.StartReading,
		})
	}
	for i, l := range in.ShopLines {
		price, ok := ref.productPrices[l.ProductID]
		if !ok {
			return Shift{}, fmt.Errorf("%w: shop_lines[%d].product_id %s", ErrUnknownProduct, i, l.ProductID)
		}
		attendant := reconcile.NormalizeAttendant(l.Attendant)
		if !ref.attendants[attendant] {
			return Shift{}, fmt.Errorf("%w: shop_lines[%d].attendant %s", ErrUnknownAttendant, i, attendant)
		}
		sh.ShopLines = append(sh.ShopLines, reconcile.ShopStockLine{
			ProductID: l.ProductID,
			Attendant: attendant,
			Opening:   l.Opening,
			UnitPrice: price,
		})
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		open, err := tx.HasOpenShift(ctx, in.StationID)
		if err != nil {
			return err
		}
		if open {
			return ErrShiftAlreadyOpen
		}
		return tx.InsertShift(ctx, sh)
	})
	if err != nil {
		return Shift{}, err
	}
	s.record(ctx, in.OpenedBy, "shift.open", sh.ID, map[string]any{
		"station_id":  sh.StationID,
		"assignments": len(sh.Assignments),
		"shop_lines":  len(sh.ShopLines),
	})
	return sh, nil
}

// GetShift returns a shift by id.
func (s *Service) GetShift(ctx context.Context, id uuid.UUID) (Shift, error) {
	return s.repo.GetShift(ctx, id)
}

// AddShopStock records stock added to a product during the shift.
func (s *Service) AddShopStock(ctx context.Context, shiftID uuid.UUID, productID string, qty decimal.Decimal, actor string) (Shift, error) {
	if !qty.IsPositive() {
		return Shift{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	var updated Shift
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sh, err := tx.LockShift(ctx, shiftID)
		if err != nil {
			return err
		}
		if sh.Status == StatusClosed {
			return &AlreadyClosedError{ShiftID: sh.ID, ClosedAt: sh.EndedAt}
		}
		for i := range sh.ShopLines {
			if sh.ShopLines[i].ProductID != productID {
				continue
			}
			sh.ShopLines[i].Added = sh.ShopLines[i].Added.Add(qty)
			if err := tx.UpdateShopLine(ctx, sh.ID, sh.ShopLines[i]); err != nil {
				return err
			}
			updated = sh
			return nil
		}
		return fmt.Errorf("%w: %s not on shift", ErrUnknownProduct, productID)
	})
	if err != nil {
		return Shift{}, err
	}
	s.record(ctx, actor, "shift.stock_added", shiftID, map[string]any{"product_id": productID, "qty": qty.String()})
	return updated, nil
}

// SaveDeclaration stores an attendant's tender declaration on an open shift.
func (s *Service) SaveDeclaration(ctx context.Context, shiftID uuid.UUID, decl reconcile.TenderDeclaration, actor string) (Shift, error) {
	if err := decl.Validate(); err != nil {
		return Shift{}, err
	}
	decl.Attendant = reconcile.NormalizeAttendant(decl.Attendant)
	snapshot, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return Shift{}, err
	}
	if snapshot.Status == StatusClosed {
		return Shift{}, &AlreadyClosedError{ShiftID: snapshot.ID, ClosedAt: snapshot.EndedAt}
	}
	ref, err := s.loadReference(ctx, snapshot.StationID, s.now())
	if err != nil {
		return Shift{}, err
	}
	if err := checkDeclarationReferences([]reconcile.TenderDeclaration{decl}, ref); err != nil {
		return Shift{}, err
	}
	var updated Shift
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sh, err := tx.LockShift(ctx, shiftID)
		if err != nil {
			return err
		}
		if sh.Status == StatusClosed {
			return &AlreadyClosedError{ShiftID: sh.ID, ClosedAt: sh.EndedAt}
		}
		if err := tx.UpsertDeclaration(ctx, sh.ID, decl); err != nil {
			return err
		}
		sh.Declarations = mergeDeclarations(sh.Declarations, []reconcile.TenderDeclaration{decl})
		updated = sh
		return nil
	})
	if err != nil {
		return Shift{}, err
	}
	s.record(ctx, actor, "shift.declaration_saved", shiftID, map[string]any{"attendant": decl.Attendant})
	return updated, nil
}

func checkDeclarationReferences(decls []reconcile.TenderDeclaration, ref reference) error {
	for _, d := range decls {
		name := reconcile.NormalizeAttendant(d.Attendant)
		if !ref.attendants[name] {
			return fmt.Errorf("%w: %s", ErrUnknownAttendant, name)
		}
		for i, slip := range d.POSSlips {
			if !ref.terminals[slip.TerminalID] {
				return fmt.Errorf("%w: %s pos_slips[%d].terminal_id %s", ErrUnknownTerminal, name, i, slip.TerminalID)
			}
		}
		for i, c := range d.Cheques {
			if !ref.banks[c.Bank] {
				return fmt.Errorf("%w: %s cheques[%d].bank %s", ErrUnknownBank, name, i, c.Bank)
			}
		}
	}
	return nil
}

// Readiness reports the end readings and closing counts still missing.
func (s *Service) Readiness(ctx context.Context, shiftID uuid.UUID, counts Counts) (Readiness, error) {
	sh, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return Readiness{}, err
	}
	if sh.Status == StatusClosed {
		return Readiness{}, &AlreadyClosedError{ShiftID: sh.ID, ClosedAt: sh.EndedAt}
	}
	return readiness(sh, counts), nil
}

func readiness(sh Shift, counts Counts) Readiness {
	r := Readiness{MissingNozzles: []string{}, MissingProducts: []string{}}
	for _, a := range sh.Assignments {
		if _, ok := counts.EndReadings[a.NozzleID]; !ok {
			r.MissingNozzles = append(r.MissingNozzles, a.NozzleID)
		}
	}
	for _, l := range sh.ShopLines {
		if _, ok := counts.ClosingStocks[l.ProductID]; !ok {
			r.MissingProducts = append(r.MissingProducts, l.ProductID)
		}
	}
	sort.Strings(r.MissingNozzles)
	sort.Strings(r.MissingProducts)
	r.Ready = len(r.MissingNozzles) == 0 && len(r.MissingProducts) == 0
	return r
}

// applyCounts copies the shift's lines with the supplied readings filled in.
func applyCounts(sh Shift, counts Counts) ([]reconcile.Assignment, []reconcile.ShopStockLine, error) {
	onShift := make(map[string]bool, len(sh.Assignments))
	assignments := make([]reconcile.Assignment, len(sh.Assignments))
	for i, a := range sh.Assignments {
		onShift[a.NozzleID] = true
		if end, ok := counts.EndReadings[a.NozzleID]; ok {
			if end.IsNegative() {
				return nil, nil, fmt.Errorf("%w: end_readings.%s must not be negative", ErrInvalidInput, a.NozzleID)
			}
			end := end
			a.EndReading = &end
		}
		assignments[i] = a
	}
	for id := range counts.EndReadings {
		if !onShift[id] {
			return nil, nil, fmt.Errorf("%w: end_readings.%s not assigned on shift", ErrUnknownNozzle, id)
		}
	}
	products := make(map[string]bool, len(sh.ShopLines))
	lines := make([]reconcile.ShopStockLine, len(sh.ShopLines))
	for i, l := range sh.ShopLines {
		products[l.ProductID] = true
		if closing, ok := counts.ClosingStocks[l.ProductID]; ok {
			if closing.IsNegative() {
				return nil, nil, fmt.Errorf("%w: closing_stocks.%s must not be negative", ErrInvalidInput, l.ProductID)
			}
			closing := closing
			l.Closing = &closing
		}
		lines[i] = l
	}
	for id := range counts.ClosingStocks {
		if !products[id] {
			return nil, nil, fmt.Errorf("%w: closing_stocks.%s not on shift", ErrUnknownProduct, id)
		}
	}
	return assignments, lines, nil
}

// mergeDeclarations overlays incoming declarations on stored ones by attendant.
func mergeDeclarations(stored, incoming []reconcile.TenderDeclaration) []reconcile.TenderDeclaration {
	byName := make(map[string]reconcile.TenderDeclaration, len(stored)+len(incoming))
	for _, d := range stored {
		d.Attendant = reconcile.NormalizeAttendant(d.Attendant)
		byName[d.Attendant] = d
	}
	for _, d := range incoming {
		d.Attendant = reconcile.NormalizeAttendant(d.Attendant)
		byName[d.Attendant] = d
	}
	out := make([]reconcile.TenderDeclaration, 0, len(byName))
	for _, d := range byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attendant < out[j].Attendant })
	return out
}

func validateDeclarations(decls []reconcile.TenderDeclaration) error {
	seen := make(map[string]bool, len(decls))
	for _, d := range decls {
		if err := d.Validate(); err != nil {
			return err
		}
		name := reconcile.NormalizeAttendant(d.Attendant)
		if seen[name] {
			return &reconcile.InvalidDeclarationError{Attendant: name, Problems: []string{"attendant declared twice"}}
		}
		seen[name] = true
	}
	return nil
}

// Preview computes breakdowns from the current inputs without closing the shift.
// Missing readings count as zero sales. A closed shift returns its recorded breakdowns.
func (s *Service) Preview(ctx context.Context, shiftID uuid.UUID, in PreviewInput) ([]reconcile.PumperBreakdown, error) {
	if err := validateDeclarations(in.Declarations); err != nil {
		return nil, err
	}
	sh, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if sh.Status == StatusClosed {
		return sh.Breakdowns, nil
	}
	return s.cache.Fetch(ctx, sh, in, func(ctx context.Context) ([]reconcile.PumperBreakdown, error) {
		ref, err := s.loadReference(ctx, sh.StationID, s.now())
		if err != nil {
			return nil, err
		}
		assignments, lines, err := applyCounts(sh, in.Counts)
		if err != nil {
			return nil, err
		}
		decls := mergeDeclarations(sh.Declarations, in.Declarations)
		return reconcile.ComputeBreakdowns(assignments, lines, decls, ref.fuelPrices, s.policyFor(ref.station))
	})
}

// CloseShift finalises the shift and posts its tenders to the safe in one transaction.
// Either the shift is CLOSED with its ledger entries, or nothing changes.
func (s *Service) CloseShift(ctx context.Context, shiftID uuid.UUID, in CloseInput) (CloseResult, error) {
	result, err := s.closeShift(ctx, shiftID, in)
	if s.metrics != nil {
		s.metrics.ObserveClosure(closureResult(err))
	}
	return result, err
}

func (s *Service) closeShift(ctx context.Context, shiftID uuid.UUID, in CloseInput) (CloseResult, error) {
	if err := validateDeclarations(in.Declarations); err != nil {
		return CloseResult{}, err
	}
	snapshot, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return CloseResult{}, err
	}
	if snapshot.Status == StatusClosed {
		return CloseResult{}, &AlreadyClosedError{ShiftID: snapshot.ID, ClosedAt: snapshot.EndedAt}
	}
	endTime := in.EndTime
	if endTime.IsZero() {
		endTime = s.now()
	}
	endTime = endTime.UTC()
	if endTime.Before(snapshot.StartedAt) {
		return CloseResult{}, fmt.Errorf("%w: end_time before shift start", ErrInvalidInput)
	}
	ref, err := s.loadReference(ctx, snapshot.StationID, endTime)
	if err != nil {
		return CloseResult{}, err
	}
	if err := checkDeclarationReferences(in.Declarations, ref); err != nil {
		return CloseResult{}, err
	}
	policy := s.policyFor(ref.station).Strict()

	var result CloseResult
	stationID := snapshot.StationID
	err = s.ledger.WithSafeLock(ctx, stationID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			sh, err := tx.LockShift(ctx, shiftID)
			if err != nil {
				return err
			}
			if sh.Status == StatusClosed {
				return &AlreadyClosedError{ShiftID: sh.ID, ClosedAt: sh.EndedAt}
			}
			ready := readiness(sh, in.Counts)
			if !ready.Ready {
				return &IncompleteClosureError{ShiftID: sh.ID, MissingNozzles: ready.MissingNozzles, MissingProducts: ready.MissingProducts}
			}
			assignments, lines, err := applyCounts(sh, in.Counts)
			if err != nil {
				return err
			}
			decls := mergeDeclarations(sh.Declarations, in.Declarations)
			breakdowns, err := reconcile.ComputeBreakdowns(assignments, lines, decls, ref.fuelPrices, policy)
			if err != nil {
				return err
			}
			summary := closureSummary(sh, endTime, breakdowns)

			sh.Status = StatusClosed
			sh.EndedAt = &endTime
			sh.ClosedBy = in.ClosedBy
			sh.Assignments = assignments
			sh.ShopLines = lines
			sh.Declarations = decls
			sh.Breakdowns = breakdowns
			sh.Closure = &summary
			sh.UpdatedAt = s.now().UTC()
			if err := tx.SaveClosure(ctx, sh); err != nil {
				return err
			}
			entries, err := s.ledger.Append(ctx, tx.Ledger(), stationID, closurePostings(sh, summary, decls, in.ClosedBy))
			if err != nil {
				return err
			}
			result = CloseResult{Shift: sh, LedgerEntries: entries}
			return nil
		})
	})
	if err != nil {
		s.ledger.HandleFailure(ctx, stationID, err)
		return CloseResult{}, err
	}

	s.ledger.RecordPosted(ctx, result.LedgerEntries)
	variances := make(map[string]any, len(result.Shift.Breakdowns))
	for _, b := range result.Shift.Breakdowns {
		variances[b.Attendant] = map[string]any{
			"variance":       b.Variance.StringFixed(2),
			"classification": b.Classification,
		}
		if s.metrics != nil {
			s.metrics.ObserveClassification(string(b.Classification))
		}
	}
	s.record(ctx, in.ClosedBy, "shift.close", shiftID, map[string]any{
		"station_id":     stationID,
		"total":          result.Shift.Closure.Breakdown.Total.StringFixed(2),
		"ledger_entries": len(result.LedgerEntries),
		"variances":      variances,
	})
	if s.queue != nil {
		if err := s.queue.EnqueueSafeChainAudit(ctx, stationID); err != nil {
			s.logger.Warn("enqueue chain audit", slog.Int64("station_id", stationID), slog.Any("error", err))
		}
	}
	return result, nil
}

func closureSummary(sh Shift, closedAt time.Time, breakdowns []reconcile.PumperBreakdown) safe.ClosureSummary {
	summary := safe.ClosureSummary{ShiftID: sh.ID, StationID: sh.StationID, ClosedAt: closedAt}
	for _, b := range breakdowns {
		summary.Attendants = append(summary.Attendants, b.Attendant)
		summary.Breakdown.Cash = summary.Breakdown.Cash.Add(b.Tender.Cash)
		summary.Breakdown.Card = summary.Breakdown.Card.Add(b.Tender.Card)
		summary.Breakdown.Credit = summary.Breakdown.Credit.Add(b.Tender.Credit)
		summary.Breakdown.Cheque = summary.Breakdown.Cheque.Add(b.Tender.Cheque)
	}
	summary.Breakdown.Total = summary.Breakdown.Cash.Add(summary.Breakdown.Card).Add(summary.Breakdown.Credit).Add(summary.Breakdown.Cheque)
	return summary
}

// closurePostings turns the tender totals into safe entries. Credit stays off the safe.
func closurePostings(sh Shift, summary safe.ClosureSummary, decls []reconcile.TenderDeclaration, performer string) []safe.PostInput {
	shiftID := sh.ID
	at := summary.ClosedAt
	note := "shift closure " + shiftID.String()
	var out []safe.PostInput
	if summary.Breakdown.Cash.IsPositive() {
		out = append(out, safe.PostInput{
			StationID: sh.StationID, Type: safe.TypeShiftCash, Amount: summary.Breakdown.Cash,
			Performer: performer, Timestamp: at, Links: safe.Links{ShiftID: &shiftID}, Note: note,
		})
	}
	if summary.Breakdown.Card.IsPositive() {
		out = append(out, safe.PostInput{
			StationID: sh.StationID, Type: safe.TypeShiftCard, Amount: summary.Breakdown.Card,
			Performer: performer, Timestamp: at, Links: safe.Links{ShiftID: &shiftID}, Note: note,
		})
	}
	for _, d := range decls {
		for _, c := range d.Cheques {
			if !c.Amount.IsPositive() {
				continue
			}
			out = append(out, safe.PostInput{
				StationID: sh.StationID, Type: safe.TypeShiftCheque, Amount: c.Amount,
				Performer: performer, Timestamp: at,
				Links: safe.Links{ShiftID: &shiftID, ChequeID: c.Bank + "/" + c.Number},
				Note:  note + " cheque from " + d.Attendant,
			})
		}
	}
	return out
}

func closureResult(err error) string {
	var (
		incomplete *IncompleteClosureError
		closed     *AlreadyClosedError
		missing    *reconcile.MissingPriceError
		invalid    *reconcile.InvalidDeclarationError
		violation  *safe.LedgerChainViolationError
	)
	switch {
	case err == nil:
		return "closed"
	case errors.As(err, &incomplete):
		return "incomplete"
	case errors.As(err, &closed):
		return "already_closed"
	case errors.As(err, &missing):
		return "missing_price"
	case errors.As(err, &invalid), errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.As(err, &violation):
		return "ledger_violation"
	default:
		return "error"
	}
}

func (s *Service) record(ctx context.Context, actor, action string, shiftID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "shift",
		EntityID: shiftID.String(),
		Meta:     meta,
		At:       s.now().UTC(),
	}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
