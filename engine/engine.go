/*
Package engine computes a client's full metric set.

PURPOSE:
  One Compute call is one run: it creates a fresh MetricStore, fills it
  with every raw aggregate of the catalog, applies every derivation rule
  in dependency order, freezes the store and hands it back.

RUN PHASES:
  1. Raw pass     Independent read-only queries, run on a bounded worker
                  pool. Each query writes its own key, so the only shared
                  state is the store's write lock.
  2. Derive pass  Single-threaded walk of catalog.Order(). A rule sees only
                  its declared reads and must return one value per write.
  3. Freeze       The store becomes read-only before it leaves the engine.

FAILURE:
  Any query failure cancels the remaining queries and aborts the run with
  one RunError for the client. A partial store is never returned.

SEE ALSO:
  - catalog/catalog.go: specs, rules and their evaluation order
  - ledger/reader.go: the data-access contract
  - report/service.go: caching and presentation on top of Compute
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/finance-metrics/catalog"
	"github.com/warp/finance-metrics/ledger"
	"github.com/warp/finance-metrics/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUndeclaredRead is returned when a rule reads a key outside its Reads.
	ErrUndeclaredRead = errors.New("rule read an undeclared metric")

	// ErrUndeclaredWrite is returned when a rule's outputs do not match its Writes.
	ErrUndeclaredWrite = errors.New("rule wrote an undeclared metric")
)

// RunError is the single reportable failure of a client run.
type RunError struct {
	Client ledger.ClientID
	RunID  uuid.UUID
	Phase  string
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("metrics run %s for client %s failed in %s: %v", e.RunID, e.Client, e.Phase, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Config tunes the raw pass.
type Config struct {
	// Workers bounds concurrent raw queries. Zero or less means 8.
	Workers int
	// QueryTimeout bounds each raw query. Zero disables the timeout.
	QueryTimeout time.Duration
}

// Result is a finished run.
type Result struct {
	RunID   uuid.UUID
	Client  ledger.Client
	Store   *metrics.Store
	Raw     int
	Derived int
	Elapsed time.Duration
}

// Engine runs the catalog against a reader.
type Engine struct {
	cat    *catalog.Catalog
	reader ledger.Reader
	cfg    Config
}

func New(cat *catalog.Catalog, reader ledger.Reader, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Engine{cat: cat, reader: reader, cfg: cfg}
}

// Catalog returns the catalog this engine evaluates.
func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

// Compute runs the raw and derive passes for one client.
func (e *Engine) Compute(ctx context.Context, id ledger.ClientID) (*Result, error) {
	runID := uuid.New()
	start := time.Now()
	log := zerolog.Ctx(ctx).With().
		Str("run_id", runID.String()).
		Int64("client_id", int64(id)).
		Logger()

	fail := func(phase string, err error) (*Result, error) {
		log.Error().Err(err).Str("phase", phase).Msg("metrics run failed")
		return nil, &RunError{Client: id, RunID: runID, Phase: phase, Err: err}
	}

	client, err := e.reader.Client(ctx, id)
	if err != nil {
		return fail("client", err)
	}

	store := metrics.NewStore()
	if err := e.raw(ctx, id, store); err != nil {
		return fail("raw", err)
	}
	raw := store.Len()
	log.Debug().Int("raw", raw).Dur("elapsed", time.Since(start)).Msg("raw pass complete")

	if err := Derive(e.cat, store); err != nil {
		return fail("derive", err)
	}
	store.Freeze()

	res := &Result{
		RunID:   runID,
		Client:  client,
		Store:   store,
		Raw:     raw,
		Derived: store.Len() - raw,
		Elapsed: time.Since(start),
	}
	log.Info().
		Int("raw", res.Raw).
		Int("derived", res.Derived).
		Dur("elapsed", res.Elapsed).
		Msg("metrics run complete")
	return res, nil
}

// =============================================================================
// RAW PASS
// =============================================================================

func (e *Engine) raw(ctx context.Context, id ledger.ClientID, store *metrics.Store) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for _, spec := range e.cat.Specs() {
		g.Go(func() error {
			v, err := e.query(gctx, id, spec)
			if err != nil {
				return ledger.NewQueryError(id, spec.Name, err)
			}
			return store.Put(spec.Name, spec.Finish(v))
		})
	}
	return g.Wait()
}

func (e *Engine) query(ctx context.Context, id ledger.ClientID, spec ledger.MetricSpec) (decimal.Decimal, error) {
	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	if spec.Aggregation.IsCount() {
		n, err := e.reader.Count(ctx, id, spec)
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromInt(n), nil
	}
	return e.reader.Aggregate(ctx, id, spec)
}

// =============================================================================
// DERIVE PASS
// =============================================================================

// Derive applies every rule of cat to store in evaluation order. It is a
// pure function of the raw values already in store.
func Derive(cat *catalog.Catalog, store *metrics.Store) error {
	for _, r := range cat.Order() {
		if err := apply(r, store); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}
	return nil
}

func apply(r catalog.Rule, store *metrics.Store) error {
	declared := make(map[metrics.Key]bool, len(r.Reads))
	for _, k := range r.Reads {
		declared[k] = true
	}

	var readErr error
	get := func(k metrics.Key) decimal.Decimal {
		if !declared[k] {
			if readErr == nil {
				readErr = fmt.Errorf("%w: %s", ErrUndeclaredRead, k)
			}
			return decimal.Zero
		}
		v, ok := store.Get(k)
		if !ok && readErr == nil {
			readErr = fmt.Errorf("%w: %s not yet produced", ErrUndeclaredRead, k)
		}
		return v
	}

	out := r.Formula(get)
	if readErr != nil {
		return readErr
	}
	if len(out) != len(r.Writes) {
		return fmt.Errorf("%w: %d values for %d keys", ErrUndeclaredWrite, len(out), len(r.Writes))
	}
	for i, k := range r.Writes {
		if err := store.Put(k, out[i]); err != nil {
			return err
		}
	}
	return nil
}
