/*
warmer.go - Background report cache warmer

PURPOSE:
  Periodically computes every client's report so adviser requests hit a
  warm cache. Reports are cached per anchor month, so a client whose
  accounting month moved on gets a fresh run on the next pass.

DESIGN:
  - One background goroutine with a ticker
  - Runs immediately on Start, then every Interval
  - One client failing does not stop the pass; failures are counted and
    logged

USAGE:
  warmer := NewCacheWarmer(store, reports)
  warmer.Start(ctx, time.Hour)
  // ... later
  warmer.Stop()
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/finance-metrics/report"
	"github.com/warp/finance-metrics/store/sqlite"
)

// WarmResult summarises one pass.
type WarmResult struct {
	StartedAt string  `json:"started_at"`
	Clients   int     `json:"clients"`
	Warmed    int     `json:"warmed"`
	Failed    []int64 `json:"failed,omitempty"`
	ElapsedMS int64   `json:"elapsed_ms"`
}

// CacheWarmer precomputes reports for every client.
type CacheWarmer struct {
	Store   *sqlite.Store
	Reports *report.Service

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	last   WarmResult
}

func NewCacheWarmer(store *sqlite.Store, reports *report.Service) *CacheWarmer {
	return &CacheWarmer{Store: store, Reports: reports}
}

// Start begins warming every interval. ctx carries the logger and bounds
// the warmer's lifetime.
func (cw *CacheWarmer) Start(ctx context.Context, interval time.Duration) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.ticker != nil {
		return
	}
	cw.ticker = time.NewTicker(interval)
	cw.stop = make(chan struct{})
	cw.wg.Add(1)
	go cw.run(ctx, cw.ticker, cw.stop)

	zerolog.Ctx(ctx).Info().Dur("interval", interval).Msg("cache warmer started")
}

// Stop stops the warmer and waits for an in-flight pass.
func (cw *CacheWarmer) Stop() {
	cw.mu.Lock()
	if cw.ticker == nil {
		cw.mu.Unlock()
		return
	}
	cw.ticker.Stop()
	close(cw.stop)
	cw.ticker = nil
	cw.mu.Unlock()

	cw.wg.Wait()
}

func (cw *CacheWarmer) run(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}) {
	defer cw.wg.Done()

	cw.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			cw.RunNow(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunNow warms every client once and returns the pass summary.
func (cw *CacheWarmer) RunNow(ctx context.Context) WarmResult {
	logger := zerolog.Ctx(ctx)
	start := time.Now()
	res := WarmResult{StartedAt: start.UTC().Format(time.RFC3339)}

	clients, err := cw.Store.ListClients(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("cache warmer could not list clients")
		return res
	}
	res.Clients = len(clients)

	for _, c := range clients {
		if ctx.Err() != nil {
			break
		}
		if _, err := cw.Reports.Get(ctx, c.ID); err != nil {
			logger.Warn().Err(err).Int64("client_id", int64(c.ID)).Msg("cache warm failed")
			res.Failed = append(res.Failed, int64(c.ID))
			continue
		}
		res.Warmed++
	}
	res.ElapsedMS = time.Since(start).Milliseconds()

	cw.mu.Lock()
	cw.last = res
	cw.mu.Unlock()

	logger.Info().Int("clients", res.Clients).Int("warmed", res.Warmed).Int("failed", len(res.Failed)).Msg("cache warm pass")
	return res
}

// Last returns the most recent pass summary.
func (cw *CacheWarmer) Last() WarmResult {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.last
}
