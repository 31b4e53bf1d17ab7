package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/warp/finance-metrics/engine"
	"github.com/warp/finance-metrics/ledger"
	"golang.org/x/sync/singleflight"
)

// Cache key layout: client id, anchor month, catalog version, ruleset version.
const ckReport = "report:%d:%s:%s:%s"

// Service serves reports from a cache in front of the engine. A failed
// run is never cached.
type Service struct {
	eng          *engine.Engine
	reader       ledger.Reader
	rulesVersion string
	cache        *cache.Cache
	group        singleflight.Group
}

// NewService builds a report service. rulesVersion is the classifier
// ruleset version; a new ruleset must never be served old figures.
func NewService(eng *engine.Engine, reader ledger.Reader, rulesVersion string, ttl, cleanup time.Duration) *Service {
	return &Service{
		eng:          eng,
		reader:       reader,
		rulesVersion: rulesVersion,
		cache:        cache.New(ttl, cleanup),
	}
}

func (s *Service) key(c ledger.Client) string {
	return fmt.Sprintf(ckReport, int64(c.ID), AnchorMonth(c.AccountingDate), s.eng.Catalog().Version(), s.rulesVersion)
}

// Get returns the client's report, computing it on a cache miss.
// Concurrent misses for the same key share one run.
func (s *Service) Get(ctx context.Context, id ledger.ClientID) (*Report, error) {
	client, err := s.reader.Client(ctx, id)
	if err != nil {
		return nil, err
	}

	key := s.key(client)
	if cached, found := s.cache.Get(key); found {
		zerolog.Ctx(ctx).Debug().Str("cache_key", key).Msg("report cache hit")
		return cached.(*Report), nil
	}

	// The shared run outlives any one caller; it keeps the caller's logger
	// and is bounded by the engine's query timeout.
	v, err, _ := s.group.Do(key, func() (any, error) {
		res, err := s.eng.Compute(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		r := Build(s.eng.Catalog(), res)
		s.cache.Set(key, r, cache.DefaultExpiration)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Report), nil
}

// Invalidate drops every cached report of a client, whatever its anchor.
func (s *Service) Invalidate(id ledger.ClientID) {
	prefix := fmt.Sprintf("report:%d:", int64(id))
	for k := range s.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Delete(k)
		}
	}
}

// Cached reports how many reports are held.
func (s *Service) Cached() int { return s.cache.ItemCount() }

// Flush drops every cached report.
func (s *Service) Flush() { s.cache.Flush() }
