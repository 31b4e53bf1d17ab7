// Package store provides in-memory ledger.Reader and ledger.Loader
// implementations.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-metrics/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	cl       ledger.Classifier
	clients  map[ledger.ClientID]ledger.Client
	accounts map[ledger.ClientID]map[ledger.AccountID]ledger.Account
	facts    map[ledger.ClientID][]ledger.Fact
}

func NewMemory(cl ledger.Classifier) *Memory {
	return &Memory{
		cl:       cl,
		clients:  make(map[ledger.ClientID]ledger.Client),
		accounts: make(map[ledger.ClientID]map[ledger.AccountID]ledger.Account),
		facts:    make(map[ledger.ClientID][]ledger.Fact),
	}
}

func (m *Memory) SaveClient(_ context.Context, c ledger.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	return nil
}

func (m *Memory) SaveAccounts(_ context.Context, client ledger.ClientID, accounts []ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := m.accounts[client]
	if byID == nil {
		byID = make(map[ledger.AccountID]ledger.Account)
		m.accounts[client] = byID
	}
	for _, a := range accounts {
		byID[a.ID] = a
	}
	return nil
}

// AppendFacts adds facts atomically. Every fact must reference a saved account.
func (m *Memory) AppendFacts(_ context.Context, facts []ledger.Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check everything first so a bad batch writes nothing
	for _, f := range facts {
		if _, ok := m.accounts[f.Client][f.Account]; !ok {
			return fmt.Errorf("%w: %s for client %s", ledger.ErrUnknownAccount, f.Account, f.Client)
		}
	}
	for _, f := range facts {
		m.facts[f.Client] = append(m.facts[f.Client], f)
	}
	return nil
}

func (m *Memory) Client(_ context.Context, id ledger.ClientID) (ledger.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[id]
	if !ok {
		return ledger.Client{}, fmt.Errorf("%w: %s", ledger.ErrClientNotFound, id)
	}
	return c, nil
}

// Aggregate answers sum and min-offset specs. Sign normalization is left
// to the caller.
func (m *Memory) Aggregate(ctx context.Context, client ledger.ClientID, spec ledger.MetricSpec) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.selectLocked(client, spec)
	total := decimal.Zero

	switch spec.Aggregation {
	case ledger.AggSum:
		for _, f := range rows {
			total = total.Add(f.Amount)
		}
	case ledger.AggMinOffset:
		for i, f := range rows {
			if i == 0 || int64(f.Offset) < total.IntPart() {
				total = decimal.NewFromInt(int64(f.Offset))
			}
		}
	default:
		return decimal.Zero, fmt.Errorf("%w: %s is a count", ledger.ErrInvalidSpec, spec.Name)
	}
	return total, nil
}

// Count answers the counting specs.
func (m *Memory) Count(ctx context.Context, client ledger.ClientID, spec ledger.MetricSpec) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.selectLocked(client, spec)

	switch spec.Aggregation {
	case ledger.AggCount:
		return int64(len(rows)), nil
	case ledger.AggCountDistinctContact:
		return distinct(rows, func(f ledger.Fact) string { return string(f.Contact) }), nil
	case ledger.AggCountDistinctInvoice:
		n := distinct(rows, func(f ledger.Fact) string { return f.InvoiceNumber })
		if n == 0 {
			n = distinct(rows, func(f ledger.Fact) string { return f.Reference })
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s is not a count", ledger.ErrInvalidSpec, spec.Name)
	}
}

func (m *Memory) selectLocked(client ledger.ClientID, spec ledger.MetricSpec) []ledger.Fact {
	accounts := m.accounts[client]

	var active map[ledger.ContactID]bool
	if spec.Segment != nil {
		active = make(map[ledger.ContactID]bool)
		for _, f := range m.facts[client] {
			if f.Contact != "" && spec.Segment.Compare.Contains(f.Offset) && spec.Admits(f, accounts[f.Account], m.cl) {
				active[f.Contact] = true
			}
		}
	}

	var out []ledger.Fact
	for _, f := range m.facts[client] {
		if !spec.Window.Contains(f.Offset) || !spec.Admits(f, accounts[f.Account], m.cl) {
			continue
		}
		if spec.Segment != nil && active[f.Contact] != spec.Segment.Present {
			continue
		}
		out = append(out, f)
	}
	return out
}

func distinct(rows []ledger.Fact, field func(ledger.Fact) string) int64 {
	seen := make(map[string]struct{})
	for _, f := range rows {
		if v := field(f); v != "" {
			seen[v] = struct{}{}
		}
	}
	return int64(len(seen))
}
