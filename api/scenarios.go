/*
scenarios.go - Demo client ledgers for testing and demonstrations

PURPOSE:

	Provides pre-built clients whose books exercise the catalog: three
	years of monthly trading, balance-sheet movements, customers joining
	and leaving, nominal lines the margin figures must ignore, and credit
	notes the revenue drivers must skip.

AVAILABLE SCENARIOS:

	steady-trader:   Flat sales, stable customers, healthy cash
	growing-agency:  3% monthly growth and a stream of new customers
	cash-squeeze:    Shrinking sales, lost customers, slow-paying debtors

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save the client with an accounting date at the end of this month
 3. Save its chart of accounts
 4. Generate 36 months of facts from the scenario profile
 5. Drop cached reports

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "growing-agency"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/finance-metrics/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// history is how many months of books a scenario generates.
const history = 36

type customer struct {
	id    ledger.ContactID
	from  int
	until int
}

// profile drives the generator. Percentages are whole numbers, growth is
// in basis points per month.
type profile struct {
	baseSales    int64
	growthBP     int64
	cosPct       int64
	overheads    int64
	debtorDays   int64
	creditorDays int64
	openingCash  int64
	customers    []customer
}

type scenario struct {
	ScenarioDTO
	profile profile
}

func always(id ledger.ContactID) customer { return customer{id: id, from: -history, until: 0} }

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "steady-trader",
			Name:        "Steady Trader",
			Description: "Flat sales to four long-standing customers, 55% gross margin",
			ClientID:    101,
		},
		profile: profile{
			baseSales: 20000, cosPct: 45, overheads: 6000,
			debtorDays: 30, creditorDays: 30, openingCash: 15000,
			customers: []customer{always("alder"), always("birch"), always("cedar"), always("damson")},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "growing-agency",
			Name:        "Growing Agency",
			Description: "3% monthly growth with new customers won every few months",
			ClientID:    102,
		},
		profile: profile{
			baseSales: 8000, growthBP: 300, cosPct: 20, overheads: 4000,
			debtorDays: 45, creditorDays: 30, openingCash: 5000,
			customers: []customer{
				always("atlas"), always("beacon"),
				{id: "compass", from: -20, until: 0},
				{id: "delta", from: -8, until: 0},
				{id: "ember", from: -3, until: 0},
			},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "cash-squeeze",
			Name:        "Cash Squeeze",
			Description: "Falling sales, customers lost, debtors stretching to 75 days",
			ClientID:    103,
		},
		profile: profile{
			baseSales: 30000, growthBP: -150, cosPct: 60, overheads: 9000,
			debtorDays: 75, creditorDays: 20, openingCash: 5000,
			customers: []customer{
				always("anvil"),
				{id: "bellows", from: -history, until: -14},
				{id: "chisel", from: -history, until: -6},
				{id: "dowel", from: -10, until: 0},
			},
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads one scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("no scenario %q", req.ScenarioID))
		return
	}

	if err := h.loadScenario(r.Context(), s, time.Now()); err != nil {
		writeServiceError(w, r, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

func (h *Handler) loadScenario(ctx context.Context, s scenario, now time.Time) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.Reports.Flush()

	client, accounts, facts := s.books(now)
	if err := h.Store.SaveClient(ctx, client); err != nil {
		return err
	}
	if err := h.Store.SaveAccounts(ctx, client.ID, accounts); err != nil {
		return err
	}
	if err := h.Store.AppendFacts(ctx, facts); err != nil {
		return err
	}

	h.mu.Lock()
	h.currentScenario = s.ID
	h.mu.Unlock()
	return nil
}

// =============================================================================
// LEDGER GENERATION
// =============================================================================

var demoAccounts = []ledger.Account{
	{ID: "200", Name: "Sales", Type: "REVENUE"},
	{ID: "310", Name: "Cost of Goods Sold", Type: "DIRECTCOSTS"},
	{ID: "400", Name: "Rent", Type: "OVERHEADS"},
	{ID: "477", Name: "Wages and Salaries", Type: "OVERHEADS"},
	{ID: "404", Name: "Bank Interest", Type: "OVERHEADS"},
	{ID: "416", Name: "Depreciation", Type: "OVERHEADS"},
	{ID: "090", Name: "Business Bank Account", Type: "BANK"},
	{ID: "610", Name: "Accounts Receivable", Type: "CURRENT"},
	{ID: "630", Name: "Inventory", Type: "INVENTORY"},
	{ID: "710", Name: "Office Equipment", Type: "FIXED"},
	{ID: "800", Name: "Accounts Payable", Type: "CURRLIAB"},
	{ID: "900", Name: "Bank Loan", Type: "TERMLIAB"},
}

var suppliers = []ledger.ContactID{"millbrook-supply", "northgate-wholesale"}

// books generates the scenario's client, chart of accounts and facts.
// The anchor is the last day of now's month.
func (s scenario) books(now time.Time) (ledger.Client, []ledger.Account, []ledger.Fact) {
	p := s.profile
	id := ledger.ClientID(s.ClientID)
	client := ledger.Client{
		ID:             id,
		Name:           s.Name,
		AccountingDate: time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC),
	}

	var (
		facts    []ledger.Fact
		invoice  int
		sales    = decimal.NewFromInt(p.baseSales)
		growth   = decimal.NewFromInt(10000 + p.growthBP).Div(decimal.NewFromInt(10000))
		hundred  = decimal.NewFromInt(100)
		month    = decimal.NewFromInt(30)
		prevAR   = decimal.Zero
		prevAP   = decimal.Zero
		overhead = decimal.NewFromInt(p.overheads)
	)

	fact := func(account ledger.AccountID, cat ledger.Category, amount decimal.Decimal, offset int) ledger.Fact {
		return ledger.Fact{Client: id, Account: account, Category: cat, Amount: amount, Offset: offset, Currency: "GBP"}
	}

	first := -(history - 1)
	facts = append(facts,
		fact("090", ledger.CategoryCurrentAssets, decimal.NewFromInt(p.openingCash), first),
		fact("710", ledger.CategoryFixedAssets, decimal.NewFromInt(12000), first),
		fact("900", ledger.CategoryLongTermLiabilities, decimal.NewFromInt(-10000), first),
		fact("630", ledger.CategoryCurrentAssets, sales.Mul(decimal.NewFromInt(p.cosPct)).Div(hundred).Round(2), first),
	)

	for o := first; o <= 0; o++ {
		var active []customer
		for _, c := range p.customers {
			if o >= c.from && o <= c.until {
				active = append(active, c)
			}
		}

		// Sales, one invoice per active customer.
		billed := decimal.Zero
		if len(active) > 0 {
			share := sales.Div(decimal.NewFromInt(int64(len(active)))).Round(2)
			for _, c := range active {
				invoice++
				f := fact("200", ledger.CategorySales, share, o)
				f.Contact = c.id
				f.Source = ledger.SourceInvoice
				f.InvoiceNumber = fmt.Sprintf("INV-%04d", invoice)
				facts = append(facts, f)
				billed = billed.Add(share)
			}
		}

		// Once a year a credit note reverses part of a sale.
		if o%12 == -6 && len(active) > 0 {
			f := fact("200", ledger.CategorySales, decimal.NewFromInt(-250), o)
			f.Contact = active[0].id
			f.Source = ledger.SourceCreditNote
			f.SourceType = "CN"
			f.Reference = fmt.Sprintf("CN-%d", -o)
			facts = append(facts, f)
			billed = billed.Sub(decimal.NewFromInt(250))
		}

		cos := billed.Mul(decimal.NewFromInt(p.cosPct)).Div(hundred).Round(2)
		bill := fact("310", ledger.CategoryCostOfSales, cos.Neg(), o)
		bill.Contact = suppliers[(o+history)%len(suppliers)]
		bill.Source = ledger.SourceData
		bill.SourceType = "ACCPAY"
		facts = append(facts, bill)

		rent := overhead.Mul(decimal.NewFromInt(40)).Div(hundred).Round(2)
		wages := overhead.Sub(rent)
		facts = append(facts,
			fact("400", ledger.CategoryOverheads, rent.Neg(), o),
			fact("477", ledger.CategoryOverheads, wages.Neg(), o),
			fact("404", ledger.CategoryOverheads, decimal.NewFromInt(-45), o),
			fact("416", ledger.CategoryOverheads, decimal.NewFromInt(-100), o),
		)

		// Working capital follows the profile's payment terms.
		ar := billed.Mul(decimal.NewFromInt(p.debtorDays)).Div(month).Round(2)
		ap := cos.Mul(decimal.NewFromInt(p.creditorDays)).Div(month).Round(2)
		arMove, apMove := ar.Sub(prevAR), ap.Sub(prevAP)
		prevAR, prevAP = ar, ap

		cash := billed.Sub(cos).Sub(overhead).Sub(decimal.NewFromInt(45)).Sub(arMove).Add(apMove)
		facts = append(facts,
			fact("610", ledger.CategoryCurrentAssets, arMove, o),
			fact("800", ledger.CategoryCurrentLiabilities, apMove.Neg(), o),
			fact("090", ledger.CategoryCurrentAssets, cash, o),
			fact("710", ledger.CategoryFixedAssets, decimal.NewFromInt(-100), o),
		)

		sales = sales.Mul(growth).Round(2)
	}
	return client, demoAccounts, facts
}
