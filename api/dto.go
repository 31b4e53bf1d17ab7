/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP surface. Domain types (decimal values, typed
  keys, periods) are rendered here so the engine never carries JSON tags.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

NUMBERS:
  Metric values are JSON strings holding decimals rounded to two places,
  so no client ever sees a float approximation of a monetary amount.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/finance-metrics/catalog"
	"github.com/warp/finance-metrics/kpi"
	"github.com/warp/finance-metrics/ledger"
	"github.com/warp/finance-metrics/report"
)

// =============================================================================
// CLIENTS
// =============================================================================

type ClientDTO struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	AccountingDate string `json:"accounting_date,omitempty"`
}

func toClientDTO(c ledger.Client) ClientDTO {
	dto := ClientDTO{ID: int64(c.ID), Name: c.Name}
	if !c.AccountingDate.IsZero() {
		dto.AccountingDate = c.AccountingDate.Format(time.DateOnly)
	}
	return dto
}

// =============================================================================
// REPORT
// =============================================================================

type MetricDTO struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ReportDTO is one computed metric report.
type ReportDTO struct {
	RunID          string      `json:"run_id"`
	Client         ClientDTO   `json:"client"`
	Anchor         string      `json:"anchor"`
	CatalogVersion string      `json:"catalog_version"`
	RawCount       int         `json:"raw_count"`
	DerivedCount   int         `json:"derived_count"`
	ElapsedMS      int64       `json:"elapsed_ms"`
	GeneratedAt    string      `json:"generated_at"`
	Metrics        []MetricDTO `json:"metrics"`
}

func toReportDTO(r *report.Report) ReportDTO {
	rows := make([]MetricDTO, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = MetricDTO{Name: string(row.Name), Value: row.Display().StringFixed(2)}
	}
	return ReportDTO{
		RunID:          r.RunID.String(),
		Client:         toClientDTO(r.Client),
		Anchor:         r.Anchor,
		CatalogVersion: r.Version,
		RawCount:       r.Raw,
		DerivedCount:   r.Derived,
		ElapsedMS:      r.Elapsed.Milliseconds(),
		GeneratedAt:    r.GeneratedAt.Format(time.RFC3339),
		Metrics:        rows,
	}
}

// =============================================================================
// KPIS
// =============================================================================

// KPIResultDTO is one evaluated indicator.
type KPIResultDTO struct {
	Family       string          `json:"family"`
	Period       string          `json:"period"`
	Unit         string          `json:"unit"`
	TY           string          `json:"ty"`
	LY           string          `json:"ly"`
	Var          string          `json:"var"`
	VarPct       string          `json:"var_pct"`
	Impact       string          `json:"impact"`
	ValueImpact  string          `json:"value_impact"`
	ActiveMonths int             `json:"active_months"`
	Enabled      bool            `json:"enabled"`
	Flag         bool            `json:"flag"`
	Criteria     kpi.RawCriteria `json:"criteria"`
}

func toKPIResultDTO(r kpi.Result, raw kpi.RawCriteria) KPIResultDTO {
	return KPIResultDTO{
		Family:       string(r.Family),
		Period:       r.Period.String(),
		Unit:         string(r.Unit),
		TY:           r.TY.StringFixed(2),
		LY:           r.LY.StringFixed(2),
		Var:          r.Var.StringFixed(2),
		VarPct:       r.VarPct.StringFixed(2),
		Impact:       r.Impact.StringFixed(2),
		ValueImpact:  r.ValueImpact.StringFixed(2),
		ActiveMonths: r.ActiveMonths,
		Enabled:      r.Enabled,
		Flag:         r.Flag,
		Criteria:     raw,
	}
}

// OpportunityScoreRequest carries the adviser's discussion targets as
// submitted; each is clamped to 0..100 and rounded to tens.
type OpportunityScoreRequest struct {
	Suitability string `json:"suitability"`
	Opportunity string `json:"opportunity"`
	Readiness   string `json:"readiness"`
}

type OpportunityScoreDTO struct {
	Score    int            `json:"score"`
	HasScore bool           `json:"has_score"`
	Flagged  int            `json:"flagged"`
	Enabled  int            `json:"enabled"`
	Targets  kpi.Targets    `json:"targets"`
	KPIs     []KPIResultDTO `json:"kpis"`
}

// =============================================================================
// CATALOG
// =============================================================================

type RawSpecDTO struct {
	Name        string   `json:"name"`
	Categories  []string `json:"categories"`
	Window      string   `json:"window"`
	Aggregation string   `json:"aggregation"`
	Negate      bool     `json:"negate,omitempty"`
	Role        string   `json:"role,omitempty"`
}

type RuleDTO struct {
	Name   string   `json:"name"`
	Reads  []string `json:"reads"`
	Writes []string `json:"writes"`
}

type CatalogDTO struct {
	Version string       `json:"version"`
	Raw     []RawSpecDTO `json:"raw"`
	Rules   []RuleDTO    `json:"rules"`
}

func toCatalogDTO(cat *catalog.Catalog) CatalogDTO {
	dto := CatalogDTO{Version: cat.Version()}
	for _, s := range cat.Specs() {
		cats := make([]string, len(s.Categories))
		for i, c := range s.Categories {
			cats[i] = string(c)
		}
		spec := RawSpecDTO{
			Name:        string(s.Name),
			Categories:  cats,
			Window:      s.Window.String(),
			Aggregation: s.Aggregation.String(),
			Negate:      s.Negate,
		}
		if s.Role != ledger.RoleAny {
			spec.Role = s.Role.String()
		}
		dto.Raw = append(dto.Raw, spec)
	}
	for _, r := range cat.Order() {
		dto.Rules = append(dto.Rules, RuleDTO{Name: r.Name, Reads: keyStrings(r.Reads), Writes: keyStrings(r.Writes)})
	}
	return dto
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

// ScenarioDTO describes a demo client ledger.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ClientID    int64  `json:"client_id"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
