package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

// DefaultFredBaseURL is the FRED observations endpoint.
const DefaultFredBaseURL = "https://api.stlouisfed.org/fred/series/observations"

const maxIndicatorSeries = 3

// fredSeries maps claim vocabulary onto one indicator series.
type fredSeries struct {
	ID       string
	Title    string
	Keywords []string
}

// Catalogue order is ranking order when several series match.
var fredCatalogue = []fredSeries{
	{ID: "UNRATE", Title: "Unemployment Rate", Keywords: []string{"unemployment", "jobless"}},
	{ID: "CPIAUCSL", Title: "Consumer Price Index", Keywords: []string{"inflation", "cpi", "consumer price", "prices"}},
	{ID: "GDP", Title: "Gross Domestic Product", Keywords: []string{"gdp", "gross domestic", "economic output"}},
	{ID: "CES0500000003", Title: "Average Hourly Earnings", Keywords: []string{"wage", "wages", "hourly earnings", "paycheck"}},
	{ID: "GFDEBTN", Title: "Federal Debt", Keywords: []string{"national debt", "federal debt", "debt"}},
	{ID: "FYFSD", Title: "Federal Surplus or Deficit", Keywords: []string{"deficit", "surplus"}},
	{ID: "FEDFUNDS", Title: "Federal Funds Rate", Keywords: []string{"interest rate", "federal funds", "fed funds"}},
}

// FredClient maps economic claims onto indicator series and fetches the
// latest observation for each.
type FredClient struct {
	core    *Core
	apiKey  string
	baseURL string
}

// NewFredClient creates a client. baseURL is overridable for tests.
func NewFredClient(core *Core, apiKey, baseURL string) *FredClient {
	if baseURL == "" {
		baseURL = DefaultFredBaseURL
	}
	return &FredClient{core: core, apiKey: apiKey, baseURL: baseURL}
}

type fredObservationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

type fredReading struct {
	series fredSeries
	date   string
	value  string
}

// Lookup fetches the latest observation for every series the claim mentions.
// Only context errors are returned as err.
func (c *FredClient) Lookup(ctx context.Context, claimText string) (model.ProviderFinding, error) {
	matched := matchSeries(claimText)
	if len(matched) == 0 {
		return model.ProviderFinding{State: model.EvidenceNotApplicable}, nil
	}
	if c.apiKey == "" {
		return model.ProviderFinding{
			State:   model.EvidenceError,
			Summary: "economic data API key not configured",
		}, nil
	}

	readings := make([]*fredReading, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	for i, series := range matched {
		g.Go(func() error {
			var resp fredObservationsResponse
			if err := c.core.GetJSON(gctx, c.observationURL(series.ID), &resp); err != nil {
				return nil // settled semantics: failed series are skipped
			}
			if len(resp.Observations) == 0 {
				return nil
			}
			obs := resp.Observations[0]
			if obs.Value == "." { // FRED's missing-value sentinel
				return nil
			}
			readings[i] = &fredReading{series: series, date: obs.Date, value: obs.Value}
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return model.ProviderFinding{}, ctx.Err()
	}

	var parts []string
	var sources []model.Source
	for _, r := range readings {
		if r == nil {
			continue
		}
		line := fmt.Sprintf("%s: %s (%s)", r.series.Title, r.value, r.date)
		parts = append(parts, line)
		sources = append(sources, model.Source{
			Publisher: "FRED",
			Title:     line,
			URL:       "https://fred.stlouisfed.org/series/" + r.series.ID,
		})
	}
	if len(parts) == 0 {
		return model.ProviderFinding{
			State:   model.EvidenceAmbiguous,
			Summary: "matched indicator series but no usable observations",
		}, nil
	}

	return model.ProviderFinding{
		State:   model.EvidenceMatched,
		Summary: strings.Join(parts, " | "),
		Sources: sources,
	}, nil
}

func (c *FredClient) observationURL(seriesID string) string {
	params := url.Values{}
	params.Set("series_id", seriesID)
	params.Set("api_key", c.apiKey)
	params.Set("file_type", "json")
	params.Set("sort_order", "desc")
	params.Set("limit", "1")
	return c.baseURL + "?" + params.Encode()
}

// matchSeries returns up to maxIndicatorSeries catalogue entries whose
// keywords appear in the claim, in stable catalogue order.
func matchSeries(claimText string) []fredSeries {
	lower := strings.ToLower(claimText)
	var out []fredSeries
	for _, series := range fredCatalogue {
		for _, kw := range series.Keywords {
			if strings.Contains(lower, kw) {
				out = append(out, series)
				break
			}
		}
		if len(out) == maxIndicatorSeries {
			break
		}
	}
	return out
}
