package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

// DefaultCongressBaseURL is the Congress.gov API root.
const DefaultCongressBaseURL = "https://api.congress.gov/v3"

const maxTrackedBills = 3

// legislativeKeywords gate the provider: claims with none of these are
// outside its domain.
var legislativeKeywords = []string{
	"bill", "bills", "act", "law", "laws", "legislation", "congress",
	"senate", "house", "signed", "passed", "enacted", "vetoed",
}

// trackedBill is one catalogue entry mapping claim vocabulary onto a bill.
type trackedBill struct {
	Congress int
	Type     string // hr, s
	Number   string
	Title    string
	Keywords []string
}

var billCatalogue = []trackedBill{
	{Congress: 117, Type: "hr", Number: "3684", Title: "Infrastructure Investment and Jobs Act",
		Keywords: []string{"infrastructure", "roads", "bridges"}},
	{Congress: 117, Type: "hr", Number: "4346", Title: "CHIPS and Science Act",
		Keywords: []string{"chips", "semiconductor", "semiconductors"}},
	{Congress: 117, Type: "hr", Number: "5376", Title: "Inflation Reduction Act",
		Keywords: []string{"inflation reduction", "clean energy", "prescription drug"}},
	{Congress: 118, Type: "hr", Number: "2", Title: "Secure the Border Act",
		Keywords: []string{"border", "immigration", "asylum"}},
	{Congress: 115, Type: "hr", Number: "1", Title: "Tax Cuts and Jobs Act",
		Keywords: []string{"tax cut", "tax cuts", "tax reform"}},
}

// CongressClient resolves legislative claims against a small bill catalogue
// and fetches each bill's latest action.
type CongressClient struct {
	core    *Core
	apiKey  string
	baseURL string
}

// NewCongressClient creates a client. baseURL is overridable for tests.
func NewCongressClient(core *Core, apiKey, baseURL string) *CongressClient {
	if baseURL == "" {
		baseURL = DefaultCongressBaseURL
	}
	return &CongressClient{core: core, apiKey: apiKey, baseURL: baseURL}
}

type congressBillResponse struct {
	Bill struct {
		Title        string `json:"title"`
		LatestAction struct {
			ActionDate string `json:"actionDate"`
			Text       string `json:"text"`
		} `json:"latestAction"`
	} `json:"bill"`
}

type billStatus struct {
	bill   trackedBill
	title  string
	action string
	date   string
}

// Lookup fetches latest-action status for every catalogue bill the claim
// mentions. Only context errors are returned as err.
func (c *CongressClient) Lookup(ctx context.Context, claimText string) (model.ProviderFinding, error) {
	lower := strings.ToLower(claimText)
	if !hasLegislativeToken(lower) {
		return model.ProviderFinding{State: model.EvidenceNotApplicable}, nil
	}

	matched := matchBills(lower)
	if c.apiKey == "" {
		return model.ProviderFinding{
			State:   model.EvidenceError,
			Summary: "legislative data API key not configured",
		}, nil
	}
	if len(matched) == 0 {
		return model.ProviderFinding{
			State:   model.EvidenceAmbiguous,
			Summary: "legislative claim without a tracked bill match",
		}, nil
	}

	statuses := make([]*billStatus, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	for i, bill := range matched {
		g.Go(func() error {
			var resp congressBillResponse
			if err := c.core.GetJSON(gctx, c.billURL(bill), &resp); err != nil {
				return nil // fulfilled-only: failed lookups are skipped
			}
			title := resp.Bill.Title
			if title == "" {
				title = bill.Title
			}
			statuses[i] = &billStatus{
				bill:   bill,
				title:  title,
				action: resp.Bill.LatestAction.Text,
				date:   resp.Bill.LatestAction.ActionDate,
			}
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return model.ProviderFinding{}, ctx.Err()
	}

	var parts []string
	var sources []model.Source
	for _, s := range statuses {
		if s == nil {
			continue
		}
		line := s.title
		if s.action != "" {
			line = fmt.Sprintf("%s — %s (%s)", s.title, s.action, s.date)
		}
		parts = append(parts, line)
		sources = append(sources, model.Source{
			Publisher:  "Congress.gov",
			Title:      s.title,
			URL:        fmt.Sprintf("https://www.congress.gov/bill/%dth-congress/%s/%s", s.bill.Congress, billTypePath(s.bill.Type), s.bill.Number),
			ReviewDate: s.date,
		})
	}
	if len(parts) == 0 {
		return model.ProviderFinding{
			State:   model.EvidenceAmbiguous,
			Summary: "tracked bill lookups failed",
		}, nil
	}

	return model.ProviderFinding{
		State:   model.EvidenceMatched,
		Summary: strings.Join(parts, "; "),
		Sources: sources,
	}, nil
}

func (c *CongressClient) billURL(bill trackedBill) string {
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")
	return fmt.Sprintf("%s/bill/%d/%s/%s?%s", c.baseURL, bill.Congress, bill.Type, bill.Number, params.Encode())
}

func billTypePath(billType string) string {
	switch billType {
	case "hr":
		return "house-bill"
	case "s":
		return "senate-bill"
	default:
		return billType
	}
}

func matchBills(lowerClaim string) []trackedBill {
	var out []trackedBill
	for _, bill := range billCatalogue {
		for _, kw := range bill.Keywords {
			if strings.Contains(lowerClaim, kw) {
				out = append(out, bill)
				break
			}
		}
		if len(out) == maxTrackedBills {
			break
		}
	}
	return out
}

// hasLegislativeToken matches whole tokens so "act" never fires on words
// like "action" or "impact".
func hasLegislativeToken(lower string) bool {
	tokens := ratingTokens(lower)
	for _, kw := range legislativeKeywords {
		if tokens[kw] {
			return true
		}
	}
	return false
}
