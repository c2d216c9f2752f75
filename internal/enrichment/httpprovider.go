package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// HTTPProvider calls an operator-configured lookup endpoint over HTTP. No
// example repo in the retrieval pack wires a dedicated API-client library
// for a person-lookup integration, so this talks net/http directly, the
// same way the pack's own HTTP surfaces do.
type HTTPProvider struct {
	BaseURL string
	Client  *http.Client
	cost    Tier
}

// NewHTTPProvider builds a Provider that queries baseURL?email=<address> and
// expects a JSON body of {"name":"...","title":"...","found":true}.
func NewHTTPProvider(baseURL string, cost Tier) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: baseURL,
		Client:  &http.Client{},
		cost:    cost,
	}
}

func (p *HTTPProvider) Cost() Tier { return p.cost }

type httpLookupResponse struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Found bool   `json:"found"`
}

// Search queries the provider. Any transport, status, or decode error is
// surfaced as an error (a provider outage), never as a definitive "no
// candidate" (spec §4.9).
func (p *HTTPProvider) Search(ctx context.Context, address string) (Candidate, bool, error) {
	u := fmt.Sprintf("%s?email=%s", p.BaseURL, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Candidate{}, false, fmt.Errorf("enrichment: build request: %w", err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return Candidate{}, false, fmt.Errorf("enrichment: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Candidate{}, false, fmt.Errorf("enrichment: provider returned status %d", resp.StatusCode)
	}

	var out httpLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Candidate{}, false, fmt.Errorf("enrichment: decode response: %w", err)
	}
	if !out.Found {
		return Candidate{}, false, nil
	}
	return Candidate{Name: out.Name, Title: out.Title}, true, nil
}
