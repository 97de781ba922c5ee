package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
)

const (
	octopusAPIBase = "https://api.octopus.energy/v1"
	// Current Agile product code - update as needed
	defaultAgileProduct = "AGILE-24-10-01"
)

// Source delivers raw spot price points for [start, end)
type Source interface {
	Prices(ctx context.Context, start, end time.Time) ([]engine.PricePoint, error)
}

// OctopusClient fetches electricity prices from Octopus Energy Agile tariff
type OctopusClient struct {
	httpClient *http.Client
	baseURL    string
	product    string
	region     string
}

// NewOctopusClient creates a new client for the Octopus Agile API. Empty
// baseURL and product fall back to the public API and current Agile product.
func NewOctopusClient(baseURL, product, region string, timeout time.Duration) *OctopusClient {
	if baseURL == "" {
		baseURL = octopusAPIBase
	}
	if product == "" {
		product = defaultAgileProduct
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OctopusClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		product:    product,
		region:     region,
	}
}

// octopusResponse represents the API response structure
type octopusResponse struct {
	Count   int          `json:"count"`
	Next    *string      `json:"next"`
	Results []resultItem `json:"results"`
}

type resultItem struct {
	ValueExcVAT float64   `json:"value_exc_vat"`
	ValueIncVAT float64   `json:"value_inc_vat"`
	ValidFrom   time.Time `json:"valid_from"`
	ValidTo     time.Time `json:"valid_to"`
}

// Prices fetches half-hourly VAT inclusive prices for [start, end), following pagination
func (c *OctopusClient) Prices(ctx context.Context, start, end time.Time) ([]engine.PricePoint, error) {
	// Construct tariff code: E-1R-{PRODUCT}-{REGION}
	tariffCode := fmt.Sprintf("E-1R-%s-%s", c.product, c.region)

	endpoint := fmt.Sprintf("%s/products/%s/electricity-tariffs/%s/standard-unit-rates/",
		c.baseURL, c.product, tariffCode)

	params := url.Values{}
	params.Add("period_from", start.UTC().Format(time.RFC3339))
	params.Add("period_to", end.UTC().Format(time.RFC3339))

	next := fmt.Sprintf("%s?%s", endpoint, params.Encode())
	var points []engine.PricePoint
	for next != "" {
		page, err := c.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Results {
			if r.ValidFrom.Before(start) || !r.ValidFrom.Before(end) {
				continue
			}
			points = append(points, engine.PricePoint{Start: r.ValidFrom, Price: r.ValueIncVAT})
		}
		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}

	// API returns in reverse chronological order
	sort.Slice(points, func(i, j int) bool {
		return points[i].Start.Before(points[j].Start)
	})

	return points, nil
}

func (c *OctopusClient) fetchPage(ctx context.Context, pageURL string) (*octopusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var octResp octopusResponse
	if err := json.NewDecoder(resp.Body).Decode(&octResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &octResp, nil
}
