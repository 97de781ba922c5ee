package prices

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
	"github.com/sirupsen/logrus"
)

const entsoeAPIBase = "https://web-api.tp.entsoe.eu/api"

var (
	ErrPricesUnavailable  = errors.New("spot prices not available")
	ErrUnexpectedDocument = errors.New("unexpected ENTSO-E document")
)

// EntsoeClient fetches day-ahead spot prices from the ENTSO-E transparency platform
type EntsoeClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	zone       string
	tax        float64
}

// NewEntsoeClient creates a client for one bidding zone. tax multiplies the
// converted price, 1.0 for none.
func NewEntsoeClient(baseURL, token, zone string, tax float64, timeout time.Duration) *EntsoeClient {
	if baseURL == "" {
		baseURL = entsoeAPIBase
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EntsoeClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		token:      token,
		zone:       zone,
		tax:        tax,
	}
}

type entsoeDocument struct {
	XMLName    xml.Name
	TimeSeries []entsoeTimeSeries `xml:"TimeSeries"`
	Reason     []entsoeReason     `xml:"Reason"`
}

type entsoeTimeSeries struct {
	Period []entsoePeriod `xml:"Period"`
}

type entsoePeriod struct {
	TimeInterval struct {
		Start string `xml:"start"`
		End   string `xml:"end"`
	} `xml:"timeInterval"`
	Resolution string        `xml:"resolution"`
	Points     []entsoePoint `xml:"Point"`
}

type entsoePoint struct {
	Position int     `xml:"position"`
	Amount   float64 `xml:"price.amount"`
}

type entsoeReason struct {
	Code string `xml:"code"`
	Text string `xml:"text"`
}

// Prices fetches day-ahead prices for [start, end) in c/kWh including tax
func (c *EntsoeClient) Prices(ctx context.Context, start, end time.Time) ([]engine.PricePoint, error) {
	params := url.Values{}
	params.Add("securityToken", c.token)
	params.Add("documentType", "A44")
	params.Add("in_Domain", c.zone)
	params.Add("out_Domain", c.zone)
	params.Add("TimeInterval", start.UTC().Format(entsoeTimeLayout)+"/"+end.UTC().Format(entsoeTimeLayout))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching prices: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	// Missing data comes back as an acknowledgement, sometimes with a 400
	points, err := ParseEntsoe(body, c.tax)
	if err != nil {
		if resp.StatusCode != http.StatusOK && errors.Is(err, ErrUnexpectedDocument) {
			return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
		}
		return nil, err
	}

	filtered := points[:0]
	for _, p := range points {
		if !p.Start.Before(start) && p.Start.Before(end) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

const entsoeTimeLayout = "2006-01-02T15:04Z07:00"

// ParseEntsoe converts a Publication_MarketDocument to price points. EUR/MWh
// becomes c/kWh, multiplied by tax and rounded to 4 decimals. Positions
// missing from a period repeat the previous price.
func ParseEntsoe(data []byte, tax float64) ([]engine.PricePoint, error) {
	var doc entsoeDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedDocument, err)
	}

	switch doc.XMLName.Local {
	case "Acknowledgement_MarketDocument":
		reason := "no reason given"
		if len(doc.Reason) > 0 {
			reason = doc.Reason[0].Text
		}
		return nil, fmt.Errorf("%w: %s", ErrPricesUnavailable, reason)
	case "Publication_MarketDocument":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedDocument, doc.XMLName.Local)
	}

	var points []engine.PricePoint
	for _, ts := range doc.TimeSeries {
		for _, period := range ts.Period {
			parsed, err := parsePeriod(period, tax)
			if err != nil {
				return nil, err
			}
			points = append(points, parsed...)
		}
	}
	logrus.WithField("points", len(points)).Debug("parsed ENTSO-E prices")
	return points, nil
}

func parsePeriod(p entsoePeriod, tax float64) ([]engine.PricePoint, error) {
	start, err := time.Parse(entsoeTimeLayout, p.TimeInterval.Start)
	if err != nil {
		return nil, fmt.Errorf("%w: period start %q", ErrUnexpectedDocument, p.TimeInterval.Start)
	}
	end, err := time.Parse(entsoeTimeLayout, p.TimeInterval.End)
	if err != nil {
		return nil, fmt.Errorf("%w: period end %q", ErrUnexpectedDocument, p.TimeInterval.End)
	}
	res, err := parseResolution(p.Resolution)
	if err != nil {
		return nil, err
	}

	byPosition := make(map[int]float64, len(p.Points))
	for _, pt := range p.Points {
		byPosition[pt.Position] = math.Round(pt.Amount*tax/10*10000) / 10000
	}

	n := int(end.Sub(start) / res)
	points := make([]engine.PricePoint, 0, n)
	var price float64
	have := false
	for pos := 1; pos <= n; pos++ {
		if v, ok := byPosition[pos]; ok {
			price, have = v, true
		}
		if !have {
			continue
		}
		points = append(points, engine.PricePoint{
			Start: start.Add(time.Duration(pos-1) * res),
			Price: price,
		})
	}
	return points, nil
}

var resolutionPattern = regexp.MustCompile(`^PT(\d+)([MH])$`)

// parseResolution reads the PT15M / PT60M / PT1H durations used in ENTSO-E documents
func parseResolution(s string) (time.Duration, error) {
	m := resolutionPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: resolution %q", ErrUnexpectedDocument, s)
	}
	n, _ := strconv.Atoi(m[1])
	if n == 0 {
		return 0, fmt.Errorf("%w: resolution %q", ErrUnexpectedDocument, s)
	}
	if m[2] == "H" {
		return time.Duration(n) * time.Hour, nil
	}
	return time.Duration(n) * time.Minute, nil
}
