package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
)

const openMeteoAPIBase = "https://api.open-meteo.com/v1/forecast"

// OpenMeteoClient fetches hourly weather forecasts from Open-Meteo API
type OpenMeteoClient struct {
	httpClient *http.Client
	baseURL    string
	latitude   float64
	longitude  float64
}

// NewOpenMeteoClient creates a new Open-Meteo client. An empty baseURL uses the public API.
func NewOpenMeteoClient(baseURL string, lat, lon float64) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = openMeteoAPIBase
	}
	return &OpenMeteoClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		latitude:   lat,
		longitude:  lon,
	}
}

// openMeteoResponse represents the API response
type openMeteoResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Hourly    struct {
		Time          []string   `json:"time"`
		Temperature2m []*float64 `json:"temperature_2m"`
		WindSpeed10m  []*float64 `json:"wind_speed_10m"`
	} `json:"hourly"`
}

// Forecast fetches hourly temperature and wind (m/s) for the days covering [start, end)
func (c *OpenMeteoClient) Forecast(ctx context.Context, start, end time.Time) ([]engine.WeatherSlot, error) {
	params := url.Values{}
	params.Add("latitude", fmt.Sprintf("%.4f", c.latitude))
	params.Add("longitude", fmt.Sprintf("%.4f", c.longitude))
	params.Add("hourly", "temperature_2m,wind_speed_10m")
	params.Add("wind_speed_unit", "ms")
	params.Add("timezone", "UTC")
	params.Add("start_date", start.UTC().Format("2006-01-02"))
	params.Add("end_date", end.UTC().Add(-time.Nanosecond).Format("2006-01-02"))

	fullURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var meteoResp openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&meteoResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	// Convert to WeatherSlots, hours without a temperature are skipped
	hourly := meteoResp.Hourly
	slots := make([]engine.WeatherSlot, 0, len(hourly.Time))
	for i := range hourly.Time {
		if i >= len(hourly.Temperature2m) || hourly.Temperature2m[i] == nil {
			continue
		}
		t, err := time.ParseInLocation("2006-01-02T15:04", hourly.Time[i], time.UTC)
		if err != nil {
			continue
		}

		slot := engine.WeatherSlot{Time: t, TempC: *hourly.Temperature2m[i]}
		if i < len(hourly.WindSpeed10m) && hourly.WindSpeed10m[i] != nil {
			slot.WindMps = *hourly.WindSpeed10m[i]
		}
		slots = append(slots, slot)
	}

	return slots, nil
}
