package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func hourly(temps ...float64) []engine.WeatherSlot {
	slots := make([]engine.WeatherSlot, len(temps))
	for i, t := range temps {
		slots[i] = engine.WeatherSlot{Time: day.Add(time.Duration(i) * time.Hour), TempC: t, WindMps: 5}
	}
	return slots
}

func TestWindChill(t *testing.T) {
	tests := []struct {
		name    string
		temp    float64
		wind    float64
		want    float64
		changed bool
	}{
		{name: "cold and windy", temp: -10, wind: 5, want: -17.45, changed: true},
		{name: "warm air unchanged", temp: 12, wind: 10},
		{name: "calm air unchanged", temp: -5, wind: 1},
		{name: "light breeze unchanged", temp: -5, wind: 1.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WindChill(tt.temp, tt.wind)
			if tt.changed {
				assert.InDelta(t, tt.want, got, 0.05)
			} else {
				assert.Equal(t, tt.temp, got)
			}
		})
	}
}

func TestForecastAverage(t *testing.T) {
	// Unsorted input is accepted
	slots := hourly(-4, -2, 0, 2)
	slots[0], slots[3] = slots[3], slots[0]
	f := NewForecast(slots, false)

	avg, n := f.Average(day, day.Add(2*time.Hour))
	assert.Equal(t, 2, n)
	assert.Equal(t, -3.0, avg)

	avg, n = f.Average(day.Add(30*time.Minute), day.Add(4*time.Hour))
	assert.Equal(t, 3, n, "slot before the start excluded")
	assert.Equal(t, 0.0, avg)

	_, n = f.Average(day.Add(10*time.Hour), day.Add(12*time.Hour))
	assert.Equal(t, 0, n)
}

func TestForecastAverageWindChill(t *testing.T) {
	f := NewForecast(hourly(-10), true)
	avg, n := f.Average(day, day.Add(time.Hour))
	assert.Equal(t, 1, n)
	assert.Less(t, avg, -10.0)
}

func TestForecastNearest(t *testing.T) {
	f := NewForecast(hourly(1, 2, 3), false)

	s, ok := f.Nearest(day.Add(70 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, 2.0, s.TempC)

	_, ok = NewForecast(nil, false).Nearest(day)
	assert.False(t, ok)
}

func TestOpenMeteoForecast(t *testing.T) {
	var query map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"latitude": 60.17,
			"longitude": 24.94,
			"hourly": {
				"time": ["2024-01-15T00:00", "2024-01-15T01:00", "2024-01-15T02:00"],
				"temperature_2m": [-5.5, null, -4.0],
				"wind_speed_10m": [3.2, 3.0, null]
			}
		}`))
	}))
	defer server.Close()

	client := NewOpenMeteoClient(server.URL, 60.17, 24.94)
	slots, err := client.Forecast(context.Background(), day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, slots, 2)

	assert.True(t, day.Equal(slots[0].Time))
	assert.Equal(t, -5.5, slots[0].TempC)
	assert.Equal(t, 3.2, slots[0].WindMps)
	assert.True(t, day.Add(2*time.Hour).Equal(slots[1].Time))
	assert.Equal(t, 0.0, slots[1].WindMps)

	assert.Equal(t, []string{"2024-01-15"}, query["start_date"])
	assert.Equal(t, []string{"2024-01-15"}, query["end_date"])
	assert.Equal(t, []string{"ms"}, query["wind_speed_unit"])
}

func TestOpenMeteoError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewOpenMeteoClient(server.URL, 0, 0)
	_, err := client.Forecast(context.Background(), day, day.Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
