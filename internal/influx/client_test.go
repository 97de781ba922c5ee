package influx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

const controlCSV = `#datatype,string,long,dateTime:RFC3339,dateTime:RFC3339,dateTime:RFC3339,double,string,string
#group,false,false,true,true,false,false,true,true
#default,_result,,,,,,,
,result,table,_start,_stop,_time,_value,_field,_measurement
,,0,2024-01-15T00:00:00Z,2024-01-15T00:15:00Z,2024-01-15T00:00:00Z,0,value,heating_control

`

const emptyCSV = "\r\n"

// fakeInflux serves the health, write and query endpoints
type fakeInflux struct {
	mu       sync.Mutex
	written  []string
	queries  []string
	response string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	switch r.URL.Path {
	case "/health":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"influxdb","message":"ready for queries and writes","status":"pass","checks":[],"version":"v2.7.0","commit":"abc"}`))
	case "/api/v2/write":
		f.written = append(f.written, string(body))
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/query":
		f.queries = append(f.queries, string(body))
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte(f.response))
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake *fakeInflux) *Client {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	c, err := NewClient(context.Background(), Config{URL: server.URL, Token: "t", Org: "home", Bucket: "smartheat"})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestWritePoints(t *testing.T) {
	fake := &fakeInflux{}
	c := newTestClient(t, fake)

	schedule := []engine.ControlPoint{
		{Start: day, Control: engine.ControlOn},
		{Start: day.Add(15 * time.Minute), Control: engine.ControlOff},
	}
	require.NoError(t, c.WritePoints(context.Background(), "heating_control", ControlPoints(schedule)))

	require.Len(t, fake.written, 1)
	lines := strings.Split(strings.TrimSpace(fake.written[0]), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "heating_control value=1 "), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "heating_control value=0 "), lines[1])

	// Nothing to write is not a request
	require.NoError(t, c.WritePoints(context.Background(), "heating_control", nil))
	assert.Len(t, fake.written, 1)
}

func TestPointsAndCurrentControl(t *testing.T) {
	fake := &fakeInflux{response: controlCSV}
	c := newTestClient(t, fake)

	points, err := c.Points(context.Background(), "heating_control", day, day.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, day.Equal(points[0].Time))
	assert.Equal(t, 0.0, points[0].Value)
	assert.Contains(t, fake.queries[0], `r[\"_measurement\"] == \"heating_control\"`)

	control, err := c.CurrentControl(context.Background(), "heating_control", day.Add(7*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, engine.ControlOff, control)
	assert.Contains(t, fake.queries[1], "2024-01-15T00:15:00Z")
}

func TestCurrentControlDefaultsOn(t *testing.T) {
	fake := &fakeInflux{response: emptyCSV}
	c := newTestClient(t, fake)

	control, err := c.CurrentControl(context.Background(), "heating_control", day)
	require.NoError(t, err)
	assert.Equal(t, engine.ControlOn, control)
}

func TestLoadHistory(t *testing.T) {
	h := LoadHistory{day.Unix(): 3.5}

	v, ok := h.LoadAt(day)
	assert.True(t, ok)
	assert.Equal(t, 3.5, v)

	_, ok = h.LoadAt(day.Add(engine.Resolution))
	assert.False(t, ok)
}

func TestPricePoints(t *testing.T) {
	points := PricePoints([]engine.PricePoint{{Start: day, Price: 7.25}})
	assert.Equal(t, []Point{{Time: day, Value: 7.25}}, points)
}

func TestRecorder(t *testing.T) {
	fake := &fakeInflux{}
	r := NewRecorder(newTestClient(t, fake), "spot_price", "total_load")

	require.NoError(t, r.RecordPrices(context.Background(), []engine.PricePoint{{Start: day, Price: 7.25}}))
	require.NoError(t, r.RecordLoads(context.Background(), []engine.LoadPoint{{Start: day, Load: 2}}))

	require.Len(t, fake.written, 2)
	assert.True(t, strings.HasPrefix(fake.written[0], "spot_price value=7.25 "), fake.written[0])
	assert.True(t, strings.HasPrefix(fake.written[1], "total_load value=2 "), fake.written[1])
}
