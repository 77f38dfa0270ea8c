package ingest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fjordops/growthd/internal/httputil"
	"github.com/fjordops/growthd/internal/models"
)

// Gateway polls a site gateway's HTTP API for recent sensor readings.
// Gateways buffer a rolling window per container, so a missed poll is
// recovered on the next one.
type Gateway struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewGateway(baseURL, token string) *Gateway {
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  httputil.NewClient(),
	}
}

type ReadingsResponse struct {
	ContainerID string           `json:"container_id"`
	Readings    []GatewayReading `json:"readings"`
}

type GatewayReading struct {
	ReadAt      string   `json:"read_at"`
	TempC       *float64 `json:"temp_c"`
	OxygenMgL   *float64 `json:"oxygen_mg_l"`
	SalinityPPT *float64 `json:"salinity_ppt"`
}

// FetchLatest pulls the buffered readings for one container. Transport
// hiccups and 429/5xx retry; auth and other 4xx failures are permanent.
func (g *Gateway) FetchLatest(containerID string) ([]models.SensorReading, []byte, int, error) {
	url := fmt.Sprintf("%s/v1/containers/%s/readings/latest", g.baseURL, containerID)

	var body []byte
	operation := func() error {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		if g.token != "" {
			req.Header.Set("Authorization", "Bearer "+g.token)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch readings: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("gateway busy: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch readings: status %d: %s", resp.StatusCode, truncateBody(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, nil, 0, err
	}

	readings, parseErrors, err := ParseReadingsResponse(containerID, body)
	return readings, body, parseErrors, err
}

// ParseReadingsResponse maps a gateway payload onto sensor readings for
// the given container. Entries without a temperature are skipped, not
// counted as errors; the assimilation chain has nothing to do with them.
func ParseReadingsResponse(containerID string, body []byte) ([]models.SensorReading, int, error) {
	var data ReadingsResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, 0, fmt.Errorf("unmarshal: %w", err)
	}

	var readings []models.SensorReading
	parseErrors := 0
	for _, r := range data.Readings {
		if r.TempC == nil {
			continue
		}
		readAt, err := time.Parse(time.RFC3339, r.ReadAt)
		if err != nil {
			parseErrors++
			continue
		}
		sr := models.SensorReading{
			ContainerID: containerID,
			ReadAt:      readAt.UTC(),
			TempC:       *r.TempC,
		}
		if r.OxygenMgL != nil {
			sr.OxygenMgL = sql.NullFloat64{Float64: *r.OxygenMgL, Valid: true}
		}
		if r.SalinityPPT != nil {
			sr.SalinityPPT = sql.NullFloat64{Float64: *r.SalinityPPT, Valid: true}
		}
		readings = append(readings, sr)
	}
	return readings, parseErrors, nil
}

func truncateBody(b []byte) string {
	const limit = 512
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "...(truncated)"
}
