// Package weather answers forecast questions via the Open-Meteo API,
// which needs no API key.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultBaseURL  = "https://api.open-meteo.com"
	defaultTimeout  = 10 * time.Second
	maxResponseSize = int64(1 << 20) // 1MB
)

// Config configures the weather tool.
type Config struct {
	// BaseURL overrides the Open-Meteo endpoint, used by tests.
	BaseURL string `yaml:"base_url"`
	// Latitude and Longitude are the default location when the model
	// does not supply one.
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`

	HTTPClient *http.Client `yaml:"-"`
}

// Tool fetches current conditions and a short daily forecast.
type Tool struct {
	baseURL string
	lat     float64
	lon     float64
	client  *http.Client
}

// New builds the weather tool.
func New(cfg Config) *Tool {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Tool{
		baseURL: baseURL,
		lat:     cfg.Latitude,
		lon:     cfg.Longitude,
		client:  client,
	}
}

func (t *Tool) Name() string { return "get_weather" }

func (t *Tool) Description() string {
	return "Get the current weather and a daily forecast. Defaults to the home location when no coordinates are given."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "latitude": { "type": "number", "description": "Latitude; omit to use the home location." },
    "longitude": { "type": "number", "description": "Longitude; omit to use the home location." },
    "days": { "type": "integer", "description": "Forecast days to include (1-7, default 3).", "default": 3 }
  }
}`)
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Days      int      `json:"days"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	lat, lon := t.lat, t.lon
	if input.Latitude != nil {
		lat = *input.Latitude
	}
	if input.Longitude != nil {
		lon = *input.Longitude
	}
	days := input.Days
	if days <= 0 {
		days = 3
	}
	if days > 7 {
		days = 7
	}

	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	query.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	query.Set("current", "temperature_2m,apparent_temperature,precipitation,weather_code,wind_speed_10m")
	query.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_probability_max,weather_code")
	query.Set("forecast_days", strconv.Itoa(days))
	query.Set("timezone", "auto")

	endpoint := t.baseURL + "/v1/forecast?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("weather: create request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("weather: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("weather: forecast API returned %s", resp.Status)
	}
	return string(data), nil
}
