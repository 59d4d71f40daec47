package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tremor/pkg/circuitbreaker"
	"tremor/pkg/models"
)

// MapRenderer draws an epicenter map for an event. It is an external
// collaborator that may be slow or down; callers must degrade to a text-only
// send when it fails.
type MapRenderer interface {
	RenderMap(ctx context.Context, ev models.Event) ([]byte, error)
}

// HTTPMapRenderer calls the external map rendering service.
type HTTPMapRenderer struct {
	url  string
	http *http.Client
}

func NewHTTPMapRenderer(url string, timeout time.Duration) *HTTPMapRenderer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMapRenderer{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

type renderRequest struct {
	Source    string   `json:"source"`
	EventID   string   `json:"event_id"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Magnitude *float64 `json:"magnitude,omitempty"`
	DepthKM   *float64 `json:"depth_km,omitempty"`
	Place     string   `json:"place,omitempty"`
}

func (r *HTTPMapRenderer) RenderMap(ctx context.Context, ev models.Event) ([]byte, error) {
	place, _ := ev.Raw["placeName"].(string)
	body, err := json.Marshal(renderRequest{
		Source:    ev.Source,
		EventID:   ev.ExternalID,
		Latitude:  ev.Latitude,
		Longitude: ev.Longitude,
		Magnitude: ev.Magnitude,
		DepthKM:   ev.DepthKM,
		Place:     place,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("map renderer returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

// BreakerMapRenderer short-circuits map rendering while the collaborator is
// failing, so every event does not pay the timeout.
type BreakerMapRenderer struct {
	inner   MapRenderer
	breaker *circuitbreaker.Wrapper
}

func NewBreakerMapRenderer(inner MapRenderer) *BreakerMapRenderer {
	return &BreakerMapRenderer{
		inner:   inner,
		breaker: circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("map-renderer")),
	}
}

func (b *BreakerMapRenderer) RenderMap(ctx context.Context, ev models.Event) ([]byte, error) {
	result, err := b.breaker.Execute(ctx, func() (interface{}, error) {
		return b.inner.RenderMap(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
