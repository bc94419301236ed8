// Package bridge polls the media bridge for playable zones. A bridge that
// reports at least one zone is what makes immersive mode available.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/phinze/knobdeck/internal/clock"
)

// Zone is one playback zone exposed by the bridge.
type Zone struct {
	ID   string `json:"zone_id"`
	Name string `json:"zone_name"`
}

type zonesResponse struct {
	Zones []Zone `json:"zones"`
}

// Probe caches the bridge's readiness. Ready is cheap and safe to call from
// any goroutine.
type Probe struct {
	baseURL string
	token   string
	knobID  string
	clk     clock.Clock

	httpClient *http.Client

	ready atomic.Bool

	mu      sync.Mutex
	zones   []Zone
	lastErr error
}

// NewProbe creates a probe for baseURL. An empty baseURL means there is no
// bridge to wait for and Ready always reports true.
func NewProbe(baseURL, token string, clk clock.Clock) *Probe {
	if clk == nil {
		clk = clock.New()
	}
	p := &Probe{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		clk:     clk,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	if p.baseURL == "" {
		p.ready.Store(true)
	}
	return p
}

// SetKnobID sets the identifier sent with zone queries so the bridge can
// filter zones per device.
func (p *Probe) SetKnobID(id string) {
	p.knobID = id
}

// Ready reports whether the last successful poll found at least one zone.
func (p *Probe) Ready() bool {
	return p.ready.Load()
}

// Zones returns the zones seen by the last successful poll.
func (p *Probe) Zones() []Zone {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Zone(nil), p.zones...)
}

// Err returns the error from the last poll, if any.
func (p *Probe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Check polls the bridge once and updates the cached state. A failed
// request marks the bridge as not ready.
func (p *Probe) Check(ctx context.Context) error {
	if p.baseURL == "" {
		return nil
	}

	zones, err := p.fetchZones(ctx)

	p.mu.Lock()
	p.lastErr = err
	if err == nil {
		p.zones = zones
	} else {
		p.zones = nil
	}
	p.mu.Unlock()

	ready := err == nil && len(zones) > 0
	if prev := p.ready.Swap(ready); prev != ready {
		log.Printf("bridge: ready=%v (%d zones)", ready, len(zones))
	}
	return err
}

// Poll checks immediately and then every interval until ctx is done.
func (p *Probe) Poll(ctx context.Context, interval time.Duration) {
	if p.baseURL == "" {
		return
	}

	if err := p.Check(ctx); err != nil {
		log.Printf("bridge: %v", err)
	}

	ticker := p.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Check(ctx); err != nil && ctx.Err() == nil {
				log.Printf("bridge: %v", err)
			}
		}
	}
}

func (p *Probe) fetchZones(ctx context.Context) ([]Zone, error) {
	reqURL := p.baseURL + "/zones"
	if p.knobID != "" {
		reqURL += "?" + url.Values{"knob_id": {p.knobID}}.Encode()
	}

	resp, err := p.get(ctx, reqURL, "application/json")
	if err != nil {
		return nil, fmt.Errorf("fetch zones: %w", err)
	}
	defer resp.Body.Close()

	var data zonesResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode zones: %w", err)
	}
	return data.Zones, nil
}

// Artwork fetches the now-playing image for zoneID, scaled by the bridge to
// fit size.
func (p *Probe) Artwork(ctx context.Context, zoneID string, size image.Point) (image.Image, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("no bridge configured")
	}
	q := url.Values{
		"zone_id": {zoneID},
		"scale":   {"fit"},
		"width":   {fmt.Sprint(size.X)},
		"height":  {fmt.Sprint(size.Y)},
	}
	resp, err := p.get(ctx, p.baseURL+"/now_playing/image?"+q.Encode(), "image/*")
	if err != nil {
		return nil, fmt.Errorf("fetch artwork: %w", err)
	}
	defer resp.Body.Close()

	img, format, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode artwork: %w", err)
	}
	log.Printf("bridge: artwork for %s: %s %v", zoneID, format, img.Bounds().Size())
	return img, nil
}

// get issues an authorized GET and fails on any status but 200.
func (p *Probe) get(ctx context.Context, reqURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	req.Header.Set("Accept", accept)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("bridge error: %s", resp.Status)
	}
	return resp, nil
}
