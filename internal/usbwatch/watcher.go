// Package usbwatch signals when a USB HID device from a known vendor is
// attached, so a disconnected backend can be reopened without polling.
package usbwatch

import (
	"context"
	"log"
	"time"

	"github.com/phinze/knobdeck/internal/clock"
)

// DefaultSettle is how long arrivals are coalesced. One physical device
// enumerates several HID interfaces in quick succession.
const DefaultSettle = 500 * time.Millisecond

// Watcher reports device arrivals for a set of vendor IDs.
type Watcher struct {
	vendors map[uint16]bool
	settle  time.Duration
	clk     clock.Clock
}

// New creates a watcher for the given vendor IDs.
func New(clk clock.Clock, vendorIDs ...uint16) *Watcher {
	if clk == nil {
		clk = clock.New()
	}
	w := &Watcher{
		vendors: make(map[uint16]bool, len(vendorIDs)),
		settle:  DefaultSettle,
		clk:     clk,
	}
	for _, id := range vendorIDs {
		w.vendors[id] = true
	}
	return w
}

// Watch returns a channel that receives one signal per burst of arrivals.
// The channel is closed when ctx is done.
func (w *Watcher) Watch(ctx context.Context) <-chan struct{} {
	return w.coalesce(ctx, arrivals(ctx, w.vendors))
}

func (w *Watcher) coalesce(ctx context.Context, in <-chan uint16) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		var last time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case vid, ok := <-in:
				if !ok {
					return
				}
				now := w.clk.Now()
				if !last.IsZero() && now.Sub(last) < w.settle {
					continue
				}
				last = now
				log.Printf("usbwatch: device arrived (vendor 0x%04x)", vid)
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
