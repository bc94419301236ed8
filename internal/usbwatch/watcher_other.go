//go:build !darwin

package usbwatch

import "context"

// Supported reports whether arrivals are delivered on this platform.
const Supported = false

// arrivals never fires off macOS; callers fall back to polling.
func arrivals(ctx context.Context, _ map[uint16]bool) <-chan uint16 {
	ch := make(chan uint16)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}
