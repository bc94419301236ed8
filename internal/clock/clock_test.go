package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestServiceUptime(t *testing.T) {
	mock := NewMock()
	svc := NewService(mock)

	mock.Add(1500 * time.Millisecond)
	if got, want := svc.Uptime(), 1500*time.Millisecond; got != want {
		t.Errorf("Uptime() = %v, want %v", got, want)
	}
}

func TestServiceEveryFires(t *testing.T) {
	mock := NewMock()
	svc := NewService(mock)
	defer svc.Close()

	fired := make(chan struct{}, 8)
	svc.Every("check", 250*time.Millisecond, func() {
		fired <- struct{}{}
	})

	mock.Add(250 * time.Millisecond)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("periodic timer did not fire after one period")
	}
}

func TestPeriodicStopHaltsCallbacks(t *testing.T) {
	mock := NewMock()
	svc := NewService(mock)

	var calls atomic.Int32
	p := svc.Every("check", time.Second, func() {
		calls.Add(1)
	})
	p.Stop()
	p.Stop()

	mock.Add(5 * time.Second)
	time.Sleep(10 * time.Millisecond)

	if got := calls.Load(); got != 0 {
		t.Errorf("callbacks after Stop = %d, want 0", got)
	}
	if p.Name() != "check" {
		t.Errorf("Name() = %q, want %q", p.Name(), "check")
	}
}
