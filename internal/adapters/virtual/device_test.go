package virtual

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ghalamif/SigFlow/internal/domain"
	"github.com/ghalamif/SigFlow/internal/ports"
)

func TestFeedDeliversUntilEnd(t *testing.T) {
	dev := New("v", LogicChannels(2))
	var got []domain.Payload
	acq, err := dev.NewAcquisition(func(_ ports.Device, p domain.Payload) { got = append(got, p) })
	if err != nil {
		t.Fatalf("new acquisition: %v", err)
	}
	if err := acq.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- acq.Run() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := dev.Feed(ctx, domain.FrameBegin{}, domain.Logic{UnitSize: 1, Data: []byte{1}}); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected packets handled before Feed returns, got %d", len(got))
	}
	if err := dev.Feed(ctx, domain.End{}); err != nil {
		t.Fatalf("feed end: %v", err)
	}
	if err := <-runErr; err != nil {
		t.Fatalf("run: %v", err)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if err := dev.Feed(short, domain.End{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected feed to wait for a new acquisition, got %v", err)
	}
}

func TestStopEndsRun(t *testing.T) {
	for _, abort := range []bool{false, true} {
		opts := []Option{WithTrigger()}
		if abort {
			opts = append(opts, WithAbortWithoutEnd())
		}
		dev := New("v", LogicChannels(1), opts...)
		var got []domain.Payload
		acq, _ := dev.NewAcquisition(func(_ ports.Device, p domain.Payload) { got = append(got, p) })
		if !acq.TriggerEnabled() {
			t.Fatalf("expected trigger")
		}
		_ = acq.Start()
		done := make(chan struct{})
		go func() {
			_ = acq.Run()
			close(done)
		}()
		_ = acq.Stop()
		_ = acq.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("run did not return after stop")
		}

		if abort {
			if len(got) != 0 {
				t.Fatalf("abort must not deliver packets, got %v", got)
			}
			continue
		}
		if len(got) != 1 {
			t.Fatalf("expected End on stop, got %v", got)
		}
		if _, ok := got[0].(domain.End); !ok {
			t.Fatalf("expected End on stop, got %T", got[0])
		}
	}
}

func TestStartError(t *testing.T) {
	boom := errors.New("boom")
	dev := New("v", LogicChannels(1), WithStartError(boom))
	acq, _ := dev.NewAcquisition(func(ports.Device, domain.Payload) {})
	if err := acq.Start(); !errors.Is(err, boom) {
		t.Fatalf("expected start error, got %v", err)
	}
	if _, err := dev.ConfigGet(domain.KeySampleRate); err == nil {
		t.Fatalf("expected error for unset key")
	}
}
