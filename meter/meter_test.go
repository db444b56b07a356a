package meter

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/m-lab/go/rtx"

	"github.com/andrejnano/mtrip/channel"
	"github.com/andrejnano/mtrip/reflector"
	"github.com/andrejnano/mtrip/search"
)

func startReflector(t *testing.T) (int, func()) {
	t.Helper()
	ch, err := channel.Listen(0)
	rtx.Must(err, "Could not bind reflector channel")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reflector.New(ch).Serve(ctx)
		close(done)
	}()
	return ch.LocalAddr().(*net.UDPAddr).Port, func() {
		cancel()
		<-done
		ch.Close()
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{Host: "localhost", Port: 10999, ProbeSize: 64, Duration: time.Second}, false},
		{"missing host", Config{Port: 10999, ProbeSize: 64, Duration: time.Second}, true},
		{"port too low", Config{Host: "h", Port: 0, ProbeSize: 64, Duration: time.Second}, true},
		{"port too high", Config{Host: "h", Port: 70000, ProbeSize: 64, Duration: time.Second}, true},
		{"probe below header", Config{Host: "h", Port: 1, ProbeSize: 12, Duration: time.Second}, true},
		{"probe too large", Config{Host: "h", Port: 1, ProbeSize: 1 << 20, Duration: time.Second}, true},
		{"zero duration", Config{Host: "h", Port: 1, ProbeSize: 64}, true},
		{"negative duration", Config{Host: "h", Port: 1, ProbeSize: 64, Duration: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunEndToEndOverLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("5 second end-to-end measurement")
	}
	port, shutdown := startReflector(t)
	defer shutdown()

	cfg := Config{
		Host:      "127.0.0.1",
		Port:      port,
		ProbeSize: 64,
		Duration:  5 * time.Second,
	}
	start := time.Now()
	result, err := Run(context.Background(), cfg)
	rtx.Must(err, "Measurement against a local reflector should succeed")

	if result.MaxLosslessRateBps <= 0 {
		t.Errorf("MaxLosslessRateBps = %f, want > 0 on loopback", result.MaxLosslessRateBps)
	}
	if result.TotalProbesSent <= 0 {
		t.Errorf("TotalProbesSent = %d, want > 0", result.TotalProbesSent)
	}
	if result.UUID == "" {
		t.Error("SessionResult carries no UUID")
	}
	// The budget plus one round of grace overhead bounds the session.
	if elapsed := time.Since(start); elapsed > cfg.Duration+2*time.Second {
		t.Errorf("session took %v, want at most the %v budget plus bounded overhead", elapsed, cfg.Duration)
	}
	if result.MinRTT <= 0 {
		t.Errorf("MinRTT = %v, want > 0", result.MinRTT)
	}
}

func TestRunInterruptedMidSessionReportsNothing(t *testing.T) {
	port, shutdown := startReflector(t)
	defer shutdown()

	cfg := Config{
		Host:      "127.0.0.1",
		Port:      port,
		ProbeSize: 64,
		Duration:  time.Minute,
		Search: search.Config{
			RoundDuration: 200 * time.Millisecond,
			Grace:         100 * time.Millisecond,
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if result != nil {
		t.Error("an interrupted session must not emit a partial result")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("shutdown took %v after the interrupt, want prompt exit", elapsed)
	}
}

func TestRunValidatesBeforeOpeningSockets(t *testing.T) {
	_, err := Run(context.Background(), Config{Host: "", Port: 1, ProbeSize: 64, Duration: time.Second})
	if err == nil {
		t.Error("Run with an invalid configuration should fail")
	}
}
