package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/m-lab/go/osx"
	"github.com/m-lab/go/rtx"

	"github.com/andrejnano/mtrip/channel"
	"github.com/andrejnano/mtrip/reflector"
)

// startLocalReflector runs a reflector on an ephemeral port for meter
// tests and returns the port plus a shutdown function.
func startLocalReflector(t *testing.T) (int, func()) {
	t.Helper()
	ch, err := channel.Listen(0)
	rtx.Must(err, "Could not bind reflector channel")
	rctx, rcancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reflector.New(ch).Serve(rctx)
		close(done)
	}()
	return ch.LocalAddr().(*net.UDPAddr).Port, func() {
		rcancel()
		<-done
		ch.Close()
	}
}

func Test_ContextCancelsReflectMode(t *testing.T) {
	ctx, cancel = context.WithCancel(context.Background())
	os.Args = []string{"mtrip", "reflect", "-port=0"}

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()
	time.Sleep(250 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("reflect mode did not exit promptly after cancellation")
	}
}

func Test_MeterModeEndToEnd(t *testing.T) {
	port, shutdown := startLocalReflector(t)
	defer shutdown()

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	os.Args = []string{
		"mtrip", "meter",
		"-host=127.0.0.1",
		fmt.Sprintf("-port=%d", port),
		"-size=64",
		"-time=1s",
	}
	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("meter mode did not finish within its budget")
	}
}

func Test_MeterModeInterrupted(t *testing.T) {
	port, shutdown := startLocalReflector(t)
	defer shutdown()

	ctx, cancel = context.WithCancel(context.Background())
	os.Args = []string{
		"mtrip", "meter",
		"-host=127.0.0.1",
		fmt.Sprintf("-port=%d", port),
		"-size=64",
		"-time=1m",
	}
	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()
	time.Sleep(400 * time.Millisecond)
	cancel()
	select {
	case <-done:
		// An interrupted measurement exits zero with no report, so
		// reaching here without os.Exit is the success condition.
	case <-time.After(5 * time.Second):
		t.Fatal("meter mode did not exit promptly after the interrupt")
	}
}

func Test_MeterFlagsFromEnv(t *testing.T) {
	port, shutdown := startLocalReflector(t)
	defer shutdown()

	cleanups := []func(){}
	for _, ev := range []struct{ key, value string }{
		{"HOST", "127.0.0.1"},
		{"PORT", fmt.Sprintf("%d", port)},
		{"SIZE", "64"},
		{"TIME", "1s"},
	} {
		cleanups = append(cleanups, osx.MustSetenv(ev.key, ev.value))
	}
	defer func() {
		for _, f := range cleanups {
			f()
		}
	}()

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	os.Args = []string{"mtrip", "meter"}
	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("meter mode configured from the environment did not finish")
	}
}
