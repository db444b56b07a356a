// mtrip measures the maximum usable one-way bandwidth between two hosts
// over UDP. One host runs the passive reflector, which echoes every
// datagram it receives; the other runs the meter, which paces probe
// datagrams at increasing rates and searches for the highest rate that
// stays loss free.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/warnonerror"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andrejnano/mtrip/channel"
	"github.com/andrejnano/mtrip/logging"
	"github.com/andrejnano/mtrip/meter"
	"github.com/andrejnano/mtrip/reflector"
	"github.com/andrejnano/mtrip/version"
)

const usage = `mtrip measures one-way UDP bandwidth between two hosts.

Usage:
  mtrip reflect -port <port>
  mtrip meter -host <host> -port <port> -size <bytes> -time <duration>

Every flag can also be set through the environment (PORT, HOST, SIZE,
TIME, METRICS_ADDR).
`

// Context for the whole program. Tests cancel it to shut main down.
var ctx, cancel = context.WithCancel(context.Background())

// catchInterrupts cancels the program context on SIGINT or SIGTERM so
// both modes release their sockets and exit cooperatively instead of
// being killed mid-round.
func catchInterrupts() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-c:
			logging.Logger.WithField("signal", sig.String()).Info("Caught signal. Ending the program.")
			cancel()
		case <-ctx.Done():
		}
	}()
}

// startMetricsServer exposes Prometheus metrics and pprof on addr, or
// does nothing when addr is empty. Scrapes go through the access-log
// handler.
func startMetricsServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	srv := &http.Server{
		Addr:    addr,
		Handler: logging.MakeAccessLogHandler(mux),
	}
	rtx.Must(httpx.ListenAndServeAsync(srv), "Could not start metrics server")
	return srv
}

func runReflect() error {
	fs := flag.NewFlagSet("reflect", flag.ExitOnError)
	port := fs.Int("port", 10999, "The UDP port to listen on for probes")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (disabled when empty)")
	rtx.Must(flagx.ArgsFromEnv(fs), "Could not parse reflect flags")

	if *port < 0 || *port > 65535 {
		return fmt.Errorf("port %d is outside 0-65535", *port)
	}
	if srv := startMetricsServer(*metricsAddr); srv != nil {
		defer srv.Close()
	}

	ch, err := channel.Listen(*port)
	if err != nil {
		return err
	}
	defer warnonerror.Close(ch, "Could not close the reflector channel")
	return reflector.New(ch).Serve(ctx)
}

func runMeter() error {
	fs := flag.NewFlagSet("meter", flag.ExitOnError)
	host := fs.String("host", "", "Remote reflector host name or IP address (required)")
	port := fs.Int("port", 10999, "Remote reflector UDP port")
	size := fs.Int("size", 64, "Probe datagram size in bytes")
	duration := fs.Duration("time", 10*time.Second, "Total measurement duration")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (disabled when empty)")
	rtx.Must(flagx.ArgsFromEnv(fs), "Could not parse meter flags")

	cfg := meter.Config{
		Host:      *host,
		Port:      *port,
		ProbeSize: *size,
		Duration:  *duration,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if srv := startMetricsServer(*metricsAddr); srv != nil {
		defer srv.Close()
	}

	result, err := meter.Run(ctx, cfg)
	if errors.Is(err, context.Canceled) {
		logging.Logger.Info("meter: measurement interrupted; no result to report")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(result.Summary())
	return nil
}

func main() {
	defer cancel()
	catchInterrupts()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	mode := os.Args[1]
	// Mode flags follow the mode word; shift it out so the per-mode
	// flag set can parse os.Args and fall back to the environment.
	os.Args = append(os.Args[:1:1], os.Args[2:]...)

	logging.Logger.WithFields(log.Fields{
		"mode":    mode,
		"version": version.Version,
	}).Info("mtrip: started")

	var err error
	switch mode {
	case "reflect":
		err = runReflect()
	case "meter":
		err = runMeter()
	case "help", "-h", "--help":
		fmt.Fprint(os.Stderr, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Undefined mode %q.\n\n%s", mode, usage)
		os.Exit(1)
	}
	if err != nil {
		logging.Logger.WithError(err).Errorf("mtrip %s failed", mode)
		os.Exit(1)
	}
}
