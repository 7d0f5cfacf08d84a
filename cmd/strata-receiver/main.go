// Command strata-receiver runs the consumer side of a bonded session
// standalone: it binds the configured links, reassembles delivered
// payloads in order, and writes them to a file or stdout while serving
// a Prometheus scrape endpoint.
//
// Grounded on ooni-netem/cmd/throttle/main.go's flag parsing and
// apex/log wiring style (flag.Parse then a context with cancellation,
// log.Warnf on recoverable errors).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	alog "github.com/apex/log"

	"github.com/strata-video/bonding/internal/config"
	"github.com/strata-video/bonding/internal/logging"
	"github.com/strata-video/bonding/pkg/bonding"
)

const (
	exitOK       = 0
	exitArgError = 1
	exitBindFail = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("strata-receiver", flag.ContinueOnError)
	fs.SetOutput(stderr)

	bindFlag := fs.String("bind", "", "comma-separated list of host:port[/iface] addresses to bind, one per link (required)")
	outputFlag := fs.String("output", "stdout", "output path for reassembled payloads, or \"stdout\"")
	metricsAddr := fs.String("metrics-addr", "127.0.0.1:9464", "address to serve the Prometheus /metrics endpoint on")
	latencyMs := fs.Int("latency", 0, "override reassembly start latency in milliseconds (0 = use default)")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		return exitArgError
	}
	if *bindFlag == "" {
		fmt.Fprintln(stderr, "strata-receiver: --bind is required")
		return exitArgError
	}

	cfg := config.Default()
	links, err := parseBindFlag(*bindFlag)
	if err != nil {
		fmt.Fprintf(stderr, "strata-receiver: %v\n", err)
		return exitArgError
	}
	cfg.Links = links
	if *latencyMs > 0 {
		cfg.Receiver.StartLatency = time.Duration(*latencyMs) * time.Millisecond
	}

	logger := logging.NewCLI(stderr, alog.InfoLevel)

	out, closeOut, err := openOutput(*outputFlag, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "strata-receiver: %v\n", err)
		return exitArgError
	}
	defer closeOut()

	ln, err := net.Listen("tcp", *metricsAddr)
	if err != nil {
		logger.Errorf("metrics endpoint bind failed: %v", err)
		return exitBindFail
	}

	rt := bonding.NewReceiverRuntime(cfg, logger)
	defer rt.Close()
	if rt.LinkCount() == 0 {
		logger.Errorf("no link in --bind %q could be bound", *bindFlag)
		ln.Close()
		return exitBindFail
	}

	srv := &http.Server{Handler: rt.MetricsHandle().Handler()}
	go srv.Serve(ln)
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := bufio.NewWriter(out)
	defer w.Flush()

	for {
		select {
		case <-ctx.Done():
			srv.Close()
			logger.Info("strata-receiver: shutting down")
			return exitOK
		case d, ok := <-rt.Deliveries():
			if !ok {
				return exitOK
			}
			w.Write(d.Payload)
		}
	}
}

func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" || path == "stdout" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening --output %q: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

// parseBindFlag parses "host:port[/iface],host:port[/iface],...", assigning
// each address a sequential link id in list order.
func parseBindFlag(spec string) ([]config.LinkConfig, error) {
	var out []config.LinkConfig
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		uri, iface, _ := strings.Cut(entry, "/")
		out = append(out, config.LinkConfig{ID: len(out), URI: uri, Interface: iface})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("--bind named no links")
	}
	return out, nil
}
