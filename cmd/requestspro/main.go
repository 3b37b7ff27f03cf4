// Command requestspro performs a single HTTP request through a configured
// session. Useful for smoke-testing configs, proxies, and TLS profiles from
// the shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/razvancmp/go-requests-pro/requestspro"
	"github.com/razvancmp/go-requests-pro/requestspro/instrumentation"
)

type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(v string) error {
	if !strings.Contains(v, ":") {
		return fmt.Errorf("header %q is not in key:value form", v)
	}
	*h = append(*h, v)
	return nil
}

var (
	configPath = flag.String("config", "", "path to a session config JSON file")
	method     = flag.String("method", http.MethodGet, "HTTP method")
	data       = flag.String("data", "", "request body")
	headOnly   = flag.Bool("headers-only", false, "print response headers instead of the body")
	metricsEp  = flag.String("metrics", "", "serve Prometheus metrics on this address (e.g. 127.0.0.1:9091)")
)

func main() {
	var extraHeaders headerFlags
	flag.Var(&extraHeaders, "header", "extra request header in key:value form, repeatable")
	klog.InitFlags(nil)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] URL\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	target := flag.Arg(0)

	if err := godotenv.Load(); err != nil {
		klog.V(1).Infof("No .env file loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := instrumentation.Init(ctx, instrumentation.DefaultConfig())
	if err != nil {
		klog.Warningf("Instrumentation init failed, continuing without: %v", err)
	} else {
		defer shutdown(context.Background())
	}

	if *metricsEp != "" {
		go serveMetrics(*metricsEp)
	}

	session, err := buildSession()
	if err != nil {
		klog.Exitf("Session setup failed: %v", err)
	}
	defer session.Close()

	opts := make([]requestspro.RequestOption, 0, len(extraHeaders)+1)
	for _, h := range extraHeaders {
		k, v, _ := strings.Cut(h, ":")
		opts = append(opts, requestspro.WithHeader(strings.TrimSpace(k), strings.TrimSpace(v)))
	}
	if *data != "" {
		opts = append(opts, requestspro.WithBody([]byte(*data), "application/x-www-form-urlencoded"))
	}

	resp, err := session.Do(ctx, strings.ToUpper(*method), target, opts...)
	if err != nil {
		klog.Exitf("Request failed: %v", err)
	}

	fmt.Fprintf(os.Stderr, "%s %s (%s)\n", resp.Status, resp.FinalURL, resp.Elapsed)
	if *headOnly {
		keys := lo.Keys(resp.Headers)
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s: %s\n", k, strings.Join(resp.Headers[k], ", "))
		}
		return
	}
	os.Stdout.Write(resp.Body)
}

func buildSession() (*requestspro.Session, error) {
	if *configPath == "" {
		return requestspro.NewSession(requestspro.ClientConfig{Backend: requestspro.BackendStandard})
	}
	raw, err := os.ReadFile(*configPath)
	if err != nil {
		return nil, err
	}
	return requestspro.NewSessionFromJSON(raw)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	klog.Infof("Serving metrics on http://%s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		klog.Errorf("Metrics server exited: %v", err)
	}
}
