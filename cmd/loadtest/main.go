// Command loadtest fires Grafana-style alert webhooks at a running relay and
// prints latency, status and provider distribution.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type headerFlags []string

func (h *headerFlags) String() string {
	return strings.Join(*h, ", ")
}

func (h *headerFlags) Set(value string) error {
	*h = append(*h, value)
	return nil
}

type result struct {
	statusCode int
	latency    time.Duration
	err        error
	provider   string
	snippet    string
}

// relayResponse is the subset of the relay's reply used for the provider histogram
type relayResponse struct {
	Provider  string `json:"provider"`
	Forwarded bool   `json:"forwarded"`
}

func parseHeaders(hs headerFlags) (map[string]string, error) {
	headers := make(map[string]string)
	for _, line := range hs {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid header: %q (expected 'Key: Value')", line)
		}
		headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return headers, nil
}

// samplePayload builds a firing alert in the Grafana unified alerting webhook format
func samplePayload(seq int) []byte {
	now := time.Now().UTC()
	payload := map[string]interface{}{
		"receiver": "alert-relay",
		"status":   "firing",
		"title":    fmt.Sprintf("[FIRING:1] HighCPU load-test #%d", seq),
		"message":  "CPU usage above 90% for 5m",
		"alerts": []map[string]interface{}{{
			"status":      "firing",
			"labels":      map[string]string{"alertname": "HighCPU", "instance": "node-1", "severity": "critical"},
			"annotations": map[string]string{"summary": "CPU usage above 90%"},
			"startsAt":    now.Format(time.RFC3339),
			"endsAt":      "0001-01-01T00:00:00Z",
			"fingerprint": fmt.Sprintf("%016x", seq),
		}},
		"groupLabels":  map[string]string{"alertname": "HighCPU"},
		"commonLabels": map[string]string{"alertname": "HighCPU", "severity": "critical"},
		"externalURL":  "http://grafana.local/",
		"version":      "1",
		"groupKey":     "{}:{alertname=\"HighCPU\"}",
	}
	b, _ := json.Marshal(payload)
	return b
}

func main() {
	var (
		targetURL   string
		requests    int
		concurrency int
		timeoutSec  int
		payloadFile string
		headersFlag headerFlags
	)
	flag.StringVar(&targetURL, "url", "http://localhost:8048/webhook", "Relay webhook URL")
	flag.IntVar(&requests, "n", 100, "Total number of alerts to send (use 1 to send a single sample alert)")
	flag.IntVar(&concurrency, "c", 10, "Number of concurrent senders")
	flag.IntVar(&timeoutSec, "timeout", 60, "Per-request timeout seconds")
	flag.StringVar(&payloadFile, "payload-file", "", "Send this JSON file instead of generated alerts")
	flag.Var(&headersFlag, "H", "Extra header (repeatable), e.g., -H 'X-Scope: test'")
	flag.Parse()

	if requests <= 0 || concurrency <= 0 {
		fmt.Println("n and c must be > 0")
		os.Exit(1)
	}
	if concurrency > requests {
		concurrency = requests
	}

	extraHeaders, err := parseHeaders(headersFlag)
	if err != nil {
		fmt.Println("header parse error:", err)
		os.Exit(1)
	}

	var fixedPayload []byte
	if payloadFile != "" {
		fixedPayload, err = os.ReadFile(payloadFile)
		if err != nil {
			fmt.Println("read payload file error:", err)
			os.Exit(1)
		}
	}

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          concurrency,
			MaxIdleConnsPerHost:   concurrency,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: time.Duration(timeoutSec) * time.Second,
		},
		Timeout: time.Duration(timeoutSec) * time.Second,
	}

	jobs := make(chan int, requests)
	results := make(chan result, requests)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	testStart := time.Now()
	sender := func() {
		defer wg.Done()
		for seq := range jobs {
			body := fixedPayload
			if body == nil {
				body = samplePayload(seq)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
			if err != nil {
				results <- result{err: err}
				continue
			}
			req.Header.Set("Content-Type", "application/json")
			for k, v := range extraHeaders {
				req.Header.Set(k, v)
			}

			start := time.Now()
			resp, err := client.Do(req)
			lat := time.Since(start)
			if err != nil {
				results <- result{latency: lat, err: err}
				continue
			}
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()

			r := result{statusCode: resp.StatusCode, latency: lat}
			var rr relayResponse
			if json.Unmarshal(raw, &rr) == nil && rr.Forwarded {
				r.provider = rr.Provider
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				r.snippet = strings.TrimSpace(string(raw))
			}
			results <- r
		}
	}

	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go sender()
	}
	for i := 0; i < requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	totalElapsed := time.Since(testStart)
	close(results)

	var (
		latencies    []time.Duration
		successCount int
		errorCount   int
		statusCounts = make(map[int]int)
		providers    = make(map[string]int)
		errorKinds   = make(map[string]int)
	)
	for r := range results {
		latencies = append(latencies, r.latency)
		if r.err != nil {
			errorCount++
			errorKinds[r.err.Error()]++
			continue
		}
		statusCounts[r.statusCode]++
		if r.statusCode >= 200 && r.statusCode < 300 {
			successCount++
			if r.provider != "" {
				providers[r.provider]++
			} else {
				providers["(local only)"]++
			}
			continue
		}
		errorCount++
		key := fmt.Sprintf("HTTP %d", r.statusCode)
		if r.snippet != "" {
			key = fmt.Sprintf("%s: %s", key, truncateForPrint(r.snippet, 120))
		}
		errorKinds[key]++
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p := func(percent float64) time.Duration {
		if len(latencies) == 0 {
			return 0
		}
		idx := int(percent*float64(len(latencies))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	var avg time.Duration
	for _, d := range latencies {
		avg += d
	}
	if len(latencies) > 0 {
		avg /= time.Duration(len(latencies))
	}

	fmt.Println("=== Alert Relay Load Test ===")
	fmt.Printf("URL:            %s\n", targetURL)
	fmt.Printf("Alerts:         %d\n", requests)
	fmt.Printf("Concurrency:    %d\n", concurrency)
	fmt.Printf("Success:        %d\n", successCount)
	fmt.Printf("Errors:         %d\n", errorCount)
	fmt.Printf("Total Elapsed:  %v\n", totalElapsed)
	fmt.Printf("Status Counts:  %v\n", statusCounts)
	if len(latencies) > 0 {
		fmt.Printf("Avg Latency:    %v\n", avg)
		fmt.Printf("P50 Latency:    %v\n", p(0.50))
		fmt.Printf("P95 Latency:    %v\n", p(0.95))
		fmt.Printf("P99 Latency:    %v\n", p(0.99))
	}
	if len(providers) > 0 {
		fmt.Println("Providers:")
		names := make([]string, 0, len(providers))
		for name := range providers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-20s %d\n", name, providers[name])
		}
	}
	if len(errorKinds) > 0 {
		type kv struct {
			k string
			v int
		}
		var arr []kv
		for k, v := range errorKinds {
			arr = append(arr, kv{k, v})
		}
		sort.Slice(arr, func(i, j int) bool { return arr[i].v > arr[j].v })
		maxShow := 10
		if len(arr) < maxShow {
			maxShow = len(arr)
		}
		fmt.Println("Top Error Kinds:")
		for i := 0; i < maxShow; i++ {
			fmt.Printf("  %d) %s  (count=%d)\n", i+1, arr[i].k, arr[i].v)
		}
	}
}

func truncateForPrint(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
