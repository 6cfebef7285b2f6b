package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	Mode        string
	Concurrency int
	Duration    time.Duration
	Documents   int
	Queries     []string
}

type Stats struct {
	totalOps     atomic.Int64
	successCount atomic.Int64
	errorCount   atomic.Int64
	latencies    []time.Duration
	latenciesMu  sync.Mutex
	codes        map[string]*atomic.Int64
	codesMu      sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[string]*atomic.Int64),
	}
}

func (s *Stats) Record(duration time.Duration, err error) {
	s.totalOps.Add(1)
	code := "OK"
	if err != nil {
		s.errorCount.Add(1)
		code = apperrors.Code(err)
	} else {
		s.successCount.Add(1)
		s.latenciesMu.Lock()
		s.latencies = append(s.latencies, duration)
		s.latenciesMu.Unlock()
	}

	s.codesMu.Lock()
	if _, ok := s.codes[code]; !ok {
		s.codes[code] = &atomic.Int64{}
	}
	s.codes[code].Add(1)
	s.codesMu.Unlock()
}

var vocabulary = strings.Fields(`distributed search engine inverted index noise words
	completion prefix posting occurrence snapshot generation mirror cache shard
	query token document line score ranking apostrophe normalize punctuation`)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	mode := flag.String("mode", "query", "query: search an in-process engine; ingest: publish documents to kafka")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	documents := flag.Int("documents", 5000, "synthetic documents to index before querying")
	flag.Parse()

	appCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	appCfg.Logging.Level = "warn"
	logger.SetupWriter(os.Stderr, appCfg.Logging)

	cfg := Config{
		Mode:        *mode,
		Concurrency: *concurrency,
		Duration:    *duration,
		Documents:   *documents,
		Queries: []string{
			"distributed search",
			"inverted index",
			"noise words",
			"snapshot generation",
			"the mirror's cache",
			"Ranking, scoring!",
			"prefix completion",
			"punctuation apostrophe",
		},
	}

	fmt.Println("=== docfinder Load Test ===")
	fmt.Printf("Mode:        %s\n", cfg.Mode)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Println()

	var op func(ctx context.Context, worker, i int) error
	switch cfg.Mode {
	case "query":
		appCfg.Indexer.SnapshotDir = ""
		rt, err := bootstrap.Open(context.Background(), appCfg, prometheus.NewRegistry())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open engine: %v\n", err)
			os.Exit(1)
		}
		defer rt.Close()
		if err := seed(rt.Engine, cfg.Documents); err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed engine: %v\n", err)
			os.Exit(1)
		}
		op = func(ctx context.Context, worker, i int) error {
			_, err := rt.Engine.Search(ctx, cfg.Queries[(worker+i)%len(cfg.Queries)])
			return err
		}
	case "ingest":
		producer := kafka.NewProducer(appCfg.Kafka, appCfg.Kafka.Topics.DocumentIngest)
		defer producer.Close()
		pub := ingest.NewPublisher(producer, appCfg.Indexer.WriteAttempts)
		op = func(ctx context.Context, worker, i int) error {
			_, err := pub.PublishDocument(ctx, fmt.Sprintf("load-%d-%d", worker, i), synthetic(rand.N(40)+5))
			return err
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", cfg.Mode)
		os.Exit(2)
	}

	stats := runLoadTest(cfg, op)
	printReport(stats, cfg.Duration)
}

// seed indexes n synthetic documents, skipping the work when a loaded
// index already holds enough.
func seed(e *engine.Engine, n int) error {
	if e.Stats().Documents >= n {
		return nil
	}
	ctx := context.Background()
	fmt.Printf("Seeding %d documents...\n", n)
	for i := 0; i < n; i++ {
		if err := e.AddDocument(ctx, fmt.Sprintf("seed-%d", i), synthetic(rand.N(40)+5)); err != nil {
			return err
		}
	}
	return nil
}

func synthetic(lines int) string {
	var b strings.Builder
	for l := 0; l < lines; l++ {
		words := rand.N(10) + 3
		for w := 0; w < words; w++ {
			if w > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(vocabulary[rand.N(len(vocabulary))])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func runLoadTest(cfg Config, op func(ctx context.Context, worker, i int) error) *Stats {
	stats := NewStats()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := 0; ; i++ {
				if ctx.Err() != nil {
					return
				}
				start := time.Now()
				err := op(ctx, workerID, i)
				if ctx.Err() != nil {
					return
				}
				stats.Record(time.Since(start), err)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalOps.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Ops:    %d\n", total)
	fmt.Printf("Successful:   %d\n", stats.successCount.Load())
	fmt.Printf("Errors:       %d\n", errors)
	if total > 0 {
		fmt.Printf("Error Rate:   %.2f%%\n", float64(errors)/float64(total)*100)
		fmt.Printf("Ops/sec:      %.2f\n", float64(total)/duration.Seconds())
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		for _, l := range latencies {
			diff := float64(l) - float64(avg)
			sumSquared += diff * diff
		}
		fmt.Printf("StdDev: %s\n", time.Duration(math.Sqrt(sumSquared/float64(len(latencies)))))
	}

	fmt.Println()
	fmt.Println("=== Outcomes ===")
	stats.codesMu.Lock()
	codes := make([]string, 0, len(stats.codes))
	for code := range stats.codes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Printf("  %s: %d\n", code, stats.codes[code].Load())
	}
	stats.codesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No operations completed.")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
