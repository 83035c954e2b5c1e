// Command asynclog-demo drives the engine end to end against a toy
// Downstream, for manual inspection of the drop and block overload
// policies described by the library.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/epeshk/serilog-sinks-background"
)

// Record is the demo payload: a realistic log line with a correlation id.
type Record struct {
	ID      string
	Message string
	Emitted time.Time
}

// sleepyDownstream stands in for a slow, synchronous log sink (a file
// append, a syslog socket, an HTTP ingestion endpoint).
type sleepyDownstream struct {
	delay  time.Duration
	logger *zap.Logger
	count  atomic.Int64
}

func (d *sleepyDownstream) Emit(r Record) error {
	time.Sleep(d.delay)
	n := d.count.Add(1)
	if n%1000 == 0 {
		d.logger.Info("downstream progress", zap.Int64("emitted", n), zap.String("last_id", r.ID))
	}
	return nil
}

func (d *sleepyDownstream) Close() error {
	d.logger.Info("downstream closed", zap.Int64("total_emitted", d.count.Load()))
	return nil
}

func main() {
	bufferSize := flag.Uint64("buffer-size", 16384, "ring buffer capacity (rounded up to a power of two)")
	block := flag.Bool("block", false, "block producers instead of dropping when the buffer is full")
	producers := flag.Int("producers", 4, "number of concurrent publisher goroutines")
	eventsPerProducer := flag.Int("events", 50000, "events published per producer goroutine")
	downstreamDelay := flag.Duration("downstream-delay", 50*time.Microsecond, "simulated per-event downstream latency")
	metricsAddr := flag.String("metrics-addr", "", "if set, register Prometheus metrics on a private registry; they are not served, the address is only logged")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer logger.Sync()

	downstream := &sleepyDownstream{delay: *downstreamDelay, logger: logger}

	sink, err := asynclog.New[Record](downstream,
		asynclog.WithBufferSize(*bufferSize),
		asynclog.WithBlockWhenFull(*block),
		asynclog.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("building sink: %v", err)
	}

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		asynclog.RegisterPrometheus[Record](sink, reg)
		logger.Info("prometheus registered but not served; wire reg into an http.Handler to scrape", zap.String("addr", *metricsAddr))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	var wg sync.WaitGroup
	for p := 0; p < *producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(p) + 1))
			for i := 0; i < *eventsPerProducer; i++ {
				select {
				case <-ctx.Done():
					return
				default:
				}
				rec := Record{
					ID:      uuid.NewString(),
					Message: fmt.Sprintf("producer %d event %d", p, i),
					Emitted: time.Now(),
				}
				if err := sink.Publish(rec); err != nil {
					logger.Warn("publish failed", zap.Error(err))
				}
				if r.Intn(1000) == 0 {
					time.Sleep(time.Microsecond)
				}
			}
		}(p)
	}
	wg.Wait()

	if reader, ok := asynclog.Diagnostics[Record](sink); ok {
		snap := reader.Snapshot()
		logger.Info("pre-shutdown diagnostics",
			zap.Uint64("events_dropped", snap.EventsDropped),
			zap.Uint64("buffer_unavailable", snap.BufferUnavailable))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := sink.Close(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	logger.Info("demo finished")
}
