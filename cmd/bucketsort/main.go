// Bucketsort sorts a file of "<digits>.<letters>\r\n" records by letters,
// then by digit characters, and reports timing and peak memory.
//
// Usage:
//
//	go run ./cmd/bucketsort -in records.txt -out sorted.txt
//	go run ./cmd/bucketsort -in records.txt -out sorted.txt -workers 16 -segment 4 -v
//
// Flags:
//
//	-in            Input file (required)
//	-out           Output file (required)
//	-buffer        Read buffer size in KiB (default: 1024)
//	-group-buffer  Group buffer size in KiB (default: 64)
//	-workers       Maximum concurrent tasks (default: NumCPU)
//	-engines       Partition engines (default: workers)
//	-budget        Sort key memory budget in MiB (default: 256)
//	-load-budget   Loaded group memory budget in MiB (default: 256)
//	-segment       Key bytes per radix pass: 1, 4 or 8 (default: 8)
//	-tmp           Directory for the intermediate file
//	-keep          Keep the intermediate file at this path
//	-no-verify     Skip intermediate checksum verification
//	-check         Re-read the output and verify its order
//	-cpuprofile    Write a CPU profile to this file
//	-v             Debug logging
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/metrics"
	"runtime/pprof"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tamirms/bucketsort"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}
	return maxRSS
}

// peakHeap samples heap usage until stop is closed and returns the peak.
func peakHeap(stop <-chan struct{}) *atomic.Uint64 {
	var peak atomic.Uint64
	go func() {
		samples := []metrics.Sample{
			{Name: "/memory/classes/heap/objects:bytes"},
		}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				metrics.Read(samples)
				heapBytes := samples[0].Value.Uint64()
				for {
					old := peak.Load()
					if heapBytes <= old || peak.CompareAndSwap(old, heapBytes) {
						break
					}
				}
			}
		}
	}()
	return &peak
}

func main() {
	in := flag.String("in", "", "input file")
	out := flag.String("out", "", "output file")
	bufferKB := flag.Int("buffer", 1024, "read buffer size in KiB")
	groupBufferKB := flag.Int("group-buffer", 64, "group buffer size in KiB")
	workers := flag.Int("workers", runtime.NumCPU(), "maximum concurrent tasks")
	engines := flag.Int("engines", 0, "partition engines (0 = workers)")
	budgetMB := flag.Int64("budget", 256, "sort key memory budget in MiB")
	loadBudgetMB := flag.Int64("load-budget", 256, "loaded group memory budget in MiB")
	segment := flag.Int("segment", 8, "key bytes per radix pass: 1, 4 or 8")
	tmpDir := flag.String("tmp", "", "directory for the intermediate file")
	keep := flag.String("keep", "", "keep the intermediate file at this path")
	noVerify := flag.Bool("no-verify", false, "skip intermediate checksum verification")
	verbose := flag.Bool("v", false, "debug logging")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file")
	check := flag.Bool("check", false, "re-read the output and verify its order")
	flag.Parse()

	if *in == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "usage: bucketsort -in FILE -out FILE [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Printf("could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Printf("could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []bucketsort.Option{
		bucketsort.WithReadBufferSize(*bufferKB << 10),
		bucketsort.WithGroupBufferSize(*groupBufferKB << 10),
		bucketsort.WithConcurrency(*workers),
		bucketsort.WithEngines(*engines),
		bucketsort.WithMemoryBudget(*budgetMB << 20),
		bucketsort.WithLoadBudget(*loadBudgetMB << 20),
		bucketsort.WithSegmentWidth(*segment),
		bucketsort.WithTempDir(*tmpDir),
		bucketsort.WithVerifyChecksums(!*noVerify),
		bucketsort.WithLogger(bucketsort.NewTextLogger(level)),
	}
	if *keep != "" {
		opts = append(opts, bucketsort.WithKeepIntermediate(*keep))
	}

	baselineRSS := getMaxRSS()
	done := make(chan struct{})
	heap := peakHeap(done)

	start := time.Now()
	stats, err := bucketsort.Sort(ctx, *in, *out, opts...)
	elapsed := time.Since(start)
	close(done)

	if err != nil {
		fmt.Printf("Sort failed: %v\n", err)
		os.Exit(1)
	}

	mb := float64(stats.Bytes) / 1_000_000
	fmt.Printf("\n")
	fmt.Printf("Records:          %d\n", stats.Records)
	fmt.Printf("Bytes:            %.1f MB\n", mb)
	fmt.Printf("Groups:           %d (largest %d lines, %.1f MB)\n",
		stats.Groups, stats.MaxGroupLines, float64(stats.MaxGroupBytes)/1_000_000)
	fmt.Printf("Partition time:   %6.2f sec\n", stats.PartitionTime.Seconds())
	fmt.Printf("Sort time:        %6.2f sec\n", stats.SortTime.Seconds())
	fmt.Printf("Tasks:            %d\n", stats.Tasks)
	fmt.Printf("Total:            %6.2f sec (%.1f MB/sec)\n", elapsed.Seconds(), mb/elapsed.Seconds())
	fmt.Printf("Peak heap memory: %6.1f MB\n", float64(heap.Load())/1_000_000)
	fmt.Printf("Peak RSS memory:  %6.1f MB\n", float64(getMaxRSS()-baselineRSS)/1_000_000)
	fmt.Printf("Digest:           %016x\n", stats.Digest)

	if *check {
		n, err := checkSorted(*out)
		if err != nil {
			fmt.Printf("Check failed: %v\n", err)
			os.Exit(1)
		}
		if n != stats.Records {
			fmt.Printf("Check failed: output has %d records, sorted %d\n", n, stats.Records)
			os.Exit(1)
		}
		fmt.Printf("Check:            %d records in order\n", n)
	}
}
