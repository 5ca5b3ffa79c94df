// Gensort writes a deterministic file of "<digits>.<letters>\r\n" records
// for the sorter to work on.
//
// Record i is derived from murmur3 of (i, seed) alone, so the same flags
// always produce the same file however many workers generate it.
//
// Usage:
//
//	go run ./cmd/gensort -out records.txt -lines 10000000
//	go run ./cmd/gensort -out records.txt -lines 1000000 -maxletters 64 -dups 0.1
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"runtime"
	"time"

	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"

	"github.com/tamirms/bucketsort/internal/storage"
)

// blockLines is the number of records generated per task.
const blockLines = 64 << 10

type generator struct {
	seed       uint32
	maxDigits  int
	maxLetters int
	alphabet   string
	dups       float64 // fraction of records that repeat an earlier one
}

// line appends record i, CRLF included, to dst.
func (g *generator) line(dst []byte, i uint64) []byte {
	h1, h2 := g.hash(g.source(i))
	rng := rand.New(rand.NewPCG(h1, h2))

	for range 1 + rng.IntN(g.maxDigits) {
		dst = append(dst, byte('0'+rng.IntN(10)))
	}
	dst = append(dst, '.')
	for range rng.IntN(g.maxLetters + 1) {
		dst = append(dst, g.alphabet[rng.IntN(len(g.alphabet))])
	}
	return append(dst, '\r', '\n')
}

// source returns the index whose content record i repeats, i itself for a
// fresh record.
func (g *generator) source(i uint64) uint64 {
	for g.dups > 0 && i > 0 {
		h, _ := g.hash(i ^ 0x9e3779b97f4a7c15)
		if float64(h>>11)/(1<<53) >= g.dups {
			break
		}
		i = h % i
	}
	return i
}

func (g *generator) hash(i uint64) (uint64, uint64) {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], i)
	return murmur3.Sum128WithSeed(key[:], g.seed)
}

// flushWriter is a buffered destination for generated blocks.
type flushWriter interface {
	io.Writer
	Flush() error
}

// generate writes lines records to w, building blocks on up to workers
// goroutines and writing them in order.
func (g *generator) generate(ctx context.Context, w flushWriter, lines uint64, workers int) error {
	blocks := (lines + blockLines - 1) / blockLines
	batch := make([][]byte, workers)

	for first := uint64(0); first < blocks; first += uint64(workers) {
		eg, ctx := errgroup.WithContext(ctx)
		eg.SetLimit(workers)
		n := min(uint64(workers), blocks-first)
		for k := range n {
			eg.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				from := (first + k) * blockLines
				to := min(from+blockLines, lines)
				buf := batch[k][:0]
				for i := from; i < to; i++ {
					buf = g.line(buf, i)
				}
				batch[k] = buf
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
		for k := range n {
			if _, err := w.Write(batch[k]); err != nil {
				return fmt.Errorf("write block %d: %w", first+k, err)
			}
		}
	}
	return w.Flush()
}

// writeFile replaces the file at path with lines generated records.
func (g *generator) writeFile(ctx context.Context, path string, lines uint64, workers int) error {
	f, err := storage.Create(path, 0)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	w, err := storage.OpenWriter(path, 0)
	if err != nil {
		return err
	}
	if err := g.generate(ctx, w, lines, workers); err != nil {
		return errors.Join(err, w.Close())
	}
	return w.Close()
}

func main() {
	out := flag.String("out", "", "output file")
	lines := flag.Uint64("lines", 1_000_000, "number of records")
	seed := flag.Uint("seed", 0x1234, "generator seed")
	workers := flag.Int("workers", runtime.NumCPU(), "generator goroutines")
	maxDigits := flag.Int("maxdigits", 20, "maximum digits per record (1-255)")
	maxLetters := flag.Int("maxletters", 32, "maximum letters per record (0-255)")
	alphabet := flag.String("alphabet", "abcdefghijklmnopqrstuvwxyz", "letters to draw from")
	dups := flag.Float64("dups", 0, "fraction of records that repeat an earlier record")
	flag.Parse()

	if *out == "" || *maxDigits < 1 || *maxDigits > 255 || *maxLetters < 0 || *maxLetters > 255 ||
		*alphabet == "" || *workers < 1 {
		fmt.Fprintln(os.Stderr, "usage: gensort -out FILE [-lines N] [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}
	for i := 0; i < len(*alphabet); i++ {
		if c := (*alphabet)[i]; c < ' ' || c > '~' {
			fmt.Fprintf(os.Stderr, "alphabet byte %#x is not printable ASCII\n", c)
			os.Exit(2)
		}
	}

	g := &generator{
		seed:       uint32(*seed),
		maxDigits:  *maxDigits,
		maxLetters: *maxLetters,
		alphabet:   *alphabet,
		dups:       *dups,
	}
	start := time.Now()
	if err := g.writeFile(context.Background(), *out, *lines, *workers); err != nil {
		fmt.Printf("generate: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d records in %.2f sec\n", *lines, time.Since(start).Seconds())
}
