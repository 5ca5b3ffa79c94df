package groupsort

import (
	"fmt"
	"unsafe"

	"github.com/tamirms/bucketsort/internal/bits"
	"github.com/tamirms/bucketsort/internal/record"
)

// insertionThreshold is the range length below which the radix step falls
// back to insertion sort.
const insertionThreshold = 32

// Sorter orders the records of one group by letters, then by digit
// characters, both compared bytewise. It works in rounds: every entry of a
// range gets the next segment of its key, the range is radix sorted by
// segment, and each run of equal segments that still has key bytes left is
// sorted again one segment further in.
//
// Exact duplicates end up adjacent in no particular order.
type Sorter[S Segment] struct {
	chain   *Chain
	width   int
	scratch []Entry[S]
}

// NewSorter returns a sorter over chain. scratch must be at least as long as
// the entries later passed to Sort.
func NewSorter[S Segment](chain *Chain, scratch []Entry[S]) *Sorter[S] {
	var zero S
	return &Sorter[S]{
		chain:   chain,
		width:   int(unsafe.Sizeof(zero)),
		scratch: scratch,
	}
}

// Width returns the segment width in bytes.
func (s *Sorter[S]) Width() int { return s.width }

// Sort orders entries in place.
func (s *Sorter[S]) Sort(entries []Entry[S]) error {
	if len(s.scratch) < len(entries) {
		return fmt.Errorf("groupsort: scratch holds %d entries, need %d", len(s.scratch), len(entries))
	}
	if len(entries) > 1 {
		s.sort(entries)
	}
	return nil
}

func (s *Sorter[S]) sort(entries []Entry[S]) {
	for i := range entries {
		entries[i].Key = s.supplyNext(&entries[i].Line)
	}
	s.radix(entries)

	for lo := 0; lo < len(entries); {
		hi := lo + 1
		for hi < len(entries) && entries[hi].Key == entries[lo].Key {
			hi++
		}
		if hi-lo > 1 && !allDone(entries[lo:hi]) {
			s.sort(entries[lo:hi])
		}
		lo = hi
	}
}

// supplyNext returns the segment of l's key at its cursor and advances the
// cursor. When the letters run out it returns zero once and switches l to
// the digits; when the digits run out it keeps returning zero. Letters and
// digits are never zero bytes, so an exhausted field sorts before any
// continuation of it.
func (s *Sorter[S]) supplyNext(l *LineIndex) S {
	var field, n int
	if !l.ByDigits {
		if l.Cursor >= uint16(l.Letters) {
			l.ByDigits = true
			l.Cursor = 0
			return 0
		}
		field = l.Start + record.HeaderSize + int(l.Digits) + 1
		n = int(l.Letters)
	} else {
		if l.Cursor >= uint16(l.Digits) {
			return 0
		}
		field = l.Start + record.HeaderSize
		n = int(l.Digits)
	}

	cur := int(l.Cursor)
	take := min(n-cur, s.width)
	l.Cursor += uint16(s.width)
	return S(bits.Narrow(s.chain.load(field+cur, take), s.width))
}

func allDone[S Segment](run []Entry[S]) bool {
	for i := range run {
		if !run[i].Line.done() {
			return false
		}
	}
	return true
}

// radix sorts entries by Key with least significant byte first passes
// through the scratch space. Passes whose byte is the same for every entry
// are skipped; bytes above the common prefix of the smallest and largest
// key are never counted.
func (s *Sorter[S]) radix(entries []Entry[S]) {
	if len(entries) < insertionThreshold {
		insertionSort(entries)
		return
	}

	lo, hi := entries[0].Key, entries[0].Key
	for i := range entries {
		lo, hi = min(lo, entries[i].Key), max(hi, entries[i].Key)
	}
	passes := min(s.width, 8-bits.CommonPrefixBytes(uint64(lo), uint64(hi)))

	src, dst := entries, s.scratch[:len(entries)]
	var counts [256]int
	for b := range passes {
		shift := uint(8 * b)
		clear(counts[:])
		for i := range src {
			counts[byte(src[i].Key>>shift)]++
		}
		if counts[byte(src[0].Key>>shift)] == len(src) {
			continue
		}

		pos := 0
		for i, c := range counts {
			counts[i] = pos
			pos += c
		}
		for i := range src {
			k := byte(src[i].Key >> shift)
			dst[counts[k]] = src[i]
			counts[k]++
		}
		src, dst = dst, src
	}
	if passes > 0 && &src[0] != &entries[0] {
		copy(entries, src)
	}
}

func insertionSort[S Segment](entries []Entry[S]) {
	for i := 1; i < len(entries); i++ {
		e := entries[i]
		j := i
		for j > 0 && entries[j-1].Key > e.Key {
			entries[j] = entries[j-1]
			j--
		}
		entries[j] = e
	}
}
