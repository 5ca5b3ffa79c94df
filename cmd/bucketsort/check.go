package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"

	"github.com/tamirms/bucketsort/internal/record"
	"github.com/tamirms/bucketsort/internal/storage"
)

// checkSorted streams the records of path and returns how many there are,
// or an error naming the first record that is out of order.
func checkSorted(path string) (int64, error) {
	r, err := storage.OpenReader(path, 0)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, record.MaxRecordLen+1), record.MaxRecordLen+1)
	sc.Split(scanRecords)

	var prevDigits, prevLetters []byte
	var n int64
	for sc.Scan() {
		line, ok := bytes.CutSuffix(sc.Bytes(), []byte{record.CR})
		if !ok {
			return n, fmt.Errorf("record %d: missing CR", n)
		}
		digits, letters, ok := bytes.Cut(line, []byte{record.Dot})
		if !ok {
			return n, fmt.Errorf("record %d: missing '.'", n)
		}
		if n > 0 {
			c := bytes.Compare(prevLetters, letters)
			if c == 0 {
				c = bytes.Compare(prevDigits, digits)
			}
			if c > 0 {
				return n, fmt.Errorf("record %d: %q sorts before the record above it", n, line)
			}
		}
		prevDigits = append(prevDigits[:0], digits...)
		prevLetters = append(prevLetters[:0], letters...)
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read %s: %w", path, err)
	}
	return n, nil
}

// scanRecords splits on LF and keeps the CR, unlike bufio.ScanLines.
func scanRecords(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, record.LF); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return 0, nil, errors.New("last record has no line terminator")
	}
	return 0, nil, nil
}
