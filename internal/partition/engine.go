package partition

import (
	"fmt"

	sorterrors "github.com/tamirms/bucketsort/errors"
	"github.com/tamirms/bucketsort/internal/bufpool"
	"github.com/tamirms/bucketsort/internal/record"
)

// stage is a state of the record parser.
type stage uint8

const (
	stageCheckFinish  stage = iota // between records
	stageReadNumber                // inside the digits field
	stageReadID                    // first two letters, computing the group id
	stageReadString                // remaining letters
	stageSkipLF                    // after CR
	stageLoadNextBuff              // current buffer used up
	stageAwaitBuff                 // waiting on the reader
	stageFinish
)

// heldBuffer is an earlier buffer the open record started in or passed
// through. end is the index of its trailing sentinel.
type heldBuffer struct {
	buf *bufpool.Buffer
	end int
}

// engine parses one byte range of the input and routes each record to its
// group. All parser state lives in the struct, so the engine can stop at
// any buffer boundary and be resumed later by a scheduler continuation
// without holding a goroutine.
type engine struct {
	rd    *reader
	sink  *sink
	table *Table

	stage stage
	back  stage // stage to resume after a buffer switch

	cur  *bufpool.Buffer
	data []byte
	base int64 // input offset of data[record.Reserve]
	end  int   // index of the sentinel in data
	i    int

	// held are the buffers behind cur that the open record spans. j indexes
	// the record's first digit, in held[0] if any buffers are held and in
	// data otherwise. openBytes counts record bytes in held buffers.
	held      []heldBuffer
	j         int
	openBytes int

	recStart int64 // input offset of the open record
	digits   int
	letters  int
	group    int

	frags  [][]byte
	resume func()
	done   func(error)
}

func newEngine(rd *reader, sk *sink, table *Table, done func(error)) *engine {
	e := &engine{
		rd:    rd,
		sink:  sk,
		table: table,
		stage: stageAwaitBuff,
		back:  stageCheckFinish,
		done:  done,
	}
	e.resume = e.run
	return e
}

// run advances the state machine until it suspends on the reader or the
// range is finished.
func (e *engine) run() {
	for {
		switch e.stage {
		case stageCheckFinish:
			switch e.data[e.i] {
			case record.EndStream:
				if !e.atEnd() {
					return
				}
				e.stage = stageFinish
			case record.EndBuff:
				if !e.atEnd() {
					return
				}
				e.back = stageCheckFinish
				e.stage = stageLoadNextBuff
			default:
				e.j = e.i
				e.recStart = e.base + int64(e.i-record.Reserve)
				e.digits, e.letters, e.group = 0, 0, 0
				e.stage = stageReadNumber
			}

		case stageReadNumber:
			data, i := e.data, e.i
			for data[i] > record.Dot {
				i++
			}
			e.digits += i - e.i
			e.i = i
			switch data[i] {
			case record.Dot:
				e.i++
				e.stage = stageReadID
			case record.EndBuff:
				if !e.atEnd() {
					return
				}
				e.back = stageReadNumber
				e.stage = stageLoadNextBuff
			default:
				e.fail(e.malformed("expected '.' after digits"))
				return
			}

		case stageReadID:
			data := e.data
			for e.letters < 2 {
				b := data[e.i]
				if b < record.MinLetter || b > record.MaxLetter {
					break
				}
				if e.letters == 0 {
					e.group = record.First(b)
				} else {
					e.group = record.Second(e.group, b)
				}
				e.letters++
				e.i++
			}
			if e.letters == 2 {
				e.stage = stageReadString
				continue
			}
			if !e.endOfLetters(stageReadID) {
				return
			}

		case stageReadString:
			data, i := e.data, e.i
			for data[i] >= record.MinLetter {
				i++
			}
			e.letters += i - e.i
			e.i = i
			if !e.endOfLetters(stageReadString) {
				return
			}

		case stageSkipLF:
			switch e.data[e.i] {
			case record.LF:
				e.i++
				e.stage = stageCheckFinish
			case record.EndBuff:
				if !e.atEnd() {
					return
				}
				e.back = stageSkipLF
				e.stage = stageLoadNextBuff
			default:
				e.fail(e.malformed("expected LF after CR"))
				return
			}

		case stageLoadNextBuff:
			if err := e.retire(); err != nil {
				e.fail(err)
				return
			}
			e.stage = stageAwaitBuff

		case stageAwaitBuff:
			c, ok, err := e.rd.nextChunk(e.resume)
			if err != nil {
				e.fail(err)
				return
			}
			if !ok {
				// Suspended: the reader submits e.resume when the buffer lands.
				return
			}
			e.cur, e.data, e.base, e.end = c.buf, c.buf.Bytes(), c.base, c.end
			e.i = record.Reserve
			e.stage = e.back

		case stageFinish:
			e.finish()
			return
		}
	}
}

// endOfLetters handles the byte that stopped a letters scan. It reports
// false if the engine failed.
func (e *engine) endOfLetters(back stage) bool {
	switch e.data[e.i] {
	case record.CR:
		if err := e.releaseLine(); err != nil {
			e.fail(err)
			return false
		}
		e.i++
		e.stage = stageSkipLF
	case record.EndBuff:
		if !e.atEnd() {
			return false
		}
		e.back = back
		e.stage = stageLoadNextBuff
	default:
		e.fail(e.malformed("expected CR after letters"))
		return false
	}
	return true
}

// atEnd reports whether the sentinel byte at e.i is the one the reader
// placed after the data. A sentinel value inside the data is a malformed
// record; atEnd fails the engine and reports false.
func (e *engine) atEnd() bool {
	if e.i == e.end {
		return true
	}
	e.fail(e.malformed(fmt.Sprintf("unexpected control byte %#x", e.data[e.i])))
	return false
}

// retire gives up the exhausted current buffer. If a record is open the
// buffer is held until the record is released; otherwise it goes straight
// back to the pool.
func (e *engine) retire() error {
	open := e.back == stageReadNumber || e.back == stageReadID || e.back == stageReadString
	if !open {
		e.cur.Release()
		e.cur, e.data = nil, nil
		return nil
	}

	start := record.Reserve
	if len(e.held) == 0 {
		start = e.j
	}
	e.openBytes += e.i - start
	if e.openBytes > record.MaxRecordLen {
		return fmt.Errorf("%w: record at offset %d", sorterrors.ErrRecordTooLong, e.recStart)
	}
	e.held = append(e.held, heldBuffer{buf: e.cur, end: e.i})
	e.cur, e.data = nil, nil
	return nil
}

// releaseLine writes the header in front of the record (over the previous
// record's CRLF or the buffer's reserve) and hands the record to the sink,
// as one slice or as the fragments of a broken line.
func (e *engine) releaseLine() error {
	if e.digits > record.MaxFieldLen || e.letters > record.MaxFieldLen {
		return fmt.Errorf("%w: record at offset %d has %d digits and %d letters",
			sorterrors.ErrRecordTooLong, e.recStart, e.digits, e.letters)
	}
	length := record.Len(e.letters, e.digits)
	start := e.j - record.HeaderSize

	if len(e.held) == 0 {
		rec := e.data[start:e.i]
		record.PutHeader(rec, e.letters, e.digits)
		e.sink.append(e.group, rec)
	} else {
		first := e.held[0].buf.Bytes()
		record.PutHeader(first[start:], e.letters, e.digits)

		e.frags = append(e.frags[:0], first[start:e.held[0].end])
		for _, h := range e.held[1:] {
			e.frags = append(e.frags, h.buf.Bytes()[record.Reserve:h.end])
		}
		e.frags = append(e.frags, e.data[record.Reserve:e.i])

		total := 0
		for _, f := range e.frags {
			total += len(f)
		}
		if total != length {
			return fmt.Errorf("partition: broken line at offset %d has %d bytes, want %d",
				e.recStart, total, length)
		}

		e.sink.append(e.group, e.frags...)
		clear(e.frags)
		e.releaseHeld()
	}

	g := e.table.group(e.group)
	g.LinesCount++
	g.BytesCount += int64(length)
	return nil
}

func (e *engine) releaseHeld() {
	for i := range e.held {
		e.held[i].buf.Release()
		e.held[i] = heldBuffer{}
	}
	e.held = e.held[:0]
	e.openBytes = 0
}

func (e *engine) malformed(what string) error {
	return fmt.Errorf("%w: %s at offset %d", sorterrors.ErrMalformedInput, what,
		e.base+int64(e.i-record.Reserve))
}

func (e *engine) finish() {
	if e.cur != nil {
		e.cur.Release()
		e.cur, e.data = nil, nil
	}
	e.rd.close()
	e.sink.flush(e.done)
}

func (e *engine) fail(err error) {
	if e.cur != nil {
		e.cur.Release()
		e.cur, e.data = nil, nil
	}
	e.releaseHeld()
	e.rd.close()
	e.sink.abort(err, e.done)
}
