// Package record defines the on-disk record layout shared by the partition
// and sort phases.
//
// Input lines are "<digits>.<letters>\r\n". Inside the intermediate file a
// record is stored without its CRLF, behind a two-byte header:
//
//	[lettersCount:u8][digitsCount:u8][digits][.][letters]
//
// A record therefore occupies digitsCount+lettersCount+3 bytes both in the
// input and in the intermediate file.
package record

const (
	// MaxGroupsCount is the size of every per-group table. The largest id the
	// formula can produce is 9120, so the last slot is never used.
	MaxGroupsCount = 9121

	// HeaderSize is the length of the per-record header.
	HeaderSize = 2

	// Overhead is the number of bytes a record occupies beyond its digits and
	// letters: the '.' plus either the header or the CRLF terminator.
	Overhead = 3

	// MaxFieldLen is the longest digits or letters field the header can
	// describe.
	MaxFieldLen = 255

	// MaxRecordLen is the longest record on disk.
	MaxRecordLen = 2*MaxFieldLen + Overhead

	// Slack is the number of trailing bytes every pooled buffer carries past
	// its usable region. It holds the header reserve, an end sentinel and
	// room for an 8-byte segment load starting at the last usable byte.
	Slack = 8

	// Reserve is the number of bytes kept free at the start of each
	// partition read buffer so a header can always be written in front of
	// the first record in the buffer.
	Reserve = HeaderSize
)

// Letters are printable ASCII; only the first two take part in grouping and
// must fall in [MinLetter, MaxLetter] for the id to stay in range.
const (
	MinLetter = ' '
	MaxLetter = '~'
)

// Separator bytes.
const (
	Dot = '.'
	CR  = '\r'
	LF  = '\n'
)

// In-band sentinels written immediately after the data in a read buffer.
// Both sort below '.', CR and LF so the scan loops stop on them without a
// separate length check.
const (
	EndBuff   byte = 0x00 // more data follows in the next buffer
	EndStream byte = 0x01 // the byte range is exhausted
)

// GroupID maps the letters field of a record to its group.
//
// Only the first two letters participate:
//
//	GroupID("")  = 0
//	GroupID(s)   = (s[0]-32)*96 + 1 + (len(s) >= 2 ? s[1]-31 : 0)
func GroupID(letters []byte) int {
	if len(letters) == 0 {
		return 0
	}
	id := First(letters[0])
	if len(letters) >= 2 {
		id = Second(id, letters[1])
	}
	return id
}

// First returns the group id of a record whose letters field is exactly c.
func First(c byte) int {
	return (int(c)-32)*96 + 1
}

// Second refines an id produced by First with the second letter.
func Second(id int, c byte) int {
	return id + int(c) - 31
}

// PutHeader writes the record header into dst[0:2].
func PutHeader(dst []byte, lettersCount, digitsCount int) {
	_ = dst[1]
	dst[0] = byte(lettersCount)
	dst[1] = byte(digitsCount)
}

// Header decodes a record header.
func Header(src []byte) (lettersCount, digitsCount int) {
	_ = src[1]
	return int(src[0]), int(src[1])
}

// Len returns the on-disk length of a record.
func Len(lettersCount, digitsCount int) int {
	return lettersCount + digitsCount + Overhead
}
