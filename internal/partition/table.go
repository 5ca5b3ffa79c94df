package partition

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/tamirms/bucketsort/internal/record"
)

// Extent is a byte range of the intermediate file. Sum is the xxHash64 of
// the bytes written there.
type Extent struct {
	Offset int64
	Length int
	Sum    uint64
}

// GroupInfo describes where one group's records live in the intermediate
// file. Concatenating Mapping in order reconstitutes the group's record
// stream exactly; the lengths in Mapping always add up to BytesCount.
type GroupInfo struct {
	LinesCount int
	BytesCount int64
	Mapping    []Extent
}

// Table is one engine's per-group bookkeeping. Only the owning engine
// mutates it.
type Table struct {
	groups []*GroupInfo
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{groups: make([]*GroupInfo, record.MaxGroupsCount)}
}

// Group returns the info for id, or nil if the table never saw the group.
func (t *Table) Group(id int) *GroupInfo {
	return t.groups[id]
}

// group returns the info for id, materializing it on first use.
func (t *Table) group(id int) *GroupInfo {
	g := t.groups[id]
	if g == nil {
		g = &GroupInfo{}
		t.groups[id] = g
	}
	return g
}

// Summary is the authoritative group table for a whole partition run.
type Summary struct {
	// Groups is indexed by group id; absent groups are nil.
	Groups []*GroupInfo

	// Present holds the ids of all groups with at least one record.
	Present *roaring.Bitmap

	LinesCount int64
	BytesCount int64

	MaxGroupLinesCount int
	MaxGroupSize       int64
}

// Group returns the info for id, or nil if absent.
func (s *Summary) Group(id int) *GroupInfo {
	return s.Groups[id]
}

// Merge combines per-engine tables into one Summary. Mapping lists are
// concatenated in engine order and counts are summed. A group absent from
// every table stays absent. Merge does not modify its inputs.
func Merge(tables []*Table) *Summary {
	s := &Summary{
		Groups:  make([]*GroupInfo, record.MaxGroupsCount),
		Present: roaring.New(),
	}

	for id := range record.MaxGroupsCount {
		var merged *GroupInfo
		for _, t := range tables {
			g := t.groups[id]
			if g == nil {
				continue
			}
			if merged == nil {
				merged = &GroupInfo{}
			}
			merged.LinesCount += g.LinesCount
			merged.BytesCount += g.BytesCount
			merged.Mapping = append(merged.Mapping, g.Mapping...)
		}
		if merged == nil {
			continue
		}

		s.Groups[id] = merged
		s.Present.Add(uint32(id))
		s.LinesCount += int64(merged.LinesCount)
		s.BytesCount += merged.BytesCount
		s.MaxGroupLinesCount = max(s.MaxGroupLinesCount, merged.LinesCount)
		s.MaxGroupSize = max(s.MaxGroupSize, merged.BytesCount)
	}
	return s
}
