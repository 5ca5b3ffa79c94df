// Package bucketsort implements an external sort for files of
// "<digits>.<letters>\r\n" records, ordering them by their letters and then
// by their digit characters, both compared bytewise.
//
// # Basic Usage
//
//	stats, err := bucketsort.Sort(ctx, "records.txt", "sorted.txt",
//	    bucketsort.WithConcurrency(8),
//	    bucketsort.WithMemoryBudget(1<<30))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("sorted %d records in %d groups\n", stats.Records, stats.Groups)
//
// # How It Works
//
// The sort runs in two phases. Partitioning streams the input through
// parallel parser engines that route every record, by the first two bytes
// of its letters, into one of 9121 groups stored in an intermediate file
// the size of the input. Sorting then loads each group into pooled buffers,
// orders it with a segment-wise MSD radix sort and writes it to its place
// in the output; groups are laid out in ascending id order, which is also
// key order. Group sorts run concurrently as far as the sort key budget and
// the load budget allow.
//
// # Package Structure
//
//   - Public API: sort.go (Sort, Stats), options.go (Option, With* functions), logger.go
//   - Sort phase admission: groups.go
//   - Scheduling: internal/sched (continuation executor, countdown barrier)
//   - Memory: internal/bufpool (buffer pool), internal/keyarena (range allocator)
//   - Phases: internal/partition (parser engines, merge), internal/groupsort (load, sort, write)
//   - Layout: internal/record (header, group ids), internal/bits (segment words)
//   - Files: internal/storage (pre-allocation, temp files, mmap)
package bucketsort
