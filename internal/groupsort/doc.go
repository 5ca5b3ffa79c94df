// Package groupsort implements the second phase of the sort: loading one
// group's records from the intermediate file into a Chain of pooled
// buffers, ordering them with a segment-wise MSD radix sort, and writing
// them back out as CRLF-terminated lines.
//
// The composite key of a record is its letters followed by its digit
// characters. Each round of the sort extracts one fixed-width segment of
// every key in a range, packed big-endian so that unsigned order matches
// byte order, and radix sorts the range by it.
package groupsort
