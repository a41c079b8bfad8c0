package importer

// ExtractBodiesKind selects which bodies get offloaded to external files
// when an extraction directory is configured.
type ExtractBodiesKind int

const (
	ExtractBodiesBoth ExtractBodiesKind = iota
	ExtractBodiesRequest
	ExtractBodiesResponse
)

// DefaultMaxDecompressedBytes caps decompression output absent an explicit
// max_body_size (spec §4.3 step 6).
const DefaultMaxDecompressedBytes = 50 * 1024 * 1024

// DefaultMaxIndexableBytes is the FTS indexable size cap when unconfigured
// (spec §9 Open Question).
const DefaultMaxIndexableBytes = 1024 * 1024

// InsertEntryOptions configures one entry's normalization (spec §4.3).
type InsertEntryOptions struct {
	StoreBodies           bool
	MaxBodySize           *int64 // nil = unlimited
	TextOnly              bool
	DecompressBodies      bool
	KeepCompressed        bool
	ExtractBodiesDir      string // empty = inline storage
	ExtractBodiesKind     ExtractBodiesKind
	ExtractBodiesShardDepth int
	MaxIndexableSize      int64 // 0 = DefaultMaxIndexableBytes
	ExternalRoot          string // root blobs resolve external_path against
}

// BlobStats accumulates dedup accounting for one import (spec §4.5 /
// original_source/src/commands/import.rs print_stats).
type BlobStats struct {
	Created           int
	Deduplicated      int
	BytesStored       int64
	BytesDeduplicated int64
}

func (b *BlobStats) addAssign(o BlobStats) {
	b.Created += o.Created
	b.Deduplicated += o.Deduplicated
	b.BytesStored += o.BytesStored
	b.BytesDeduplicated += o.BytesDeduplicated
}

func (b *BlobStats) record(inserted bool, size int64) {
	if inserted {
		b.Created++
		b.BytesStored += size
	} else {
		b.Deduplicated++
		b.BytesDeduplicated += size
	}
}

// EntryStats reports per-entry blob outcomes.
type EntryStats struct {
	Request  BlobStats
	Response BlobStats
}

// ImportStats reports per-archive totals.
type ImportStats struct {
	EntriesImported int
	Request         BlobStats
	Response        BlobStats
}
