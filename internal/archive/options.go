package archive

const (
	defaultCompressionLevel = 6
	maxCompressionLevel     = 9
	defaultChunkSize        = 5
	defaultMaxParallel      = 3
)

// Options tunes one archive request. Out-of-range values are clamped into
// their valid range rather than rejected.
type Options struct {
	// CompressionLevel is the deflate level for archive entries, 0 (store)
	// through 9 (best compression).
	CompressionLevel int `json:"compression_level"`
	// ChunkSize is how many files are fetched between progress checkpoints.
	ChunkSize int `json:"chunk_size"`
	// MaxParallel bounds concurrent fetches within a chunk.
	MaxParallel int `json:"max_parallel"`
}

// DefaultOptions returns the options used when the caller supplies none.
func DefaultOptions() Options {
	return Options{
		CompressionLevel: defaultCompressionLevel,
		ChunkSize:        defaultChunkSize,
		MaxParallel:      defaultMaxParallel,
	}
}

// normalize clamps every field into its valid range.
func (o Options) normalize() Options {
	if o.CompressionLevel < 0 {
		o.CompressionLevel = 0
	}
	if o.CompressionLevel > maxCompressionLevel {
		o.CompressionLevel = maxCompressionLevel
	}
	if o.ChunkSize < 1 {
		o.ChunkSize = defaultChunkSize
	}
	if o.MaxParallel < 1 {
		o.MaxParallel = defaultMaxParallel
	}
	return o
}
