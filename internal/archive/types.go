package archive

// MediaType classifies a source file for size-estimation fallbacks.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// FileDescriptor identifies one remote media file to include in the archive.
// Filename is expected to be unique within a request; the engine does not
// validate collisions.
type FileDescriptor struct {
	Filename  string    `json:"filename"`
	Type      MediaType `json:"type"`
	SourceURL string    `json:"source_url"`
}

// Outcome is the result of retrieving one file: either the payload bytes, or
// a placeholder reason when retrieval failed after retries. Exactly one of
// Data / PlaceholderReason is set.
type Outcome struct {
	Filename          string
	Data              []byte
	PlaceholderReason string
}

// Placeholder reports whether this outcome stands in for a file that could
// not be retrieved.
func (o Outcome) Placeholder() bool { return o.PlaceholderReason != "" }

// Progress is a snapshot of the engine's state, published after every
// state-changing step. Percentage never decreases and stays below 100 until
// the archive is fully assembled.
type Progress struct {
	TotalFiles      int     `json:"total_files"`
	ProcessedFiles  int     `json:"processed_files"`
	CurrentFile     string  `json:"current_file,omitempty"`
	Percentage      int     `json:"percentage"`
	EstimatedSizeMB float64 `json:"estimated_size_mb"`
	Cancelled       bool    `json:"cancelled"`
	Complete        bool    `json:"complete"`
	Err             string  `json:"error,omitempty"`
}
