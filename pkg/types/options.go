package types

// DefaultStreamThreshold is the file size above which entries are streamed through the
// compressor with a trailing data descriptor instead of being buffered in memory.
const DefaultStreamThreshold int64 = 32 << 20

// DefaultExcludes are the patterns skipped when walking a source directory.
var DefaultExcludes = []string{"**/.DS_Store"}

// EngineOptions represent the options that can be passed to a new archive engine.
type EngineOptions struct {
	// The level used by the CLI when none is given on the command line
	Level Level
	// The number of concurrent compression workers used when archiving directories.
	// Zero means one per CPU.
	Workers int
	// Doublestar patterns, matched against slash separated relative paths, to leave
	// out of directory archives
	Excludes []string
	// Files larger than this are streamed instead of buffered in memory
	StreamThreshold int64
	// An optional text/template (with sprig functions) rendered into the archive comment
	Comment string
}

// DeepCopy creates a copy of these EngineOptions.
func (o *EngineOptions) DeepCopy() *EngineOptions {
	out := *o
	out.Excludes = make([]string, len(o.Excludes))
	copy(out.Excludes, o.Excludes)
	return &out
}

// NewDefaultEngineOptions returns EngineOptions populated with the defaults.
func NewDefaultEngineOptions() *EngineOptions {
	excludes := make([]string, len(DefaultExcludes))
	copy(excludes, DefaultExcludes)
	return &EngineOptions{
		Level:           DefaultLevel,
		Excludes:        excludes,
		StreamThreshold: DefaultStreamThreshold,
	}
}

// CommentData is the value the archive comment template is executed against.
type CommentData struct {
	// The file or directory that was archived
	Source string
	// The level the new entries were compressed with
	Level Level
	// The total number of entries in the archive
	Entries int
}
