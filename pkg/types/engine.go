package types

import "context"

// Engine is the interface consumed by applications that need to produce or consume
// archives. It is implemented by the engine package.
type Engine interface {
	// ArchiveFile should add the given file to the archive at archivePath, creating it
	// if it does not exist. The entry is named after the base name of the file.
	ArchiveFile(ctx context.Context, sourcePath, archivePath string, level Level) error
	// ArchiveDir should add the contents of the given directory to the archive at archivePath,
	// creating it if it does not exist. Entry names are relative to sourceDir.
	ArchiveDir(ctx context.Context, sourceDir, archivePath string, level Level) error
	// Extract should reconstruct the contents of the archive under destinationDir.
	Extract(ctx context.Context, archivePath, destinationDir string) error
	// List should return the entries of the archive in central directory order, along
	// with the archive comment.
	List(archivePath string) ([]*Entry, string, error)
}
