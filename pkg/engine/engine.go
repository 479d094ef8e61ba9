// Package engine ties the walker, codec and archive packages together behind the
// operations exposed to applications and the CLI.
package engine

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tinyzimmer/fastzip/pkg/archive"
	"github.com/tinyzimmer/fastzip/pkg/codec"
	"github.com/tinyzimmer/fastzip/pkg/log"
	"github.com/tinyzimmer/fastzip/pkg/types"
)

// New returns a new archive engine. Nil options use the defaults.
func New(opts *types.EngineOptions) types.Engine {
	if opts == nil {
		opts = types.NewDefaultEngineOptions()
	}
	return &engine{opts: opts.DeepCopy()}
}

// engine implements the Engine interface.
type engine struct {
	opts *types.EngineOptions
}

func (e *engine) writerOptions() []archive.WriterOption {
	return []archive.WriterOption{
		archive.WithWorkers(e.opts.Workers),
		archive.WithStreamThreshold(e.opts.StreamThreshold),
		archive.WithExcludes(e.opts.Excludes...),
	}
}

func (e *engine) ArchiveFile(ctx context.Context, sourcePath, archivePath string, level types.Level) (err error) {
	defer logFailure(&err, "Archiving file %q to %q", sourcePath, archivePath)

	info, err := stat(sourcePath)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return &types.NotAFileError{Path: sourcePath}
	}
	if err := codec.ValidateLevel(level); err != nil {
		return err
	}

	w, err := archive.CreateOrOpen(archivePath, e.writerOptions()...)
	if err != nil {
		return err
	}
	defer w.Abort()

	if err := w.AddFile(ctx, sourcePath, filepath.Base(sourcePath), level); err != nil {
		return err
	}
	if err := e.setComment(w, sourcePath, level); err != nil {
		return err
	}
	return w.Finalize()
}

func (e *engine) ArchiveDir(ctx context.Context, sourceDir, archivePath string, level types.Level) (err error) {
	defer logFailure(&err, "Archiving directory %q to %q", sourceDir, archivePath)

	info, err := stat(sourceDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &types.NotADirectoryError{Path: sourceDir}
	}
	if err := codec.ValidateLevel(level); err != nil {
		return err
	}

	w, err := archive.CreateOrOpen(archivePath, e.writerOptions()...)
	if err != nil {
		return err
	}
	defer w.Abort()

	if err := w.AddDirectoryTree(ctx, sourceDir, "", level); err != nil {
		return err
	}
	if err := e.setComment(w, sourceDir, level); err != nil {
		return err
	}
	return w.Finalize()
}

func (e *engine) Extract(ctx context.Context, archivePath, destinationDir string) (err error) {
	defer logFailure(&err, "Extracting %q to %q", archivePath, destinationDir)

	r, err := archive.Open(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.ExtractAll(ctx, destinationDir)
}

func (e *engine) List(archivePath string) (entries []*types.Entry, comment string, err error) {
	defer logFailure(&err, "Listing %q", archivePath)

	r, err := archive.Open(archivePath)
	if err != nil {
		return nil, "", err
	}
	defer r.Close()
	return r.Entries(), r.Comment(), nil
}

func (e *engine) setComment(w *archive.Writer, source string, level types.Level) error {
	if e.opts.Comment == "" {
		return nil
	}
	comment, err := types.RenderComment(e.opts.Comment, &types.CommentData{
		Source:  source,
		Level:   level,
		Entries: len(w.Entries()),
	})
	if err != nil {
		return err
	}
	return w.SetComment(comment)
}

func stat(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &types.NotFoundError{Path: path}
		}
		return nil, err
	}
	return info, nil
}

func logFailure(err *error, format string, args ...interface{}) {
	if *err == nil {
		return
	}
	log.Debugf(format+" failed: %s\n", append(args, *err)...)
}
