package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tinyzimmer/fastzip/pkg/codec"
	"github.com/tinyzimmer/fastzip/pkg/log"
	"github.com/tinyzimmer/fastzip/pkg/types"
	"github.com/tinyzimmer/fastzip/pkg/walker"
)

// compressed is the result of compressing one file off the writer's goroutine.
type compressed struct {
	method  types.Method
	payload []byte
	crc     uint32
	size    int64
	err     error
}

// AddDirectoryTree adds everything below sourceRoot, named relative to it and placed
// under archivePrefix. Files are compressed by a pool of workers but written strictly
// in walk order, so the layout of the archive does not depend on scheduling. At most
// twice the number of workers are in flight at once. Files above the stream threshold
// are streamed in order by the calling goroutine.
func (w *Writer) AddDirectoryTree(ctx context.Context, sourceRoot, archivePrefix string, level types.Level) error {
	if err := w.check(); err != nil {
		return err
	}
	if err := codec.ValidateLevel(level); err != nil {
		return err
	}
	prefix := ""
	if archivePrefix != "" {
		p, err := normalizeName(archivePrefix, false)
		if err != nil {
			return err
		}
		prefix = p
	}

	entries, err := walker.New(sourceRoot, walker.WithExcludes(w.excludes...)).List(ctx)
	if err != nil {
		return err
	}
	entries = w.dropOwnFiles(entries)
	log.Debugf("Found %d entries below %s\n", len(entries), sourceRoot)

	ctx, cancel := context.WithCancel(ctx)
	results := w.compressAll(ctx, entries, level)
	defer func() {
		cancel()
		results.wait()
	}()

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := joinName(prefix, entry.RelPath)
		if entry.IsDir {
			if err := w.AddDirectory(name, entry.ModTime, entry.Mode); err != nil {
				return err
			}
			continue
		}
		if w.streamed(entry) {
			if err := w.addFile(ctx, entry.Path, name, entry.Size, entry.ModTime, entry.Mode, level); err != nil {
				return err
			}
			continue
		}

		res, err := results.get(ctx, i)
		if err != nil {
			return err
		}
		if res.err != nil {
			return res.err
		}
		e := &types.Entry{
			Name:             name,
			Method:           res.method,
			Modified:         entry.ModTime,
			Mode:             entry.Mode.Perm(),
			CRC32:            res.crc,
			UncompressedSize: res.size,
		}
		if err := w.writePrepared(e, res.payload); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) streamed(entry *walker.Entry) bool { return entry.Size > w.streamThreshold }

// dropOwnFiles removes the destination archive and the writer's working directory
// from a walk of a tree that contains them.
func (w *Writer) dropOwnFiles(entries []*walker.Entry) []*walker.Entry {
	own := make([]os.FileInfo, 0, 2)
	for _, p := range []string{w.path, w.work.Path} {
		if info, err := os.Stat(p); err == nil {
			own = append(own, info)
		}
	}
	isOwn := func(e *walker.Entry) bool {
		base := filepath.Base(e.Path)
		if base != filepath.Base(w.path) && base != filepath.Base(w.work.Path) {
			return false
		}
		info, err := os.Stat(e.Path)
		if err != nil {
			return false
		}
		for _, o := range own {
			if os.SameFile(info, o) {
				return true
			}
		}
		return false
	}

	out := make([]*walker.Entry, 0, len(entries))
	pruned := ""
	for _, e := range entries {
		if pruned != "" && strings.HasPrefix(e.RelPath, pruned) {
			continue
		}
		pruned = ""
		if isOwn(e) {
			log.Debugf("Leaving %s out of its own archive\n", e.Path)
			if e.IsDir {
				pruned = e.RelPath + "/"
			}
			continue
		}
		out = append(out, e)
	}
	return out
}

// resultSet hands compressed files back to the writer in walk order.
type resultSet struct {
	slots  []chan *compressed
	window chan struct{}
	wg     sync.WaitGroup
}

// get blocks until the file at index i is compressed and frees its slot in the window.
func (r *resultSet) get(ctx context.Context, i int) (*compressed, error) {
	select {
	case res := <-r.slots[i]:
		<-r.window
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *resultSet) wait() { r.wg.Wait() }

// compressAll starts the worker pool. Files are dispatched in walk order and the
// dispatcher blocks once the window is full until the writer collects a result.
func (w *Writer) compressAll(ctx context.Context, entries []*walker.Entry, level types.Level) *resultSet {
	workers := w.workers
	if workers < 1 {
		workers = 1
	}
	r := &resultSet{
		slots:  make([]chan *compressed, len(entries)),
		window: make(chan struct{}, 2*workers),
	}
	for i := range entries {
		// buffered so a worker never blocks on a writer that has given up
		r.slots[i] = make(chan *compressed, 1)
	}
	jobs := make(chan int)

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for idx := range jobs {
				r.slots[idx] <- compressFile(ctx, entries[idx], level)
			}
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(jobs)
		for i, entry := range entries {
			if entry.IsDir || w.streamed(entry) {
				continue
			}
			select {
			case r.window <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	return r
}

func compressFile(ctx context.Context, entry *walker.Entry, level types.Level) *compressed {
	if err := ctx.Err(); err != nil {
		return &compressed{err: err}
	}
	data, err := os.ReadFile(entry.Path)
	if err != nil {
		return &compressed{err: err}
	}
	method, payload, err := codec.Encode(data, level)
	if err != nil {
		return &compressed{err: err}
	}
	return &compressed{
		method:  method,
		payload: payload,
		crc:     codec.Checksum(data),
		size:    int64(len(data)),
	}
}
