package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/tinyzimmer/fastzip/pkg/types"
)

// patch overwrites bytes of the file at path starting at offset.
func patch(path string, offset int64, b []byte) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	Expect(err).ToNot(HaveOccurred())
	defer f.Close()
	_, err = f.WriteAt(b, offset)
	Expect(err).ToNot(HaveOccurred())
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// dataOffsetOf returns where the stored bytes of the named entry begin.
func dataOffsetOf(path, name string) (int64, *types.Entry) {
	r, err := Open(path)
	Expect(err).ToNot(HaveOccurred())
	defer r.Close()
	e := findEntry(r, name)
	offset, err := r.dataOffset(e)
	Expect(err).ToNot(HaveOccurred())
	return offset, e
}

var _ = Describe("Reader", func() {
	var (
		tmp     string
		src     string
		dest    string
		archive string
		files   map[string][]byte
		err     error
	)

	BeforeEach(func() {
		tmp, err = os.MkdirTemp("", "archive-reader")
		Expect(err).ToNot(HaveOccurred())
		src = filepath.Join(tmp, "src")
		dest = filepath.Join(tmp, "dest")
		archive = filepath.Join(tmp, "test.zip")
		files = map[string][]byte{
			"a.txt":          []byte(strings.Repeat("alpha\n", 2000)),
			"b.bin":          randomBytes(8192),
			"nested/c.txt":   []byte(strings.Repeat("charlie\n", 500)),
			"nested/d/e.txt": []byte("echo"),
			"empty.txt":      {},
		}
		writeTree(src, files)
	})

	AfterEach(func() { os.RemoveAll(tmp) })

	Describe("Extracting", func() {
		BeforeEach(func() {
			Expect(os.Chmod(filepath.Join(src, "nested", "d", "e.txt"), 0600)).To(Succeed())
			archiveTree(archive, src)
		})

		It("Should reproduce the tree with modes and modification times", func() {
			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()
			Expect(r.ExtractAll(ctx, dest)).To(Succeed())

			for name, contents := range files {
				path := filepath.Join(dest, filepath.FromSlash(name))
				data, err := os.ReadFile(path)
				Expect(err).ToNot(HaveOccurred())
				Expect(data).To(Equal(contents))
				info, err := os.Stat(path)
				Expect(err).ToNot(HaveOccurred())
				Expect(info.ModTime().Unix()).To(Equal(modTime.Unix()))
			}
			info, err := os.Stat(filepath.Join(dest, "nested", "d", "e.txt"))
			Expect(err).ToNot(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0600)))
			Expect(dirNames(dest)).To(Equal([]string{"a.txt", "b.bin", "empty.txt", "nested"}))
		})

		It("Should produce the same tree when extracted twice", func() {
			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()
			Expect(r.ExtractAll(ctx, dest)).To(Succeed())
			Expect(r.ExtractAll(ctx, dest)).To(Succeed())
			for name, contents := range files {
				data, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
				Expect(err).ToNot(HaveOccurred())
				Expect(data).To(Equal(contents))
			}
			Expect(dirNames(filepath.Join(dest, "nested"))).To(Equal([]string{"c.txt", "d"}))
		})
	})

	Describe("Reading archives from other writers", func() {
		BeforeEach(func() {
			f, err := os.Create(archive)
			Expect(err).ToNot(HaveOccurred())
			zw := zip.NewWriter(f)
			_, err = zw.CreateHeader(&zip.FileHeader{Name: "dir/", Modified: modTime})
			Expect(err).ToNot(HaveOccurred())
			for _, name := range []string{"dir/a.txt", "b.bin"} {
				method := zip.Deflate
				if name == "b.bin" {
					method = zip.Store
				}
				w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method, Modified: modTime})
				Expect(err).ToNot(HaveOccurred())
				_, err = w.Write(files[strings.TrimPrefix(name, "dir/")])
				Expect(err).ToNot(HaveOccurred())
			}
			Expect(zw.SetComment("from another writer")).To(Succeed())
			Expect(zw.Close()).To(Succeed())
			Expect(f.Close()).To(Succeed())
		})

		It("Should list and extract every entry", func() {
			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()
			Expect(entryNames(r.Entries())).To(Equal([]string{"dir/", "dir/a.txt", "b.bin"}))
			Expect(r.Comment()).To(Equal("from another writer"))
			Expect(findEntry(r, "b.bin").Method).To(Equal(types.MethodStore))
			Expect(findEntry(r, "dir/a.txt").Modified.Unix()).To(Equal(modTime.Unix()))

			Expect(r.ExtractAll(ctx, dest)).To(Succeed())
			data, err := os.ReadFile(filepath.Join(dest, "dir", "a.txt"))
			Expect(err).ToNot(HaveOccurred())
			Expect(data).To(Equal(files["a.txt"]))
		})

		It("Should append to them", func() {
			w, err := CreateOrOpen(archive)
			Expect(err).ToNot(HaveOccurred())
			defer w.Abort()
			Expect(w.AddFile(ctx, filepath.Join(src, "nested", "c.txt"), "c.txt", types.DefaultLevel)).To(Succeed())
			Expect(w.Finalize()).To(Succeed())

			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()
			Expect(entryNames(r.Entries())).To(Equal([]string{"dir/", "dir/a.txt", "b.bin", "c.txt"}))
			Expect(readEntry(r, "dir/a.txt")).To(Equal(files["a.txt"]))
			Expect(readEntry(r, "c.txt")).To(Equal(files["nested/c.txt"]))
		})
	})

	Describe("Archive comments", func() {
		It("Should find the directory behind a comment that looks like a record", func() {
			fake := append(le32(directoryEndSignature), make([]byte, directoryEndLen-4)...)
			comment := string(fake) + "tail"

			w, err := CreateOrOpen(archive)
			Expect(err).ToNot(HaveOccurred())
			defer w.Abort()
			Expect(w.AddFile(ctx, filepath.Join(src, "a.txt"), "a.txt", types.DefaultLevel)).To(Succeed())
			Expect(w.SetComment(comment)).To(Succeed())
			Expect(w.Finalize()).To(Succeed())

			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()
			Expect(r.Comment()).To(Equal(comment))
			Expect(entryNames(r.Entries())).To(Equal([]string{"a.txt"}))
		})

		It("Should reject comments longer than the format allows", func() {
			w, err := CreateOrOpen(archive)
			Expect(err).ToNot(HaveOccurred())
			defer w.Abort()
			Expect(w.SetComment(strings.Repeat("x", maxUint16+1))).ToNot(Succeed())
		})
	})

	Describe("Detecting structural corruption", func() {
		var size int64

		BeforeEach(func() {
			w, err := CreateOrOpen(archive)
			Expect(err).ToNot(HaveOccurred())
			defer w.Abort()
			Expect(w.AddFile(ctx, filepath.Join(src, "a.txt"), "a.txt", types.DefaultLevel)).To(Succeed())
			Expect(w.AddFile(ctx, filepath.Join(src, "b.bin"), "b.bin", types.DefaultLevel)).To(Succeed())
			Expect(w.Finalize()).To(Succeed())
			info, err := os.Stat(archive)
			Expect(err).ToNot(HaveOccurred())
			size = info.Size()
		})

		expectCorrupt := func() {
			_, err := Open(archive)
			Expect(errors.Is(err, types.ErrCorruptArchive)).To(BeTrue(), "got %v", err)
			var corrupt *types.CorruptArchiveError
			Expect(errors.As(err, &corrupt)).To(BeTrue())
			Expect(corrupt.Path).To(Equal(archive))
		}

		It("Should open the untouched archive", func() {
			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			Expect(r.Close()).To(Succeed())
		})

		It("Should reject a truncated file", func() {
			Expect(os.Truncate(archive, size-5)).To(Succeed())
			expectCorrupt()
		})

		It("Should reject a file too small to hold a directory", func() {
			Expect(os.WriteFile(archive, []byte("PK"), 0644)).To(Succeed())
			expectCorrupt()
		})

		It("Should reject a file that is not an archive", func() {
			Expect(os.WriteFile(archive, bytes.Repeat([]byte("garbage!"), 1000), 0644)).To(Succeed())
			expectCorrupt()
		})

		It("Should reject archives spanning disks", func() {
			patch(archive, size-directoryEndLen+4, le16(1))
			expectCorrupt()
		})

		It("Should reject a mismatched entry count", func() {
			patch(archive, size-directoryEndLen+8, append(le16(3), le16(3)...))
			expectCorrupt()
		})

		It("Should reject a directory outside the file", func() {
			patch(archive, size-directoryEndLen+16, le32(uint32(size)))
			expectCorrupt()
		})

		It("Should reject overlapping records", func() {
			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			second := r.directoryStart() + directoryHeaderLen + int64(len("a.txt")) + int64(len(extTimeExtra(modTime)))
			r.Close()
			patch(archive, second+42, le32(0))
			expectCorrupt()
		})

		It("Should reject a bad central directory signature", func() {
			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			start := r.directoryStart()
			r.Close()
			patch(archive, start, le32(0xdeadbeef))
			expectCorrupt()
		})

		It("Should reject an unknown compression method when reading", func() {
			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			start := r.directoryStart()
			r.Close()
			patch(archive, start+10, le16(12))

			r, err = Open(archive)
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()
			_, err = r.Open(r.Entries()[0])
			Expect(errors.Is(err, types.ErrUnsupportedMethod)).To(BeTrue())
		})
	})

	Describe("Detecting corrupt entry data", func() {
		BeforeEach(func() {
			w, err := CreateOrOpen(archive)
			Expect(err).ToNot(HaveOccurred())
			defer w.Abort()
			Expect(w.AddFile(ctx, filepath.Join(src, "nested", "c.txt"), "c.txt", types.DefaultLevel)).To(Succeed())
			Expect(w.AddFile(ctx, filepath.Join(src, "a.txt"), "a.txt", types.DefaultLevel)).To(Succeed())
			Expect(w.AddFile(ctx, filepath.Join(src, "b.bin"), "b.bin", types.DefaultLevel)).To(Succeed())
			Expect(w.Finalize()).To(Succeed())
		})

		It("Should fail extraction on a flipped byte and keep earlier entries", func() {
			offset, e := dataOffsetOf(archive, "a.txt")
			Expect(e.Method).To(Equal(types.MethodDeflate))
			data, err := os.ReadFile(archive)
			Expect(err).ToNot(HaveOccurred())
			mid := offset + e.CompressedSize/2
			patch(archive, mid, []byte{data[mid] ^ 0xff})

			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()
			err = r.ExtractAll(ctx, dest)
			Expect(errors.Is(err, types.ErrCorruptData)).To(BeTrue(), "got %v", err)
			var dataErr *types.CorruptDataError
			Expect(errors.As(err, &dataErr)).To(BeTrue())
			Expect(dataErr.Name).To(Equal("a.txt"))

			Expect(dirNames(dest)).To(Equal([]string{"c.txt"}))
		})

		It("Should report the expected and actual checksum of stored data", func() {
			offset, e := dataOffsetOf(archive, "b.bin")
			Expect(e.Method).To(Equal(types.MethodStore))
			data, err := os.ReadFile(archive)
			Expect(err).ToNot(HaveOccurred())
			patch(archive, offset+100, []byte{data[offset+100] ^ 0x01})

			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()
			rc, err := r.Open(e)
			Expect(err).ToNot(HaveOccurred())
			defer rc.Close()
			_, err = io.ReadAll(rc)
			var dataErr *types.CorruptDataError
			Expect(errors.As(err, &dataErr)).To(BeTrue())
			Expect(dataErr.Field).To(Equal("crc32"))
			Expect(dataErr.Expected).To(Equal(uint64(e.CRC32)))
			Expect(dataErr.Actual).ToNot(Equal(dataErr.Expected))
		})
	})

	Describe("Extracting unsafe names", func() {
		BeforeEach(func() {
			f, err := os.Create(archive)
			Expect(err).ToNot(HaveOccurred())
			zw := zip.NewWriter(f)
			for _, name := range []string{"safe.txt", "../../etc/passwd"} {
				w, err := zw.Create(name)
				Expect(err).ToNot(HaveOccurred())
				_, err = w.Write([]byte("root:x:0:0"))
				Expect(err).ToNot(HaveOccurred())
			}
			Expect(zw.Close()).To(Succeed())
			Expect(f.Close()).To(Succeed())
		})

		It("Should refuse before writing anything", func() {
			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()
			err = r.ExtractAll(ctx, dest)
			var unsafe *types.UnsafePathError
			Expect(errors.As(err, &unsafe)).To(BeTrue())
			Expect(unsafe.Name).To(Equal("../../etc/passwd"))
			_, err = os.Stat(dest)
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})

	Describe("Extracting through links in the destination", func() {
		var outside string

		BeforeEach(func() {
			outside = filepath.Join(tmp, "outside")
			Expect(os.MkdirAll(outside, 0755)).To(Succeed())
			Expect(os.MkdirAll(dest, 0755)).To(Succeed())
			Expect(os.Symlink(outside, filepath.Join(dest, "nested"))).To(Succeed())
			archiveTree(archive, src)
		})

		It("Should refuse before writing anything", func() {
			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			defer r.Close()
			err = r.ExtractAll(ctx, dest)
			var unsafe *types.UnsafePathError
			Expect(errors.As(err, &unsafe)).To(BeTrue())
			Expect(unsafe.Name).To(Equal("nested/"))
			Expect(dirNames(outside)).To(BeEmpty())
			Expect(dirNames(dest)).To(Equal([]string{"nested"}))
		})
	})

	Context("When the archive does not exist", func() {
		It("Should return a NotFoundError", func() {
			_, err := Open(filepath.Join(tmp, "missing.zip"))
			Expect(errors.Is(err, types.ErrNotFound)).To(BeTrue())
		})
	})

	Context("After the reader is closed", func() {
		It("Should refuse to open entries", func() {
			archiveTree(archive, src)
			r, err := Open(archive)
			Expect(err).ToNot(HaveOccurred())
			Expect(r.Close()).To(Succeed())
			Expect(r.Close()).To(Succeed())
			_, err = r.Open(r.Entries()[0])
			Expect(errors.Is(err, types.ErrClosedArchive)).To(BeTrue())
		})
	})
})
