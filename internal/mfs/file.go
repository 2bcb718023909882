package mfs

import (
	"io"

	"github.com/Nikitarc/aasun-kernel/kernelerr"
)

// File is an open handle onto a file's contents. A file's data is a single
// contiguous byte run starting at its first block, since the builder lays
// out files in one pass; only directories link multiple blocks.
type File struct {
	r    BlockReader
	base int64 // absolute byte offset of byte 0 of the file
	size int64
	pos  int64
}

// Read implements io.Reader, reading from the current seek position.
func (f *File) Read(p []byte) (int, error) {
	if f.pos >= f.size {
		return 0, io.EOF
	}
	remaining := f.size - f.pos
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := f.r.ReadAt(p, f.base+f.pos)
	f.pos += int64(n)
	if err != nil {
		return n, kernelerr.Wrap("mfs.File.Read", kernelerr.ModuleMFS, kernelerr.EIO, err)
	}
	return n, nil
}

// Seek implements io.Seeker. The resulting offset must satisfy
// 0 <= offset <= Size.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	const op = "mfs.File.Seek"
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = f.pos + offset
	case io.SeekEnd:
		newPos = f.size + offset
	default:
		return 0, kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.EARG, "invalid whence")
	}
	if newPos < 0 || newPos > f.size {
		return 0, kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.EARG, "seek out of range")
	}
	f.pos = newPos
	return f.pos, nil
}

// Size reports the file's committed length in bytes.
func (f *File) Size() int64 { return f.size }

var (
	_ io.Reader = (*File)(nil)
	_ io.Seeker = (*File)(nil)
)
