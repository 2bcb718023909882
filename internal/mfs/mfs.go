// Package mfs implements a minimalistic read-only filesystem reader. The
// on-disk image is produced offline by a builder tool and never modified in
// place: mounting just validates a super block and every lookup walks
// directory blocks linked by block number, so the whole filesystem
// needs no RAM-resident index.
package mfs

import (
	"encoding/binary"
	"hash/crc32"
	"strings"

	"github.com/Nikitarc/aasun-kernel/internal/logging"
	"github.com/Nikitarc/aasun-kernel/kernelcfg"
	"github.com/Nikitarc/aasun-kernel/kernelerr"
)

const (
	sbMagic   = 0x41413546 // "AA5F", read as a little-endian uint32
	sbVersion = 1 << 16

	sbBlock      = 0
	rootBlock    = 1
	dirHdrSize   = 16
	entryHdrSize = 8
	entrySizeMax = 96
	nameMax      = entrySizeMax - entryHdrSize
)

// fileType mirrors the builder's fileType_t: what an entry header names.
type fileType uint8

const (
	typeNone fileType = 0
	typeDir  fileType = 1
	typeFile fileType = 2
)

// BlockReader is the storage dependency the filesystem reads through. It is
// shaped exactly like io.ReaderAt because entry headers and file data are
// not block-aligned, unlike backend.Memory's block-quantized ReadBlock.
type BlockReader interface {
	ReadAt(p []byte, off int64) (int, error)
}

// superBlock is the decoded content of block 0.
type superBlock struct {
	blockSize   uint32
	blockPower2 uint32
	fsCRC       uint32
	fsSize      uint32
}

// FS is a mounted filesystem image. It holds no directory cache: every Open
// and Stat call re-walks the on-disk structure from the reader.
type FS struct {
	r  BlockReader
	sb superBlock
}

// Mount validates the super block at offset 0 and returns a handle for
// Open/Stat/OpenDir. It does not verify the whole-image CRC; call Check for
// that, since it requires reading every block.
func Mount(r BlockReader, cfg kernelcfg.MFSConfig) (*FS, error) {
	const op = "mfs.Mount"
	buf := make([]byte, 24)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, kernelerr.Wrap(op, kernelerr.ModuleMFS, kernelerr.EIO, err)
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != sbMagic {
		return nil, kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.EARG, "bad super block magic")
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != sbVersion {
		return nil, kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.EARG, "unsupported filesystem version")
	}
	blockSize := binary.LittleEndian.Uint32(buf[8:12])
	blockPower2 := binary.LittleEndian.Uint32(buf[12:16])
	if blockSize == 0 || blockSize != 1<<blockPower2 {
		return nil, kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.EARG, "block size does not match its power of two")
	}
	if cfg.BlockSize != 0 && cfg.BlockSize != blockSize {
		return nil, kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.EARG, "image block size does not match configured block size")
	}

	sb := superBlock{
		blockSize:   blockSize,
		blockPower2: blockPower2,
		fsCRC:       binary.LittleEndian.Uint32(buf[16:20]),
		fsSize:      binary.LittleEndian.Uint32(buf[20:24]),
	}
	logging.Default().Debug("mfs image mounted", "block_size", blockSize, "fs_size", sb.fsSize)
	return &FS{r: r, sb: sb}, nil
}

// Check recomputes the CRC-32 over every block but the super block and
// compares it against the value stored at mount time. This is a full image
// scan and is not done implicitly by Mount.
func (fs *FS) Check() error {
	const op = "mfs.Check"
	if fs.sb.fsSize < fs.sb.blockSize {
		return kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.EARG, "filesystem size smaller than one block")
	}
	remaining := int64(fs.sb.fsSize) - int64(fs.sb.blockSize)
	off := int64(fs.sb.blockSize)
	buf := make([]byte, fs.sb.blockSize)
	crc := crc32.NewIEEE()
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		if _, err := fs.r.ReadAt(buf[:n], off); err != nil {
			return kernelerr.Wrap(op, kernelerr.ModuleMFS, kernelerr.EIO, err)
		}
		crc.Write(buf[:n])
		off += n
		remaining -= n
	}
	if crc.Sum32() != fs.sb.fsCRC {
		logging.Default().Warn("mfs CRC mismatch", "expected", fs.sb.fsCRC, "computed", crc.Sum32())
		return kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.ECORRUPT, "filesystem CRC mismatch")
	}
	return nil
}

// dirHeader is the 16-byte header at the start of every directory block.
type dirHeader struct {
	parent uint32
	prev   uint32
	next   uint32
	count  uint32
}

func (fs *FS) readDirHeader(block uint32) (dirHeader, error) {
	buf := make([]byte, dirHdrSize)
	off := int64(block) << fs.sb.blockPower2
	if _, err := fs.r.ReadAt(buf, off); err != nil {
		return dirHeader{}, err
	}
	return dirHeader{
		parent: binary.LittleEndian.Uint32(buf[0:4]),
		prev:   binary.LittleEndian.Uint32(buf[4:8]),
		next:   binary.LittleEndian.Uint32(buf[8:12]),
		count:  binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// entry is a decoded directory entry.
type entry struct {
	size     uint8
	flags    fileType
	block    uint16
	fileSize int32
	name     string
}

// blockAddr converts a block number (as stored in a directory entry) to an
// absolute byte offset.
func (fs *FS) blockAddr(block uint32) int64 {
	return int64(block) << fs.sb.blockPower2
}

// searchDir scans one directory's entries, following the header's next link across linked
// blocks, looking for a name matching segment.
func (fs *FS) searchDir(dirBlock uint32, segment string) (entry, error) {
	const op = "mfs.searchDir"
	block := dirBlock
	for block != 0 {
		hdr, err := fs.readDirHeader(block)
		if err != nil {
			return entry{}, kernelerr.Wrap(op, kernelerr.ModuleMFS, kernelerr.EIO, err)
		}

		blockOff := fs.blockAddr(block)
		pos := blockOff + dirHdrSize
		end := blockOff + int64(fs.sb.blockSize)

		hdrBuf := make([]byte, entryHdrSize)
		nameBuf := make([]byte, nameMax)
		for i := uint32(0); i < hdr.count && pos < end; i++ {
			if _, err := fs.r.ReadAt(hdrBuf, pos); err != nil {
				return entry{}, kernelerr.Wrap(op, kernelerr.ModuleMFS, kernelerr.EIO, err)
			}
			e := entry{
				size:     hdrBuf[0],
				flags:    fileType(hdrBuf[1]),
				block:    binary.LittleEndian.Uint16(hdrBuf[2:4]),
				fileSize: int32(binary.LittleEndian.Uint32(hdrBuf[4:8])),
			}
			if e.size < entryHdrSize {
				return entry{}, kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.ECORRUPT, "corrupt entry size")
			}
			nameLen := int(e.size) - entryHdrSize
			if nameLen > len(nameBuf) {
				nameLen = len(nameBuf)
			}
			if nameLen > 0 {
				if _, err := fs.r.ReadAt(nameBuf[:nameLen], pos+entryHdrSize); err != nil {
					return entry{}, kernelerr.Wrap(op, kernelerr.ModuleMFS, kernelerr.EIO, err)
				}
				if nul := indexNUL(nameBuf[:nameLen]); nul >= 0 {
					e.name = string(nameBuf[:nul])
				} else {
					e.name = string(nameBuf[:nameLen])
				}
			}

			if e.flags != typeNone && e.name == segment {
				return e, nil
			}
			pos += int64(e.size)
		}
		block = hdr.next
	}
	return entry{}, kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.ENOTFOUND, "not found")
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// searchPath resolves a slash-separated path into the entry it names. The
// root path "/" is synthesized since no on-disk entry describes it: root
// has no parent directory entry pointing at it.
func (fs *FS) searchPath(path string) (entry, error) {
	if path == "" || path == "/" {
		return entry{flags: typeDir, block: rootBlock, fileSize: -1}, nil
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	block := uint32(rootBlock)
	var e entry
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		var err error
		e, err = fs.searchDir(block, seg)
		if err != nil {
			return entry{}, err
		}
		if e.flags == typeDir {
			block = uint32(e.block)
		} else if i != len(segments)-1 {
			return entry{}, kernelerr.New("mfs.searchPath", kernelerr.ModuleMFS, kernelerr.EARG, "path component is not a directory")
		}
	}
	return e, nil
}

// Info is the result of Stat: an entry's type and size.
type Info struct {
	IsDir bool
	Size  int64
}

// Stat resolves path and reports its type and size without opening it.
func (fs *FS) Stat(path string) (Info, error) {
	e, err := fs.searchPath(path)
	if err != nil {
		return Info{}, err
	}
	size := int64(e.fileSize)
	if size < 0 {
		size = 0
	}
	return Info{IsDir: e.flags == typeDir, Size: size}, nil
}

// Open resolves path and returns a readable, seekable handle onto its
// contents. It fails if path names a directory; use OpenDir instead.
func (fs *FS) Open(path string) (*File, error) {
	const op = "mfs.Open"
	e, err := fs.searchPath(path)
	if err != nil {
		return nil, err
	}
	if e.flags != typeFile {
		return nil, kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.EARG, "path is not a file")
	}
	if e.fileSize < 0 {
		return nil, kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.ESTATE, "file has no committed size")
	}
	return &File{
		r:    fs.r,
		base: fs.blockAddr(uint32(e.block)),
		size: int64(e.fileSize),
	}, nil
}
