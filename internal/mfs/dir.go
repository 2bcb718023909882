package mfs

import (
	"encoding/binary"

	"github.com/Nikitarc/aasun-kernel/kernelerr"
)

// DirEntry is one entry returned while iterating a directory.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Dir is an open directory iterator, positioned at its first entry.
type Dir struct {
	fs        *FS
	block     uint32 // current directory block
	nextBlock uint32 // block to follow once left reaches 0
	pos       int64  // byte offset of the next unread entry header
	end       int64  // end of the current block's entry area
	left      uint32 // entries left to read in the current block
}

// OpenDir resolves path and returns an iterator over its entries.
func (fs *FS) OpenDir(path string) (*Dir, error) {
	const op = "mfs.OpenDir"
	var block uint32
	if path == "" || path == "/" {
		block = rootBlock
	} else {
		e, err := fs.searchPath(path)
		if err != nil {
			return nil, err
		}
		if e.flags != typeDir {
			return nil, kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.EARG, "path is not a directory")
		}
		block = uint32(e.block)
	}
	d := &Dir{fs: fs, block: block}
	if err := d.loadBlock(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dir) loadBlock() error {
	const op = "mfs.Dir"
	hdr, err := d.fs.readDirHeader(d.block)
	if err != nil {
		return kernelerr.Wrap(op, kernelerr.ModuleMFS, kernelerr.EIO, err)
	}
	blockOff := d.fs.blockAddr(d.block)
	d.pos = blockOff + dirHdrSize
	d.end = blockOff + int64(d.fs.sb.blockSize)
	d.left = hdr.count
	d.nextBlock = hdr.next
	return nil
}

// Read returns the next entry, or (DirEntry{}, io.EOF)-equivalent via a nil
// error and ok=false once the directory is exhausted.
func (d *Dir) Read() (DirEntry, bool, error) {
	const op = "mfs.Dir.Read"
	for {
		if d.left == 0 {
			if d.nextBlock == 0 {
				return DirEntry{}, false, nil
			}
			d.block = d.nextBlock
			if err := d.loadBlock(); err != nil {
				return DirEntry{}, false, err
			}
			continue
		}
		if d.pos >= d.end {
			return DirEntry{}, false, kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.ECORRUPT, "entry count exceeds block bounds")
		}

		hdrBuf := make([]byte, entryHdrSize)
		if _, err := d.fs.r.ReadAt(hdrBuf, d.pos); err != nil {
			return DirEntry{}, false, kernelerr.Wrap(op, kernelerr.ModuleMFS, kernelerr.EIO, err)
		}
		size := hdrBuf[0]
		flags := fileType(hdrBuf[1])
		fileSize := int32(binary.LittleEndian.Uint32(hdrBuf[4:8]))
		if size < entryHdrSize {
			return DirEntry{}, false, kernelerr.New(op, kernelerr.ModuleMFS, kernelerr.ECORRUPT, "corrupt entry size")
		}

		nameLen := int(size) - entryHdrSize
		if nameLen > nameMax {
			nameLen = nameMax
		}
		var name string
		if nameLen > 0 {
			nameBuf := make([]byte, nameLen)
			if _, err := d.fs.r.ReadAt(nameBuf, d.pos+entryHdrSize); err != nil {
				return DirEntry{}, false, kernelerr.Wrap(op, kernelerr.ModuleMFS, kernelerr.EIO, err)
			}
			if nul := indexNUL(nameBuf); nul >= 0 {
				name = string(nameBuf[:nul])
			} else {
				name = string(nameBuf)
			}
		}

		d.pos += int64(size)
		d.left--

		if flags == typeNone {
			continue // slot reserved but never committed by the builder
		}
		sz := int64(fileSize)
		if sz < 0 {
			sz = 0
		}
		return DirEntry{Name: name, IsDir: flags == typeDir, Size: sz}, true, nil
	}
}
