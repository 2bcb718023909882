package mfs

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Nikitarc/aasun-kernel/kernelcfg"
	"github.com/Nikitarc/aasun-kernel/kernelerr"
)

// memReader is a trivial BlockReader over an in-memory image, used so these
// tests do not depend on the backend package.
type memReader []byte

func (m memReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// entrySize rounds a name's encoded entry length up to a multiple of 4,
// mirroring the builder's rounding rule.
func entrySize(name string) int {
	raw := entryHdrSize + len(name) + 1
	return (raw + 3) &^ 3
}

// appendRawEntry appends one entry to a directory block's byte buffer.
func appendRawEntry(buf []byte, name string, flags fileType, block uint16, fileSize int32) []byte {
	size := entrySize(name)
	e := make([]byte, size)
	e[0] = byte(size)
	e[1] = byte(flags)
	binary.LittleEndian.PutUint16(e[2:4], block)
	binary.LittleEndian.PutUint32(e[4:8], uint32(fileSize))
	copy(e[8:], name)
	return append(buf, e...)
}

// writeDirBlock writes a directory header plus entry bytes into one
// blockSize-sized block within image at block index blk.
func writeDirBlock(image []byte, blockSize uint32, blk uint32, parent, prev, next, count uint32, entries []byte) {
	off := int64(blk) * int64(blockSize)
	binary.LittleEndian.PutUint32(image[off:off+4], parent)
	binary.LittleEndian.PutUint32(image[off+4:off+8], prev)
	binary.LittleEndian.PutUint32(image[off+8:off+12], next)
	binary.LittleEndian.PutUint32(image[off+12:off+16], count)
	copy(image[off+dirHdrSize:], entries)
}

func writeSuperBlock(image []byte, blockSize uint32) {
	var power uint32
	for blockSize>>power != 1 {
		power++
	}
	binary.LittleEndian.PutUint32(image[0:4], sbMagic)
	binary.LittleEndian.PutUint32(image[4:8], sbVersion)
	binary.LittleEndian.PutUint32(image[8:12], blockSize)
	binary.LittleEndian.PutUint32(image[12:16], power)
	fsSize := uint32(len(image))
	crc := crc32.ChecksumIEEE(image[blockSize:fsSize])
	binary.LittleEndian.PutUint32(image[16:20], crc)
	binary.LittleEndian.PutUint32(image[20:24], fsSize)
}

// buildSimpleImage lays out: root/hello.txt, root/sub/nested.txt, with every
// directory fitting in one block.
func buildSimpleImage(t *testing.T, blockSize uint32, helloContent, nestedContent []byte) []byte {
	t.Helper()
	// Blocks: 0 super, 1 root, 2 hello.txt data, 3 sub dir, 4 nested.txt data.
	helloBlocks := (len(helloContent) + int(blockSize) - 1) / int(blockSize)
	if helloBlocks == 0 {
		helloBlocks = 1
	}
	subBlock := uint32(2 + helloBlocks)
	nestedBlocks := (len(nestedContent) + int(blockSize) - 1) / int(blockSize)
	if nestedBlocks == 0 {
		nestedBlocks = 1
	}
	nestedBlock := subBlock + 1
	totalBlocks := nestedBlock + uint32(nestedBlocks)

	image := make([]byte, int64(totalBlocks)*int64(blockSize))

	var rootEntries []byte
	rootEntries = appendRawEntry(rootEntries, "hello.txt", typeFile, uint16(2), int32(len(helloContent)))
	rootEntries = appendRawEntry(rootEntries, "sub", typeDir, uint16(subBlock), -1)
	writeDirBlock(image, blockSize, rootBlock, 0, 0, 0, 2, rootEntries)

	copy(image[int64(2)*int64(blockSize):], helloContent)

	var subEntries []byte
	subEntries = appendRawEntry(subEntries, "nested.txt", typeFile, uint16(nestedBlock), int32(len(nestedContent)))
	writeDirBlock(image, blockSize, subBlock, rootBlock, 0, 0, 1, subEntries)

	copy(image[int64(nestedBlock)*int64(blockSize):], nestedContent)

	writeSuperBlock(image, blockSize)
	return image
}

func mustMount(t *testing.T, image []byte, blockSize uint32) *FS {
	t.Helper()
	fs, err := Mount(memReader(image), kernelcfg.MFSConfig{BlockSize: blockSize})
	require.NoError(t, err)
	return fs
}

func TestMountRejectsBadMagic(t *testing.T) {
	image := buildSimpleImage(t, 128, []byte("hello world"), []byte("nested content"))
	image[0] = 0
	_, err := Mount(memReader(image), kernelcfg.MFSConfig{BlockSize: 128})
	require.Error(t, err)
}

func TestMountRejectsMismatchedBlockSize(t *testing.T) {
	image := buildSimpleImage(t, 128, []byte("hello world"), []byte("nested content"))
	_, err := Mount(memReader(image), kernelcfg.MFSConfig{BlockSize: 64})
	require.Error(t, err)
}

func TestCheckValidatesCRC(t *testing.T) {
	image := buildSimpleImage(t, 128, []byte("hello world"), []byte("nested content"))
	fs := mustMount(t, image, 128)
	require.NoError(t, fs.Check())

	image[200] ^= 0xFF
	fs2 := mustMount(t, image, 128)
	err := fs2.Check()
	require.Error(t, err)
	require.True(t, kernelerr.IsCode(err, kernelerr.ECORRUPT))
}

func TestStatRoot(t *testing.T) {
	image := buildSimpleImage(t, 128, []byte("hello world"), []byte("nested content"))
	fs := mustMount(t, image, 128)

	info, err := fs.Stat("/")
	require.NoError(t, err)
	require.True(t, info.IsDir)
}

func TestOpenAndReadFile(t *testing.T) {
	content := []byte("hello world")
	image := buildSimpleImage(t, 128, content, []byte("nested content"))
	fs := mustMount(t, image, 128)

	f, err := fs.Open("/hello.txt")
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), f.Size())

	got := make([]byte, len(content))
	n, err := f.Read(got)
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	require.Equal(t, content, got)

	_, err = f.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestOpenNestedFileAndSeek(t *testing.T) {
	nested := []byte("nested content")
	image := buildSimpleImage(t, 128, []byte("hello world"), nested)
	fs := mustMount(t, image, 128)

	f, err := fs.Open("/sub/nested.txt")
	require.NoError(t, err)

	pos, err := f.Seek(7, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(7), pos)

	got := make([]byte, len(nested)-7)
	n, err := f.Read(got)
	require.NoError(t, err)
	require.Equal(t, nested[7:], got[:n])

	_, err = f.Seek(-1, io.SeekStart)
	require.Error(t, err)
	_, err = f.Seek(int64(len(nested))+1, io.SeekStart)
	require.Error(t, err)
}

func TestOpenRejectsDirectory(t *testing.T) {
	image := buildSimpleImage(t, 128, []byte("hello world"), []byte("nested content"))
	fs := mustMount(t, image, 128)

	_, err := fs.Open("/sub")
	require.Error(t, err)
}

func TestOpenMissingPath(t *testing.T) {
	image := buildSimpleImage(t, 128, []byte("hello world"), []byte("nested content"))
	fs := mustMount(t, image, 128)

	_, err := fs.Open("/does/not/exist")
	require.Error(t, err)
	require.True(t, kernelerr.IsCode(err, kernelerr.ENOTFOUND))
}

func TestOpenDirIteratesEntries(t *testing.T) {
	image := buildSimpleImage(t, 128, []byte("hello world"), []byte("nested content"))
	fs := mustMount(t, image, 128)

	d, err := fs.OpenDir("/")
	require.NoError(t, err)

	var names []string
	for {
		e, ok, err := d.Read()
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, e.Name)
	}
	require.ElementsMatch(t, []string{"hello.txt", "sub"}, names)
}

// buildOverflowDirImage builds a root directory whose three entries cannot
// all fit in one block at this block size, forcing a second linked block.
func buildOverflowDirImage(t *testing.T) []byte {
	t.Helper()
	const blockSize = 64 // entry area per block = 64-16 = 48 bytes

	// Three files, each entry 24 bytes: the first block's 48-byte entry
	// area holds exactly two, so the third spills into a second root block.
	names := []string{"aaaaaaaaaaaaa", "bbbbbbbbbbbbb", "ccccccccccccc"}
	for _, n := range names {
		require.Equal(t, 24, entrySize(n))
	}

	// Blocks: 0 super, 1 root(block A), 2 root(block B), 3..5 file data.
	totalBlocks := uint32(6)
	image := make([]byte, int64(totalBlocks)*int64(blockSize))

	var blockAEntries []byte
	blockAEntries = appendRawEntry(blockAEntries, names[0], typeFile, 3, 1)
	blockAEntries = appendRawEntry(blockAEntries, names[1], typeFile, 4, 1)
	writeDirBlock(image, blockSize, rootBlock, 0, 0, 2, 2, blockAEntries)

	var blockBEntries []byte
	blockBEntries = appendRawEntry(blockBEntries, names[2], typeFile, 5, 1)
	writeDirBlock(image, blockSize, 2, 0, rootBlock, 0, 1, blockBEntries)

	image[3*blockSize] = 'a'
	image[4*blockSize] = 'b'
	image[5*blockSize] = 'c'

	writeSuperBlock(image, blockSize)
	return image
}

func TestDirectoryChainSpansMultipleBlocks(t *testing.T) {
	image := buildOverflowDirImage(t)
	fs := mustMount(t, image, 64)

	d, err := fs.OpenDir("/")
	require.NoError(t, err)

	var names []string
	for {
		e, ok, err := d.Read()
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"aaaaaaaaaaaaa", "bbbbbbbbbbbbb", "ccccccccccccc"}, names)

	f, err := fs.Open("/ccccccccccccc")
	require.NoError(t, err)
	got := make([]byte, 1)
	_, err = f.Read(got)
	require.NoError(t, err)
	require.Equal(t, byte('c'), got[0])
}
