// +build integration

package integration

import (
	"encoding/binary"
	"hash/crc32"
	"testing"
)

const (
	sbMagic    = 0x41413546
	sbVersion  = 1 << 16
	dirHdrSize = 16
	entryHdr   = 8
)

func entrySize(name string) int {
	raw := entryHdr + len(name) + 1
	return (raw + 3) &^ 3
}

// buildTestImage lays out a single-file root directory: root/data.bin.
func buildTestImage(t *testing.T, blockSize uint32, content []byte) []byte {
	t.Helper()
	const fileBlock = 2
	fileBlocks := uint32((len(content) + int(blockSize) - 1) / int(blockSize))
	if fileBlocks == 0 {
		fileBlocks = 1
	}
	totalBlocks := fileBlock + fileBlocks
	image := make([]byte, int64(totalBlocks)*int64(blockSize))

	name := "data.bin"
	entry := make([]byte, entrySize(name))
	entry[0] = byte(len(entry))
	entry[1] = 2 // file
	binary.LittleEndian.PutUint16(entry[2:4], fileBlock)
	binary.LittleEndian.PutUint32(entry[4:8], uint32(len(content)))
	copy(entry[8:], name)

	rootOff := int64(blockSize)
	binary.LittleEndian.PutUint32(image[rootOff+12:rootOff+16], 1)
	copy(image[rootOff+dirHdrSize:], entry)

	copy(image[int64(fileBlock)*int64(blockSize):], content)

	var power uint32
	for blockSize>>power != 1 {
		power++
	}
	fsSize := uint32(len(image))
	binary.LittleEndian.PutUint32(image[0:4], sbMagic)
	binary.LittleEndian.PutUint32(image[4:8], sbVersion)
	binary.LittleEndian.PutUint32(image[8:12], blockSize)
	binary.LittleEndian.PutUint32(image[12:16], power)
	binary.LittleEndian.PutUint32(image[16:20], crc32.ChecksumIEEE(image[blockSize:fsSize]))
	binary.LittleEndian.PutUint32(image[20:24], fsSize)

	return image
}
