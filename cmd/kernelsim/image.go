package main

import (
	"encoding/binary"
	"hash/crc32"
)

// These mirror the on-disk layout internal/mfs reads; a real image comes
// from an offline builder tool, which this repo does not include.
const (
	mfsMagic      = 0x41413546
	mfsVersion    = 1 << 16
	mfsDirHdrSize = 16
	mfsEntryHdr   = 8
)

func entrySize(name string) int {
	raw := mfsEntryHdr + len(name) + 1
	return (raw + 3) &^ 3
}

// buildDemoImage lays out a one-file filesystem: root/readme.txt.
func buildDemoImage(blockSize uint32) []byte {
	content := []byte("Hello from the minimalist filesystem.\n")
	fileBlocks := uint32((len(content) + int(blockSize) - 1) / int(blockSize))
	if fileBlocks == 0 {
		fileBlocks = 1
	}
	const fileBlock = 2
	totalBlocks := fileBlock + fileBlocks
	image := make([]byte, int64(totalBlocks)*int64(blockSize))

	name := "readme.txt"
	entry := make([]byte, entrySize(name))
	entry[0] = byte(len(entry))
	entry[1] = 2 // MFS_FILE
	binary.LittleEndian.PutUint16(entry[2:4], fileBlock)
	binary.LittleEndian.PutUint32(entry[4:8], uint32(len(content)))
	copy(entry[8:], name)

	rootOff := int64(blockSize) // root is always block 1
	binary.LittleEndian.PutUint32(image[rootOff+12:rootOff+16], 1)
	copy(image[rootOff+mfsDirHdrSize:], entry)

	copy(image[int64(fileBlock)*int64(blockSize):], content)

	var power uint32
	for blockSize>>power != 1 {
		power++
	}
	fsSize := uint32(len(image))
	binary.LittleEndian.PutUint32(image[0:4], mfsMagic)
	binary.LittleEndian.PutUint32(image[4:8], mfsVersion)
	binary.LittleEndian.PutUint32(image[8:12], blockSize)
	binary.LittleEndian.PutUint32(image[12:16], power)
	binary.LittleEndian.PutUint32(image[16:20], crc32.ChecksumIEEE(image[blockSize:fsSize]))
	binary.LittleEndian.PutUint32(image[20:24], fsSize)

	return image
}
