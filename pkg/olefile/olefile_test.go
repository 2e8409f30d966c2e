package olefile

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureStream is one stream to place in a synthetic compound file.
type fixtureStream struct {
	path string
	data []byte
}

// fixtureEntry mirrors a directory entry while the fixture is assembled.
type fixtureEntry struct {
	name        string
	objectType  byte
	children    []int
	child       uint32
	rightSib    uint32
	startSector uint32
	size        uint32
	data        []byte
}

// buildCompound assembles a valid version-3 compound file (512-byte
// sectors, 4096-byte mini cutoff) containing the given streams. Streams
// smaller than the cutoff are placed in the mini stream, larger ones in
// regular sectors, so both read paths get exercised.
func buildCompound(t *testing.T, streams []fixtureStream) []byte {
	t.Helper()

	const sectorSize = 512
	const miniSectorSize = 64

	entries := []*fixtureEntry{{name: "Root Entry", objectType: typeRoot}}
	index := map[string]int{}

	lookup := func(path string, typ byte, parent int) int {
		if i, ok := index[path]; ok {
			return i
		}
		name := path[strings.LastIndex(path, "/")+1:]
		entries = append(entries, &fixtureEntry{name: name, objectType: typ})
		i := len(entries) - 1
		index[path] = i
		entries[parent].children = append(entries[parent].children, i)
		return i
	}

	for _, s := range streams {
		parts := strings.Split(s.path, "/")
		parent := 0
		for d := 0; d < len(parts)-1; d++ {
			parent = lookup(strings.Join(parts[:d+1], "/"), typeStorage, parent)
		}
		i := lookup(s.path, typeStream, parent)
		entries[i].data = s.data
		entries[i].size = uint32(len(s.data))
	}

	// Sibling linkage: first child hangs off the parent, the rest chain
	// through rightSib. In-order traversal then yields insertion order.
	for _, e := range entries {
		e.child, e.rightSib = noStream, noStream
	}
	for _, e := range entries {
		if len(e.children) == 0 {
			continue
		}
		e.child = uint32(e.children[0])
		for i := 0; i < len(e.children)-1; i++ {
			entries[e.children[i]].rightSib = uint32(e.children[i+1])
		}
	}

	// Mini stream assembly.
	var miniStream []byte
	var miniFAT []uint32
	for _, e := range entries[1:] {
		if e.objectType != typeStream || len(e.data) == 0 || len(e.data) >= 4096 {
			continue
		}
		start := len(miniFAT)
		nSectors := (len(e.data) + miniSectorSize - 1) / miniSectorSize
		for i := 0; i < nSectors-1; i++ {
			miniFAT = append(miniFAT, uint32(start+i+1))
		}
		miniFAT = append(miniFAT, secEndOfChain)
		miniStream = append(miniStream, e.data...)
		if pad := nSectors*miniSectorSize - len(e.data); pad > 0 {
			miniStream = append(miniStream, make([]byte, pad)...)
		}
		e.startSector = uint32(start)
	}

	// Sector plan: [0]=FAT, then directory, mini FAT, mini stream, then
	// each regular stream.
	numDirSectors := (len(entries)*dirEntrySize + sectorSize - 1) / sectorSize
	firstDirSector := uint32(1)
	next := 1 + numDirSectors

	firstMiniFAT := uint32(secEndOfChain)
	numMiniFATSectors := 0
	if len(miniFAT) > 0 {
		firstMiniFAT = uint32(next)
		numMiniFATSectors = (len(miniFAT)*4 + sectorSize - 1) / sectorSize
		next += numMiniFATSectors
	}

	miniStreamStart := uint32(secEndOfChain)
	numMiniStreamSectors := (len(miniStream) + sectorSize - 1) / sectorSize
	if numMiniStreamSectors > 0 {
		miniStreamStart = uint32(next)
		next += numMiniStreamSectors
	}

	for _, e := range entries[1:] {
		if e.objectType != typeStream || len(e.data) < 4096 {
			continue
		}
		e.startSector = uint32(next)
		next += (len(e.data) + sectorSize - 1) / sectorSize
	}
	totalSectors := next
	require.LessOrEqual(t, totalSectors, sectorSize/4, "fixture needs a single FAT sector")

	// FAT.
	fat := make([]uint32, sectorSize/4)
	for i := range fat {
		fat[i] = secFree
	}
	fat[0] = secFAT
	chain := func(start uint32, n int) {
		for i := 0; i < n-1; i++ {
			fat[start+uint32(i)] = start + uint32(i) + 1
		}
		fat[start+uint32(n)-1] = secEndOfChain
	}
	chain(firstDirSector, numDirSectors)
	if numMiniFATSectors > 0 {
		chain(firstMiniFAT, numMiniFATSectors)
	}
	if numMiniStreamSectors > 0 {
		chain(miniStreamStart, numMiniStreamSectors)
	}
	for _, e := range entries[1:] {
		if e.objectType == typeStream && len(e.data) >= 4096 {
			chain(e.startSector, (len(e.data)+sectorSize-1)/sectorSize)
		}
	}

	// Root entry holds the mini stream.
	entries[0].startSector = miniStreamStart
	entries[0].size = uint32(len(miniStream))

	buf := make([]byte, headerSize+totalSectors*sectorSize)

	// Header.
	copy(buf, compoundSignature)
	binary.LittleEndian.PutUint16(buf[24:], 0x3E) // minor version
	binary.LittleEndian.PutUint16(buf[26:], 3)    // major version
	binary.LittleEndian.PutUint16(buf[28:], 0xFFFE)
	binary.LittleEndian.PutUint16(buf[30:], 9) // sector shift
	binary.LittleEndian.PutUint16(buf[32:], 6) // mini sector shift
	binary.LittleEndian.PutUint32(buf[44:], 1) // one FAT sector
	binary.LittleEndian.PutUint32(buf[48:], firstDirSector)
	binary.LittleEndian.PutUint32(buf[56:], 4096)
	binary.LittleEndian.PutUint32(buf[60:], firstMiniFAT)
	binary.LittleEndian.PutUint32(buf[64:], uint32(numMiniFATSectors))
	binary.LittleEndian.PutUint32(buf[68:], secEndOfChain) // no DIFAT sectors
	binary.LittleEndian.PutUint32(buf[76:], 0)             // DIFAT[0] -> FAT sector 0
	for i := 1; i < 109; i++ {
		binary.LittleEndian.PutUint32(buf[76+i*4:], secFree)
	}

	sectorAt := func(n uint32) []byte {
		off := headerSize + int(n)*sectorSize
		return buf[off : off+sectorSize]
	}

	fatBuf := sectorAt(0)
	for i, v := range fat {
		binary.LittleEndian.PutUint32(fatBuf[i*4:], v)
	}

	// Directory sectors.
	dirBuf := make([]byte, numDirSectors*sectorSize)
	for i := range dirBuf {
		dirBuf[i] = 0
	}
	for i, e := range entries {
		b := dirBuf[i*dirEntrySize : (i+1)*dirEntrySize]
		units := utf16.Encode([]rune(e.name))
		for j, u := range units {
			binary.LittleEndian.PutUint16(b[j*2:], u)
		}
		binary.LittleEndian.PutUint16(b[64:], uint16((len(units)+1)*2))
		b[66] = e.objectType
		b[67] = 1 // black
		binary.LittleEndian.PutUint32(b[68:], noStream) // left sibling
		binary.LittleEndian.PutUint32(b[72:], e.rightSib)
		binary.LittleEndian.PutUint32(b[76:], e.child)
		binary.LittleEndian.PutUint32(b[116:], e.startSector)
		binary.LittleEndian.PutUint32(b[120:], e.size)
	}
	// Unused trailing entries must read as free.
	for i := len(entries) * dirEntrySize; i < len(dirBuf); i += dirEntrySize {
		binary.LittleEndian.PutUint16(dirBuf[i+64:], 0)
		binary.LittleEndian.PutUint32(dirBuf[i+68:], noStream)
		binary.LittleEndian.PutUint32(dirBuf[i+72:], noStream)
		binary.LittleEndian.PutUint32(dirBuf[i+76:], noStream)
	}
	copy(buf[headerSize+int(firstDirSector)*sectorSize:], dirBuf)

	if numMiniFATSectors > 0 {
		mf := buf[headerSize+int(firstMiniFAT)*sectorSize:]
		for i, v := range miniFAT {
			binary.LittleEndian.PutUint32(mf[i*4:], v)
		}
		for i := len(miniFAT); i < numMiniFATSectors*sectorSize/4; i++ {
			binary.LittleEndian.PutUint32(mf[i*4:], secFree)
		}
	}
	if numMiniStreamSectors > 0 {
		copy(buf[headerSize+int(miniStreamStart)*sectorSize:], miniStream)
	}
	for _, e := range entries[1:] {
		if e.objectType == typeStream && len(e.data) >= 4096 {
			copy(buf[headerSize+int(e.startSector)*sectorSize:], e.data)
		}
	}

	return buf
}

func writeFixture(t *testing.T, streams []fixtureStream) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.txm")
	require.NoError(t, os.WriteFile(path, buildCompound(t, streams), 0644))
	return path
}

func testStreams() []fixtureStream {
	big := bytes.Repeat([]byte{0xAB, 0xCD}, 3000) // forces regular sectors
	return []fixtureStream{
		{"ImageInfo/ImageWidth", []byte{0x10, 0x00, 0x00, 0x00}},
		{"ImageInfo/ImageHeight", []byte{0x08, 0x00, 0x00, 0x00}},
		{"ImageInfo/Date", []byte("07/15/2025 12:34:56 padding")},
		{"ImageData1/Image1", big},
		{"ReconSettings/StitchParams/AutoStitchSettings/Enabled", []byte{1}},
	}
}

func TestOpenAndReadStreams(t *testing.T) {
	path := writeFixture(t, testStreams())

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	width, err := f.ReadStream("ImageInfo/ImageWidth")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x00, 0x00, 0x00}, width)

	// Deeply nested path built at call time.
	enabled, err := f.ReadStream("ReconSettings/StitchParams/AutoStitchSettings/Enabled")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, enabled)

	// Regular-sector stream round-trips at full length.
	img, err := f.ReadStream("ImageData1/Image1")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xAB, 0xCD}, 3000), img)
}

func TestReadStreamIdempotent(t *testing.T) {
	f, err := Open(writeFixture(t, testStreams()))
	require.NoError(t, err)
	defer f.Close()

	first, err := f.ReadStream("ImageInfo/Date")
	require.NoError(t, err)
	second, err := f.ReadStream("ImageInfo/Date")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExistsAgreesWithReadStream(t *testing.T) {
	f, err := Open(writeFixture(t, testStreams()))
	require.NoError(t, err)
	defer f.Close()

	for _, s := range f.ListStreams() {
		assert.True(t, f.Exists(s), "listed stream %q must exist", s)
		_, err := f.ReadStream(s)
		assert.NoError(t, err)
	}

	// A storage is not a stream.
	assert.False(t, f.Exists("ImageInfo"))
	_, err = f.ReadStream("ImageInfo")
	assert.ErrorIs(t, err, ErrStreamNotFound)

	assert.False(t, f.Exists("ImageInfo/NoSuchField"))
	_, err = f.ReadStream("ImageInfo/NoSuchField")
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestListStreamsDiscoveryOrder(t *testing.T) {
	f, err := Open(writeFixture(t, testStreams()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{
		"ImageInfo/ImageWidth",
		"ImageInfo/ImageHeight",
		"ImageInfo/Date",
		"ImageData1/Image1",
		"ReconSettings/StitchParams/AutoStitchSettings/Enabled",
	}, f.ListStreams())
}

func TestOpenRejectsNonCompound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.txm")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("junk"), 200), 0644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrNotCompound)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.txm"))
	assert.Error(t, err)
}

func TestReadAfterClose(t *testing.T) {
	f, err := Open(writeFixture(t, testStreams()))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close()) // idempotent

	_, err = f.ReadStream("ImageInfo/ImageWidth")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDirEntry64BitSize(t *testing.T) {
	b := make([]byte, dirEntrySize)
	units := utf16.Encode([]rune("Image1"))
	for j, u := range units {
		binary.LittleEndian.PutUint16(b[j*2:], u)
	}
	binary.LittleEndian.PutUint16(b[64:], uint16((len(units)+1)*2))
	b[66] = typeStream
	binary.LittleEndian.PutUint32(b[68:], noStream)
	binary.LittleEndian.PutUint32(b[72:], noStream)
	binary.LittleEndian.PutUint32(b[76:], noStream)
	binary.LittleEndian.PutUint64(b[120:], 0x1_0000_0010)

	// 4096-byte-sector containers carry full 64-bit stream sizes.
	wide, err := parseDirEntry(b, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1_0000_0010), wide.size)

	// 512-byte-sector writers may leave garbage in the high dword.
	narrow, err := parseDirEntry(b, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10), narrow.size)
}

func TestLeadingSlashNormalized(t *testing.T) {
	f, err := Open(writeFixture(t, testStreams()))
	require.NoError(t, err)
	defer f.Close()

	data, err := f.ReadStream("/ImageInfo/ImageWidth")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x00, 0x00, 0x00}, data)
}
