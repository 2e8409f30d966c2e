package olefile

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Compound file sector constants.
const (
	headerSize   = 512
	dirEntrySize = 128

	secFree       = 0xFFFFFFFF
	secEndOfChain = 0xFFFFFFFE
	secFAT        = 0xFFFFFFFD
	secDIFAT      = 0xFFFFFFFC
	maxRegSector  = 0xFFFFFFFA

	noStream = 0xFFFFFFFF
)

var compoundSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// File represents an open compound file.
type File struct {
	path string
	file *os.File
	r    io.ReaderAt

	sectorSize     int
	miniSectorSize int
	miniCutoff     uint32

	fat     []uint32
	miniFAT []uint32

	entries []*dirEntry
	byPath  map[string]*dirEntry
	streams []string // stream paths in discovery order

	miniStream []byte // contents of the root entry's stream
	closed     bool
}

// Open opens a compound file for reading and parses its directory.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}

	cf, err := newFile(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return cf, nil
}

func newFile(path string, r io.ReaderAt) (*File, error) {
	header := make([]byte, headerSize)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrNotCompound, err)
	}
	for i, b := range compoundSignature {
		if header[i] != b {
			return nil, ErrNotCompound
		}
	}

	sectorShift := binary.LittleEndian.Uint16(header[30:32])
	miniShift := binary.LittleEndian.Uint16(header[32:34])
	if sectorShift != 9 && sectorShift != 12 {
		return nil, fmt.Errorf("%w: sector shift %d", ErrCorrupt, sectorShift)
	}

	cf := &File{
		path:           path,
		r:              r,
		sectorSize:     1 << sectorShift,
		miniSectorSize: 1 << miniShift,
		miniCutoff:     binary.LittleEndian.Uint32(header[56:60]),
		byPath:         make(map[string]*dirEntry),
	}
	if f, ok := r.(*os.File); ok {
		cf.file = f
	}

	numFATSectors := binary.LittleEndian.Uint32(header[44:48])
	firstDirSector := binary.LittleEndian.Uint32(header[48:52])
	firstMiniFAT := binary.LittleEndian.Uint32(header[60:64])
	numMiniFAT := binary.LittleEndian.Uint32(header[64:68])
	firstDIFAT := binary.LittleEndian.Uint32(header[68:72])

	fatSectors, err := cf.loadDIFAT(header, firstDIFAT, numFATSectors)
	if err != nil {
		return nil, err
	}
	if err := cf.loadFAT(fatSectors); err != nil {
		return nil, err
	}
	if err := cf.loadMiniFAT(firstMiniFAT, numMiniFAT); err != nil {
		return nil, err
	}
	if err := cf.loadDirectory(firstDirSector); err != nil {
		return nil, err
	}
	return cf, nil
}

// Close releases the underlying file handle. Safe to call more than once.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}

// Path returns the path the container was opened from.
func (f *File) Path() string {
	return f.path
}

// Exists reports whether a stream exists at the given path.
func (f *File) Exists(path string) bool {
	e, ok := f.byPath[normalizePath(path)]
	return ok && e.objectType == typeStream
}

// ListStreams returns the full paths of all streams in discovery order.
func (f *File) ListStreams() []string {
	out := make([]string, len(f.streams))
	copy(out, f.streams)
	return out
}

// ReadStream reads the entire stream at the given path into memory.
func (f *File) ReadStream(path string) ([]byte, error) {
	if f.closed {
		return nil, ErrClosed
	}
	e, ok := f.byPath[normalizePath(path)]
	if !ok || e.objectType != typeStream {
		return nil, fmt.Errorf("%w: %q", ErrStreamNotFound, path)
	}
	if e.size == 0 {
		return []byte{}, nil
	}
	if e.size < uint64(f.miniCutoff) {
		return f.readMiniStream(e)
	}
	data, err := f.readChain(e.startSector, int(e.size))
	if err != nil {
		return nil, fmt.Errorf("reading stream %q: %w", path, err)
	}
	return data, nil
}

// readSector reads one regular sector.
func (f *File) readSector(n uint32) ([]byte, error) {
	buf := make([]byte, f.sectorSize)
	off := int64(headerSize) + int64(n)*int64(f.sectorSize)
	if _, err := f.r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("%w: sector %d: %v", ErrCorrupt, n, err)
	}
	return buf, nil
}

// readChain follows a FAT chain from start, returning at most size bytes
// (size < 0 reads the whole chain).
func (f *File) readChain(start uint32, size int) ([]byte, error) {
	var data []byte
	sector := start
	for steps := 0; sector != secEndOfChain; steps++ {
		if sector > maxRegSector || steps > len(f.fat) {
			return nil, fmt.Errorf("%w: bad FAT chain from sector %d", ErrCorrupt, start)
		}
		buf, err := f.readSector(sector)
		if err != nil {
			return nil, err
		}
		data = append(data, buf...)
		if int(sector) >= len(f.fat) {
			return nil, fmt.Errorf("%w: sector %d outside FAT", ErrCorrupt, sector)
		}
		sector = f.fat[sector]
	}
	if size >= 0 && len(data) > size {
		data = data[:size]
	}
	return data, nil
}

// readMiniStream extracts a small stream from the mini stream by following
// its mini-FAT chain.
func (f *File) readMiniStream(e *dirEntry) ([]byte, error) {
	if f.miniStream == nil {
		root := f.entries[0]
		ms, err := f.readChain(root.startSector, int(root.size))
		if err != nil {
			return nil, fmt.Errorf("reading mini stream: %w", err)
		}
		f.miniStream = ms
	}

	data := make([]byte, 0, e.size)
	sector := e.startSector
	for steps := 0; sector != secEndOfChain; steps++ {
		if sector > maxRegSector || steps > len(f.miniFAT) {
			return nil, fmt.Errorf("%w: bad mini-FAT chain for %q", ErrCorrupt, e.name)
		}
		off := int(sector) * f.miniSectorSize
		end := off + f.miniSectorSize
		if end > len(f.miniStream) {
			end = len(f.miniStream)
		}
		if off >= end {
			return nil, fmt.Errorf("%w: mini sector %d beyond mini stream", ErrCorrupt, sector)
		}
		data = append(data, f.miniStream[off:end]...)
		if int(sector) >= len(f.miniFAT) {
			return nil, fmt.Errorf("%w: mini sector %d outside mini FAT", ErrCorrupt, sector)
		}
		sector = f.miniFAT[sector]
	}
	if len(data) > int(e.size) {
		data = data[:e.size]
	}
	return data, nil
}

// loadDIFAT collects the FAT sector list from the header DIFAT and any
// DIFAT overflow sectors.
func (f *File) loadDIFAT(header []byte, firstDIFAT, numFATSectors uint32) ([]uint32, error) {
	var fatSectors []uint32
	for i := 0; i < 109; i++ {
		s := binary.LittleEndian.Uint32(header[76+i*4 : 80+i*4])
		if s <= maxRegSector {
			fatSectors = append(fatSectors, s)
		}
	}

	perSector := f.sectorSize/4 - 1
	sector := firstDIFAT
	for steps := 0; sector != secEndOfChain && sector <= maxRegSector; steps++ {
		if steps > 1<<16 {
			return nil, fmt.Errorf("%w: DIFAT chain does not terminate", ErrCorrupt)
		}
		buf, err := f.readSector(sector)
		if err != nil {
			return nil, err
		}
		for i := 0; i < perSector; i++ {
			s := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
			if s <= maxRegSector {
				fatSectors = append(fatSectors, s)
			}
		}
		sector = binary.LittleEndian.Uint32(buf[perSector*4:])
	}

	if uint32(len(fatSectors)) < numFATSectors {
		return nil, fmt.Errorf("%w: DIFAT lists %d FAT sectors, header declares %d",
			ErrCorrupt, len(fatSectors), numFATSectors)
	}
	return fatSectors[:numFATSectors], nil
}

func (f *File) loadFAT(fatSectors []uint32) error {
	f.fat = make([]uint32, 0, len(fatSectors)*(f.sectorSize/4))
	for _, s := range fatSectors {
		buf, err := f.readSector(s)
		if err != nil {
			return err
		}
		for i := 0; i+4 <= len(buf); i += 4 {
			f.fat = append(f.fat, binary.LittleEndian.Uint32(buf[i:i+4]))
		}
	}
	return nil
}

func (f *File) loadMiniFAT(first, count uint32) error {
	if first > maxRegSector || count == 0 {
		return nil
	}
	data, err := f.readChain(first, int(count)*f.sectorSize)
	if err != nil {
		return fmt.Errorf("reading mini FAT: %w", err)
	}
	f.miniFAT = make([]uint32, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		f.miniFAT = append(f.miniFAT, binary.LittleEndian.Uint32(data[i:i+4]))
	}
	return nil
}
