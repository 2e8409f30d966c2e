package olefile

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// Directory entry object types.
const (
	typeUnknown = 0
	typeStorage = 1
	typeStream  = 2
	typeRoot    = 5
)

// dirEntry is one 128-byte directory entry.
type dirEntry struct {
	name        string
	objectType  byte
	leftSib     uint32
	rightSib    uint32
	child       uint32
	startSector uint32
	size        uint64
}

// loadDirectory reads the directory chain and indexes every entry by its
// full path.
func (f *File) loadDirectory(firstDirSector uint32) error {
	data, err := f.readChain(firstDirSector, -1)
	if err != nil {
		return fmt.Errorf("reading directory: %w", err)
	}

	wideSize := f.sectorSize == 4096
	for off := 0; off+dirEntrySize <= len(data); off += dirEntrySize {
		e, err := parseDirEntry(data[off:off+dirEntrySize], wideSize)
		if err != nil {
			return err
		}
		f.entries = append(f.entries, e)
	}
	if len(f.entries) == 0 || f.entries[0].objectType != typeRoot {
		return fmt.Errorf("%w: missing root directory entry", ErrCorrupt)
	}

	visited := make(map[uint32]bool)
	return f.walkSiblings(f.entries[0].child, "", visited)
}

// walkSiblings does an in-order traversal of one level's sibling tree,
// descending into storages. In-order keeps discovery order deterministic.
func (f *File) walkSiblings(id uint32, prefix string, visited map[uint32]bool) error {
	if id == noStream {
		return nil
	}
	if int(id) >= len(f.entries) {
		return fmt.Errorf("%w: directory entry %d out of range", ErrCorrupt, id)
	}
	if visited[id] {
		return fmt.Errorf("%w: directory cycle at entry %d", ErrCorrupt, id)
	}
	visited[id] = true

	e := f.entries[id]
	if err := f.walkSiblings(e.leftSib, prefix, visited); err != nil {
		return err
	}

	path := prefix + e.name
	switch e.objectType {
	case typeStream:
		f.byPath[path] = e
		f.streams = append(f.streams, path)
	case typeStorage:
		f.byPath[path] = e
		if err := f.walkSiblings(e.child, path+"/", visited); err != nil {
			return err
		}
	}

	return f.walkSiblings(e.rightSib, prefix, visited)
}

// parseDirEntry decodes one 128-byte entry. Stream sizes are 64-bit
// only in 4096-byte-sector containers; 512-byte-sector writers may
// leave garbage in the high dword, so it is masked off.
func parseDirEntry(b []byte, wideSize bool) (*dirEntry, error) {
	nameLen := int(le16(b[64:66]))
	if nameLen > 64 || nameLen%2 != 0 {
		return nil, fmt.Errorf("%w: directory name length %d", ErrCorrupt, nameLen)
	}
	var name string
	if nameLen >= 2 {
		units := make([]uint16, nameLen/2-1) // drop the trailing NUL
		for i := range units {
			units[i] = le16(b[i*2 : i*2+2])
		}
		name = string(utf16.Decode(units))
	}

	size := le64(b[120:128])
	if !wideSize {
		size &= 0xFFFFFFFF
	}

	return &dirEntry{
		name:        name,
		objectType:  b[66],
		leftSib:     le32(b[68:72]),
		rightSib:    le32(b[72:76]),
		child:       le32(b[76:80]),
		startSector: le32(b[116:120]),
		size:        size,
	}, nil
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	return uint64(le32(b[:4])) | uint64(le32(b[4:8]))<<32
}

// normalizePath strips leading/trailing separators so callers can build
// paths like "RecipePoint0/AcquisitionSettings/ExpTime" freely.
func normalizePath(path string) string {
	path = strings.TrimPrefix(path, "/")
	return strings.TrimSuffix(path, "/")
}
