package olefile

// Source is the read-only view of an opened container that the metadata
// and volume packages consume. *File implements it; tests substitute an
// in-memory fake.
type Source interface {
	// Exists reports whether a stream is present at the given path.
	// It agrees with ReadStream: true exactly when ReadStream succeeds.
	Exists(path string) bool

	// ReadStream returns the full contents of the stream at the given
	// path. Paths use "/" separators and match entry names exactly.
	ReadStream(path string) ([]byte, error)

	// ListStreams returns the full paths of all streams in the container
	// in discovery order.
	ListStreams() []string
}
