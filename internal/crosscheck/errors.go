package crosscheck

import "fmt"

// URLPrefixError reports a URL that does not start with the base URL.
type URLPrefixError struct {
	Source string
	Ref    string
	URL    string
	Base   string
}

func (e *URLPrefixError) Error() string {
	return fmt.Sprintf("%s %s: url %q does not start with %q", e.Source, e.Ref, e.URL, e.Base)
}

// PathEscapeError reports a URL whose relative path leaves the archive root.
type PathEscapeError struct {
	Source string
	Ref    string
	Path   string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("%s %s: archive path %q escapes the libraries folder", e.Source, e.Ref, e.Path)
}

// MissingArchiveError reports a URL whose archive does not exist.
type MissingArchiveError struct {
	Source string
	Ref    string
	Path   string
}

func (e *MissingArchiveError) Error() string {
	return fmt.Sprintf("%s %s: archive %s does not exist", e.Source, e.Ref, e.Path)
}

// SizeMismatchError reports a recorded size that differs from the file size.
type SizeMismatchError struct {
	Source   string
	Ref      string
	Path     string
	Recorded int64
	OnDisk   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%s %s: recorded size %d, archive %s has %d bytes", e.Source, e.Ref, e.Recorded, e.Path, e.OnDisk)
}

// ChecksumMismatchError reports a recorded checksum that differs from the
// digest of the file.
type ChecksumMismatchError struct {
	Source   string
	Ref      string
	Path     string
	Recorded string
	OnDisk   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("%s %s: recorded checksum %s, archive %s has %s", e.Source, e.Ref, e.Recorded, e.Path, e.OnDisk)
}

// ForbiddenPayloadError reports an archive carrying a file the engine must
// never publish.
type ForbiddenPayloadError struct {
	Archive string
	Entry   string
	Rule    string
}

func (e *ForbiddenPayloadError) Error() string {
	return fmt.Sprintf("archive %s contains %s (rule %s)", e.Archive, e.Entry, e.Rule)
}
