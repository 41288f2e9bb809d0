package store

import "fmt"

// Collections recorded per run.
const (
	CollectionLibraries = "libraries"
	CollectionReleases  = "releases"
	CollectionIndex     = "index"
)

// File is the recorded state of one file.
type File struct {
	Path     string
	Size     int64
	Checksum string
}

// Snapshot is everything one engine pass published.
type Snapshot struct {
	ID       string
	Session  string
	Scenario string
	Label    string
	Seq      int64

	// Records maps a collection name to its records keyed by record key.
	Records map[string]map[string]map[string]any
	Files   []File
}

// Add stores rec under collection and key.
func (s *Snapshot) Add(collection, key string, rec map[string]any) {
	if s.Records == nil {
		s.Records = make(map[string]map[string]map[string]any)
	}
	if s.Records[collection] == nil {
		s.Records[collection] = make(map[string]map[string]any)
	}
	s.Records[collection][key] = rec
}

// Collection returns the records of one collection.
func (s *Snapshot) Collection(name string) []map[string]any {
	recs := s.Records[name]
	out := make([]map[string]any, 0, len(recs))
	for _, k := range sortedKeys(recs) {
		out = append(out, recs[k])
	}
	return out
}

// File returns the recorded file at path.
func (s *Snapshot) File(path string) (File, bool) {
	for _, f := range s.Files {
		if f.Path == path {
			return f, true
		}
	}
	return File{}, false
}

// RunInfo summarizes a recorded run.
type RunInfo struct {
	ID       string
	Session  string
	Scenario string
	Label    string
	Seq      int64
	Records  map[string]int
	Files    int
}

// NotFoundError is returned when no snapshot has the requested label.
type NotFoundError struct {
	Session string
	Label   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("snapshot %q not recorded in session %s", e.Label, e.Session)
}

// DuplicateLabelError is returned when a label is recorded twice in a session.
type DuplicateLabelError struct {
	Session string
	Label   string
}

func (e *DuplicateLabelError) Error() string {
	return fmt.Sprintf("snapshot %q already recorded in session %s", e.Label, e.Session)
}
