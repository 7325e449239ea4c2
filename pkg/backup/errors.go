package backup

import "fmt"

// SourceNotFoundError reports a CreateBackup call whose local source
// artifact does not exist.
type SourceNotFoundError struct {
	Path string
}

func (e *SourceNotFoundError) Error() string {
	return "backup source artifact not found: " + e.Path
}

// BackupNotFoundError reports an id that matches nothing in the
// destination's listing.
type BackupNotFoundError struct {
	ID string
}

func (e *BackupNotFoundError) Error() string {
	return "backup not found: " + e.ID
}

// TransportError wraps a destination I/O failure (upload, download, list,
// delete).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backup transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
