package common

import (
	"fmt"
	"strings"
)

// ConnectionError reports a failure to reach or authenticate to a database.
type ConnectionError struct {
	Engine EngineType
	Addr   string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("%s: connection to %s failed: %v", e.Engine, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s: connection failed: %v", e.Engine, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// UnsupportedEngineError reports an engine name the factory does not know.
type UnsupportedEngineError struct {
	Type string
}

func (e *UnsupportedEngineError) Error() string {
	names := make([]string, 0, 9)
	for _, engine := range Engines() {
		names = append(names, string(engine))
	}
	return fmt.Sprintf("unsupported database engine %q (supported: %s)", e.Type, strings.Join(names, ", "))
}

// UnsafeQueryError reports a statement rejected under safe mode.
type UnsafeQueryError struct {
	Query string
}

func (e *UnsafeQueryError) Error() string {
	return fmt.Sprintf("query rejected in safe mode (read-only statements only): %s", truncate(e.Query, 120))
}

// BackupExecutionError reports a dump or restore that failed or produced no
// usable artifact. Output carries captured tool stderr when a subprocess
// was involved.
type BackupExecutionError struct {
	Engine EngineType
	Output string
	Err    error
}

func (e *BackupExecutionError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s backup failed: %v: %s", e.Engine, e.Err, truncate(e.Output, 400))
	}
	return fmt.Sprintf("%s backup failed: %v", e.Engine, e.Err)
}

func (e *BackupExecutionError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
