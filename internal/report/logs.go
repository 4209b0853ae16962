package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// AppendLog is a plain-text file that is only ever appended to. Each write
// opens, appends and closes the file so nothing is lost if the process dies.
type AppendLog struct {
	path string
	mu   sync.Mutex
}

// NewAppendLog returns a log writing to path, creating the parent directory.
func NewAppendLog(path string) (*AppendLog, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create log dir %s", dir)
		}
	}
	return &AppendLog{path: path}, nil
}

// Path returns the file path.
func (l *AppendLog) Path() string {
	return l.path
}

// Append writes text as a single append.
func (l *AppendLog) Append(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %s", l.path)
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "append %s", l.path)
	}
	return f.Close()
}

// RunLog records every engine invocation.
type RunLog struct {
	*AppendLog
}

// Executing records that bundle is about to run.
func (l RunLog) Executing(bundle string) error {
	return l.Append(fmt.Sprintf("Executing: %s\n", bundle))
}

// Executed records the return code of bundle.
func (l RunLog) Executed(bundle string, code int) error {
	return l.Append(fmt.Sprintf("Executed: %s with return code %d\n", bundle, code))
}

// ErrorLog records diagnostics of failing engine invocations.
type ErrorLog struct {
	*AppendLog
}

// FormatFailure renders one failure record.
func FormatFailure(bundle string, code int, failures, tail []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error executing plans %s with returncode %d\n", bundle, code)
	for _, line := range failures {
		b.WriteString("> " + line + "\n")
	}
	for _, line := range tail {
		b.WriteString("# " + line + "\n")
	}
	return b.String()
}

// Record appends one failure record in a single write.
func (l ErrorLog) Record(bundle string, code int, failures, tail []string) error {
	return l.Append(FormatFailure(bundle, code, failures, tail))
}
