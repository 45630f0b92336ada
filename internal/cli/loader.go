package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/roach88/cellflow/internal/notebook"
)

// Error codes for CLI responses.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No scenario files found
	ErrCodeLoadFailed  = "E004" // Notebook or scenario failed to parse
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeFormat      = "E006" // Unsupported notebook format
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeApply       = "E008" // Notebook could not be applied to a runtime
	ErrCodeSettle      = "E009" // Runtime did not settle

	ErrCodeJournal     = "E010" // Journal open/read/write error
	ErrCodeRunNotFound = "E011" // No such journaled run

	ErrCodeInvalid    = "E020" // Notebook has diagnostics
	ErrCodeTestFailed = "E030" // One or more scenarios failed
)

// LoadError is a notebook loading failure with its CLI error code.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadNotebook reads the notebook at path. Failures are *LoadError.
func LoadNotebook(path string) (*notebook.Notebook, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("notebook not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "error accessing notebook", Err: err}
	}
	if info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a file: %s", path)}
	}

	nb, err := notebook.Load(path)
	if errors.Is(err, notebook.ErrUnsupportedFormat) {
		return nil, &LoadError{Code: ErrCodeFormat, Message: "unsupported notebook format (want .yaml, .yml or .cue)", Err: err}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "failed to load notebook", Err: err}
	}
	return nb, nil
}
