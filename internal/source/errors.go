package source

import (
	"errors"
	"fmt"
)

var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrDownload         = errors.New("download failed")
	ErrExtract          = errors.New("extraction failed")
	ErrCheckout         = errors.New("checkout failed")
	ErrPatch            = errors.New("patch failed")
)

// AcquisitionError is any failure to produce a usable source tree. Kind is
// one of the Err* sentinels above and matches with errors.Is.
type AcquisitionError struct {
	Project string
	Kind    error
	Err     error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Project, e.Kind, e.Err)
}

func (e *AcquisitionError) Unwrap() []error { return []error{e.Kind, e.Err} }

func acqErr(project string, kind, err error) *AcquisitionError {
	return &AcquisitionError{Project: project, Kind: kind, Err: err}
}

// ChecksumError describes a downloaded file whose hash did not verify.
type ChecksumError struct {
	URL      string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.URL, e.Expected, e.Actual)
}

func (e *ChecksumError) Is(target error) bool { return target == ErrChecksumMismatch }

// PatchError names the patch that did not apply.
type PatchError struct {
	Patch string
	Err   error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("applying %s: %v", e.Patch, e.Err)
}

func (e *PatchError) Unwrap() error { return e.Err }
