package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a filtered catalog query has no match
	ErrNotFound = errors.New("not found")

	// ErrVersionParse wraps malformed upstream version tokens
	ErrVersionParse = errors.New("malformed version")

	// ErrCorruptArtifact marks a package file that failed archive inspection
	ErrCorruptArtifact = errors.New("corrupt package archive")

	// ErrIntegrity marks a published file whose content does not match the index
	ErrIntegrity = errors.New("integrity verification failed")
)

// VersionParseError reports a version token that is not a dotted numeric version
type VersionParseError struct {
	Product string
	Version string
	Err     error
}

func (e *VersionParseError) Error() string {
	return fmt.Sprintf("%s: cannot parse version %q: %v", e.Product, e.Version, e.Err)
}

// Unwrap lets errors.Is match ErrVersionParse
func (e *VersionParseError) Unwrap() error {
	return ErrVersionParse
}

// BuildFailure reports an artifact that could not be packaged
type BuildFailure struct {
	Artifact       string
	Beta           bool
	DownloadCaused bool
	Output         string
	Err            error
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("build of %s failed: %v", e.Artifact, e.Err)
}

func (e *BuildFailure) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the run may continue after this failure.
// Only beta builds broken by a bad download are skipped.
func (e *BuildFailure) Recoverable() bool {
	return e.Beta && e.DownloadCaused
}

// IntegrityError reports a hash or size mismatch between index and file
type IntegrityError struct {
	File     string
	Field    string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s mismatch (index %s, file %s)", e.File, e.Field, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}
