package sweph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDamagedFile is the kind of every structural inconsistency found in
	// an ephemeris file.
	ErrDamagedFile = errors.New("damaged ephemeris file")

	// ErrUnspecifiedFile is the kind of failures on the time range probe.
	ErrUnspecifiedFile = errors.New("unspecified ephemeris file error")

	// ErrClosed is returned by operations on a closed File or Store.
	ErrClosed = errors.New("ephemeris file is closed")

	// ErrOutOfRange is returned when no file covers the requested date.
	ErrOutOfRange = errors.New("date outside of ephemeris range")

	// ErrNotFound is returned when no search path holds the requested file.
	ErrNotFound = errors.New("ephemeris file not found")

	// ErrNoBody is returned when a file does not carry the requested body.
	ErrNoBody = errors.New("body not in ephemeris file")
)

// FileError describes a failure tied to one ephemeris file.
//
// Code is a diagnostic breadcrumb such as "(5)" for a CRC mismatch; it is
// meant for humans reading logs, branch on Kind with errors.Is instead.
type FileError struct {
	Kind error
	File string
	Code string
	Msg  string
	Err  error
}

func (e *FileError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Code != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Code)
	}
	if e.File != "" {
		sb.WriteString(" ")
		sb.WriteString(e.File)
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *FileError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func damaged(file, code string, err error, format string, args ...any) *FileError {
	return &FileError{Kind: ErrDamagedFile, File: file, Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

func unspecified(file string, err error, format string, args ...any) *FileError {
	return &FileError{Kind: ErrUnspecifiedFile, File: file, Msg: fmt.Sprintf(format, args...), Err: err}
}

// DamageCode returns the diagnostic sub-code of err, or "" when err is not
// a FileError.
func DamageCode(err error) string {
	var fe *FileError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
