package profile

import "errors"

var (
	ErrBusy            = errors.New("another profile import or export is in progress")
	ErrNoArchiver      = errors.New("no archiver available for format")
	ErrUnsafePath      = errors.New("unsafe archive entry path")
	ErrNothingToExport = errors.New("nothing to export")
	ErrUnknownFormat   = errors.New("unrecognised archive format")
)
