package redirect

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrFieldMissing   = errors.New("field missing")
	ErrPathUnresolved = errors.New("target path unresolved")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)
