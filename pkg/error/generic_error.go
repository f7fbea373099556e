package error

// GenericError is implemented by every error kind in this package so the
// REST layer and recovery middleware can map errors to HTTP semantics.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}
