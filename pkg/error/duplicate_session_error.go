package error

import "net/http"

type DuplicateSessionError string

func (err DuplicateSessionError) Error() string {
	return string(err)
}

func (err DuplicateSessionError) ErrCode() string {
	return "DUPLICATE_SESSION"
}

func (err DuplicateSessionError) StatusCode() int {
	return http.StatusConflict
}
