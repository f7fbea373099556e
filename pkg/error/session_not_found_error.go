package error

import "net/http"

type SessionNotFoundError string

func (err SessionNotFoundError) Error() string {
	return string(err)
}

func (err SessionNotFoundError) ErrCode() string {
	return "SESSION_NOT_FOUND"
}

func (err SessionNotFoundError) StatusCode() int {
	return http.StatusNotFound
}
