package error

import "net/http"

type SessionNotConnectedError string

func (err SessionNotConnectedError) Error() string {
	return string(err)
}

func (err SessionNotConnectedError) ErrCode() string {
	return "SESSION_NOT_CONNECTED"
}

func (err SessionNotConnectedError) StatusCode() int {
	return http.StatusBadRequest
}
