package error

import "net/http"

type AuthenticationInProgressError string

func (err AuthenticationInProgressError) Error() string {
	return string(err)
}

func (err AuthenticationInProgressError) ErrCode() string {
	return "AUTHENTICATION_IN_PROGRESS"
}

func (err AuthenticationInProgressError) StatusCode() int {
	return http.StatusConflict
}
