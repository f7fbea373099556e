package error

import "net/http"

type ProviderConnectionError string

func (err ProviderConnectionError) Error() string {
	return string(err)
}

func (err ProviderConnectionError) ErrCode() string {
	return "PROVIDER_CONNECTION_ERROR"
}

func (err ProviderConnectionError) StatusCode() int {
	return http.StatusInternalServerError
}
