package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// FieldError is one entry of a validation error's detail list.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func (f FieldError) String() string {
	if len(f.Loc) == 0 {
		return f.Msg
	}
	return strings.Join(f.Loc, ".") + ": " + f.Msg
}

// APIError is returned for every failed call to the auth endpoints.
// StatusCode is zero when the request never got a response.
type APIError struct {
	StatusCode int
	Message    string
	Details    []FieldError
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("api error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is an APIError for a rejected
// credential.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}

func transportError(err error) *APIError {
	return &APIError{Message: "request failed", Err: err}
}

// parseError reads a FastAPI style error body. "detail" is either a
// message string or a list of field errors.
func parseError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}

	detail := gjson.GetBytes(body, "detail")
	switch {
	case detail.Type == gjson.String:
		apiErr.Message = detail.String()
	case detail.IsArray():
		detail.ForEach(func(_, item gjson.Result) bool {
			fe := FieldError{
				Msg:  item.Get("msg").String(),
				Type: item.Get("type").String(),
			}
			item.Get("loc").ForEach(func(_, loc gjson.Result) bool {
				fe.Loc = append(fe.Loc, loc.String())
				return true
			})
			apiErr.Details = append(apiErr.Details, fe)
			return true
		})
		if len(apiErr.Details) > 0 {
			apiErr.Message = apiErr.Details[0].String()
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(statusCode)
	}
	return apiErr
}
