// Package s3err defines the S3 error taxonomy surfaced by the gateway and
// renders the S3 <Error> XML document.
package s3err

import (
	"encoding/xml"
	"errors"
	"io"
	"net/http"

	"github.com/swiftgate/swiftgate/internal/backend"
	"github.com/swiftgate/swiftgate/internal/s3xml"
)

type APIError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e APIError) Error() string {
	return e.Code + ": " + e.Message
}

var (
	AccessDenied     = APIError{Code: "AccessDenied", Message: "Access Denied", StatusCode: http.StatusForbidden}
	NoSuchBucket     = APIError{Code: "NoSuchBucket", Message: "The specified bucket does not exist.", StatusCode: http.StatusNotFound}
	NoSuchKey        = APIError{Code: "NoSuchKey", Message: "The specified key does not exist.", StatusCode: http.StatusNotFound}
	InvalidRange     = APIError{Code: "InvalidRange", Message: "The requested range is not satisfiable.", StatusCode: http.StatusRequestedRangeNotSatisfiable}
	MalformedXML     = APIError{Code: "MalformedXML", Message: "The XML you provided was not well-formed or did not validate against our published schema.", StatusCode: http.StatusBadRequest}
	MethodNotAllowed = APIError{Code: "MethodNotAllowed", Message: "The specified method is not allowed against this resource.", StatusCode: http.StatusMethodNotAllowed}
	NotImplemented   = APIError{Code: "NotImplemented", Message: "A header or query you provided implies functionality that is not implemented.", StatusCode: http.StatusNotImplemented}
	InternalError    = APIError{Code: "InternalError", Message: "We encountered an internal error. Please try again.", StatusCode: http.StatusInternalServerError}
	ServiceSlowDown  = APIError{Code: "SlowDown", Message: "Please reduce your request rate.", StatusCode: http.StatusServiceUnavailable}
)

// InvalidArgument builds the S3 InvalidArgument error carrying the offending
// argument name and value, as S3 reports it.
func InvalidArgument(name, value, message string) APIError {
	return APIError{
		Code:       "InvalidArgument",
		Message:    message + ": " + name + "=" + value,
		StatusCode: http.StatusBadRequest,
	}
}

type errorResponse struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource,omitempty"`
	RequestID string   `xml:"RequestId"`
}

// Write renders apiErr as an S3 error document on w.
func Write(w http.ResponseWriter, requestID string, apiErr APIError, resource string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(apiErr.StatusCode)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(errorResponse{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Resource:  resource,
		RequestID: requestID,
	})
}

// Map translates an error from the gateway core or the backend adapter into
// the client-facing taxonomy. Backend failures without a specific mapping
// surface as InternalError; they are never retried here.
func Map(err error) APIError {
	var (
		apiErr     APIError
		syntaxErr  *s3xml.SyntaxError
		invalidErr *s3xml.DocumentInvalidError
	)
	switch {
	case err == nil:
		return InternalError
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, backend.ErrNoSuchKey):
		return NoSuchKey
	case errors.Is(err, backend.ErrNoSuchContainer):
		return NoSuchBucket
	case errors.As(err, &syntaxErr), errors.As(err, &invalidErr):
		return MalformedXML
	default:
		return InternalError
	}
}
