// Package envelope renders the JSON response envelopes of the insights API:
// {"data": ..., "meta": {...}} for success and {"errors": [...]} for failures.
// Bodies are encoded to bytes first so callers can measure and log them.
package envelope

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ContentType is the media type of every envelope.
const ContentType = "application/json"

// Meta holds response metadata.
type Meta map[string]any

// Document is a success envelope.
type Document struct {
	Data any  `json:"data"`
	Meta Meta `json:"meta,omitempty"`
}

// Error is one entry of an error envelope.
type Error struct {
	Status string       `json:"status"`
	Code   string       `json:"code"`
	Title  string       `json:"title"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorSource points at the request part that caused an error.
type ErrorSource struct {
	Parameter string `json:"parameter,omitempty"`
	Header    string `json:"header,omitempty"`
}

// ErrorDocument is a failure envelope.
type ErrorDocument struct {
	Errors []Error `json:"errors"`
}

// ErrorBuilder provides a fluent API for building Error objects.
type ErrorBuilder struct {
	err Error
}

// NewError starts an error with the HTTP status and a machine-readable code.
// The title is the status text.
func NewError(status int, code string) *ErrorBuilder {
	return &ErrorBuilder{err: Error{
		Status: strconv.Itoa(status),
		Code:   code,
		Title:  http.StatusText(status),
	}}
}

// Detail sets the human-readable explanation.
func (b *ErrorBuilder) Detail(detail string) *ErrorBuilder {
	b.err.Detail = detail
	return b
}

// Parameter marks the query parameter that caused the error.
func (b *ErrorBuilder) Parameter(name string) *ErrorBuilder {
	if b.err.Source == nil {
		b.err.Source = &ErrorSource{}
	}
	b.err.Source.Parameter = name
	return b
}

// Header marks the header that caused the error.
func (b *ErrorBuilder) Header(name string) *ErrorBuilder {
	if b.err.Source == nil {
		b.err.Source = &ErrorSource{}
	}
	b.err.Source.Header = name
	return b
}

// Build returns the constructed Error.
func (b *ErrorBuilder) Build() Error {
	return b.err
}

// StatusCode returns the HTTP status as an int.
func (e Error) StatusCode() int {
	code, _ := strconv.Atoi(e.Status)
	return code
}

// Encode renders a success envelope.
func Encode(data any, meta Meta) ([]byte, error) {
	return json.Marshal(Document{Data: data, Meta: meta})
}

// EncodeErrors renders a failure envelope.
func EncodeErrors(errs ...Error) []byte {
	body, err := json.Marshal(ErrorDocument{Errors: errs})
	if err != nil {
		// Error values only hold strings.
		return []byte(`{"errors":[{"status":"500","code":"internal_error","title":"Internal Server Error"}]}`)
	}
	return body
}

// Write sends a pre-encoded envelope.
func Write(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	w.Write(body)
}

// WriteErrors encodes and sends errors using the first error's status.
func WriteErrors(w http.ResponseWriter, errs ...Error) {
	status := http.StatusInternalServerError
	if len(errs) > 0 {
		if s := errs[0].StatusCode(); s != 0 {
			status = s
		}
	}
	Write(w, status, EncodeErrors(errs...))
}
