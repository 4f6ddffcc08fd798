// Package b2b provides request, response and error value types for the B2B
// insights API.
package b2b

// Endpoint paths served to B2B clients.
const (
	EndpointCategories = "/insights/categories"
	EndpointTrends     = "/insights/trends"
)

// Request represents an inbound B2B call (value type).
// It is extracted from HTTP and passed to the insight service.
type Request struct {
	APIKey   string
	Endpoint string
	Params   map[string]string // raw query parameters as supplied

	RemoteIP  string
	UserAgent string
	TraceID   string
}

// Response is a successful, fully encoded answer (value type).
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// ErrorResponse represents an error to return to the client (value type).
type ErrorResponse struct {
	Status  int
	Code    string
	Message string
	Param   string // offending query parameter, if any
}

// Error taxonomy. Messages are deliberately generic.
var (
	// ErrUnauthorized covers missing, malformed, unknown, suspended and revoked credentials alike.
	ErrUnauthorized = ErrorResponse{
		Status:  401,
		Code:    "unauthorized",
		Message: "Invalid or missing API credential",
	}
	ErrRateLimited = ErrorResponse{
		Status:  429,
		Code:    "rate_limit_exceeded",
		Message: "Daily request allowance exhausted",
	}
	ErrNotFound = ErrorResponse{
		Status:  404,
		Code:    "not_found",
		Message: "Unknown insights endpoint",
	}
	ErrInternal = ErrorResponse{
		Status:  500,
		Code:    "internal_error",
		Message: "An internal error occurred",
	}
)

// BadRequest builds a 400 error with a caller-facing validation message.
func BadRequest(param, message string) *ErrorResponse {
	return &ErrorResponse{
		Status:  400,
		Code:    "bad_request",
		Message: message,
		Param:   param,
	}
}

// Error implements error so responses can be wrapped and logged.
func (e ErrorResponse) Error() string {
	return e.Code + ": " + e.Message
}

// KindOf maps an endpoint path to the insight it serves.
// The second return is false for paths that serve no insight.
func KindOf(endpoint string) (string, bool) {
	switch endpoint {
	case EndpointCategories:
		return "categories", true
	case EndpointTrends:
		return "trends", true
	}
	return "", false
}
