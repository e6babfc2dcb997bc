package manifold

import (
	"errors"
	"fmt"
)

// ErrUnexpectedShape is returned when a response body does not have the expected
// JSON shape (for example an object where an array was expected).
var ErrUnexpectedShape = errors.New("unexpected response shape")

// APIError is a non-success HTTP status from the Manifold API
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("manifold %s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("manifold %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// IsShapeError reports whether err is a data-shape failure
func IsShapeError(err error) bool {
	return errors.Is(err, ErrUnexpectedShape)
}
