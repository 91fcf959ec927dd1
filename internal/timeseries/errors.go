package timeseries

import "fmt"

// InvalidQueryError reports a query that violates the store contract, such as
// selecting both or neither of the two query modes.
type InvalidQueryError struct {
	Reason string
}

// Error implements the error interface
func (e *InvalidQueryError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("invalid query: %s", e.Reason)
}

// Is makes every InvalidQueryError match ErrInvalidQuery.
func (e *InvalidQueryError) Is(target error) bool {
	_, ok := target.(*InvalidQueryError)
	return ok
}

var ErrInvalidQuery = &InvalidQueryError{}
