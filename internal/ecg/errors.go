package ecg

import "fmt"

// ProcessingError reports a fault inside a signal analyzer. Stage names the
// pipeline step that failed.
type ProcessingError struct {
	Stage string
	Err   error
}

// Error implements the error interface
func (e *ProcessingError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("processing failed at %s", e.Stage)
	}
	return fmt.Sprintf("processing failed at %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is makes every ProcessingError match ErrProcessing.
func (e *ProcessingError) Is(target error) bool {
	_, ok := target.(*ProcessingError)
	return ok
}

var ErrProcessing = &ProcessingError{}

func stageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Stage: stage, Err: err}
}
