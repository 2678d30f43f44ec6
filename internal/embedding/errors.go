package embedding

import (
	"errors"
	"fmt"
)

var (
	// ErrModelUnavailable matches load failures: missing runtime, download
	// failure, corrupt weights, unreachable model server.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrEncode matches failures raised while running inference.
	ErrEncode = errors.New("encode failed")
)

// ModelUnavailableError reports that the model could not be loaded.
type ModelUnavailableError struct {
	Model string
	Err   error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %s not available: %v", e.Model, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

func (e *ModelUnavailableError) Is(target error) bool { return target == ErrModelUnavailable }

// EncodeError reports an inference failure on an already loaded model.
type EncodeError struct {
	Model string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("embedding generation failed: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func (e *EncodeError) Is(target error) bool { return target == ErrEncode }
