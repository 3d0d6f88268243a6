package types

import (
	"errors"
	"fmt"
)

var errPromptRequired = errors.New("prompt is required")

type imageError struct {
	index int
}

func (e *imageError) Error() string {
	return fmt.Sprintf("image %d has no data", e.index)
}
