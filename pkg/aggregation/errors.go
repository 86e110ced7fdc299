package aggregation

import (
	"errors"
	"fmt"
)

// ErrInvalidPipelineStage is returned for malformed or misplaced stages
var ErrInvalidPipelineStage = errors.New("invalid pipeline stage")

// StageError reports which stage of a pipeline was rejected
type StageError struct {
	Index int    // position in the pipeline
	Stage string // stage name, e.g. "$geoNear"
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: stage %d (%s): %v", ErrInvalidPipelineStage, e.Index, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Is(target error) bool {
	return target == ErrInvalidPipelineStage
}

func stageErrorf(index int, stage, format string, args ...interface{}) *StageError {
	return &StageError{Index: index, Stage: stage, Err: fmt.Errorf(format, args...)}
}
