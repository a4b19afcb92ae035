package pipeline

import (
	"errors"
	"fmt"

	"github.com/garyjia/nfe-danfe/internal/danfe"
	"github.com/garyjia/nfe-danfe/internal/label"
	"github.com/garyjia/nfe-danfe/internal/nfe"
	"github.com/garyjia/nfe-danfe/internal/qrcode"
)

// Stage names a step of the single-invoice pipeline
type Stage string

const (
	StageParse     Stage = "parse"
	StageNormalize Stage = "normalize"
	StageCompose   Stage = "compose"
	StageDerive    Stage = "derive"
	StageRender    Stage = "render"
	StagePersist   Stage = "persist"
)

// Kind classifies a stage failure
type Kind string

const (
	KindMalformedInput   Kind = "MalformedInput"
	KindInvalidAccessKey Kind = "InvalidAccessKey"
	KindInvalidRequest   Kind = "InvalidRequest"
	KindRenderFailure    Kind = "RenderFailure"
	KindPersistFailure   Kind = "PersistFailure"
)

// StageError reports which stage failed and why
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Wrap classifies err for stage. An existing StageError is returned as is.
func Wrap(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Stage: stage, Kind: classify(stage, err), Err: err}
}

func classify(stage Stage, err error) Kind {
	switch {
	case errors.Is(err, nfe.ErrMalformedXML), errors.Is(err, nfe.ErrNotInvoice):
		return KindMalformedInput
	case errors.Is(err, qrcode.ErrInvalidAccessKey),
		errors.Is(err, label.ErrInvalidAccessKey),
		errors.Is(err, danfe.ErrInvalidAccessKey):
		return KindInvalidAccessKey
	case errors.Is(err, label.ErrInvalidCount):
		return KindInvalidRequest
	}

	switch stage {
	case StagePersist:
		return KindPersistFailure
	case StageParse, StageNormalize:
		return KindMalformedInput
	}
	return KindRenderFailure
}

// KindOf returns the kind of a pipeline error, or "" for foreign errors
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
