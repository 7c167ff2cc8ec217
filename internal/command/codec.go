package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedBody is wrapped by every body decode or validation failure.
	ErrMalformedBody = errors.New("malformed command body")
	// ErrBodyTooLarge is wrapped by a Channel that cannot carry a body this big.
	ErrBodyTooLarge = errors.New("command body too large")
)

// Validator is implemented by request bodies with constraints beyond JSON shape.
type Validator interface {
	Validate() error
}

// Validate rejects negative windows.
func (r *RollViewLogRequest) Validate() error {
	if r.SkipLineNum < 0 {
		return fmt.Errorf("skipLineNum must be non-negative (got %d)", r.SkipLineNum)
	}
	if r.Limit < 0 {
		return fmt.Errorf("limit must be non-negative (got %d)", r.Limit)
	}
	return nil
}

// Decode unmarshals a command body into v. Unknown fields are rejected.
func Decode(body []byte, v any) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformedBody)
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields() // Strict parsing

	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
	}
	return nil
}

// Encode marshals v into a command body.
func Encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode body: %w", err)
	}
	return body, nil
}

// NewRequest builds a request Command of type t with v as its body.
// The opaque is left to the sender.
func NewRequest(t Type, v any) (*Command, error) {
	body, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return &Command{Type: t, Body: body}, nil
}

// NewResponse builds a response Command answering opaque.
func NewResponse(t Type, opaque uint64, v any) (*Command, error) {
	body, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return &Command{Type: t, Opaque: opaque, Body: body}, nil
}
