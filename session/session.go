// Package session runs a respondent through a multi-step form. Every change
// re-evaluates the form's rules and is persisted with a revision number so a
// write computed from stale state is rejected instead of overwriting newer answers.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/formrules/rules"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStaleRevision   = errors.New("session was modified concurrently")
	ErrUnknownField    = errors.New("unknown field")
	ErrFieldDisabled   = errors.New("field is disabled")
	ErrFieldHidden     = errors.New("field is hidden")
	ErrStepIncomplete  = errors.New("required fields are missing")
	ErrNotLastStep     = errors.New("form can only be submitted from the last step")
	ErrSubmitted       = errors.New("session already submitted")
)

// IncompleteError lists the visible required fields that still need an answer.
// It matches ErrStepIncomplete with errors.Is.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s: %s", ErrStepIncomplete, strings.Join(e.Missing, ", "))
}

func (e *IncompleteError) Is(target error) bool {
	return target == ErrStepIncomplete
}

// Session is the persisted progress of one respondent
type Session struct {
	ID          string          `json:"id"`
	FormID      string          `json:"formId"`
	FormVersion int             `json:"formVersion"`
	Answers     rules.AnswerSet `json:"answers"`
	StepIndex   int             `json:"stepIndex"`
	Revision    int64           `json:"revision"`
	Submitted   bool            `json:"submitted,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Store persists sessions.
//
// Save writes s only if the stored copy still carries revision prev; prev is 0 for a
// session that must not exist yet. A mismatch returns ErrStaleRevision.
type Store interface {
	Save(ctx context.Context, s *Session, prev int64) error
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// FieldView is a visible field of the active step with its computed state
type FieldView struct {
	rules.FormField
	Disabled bool `json:"disabled"`
	Forced   bool `json:"forced,omitempty"`
	Value    any  `json:"value,omitempty"`
}

// View is what a client renders for the active step
type View struct {
	SessionID   string          `json:"sessionId"`
	FormID      string          `json:"formId"`
	FormVersion int             `json:"formVersion"`
	Revision    int64           `json:"revision"`
	StepIndex   int             `json:"stepIndex"`
	StepCount   int             `json:"stepCount"`
	Block       rules.Block     `json:"block"`
	Fields      []FieldView     `json:"fields"`
	Missing     []string        `json:"missing"`
	IsFirst     bool            `json:"isFirst"`
	IsLast      bool            `json:"isLast"`
	CanAdvance  bool            `json:"canAdvance"`
	CanSubmit   bool            `json:"canSubmit"`
	Submitted   bool            `json:"submitted"`
	Messages    []rules.Message `json:"messages"`
	Warnings    []rules.Warning `json:"warnings"`
}

// Submission is the payload produced by a successful submit
type Submission struct {
	SessionID   string         `json:"sessionId"`
	FormID      string         `json:"formId"`
	FormVersion int            `json:"formVersion"`
	Payload     map[string]any `json:"payload"`
	SubmittedAt time.Time      `json:"submittedAt"`
}
