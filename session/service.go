package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/formrules/internal/logger"
	"github.com/liamcoop/formrules/internal/metrics"
	"github.com/liamcoop/formrules/navigator"
	"github.com/liamcoop/formrules/rules"
)

// Forms supplies schemas and evaluates them. *formmanager.Manager implements it.
type Forms interface {
	GetForm(formID string) (*rules.Schema, error)
	EvaluateForm(schema *rules.Schema, answers rules.AnswerSet, mode rules.Mode) rules.Result
}

// Service applies respondent actions to sessions.
// Calls for the same session are serialized within a process; across processes the
// store's revision check rejects the slower writer.
type Service struct {
	forms   Forms
	store   Store
	metrics *metrics.Metrics
	locks   sessionLocks
	now     func() time.Time
}

// NewService creates a service. m may be nil.
func NewService(forms Forms, store Store, m *metrics.Metrics) *Service {
	return &Service{
		forms:   forms,
		store:   store,
		metrics: m,
		now:     time.Now,
	}
}

// snapshot is one evaluation of a session against a single schema version
type snapshot struct {
	schema *rules.Schema
	nav    *navigator.Navigator
	result rules.Result
}

// Start opens a session on the first step of formID
func (s *Service) Start(ctx context.Context, formID string) (*View, error) {
	schema, err := s.forms.GetForm(formID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:          uuid.New().String(),
		FormID:      formID,
		FormVersion: schema.Version,
		Answers:     rules.AnswerSet{},
		Revision:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Save(ctx, sess, 0); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	snap := s.evaluate(schema, sess)
	s.metrics.RecordSessionEvent("started")
	logger.Debug("session started", "session_id", sess.ID, "form_id", formID)
	return buildView(sess, snap), nil
}

// View recomputes field states for the session's current answers
func (s *Service) View(ctx context.Context, id string) (*View, error) {
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshot(sess)
	if err != nil {
		return nil, err
	}
	return buildView(sess, snap), nil
}

// SetAnswer records value for fieldID. A nil value clears the answer.
// Hidden and disabled fields reject changes.
func (s *Service) SetAnswer(ctx context.Context, id, fieldID string, value any) (*View, error) {
	return s.mutate(ctx, id, "answered", func(sess *Session, snap *snapshot) error {
		if !hasField(snap.schema, fieldID) {
			return fmt.Errorf("field %s: %w", fieldID, ErrUnknownField)
		}
		st := snap.result.State(fieldID)
		if !st.Visible {
			return fmt.Errorf("field %s: %w", fieldID, ErrFieldHidden)
		}
		if !navigator.AcceptsChange(snap.result.States, fieldID) {
			return fmt.Errorf("field %s: %w", fieldID, ErrFieldDisabled)
		}

		if sess.Answers == nil {
			sess.Answers = rules.AnswerSet{}
		}
		if value == nil {
			delete(sess.Answers, fieldID)
		} else {
			sess.Answers[fieldID] = value
		}
		return nil
	})
}

// Next advances one step. It fails with an *IncompleteError while visible required
// fields of the active step are unanswered. On the last step it only checks
// completeness; the step index stays where it is.
func (s *Service) Next(ctx context.Context, id string) (*View, error) {
	return s.mutate(ctx, id, "next", func(sess *Session, snap *snapshot) error {
		if missing := snap.nav.MissingRequired(snap.result.States, sess.Answers); len(missing) > 0 {
			return &IncompleteError{Missing: missing}
		}
		sess.StepIndex = snap.nav.Next()
		return nil
	})
}

// Prev goes back one step. Going back never requires answers.
func (s *Service) Prev(ctx context.Context, id string) (*View, error) {
	return s.mutate(ctx, id, "prev", func(sess *Session, snap *snapshot) error {
		sess.StepIndex = snap.nav.Prev()
		return nil
	})
}

// GoTo jumps to step, clamped to the form's steps
func (s *Service) GoTo(ctx context.Context, id string, step int) (*View, error) {
	return s.mutate(ctx, id, "goto", func(sess *Session, snap *snapshot) error {
		sess.StepIndex = snap.nav.GoTo(step)
		return nil
	})
}

// Submit finalizes the session from the last step once every visible required field
// in the form is answered, and returns the payload
func (s *Service) Submit(ctx context.Context, id string) (*Submission, error) {
	var sub *Submission
	_, err := s.mutate(ctx, id, "submitted", func(sess *Session, snap *snapshot) error {
		if !snap.nav.IsLast() {
			return ErrNotLastStep
		}
		if missing := snap.nav.MissingRequiredAll(snap.result.States, sess.Answers); len(missing) > 0 {
			return &IncompleteError{Missing: missing}
		}

		sess.Submitted = true
		sub = &Submission{
			SessionID:   sess.ID,
			FormID:      sess.FormID,
			FormVersion: snap.schema.Version,
			Payload:     snap.nav.Payload(snap.result.States, sess.Answers),
			SubmittedAt: s.now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("session submitted", "session_id", id, "form_id", sub.FormID, "fields", len(sub.Payload))
	return sub, nil
}

// Delete discards a session
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()
	return s.store.Delete(ctx, id)
}

// mutate loads a session, applies fn against a fresh evaluation and saves the result
// with the next revision
func (s *Service) mutate(ctx context.Context, id, event string, fn func(*Session, *snapshot) error) (*View, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Submitted {
		return nil, fmt.Errorf("session %s: %w", id, ErrSubmitted)
	}

	snap, err := s.snapshot(sess)
	if err != nil {
		return nil, err
	}
	if err := fn(sess, snap); err != nil {
		return nil, err
	}

	prev := sess.Revision
	sess.Revision++
	sess.FormVersion = snap.schema.Version
	sess.UpdatedAt = s.now()
	if err := s.store.Save(ctx, sess, prev); err != nil {
		return nil, err
	}
	s.metrics.RecordSessionEvent(event)

	// Answers may have changed, so the view is computed from the saved state
	return buildView(sess, s.evaluate(snap.schema, sess)), nil
}

func (s *Service) snapshot(sess *Session) (*snapshot, error) {
	schema, err := s.forms.GetForm(sess.FormID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	return s.evaluate(schema, sess), nil
}

// evaluate also clamps the stored step index in case the form lost steps
func (s *Service) evaluate(schema *rules.Schema, sess *Session) *snapshot {
	nav := navigator.New(schema.Blocks, schema.Fields)
	sess.StepIndex = nav.GoTo(sess.StepIndex)
	return &snapshot{
		schema: schema,
		nav:    nav,
		result: s.forms.EvaluateForm(schema, sess.Answers, rules.ModeRuntime),
	}
}

func buildView(sess *Session, snap *snapshot) *View {
	states := snap.result.States
	fields := snap.nav.CurrentFields(states)

	views := make([]FieldView, 0, len(fields))
	for _, f := range fields {
		st := snap.result.State(f.ID)
		fv := FieldView{FormField: f, Disabled: st.Disabled, Forced: st.Forced, Value: sess.Answers[f.ID]}
		if st.Forced {
			fv.Value = st.ForcedValue
		}
		views = append(views, fv)
	}

	missing := snap.nav.MissingRequired(states, sess.Answers)
	if missing == nil {
		missing = []string{}
	}

	return &View{
		SessionID:   sess.ID,
		FormID:      sess.FormID,
		FormVersion: snap.schema.Version,
		Revision:    sess.Revision,
		StepIndex:   snap.nav.StepIndex(),
		StepCount:   snap.nav.StepCount(),
		Block:       snap.nav.Step().Block,
		Fields:      views,
		Missing:     missing,
		IsFirst:     snap.nav.IsFirst(),
		IsLast:      snap.nav.IsLast(),
		CanAdvance:  !snap.nav.IsLast() && len(missing) == 0,
		CanSubmit:   !sess.Submitted && snap.nav.CanSubmit(states, sess.Answers),
		Submitted:   sess.Submitted,
		Messages:    snap.result.Messages,
		Warnings:    snap.result.Warnings,
	}
}

func hasField(schema *rules.Schema, fieldID string) bool {
	for _, f := range schema.Fields {
		if f.ID == fieldID {
			return true
		}
	}
	return false
}

// sessionLocks hands out one mutex per session id and drops it once unused
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sessionLock)
	}
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.Lock()
	return func() {
		sl.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
