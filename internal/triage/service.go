package triage

import (
	"context"
	"errors"
	"iter"
	"slices"

	"github.com/google/uuid"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// ErrMissingMessages rejects a request without messages before any event is
// produced.
var ErrMissingMessages = errors.New("missing 'messages' field in request body")

// Notifier is told about every successful referral.
type Notifier interface {
	NotifyReferral(ctx context.Context, ref *Referral) error
}

// Service is the business boundary for triage operations.
type Service struct {
	engine   *Engine
	notifier Notifier
	logger   log.Logger
}

// NewService creates a new triage service. notifier may be nil.
func NewService(engine *Engine, notifier Notifier, logger log.Logger) *Service {
	if engine == nil {
		panic(xerrors.New("triage.NewService: engine is nil"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		engine:   engine,
		notifier: notifier,
		logger:   logger,
	}
}

// Handle validates req and returns the event stream of its turn. The caller's
// slices are copied, so the request may be reused once Handle returns.
func (s *Service) Handle(ctx context.Context, req *ChatRequest) (iter.Seq[Event], error) {
	if req == nil || len(req.Messages) == 0 {
		s.submitted("rejected")
		return nil, ErrMissingMessages
	}
	s.submitted("accepted")

	turn := &Turn{
		CorrelationID: uuid.NewString(),
		Messages:      slices.Clone(req.Messages),
		Accumulated:   slices.Clone(req.AccumulatedSymptoms),
	}
	ctx = log.WithContext(ctx, s.logger.With("correlation_id", turn.CorrelationID))

	events := s.engine.Run(ctx, turn)
	if s.notifier == nil {
		return events, nil
	}
	return func(yield func(Event) bool) {
		for ev := range events {
			if ev.Referral != nil {
				s.notify(ctx, ev.Referral)
			}
			if !yield(ev) {
				return
			}
		}
	}, nil
}

// notify runs detached from the request so a disconnect does not drop it.
func (s *Service) notify(ctx context.Context, ref *Referral) {
	go func(ctx context.Context) {
		err := s.notifier.NotifyReferral(ctx, ref)
		if hook := s.engine.hooks.OnNotify; hook != nil {
			hook(err != nil)
		}
		if err != nil {
			s.logger.Error(ctx, err, "referral notification failed",
				"correlation_id", ref.CorrelationID,
				"specialty", ref.Specialty,
			)
		}
	}(context.WithoutCancel(ctx))
}

func (s *Service) submitted(result string) {
	if hook := s.engine.hooks.OnSubmit; hook != nil {
		hook(result)
	}
}
