package orchestration

import (
	"context"
	"log/slog"

	"github.com/koscakluka/ema-realtime/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Controller is what a user interface drives. Every action is traced and
// logged, and state changes can be awaited or observed.
type Controller struct {
	session *Session
	logger  *slog.Logger
}

func NewController(opts ...SessionOption) *Controller {
	s := NewSession(opts...)
	return &Controller{session: s, logger: s.logger}
}

func (c *Controller) Connect(ctx context.Context) error {
	return c.traced(ctx, "connect", c.session.Connect)
}

func (c *Controller) StartConversation(ctx context.Context) error {
	return c.traced(ctx, "start conversation", c.session.StartConversation)
}

func (c *Controller) StopConversation(ctx context.Context) error {
	return c.traced(ctx, "stop conversation", c.session.StopConversation)
}

func (c *Controller) Disconnect(ctx context.Context) error {
	return c.traced(ctx, "disconnect", c.session.Disconnect)
}

func (c *Controller) Reconnect(ctx context.Context) error {
	return c.traced(ctx, "reconnect", c.session.Reconnect)
}

func (c *Controller) Commit(ctx context.Context) error {
	return c.traced(ctx, "commit", c.session.Commit)
}

func (c *Controller) SetAllowInterruptions(allow bool) { c.session.SetAllowInterruptions(allow) }
func (c *Controller) AllowInterruptions() bool         { return c.session.AllowInterruptions() }
func (c *Controller) State() SessionState              { return c.session.State() }
func (c *Controller) Transcript() string               { return c.session.Transcript() }

// Subscribe streams session events. Call the returned function to stop.
func (c *Controller) Subscribe(buffer int) (<-chan events.Event, func()) {
	return c.session.Subscribe(buffer)
}

// OnStateChange calls fn for every state change until ctx is done.
func (c *Controller) OnStateChange(ctx context.Context, fn func(from, to SessionState, reason string)) {
	ch, cancel := c.session.Subscribe(16)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				changed, isChange := ev.(events.SessionStateChanged)
				if !isChange {
					continue
				}
				from, _ := ParseSessionState(changed.From)
				to, _ := ParseSessionState(changed.To)
				fn(from, to, changed.Reason)
			}
		}
	}()
}

// AwaitState blocks until the session is in one of states.
func (c *Controller) AwaitState(ctx context.Context, states ...SessionState) (SessionState, error) {
	ch, cancel := c.session.Subscribe(16)
	defer cancel()

	matches := func(s SessionState) bool {
		for _, want := range states {
			if s == want {
				return true
			}
		}
		return false
	}

	if current := c.session.State(); matches(current) {
		return current, nil
	}
	for {
		select {
		case <-ctx.Done():
			return c.session.State(), ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return c.session.State(), ErrSessionClosed
			}
			if changed, isChange := ev.(events.SessionStateChanged); isChange {
				if to, _ := ParseSessionState(changed.To); matches(to) {
					return to, nil
				}
			}
		}
	}
}

func (c *Controller) Close() error { return c.session.Close() }

func (c *Controller) traced(ctx context.Context, action string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "controller "+action,
		trace.WithAttributes(attribute.String("session.state", c.session.State().String())))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn(action+" failed", slog.Any("error", err))
		return err
	}
	span.AddEvent("done", trace.WithAttributes(attribute.String("session.state", c.session.State().String())))
	return nil
}
