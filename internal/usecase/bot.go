package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"travel-time-bot/internal/dialog"
	"travel-time-bot/internal/domain"
	"travel-time-bot/internal/integrations/identity"
)

// Engine is the dialog runtime the bot drives.
type Engine interface {
	Register(d dialog.Dialog) error
	AddTrigger(t dialog.Trigger) error
	Dispatch(ctx context.Context, msg domain.Activity) error
	Begin(ctx context.Context, addr domain.Address, name string, args any) error
	Resume(ctx context.Context, addr domain.Address, provider string, response any) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, payload any) error
}

type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (domain.Profile, error)
	Logout(u *domain.UserData)
}

type StateSigner interface {
	Sign(addr domain.Address) (string, error)
	Verify(state string) (domain.Address, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Bot owns the conversation scripts and routes inbound activities to them.
type Bot struct {
	engine   Engine
	sender   dialog.Sender
	queue    Enqueuer
	identity IdentityProvider
	states   StateSigner
	baseURL  string
	logger   *slog.Logger
}

type Option func(*Bot)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBot registers every dialog and global trigger on engine. baseURL is the
// public origin serving the sign-in routes.
func NewBot(engine Engine, sender dialog.Sender, q Enqueuer, idp IdentityProvider, states StateSigner, baseURL string, opts ...Option) (*Bot, error) {
	if engine == nil {
		return nil, errors.New("usecase: dialog engine must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: sender must not be nil")
	}
	if q == nil {
		return nil, errors.New("usecase: queue must not be nil")
	}
	if idp == nil {
		return nil, errors.New("usecase: identity provider must not be nil")
	}
	if states == nil {
		return nil, errors.New("usecase: state signer must not be nil")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("usecase: base url must not be empty")
	}
	b := &Bot{
		engine:   engine,
		sender:   sender,
		queue:    q,
		identity: idp,
		states:   states,
		baseURL:  baseURL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, d := range b.dialogs() {
		if err := engine.Register(d); err != nil {
			return nil, fmt.Errorf("usecase: register %q: %w", d.Name, err)
		}
	}
	for _, t := range globalTriggers() {
		if err := engine.AddTrigger(t); err != nil {
			return nil, fmt.Errorf("usecase: add trigger %q: %w", t.Dialog, err)
		}
	}
	return b, nil
}

// HandleActivity routes one inbound activity. Unsupported activity types are
// accepted and ignored.
func (b *Bot) HandleActivity(ctx context.Context, a domain.Activity) error {
	if strings.TrimSpace(a.Conversation.ID) == "" {
		return newError(ErrorInvalidInput, "missing_conversation", nil)
	}
	switch a.Type {
	case domain.ActivityMessage:
		return classify("dispatch_error", b.engine.Dispatch(ctx, a))
	case domain.ActivityTrigger:
		return b.handleTrigger(ctx, a)
	case domain.ActivityConversationUpdate:
		return b.handleMembersAdded(ctx, a)
	default:
		b.logger.DebugContext(ctx, "ignoring activity", "type", a.Type)
		return nil
	}
}

type hookRegisteredArgs struct {
	SubscriptionID string `json:"subscriptionId"`
}

func (b *Bot) handleTrigger(ctx context.Context, a domain.Activity) error {
	var payload domain.TriggerPayload
	if len(a.Value) > 0 {
		if err := json.Unmarshal(a.Value, &payload); err != nil {
			return newError(ErrorInvalidInput, "malformed_trigger_value", err)
		}
	}
	addr := a.Address()
	if payload.Address != nil {
		addr = *payload.Address
	}

	switch payload.Action {
	case domain.TriggerWebhookRegistered:
		b.logger.InfoContext(ctx, "hook registration completed", "conversation", addr.Conversation.ID)
		err := b.engine.Begin(ctx, addr, dialogHookRegistered, hookRegisteredArgs{SubscriptionID: payload.SubscriptionID})
		return classify("begin_hook_registered", err)
	case domain.TriggerNotificationReceived, domain.TriggerNotificationRecieved:
		b.logger.InfoContext(ctx, "meeting request received", "conversation", addr.Conversation.ID, "resource", payload.Resource)
		err := b.engine.Begin(ctx, addr, dialogMeetingRequested, payload.MeetingRequest)
		return classify("begin_meeting_requested", err)
	default:
		reply := domain.NewReply(a.Address(), domain.ActivityMessage, "default message: "+a.Text)
		if err := b.sender.Send(ctx, reply); err != nil {
			return newError(ErrorUpstream, "send_default_reply", err)
		}
		return nil
	}
}

// handleMembersAdded greets a conversation once when anyone other than the
// bot joins it.
func (b *Bot) handleMembersAdded(ctx context.Context, a domain.Activity) error {
	for _, m := range a.MembersAdded {
		if m.ID != a.Recipient.ID {
			return classify("begin_intro", b.engine.Begin(ctx, a.Address(), dialogIntro, nil))
		}
	}
	return nil
}

// SignInURL returns the provider consent page for a state issued by the
// /signin dialog.
func (b *Bot) SignInURL(_ context.Context, state string) (string, error) {
	if strings.TrimSpace(state) == "" {
		return "", newError(ErrorInvalidInput, "missing_state", nil)
	}
	if _, err := b.states.Verify(state); err != nil {
		return "", newError(ErrorUnauthorized, "invalid_state", err)
	}
	return b.identity.AuthCodeURL(state), nil
}

// CompleteSignIn redeems the provider callback and resumes the waiting
// /signin dialog for the conversation named in state.
func (b *Bot) CompleteSignIn(ctx context.Context, code, state string) error {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(state) == "" {
		return newError(ErrorInvalidInput, "missing_code_or_state", nil)
	}
	addr, err := b.states.Verify(state)
	if err != nil {
		return newError(ErrorUnauthorized, "invalid_state", err)
	}
	profile, err := b.identity.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, identity.ErrNoDisplayName) {
			return newError(ErrorUnauthorized, "no_display_name", err)
		}
		return newError(ErrorUpstream, "token_exchange_error", err)
	}
	if err := b.engine.Resume(ctx, addr, identity.ProviderAADv2, profile); err != nil {
		if errors.Is(err, dialog.ErrNotAwaiting) {
			return newError(ErrorConflict, "signin_not_pending", err)
		}
		return classify("resume_signin", err)
	}
	return nil
}

// classify maps engine failures onto use-case errors.
func classify(reason string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, dialog.ErrConflict) {
		return newError(ErrorConflict, "state_conflict", err)
	}
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) {
		return newError(ErrorUpstream, reason, err)
	}
	return newError(ErrorInternal, reason, err)
}
