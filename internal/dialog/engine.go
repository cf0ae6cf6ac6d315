package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"travel-time-bot/internal/domain"
)

// RootDialog is started when a message arrives and no dialog is active.
const RootDialog = "/"

// Engine holds the dialog registry and drives conversations through it.
type Engine struct {
	store    Store
	sender   Sender
	logger   *slog.Logger
	root     string
	dialogs  map[string]*Dialog
	triggers []Trigger
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRoot overrides the dialog started for messages on an empty stack.
func WithRoot(name string) Option {
	return func(e *Engine) {
		e.root = name
	}
}

// New creates an Engine backed by store that delivers replies through sender.
func New(store Store, sender Sender, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("dialog: store must not be nil")
	}
	if sender == nil {
		return nil, errors.New("dialog: sender must not be nil")
	}
	e := &Engine{
		store:   store,
		sender:  sender,
		logger:  slog.Default(),
		root:    RootDialog,
		dialogs: make(map[string]*Dialog),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Register adds d to the registry.
func (e *Engine) Register(d Dialog) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("dialog: name must not be empty")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("dialog: %q has no steps", d.Name)
	}
	if _, ok := e.dialogs[d.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, d.Name)
	}
	e.dialogs[d.Name] = &d
	return nil
}

// AddTrigger appends a global interrupt. Triggers are evaluated in the order
// they were added.
func (e *Engine) AddTrigger(t Trigger) error {
	if t.Pattern == nil {
		return errors.New("dialog: trigger pattern must not be nil")
	}
	if _, ok := e.dialogs[t.Dialog]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDialog, t.Dialog)
	}
	e.triggers = append(e.triggers, t)
	return nil
}

// Dispatch processes a user message.
func (e *Engine) Dispatch(ctx context.Context, msg domain.Activity) error {
	addr := msg.Address()
	t, err := e.load(ctx, addr, msg)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(msg.Text)

	if routed, err := e.interrupt(ctx, t, text); err != nil {
		return err
	} else if routed {
		return e.commit(ctx, t)
	}

	top := t.top()
	switch {
	case top == nil:
		f, err := e.newFrame(e.root, nil)
		if err != nil {
			return err
		}
		t.push(f)
		if err := e.run(ctx, t, Result{}); err != nil {
			return err
		}
	case top.Prompt != nil:
		p := top.Prompt
		if p.Kind == PromptExternal {
			// the issuing step rebuilds its card so links inside it are fresh
			rewind(top)
			if err := e.run(ctx, t, Result{}); err != nil {
				return err
			}
			break
		}
		resp, ok := recognize(p, text)
		if !ok {
			e.logger.DebugContext(ctx, "prompt response not recognized", "dialog", top.Dialog, "kind", p.Kind)
			t.send(render(addr, p, true))
			break
		}
		top.Prompt = nil
		if err := e.run(ctx, t, Result{Response: resp}); err != nil {
			return err
		}
	default:
		if err := e.run(ctx, t, Result{Response: text}); err != nil {
			return err
		}
	}
	return e.commit(ctx, t)
}

// Begin starts dialog name for the conversation at addr, discarding any
// active stack. It is used for proactive conversations.
func (e *Engine) Begin(ctx context.Context, addr domain.Address, name string, args any) error {
	f, err := e.newFrame(name, args)
	if err != nil {
		return err
	}
	t, err := e.load(ctx, addr, proactiveMessage(addr))
	if err != nil {
		return err
	}
	t.conv.Stack = nil
	t.push(f)
	if err := e.run(ctx, t, Result{}); err != nil {
		return err
	}
	return e.commit(ctx, t)
}

// Resume completes an external prompt registered under provider.
func (e *Engine) Resume(ctx context.Context, addr domain.Address, provider string, response any) error {
	t, err := e.load(ctx, addr, proactiveMessage(addr))
	if err != nil {
		return err
	}
	top := t.top()
	if top == nil || top.Prompt == nil || top.Prompt.Kind != PromptExternal || top.Prompt.Provider != provider {
		return ErrNotAwaiting
	}
	top.Prompt = nil
	if err := e.run(ctx, t, Result{Response: response}); err != nil {
		return err
	}
	return e.commit(ctx, t)
}

func (e *Engine) newFrame(name string, args any) (Frame, error) {
	if _, ok := e.dialogs[name]; !ok {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownDialog, name)
	}
	f := Frame{Dialog: name}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return Frame{}, fmt.Errorf("dialog: encode args for %q: %w", name, err)
		}
		f.Args = string(raw)
	}
	return f, nil
}

// interrupt checks stack-scoped actions (innermost first) and then global
// triggers. It reports whether text was routed.
func (e *Engine) interrupt(ctx context.Context, t *turn, text string) (bool, error) {
	if text == "" {
		return false, nil
	}
	for i := len(t.conv.Stack) - 1; i >= 0; i-- {
		owner := t.conv.Stack[i]
		d := e.dialogs[owner.Dialog]
		if d == nil {
			continue
		}
		for _, a := range d.Actions {
			if a.Pattern == nil || !a.Pattern.MatchString(text) {
				continue
			}
			e.logger.DebugContext(ctx, "dialog action matched", "action", a.Name, "dialog", owner.Dialog)
			switch a.Kind {
			case ReloadAction:
				if a.Message != "" {
					t.send(domain.NewReply(t.addr, domain.ActivityMessage, a.Message))
				}
				t.conv.Stack = t.conv.Stack[:i]
				t.push(Frame{Dialog: owner.Dialog, Args: owner.Args})
			default:
				f, err := e.newFrame(a.Dialog, nil)
				if err != nil {
					return false, err
				}
				t.push(f)
			}
			return true, e.run(ctx, t, Result{})
		}
	}
	for _, tr := range e.triggers {
		if !tr.Pattern.MatchString(text) {
			continue
		}
		e.logger.DebugContext(ctx, "trigger matched", "dialog", tr.Dialog)
		f, err := e.newFrame(tr.Dialog, nil)
		if err != nil {
			return false, err
		}
		if tr.Mode == Replace {
			t.conv.Stack = nil
		}
		t.push(f)
		return true, e.run(ctx, t, Result{})
	}
	return false, nil
}

// run executes steps until the conversation waits for input or the stack
// empties.
func (e *Engine) run(ctx context.Context, t *turn, r Result) error {
	for {
		top := t.top()
		if top == nil {
			return nil
		}
		d, ok := e.dialogs[top.Dialog]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownDialog, top.Dialog)
		}
		if top.Step >= len(d.Steps) {
			// waterfall exhausted: end with whatever the last step produced
			t.pop()
			var ok bool
			if r, ok = e.resumeParent(t, r); !ok {
				return nil
			}
			continue
		}

		step := d.Steps[top.Step]
		top.Step++
		s := &Session{engine: e, turn: t, args: top.Args}
		if err := step(ctx, s, r); err != nil {
			return fmt.Errorf("dialog: %s step %d: %w", d.Name, top.Step-1, err)
		}

		switch s.ctl {
		case controlNone:
			return nil
		case controlPrompt:
			top.Prompt = s.prompt
			t.send(render(t.addr, s.prompt, false))
			return nil
		case controlNext:
			r = s.result
		case controlBegin:
			t.push(s.target)
			r = Result{}
		case controlReplace:
			t.pop()
			t.push(s.target)
			r = Result{}
		case controlEnd:
			t.pop()
			var ok bool
			if r, ok = e.resumeParent(t, s.result); !ok {
				return nil
			}
		case controlEndConversation:
			t.conv.Stack = nil
			t.cleared = true
			return nil
		}
	}
}

// resumeParent reports whether the new top of stack should run a step and
// with which result. A parent waiting at a text or choice prompt gets the
// prompt re-sent instead; one waiting on an external prompt re-runs the step
// that issued it.
func (e *Engine) resumeParent(t *turn, r Result) (Result, bool) {
	parent := t.top()
	switch {
	case parent == nil:
		return r, false
	case parent.Prompt == nil:
		return r, true
	case parent.Prompt.Kind == PromptExternal:
		rewind(parent)
		return Result{}, true
	default:
		t.send(render(t.addr, parent.Prompt, false))
		return r, false
	}
}

// rewind moves f back onto the step that issued its pending prompt.
func rewind(f *Frame) {
	f.Prompt = nil
	if f.Step > 0 {
		f.Step--
	}
}

func (e *Engine) load(ctx context.Context, addr domain.Address, msg domain.Activity) (*turn, error) {
	user, err := e.store.GetUserData(ctx, addr.UserKey())
	if err != nil {
		return nil, fmt.Errorf("dialog: load user data: %w", err)
	}
	conv, err := e.store.GetConversation(ctx, addr.ConversationKey())
	if err != nil {
		return nil, fmt.Errorf("dialog: load conversation: %w", err)
	}
	return &turn{addr: addr, msg: msg, user: user, conv: conv}, nil
}

// commit persists the turn and then delivers queued replies in order.
func (e *Engine) commit(ctx context.Context, t *turn) error {
	if err := e.store.PutUserData(ctx, t.addr.UserKey(), t.user); err != nil {
		return fmt.Errorf("dialog: save user data: %w", err)
	}
	if err := e.store.PutConversation(ctx, t.addr.ConversationKey(), t.conv); err != nil {
		return fmt.Errorf("dialog: save conversation: %w", err)
	}
	if t.cleared {
		e.logger.InfoContext(ctx, "conversation ended", "conversation", t.addr.Conversation.ID)
	}
	for _, a := range t.outbox {
		if err := e.sender.Send(ctx, a); err != nil {
			return fmt.Errorf("dialog: send %s: %w", a.Type, err)
		}
	}
	return nil
}

func proactiveMessage(addr domain.Address) domain.Activity {
	return domain.Activity{
		Type:         domain.ActivityMessage,
		ChannelID:    addr.ChannelID,
		ServiceURL:   addr.ServiceURL,
		From:         addr.User,
		Recipient:    addr.Bot,
		Conversation: addr.Conversation,
	}
}
