// Package dialog implements a small waterfall dialog interpreter. Each
// conversation holds a stack of frames; a frame names a registered dialog,
// the index of its next step, and the arguments it was started with.
// Prompts suspend a frame until the next inbound message arrives.
package dialog

import (
	"context"
	"errors"
	"regexp"

	"travel-time-bot/internal/domain"
)

var (
	ErrUnknownDialog = errors.New("dialog: unknown dialog")
	ErrDuplicate     = errors.New("dialog: dialog already registered")
	ErrNotAwaiting   = errors.New("dialog: conversation is not waiting for that response")
	ErrActionTaken   = errors.New("dialog: step already took a control action")
	ErrConflict      = errors.New("dialog: conversation state changed concurrently")
)

// Step is one stage of a waterfall. r carries the prompt response or the
// result of a child dialog; it is empty for the first step.
type Step func(ctx context.Context, s *Session, r Result) error

// Dialog is a named, ordered list of steps.
type Dialog struct {
	Name    string
	Steps   []Step
	Actions []Action
}

// Choice is a recognized answer to a choice prompt.
type Choice struct {
	Entity string
	Index  int
}

// Result is passed into a step.
type Result struct {
	Response any
}

// Text returns the response when it is free text.
func (r Result) Text() string {
	s, _ := r.Response.(string)
	return s
}

// Choice returns the response when it came from a choice prompt.
func (r Result) Choice() (Choice, bool) {
	c, ok := r.Response.(Choice)
	return c, ok
}

// Int returns the response when a child dialog produced a number.
func (r Result) Int() (int, bool) {
	n, ok := r.Response.(int)
	return n, ok
}

// TriggerMode controls what happens to the stack when a global trigger fires.
type TriggerMode int

const (
	// Push starts the target on top of the stack; the interrupted dialog
	// resumes when it ends.
	Push TriggerMode = iota
	// Replace clears the stack before starting the target.
	Replace
)

// Trigger is a global interrupt evaluated against every inbound message.
type Trigger struct {
	Pattern *regexp.Regexp
	Dialog  string
	Mode    TriggerMode
}

// ActionKind is the behavior of a dialog-scoped action.
type ActionKind int

const (
	// BeginAction pushes Dialog on top of the stack.
	BeginAction ActionKind = iota
	// ReloadAction restarts the owning dialog with its original arguments.
	ReloadAction
)

// Action is an interrupt that only applies while its owning dialog is on the
// stack. Actions are checked before global triggers.
type Action struct {
	Name    string
	Pattern *regexp.Regexp
	Kind    ActionKind
	Dialog  string
	Message string
}

// PromptKind is the expected shape of the response to a prompt.
type PromptKind string

const (
	PromptText     PromptKind = "text"
	PromptChoice   PromptKind = "choice"
	PromptExternal PromptKind = "external"
)

// Prompt is the pending question a frame is waiting on.
type Prompt struct {
	Kind     PromptKind          `json:"kind"`
	Text     string              `json:"text"`
	Choices  []string            `json:"choices,omitempty"`
	Retry    string              `json:"retry,omitempty"`
	Provider string              `json:"provider,omitempty"`
	Actions  []domain.CardAction `json:"actions,omitempty"`
}

// Frame is one entry of a conversation's dialog stack.
type Frame struct {
	Dialog string  `json:"dialog"`
	Step   int     `json:"step"`
	Args   string  `json:"args,omitempty"`
	Prompt *Prompt `json:"prompt,omitempty"`
}

// ConversationState is the persisted dialog stack. Version is the value read
// from the store and is used for optimistic concurrency on write.
type ConversationState struct {
	Stack   []Frame
	Version int64
}

// Store persists user data and dialog stacks.
type Store interface {
	GetUserData(ctx context.Context, key string) (domain.UserData, error)
	PutUserData(ctx context.Context, key string, data domain.UserData) error
	GetConversation(ctx context.Context, key string) (ConversationState, error)
	PutConversation(ctx context.Context, key string, st ConversationState) error
}

// Sender delivers outbound activities to the channel.
type Sender interface {
	Send(ctx context.Context, activity domain.Activity) error
}
