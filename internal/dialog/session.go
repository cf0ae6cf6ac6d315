package dialog

import (
	"encoding/json"
	"fmt"

	"travel-time-bot/internal/domain"
)

type control int

const (
	controlNone control = iota
	controlPrompt
	controlNext
	controlBegin
	controlReplace
	controlEnd
	controlEndConversation
)

// turn is the working set for processing one inbound event.
type turn struct {
	addr    domain.Address
	msg     domain.Activity
	user    domain.UserData
	conv    ConversationState
	outbox  []domain.Activity
	cleared bool
}

func (t *turn) top() *Frame {
	if len(t.conv.Stack) == 0 {
		return nil
	}
	return &t.conv.Stack[len(t.conv.Stack)-1]
}

func (t *turn) push(f Frame) {
	t.conv.Stack = append(t.conv.Stack, f)
}

func (t *turn) pop() {
	if len(t.conv.Stack) > 0 {
		t.conv.Stack = t.conv.Stack[:len(t.conv.Stack)-1]
	}
}

func (t *turn) send(a domain.Activity) {
	t.outbox = append(t.outbox, a)
}

// Session is the view of the conversation handed to a running step. At most
// one control method (prompt, begin, replace, end, next) may be called per step.
type Session struct {
	engine *Engine
	turn   *turn
	args   string

	ctl    control
	prompt *Prompt
	target Frame
	result Result
}

// Message returns the inbound activity being processed.
func (s *Session) Message() domain.Activity {
	return s.turn.msg
}

// Address returns the reply address of the conversation.
func (s *Session) Address() domain.Address {
	return s.turn.addr
}

// UserData returns the user's persisted data; changes are saved with the turn.
func (s *Session) UserData() *domain.UserData {
	return &s.turn.user
}

// Args decodes the arguments the current dialog was started with into v.
// It leaves v untouched when the dialog was started without arguments.
func (s *Session) Args(v any) error {
	if s.args == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.args), v); err != nil {
		return fmt.Errorf("dialog: decode args: %w", err)
	}
	return nil
}

// Reply builds a message addressed to the conversation.
func (s *Session) Reply(text string) domain.Activity {
	return domain.NewReply(s.turn.addr, domain.ActivityMessage, text)
}

// Send queues a text message.
func (s *Session) Send(text string) {
	s.turn.send(s.Reply(text))
}

// SendMessage queues a prebuilt activity.
func (s *Session) SendMessage(a domain.Activity) {
	s.turn.send(a)
}

// SendTyping queues a typing indicator.
func (s *Session) SendTyping() {
	s.turn.send(domain.NewReply(s.turn.addr, domain.ActivityTyping, ""))
}

// PromptText asks for free text.
func (s *Session) PromptText(text string) error {
	return s.setPrompt(&Prompt{Kind: PromptText, Text: text, Retry: defaultTextRetry})
}

// PromptChoice asks the user to pick one of choices.
func (s *Session) PromptChoice(text string, choices ...string) error {
	return s.setPrompt(&Prompt{Kind: PromptChoice, Text: text, Choices: choices, Retry: defaultChoiceRetry})
}

// AwaitExternal sends msg and suspends the dialog until Engine.Resume is
// called for provider. Messages typed in the meantime re-run the calling step,
// which builds msg again.
func (s *Session) AwaitExternal(provider string, msg domain.Activity) error {
	p := &Prompt{Kind: PromptExternal, Text: msg.Text, Provider: provider}
	if msg.SuggestedActions != nil {
		p.Actions = msg.SuggestedActions.Actions
	}
	return s.setPrompt(p)
}

// Next skips straight to the following step with r.
func (s *Session) Next(r Result) error {
	if err := s.take(controlNext); err != nil {
		return err
	}
	s.result = r
	return nil
}

// BeginDialog starts name as a child; its result is passed to the next step.
func (s *Session) BeginDialog(name string, args any) error {
	f, err := s.engine.newFrame(name, args)
	if err != nil {
		return err
	}
	if err := s.take(controlBegin); err != nil {
		return err
	}
	s.target = f
	return nil
}

// ReplaceDialog ends the current dialog and starts name in its place.
func (s *Session) ReplaceDialog(name string, args any) error {
	f, err := s.engine.newFrame(name, args)
	if err != nil {
		return err
	}
	if err := s.take(controlReplace); err != nil {
		return err
	}
	s.target = f
	return nil
}

// EndDialog ends the current dialog without a result.
func (s *Session) EndDialog() error {
	return s.EndDialogWithResult(Result{})
}

// EndDialogWithResult ends the current dialog and returns r to its parent.
func (s *Session) EndDialogWithResult(r Result) error {
	if err := s.take(controlEnd); err != nil {
		return err
	}
	s.result = r
	return nil
}

// EndConversation sends text and clears the whole dialog stack.
func (s *Session) EndConversation(text string) error {
	if err := s.take(controlEndConversation); err != nil {
		return err
	}
	if text != "" {
		s.Send(text)
	}
	return nil
}

func (s *Session) setPrompt(p *Prompt) error {
	if err := s.take(controlPrompt); err != nil {
		return err
	}
	s.prompt = p
	return nil
}

func (s *Session) take(c control) error {
	if s.ctl != controlNone {
		return ErrActionTaken
	}
	s.ctl = c
	return nil
}
