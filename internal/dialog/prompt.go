package dialog

import (
	"strconv"
	"strings"

	"travel-time-bot/internal/domain"
)

const (
	defaultChoiceRetry = "I didn't understand. Please choose an option from the list."
	defaultTextRetry   = "I didn't understand. Please try again."
)

// recognize matches text against the prompt's expected shape.
func recognize(p *Prompt, text string) (any, bool) {
	text = strings.TrimSpace(text)
	switch p.Kind {
	case PromptText:
		if text == "" {
			return nil, false
		}
		return text, true
	case PromptChoice:
		return matchChoice(p.Choices, text)
	default:
		return nil, false
	}
}

// matchChoice accepts the choice label (any case) or its 1-based ordinal.
func matchChoice(choices []string, text string) (Choice, bool) {
	for i, c := range choices {
		if strings.EqualFold(c, text) {
			return Choice{Entity: c, Index: i}, true
		}
	}
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(choices) {
		return Choice{Entity: choices[n-1], Index: n - 1}, true
	}
	return Choice{}, false
}

// render builds the outbound message for a prompt. retry selects the
// follow-up wording used after an unrecognized answer.
func render(addr domain.Address, p *Prompt, retry bool) domain.Activity {
	text := p.Text
	if retry && p.Retry != "" {
		text = p.Retry
	}
	msg := domain.NewReply(addr, domain.ActivityMessage, text)
	switch {
	case p.Kind == PromptChoice && len(p.Choices) > 0:
		actions := make([]domain.CardAction, 0, len(p.Choices))
		for _, c := range p.Choices {
			actions = append(actions, domain.CardAction{Type: domain.ActionIMBack, Title: c, Value: c})
		}
		msg.SuggestedActions = &domain.SuggestedActions{Actions: actions}
	case len(p.Actions) > 0:
		msg.SuggestedActions = &domain.SuggestedActions{Actions: p.Actions}
	}
	return msg
}
