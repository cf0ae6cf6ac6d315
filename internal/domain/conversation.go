package domain

import "encoding/json"

// Activity types exchanged with the channel connector.
const (
	ActivityMessage            = "message"
	ActivityTrigger            = "trigger"
	ActivityConversationUpdate = "conversationUpdate"
	ActivityTyping             = "typing"
)

// Card action kinds used in suggested actions.
const (
	ActionPostBack = "postBack"
	ActionIMBack   = "imBack"
	ActionOpenURL  = "openUrl"
)

// ChannelAccount identifies a user or bot on a channel.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ConversationAccount identifies a conversation on a channel.
type ConversationAccount struct {
	ID      string `json:"id"`
	IsGroup bool   `json:"isGroup,omitempty"`
}

// Address is the opaque routing handle needed to reply into a conversation.
// It is persisted with user data and round-trips through queue consumers,
// so its JSON shape must stay stable.
type Address struct {
	ID           string              `json:"id,omitempty"`
	ChannelID    string              `json:"channelId"`
	ServiceURL   string              `json:"serviceUrl"`
	User         ChannelAccount      `json:"user"`
	Bot          ChannelAccount      `json:"bot"`
	Conversation ConversationAccount `json:"conversation"`
}

// UserKey identifies the user data record for this address.
func (a Address) UserKey() string {
	return a.ChannelID + "#" + a.User.ID
}

// ConversationKey identifies the conversation state record for this address.
func (a Address) ConversationKey() string {
	return a.ChannelID + "#" + a.Conversation.ID
}

// CardAction is a single quick-reply button.
type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Value string `json:"value"`
}

// SuggestedActions is the set of quick replies attached to a message.
type SuggestedActions struct {
	To      []string     `json:"to,omitempty"`
	Actions []CardAction `json:"actions"`
}

// Activity is the transport envelope for inbound events and outbound replies.
type Activity struct {
	Type             string              `json:"type"`
	ID               string              `json:"id,omitempty"`
	Timestamp        string              `json:"timestamp,omitempty"`
	ChannelID        string              `json:"channelId"`
	ServiceURL       string              `json:"serviceUrl"`
	From             ChannelAccount      `json:"from"`
	Recipient        ChannelAccount      `json:"recipient"`
	Conversation     ConversationAccount `json:"conversation"`
	Text             string              `json:"text,omitempty"`
	ReplyToID        string              `json:"replyToId,omitempty"`
	MembersAdded     []ChannelAccount    `json:"membersAdded,omitempty"`
	SuggestedActions *SuggestedActions   `json:"suggestedActions,omitempty"`
	Value            json.RawMessage     `json:"value,omitempty"`
}

// Address returns the reply address of an inbound activity.
func (a Activity) Address() Address {
	return Address{
		ID:           a.ID,
		ChannelID:    a.ChannelID,
		ServiceURL:   a.ServiceURL,
		User:         a.From,
		Bot:          a.Recipient,
		Conversation: a.Conversation,
	}
}

// NewReply builds an outbound activity of the given type addressed to addr.
func NewReply(addr Address, activityType, text string) Activity {
	return Activity{
		Type:         activityType,
		ChannelID:    addr.ChannelID,
		ServiceURL:   addr.ServiceURL,
		From:         addr.Bot,
		Recipient:    addr.User,
		Conversation: addr.Conversation,
		Text:         text,
		ReplyToID:    addr.ID,
	}
}
