package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Trigger actions sent by the calendar watcher.
const (
	TriggerWebhookRegistered    = "WEBHOOK_REGISTERED"
	TriggerNotificationReceived = "NOTIFICATION_RECEIVED"
	// TriggerNotificationRecieved is the spelling older watcher deployments emit.
	TriggerNotificationRecieved = "NOTIFICATION_RECIEVED"
)

// Queue names owned by the downstream workers.
const (
	QueueHookRegistration = "bot-hook-registration"
	QueueAcceptMeeting    = "accept-meeting"
	QueueAddTravelMeeting = "add-travel-meeting"
)

// MeetingRequest describes a meeting invitation the user received.
type MeetingRequest struct {
	Organizer string    `json:"organizer"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Location  string    `json:"location"`
	Subject   string    `json:"subject"`
	Resource  string    `json:"resource"`
}

// meetingTimeLayouts are tried in order. Graph dateTime values carry
// fractional digits and no zone; those are read as UTC.
var meetingTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// ParseMeetingTime reads a watcher timestamp. An empty value is the zero time.
func ParseMeetingTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range meetingTimeLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("domain: unrecognized meeting time %q", v)
}

type meetingFields MeetingRequest

func (m *MeetingRequest) UnmarshalJSON(b []byte) error {
	aux := struct {
		*meetingFields
		Start string `json:"start"`
		End   string `json:"end"`
	}{meetingFields: (*meetingFields)(m)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	var err error
	if m.Start, err = ParseMeetingTime(aux.Start); err != nil {
		return err
	}
	if m.End, err = ParseMeetingTime(aux.End); err != nil {
		return err
	}
	return nil
}

// TriggerPayload is the value of a trigger activity. Meeting fields are only
// set for notifications.
type TriggerPayload struct {
	Action         string   `json:"action"`
	Address        *Address `json:"address,omitempty"`
	SubscriptionID string   `json:"subscriptionId,omitempty"`
	MeetingRequest
}

// UnmarshalJSON decodes the envelope fields and the embedded meeting
// separately; the meeting's own decoder would otherwise swallow the envelope.
func (p *TriggerPayload) UnmarshalJSON(b []byte) error {
	var envelope struct {
		Action         string   `json:"action"`
		Address        *Address `json:"address,omitempty"`
		SubscriptionID string   `json:"subscriptionId,omitempty"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return err
	}
	p.Action = envelope.Action
	p.Address = envelope.Address
	p.SubscriptionID = envelope.SubscriptionID
	return p.MeetingRequest.UnmarshalJSON(b)
}

// HookRegistrationTask asks the watcher to register a calendar webhook.
type HookRegistrationTask struct {
	AccessToken string  `json:"accessToken"`
	UserID      string  `json:"userId"`
	Address     Address `json:"address"`
}

// AcceptMeetingTask asks the calendar worker to accept a meeting.
type AcceptMeetingTask struct {
	AccessToken string `json:"accessToken"`
	Meeting     string `json:"meeting"`
}

// TravelMeetingTask asks the calendar worker to book a travel block.
type TravelMeetingTask struct {
	AccessToken    string `json:"accessToken"`
	Meeting        string `json:"meeting,omitempty"`
	Start          string `json:"start"`
	DurationInMins int    `json:"durationInMins"`
}
