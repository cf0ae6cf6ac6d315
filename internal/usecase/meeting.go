package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"travel-time-bot/internal/dialog"
	"travel-time-bot/internal/domain"
)

const (
	dateLayout = "Mon Jan 02 2006"
	timeLayout = "15:04:05 MST"
)

var travelChoices = []string{"15 minutes", "30 minutes", "1 hour", "Other"}

// travelPresets maps the preset choice index to minutes.
var travelPresets = map[int]int{0: 15, 1: 30, 2: 60}

type customTravelArgs struct {
	Reprompt bool `json:"reprompt"`
}

func describeMeeting(m domain.MeetingRequest) string {
	return fmt.Sprintf("%s wants to have a meeting on %s from %s until %s at %s about %s",
		m.Organizer,
		m.Start.Format(dateLayout),
		m.Start.Format(timeLayout),
		m.End.Format(timeLayout),
		m.Location,
		m.Subject,
	)
}

func (b *Bot) meetingRequestedSteps() []dialog.Step {
	return []dialog.Step{
		func(_ context.Context, s *dialog.Session, _ dialog.Result) error {
			var m domain.MeetingRequest
			if err := s.Args(&m); err != nil {
				return err
			}
			s.UserData().MeetingRequest = &m
			s.Send(describeMeeting(m))
			return s.PromptChoice("Would you like to accept?", "Yes", "No")
		},
		func(ctx context.Context, s *dialog.Session, r dialog.Result) error {
			if !answeredYes(r) {
				s.Send("Ok, have a nice day")
				return s.EndDialog()
			}
			s.Send("I'll accept that meeting for you.")
			u := s.UserData()
			b.enqueue(ctx, domain.QueueAcceptMeeting, domain.AcceptMeetingTask{
				AccessToken: u.AccessToken,
				Meeting:     meetingResource(u),
			})
			return s.PromptChoice("Would you like to block some travel time?", "Yes", "No")
		},
		func(_ context.Context, s *dialog.Session, r dialog.Result) error {
			if !answeredYes(r) {
				s.Send("Ok, have a nice day")
				return s.EndDialog()
			}
			s.Send("Ok, let's find out about how much time to book.")
			return s.BeginDialog(dialogRequestTravelTime, nil)
		},
		func(ctx context.Context, s *dialog.Session, r dialog.Result) error {
			minutes, ok := r.Int()
			if !ok {
				return errors.New("usecase: travel time dialog returned no duration")
			}
			s.Send(fmt.Sprintf("Ok, I'm blocking %d minutes of travel time for you", minutes))
			u := s.UserData()
			if u.MeetingRequest == nil {
				return errors.New("usecase: no meeting request in user data")
			}
			for _, task := range travelTasks(u.AccessToken, *u.MeetingRequest, minutes) {
				b.enqueue(ctx, domain.QueueAddTravelMeeting, task)
			}
			return s.EndDialog()
		},
	}
}

func meetingRequestedHelpStep(_ context.Context, s *dialog.Session, _ dialog.Result) error {
	s.Send("Contextual help for this dialog")
	return s.EndDialog()
}

// travelTasks books one block after the meeting and one before it.
func travelTasks(accessToken string, m domain.MeetingRequest, minutes int) []domain.TravelMeetingTask {
	d := time.Duration(minutes) * time.Minute
	return []domain.TravelMeetingTask{
		{
			AccessToken:    accessToken,
			Start:          m.End.UTC().Format(time.RFC3339),
			DurationInMins: minutes,
		},
		{
			AccessToken:    accessToken,
			Meeting:        m.Resource,
			Start:          m.Start.Add(-d).UTC().Format(time.RFC3339),
			DurationInMins: minutes,
		},
	}
}

func requestTravelTimeSteps() []dialog.Step {
	return []dialog.Step{
		func(_ context.Context, s *dialog.Session, _ dialog.Result) error {
			return s.PromptChoice("How much time? ", travelChoices...)
		},
		func(_ context.Context, s *dialog.Session, r dialog.Result) error {
			c, _ := r.Choice()
			if minutes, ok := travelPresets[c.Index]; ok {
				return s.EndDialogWithResult(dialog.Result{Response: minutes})
			}
			return s.BeginDialog(dialogCustomTravelLength, nil)
		},
		func(_ context.Context, s *dialog.Session, r dialog.Result) error {
			return s.EndDialogWithResult(r)
		},
	}
}

func customTravelLengthSteps() []dialog.Step {
	return []dialog.Step{
		func(_ context.Context, s *dialog.Session, _ dialog.Result) error {
			var args customTravelArgs
			if err := s.Args(&args); err != nil {
				return err
			}
			if args.Reprompt {
				return s.PromptText("Sorry, can you try telling me in hours or minutes, that's all I know about yet")
			}
			return s.PromptText("How long should I block for travel time?")
		},
		func(_ context.Context, s *dialog.Session, r dialog.Result) error {
			minutes, ok := ParseTravelDuration(r.Text())
			if !ok {
				return s.ReplaceDialog(dialogCustomTravelLength, customTravelArgs{Reprompt: true})
			}
			return s.EndDialogWithResult(dialog.Result{Response: minutes})
		},
	}
}

func answeredYes(r dialog.Result) bool {
	c, ok := r.Choice()
	return ok && c.Entity == "Yes"
}

func meetingResource(u *domain.UserData) string {
	if u.MeetingRequest == nil {
		return ""
	}
	return u.MeetingRequest.Resource
}

// enqueue hands a task to the workers. Failures are logged and not surfaced
// to the user.
func (b *Bot) enqueue(ctx context.Context, queue string, payload any) bool {
	if err := b.queue.Enqueue(ctx, queue, payload); err != nil {
		b.logger.ErrorContext(ctx, "failed to enqueue task", "queue", queue, "err", err)
		return false
	}
	return true
}
