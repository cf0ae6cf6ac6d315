package usecase

import (
	"context"
	"regexp"

	"travel-time-bot/internal/dialog"
	"travel-time-bot/internal/domain"
)

const (
	dialogRoot                 = dialog.RootDialog
	dialogIntro                = "/intro"
	dialogHookRegistered       = "/hookRegistered"
	dialogMeetingRequested     = "/meetingRequested"
	dialogMeetingRequestedHelp = "/meetingRequestedHelp"
	dialogRequestTravelTime    = "/requestTravelTime"
	dialogCustomTravelLength   = "/customTravelLength"
	dialogSignIn               = "/signin"
	dialogLogout               = "/logout"
	dialogHelp                 = "help"
	dialogExit                 = "exit"
)

// rootIntents are tried in order; the first match wins.
var rootIntents = []struct {
	pattern *regexp.Regexp
	dialog  string
}{
	{regexp.MustCompile(`logout`), dialogLogout},
	{regexp.MustCompile(`signin`), dialogSignIn},
	{regexp.MustCompile(`intro`), dialogIntro},
}

var (
	helpPattern      = regexp.MustCompile(`(?i)^help$`)
	exitPattern      = regexp.MustCompile(`(?i)^(exit|cancel|quit)$`)
	startOverPattern = regexp.MustCompile(`(?i)^start over$`)
)

func globalTriggers() []dialog.Trigger {
	return []dialog.Trigger{
		{Pattern: helpPattern, Dialog: dialogHelp, Mode: dialog.Push},
		{Pattern: exitPattern, Dialog: dialogExit, Mode: dialog.Push},
	}
}

func (b *Bot) dialogs() []dialog.Dialog {
	return []dialog.Dialog{
		{Name: dialogRoot, Steps: []dialog.Step{rootStep}},
		{Name: dialogIntro, Steps: []dialog.Step{introStep}},
		{Name: dialogHookRegistered, Steps: []dialog.Step{hookRegisteredStep}},
		{
			Name:  dialogMeetingRequested,
			Steps: b.meetingRequestedSteps(),
			Actions: []dialog.Action{
				{Name: "meetingRequestedHelpAction", Pattern: helpPattern, Kind: dialog.BeginAction, Dialog: dialogMeetingRequestedHelp},
				{Name: "startOver", Pattern: startOverPattern, Kind: dialog.ReloadAction, Message: "Ok, starting over."},
			},
		},
		{Name: dialogMeetingRequestedHelp, Steps: []dialog.Step{meetingRequestedHelpStep}},
		{Name: dialogRequestTravelTime, Steps: requestTravelTimeSteps()},
		{Name: dialogCustomTravelLength, Steps: customTravelLengthSteps()},
		{Name: dialogSignIn, Steps: b.signInSteps()},
		{Name: dialogLogout, Steps: []dialog.Step{b.logoutStep}},
		{Name: dialogHelp, Steps: []dialog.Step{helpStep}},
		{Name: dialogExit, Steps: []dialog.Step{exitStep}},
	}
}

func rootStep(_ context.Context, s *dialog.Session, _ dialog.Result) error {
	text := s.Message().Text
	for _, intent := range rootIntents {
		if intent.pattern.MatchString(text) {
			return s.ReplaceDialog(intent.dialog, nil)
		}
	}
	s.Send("welcome")
	return s.EndDialog()
}

func introStep(_ context.Context, s *dialog.Session, _ dialog.Result) error {
	msg := s.Reply("Hey, I can't do much, I suggest you start my signing in. Say intro to get this dialog again")
	msg.SuggestedActions = &domain.SuggestedActions{Actions: []domain.CardAction{
		{Type: domain.ActionPostBack, Title: "Logout", Value: "logout"},
		{Type: domain.ActionIMBack, Title: "Signin to get help with your calendar", Value: "signin"},
	}}
	s.SendMessage(msg)
	return s.EndDialog()
}

func hookRegisteredStep(_ context.Context, s *dialog.Session, _ dialog.Result) error {
	var args hookRegisteredArgs
	if err := s.Args(&args); err != nil {
		return err
	}
	s.UserData().SubscriptionID = args.SubscriptionID
	s.Send("I'm now watching for new meetings and will help you book travel time")
	return s.EndDialog()
}

func helpStep(_ context.Context, s *dialog.Session, _ dialog.Result) error {
	s.Send("I'll watch your calendar and let you know when you get new meeting requests.")
	s.Send("If you want to start over a section, try saying restart")
	s.Send("If you need to exit a conversation try using the cancel or exit command.")
	return s.EndDialog()
}

func exitStep(_ context.Context, s *dialog.Session, _ dialog.Result) error {
	return s.EndConversation("exiting...")
}
