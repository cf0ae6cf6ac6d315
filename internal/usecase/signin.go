package usecase

import (
	"context"
	"fmt"
	"net/url"

	"travel-time-bot/internal/dialog"
	"travel-time-bot/internal/domain"
	"travel-time-bot/internal/integrations/identity"
)

const signInPath = "/auth/" + identity.ProviderAADv2

// signInLink is the bot-hosted URL that redirects to the provider.
func (b *Bot) signInLink(state string) string {
	return b.baseURL + signInPath + "?state=" + url.QueryEscape(state)
}

func (b *Bot) signInSteps() []dialog.Step {
	return []dialog.Step{
		func(_ context.Context, s *dialog.Session, _ dialog.Result) error {
			if u := s.UserData(); u.SignedIn() {
				return s.Next(dialog.Result{Response: domain.Profile{
					OID:          u.OID,
					DisplayName:  u.DisplayName,
					AccessToken:  u.AccessToken,
					RefreshToken: u.RefreshToken,
				}})
			}
			state, err := b.states.Sign(s.Address())
			if err != nil {
				return err
			}
			msg := s.Reply("Please sign in so I can help with your calendar.")
			msg.SuggestedActions = &domain.SuggestedActions{Actions: []domain.CardAction{
				{Type: domain.ActionOpenURL, Title: "Sign in", Value: b.signInLink(state)},
			}}
			return s.AwaitExternal(identity.ProviderAADv2, msg)
		},
		func(ctx context.Context, s *dialog.Session, r dialog.Result) error {
			profile, ok := r.Response.(domain.Profile)
			if !ok {
				return fmt.Errorf("usecase: signin resumed without a profile (%T)", r.Response)
			}
			addr := s.Address()
			u := s.UserData()
			u.OID = profile.OID
			u.DisplayName = profile.DisplayName
			u.Address = &addr
			u.AccessToken = profile.AccessToken
			u.RefreshToken = profile.RefreshToken
			s.SendTyping()

			if u.SubscriptionID != "" {
				s.Send("All set up and ready to go, I'll let you know when you get some meeting requests")
				return s.EndDialog()
			}
			s.Send("Hi " + profile.DisplayName)
			ok = b.enqueue(ctx, domain.QueueHookRegistration, domain.HookRegistrationTask{
				AccessToken: profile.AccessToken,
				UserID:      profile.OID,
				Address:     addr,
			})
			if ok {
				s.Send("I'm just getting setup to watch your calendar for changes")
			} else {
				s.Send("Sorry, I couldn't start watching your calendar. Please try signing in again later.")
			}
			return s.EndDialog()
		},
	}
}

func (b *Bot) logoutStep(_ context.Context, s *dialog.Session, _ dialog.Result) error {
	b.identity.Logout(s.UserData())
	s.Send("logged_out")
	return s.EndDialog()
}
