package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"travel-time-bot/internal/domain"
)

var stateAddr = domain.Address{
	ChannelID:    "msteams",
	ServiceURL:   "https://smba.example",
	User:         domain.ChannelAccount{ID: "u1"},
	Bot:          domain.ChannelAccount{ID: "b1"},
	Conversation: domain.ConversationAccount{ID: "c1"},
}

func TestStateSigner_RoundTrip(t *testing.T) {
	s, err := NewStateSigner("signing-secret")
	require.NoError(t, err)

	state, err := s.Sign(stateAddr)
	require.NoError(t, err)
	got, err := s.Verify(state)
	require.NoError(t, err)
	require.Equal(t, stateAddr, got)
}

func TestStateSigner_RejectsOtherSecret(t *testing.T) {
	a, err := NewStateSigner("one")
	require.NoError(t, err)
	b, err := NewStateSigner("two")
	require.NoError(t, err)

	state, err := a.Sign(stateAddr)
	require.NoError(t, err)
	_, err = b.Verify(state)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestStateSigner_RejectsExpired(t *testing.T) {
	s, err := NewStateSigner("signing-secret")
	require.NoError(t, err)
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }
	state, err := s.Sign(stateAddr)
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(defaultStateTTL + time.Minute) }
	_, err = s.Verify(state)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestStateSigner_RejectsGarbage(t *testing.T) {
	s, err := NewStateSigner("signing-secret")
	require.NoError(t, err)
	_, err = s.Verify("not-a-token")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestNewStateSigner_EmptySecret(t *testing.T) {
	_, err := NewStateSigner(" ")
	require.Error(t, err)
}
