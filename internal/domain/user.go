package domain

import "time"

// UserData is the durable per-user scratch space written by dialog steps.
type UserData struct {
	OID            string          `json:"oid,omitempty"`
	DisplayName    string          `json:"displayName,omitempty"`
	Address        *Address        `json:"address,omitempty"`
	AccessToken    string          `json:"accessToken,omitempty"`
	RefreshToken   string          `json:"refreshToken,omitempty"`
	SubscriptionID string          `json:"subscriptionId,omitempty"`
	MeetingRequest *MeetingRequest `json:"meetingRequest,omitempty"`
}

// SignedIn reports whether delegated tokens are present.
func (u *UserData) SignedIn() bool {
	return u != nil && u.AccessToken != ""
}

// Profile is what the identity provider hands back after a successful sign-in.
type Profile struct {
	OID          string
	DisplayName  string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}
