package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameter(t *testing.T) {
	cases := []struct {
		name    string
		api     *fakeAPI
		param   string
		want    string
		wantErr string
	}{
		{
			name:  "plain value",
			api:   &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: strPtr("s3cret")}}},
			param: "/bot/botauth_secret",
			want:  "s3cret",
		},
		{
			name:  "secure string",
			api:   &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: strPtr("pw"), Type: types.ParameterTypeSecureString}}},
			param: "/bot/azuread_app_password",
			want:  "pw",
		},
		{
			name:    "missing value",
			api:     &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p")}}},
			param:   "/bot/botauth_secret",
			wantErr: "has no value",
		},
		{
			name:    "api error",
			api:     &fakeAPI{getErr: errors.New("ParameterNotFound")},
			param:   "/bot/botauth_secret",
			wantErr: "ParameterNotFound",
		},
		{
			name:    "empty name",
			api:     &fakeAPI{},
			param:   "  ",
			wantErr: "required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := New(tc.api)
			require.NoError(t, err)
			v, err := client.GetParameter(context.Background(), tc.param)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, v)
			require.Equal(t, tc.param, *tc.api.lastIn.Name)
			require.True(t, *tc.api.lastIn.WithDecryption)
		})
	}
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

type mapGetter map[string]string

func (m mapGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", errors.New("parameter not found: " + name)
	}
	return v, nil
}

func TestLoadSecrets_HappyPath(t *testing.T) {
	g := mapGetter{
		"/bot/microsoft_app_password": "app-pw",
		"/bot/azuread_app_password":   "aad-pw",
		"/bot/botauth_secret":         "signing",
	}
	s, err := LoadSecrets(context.Background(), g, "/bot/", true)
	require.NoError(t, err)
	require.Equal(t, Secrets{MicrosoftAppPassword: "app-pw", AzureADAppPassword: "aad-pw", BotAuthSecret: "signing"}, s)
}

func TestLoadSecrets_EmulatorSkipsAppPassword(t *testing.T) {
	g := mapGetter{
		"/bot/azuread_app_password": "aad-pw",
		"/bot/botauth_secret":       "signing",
	}
	s, err := LoadSecrets(context.Background(), g, "/bot", false)
	require.NoError(t, err)
	require.Empty(t, s.MicrosoftAppPassword)
}

func TestLoadSecrets_MissingSecret(t *testing.T) {
	g := mapGetter{"/bot/azuread_app_password": "aad-pw"}
	_, err := LoadSecrets(context.Background(), g, "/bot", false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "botauth secret")
}

func TestLoadSecrets_EmptyPrefix(t *testing.T) {
	_, err := LoadSecrets(context.Background(), mapGetter{}, " / ", false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "prefix")
}
