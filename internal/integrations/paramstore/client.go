// Package paramstore reads the bot's secrets from AWS SSM Parameter Store.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Parameter names, relative to the deployment prefix.
const (
	ParamMicrosoftAppPassword = "/microsoft_app_password"
	ParamAzureADAppPassword   = "/azuread_app_password"
	ParamBotAuthSecret        = "/botauth_secret"
)

// ssmAPI is satisfied by *ssm.Client.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Secrets are the credentials the bot needs at startup.
type Secrets struct {
	// MicrosoftAppPassword is empty when the bot runs against the emulator.
	MicrosoftAppPassword string
	AzureADAppPassword   string
	BotAuthSecret        string
}

type Client struct {
	api ssmAPI
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetParameter returns the decrypted value of name.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	if name = strings.TrimSpace(name); name == "" {
		return "", errors.New("paramstore: name is required")
	}
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("paramstore: parameter %q has no value", name)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// LoadSecrets reads the bot secrets stored under prefix. The connector
// password is only required when withAppPassword is set.
func LoadSecrets(ctx context.Context, g Getter, prefix string, withAppPassword bool) (Secrets, error) {
	if g == nil {
		return Secrets{}, errors.New("paramstore: getter must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return Secrets{}, errors.New("paramstore: parameter prefix must not be empty")
	}

	var s Secrets
	wanted := []struct {
		param string
		label string
		dst   *string
		skip  bool
	}{
		{ParamMicrosoftAppPassword, "app password", &s.MicrosoftAppPassword, !withAppPassword},
		{ParamAzureADAppPassword, "azuread password", &s.AzureADAppPassword, false},
		{ParamBotAuthSecret, "botauth secret", &s.BotAuthSecret, false},
	}
	for _, w := range wanted {
		if w.skip {
			continue
		}
		v, err := g.GetParameter(ctx, prefix+w.param)
		if err != nil {
			return Secrets{}, fmt.Errorf("paramstore: load %s: %w", w.label, err)
		}
		*w.dst = v
	}
	return s, nil
}
