package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	getErr    error
	createErr error
	sendErr   error
	getCalls  int
	created   []string
	sent      []*sqs.SendMessageInput
}

func (f *fakeSQS) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.local/" + *in.QueueName)}, nil
}

func (f *fakeSQS) CreateQueue(_ context.Context, in *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, *in.QueueName)
	return &sqs.CreateQueueOutput{QueueUrl: aws.String("https://sqs.local/new/" + *in.QueueName)}, nil
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

type task struct {
	AccessToken string `json:"accessToken"`
	Meeting     string `json:"meeting"`
}

func TestEnqueue_EncodesAndCachesURL(t *testing.T) {
	api := &fakeSQS{}
	c, err := New(api)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, "accept-meeting", task{AccessToken: "at", Meeting: "events/1"}))
	require.NoError(t, c.Enqueue(ctx, "accept-meeting", task{AccessToken: "at", Meeting: "events/2"}))

	require.Equal(t, 1, api.getCalls)
	require.Len(t, api.sent, 2)
	require.Equal(t, "https://sqs.local/accept-meeting", *api.sent[0].QueueUrl)

	var got task
	require.NoError(t, decode(*api.sent[1].MessageBody, &got))
	require.Equal(t, task{AccessToken: "at", Meeting: "events/2"}, got)
}

func TestEnqueue_CreatesMissingQueue(t *testing.T) {
	api := &fakeSQS{getErr: &types.QueueDoesNotExist{Message: aws.String("nope")}}
	c, err := New(api, WithNamePrefix("dev-"))
	require.NoError(t, err)

	require.NoError(t, c.Enqueue(context.Background(), "add-travel-meeting", task{}))
	require.Equal(t, []string{"dev-add-travel-meeting"}, api.created)
	require.Equal(t, "https://sqs.local/new/dev-add-travel-meeting", *api.sent[0].QueueUrl)
}

func TestEnqueue_GetURLError(t *testing.T) {
	api := &fakeSQS{getErr: errors.New("AccessDenied")}
	c, err := New(api)
	require.NoError(t, err)
	err = c.Enqueue(context.Background(), "accept-meeting", task{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "AccessDenied")
	require.Empty(t, api.created)
}

func TestEnqueue_SendError(t *testing.T) {
	api := &fakeSQS{sendErr: errors.New("throttled")}
	c, err := New(api)
	require.NoError(t, err)
	err = c.Enqueue(context.Background(), "accept-meeting", task{})
	require.Error(t, err)
	require.Contains(t, err.Error(), `send to "accept-meeting"`)
}

func TestEnqueue_RequiresQueueName(t *testing.T) {
	c, err := New(&fakeSQS{})
	require.NoError(t, err)
	require.Error(t, c.Enqueue(context.Background(), " ", task{}))
}

func TestEncode_IsBase64JSON(t *testing.T) {
	body, err := Encode(map[string]int{"durationInMins": 30})
	require.NoError(t, err)
	require.Equal(t, "eyJkdXJhdGlvbkluTWlucyI6MzB9", body)
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

// decode reverses Encode the way a downstream worker reads a message body.
func decode(body string, v any) error {
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return fmt.Errorf("decode base64: %w", err)
	}
	return json.Unmarshal(raw, v)
}
