// Package queue hands long-running work to the calendar workers over SQS.
// Payloads are JSON documents wrapped in base64, the format the workers
// decode.
package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/singleflight"
)

// sqsAPI is the subset of *sqs.Client used by Client.
type sqsAPI interface {
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	CreateQueue(ctx context.Context, in *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Client enqueues task payloads onto named queues, creating a queue the
// first time it is used if it does not exist yet.
type Client struct {
	api    sqsAPI
	prefix string

	mu    sync.RWMutex
	urls  map[string]string
	group singleflight.Group
}

type Option func(*Client)

// WithNamePrefix namespaces every queue name, e.g. per deployment stage.
func WithNamePrefix(prefix string) Option {
	return func(c *Client) {
		c.prefix = strings.TrimSpace(prefix)
	}
}

func New(api sqsAPI, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("queue: api must not be nil")
	}
	c := &Client{api: api, urls: make(map[string]string)}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Enqueue serializes payload and sends it to queue. Delivery is handed off to
// SQS; no acknowledgement from the consumer is awaited.
func (c *Client) Enqueue(ctx context.Context, queue string, payload any) error {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return errors.New("queue: queue name is required")
	}
	body, err := Encode(payload)
	if err != nil {
		return err
	}
	url, err := c.queueURL(ctx, c.prefix+queue)
	if err != nil {
		return err
	}
	_, err = c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("queue: send to %q: %w", queue, err)
	}
	return nil
}

// Encode renders payload in the wire format the workers expect.
func Encode(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (c *Client) queueURL(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	url, ok := c.urls[name]
	c.mu.RUnlock()
	if ok {
		return url, nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		url, err := c.resolve(ctx, name)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.urls[name] = url
		c.mu.Unlock()
		return url, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) resolve(ctx context.Context, name string) (string, error) {
	out, err := c.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err == nil && out != nil && out.QueueUrl != nil {
		return *out.QueueUrl, nil
	}
	var missing *types.QueueDoesNotExist
	if err != nil && !errors.As(err, &missing) {
		return "", fmt.Errorf("queue: get url for %q: %w", name, err)
	}

	created, err := c.api.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("queue: create %q: %w", name, err)
	}
	if created == nil || created.QueueUrl == nil {
		return "", fmt.Errorf("queue: create %q returned no url", name)
	}
	return *created.QueueUrl, nil
}
