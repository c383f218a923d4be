// Package sqsfake records SendMessage calls for tests.
package sqsfake

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Message is one recorded send.
type Message struct {
	QueueURL   string
	Body       string
	Attributes map[string]string
}

// Client is an in-memory SQS sender.
type Client struct {
	mu   sync.Mutex
	sent []Message
	seq  int

	// Err, when set, is returned by every SendMessage without recording it.
	Err error
}

// New returns an empty fake.
func New() *Client { return &Client{} }

// SendMessage records the message.
func (c *Client) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	attrs := map[string]string{}
	for k, v := range in.MessageAttributes {
		if v.StringValue != nil {
			attrs[k] = *v.StringValue
		}
	}
	m := Message{Attributes: attrs}
	if in.QueueUrl != nil {
		m.QueueURL = *in.QueueUrl
	}
	if in.MessageBody != nil {
		m.Body = *in.MessageBody
	}
	c.sent = append(c.sent, m)
	c.seq++
	id := "msg-" + strconv.Itoa(c.seq)
	return &sqs.SendMessageOutput{MessageId: &id}, nil
}

// Sent returns a copy of every recorded message.
func (c *Client) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}
