// Package ses sends notification email through Amazon SES (API v2).
package ses

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"dataportal/internal/notify"
)

// Config holds construction parameters.
type Config struct {
	Region   string
	From     string
	Endpoint string // optional override, e.g. a local SES emulator
}

// API is the subset of the SES client used by Sender.
type API interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Sender implements notify.Sender.
type Sender struct {
	api  API
	from string
}

var _ notify.Sender = (*Sender)(nil)

// New builds a sender using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Sender, error) {
	if cfg.From == "" {
		return nil, errors.New("ses: from address required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithAPI(client, cfg.From), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, from string) *Sender {
	return &Sender{api: api, from: from}
}

// Send delivers msg as a plain-text email.
func (s *Sender) Send(ctx context.Context, msg notify.Message) error {
	if msg.Recipient == "" {
		return errors.New("ses: recipient required")
	}
	_, err := s.api.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.Recipient}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Content), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send to %s: %w", msg.Recipient, err)
	}
	return nil
}
