package mailer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

const (
	defaultSESRegion = "us-east-1"
	utf8Charset      = "UTF-8"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig selects the AWS account used for delivery. Empty keys fall back
// to the default credential chain.
type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SESMailer sends through Amazon SES v2.
type SESMailer struct {
	client sesAPI
}

func NewSESMailer(ctx context.Context, cfg SESConfig) (*SESMailer, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultSESRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return newSESMailer(sesv2.NewFromConfig(awsCfg))
}

func newSESMailer(client sesAPI) (*SESMailer, error) {
	if client == nil {
		return nil, fmt.Errorf("ses client is required")
	}
	return &SESMailer{client: client}, nil
}

func (m *SESMailer) Send(ctx context.Context, email Email) (*SendResult, error) {
	if err := email.Validate(); err != nil {
		return nil, &MailerError{Message: "invalid email", Cause: err}
	}

	body := &types.Body{}
	if email.HTML != "" {
		body.Html = &types.Content{Data: aws.String(email.HTML), Charset: aws.String(utf8Charset)}
	}
	if email.Text != "" {
		body.Text = &types.Content{Data: aws.String(email.Text), Charset: aws.String(utf8Charset)}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(email.From()),
		Destination:      &types.Destination{ToAddresses: []string{strings.TrimSpace(email.To)}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(email.Subject), Charset: aws.String(utf8Charset)},
				Body:    body,
			},
		},
	}
	if replyTo := strings.TrimSpace(email.ReplyTo); replyTo != "" {
		input.ReplyToAddresses = []string{replyTo}
	}
	for _, name := range slices.Sorted(maps.Keys(email.Tags)) {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name:  aws.String(name),
			Value: aws.String(email.Tags[name]),
		})
	}

	output, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return nil, classifySESError(err)
	}

	return &SendResult{MessageID: aws.ToString(output.MessageId), StatusCode: 200}, nil
}

func classifySESError(err error) *MailerError {
	mailerErr := &MailerError{
		Message: "ses send failed",
		Cause:   err,
	}

	var responseErr *awshttp.ResponseError
	if errors.As(err, &responseErr) {
		mailerErr.StatusCode = responseErr.HTTPStatusCode()
		mailerErr.Transient = isTransientHTTPStatus(mailerErr.StatusCode)
		return mailerErr
	}

	mailerErr.Transient = !errors.Is(err, context.Canceled)
	return mailerErr
}
