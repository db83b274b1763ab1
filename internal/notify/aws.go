package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// SESAPI is the subset of SES used for email
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SNSAPI is the subset of SNS used for SMS
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// AWSChannel sends email through SES and SMS through SNS
type AWSChannel struct {
	ses         SESAPI
	sns         SNSAPI
	fromAddress string
	logger      *zap.Logger
}

// NewAWSChannel loads the default AWS configuration for region
func NewAWSChannel(ctx context.Context, region, fromAddress string, logger *zap.Logger) (*AWSChannel, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewAWSChannelWithClients(ses.NewFromConfig(cfg), sns.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewAWSChannelWithClients wraps existing clients
func NewAWSChannelWithClients(sesClient SESAPI, snsClient SNSAPI, fromAddress string, logger *zap.Logger) *AWSChannel {
	return &AWSChannel{
		ses:         sesClient,
		sns:         snsClient,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// SendEmail implements Channel
func (c *AWSChannel) SendEmail(ctx context.Context, address, subject, htmlBody string) error {
	out, err := c.ses.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(c.fromAddress),
		Destination: &sestypes.Destination{ToAddresses: []string{address}},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Html: &sestypes.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}
	c.logger.Debug("Email sent", zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// SendSMS implements Channel
func (c *AWSChannel) SendSMS(ctx context.Context, phoneNumber, text string) error {
	out, err := c.sns.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phoneNumber),
		Message:     aws.String(text),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}
	c.logger.Debug("SMS sent", zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}
