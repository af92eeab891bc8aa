// internal/notify/notifier.go
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"action-engine/internal/common/logger"
	"action-engine/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
)

const sendTimeout = 5 * time.Second

// Publisher is satisfied by the SNS client wrapper.
type Publisher interface {
	Publish(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// EmailSender is satisfied by the SES client wrapper.
type EmailSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type Config struct {
	TopicARN       string
	FromEmail      string
	OperatorEmails []string
}

// Envelope is the SNS message body.
type Envelope struct {
	EventID    string      `json:"eventId"`
	EventType  string      `json:"eventType"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       interface{} `json:"data"`
}

// Notifier publishes settlement and subscription events to SNS and mails
// operator alerts through SES. A nil publisher or sender disables that side.
type Notifier struct {
	publisher Publisher
	sender    EmailSender
	cfg       Config
	logger    logger.Logger
}

func New(cfg Config, publisher Publisher, sender EmailSender, log logger.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		sender:    sender,
		cfg:       cfg,
		logger:    log.WithFields(map[string]interface{}{"component": "notifier"}),
	}
}

// ActionChanged publishes terminal action transitions.
func (n *Notifier) ActionChanged(ctx context.Context, event string, action *models.Action) {
	if !action.Status.IsTerminal() {
		return
	}
	n.publish(ctx, "action."+event, map[string]interface{}{
		"actionId": action.ID,
		"owner":    action.Owner,
		"type":     action.Type,
		"status":   action.Status,
		"result":   action.Result,
		"target":   action.TargetAddress,
	})
}

func (n *Notifier) SubscriptionChanged(ctx context.Context, event string, sub *models.Subscription) {
	n.publish(ctx, "subscription."+event, map[string]interface{}{
		"subscriptionId": sub.ID,
		"owner":          sub.Owner,
		"tier":           sub.Terms.Name,
		"endTime":        sub.EndTime,
		"active":         sub.Active,
		"renewalCount":   sub.RenewalCount,
	})
}

func (n *Notifier) publish(ctx context.Context, eventType string, data interface{}) {
	if n.publisher == nil || n.cfg.TopicARN == "" {
		return
	}

	env := Envelope{EventID: uuid.NewString(), EventType: eventType, OccurredAt: time.Now().UTC(), Data: data}
	body, err := json.Marshal(env)
	if err != nil {
		n.logger.Error("failed to encode event", map[string]interface{}{"eventType": eventType, "error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	_, err = n.publisher.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.cfg.TopicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String(eventType)},
		},
	})
	if err != nil {
		n.logger.Warn("failed to publish event", map[string]interface{}{
			"eventType": eventType, "eventId": env.EventID, "error": err.Error(),
		})
		return
	}
	n.logger.Debug("event published", map[string]interface{}{"eventType": eventType, "eventId": env.EventID})
}

// Alert emails every configured operator.
func (n *Notifier) Alert(ctx context.Context, subject, body string) {
	if n.sender == nil || n.cfg.FromEmail == "" || len(n.cfg.OperatorEmails) == 0 {
		n.logger.Warn("operator alert not sent", map[string]interface{}{"subject": subject, "body": body})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	_, err := n.sender.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(n.cfg.FromEmail),
		Destination: &sestypes.Destination{ToAddresses: n.cfg.OperatorEmails},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String("[action-engine] " + subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		n.logger.Error("failed to send operator alert", map[string]interface{}{
			"subject": subject, "recipients": strings.Join(n.cfg.OperatorEmails, ","), "error": err.Error(),
		})
		return
	}
	n.logger.Info("operator alert sent", map[string]interface{}{"subject": subject})
}
