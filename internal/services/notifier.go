package services

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Notifier delivers alerts about critical prediction patterns. Delivery
// failures are logged by callers, never treated as pipeline failures.
type Notifier interface {
	SendAlert(message string) error
}

// MockNotifier logs alerts instead of sending them; the development default.
type MockNotifier struct {
	logger *logrus.Logger
}

func NewMockNotifier(logger *logrus.Logger) *MockNotifier {
	return &MockNotifier{logger: logger}
}

func (n *MockNotifier) SendAlert(message string) error {
	n.logger.WithField("message", message).Info("MOCK ALERT")
	return nil
}

// TwilioNotifier delivers alerts via SMS.
type TwilioNotifier struct {
	client     *twilio.RestClient
	fromNumber string
	toNumber   string
	logger     *logrus.Logger
}

func NewTwilioNotifier(accountSID, authToken, fromNumber, toNumber string, logger *logrus.Logger) *TwilioNotifier {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioNotifier{
		client:     client,
		fromNumber: fromNumber,
		toNumber:   toNumber,
		logger:     logger,
	}
}

func (n *TwilioNotifier) SendAlert(message string) error {
	if n.toNumber == "" {
		return fmt.Errorf("no alert phone number configured")
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.toNumber)
	params.SetFrom(n.fromNumber)
	params.SetBody(message)

	resp, err := n.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio send failed: %w", err)
	}
	if resp.Sid != nil {
		n.logger.WithField("message_sid", *resp.Sid).Debug("Alert SMS sent")
	}
	return nil
}
