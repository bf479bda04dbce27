package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioGateway sends SMS through the Twilio messaging API.
type TwilioGateway struct {
	client     *twilio.RestClient
	fromNumber string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

func NewTwilioGateway(cfg TwilioConfig) (*TwilioGateway, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio credentials are required")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio from number is required")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioGateway{client: client, fromNumber: cfg.FromNumber}, nil
}

func (g *TwilioGateway) Send(_ context.Context, address, message string) (DeliveryReceipt, error) {
	to, err := Normalize(address)
	if err != nil {
		return DeliveryReceipt{}, &DeliveryError{Address: address, Reason: err.Error()}
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(g.fromNumber)
	params.SetBody(message)

	resp, err := g.client.Api.CreateMessage(params)
	if err != nil {
		return DeliveryReceipt{}, &DeliveryError{Address: to, Reason: err.Error()}
	}

	receipt := DeliveryReceipt{}
	if resp.Sid != nil {
		receipt.ProviderID = *resp.Sid
	}
	return receipt, nil
}
