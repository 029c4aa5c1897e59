// Package telephony wraps the Twilio REST API for call control and
// TwiML generation.
package telephony

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

type Config struct {
	AccountSID     string
	AuthToken      string
	PhoneNumber    string
	TransferNumber string
}

type Service struct {
	config Config
	client *twilio.RestClient
}

func New(config Config) *Service {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSID,
		Password: config.AuthToken,
	})
	return &Service{config: config, client: client}
}

func (s *Service) AuthToken() string { return s.config.AuthToken }

// MakeCall places an outbound call whose answer webhook points back at
// this server. Status callbacks report lifecycle transitions.
func (s *Service) MakeCall(toNumber, voiceURL, statusURL string) (string, error) {
	params := &twilioApi.CreateCallParams{}
	params.SetTo(toNumber)
	params.SetFrom(s.config.PhoneNumber)
	params.SetUrl(voiceURL)
	params.SetStatusCallback(statusURL)
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})

	resp, err := s.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("twilio: create call: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("twilio: create call returned no sid")
	}
	return *resp.Sid, nil
}

// EndCall completes a live call through the REST API. The Twilio SDK
// does not take a context; the deadline is the SDK's own HTTP timeout.
func (s *Service) EndCall(ctx context.Context, callSID string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := s.client.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("twilio: end call %s: %w", callSID, err)
	}
	return nil
}

// TransferCall redirects a live call to the configured human agent line
// by swapping its TwiML for a Dial verb.
func (s *Service) TransferCall(ctx context.Context, callSID string) error {
	if s.config.TransferNumber == "" {
		return fmt.Errorf("twilio: transfer number not configured")
	}
	dial := &twiml.VoiceDial{Number: s.config.TransferNumber}
	doc, err := twiml.Voice([]twiml.Element{dial})
	if err != nil {
		return fmt.Errorf("twilio: render transfer twiml: %w", err)
	}
	params := &twilioApi.UpdateCallParams{}
	params.SetTwiml(doc)
	if _, err := s.client.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("twilio: transfer call %s: %w", callSID, err)
	}
	return nil
}

// StreamTwiML renders the answer document that connects the call's
// audio to the media stream websocket.
func StreamTwiML(streamURL string) (string, error) {
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{
			&twiml.VoiceStream{Url: streamURL},
		},
	}
	return twiml.Voice([]twiml.Element{connect})
}
