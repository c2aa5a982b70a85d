package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/leadqual/internal/apperrors"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "",
		FromEmail: "test@example.com",
	}, nil)

	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
		FromName:  "",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != defaultFromName {
		t.Errorf("expected default from name 'Lead Qualification', got %q", sender.fromName)
	}
}

func TestNewSendGridSender_CustomFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
		FromName:  "Custom Name",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "Custom Name" {
		t.Errorf("expected from name 'Custom Name', got %q", sender.fromName)
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{
		client: nil,
	}

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test",
		Body:    "Test body",
	})

	if err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test Subject",
		Body:    "Test body",
	})

	if err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	api := &fakeSES{}
	sender := NewSESSender(api, SESConfig{FromEmail: "alerts@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{To: "sales@example.com", Subject: "Hi", Body: "text"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := aws.ToString(api.input.FromEmailAddress); got != "Lead Qualification <alerts@example.com>" {
		t.Errorf("unexpected from address %q", got)
	}
	if got := api.input.Destination.ToAddresses; len(got) != 1 || got[0] != "sales@example.com" {
		t.Errorf("unexpected recipients %v", got)
	}
	if api.input.Content.Simple.Body.Html != nil {
		t.Error("expected no HTML body")
	}
	if got := aws.ToString(api.input.Content.Simple.Body.Text.Data); got != "text" {
		t.Errorf("unexpected text body %q", got)
	}
}

func TestSESSender_SendAlertMetadata(t *testing.T) {
	api := &fakeSES{}
	sender := NewSESSender(api, SESConfig{FromEmail: "alerts@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:       "sales@example.com",
		ReplyTo:  "jane@acme.io",
		Subject:  "Qualified lead",
		Body:     "text",
		Category: "lead_qualified",
		ThreadID: "contact_c1_conversation",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := api.input.ReplyToAddresses; len(got) != 1 || got[0] != "jane@acme.io" {
		t.Errorf("unexpected reply-to %v", got)
	}
	tags := map[string]string{}
	for _, tag := range api.input.EmailTags {
		tags[aws.ToString(tag.Name)] = aws.ToString(tag.Value)
	}
	if tags["category"] != "lead_qualified" || tags["thread_id"] != "contact_c1_conversation" {
		t.Errorf("unexpected tags %v", tags)
	}
}

func TestSESTagValue(t *testing.T) {
	if got := sesTagValue("contact_a.b@c 1"); got != "contact_a_b_c_1" {
		t.Errorf("unexpected tag value %q", got)
	}
}

func TestBuildSendGridMail(t *testing.T) {
	msg := buildSendGridMail(mail.NewEmail("Leads", "alerts@example.com"), EmailMessage{
		To:       "sales@example.com",
		ReplyTo:  "jane@acme.io",
		Subject:  "Handoff requested",
		Body:     "plain",
		Category: "handoff_requested",
		ThreadID: "t-1",
	})
	if msg.ReplyTo == nil || msg.ReplyTo.Address != "jane@acme.io" {
		t.Errorf("expected reply-to to be the lead, got %+v", msg.ReplyTo)
	}
	if len(msg.Categories) != 1 || msg.Categories[0] != "handoff_requested" {
		t.Errorf("unexpected categories %v", msg.Categories)
	}
	if msg.CustomArgs["thread_id"] != "t-1" {
		t.Errorf("unexpected custom args %v", msg.CustomArgs)
	}
	if len(msg.Content) != 2 || msg.Content[1].Value != "plain" {
		t.Errorf("expected plain body reused as html, got %+v", msg.Content)
	}
}

func TestSESSender_SendError(t *testing.T) {
	sender := NewSESSender(&fakeSES{err: errors.New("throttled")}, SESConfig{FromEmail: "a@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{To: "b@example.com", Subject: "s", Body: "b"})
	var ext *apperrors.ExternalServiceError
	if !errors.As(err, &ext) || ext.Service != "ses" {
		t.Fatalf("expected ses ExternalServiceError, got %v", err)
	}
}

func TestNewSESSender_NilClient(t *testing.T) {
	if NewSESSender(nil, SESConfig{}, nil) != nil {
		t.Error("expected nil sender without a client")
	}
}
