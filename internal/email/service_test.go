package email

import (
	"strings"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	if NewService(Config{}).IsConfigured() {
		t.Error("empty config should not be configured")
	}
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "glossary@example.com"})
	if !svc.IsConfigured() {
		t.Error("full config should be configured")
	}
}

func TestSendHTMLEmailUnconfigured(t *testing.T) {
	if err := NewService(Config{}).SendHTMLEmail([]string{"a@example.com"}, "subject", "<p>hi</p>"); err == nil {
		t.Error("sending without config should error")
	}
}

func TestRenderTemplates(t *testing.T) {
	html, err := renderTemplate(verificationEmailTemplate, verificationData{
		AppName:         "Glossary",
		UserName:        "Ada",
		VerificationURL: "https://example.com/verify?token=abc",
	})
	if err != nil {
		t.Fatalf("render verification: %v", err)
	}
	if !strings.Contains(html, "Ada") || !strings.Contains(html, "token=abc") {
		t.Error("verification template missing data")
	}

	html, err = renderTemplate(notificationEmailTemplate, notificationData{
		AppName:  "Glossary",
		UserName: "Ada",
		Message:  "Your draft of “cache” reached the approval quorum.",
		LinkURL:  "https://example.com/drafts/d1",
	})
	if err != nil {
		t.Fatalf("render notification: %v", err)
	}
	if !strings.Contains(html, "approval quorum") || !strings.Contains(html, "drafts/d1") {
		t.Error("notification template missing data")
	}

	// Empty link hides the button.
	html, err = renderTemplate(notificationEmailTemplate, notificationData{AppName: "Glossary", UserName: "Ada", Message: "hello"})
	if err != nil {
		t.Fatalf("render notification without link: %v", err)
	}
	if strings.Contains(html, "class=\"button\"") {
		t.Error("button should be hidden without a link")
	}
}
