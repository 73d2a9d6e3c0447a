package export

import (
	"strings"
	"testing"
	"time"
)

func TestRenderGlossaryHTML(t *testing.T) {
	data := TemplateData{
		Name:        "Engineering",
		Description: "How the engineering org defines its words.",
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Entries: []TemplateEntry{
			{
				TermName:    "cache",
				ContentHTML: SafeHTML("<p>A fast intermediate store.</p>"),
				Author:      "Ada",
				PublishedAt: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
				Endorsed:    true,
			},
			{
				TermName:    "shard",
				ContentHTML: SafeHTML("<p>A horizontal partition.</p>"),
				Author:      "Ben",
				PublishedAt: time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC),
			},
		},
	}

	html, err := RenderGlossaryHTML(data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{"Engineering", "cache", "shard", "<p>A fast intermediate store.</p>", "endorsed"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
	// HTML content must not be escaped.
	if strings.Contains(html, "&lt;p&gt;") {
		t.Error("definition HTML was escaped")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Engineering", "Engineering"},
		{"Customer Support", "Customer-Support"},
		{"a/b\\c:d", "abcd"},
		{"", "glossary"},
		{"///", "glossary"},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b<c>")
	if strings.Contains(got, " ") || strings.Contains(got, "+") {
		t.Errorf("spaces must encode as %%20, got %q", got)
	}
	if !strings.Contains(got, "%20") {
		t.Errorf("expected %%20 in %q", got)
	}
	if strings.Contains(got, "<") || strings.Contains(got, ">") {
		t.Errorf("angle brackets must be encoded, got %q", got)
	}
}
