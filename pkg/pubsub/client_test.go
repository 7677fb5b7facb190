package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/keydrop-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project, name, want string
	}{
		{"proj", "notifications", "projects/proj/topics/notifications"},
		{"proj", "projects/other/topics/n", "projects/other/topics/n"},
		{"", "notifications", ""},
		{"proj", "  ", ""},
	}
	for _, tc := range cases {
		if got := topicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("topicResourceName(%q,%q)=%q want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	if _, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{NotificationsTopic: "n"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected errProjectIDRequired, got %v", err)
	}
}

func TestClientOptionsUsesCredentialsJSON(t *testing.T) {
	if opts := clientOptions(config.GCPConfig{}); len(opts) != 0 {
		t.Fatalf("expected no options without credentials")
	}
	if opts := clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`}); len(opts) != 1 {
		t.Fatalf("expected credentials option")
	}
}

func TestNilClientPublisher(t *testing.T) {
	var c *Client
	if c.Publisher("topic") != nil {
		t.Fatalf("expected nil publisher")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error on nil client")
	}
}
