package slack

import "testing"

func TestSeverityEmoji(t *testing.T) {
	cases := map[string]string{"critical": "🔴", "warning": "🟡", "info": "🔵", "unknown": "🔵"}
	for severity, want := range cases {
		if got := SeverityEmoji(severity); got != want {
			t.Errorf("SeverityEmoji(%q) = %q, want %q", severity, got, want)
		}
	}
}

func TestAlertNotificationBlocksIncludesInstanceAndDescription(t *testing.T) {
	blocks := AlertNotificationBlocks(AlertInfo{
		AlertID:     "a1",
		Title:       "provisioning failed",
		Severity:    "critical",
		Description: "docker compose up failed",
		Subject:     "inst-1",
	})
	if len(blocks) < 2 {
		t.Fatalf("expected header + fields/description blocks, got %d blocks", len(blocks))
	}
}

func TestTruncate(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	got := truncate(string(long), 100)
	if len(got) != 100 {
		t.Errorf("expected truncated length 100, got %d", len(got))
	}
}
