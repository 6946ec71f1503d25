package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPostUnmarshalLegacyTweetID(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantID string
	}{
		{"id field", `{"id":"123","text":"hi"}`, "123"},
		{"legacy tweetId", `{"tweetId":"456","text":"hi"}`, "456"},
		{"id wins over tweetId", `{"id":"1","tweetId":"2"}`, "1"},
		{"neither", `{"text":"hi"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Post
			if err := json.Unmarshal([]byte(tt.input), &p); err != nil {
				t.Fatalf("Unmarshal error: %v", err)
			}
			if p.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", p.ID, tt.wantID)
			}
		})
	}
}

func TestQueueEntryKeepsNestedFields(t *testing.T) {
	raw := `{"post":{"tweetId":"9","author":{"name":"Ada","handle":"ada"},"media":{"images":["a.png"],"videos":[]}},"addedAt":"2026-01-02T03:04:05Z","retryCount":2}`

	var e QueueEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if e.Post.ID != "9" || e.Post.Author.Handle != "ada" || len(e.Post.Media.Images) != 1 {
		t.Errorf("unexpected post: %+v", e.Post)
	}
	if e.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", e.RetryCount)
	}
	if !e.AddedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("AddedAt = %v", e.AddedAt)
	}
}

func TestPostCreatedAt(t *testing.T) {
	p := Post{Timestamp: "2025-12-31T23:59:59.000Z"}
	want := time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)
	if !p.CreatedAt().Equal(want) {
		t.Errorf("CreatedAt() = %v, want %v", p.CreatedAt(), want)
	}

	if !(Post{Timestamp: "yesterday"}).CreatedAt().IsZero() {
		t.Error("malformed timestamp should give zero time")
	}
}

func TestQueueEntryLegacyFlatShape(t *testing.T) {
	raw := `{"tweetId":"7","text":"flat","author":{"name":"Bo","handle":"bo"},"addedAt":"2026-01-02T03:04:05Z","retryCount":1}`

	var e QueueEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if e.Post.ID != "7" || e.Post.Text != "flat" || e.Post.Author.Name != "Bo" {
		t.Errorf("unexpected post: %+v", e.Post)
	}
	if e.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", e.RetryCount)
	}
}

func TestPreviewEntryLegacyFlatShape(t *testing.T) {
	raw := `{"tweetId":"8","text":"p","addedAt":"2026-01-02T03:04:05Z","autoSyncAt":"2026-01-02T03:04:08Z"}`

	var e PreviewEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if e.Post.ID != "8" {
		t.Errorf("Post.ID = %q, want 8", e.Post.ID)
	}
	if e.Status != PreviewPending {
		t.Errorf("Status = %q, want pending", e.Status)
	}
	if e.AutoSyncAt.Sub(e.AddedAt) != 3*time.Second {
		t.Errorf("unexpected autoSyncAt %v", e.AutoSyncAt)
	}
}
