// Package models defines the records that flow through the sync pipeline.
package models

import (
	"encoding/json"
	"time"
)

// Author identifies who wrote a liked post.
type Author struct {
	Name   string `json:"name"`
	Handle string `json:"handle"`
}

// Media lists the attachments of a post, in page order.
type Media struct {
	Images []string `json:"images"`
	Videos []string `json:"videos"`
}

// Post is a scraped social-media item. ID is the dedup key.
type Post struct {
	ID        string `json:"id"`
	Author    Author `json:"author"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"` // ISO-8601 creation time of the source item
	URL       string `json:"url"`
	Media     Media  `json:"media"`
}

// UnmarshalJSON accepts the legacy "tweetId" field as an alias for "id".
// Queues persisted by older versions carry the alias.
func (p *Post) UnmarshalJSON(data []byte) error {
	type plain Post
	var aux struct {
		plain
		TweetID string `json:"tweetId"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = Post(aux.plain)
	if p.ID == "" {
		p.ID = aux.TweetID
	}
	return nil
}

// CreatedAt parses Timestamp. The zero time is returned when it is absent or malformed.
func (p Post) CreatedAt() time.Time {
	t, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// QueueEntry is a post waiting for a retry after a failed sync.
type QueueEntry struct {
	Post       Post      `json:"post"`
	AddedAt    time.Time `json:"addedAt"`
	RetryCount int       `json:"retryCount"`
}

// UnmarshalJSON also accepts the flat legacy shape, where the post fields sit
// beside addedAt and retryCount.
func (e *QueueEntry) UnmarshalJSON(data []byte) error {
	type plain QueueEntry
	var aux plain
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = QueueEntry(aux)
	if e.Post.ID == "" {
		e.Post = flatPost(data, e.Post)
	}
	return nil
}

// flatPost decodes data as a top-level post, returning fallback when that
// yields no id.
func flatPost(data []byte, fallback Post) Post {
	var p Post
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		return fallback
	}
	return p
}

// PreviewStatus is the state of a preview entry.
type PreviewStatus string

const (
	PreviewPending   PreviewStatus = "pending"
	PreviewConfirmed PreviewStatus = "confirmed"
	PreviewSkipped   PreviewStatus = "skipped"
)

// PreviewEntry is a post awaiting operator confirmation before it is synced.
type PreviewEntry struct {
	Post       Post          `json:"post"`
	AddedAt    time.Time     `json:"addedAt"`
	AutoSyncAt time.Time     `json:"autoSyncAt"`
	Status     PreviewStatus `json:"status"`
	DecidedAt  *time.Time    `json:"decidedAt,omitempty"`
}

// UnmarshalJSON also accepts the flat legacy shape.
func (e *PreviewEntry) UnmarshalJSON(data []byte) error {
	type plain PreviewEntry
	var aux plain
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = PreviewEntry(aux)
	if e.Post.ID == "" {
		e.Post = flatPost(data, e.Post)
	}
	if e.Status == "" {
		e.Status = PreviewPending
	}
	return nil
}

// SyncStats counts successful and failed syncs.
// TodaySynced resets whenever the local date differs from LastSyncDate.
type SyncStats struct {
	TotalSynced  int        `json:"totalSynced"`
	TodaySynced  int        `json:"todaySynced"`
	FailureCount int        `json:"failureCount"`
	LastSyncDate string     `json:"lastSyncDate"` // YYYY-MM-DD, local time
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`
}

// RecentPost is a synced post shown in the recent list.
type RecentPost struct {
	Post            Post      `json:"post"`
	SyncedAt        time.Time `json:"syncedAt"`
	IssueID         string    `json:"issueId,omitempty"`
	IssueIdentifier string    `json:"issueIdentifier,omitempty"`
	IssueURL        string    `json:"issueUrl,omitempty"`
}

// UnmarshalJSON also accepts the flat legacy shape.
func (r *RecentPost) UnmarshalJSON(data []byte) error {
	type plain RecentPost
	var aux plain
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = RecentPost(aux)
	if r.Post.ID == "" {
		r.Post = flatPost(data, r.Post)
	}
	return nil
}
