package linear

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JohanCodinha/aurora/internal/config"
	"github.com/JohanCodinha/aurora/internal/logger"
	"github.com/JohanCodinha/aurora/internal/models"
	"github.com/JohanCodinha/aurora/internal/store"
)

const testToken = "lin_api_0123456789abcdefghij"

// newTestClient returns a mock server, a client pointed at it with a stored
// token, and the delays the client slept for.
func newTestClient(t *testing.T) (*MockServer, *Client, *store.Memory, *[]time.Duration) {
	t.Helper()

	mock := NewMockServer()
	t.Cleanup(mock.Close)

	s := store.NewMemory()
	if err := s.Set(store.KeyToken, testToken); err != nil {
		t.Fatalf("failed to seed token: %v", err)
	}

	client := New(s, mock.URL, time.Second)
	var mu sync.Mutex
	delays := &[]time.Duration{}
	client.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return mock, client, s, delays
}

// =============================================================================
// Request
// =============================================================================

func TestRequest_MissingCredential(t *testing.T) {
	mock, client, s, _ := newTestClient(t)
	s.Remove(store.KeyToken)

	_, err := client.Request(context.Background(), viewerQuery, nil, "")
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if mock.Requests() != 0 {
		t.Errorf("expected no network I/O, got %d requests", mock.Requests())
	}
}

func TestRequest_AuthHeader(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expected string
	}{
		{"personal api key sent raw", testToken, testToken},
		{"oauth token gets bearer", "oauth-token-abcdefghijklmnop", "Bearer oauth-token-abcdefghijklmnop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, client, _, _ := newTestClient(t)

			if _, err := client.Request(context.Background(), viewerQuery, nil, tt.token); err != nil {
				t.Fatalf("Request() unexpected error: %v", err)
			}
			headers := mock.AuthHeaders()
			if len(headers) != 1 || headers[0] != tt.expected {
				t.Errorf("Authorization = %v, want %q", headers, tt.expected)
			}
		})
	}
}

func TestRequest_OverrideBeatsStoredToken(t *testing.T) {
	mock, client, _, _ := newTestClient(t)

	if _, err := client.Request(context.Background(), viewerQuery, nil, "lin_api_override_token_xyz"); err != nil {
		t.Fatalf("Request() unexpected error: %v", err)
	}
	if got := mock.AuthHeaders()[0]; got != "lin_api_override_token_xyz" {
		t.Errorf("expected override token, got %q", got)
	}
}

func TestRequest_HTTPError(t *testing.T) {
	mock, client, _, _ := newTestClient(t)
	mock.FailNext(1, http.StatusBadRequest, "Argument Validation Error")

	_, err := client.Request(context.Background(), viewerQuery, nil, "")

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %T: %v", err, err)
	}
	if remote.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", remote.StatusCode)
	}
	if remote.Message != "Argument Validation Error" {
		t.Errorf("Message = %q", remote.Message)
	}
}

func TestRequest_GraphQLError(t *testing.T) {
	mock, client, _, _ := newTestClient(t)
	mock.FailGraphQL(1, "Entity not found")

	_, err := client.Request(context.Background(), viewerQuery, nil, "")

	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Message != "Entity not found" {
		t.Fatalf("expected RemoteError with GraphQL message, got %v", err)
	}
}

func TestRequest_Unreachable(t *testing.T) {
	mock, client, _, _ := newTestClient(t)
	mock.Close()

	_, err := client.Request(context.Background(), viewerQuery, nil, "")
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.StatusCode != 0 {
		t.Fatalf("expected transport RemoteError, got %v", err)
	}
}

func TestRequest_Timeout(t *testing.T) {
	mock, _, s, _ := newTestClient(t)
	mock.SetIssueDelay(200 * time.Millisecond)
	client := New(s, mock.URL, 20*time.Millisecond)

	_, err := client.CreateIssue(context.Background(), IssueInput{Title: "t", TeamID: MockTeamID}, RetryPolicy{})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError on timeout, got %v", err)
	}
}

// =============================================================================
// RequestWithRetry
// =============================================================================

func TestRequestWithRetry_SucceedsAfterFailures(t *testing.T) {
	mock, client, _, delays := newTestClient(t)
	mock.FailNext(2, http.StatusInternalServerError, "boom")

	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}
	if _, err := client.RequestWithRetry(context.Background(), viewerQuery, nil, "", policy); err != nil {
		t.Fatalf("RequestWithRetry() unexpected error: %v", err)
	}

	if mock.Requests() != 3 {
		t.Errorf("expected 3 attempts, got %d", mock.Requests())
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestRequestWithRetry_GivesUp(t *testing.T) {
	mock, client, _, delays := newTestClient(t)
	mock.FailNext(10, http.StatusServiceUnavailable, "down")

	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}
	_, err := client.RequestWithRetry(context.Background(), viewerQuery, nil, "", policy)

	var remote *RemoteError
	if !errors.As(err, &remote) || remote.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected final RemoteError, got %v", err)
	}
	if mock.Requests() != 4 {
		t.Errorf("expected 1 attempt + 3 retries, got %d", mock.Requests())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestRequestWithRetry_NoRetryWithoutCredential(t *testing.T) {
	mock, client, s, delays := newTestClient(t)
	s.Remove(store.KeyToken)

	_, err := client.RequestWithRetry(context.Background(), viewerQuery, nil, "", DefaultRetryPolicy)
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if len(*delays) != 0 || mock.Requests() != 0 {
		t.Errorf("missing credential must not consume retries: delays=%v requests=%d", *delays, mock.Requests())
	}
}

func TestRequestWithRetry_StopsOnCancel(t *testing.T) {
	mock, client, _, _ := newTestClient(t)
	mock.FailNext(10, http.StatusInternalServerError, "boom")

	ctx, cancel := context.WithCancel(context.Background())
	client.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := client.RequestWithRetry(ctx, viewerQuery, nil, "", DefaultRetryPolicy)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if mock.Requests() != 1 {
		t.Errorf("expected a single attempt, got %d", mock.Requests())
	}
}

// =============================================================================
// Queries
// =============================================================================

func TestViewerAndTeams(t *testing.T) {
	_, client, _, _ := newTestClient(t)
	ctx := context.Background()

	viewer, err := client.Viewer(ctx)
	if err != nil || viewer == nil || viewer.Name != "Test User" {
		t.Fatalf("Viewer() = %+v, %v", viewer, err)
	}

	teams, err := client.Teams(ctx)
	if err != nil {
		t.Fatalf("Teams() unexpected error: %v", err)
	}
	if len(teams) != 1 || teams[0].Key != "ENG" {
		t.Errorf("unexpected teams: %+v", teams)
	}

	team, err := client.Team(ctx, MockTeamID)
	if err != nil || team == nil || team.ID != MockTeamID {
		t.Errorf("Team() = %+v, %v", team, err)
	}

	missing, err := client.Team(ctx, "00000000-0000-4000-8000-000000000000")
	if err != nil || missing != nil {
		t.Errorf("Team(unknown) = %+v, %v; want nil, nil", missing, err)
	}
}

func TestCreateIssue_Success(t *testing.T) {
	mock, client, _, _ := newTestClient(t)

	issue, err := client.CreateIssue(context.Background(), IssueInput{
		Title:       "Hello",
		Description: "Body",
		TeamID:      MockTeamID,
	}, RetryPolicy{})
	if err != nil {
		t.Fatalf("CreateIssue() unexpected error: %v", err)
	}
	if issue.Identifier != "ENG-1" || issue.URL == "" {
		t.Errorf("unexpected issue: %+v", issue)
	}

	created := mock.Issues()
	if len(created) != 1 || created[0].Description != "Body" || len(created[0].LabelIDs) != 0 {
		t.Errorf("unexpected recorded issues: %+v", created)
	}
}

func TestCreateIssue_DefaultTitle(t *testing.T) {
	mock, client, _, _ := newTestClient(t)

	if _, err := client.CreateIssue(context.Background(), IssueInput{TeamID: MockTeamID}, RetryPolicy{}); err != nil {
		t.Fatalf("CreateIssue() unexpected error: %v", err)
	}
	if got := mock.Issues()[0].Title; got != "Untitled Issue" {
		t.Errorf("title = %q", got)
	}
}

func TestCreateIssue_UnknownTeam(t *testing.T) {
	_, client, _, _ := newTestClient(t)

	_, err := client.CreateIssue(context.Background(), IssueInput{Title: "x", TeamID: "nope"}, RetryPolicy{})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
}

// =============================================================================
// Validation
// =============================================================================

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
		stored  bool
	}{
		{"empty", "   ", true, false},
		{"too short", "lin_api_short", true, false},
		{"rejected by api", "lin_api_wrong_token_0000000", true, false},
		{"accepted", "lin_api_good_token_00000000", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, client, s, _ := newTestClient(t)
			s.Remove(store.KeyToken)
			mock.RequireToken("lin_api_good_token_00000000")

			err := client.ValidateToken(context.Background(), tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var verr *ValidationError
				if !errors.As(err, &verr) || verr.Field != "token" {
					t.Errorf("expected token ValidationError, got %v", err)
				}
			}
			if client.HasCredential() != tt.stored {
				t.Errorf("HasCredential() = %v, want %v", client.HasCredential(), tt.stored)
			}
		})
	}
}

func TestValidateToken_FormatCheckBeforeNetwork(t *testing.T) {
	mock, client, _, _ := newTestClient(t)

	client.ValidateToken(context.Background(), "short")
	if mock.Requests() != 0 {
		t.Errorf("format pre-check should not hit the network, got %d requests", mock.Requests())
	}
}

func TestValidateToken_RejectedWrapsRemoteError(t *testing.T) {
	mock, client, _, _ := newTestClient(t)
	mock.RequireToken("lin_api_other_token_0000000")

	err := client.ValidateToken(context.Background(), "lin_api_wrong_token_0000000")
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected wrapped 401 RemoteError, got %v", err)
	}
}

func TestValidTeamID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{MockTeamID, true},
		{"6F1C2D3E-4B5A-4C7D-8E9F-0A1B2C3D4E5F", true},
		{"6f1c2d3e-4b5a-0c7d-8e9f-0a1b2c3d4e5f", false}, // version 0
		{"6f1c2d3e-4b5a-4c7d-cf9f-0a1b2c3d4e5f", false}, // microsoft variant
		{"6f1c2d3e4b5a4c7d8e9f0a1b2c3d4e5f", false},     // no dashes
		{"{6f1c2d3e-4b5a-4c7d-8e9f-0a1b2c3d4e5f}", false},
		{"ENG", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidTeamID(tt.id); got != tt.want {
			t.Errorf("ValidTeamID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestValidateTeam(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed id never hits network", func(t *testing.T) {
		mock, client, _, _ := newTestClient(t)
		_, err := client.ValidateTeam(ctx, "ENG")
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if mock.Requests() != 0 {
			t.Errorf("expected no requests, got %d", mock.Requests())
		}
	})

	t.Run("unknown team is not stored", func(t *testing.T) {
		_, client, _, _ := newTestClient(t)
		_, err := client.ValidateTeam(ctx, "00000000-0000-4000-8000-000000000000")
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if client.ConfiguredTeamID() != "" {
			t.Error("team id stored despite failed validation")
		}
	})

	t.Run("known team is stored", func(t *testing.T) {
		_, client, _, _ := newTestClient(t)
		team, err := client.ValidateTeam(ctx, MockTeamID)
		if err != nil {
			t.Fatalf("ValidateTeam() unexpected error: %v", err)
		}
		if team.Key != "ENG" || client.ConfiguredTeamID() != MockTeamID {
			t.Errorf("unexpected result: %+v, stored %q", team, client.ConfiguredTeamID())
		}
	})
}

// =============================================================================
// Team resolution and labels
// =============================================================================

func TestTeamID_Resolution(t *testing.T) {
	ctx := context.Background()

	t.Run("configured", func(t *testing.T) {
		mock, client, s, _ := newTestClient(t)
		s.Set(store.KeyTeamID, "configured-team")
		id, err := client.TeamID(ctx)
		if err != nil || id != "configured-team" {
			t.Errorf("TeamID() = %q, %v", id, err)
		}
		if mock.Requests() != 0 {
			t.Errorf("configured team should not query, got %d requests", mock.Requests())
		}
	})

	t.Run("legacy key migrated", func(t *testing.T) {
		_, client, s, _ := newTestClient(t)
		s.Set(store.KeyLegacyTeamID, "legacy-team")
		id, err := client.TeamID(ctx)
		if err != nil || id != "legacy-team" {
			t.Fatalf("TeamID() = %q, %v", id, err)
		}
		var stored string
		if !store.Load(s, store.KeyTeamID, &stored) || stored != "legacy-team" {
			t.Errorf("legacy team id not copied to current key: %q", stored)
		}
	})

	t.Run("first team", func(t *testing.T) {
		_, client, s, _ := newTestClient(t)
		id, err := client.TeamID(ctx)
		if err != nil || id != MockTeamID {
			t.Fatalf("TeamID() = %q, %v", id, err)
		}
		var stored string
		if !store.Load(s, store.KeyTeamID, &stored) || stored != MockTeamID {
			t.Errorf("first team not stored: %q", stored)
		}
	})

	t.Run("no teams", func(t *testing.T) {
		mock, client, _, _ := newTestClient(t)
		mock.SetTeams(nil)
		_, err := client.TeamID(ctx)
		if !errors.Is(err, ErrNoTeam) {
			t.Errorf("expected ErrNoTeam, got %v", err)
		}
	})
}

func TestResolveLabels_GetOrCreate(t *testing.T) {
	mock, client, _, _ := newTestClient(t)
	existing := mock.AddLabel(MockTeamID, "Technology")
	ctx := context.Background()

	ids, err := client.ResolveLabels(ctx, MockTeamID, []string{"technology", "science"})
	if err != nil {
		t.Fatalf("ResolveLabels() unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != existing {
		t.Errorf("expected existing label reused case-insensitively, got %v", ids)
	}
	if mock.LabelCreateCalls() != 1 {
		t.Errorf("expected one label created, got %d", mock.LabelCreateCalls())
	}

	// Second resolution is served from the cache.
	lookups := mock.LabelLookupCalls()
	again, err := client.ResolveLabels(ctx, MockTeamID, []string{"Science"})
	if err != nil || len(again) != 1 || again[0] != ids[1] {
		t.Errorf("cached resolution = %v, %v", again, err)
	}
	if mock.LabelLookupCalls() != lookups {
		t.Errorf("expected no further lookups, got %d", mock.LabelLookupCalls()-lookups)
	}
}

func TestResolveLabels_ConcurrentCreatesOnce(t *testing.T) {
	mock, client, _, _ := newTestClient(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.ResolveLabels(context.Background(), MockTeamID, []string{"sports"}); err != nil {
				t.Errorf("ResolveLabels() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if mock.LabelCreateCalls() != 1 {
		t.Errorf("expected a single create within one process, got %d", mock.LabelCreateCalls())
	}
}

func TestResolveLabels_OtherNamesNotBlocked(t *testing.T) {
	_, client, _, _ := newTestClient(t)

	// Hold the get-or-create of one name as a slow lookup would.
	_, mu := client.labelLock(MockTeamID + "/sports")
	if mu == nil {
		t.Fatal("expected an uncached label to return its lock")
	}
	mu.Lock()
	defer mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := client.ResolveLabels(context.Background(), MockTeamID, []string{"science"})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ResolveLabels() unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("resolving one label blocked on another")
	}
}

// =============================================================================
// SyncPost
// =============================================================================

func testPost() models.Post {
	return models.Post{
		ID:        "p1",
		Author:    models.Author{Name: "Ada", Handle: "ada"},
		Text:      "Our new AI startup is live",
		Timestamp: "2026-03-01T12:30:00Z",
		URL:       "https://x.com/ada/status/1",
	}
}

func TestSyncPost(t *testing.T) {
	mock, client, _, _ := newTestClient(t)
	cfg := config.Defaults()

	issue, err := client.SyncPost(context.Background(), testPost(), cfg)
	if err != nil {
		t.Fatalf("SyncPost() unexpected error: %v", err)
	}
	if issue.Identifier != "ENG-1" {
		t.Errorf("unexpected identifier %q", issue.Identifier)
	}

	created := mock.Issues()
	if len(created) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(created))
	}
	if created[0].Title != "Our new AI startup is live" {
		t.Errorf("title = %q", created[0].Title)
	}
	if !strings.Contains(created[0].Description, "**Author:** Ada (@ada)") {
		t.Errorf("description missing author: %q", created[0].Description)
	}
	if len(created[0].LabelIDs) != 2 {
		t.Errorf("expected technology and business labels, got %v (labels %v)", created[0].LabelIDs, mock.Labels())
	}
}

func TestSyncPost_LabelFailureStillCreates(t *testing.T) {
	mock, client, _, _ := newTestClient(t)
	cfg := config.Defaults()
	cfg.RequestRetries = 0

	// Team resolution succeeds, then the label lookup fails once.
	client.store.Set(store.KeyTeamID, MockTeamID)
	mock.FailGraphQL(1, "label service unavailable")

	if _, err := client.SyncPost(context.Background(), testPost(), cfg); err != nil {
		t.Fatalf("SyncPost() unexpected error: %v", err)
	}
	created := mock.Issues()
	if len(created) != 1 || len(created[0].LabelIDs) != 0 {
		t.Errorf("expected one unlabeled issue, got %+v", created)
	}
}

func TestSyncPost_MissingCredential(t *testing.T) {
	mock, client, s, _ := newTestClient(t)
	s.Remove(store.KeyToken)

	_, err := client.SyncPost(context.Background(), testPost(), config.Defaults())
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if mock.Requests() != 0 {
		t.Errorf("expected no requests, got %d", mock.Requests())
	}
}

func TestSyncPost_UsesConfigRetryPolicy(t *testing.T) {
	mock, client, s, delays := newTestClient(t)
	s.Set(store.KeyTeamID, MockTeamID)
	mock.FailNext(2, http.StatusBadGateway, "bad gateway")

	cfg := config.Defaults()
	cfg.EnableSmartLabels = false
	cfg.RequestRetries = 2
	cfg.RetryBaseDelay = 50

	if _, err := client.SyncPost(context.Background(), testPost(), cfg); err != nil {
		t.Fatalf("SyncPost() unexpected error: %v", err)
	}
	if len(*delays) != 2 || (*delays)[0] != 50*time.Millisecond || (*delays)[1] != 100*time.Millisecond {
		t.Errorf("unexpected backoff delays %v", *delays)
	}
}

// =============================================================================
// CheckConnection
// =============================================================================

func TestCheckConnection(t *testing.T) {
	ctx := context.Background()

	t.Run("no token", func(t *testing.T) {
		mock, client, s, _ := newTestClient(t)
		s.Remove(store.KeyToken)
		got := client.CheckConnection(ctx)
		if got.Connected || got.Status != StatusNoToken || mock.Requests() != 0 {
			t.Errorf("unexpected result %+v (requests %d)", got, mock.Requests())
		}
	})

	t.Run("no team", func(t *testing.T) {
		mock, client, _, _ := newTestClient(t)
		got := client.CheckConnection(ctx)
		if got.Connected || got.Status != StatusNoTeam || mock.Requests() != 0 {
			t.Errorf("unexpected result %+v (requests %d)", got, mock.Requests())
		}
	})

	t.Run("ok", func(t *testing.T) {
		_, client, s, _ := newTestClient(t)
		s.Set(store.KeyTeamID, MockTeamID)
		got := client.CheckConnection(ctx)
		if !got.Connected || got.Status != StatusOK || got.Viewer == nil {
			t.Errorf("unexpected result %+v", got)
		}
	})

	t.Run("remote error", func(t *testing.T) {
		mock, client, s, _ := newTestClient(t)
		s.Set(store.KeyTeamID, MockTeamID)
		mock.FailNext(1, http.StatusInternalServerError, "boom")
		got := client.CheckConnection(ctx)
		if got.Connected || got.Status != StatusError || !strings.Contains(got.Error, "boom") {
			t.Errorf("unexpected result %+v", got)
		}
	})
}

// =============================================================================
// Rate limit logging
// =============================================================================

func TestCheckRateLimit(t *testing.T) {
	tests := []struct {
		name      string
		remaining string
		reset     string
		wantWarn  bool
	}{
		{"nearly exhausted", "3", "1767225600000", true},
		{"exhausted without reset", "0", "", true},
		{"plenty left", "1200", "1767225600000", false},
		{"no header", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger.SetOutput(&buf)
			logger.SetLevel(logger.LevelWarn)
			defer func() {
				logger.SetOutput(os.Stderr)
				logger.SetLevel(logger.LevelInfo)
			}()

			resp := &http.Response{Header: make(http.Header)}
			if tt.remaining != "" {
				resp.Header.Set("X-RateLimit-Requests-Remaining", tt.remaining)
			}
			if tt.reset != "" {
				resp.Header.Set("X-RateLimit-Requests-Reset", tt.reset)
			}

			checkRateLimit(resp)

			warned := strings.Contains(buf.String(), "rate limit nearly exhausted")
			if warned != tt.wantWarn {
				t.Errorf("warned = %v, want %v (output %q)", warned, tt.wantWarn, buf.String())
			}
		})
	}
}
