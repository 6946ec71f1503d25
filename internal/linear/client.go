// Package linear provides a Linear GraphQL API client that turns liked posts
// into issues.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JohanCodinha/aurora/internal/config"
	"github.com/JohanCodinha/aurora/internal/logger"
	"github.com/JohanCodinha/aurora/internal/md"
	"github.com/JohanCodinha/aurora/internal/models"
	"github.com/JohanCodinha/aurora/internal/store"
)

var log = logger.Named("linear")

const (
	// DefaultTimeout bounds a single request attempt.
	DefaultTimeout = 10 * time.Second

	// minTokenLength rejects obviously truncated tokens before a round-trip.
	minTokenLength = 20
)

// Team is a Linear team.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"key"`
}

// Viewer is the authenticated Linear user.
type Viewer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Issue is a created Linear issue.
type Issue struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	CreatedAt  string `json:"createdAt"`
}

// Label is a Linear issue label.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IssueInput is the payload of an issueCreate mutation.
type IssueInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	TeamID      string   `json:"teamId"`
	LabelIDs    []string `json:"labelIds"`
}

// RetryPolicy controls RequestWithRetry. Attempt n (from 0) waits
// BaseDelay * 2^n before the next attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy retries three times starting at one second.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}

// PolicyFromConfig derives the retry policy from the sync config.
func PolicyFromConfig(cfg config.Config) RetryPolicy {
	return RetryPolicy{MaxRetries: cfg.RequestRetries, BaseDelay: cfg.RetryBaseDelayDuration()}
}

// Client is a Linear GraphQL API client. The token and team id are read from
// the store on every call, so changes apply immediately.
type Client struct {
	endpoint   string
	timeout    time.Duration
	store      store.Store
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error

	// labelMu guards labelIDs, which caches team/lowercased-name -> label
	// id for the life of the process, and labelLocks, which serializes
	// get-or-create per name.
	labelMu    sync.Mutex
	labelIDs   map[string]string
	labelLocks map[string]*sync.Mutex
}

// New creates a client for the GraphQL endpoint, reading credentials from s.
// A zero timeout means DefaultTimeout.
func New(s store.Store, endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if endpoint == "" {
		endpoint = config.DefaultEndpoint
	}
	return &Client{
		endpoint:   endpoint,
		timeout:    timeout,
		store:      s,
		httpClient: &http.Client{},
		sleep:      sleepContext,
		labelIDs:   make(map[string]string),
		labelLocks: make(map[string]*sync.Mutex),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Endpoint returns the GraphQL endpoint URL.
func (c *Client) Endpoint() string { return c.endpoint }

// token returns the stored credential, or "" when none is configured.
func (c *Client) token() string {
	var token string
	store.Load(c.store, store.KeyToken, &token)
	return strings.TrimSpace(token)
}

// HasCredential reports whether a token is configured.
func (c *Client) HasCredential() bool {
	return c.token() != ""
}

// policy derives the retry policy from the stored config.
func (c *Client) policy() RetryPolicy {
	return PolicyFromConfig(config.Load(c.store))
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// authHeader returns the Authorization header value for token. Personal API
// keys are sent as-is; OAuth tokens get the Bearer scheme.
func authHeader(token string) string {
	if strings.HasPrefix(token, "lin_api_") {
		return token
	}
	return "Bearer " + token
}

// Request performs a single GraphQL request and returns the data member.
// tokenOverride, when non-empty, is used instead of the stored token.
func (c *Client) Request(ctx context.Context, query string, vars map[string]any, tokenOverride string) (json.RawMessage, error) {
	token := strings.TrimSpace(tokenOverride)
	if token == "" {
		token = c.token()
	}
	if token == "" {
		return nil, ErrMissingCredential
	}

	if vars == nil {
		vars = map[string]any{}
	}
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader(token))

	log.Debug("request %s (token %s)", operationName(query), logger.Redact(token))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RemoteError{Message: "request failed: " + err.Error(), Err: err}
	}
	defer resp.Body.Close()

	checkRateLimit(resp)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: "failed to read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: errorMessage(resp, data)}
	}

	var result graphQLResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: "failed to decode response: " + err.Error(), Err: err}
	}
	if len(result.Errors) > 0 {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: result.Errors[0].Message}
	}
	return result.Data, nil
}

// errorMessage extracts a message from a non-2xx response body, falling back
// to the status line.
func errorMessage(resp *http.Response, body []byte) string {
	var parsed struct {
		Message string         `json:"message"`
		Errors  []graphQLError `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if len(parsed.Errors) > 0 && parsed.Errors[0].Message != "" {
			return parsed.Errors[0].Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 200 {
		return text
	}
	return resp.Status
}

// checkRateLimit logs rate limit information from response headers.
func checkRateLimit(resp *http.Response) {
	remaining := resp.Header.Get("X-RateLimit-Requests-Remaining")
	if remaining == "" {
		return
	}
	n, err := strconv.Atoi(remaining)
	if err != nil || n > 10 {
		return
	}
	reset := resp.Header.Get("X-RateLimit-Requests-Reset")
	if ms, err := strconv.ParseInt(reset, 10, 64); err == nil {
		log.Warn("rate limit nearly exhausted: %d requests left, resets at %s", n, time.UnixMilli(ms).UTC().Format(time.RFC3339))
		return
	}
	log.Warn("rate limit nearly exhausted: %d requests left", n)
}

// operationName returns the operation name of query, for logs.
func operationName(query string) string {
	fields := strings.Fields(query)
	if len(fields) >= 2 && (fields[0] == "query" || fields[0] == "mutation") && fields[1] != "{" {
		return strings.SplitN(fields[1], "(", 2)[0]
	}
	return "anonymous"
}

// RequestWithRetry wraps Request with exponential backoff. Missing
// credentials and cancellation are returned immediately; every other error
// is retried up to policy.MaxRetries times.
func (c *Client) RequestWithRetry(ctx context.Context, query string, vars map[string]any, tokenOverride string, policy RetryPolicy) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		data, err := c.Request(ctx, query, vars, tokenOverride)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrMissingCredential) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= policy.MaxRetries {
			return nil, err
		}

		delay := policy.BaseDelay * time.Duration(1<<attempt)
		log.Info("retry %d/%d in %s after error: %v", attempt+1, policy.MaxRetries, delay, err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// do runs query with retry and decodes the data member into out.
func (c *Client) do(ctx context.Context, query string, vars map[string]any, tokenOverride string, policy RetryPolicy, out any) error {
	data, err := c.RequestWithRetry(ctx, query, vars, tokenOverride, policy)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &RemoteError{Message: "failed to decode data: " + err.Error(), Err: err}
	}
	return nil
}

const viewerQuery = `query Viewer {
  viewer {
    id
    name
    email
  }
}`

// Viewer returns the authenticated user.
func (c *Client) Viewer(ctx context.Context) (*Viewer, error) {
	var out struct {
		Viewer *Viewer `json:"viewer"`
	}
	if err := c.do(ctx, viewerQuery, nil, "", c.policy(), &out); err != nil {
		return nil, err
	}
	return out.Viewer, nil
}

const teamsQuery = `query Teams {
  teams {
    nodes {
      id
      name
      key
    }
  }
}`

// Teams lists the teams the token can access.
func (c *Client) Teams(ctx context.Context) ([]Team, error) {
	var out struct {
		Teams struct {
			Nodes []Team `json:"nodes"`
		} `json:"teams"`
	}
	if err := c.do(ctx, teamsQuery, nil, "", c.policy(), &out); err != nil {
		return nil, err
	}
	return out.Teams.Nodes, nil
}

const teamQuery = `query Team($teamId: String!) {
  team(id: $teamId) {
    id
    name
    key
  }
}`

// Team fetches one team. A nil team with a nil error means it does not exist
// or is not accessible.
func (c *Client) Team(ctx context.Context, id string) (*Team, error) {
	return c.team(ctx, id, c.policy())
}

func (c *Client) team(ctx context.Context, id string, policy RetryPolicy) (*Team, error) {
	var out struct {
		Team *Team `json:"team"`
	}
	if err := c.do(ctx, teamQuery, map[string]any{"teamId": id}, "", policy, &out); err != nil {
		return nil, err
	}
	return out.Team, nil
}

const issueCreateMutation = `mutation IssueCreate($input: IssueCreateInput!) {
  issueCreate(input: $input) {
    success
    issue {
      id
      identifier
      title
      url
      createdAt
    }
  }
}`

// CreateIssue creates an issue under policy.
func (c *Client) CreateIssue(ctx context.Context, in IssueInput, policy RetryPolicy) (*Issue, error) {
	if in.Title == "" {
		in.Title = md.Untitled
	}
	if in.LabelIDs == nil {
		in.LabelIDs = []string{}
	}

	var out struct {
		IssueCreate struct {
			Success bool   `json:"success"`
			Issue   *Issue `json:"issue"`
		} `json:"issueCreate"`
	}
	if err := c.do(ctx, issueCreateMutation, map[string]any{"input": in}, "", policy, &out); err != nil {
		return nil, err
	}
	if !out.IssueCreate.Success || out.IssueCreate.Issue == nil {
		return nil, &RemoteError{Message: "issue creation was not successful"}
	}
	return out.IssueCreate.Issue, nil
}

// ValidateToken checks token format, proves it with a viewer round-trip and
// stores it. Nothing is stored unless the round-trip succeeds.
func (c *Client) ValidateToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return &ValidationError{Field: "token", Message: "token must not be empty"}
	}
	if len(token) < minTokenLength {
		return &ValidationError{Field: "token", Message: "token is too short, expected a Linear API key"}
	}
	if !strings.HasPrefix(token, "lin_") {
		log.Warn("token does not look like a Linear API key (expected lin_api_ prefix)")
	}

	data, err := c.Request(ctx, `query { viewer { id } }`, nil, token)
	if err != nil {
		return &ValidationError{Field: "token", Message: "token rejected", Err: err}
	}
	var out struct {
		Viewer *struct {
			ID string `json:"id"`
		} `json:"viewer"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.Viewer == nil || out.Viewer.ID == "" {
		return &ValidationError{Field: "token", Message: "unexpected response to viewer query"}
	}

	if err := c.store.Set(store.KeyToken, token); err != nil {
		return err
	}
	log.Info("token validated and saved (%s)", logger.Redact(token))
	return nil
}

// ValidTeamID reports whether id is an RFC 4122 UUID of version 1 to 5.
func ValidTeamID(id string) bool {
	if len(id) != 36 {
		return false
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return u.Version() >= 1 && u.Version() <= 5 && u.Variant() == uuid.RFC4122
}

// ValidateTeam checks the id shape, confirms the team exists and stores it.
func (c *Client) ValidateTeam(ctx context.Context, id string) (*Team, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &ValidationError{Field: "team", Message: "team id must not be empty"}
	}
	if !ValidTeamID(id) {
		return nil, &ValidationError{Field: "team", Message: "team id must be a UUID"}
	}

	team, err := c.team(ctx, id, RetryPolicy{})
	if err != nil {
		if errors.Is(err, ErrMissingCredential) {
			return nil, err
		}
		return nil, &ValidationError{Field: "team", Message: "team lookup failed", Err: err}
	}
	if team == nil {
		return nil, &ValidationError{Field: "team", Message: "team not found or not accessible"}
	}

	if err := c.store.Set(store.KeyTeamID, id); err != nil {
		return nil, err
	}
	log.Info("team %s (%s) validated and saved", team.Key, team.ID)
	return team, nil
}

// ConfiguredTeamID returns the stored team id, checking the legacy key too.
func (c *Client) ConfiguredTeamID() string {
	var id string
	if store.Load(c.store, store.KeyTeamID, &id) && id != "" {
		return id
	}
	if store.Load(c.store, store.KeyLegacyTeamID, &id) && id != "" {
		return id
	}
	return ""
}

// TeamID resolves the team to file issues under: the configured id, then the
// legacy key (copied to the current key), then the first accessible team
// (stored for next time).
func (c *Client) TeamID(ctx context.Context) (string, error) {
	return c.teamID(ctx, c.policy())
}

func (c *Client) teamID(ctx context.Context, policy RetryPolicy) (string, error) {
	var id string
	if store.Load(c.store, store.KeyTeamID, &id) && id != "" {
		return id, nil
	}
	if store.Load(c.store, store.KeyLegacyTeamID, &id) && id != "" {
		if err := c.store.Set(store.KeyTeamID, id); err != nil {
			log.Warn("failed to migrate legacy team id: %v", err)
		}
		log.Info("using legacy team id %s", id)
		return id, nil
	}

	var out struct {
		Teams struct {
			Nodes []Team `json:"nodes"`
		} `json:"teams"`
	}
	if err := c.do(ctx, teamsQuery, nil, "", policy, &out); err != nil {
		return "", fmt.Errorf("failed to list teams: %w", err)
	}
	if len(out.Teams.Nodes) == 0 {
		return "", ErrNoTeam
	}
	first := out.Teams.Nodes[0]
	if err := c.store.Set(store.KeyTeamID, first.ID); err != nil {
		log.Warn("failed to store team id: %v", err)
	}
	log.Info("no team configured, using first team %s (%s)", first.Name, first.ID)
	return first.ID, nil
}

const labelLookupQuery = `query IssueLabels($teamId: ID!, $name: String!) {
  issueLabels(filter: { name: { eqIgnoreCase: $name }, team: { id: { eq: $teamId } } }) {
    nodes {
      id
      name
    }
  }
}`

const labelCreateMutation = `mutation IssueLabelCreate($input: IssueLabelCreateInput!) {
  issueLabelCreate(input: $input) {
    success
    issueLabel {
      id
      name
    }
  }
}`

// ResolveLabels returns label ids for names in teamID, creating labels that
// do not exist. Lookup is case-insensitive. Get-or-create is serialized per
// name and results are cached, so one process never creates the same label
// twice while different names resolve concurrently.
func (c *Client) ResolveLabels(ctx context.Context, teamID string, names []string) ([]string, error) {
	return c.resolveLabels(ctx, teamID, names, c.policy())
}

func (c *Client) resolveLabels(ctx context.Context, teamID string, names []string, policy RetryPolicy) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, err := c.resolveLabel(ctx, teamID, name, policy)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// labelLock returns the cached id for key, or the lock that guards its
// get-or-create.
func (c *Client) labelLock(key string) (string, *sync.Mutex) {
	c.labelMu.Lock()
	defer c.labelMu.Unlock()
	if id, ok := c.labelIDs[key]; ok {
		return id, nil
	}
	mu, ok := c.labelLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		c.labelLocks[key] = mu
	}
	return "", mu
}

func (c *Client) cachedLabel(key string) (string, bool) {
	c.labelMu.Lock()
	defer c.labelMu.Unlock()
	id, ok := c.labelIDs[key]
	return id, ok
}

func (c *Client) resolveLabel(ctx context.Context, teamID, name string, policy RetryPolicy) (string, error) {
	key := teamID + "/" + strings.ToLower(name)
	id, mu := c.labelLock(key)
	if mu == nil {
		return id, nil
	}
	mu.Lock()
	defer mu.Unlock()

	// Another caller may have resolved it while we waited.
	if id, ok := c.cachedLabel(key); ok {
		return id, nil
	}

	var found struct {
		IssueLabels struct {
			Nodes []Label `json:"nodes"`
		} `json:"issueLabels"`
	}
	vars := map[string]any{"teamId": teamID, "name": name}
	if err := c.do(ctx, labelLookupQuery, vars, "", policy, &found); err != nil {
		return "", fmt.Errorf("failed to look up label %q: %w", name, err)
	}

	for _, l := range found.IssueLabels.Nodes {
		if strings.EqualFold(l.Name, name) {
			id = l.ID
			break
		}
	}

	if id == "" {
		var created struct {
			IssueLabelCreate struct {
				Success    bool   `json:"success"`
				IssueLabel *Label `json:"issueLabel"`
			} `json:"issueLabelCreate"`
		}
		input := map[string]any{"input": map[string]any{"name": name, "teamId": teamID}}
		if err := c.do(ctx, labelCreateMutation, input, "", policy, &created); err != nil {
			return "", fmt.Errorf("failed to create label %q: %w", name, err)
		}
		if !created.IssueLabelCreate.Success || created.IssueLabelCreate.IssueLabel == nil {
			return "", &RemoteError{Message: fmt.Sprintf("label %q creation was not successful", name)}
		}
		id = created.IssueLabelCreate.IssueLabel.ID
		log.Info("created label %q", name)
	}

	c.labelMu.Lock()
	c.labelIDs[key] = id
	c.labelMu.Unlock()
	return id, nil
}

// SyncPost renders post under cfg and creates one issue for it. Label
// resolution failures are logged and the issue is created without labels.
func (c *Client) SyncPost(ctx context.Context, post models.Post, cfg config.Config) (*Issue, error) {
	if !c.HasCredential() {
		return nil, ErrMissingCredential
	}
	policy := PolicyFromConfig(cfg)

	teamID, err := c.teamID(ctx, policy)
	if err != nil {
		return nil, err
	}

	var labelIDs []string
	if names := md.Labels(post, cfg); len(names) > 0 {
		labelIDs, err = c.resolveLabels(ctx, teamID, names, policy)
		if err != nil {
			log.Warn("creating issue for %s without labels: %v", post.ID, err)
			labelIDs = nil
		}
	}

	issue, err := c.CreateIssue(ctx, IssueInput{
		Title:       md.Title(post, cfg),
		Description: md.Description(post),
		TeamID:      teamID,
		LabelIDs:    labelIDs,
	}, policy)
	if err != nil {
		return nil, err
	}
	log.Info("created %s for post %s", issue.Identifier, post.ID)
	return issue, nil
}

// Connection statuses.
const (
	StatusNoToken         = "no_token"
	StatusNoTeam          = "no_team"
	StatusOK              = "ok"
	StatusInvalidResponse = "invalid_response"
	StatusError           = "error"
)

// Connection is the result of CheckConnection.
type Connection struct {
	Connected bool    `json:"connected"`
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	Viewer    *Viewer `json:"viewer,omitempty"`
}

// CheckConnection checks, in order, that a token is configured, that a team
// is configured and that the API answers a viewer query. Configuration gaps
// are reported without network I/O.
func (c *Client) CheckConnection(ctx context.Context) Connection {
	if !c.HasCredential() {
		return Connection{Status: StatusNoToken, Error: ErrMissingCredential.Error()}
	}
	if c.ConfiguredTeamID() == "" {
		return Connection{Status: StatusNoTeam, Error: "no team configured"}
	}

	data, err := c.Request(ctx, viewerQuery, nil, "")
	if err != nil {
		return Connection{Status: StatusError, Error: err.Error()}
	}
	var out struct {
		Viewer *Viewer `json:"viewer"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.Viewer == nil || out.Viewer.ID == "" {
		return Connection{Status: StatusInvalidResponse, Error: "unexpected response to viewer query"}
	}
	return Connection{Connected: true, Status: StatusOK, Viewer: out.Viewer}
}
