package linear

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockTeamID is the id of the team every MockServer starts with.
const MockTeamID = "6f1c2d3e-4b5a-4c7d-8e9f-0a1b2c3d4e5f"

// MockIssue is an issue recorded by MockServer.
type MockIssue struct {
	Issue
	Description string
	TeamID      string
	LabelIDs    []string
}

type mockLabel struct {
	Label
	TeamID string
}

// MockServer provides a fake Linear GraphQL API for testing. Operations are
// recognized by name in the query text.
type MockServer struct {
	*httptest.Server
	mu sync.Mutex

	viewer     Viewer
	teams      []Team
	labels     []mockLabel
	issues     []MockIssue
	validToken string

	failStatus      int
	failMessage     string
	failHTTPLeft    int
	failGraphQL     string
	failGraphQLLeft int
	issueDelay      time.Duration

	requests         int
	createCalls      int
	labelCreateCalls int
	labelLookupCalls int
	authHeaders      []string
}

// NewMockServer creates a mock Linear API server with one viewer and one
// team (MockTeamID, key ENG). Any non-empty token is accepted.
func NewMockServer() *MockServer {
	m := &MockServer{
		viewer: Viewer{ID: uuid.NewString(), Name: "Test User", Email: "test@example.com"},
		teams:  []Team{{ID: MockTeamID, Name: "Engineering", Key: "ENG"}},
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// SetTeams replaces the team list.
func (m *MockServer) SetTeams(teams []Team) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams = append([]Team(nil), teams...)
}

// AddLabel adds an existing label to a team and returns its id.
func (m *MockServer) AddLabel(teamID, name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.labels = append(m.labels, mockLabel{Label: Label{ID: id, Name: name}, TeamID: teamID})
	return id
}

// Labels returns every label name, in creation order.
func (m *MockServer) Labels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.labels))
	for i, l := range m.labels {
		names[i] = l.Name
	}
	return names
}

// RequireToken makes the server answer 401 unless the request carries token.
func (m *MockServer) RequireToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validToken = token
}

// FailNext makes the next n requests answer with an HTTP status and a JSON
// body carrying message.
func (m *MockServer) FailNext(n, status int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failHTTPLeft, m.failStatus, m.failMessage = n, status, message
}

// FailGraphQL makes the next n requests answer 200 with a GraphQL error.
func (m *MockServer) FailGraphQL(n int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGraphQLLeft, m.failGraphQL = n, message
}

// SetIssueDelay delays every issueCreate response by d.
func (m *MockServer) SetIssueDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issueDelay = d
}

// Issues returns the created issues, in creation order.
func (m *MockServer) Issues() []MockIssue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockIssue(nil), m.issues...)
}

// Requests returns the number of requests received.
func (m *MockServer) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// CreateCalls returns the number of issueCreate calls that reached the
// handler, successful or not.
func (m *MockServer) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

// LabelCreateCalls returns the number of issueLabelCreate calls.
func (m *MockServer) LabelCreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.labelCreateCalls
}

// LabelLookupCalls returns the number of issueLabels queries.
func (m *MockServer) LabelLookupCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.labelLookupCalls
}

// AuthHeaders returns the Authorization header of every request.
func (m *MockServer) AuthHeaders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.authHeaders...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func writeGraphQLError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]any{"errors": []map[string]string{{"message": message}}})
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid json"})
		return
	}

	m.mu.Lock()
	m.requests++
	auth := r.Header.Get("Authorization")
	m.authHeaders = append(m.authHeaders, auth)

	if m.failHTTPLeft > 0 {
		m.failHTTPLeft--
		status, msg := m.failStatus, m.failMessage
		m.mu.Unlock()
		writeJSON(w, status, map[string]string{"message": msg})
		return
	}
	if m.failGraphQLLeft > 0 {
		m.failGraphQLLeft--
		msg := m.failGraphQL
		m.mu.Unlock()
		writeGraphQLError(w, msg)
		return
	}
	if auth == "" || (m.validToken != "" && auth != m.validToken && auth != "Bearer "+m.validToken) {
		m.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"errors": []map[string]string{{"message": "Authentication required, not authenticated"}},
		})
		return
	}
	m.mu.Unlock()

	q := req.Query
	switch {
	case strings.Contains(q, "issueLabelCreate"):
		m.handleLabelCreate(w, req.Variables)
	case strings.Contains(q, "issueLabels"):
		m.handleLabelLookup(w, req.Variables)
	case strings.Contains(q, "issueCreate"):
		m.handleIssueCreate(w, r, req.Variables)
	case strings.Contains(q, "teams"):
		m.mu.Lock()
		teams := append([]Team{}, m.teams...)
		m.mu.Unlock()
		writeData(w, map[string]any{"teams": map[string]any{"nodes": teams}})
	case strings.Contains(q, "team("):
		m.handleTeam(w, req.Variables)
	case strings.Contains(q, "viewer"):
		m.mu.Lock()
		viewer := m.viewer
		m.mu.Unlock()
		writeData(w, map[string]any{"viewer": viewer})
	default:
		writeGraphQLError(w, "unknown operation")
	}
}

func stringVar(vars map[string]any, name string) string {
	s, _ := vars[name].(string)
	return s
}

func (m *MockServer) handleTeam(w http.ResponseWriter, vars map[string]any) {
	id := stringVar(vars, "teamId")

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.teams {
		if t.ID == id {
			writeData(w, map[string]any{"team": t})
			return
		}
	}
	writeData(w, map[string]any{"team": nil})
}

func (m *MockServer) handleLabelLookup(w http.ResponseWriter, vars map[string]any) {
	teamID, name := stringVar(vars, "teamId"), stringVar(vars, "name")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.labelLookupCalls++
	nodes := []Label{}
	for _, l := range m.labels {
		if l.TeamID == teamID && strings.EqualFold(l.Name, name) {
			nodes = append(nodes, l.Label)
		}
	}
	writeData(w, map[string]any{"issueLabels": map[string]any{"nodes": nodes}})
}

func (m *MockServer) handleLabelCreate(w http.ResponseWriter, vars map[string]any) {
	input, _ := vars["input"].(map[string]any)
	name, teamID := stringVar(input, "name"), stringVar(input, "teamId")
	if name == "" {
		writeGraphQLError(w, "label name is required")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.labelCreateCalls++
	label := Label{ID: uuid.NewString(), Name: name}
	m.labels = append(m.labels, mockLabel{Label: label, TeamID: teamID})
	writeData(w, map[string]any{"issueLabelCreate": map[string]any{"success": true, "issueLabel": label}})
}

func (m *MockServer) handleIssueCreate(w http.ResponseWriter, r *http.Request, vars map[string]any) {
	raw, _ := json.Marshal(vars["input"])
	var input IssueInput
	if err := json.Unmarshal(raw, &input); err != nil {
		writeGraphQLError(w, "invalid input")
		return
	}

	m.mu.Lock()
	m.createCalls++
	delay := m.issueDelay
	var team *Team
	for _, t := range m.teams {
		if t.ID == input.TeamID {
			team = &t
			break
		}
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if team == nil {
		writeGraphQLError(w, "Entity not found: Team")
		return
	}

	m.mu.Lock()
	n := len(m.issues) + 1
	issue := MockIssue{
		Issue: Issue{
			ID:         uuid.NewString(),
			Identifier: fmt.Sprintf("%s-%d", team.Key, n),
			Title:      input.Title,
			URL:        fmt.Sprintf("https://linear.app/test/issue/%s-%d", team.Key, n),
			CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		},
		Description: input.Description,
		TeamID:      input.TeamID,
		LabelIDs:    input.LabelIDs,
	}
	m.issues = append(m.issues, issue)
	m.mu.Unlock()

	writeData(w, map[string]any{"issueCreate": map[string]any{"success": true, "issue": issue.Issue}})
}
