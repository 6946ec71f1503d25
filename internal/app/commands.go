package app

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/JohanCodinha/aurora/internal/config"
	"github.com/JohanCodinha/aurora/internal/dedup"
	"github.com/JohanCodinha/aurora/internal/linear"
	"github.com/JohanCodinha/aurora/internal/models"
	"github.com/JohanCodinha/aurora/internal/sync"
)

// SubmitResponse answers SubmitLikedPost.
type SubmitResponse struct {
	Success bool                 `json:"success"`
	Outcome sync.Outcome         `json:"outcome,omitempty"`
	Skipped bool                 `json:"skipped,omitempty"`
	Queued  bool                 `json:"queued,omitempty"`
	Pending bool                 `json:"pending,omitempty"`
	Issue   *linear.Issue        `json:"issue,omitempty"`
	Preview *models.PreviewEntry `json:"preview,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// Response is the plain {success, error} answer.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SweepResponse answers ProcessQueueNow.
type SweepResponse struct {
	Success bool              `json:"success"`
	Report  *sync.SweepReport `json:"report,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// TeamsResponse answers GetTeams.
type TeamsResponse struct {
	Success bool          `json:"success"`
	Teams   []linear.Team `json:"teams"`
	Error   string        `json:"error,omitempty"`
}

// TeamResponse answers GetTeam and SetTeam.
type TeamResponse struct {
	Success bool         `json:"success"`
	TeamID  string       `json:"teamId,omitempty"`
	Team    *linear.Team `json:"team,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// ConfigResponse answers SetConfig.
type ConfigResponse struct {
	Success bool           `json:"success"`
	Config  *config.Config `json:"config,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// PreviewResponse answers ConfirmPreviewItem and SkipPreviewItem.
type PreviewResponse struct {
	Success bool                 `json:"success"`
	Outcome sync.Outcome         `json:"outcome,omitempty"`
	Issue   *linear.Issue        `json:"issue,omitempty"`
	Entry   *models.PreviewEntry `json:"entry,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// BatchPreviewResponse answers ConfirmAllPreview and SkipAllPreview.
type BatchPreviewResponse struct {
	Success bool          `json:"success"`
	Count   int           `json:"count"`
	Results []sync.Result `json:"results,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// HistoricalResponse answers CheckHistorical.
type HistoricalResponse struct {
	IsHistorical bool `json:"isHistorical"`
	ShouldSync   bool `json:"shouldSync"`
}

// SubmitLikedPost syncs a newly liked post, or holds it for preview.
func (a *App) SubmitLikedPost(ctx context.Context, post models.Post) SubmitResponse {
	res, err := a.engine.Submit(ctx, post)
	if err != nil {
		if errors.Is(err, sync.ErrMissingID) {
			return SubmitResponse{Error: err.Error()}
		}
		return SubmitResponse{Issue: res.Issue, Error: errString("sync failed", err)}
	}

	resp := SubmitResponse{Outcome: res.Outcome, Issue: res.Issue, Preview: res.Preview, Error: res.Error}
	switch res.Outcome {
	case sync.OutcomeSynced:
		resp.Success = true
	case sync.OutcomeAlreadySynced, sync.OutcomeSkipped:
		resp.Success, resp.Skipped = true, true
	case sync.OutcomeInProgress:
		resp.Skipped = true
		resp.Error = "sync already in progress for this post"
	case sync.OutcomeQueued:
		resp.Queued = true
	case sync.OutcomePending:
		resp.Success, resp.Pending = true, true
	}
	return resp
}

// GetSyncStatus reports whether a sync is running.
func (a *App) GetSyncStatus() sync.Status {
	return a.engine.Status()
}

// GetSyncStats returns the sync counters.
func (a *App) GetSyncStats() models.SyncStats {
	return a.dedup.Stats()
}

// GetRecentPosts returns up to limit recently synced posts, newest first.
func (a *App) GetRecentPosts(limit int) []models.RecentPost {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	recent := a.dedup.Recent(limit)
	if recent == nil {
		recent = []models.RecentPost{}
	}
	return recent
}

// GetQueue returns the retry queue.
func (a *App) GetQueue() []models.QueueEntry {
	q := a.dedup.ListQueue()
	if q == nil {
		q = []models.QueueEntry{}
	}
	return q
}

// ProcessQueueNow runs a queue sweep and waits for it.
func (a *App) ProcessQueueNow(ctx context.Context) SweepResponse {
	report, err := a.engine.ProcessQueue(ctx)
	if err != nil {
		return SweepResponse{Error: errString("queue sweep failed", err)}
	}
	return SweepResponse{Success: true, Report: &report}
}

// SetCredential validates and stores a Linear API token.
func (a *App) SetCredential(ctx context.Context, token string) Response {
	if err := a.client.ValidateToken(ctx, token); err != nil {
		return Response{Error: errString("failed to save token", err)}
	}
	return Response{Success: true}
}

// CheckConnection classifies the state of the Linear connection.
func (a *App) CheckConnection(ctx context.Context) linear.Connection {
	return a.client.CheckConnection(ctx)
}

// GetTeams lists the teams the token can access.
func (a *App) GetTeams(ctx context.Context) TeamsResponse {
	teams, err := a.client.Teams(ctx)
	if err != nil {
		return TeamsResponse{Teams: []linear.Team{}, Error: errString("failed to list teams", err)}
	}
	return TeamsResponse{Success: true, Teams: teams}
}

// GetTeam returns the configured team.
func (a *App) GetTeam(ctx context.Context) TeamResponse {
	id := a.client.ConfiguredTeamID()
	if id == "" {
		return TeamResponse{Error: "no team configured"}
	}
	team, err := a.client.Team(ctx, id)
	if err != nil {
		return TeamResponse{TeamID: id, Error: errString("failed to load team", err)}
	}
	if team == nil {
		return TeamResponse{TeamID: id, Error: "configured team not found or not accessible"}
	}
	return TeamResponse{Success: true, TeamID: id, Team: team}
}

// SetTeam validates and stores the team issues are filed under.
func (a *App) SetTeam(ctx context.Context, id string) TeamResponse {
	team, err := a.client.ValidateTeam(ctx, id)
	if err != nil {
		return TeamResponse{TeamID: id, Error: errString("failed to save team", err)}
	}
	return TeamResponse{Success: true, TeamID: team.ID, Team: team}
}

// GetConfig returns the effective config.
func (a *App) GetConfig() config.Config {
	return config.Load(a.store)
}

// SetConfig merges partial over the effective config.
func (a *App) SetConfig(partial map[string]json.RawMessage) ConfigResponse {
	cfg, err := config.Update(a.store, partial)
	if err != nil {
		return ConfigResponse{Error: errString("failed to update config", err)}
	}
	return ConfigResponse{Success: true, Config: &cfg}
}

// ClearSyncHistory forgets every synced post and starts a new install epoch.
func (a *App) ClearSyncHistory() Response {
	if err := a.dedup.ClearHistory(); err != nil {
		return Response{Error: errString("failed to clear history", err)}
	}
	return Response{Success: true}
}

// GetPreviewQueue returns every preview entry.
func (a *App) GetPreviewQueue() []models.PreviewEntry {
	p := a.dedup.ListPreview()
	if p == nil {
		p = []models.PreviewEntry{}
	}
	return p
}

// ConfirmPreviewItem syncs a pending preview entry now.
func (a *App) ConfirmPreviewItem(ctx context.Context, id string) PreviewResponse {
	res, err := a.engine.ConfirmPreview(ctx, id)
	if err != nil {
		return PreviewResponse{Entry: res.Preview, Error: previewError("confirm", err)}
	}
	resp := PreviewResponse{Outcome: res.Outcome, Issue: res.Issue, Entry: res.Preview, Error: res.Error}
	resp.Success = res.Outcome == sync.OutcomeSynced || res.Outcome == sync.OutcomeAlreadySynced
	return resp
}

// SkipPreviewItem drops a pending preview entry.
func (a *App) SkipPreviewItem(id string) PreviewResponse {
	entry, err := a.engine.SkipPreview(id)
	if err != nil {
		return PreviewResponse{Error: previewError("skip", err)}
	}
	return PreviewResponse{Success: true, Outcome: sync.OutcomeSkipped, Entry: &entry}
}

func previewError(action string, err error) string {
	switch {
	case errors.Is(err, dedup.ErrNotFound):
		return "preview item not found"
	case errors.Is(err, dedup.ErrNotPending):
		return "preview item was already handled"
	}
	return errString("failed to "+action+" preview item", err)
}

// ConfirmAllPreview confirms every pending preview entry.
func (a *App) ConfirmAllPreview(ctx context.Context) BatchPreviewResponse {
	results, err := a.engine.ConfirmAll(ctx)
	resp := BatchPreviewResponse{Success: err == nil, Count: len(results), Results: results}
	if err != nil {
		resp.Error = errString("batch confirm interrupted", err)
	}
	return resp
}

// SkipAllPreview skips every pending preview entry.
func (a *App) SkipAllPreview() BatchPreviewResponse {
	n, err := a.engine.SkipAll()
	if err != nil {
		return BatchPreviewResponse{Count: n, Error: errString("batch skip failed", err)}
	}
	return BatchPreviewResponse{Success: true, Count: n}
}

// CheckHistorical reports whether a post created at timestamp predates the
// install and whether it should be synced anyway.
func (a *App) CheckHistorical(timestamp string) HistoricalResponse {
	historical := a.dedup.IsHistorical(timestamp)
	return HistoricalResponse{
		IsHistorical: historical,
		ShouldSync:   !historical || config.Load(a.store).SyncHistoricalLikes,
	}
}

// DebugInfo is a snapshot of everything useful when diagnosing a setup.
type DebugInfo struct {
	TokenConfigured  bool             `json:"tokenConfigured"`
	TeamID           string           `json:"teamId"`
	Endpoint         string           `json:"endpoint"`
	DBPath           string           `json:"dbPath,omitempty"`
	StorageBytes     int64            `json:"storageBytes"`
	Stats            models.SyncStats `json:"stats"`
	QueueSize        int              `json:"queueSize"`
	PreviewSize      int              `json:"previewSize"`
	PendingTimers    int              `json:"pendingTimers"`
	SyncedCount      int              `json:"syncedTweetsCount"`
	InFlight         []string         `json:"inFlight"`
	Sweeping         bool             `json:"sweeping"`
	InstallTimestamp int64            `json:"installTimestamp"`
	SyncState        sync.Status      `json:"syncState"`
	Config           config.Config    `json:"config"`
	Keys             []string         `json:"keys"`
}

// GetDebugInfo collects a DebugInfo snapshot. The token itself is never
// included.
func (a *App) GetDebugInfo() DebugInfo {
	info := DebugInfo{
		TokenConfigured:  a.client.HasCredential(),
		TeamID:           a.client.ConfiguredTeamID(),
		Endpoint:         a.client.Endpoint(),
		Stats:            a.dedup.Stats(),
		QueueSize:        a.dedup.QueueLen(),
		PreviewSize:      len(a.dedup.ListPreview()),
		PendingTimers:    a.engine.PendingTimers(),
		SyncedCount:      a.dedup.SyncedCount(),
		InFlight:         a.dedup.InFlight(),
		Sweeping:         a.engine.Sweeping(),
		InstallTimestamp: a.dedup.InstallTimestamp(),
		SyncState:        a.engine.Status(),
		Config:           config.Load(a.store),
	}

	all := a.store.GetAll()
	for key, raw := range all {
		info.Keys = append(info.Keys, key)
		if a.db == nil {
			info.StorageBytes += int64(len(key) + len(raw))
		}
	}
	sort.Strings(info.Keys)
	if a.db != nil {
		info.DBPath = a.db.Path()
		info.StorageBytes = a.db.SizeBytes()
	}
	return info
}
