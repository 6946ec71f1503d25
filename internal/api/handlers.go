package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/JohanCodinha/aurora/internal/app"
	"github.com/JohanCodinha/aurora/internal/models"
	"github.com/gin-gonic/gin"
)

// Handler adapts app commands to HTTP.
type Handler struct {
	app *app.App
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, app.Response{Error: msg})
}

func (h *Handler) SubmitPost(c *gin.Context) {
	var post models.Post
	if err := c.ShouldBindJSON(&post); err != nil {
		badRequest(c, "invalid json body")
		return
	}
	resp := h.app.SubmitLikedPost(c.Request.Context(), post)
	if post.ID == "" {
		c.JSON(http.StatusBadRequest, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.GetSyncStatus())
}

func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.GetSyncStats())
}

func (h *Handler) Recent(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, h.app.GetRecentPosts(limit))
}

func (h *Handler) Queue(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.GetQueue())
}

func (h *Handler) ProcessQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.ProcessQueueNow(c.Request.Context()))
}

func (h *Handler) SetCredential(c *gin.Context) {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid json body")
		return
	}
	c.JSON(http.StatusOK, h.app.SetCredential(c.Request.Context(), body.Token))
}

func (h *Handler) CheckConnection(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.CheckConnection(c.Request.Context()))
}

func (h *Handler) Teams(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.GetTeams(c.Request.Context()))
}

func (h *Handler) Team(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.GetTeam(c.Request.Context()))
}

func (h *Handler) SetTeam(c *gin.Context) {
	var body struct {
		TeamID string `json:"teamId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid json body")
		return
	}
	c.JSON(http.StatusOK, h.app.SetTeam(c.Request.Context(), body.TeamID))
}

func (h *Handler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.GetConfig())
}

func (h *Handler) UpdateConfig(c *gin.Context) {
	var partial map[string]json.RawMessage
	if err := c.ShouldBindJSON(&partial); err != nil {
		badRequest(c, "invalid json body")
		return
	}
	resp := h.app.SetConfig(partial)
	if !resp.Success {
		c.JSON(http.StatusBadRequest, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ClearHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.ClearSyncHistory())
}

func (h *Handler) Preview(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.GetPreviewQueue())
}

func (h *Handler) ConfirmPreview(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.ConfirmPreviewItem(c.Request.Context(), c.Param("id")))
}

func (h *Handler) SkipPreview(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.SkipPreviewItem(c.Param("id")))
}

func (h *Handler) ConfirmAllPreview(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.ConfirmAllPreview(c.Request.Context()))
}

func (h *Handler) SkipAllPreview(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.SkipAllPreview())
}

func (h *Handler) CheckHistorical(c *gin.Context) {
	var body struct {
		Timestamp string `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid json body")
		return
	}
	c.JSON(http.StatusOK, h.app.CheckHistorical(body.Timestamp))
}

func (h *Handler) Debug(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.GetDebugInfo())
}

// Events streams bus events as server-sent events until the client leaves.
func (h *Handler) Events(c *gin.Context) {
	events, unsubscribe := h.app.Bus().Subscribe(32)
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"status": "ok"})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
