package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sshscan/sshscan-worker/internal/config"
	"github.com/sshscan/sshscan-worker/internal/worker"
)

// StatusSource provides the loop state to report.
type StatusSource interface {
	Snapshot() worker.StatusSnapshot
}

type Handler struct {
	status StatusSource
}

func NewHandler(status StatusSource) *Handler {
	return &Handler{status: status}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type statusResponse struct {
	worker.StatusSnapshot
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
}

func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"data": statusResponse{
			StatusSnapshot: h.status.Snapshot(),
			Version:        config.Version,
			BuildTime:      config.BuildTime,
		},
	})
}
