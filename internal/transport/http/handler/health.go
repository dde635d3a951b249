package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Probe checks one backing dependency. Only configured dependencies get a
// probe, so an absent redis or rabbitmq never fails the check.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthInfo struct {
	App       string
	Env       string
	StartedAt time.Time
}

type HealthHandler struct {
	info   HealthInfo
	probes []Probe
}

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func NewHealthHandler(info HealthInfo, probes ...Probe) *HealthHandler {
	return &HealthHandler{info: info, probes: probes}
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	allOK := true
	deps := gin.H{}
	for _, p := range h.probes {
		st := dependencyStatus{OK: true}
		if err := p.Check(ctx); err != nil {
			st = dependencyStatus{OK: false, Message: err.Error()}
			allOK = false
		}
		deps[p.Name] = st
	}

	statusCode := http.StatusOK
	if !allOK {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"app":          h.info.App,
		"env":          h.info.Env,
		"uptime_sec":   int(time.Since(h.info.StartedAt).Seconds()),
		"dependencies": deps,
	})
}
