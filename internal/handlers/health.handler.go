package handlers

import (
	"context"

	xhttp "github.com/nimasrn/campaign-dispatcher/pkg/http"
)

type HealthService interface {
	Get(ctx context.Context) map[string]error
}

type HealthHandler struct {
	svc HealthService
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func RegisterHealthRoutes(r *xhttp.Router, h *HealthHandler) {
	r.GET("/health", h.GetHealth)
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{svc: svc}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	res := healthResponse{Status: "ok", Checks: map[string]string{}}
	status := xhttp.StatusOK

	for name, err := range h.svc.Get(ctx) {
		if err != nil {
			res.Checks[name] = err.Error()
			res.Status = "degraded"
			status = xhttp.StatusServiceUnavailable
			continue
		}
		res.Checks[name] = "ok"
	}
	writeJSON(ctx, status, res)
}
