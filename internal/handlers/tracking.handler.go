package handlers

import (
	"context"

	"github.com/nimasrn/campaign-dispatcher/internal/tracking"
	xhttp "github.com/nimasrn/campaign-dispatcher/pkg/http"
	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
)

type TrackingService interface {
	RecordOpen(ctx context.Context, recipientID int64) (bool, error)
	RecordClick(ctx context.Context, recipientID int64) (bool, error)
}

type TrackingHandler struct {
	svc TrackingService
}

// RegisterTrackingRoutes mounts the endpoints on the root router: the paths
// are embedded in sent mail and must not move with the API version.
func RegisterTrackingRoutes(r *xhttp.Router, h *TrackingHandler) {
	r.GET("/track/open/{id}", h.TrackOpen)
	r.GET("/track/click/{id}", h.TrackClick)
}

func NewTrackingHandler(svc TrackingService) *TrackingHandler {
	return &TrackingHandler{svc: svc}
}

// TrackOpen always serves the pixel, whatever the id.
func (h *TrackingHandler) TrackOpen(ctx *xhttp.RequestCtx) {
	if id, err := pathInt64(ctx, "id"); err == nil {
		if _, err := h.svc.RecordOpen(ctx, id); err != nil {
			logger.Warn("failed to record open", "recipient_id", id, "error", err)
		}
	}

	ctx.Response.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response.Header.Set("Pragma", "no-cache")
	ctx.Response.Header.SetContentType(tracking.PixelContentType)
	ctx.Response.SetStatusCode(xhttp.StatusOK)
	ctx.Response.SetBodyRaw(tracking.PixelGIF)
}

func (h *TrackingHandler) TrackClick(ctx *xhttp.RequestCtx) {
	if id, err := pathInt64(ctx, "id"); err == nil {
		if _, err := h.svc.RecordClick(ctx, id); err != nil {
			logger.Warn("failed to record click", "recipient_id", id, "error", err)
		}
	}

	ctx.Response.Header.Set("Cache-Control", "no-store")
	ctx.Response.Header.SetContentType("text/html; charset=utf-8")
	ctx.Response.SetStatusCode(xhttp.StatusOK)
	ctx.Response.SetBodyString(tracking.ClickPage)
}
