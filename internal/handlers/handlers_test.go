package handlers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	xhttp "github.com/nimasrn/campaign-dispatcher/pkg/http"
)

func TestWriteJSON(t *testing.T) {
	t.Run("encodes with the given status", func(t *testing.T) {
		ctx := setupTestContext("GET", "/api/v1/campaigns/1", nil)
		writeJSON(ctx, xhttp.StatusCreated, map[string]int{"id": 1})

		assert.Equal(t, xhttp.StatusCreated, ctx.Response.StatusCode())
		assert.JSONEq(t, `{"id":1}`, string(ctx.Response.Body()))
	})

	t.Run("unencodable value is a server error", func(t *testing.T) {
		ctx := setupTestContext("GET", "/api/v1/campaigns/1", nil)
		writeJSON(ctx, xhttp.StatusOK, map[string]float64{"rate": math.NaN()})

		assert.Equal(t, xhttp.StatusInternalServerError, ctx.Response.StatusCode())
		assert.Equal(t, "failed to encode response", errorBody(t, ctx))
	})
}
