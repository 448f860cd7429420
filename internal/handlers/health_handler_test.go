package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHealth map[string]error

func (s stubHealth) Get(context.Context) map[string]error { return s }

func TestHealthHandler_GetHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ctx := setupTestContext("GET", "/health", nil)
		NewHealthHandler(stubHealth{"postgres": nil}).GetHealth(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		var res healthResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &res))
		assert.Equal(t, "ok", res.Status)
		assert.Equal(t, "ok", res.Checks["postgres"])
	})

	t.Run("degraded", func(t *testing.T) {
		ctx := setupTestContext("GET", "/health", nil)
		NewHealthHandler(stubHealth{"postgres": nil, "redis": errors.New("redis: refused")}).GetHealth(ctx)

		assert.Equal(t, 503, ctx.Response.StatusCode())
		var res healthResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &res))
		assert.Equal(t, "degraded", res.Status)
		assert.Equal(t, "redis: refused", res.Checks["redis"])
	})
}
