package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/nimasrn/campaign-dispatcher/internal/services"
	xhttp "github.com/nimasrn/campaign-dispatcher/pkg/http"
)

type MockCampaignService struct {
	mock.Mock
}

func (m *MockCampaignService) Create(ctx context.Context, p model.CampaignCreateRequest) (*model.Campaign, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *MockCampaignService) Get(ctx context.Context, id int64) (*model.CampaignWithStats, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CampaignWithStats), args.Error(1)
}

func (m *MockCampaignService) List(ctx context.Context, f model.CampaignFilter) ([]*model.Campaign, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Campaign), args.Get(1).(int64), args.Error(2)
}

func (m *MockCampaignService) Recipients(ctx context.Context, id int64, limit, offset int) ([]*model.Recipient, int64, error) {
	args := m.Called(ctx, id, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Recipient), args.Get(1).(int64), args.Error(2)
}

func (m *MockCampaignService) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockCampaignService) Start(ctx context.Context, id int64, req services.StartRequest) (*model.Campaign, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *MockCampaignService) ResetFailed(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func withID(ctx *xhttp.RequestCtx, id any) *xhttp.RequestCtx {
	ctx.SetUserValue("id", fmt.Sprint(id))
	return ctx
}

func errorBody(t *testing.T, ctx *xhttp.RequestCtx) string {
	t.Helper()
	var response map[string]string
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
	return response["error"]
}

func TestCampaignHandler_CreateCampaign(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := new(MockCampaignService)
		handler := NewCampaignHandler(svc)

		body, _ := json.Marshal(model.CampaignCreateRequest{
			Name: "Launch", Subject: "Hi", Body: "[VERIFY_BUTTON]", Emails: []string{"a@example.com"},
		})
		svc.On("Create", mock.Anything, mock.MatchedBy(func(p model.CampaignCreateRequest) bool {
			return p.Name == "Launch" && len(p.Emails) == 1
		})).Return(&model.Campaign{ID: 11, Name: "Launch", Status: model.CampaignStatusDraft}, nil)

		ctx := setupTestContext("POST", "/api/v1/campaigns", body)
		handler.CreateCampaign(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())
		var c model.Campaign
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &c))
		assert.Equal(t, int64(11), c.ID)
		assert.Equal(t, model.CampaignStatusDraft, c.Status)
		svc.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		handler := NewCampaignHandler(new(MockCampaignService))

		ctx := setupTestContext("POST", "/api/v1/campaigns", []byte("invalid json"))
		handler.CreateCampaign(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		assert.Contains(t, errorBody(t, ctx), "invalid JSON")
	})

	t.Run("validation error", func(t *testing.T) {
		svc := new(MockCampaignService)
		handler := NewCampaignHandler(svc)
		svc.On("Create", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: name is required", model.ErrInvalidCampaign))

		ctx := setupTestContext("POST", "/api/v1/campaigns", []byte(`{}`))
		handler.CreateCampaign(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		assert.Contains(t, errorBody(t, ctx), "name is required")
	})

	t.Run("internal error is not leaked", func(t *testing.T) {
		svc := new(MockCampaignService)
		handler := NewCampaignHandler(svc)
		svc.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("pq: connection reset"))

		ctx := setupTestContext("POST", "/api/v1/campaigns", []byte(`{}`))
		handler.CreateCampaign(ctx)

		assert.Equal(t, 500, ctx.Response.StatusCode())
		assert.NotContains(t, errorBody(t, ctx), "pq")
	})
}

func TestCampaignHandler_ListCampaigns(t *testing.T) {
	t.Run("with filters", func(t *testing.T) {
		svc := new(MockCampaignService)
		handler := NewCampaignHandler(svc)

		sending := model.CampaignStatusSending
		svc.On("List", mock.Anything, model.CampaignFilter{Status: &sending, Limit: 10, Offset: 20}).
			Return([]*model.Campaign{{ID: 1}, {ID: 2}}, int64(42), nil)

		ctx := setupTestContext("GET", "/api/v1/campaigns?status=sending&limit=10&offset=20", nil)
		handler.ListCampaigns(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		var res listResponse[*model.Campaign]
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &res))
		assert.Len(t, res.Items, 2)
		assert.Equal(t, int64(42), res.Total)
		svc.AssertExpectations(t)
	})

	t.Run("unknown status", func(t *testing.T) {
		handler := NewCampaignHandler(new(MockCampaignService))

		ctx := setupTestContext("GET", "/api/v1/campaigns?status=paused", nil)
		handler.ListCampaigns(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})
}

func TestCampaignHandler_GetCampaign(t *testing.T) {
	svc := new(MockCampaignService)
	handler := NewCampaignHandler(svc)

	svc.On("Get", mock.Anything, int64(3)).Return(&model.CampaignWithStats{
		Campaign: &model.Campaign{ID: 3, Status: model.CampaignStatusCompleted},
		Stats:    model.CampaignStats{Total: 3, Sent: 2, Failed: 1},
	}, nil)
	svc.On("Get", mock.Anything, int64(4)).Return(nil, services.ErrNotFound)

	ctx := withID(setupTestContext("GET", "/api/v1/campaigns/3", nil), 3)
	handler.GetCampaign(ctx)
	assert.Equal(t, 200, ctx.Response.StatusCode())
	var got map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &got))
	assert.Equal(t, "completed", got["status"])
	assert.Equal(t, float64(2), got["stats"].(map[string]any)["sent"])

	ctx = withID(setupTestContext("GET", "/api/v1/campaigns/4", nil), 4)
	handler.GetCampaign(ctx)
	assert.Equal(t, 404, ctx.Response.StatusCode())

	ctx = withID(setupTestContext("GET", "/api/v1/campaigns/abc", nil), "abc")
	handler.GetCampaign(ctx)
	assert.Equal(t, 400, ctx.Response.StatusCode())
}

func TestCampaignHandler_DeleteCampaign(t *testing.T) {
	svc := new(MockCampaignService)
	handler := NewCampaignHandler(svc)

	svc.On("Delete", mock.Anything, int64(1)).Return(nil)
	svc.On("Delete", mock.Anything, int64(2)).Return(services.ErrCampaignBusy)

	ctx := withID(setupTestContext("DELETE", "/api/v1/campaigns/1", nil), 1)
	handler.DeleteCampaign(ctx)
	assert.Equal(t, 204, ctx.Response.StatusCode())

	ctx = withID(setupTestContext("DELETE", "/api/v1/campaigns/2", nil), 2)
	handler.DeleteCampaign(ctx)
	assert.Equal(t, 409, ctx.Response.StatusCode())
}

func TestCampaignHandler_ListRecipients(t *testing.T) {
	svc := new(MockCampaignService)
	handler := NewCampaignHandler(svc)

	svc.On("Recipients", mock.Anything, int64(5), 25, 0).
		Return([]*model.Recipient{{ID: 1, CampaignID: 5, Email: "a@example.com", Status: model.RecipientStatusSent}}, int64(1), nil)

	ctx := withID(setupTestContext("GET", "/api/v1/campaigns/5/recipients?limit=25", nil), 5)
	handler.ListRecipients(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	var res listResponse[*model.Recipient]
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &res))
	require.Len(t, res.Items, 1)
	assert.Equal(t, model.RecipientStatusSent, res.Items[0].Status)
}

func TestCampaignHandler_StartCampaign(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		svc := new(MockCampaignService)
		handler := NewCampaignHandler(svc)

		req := services.StartRequest{SenderEmail: "me@example.com", SenderPassword: "secret"}
		svc.On("Start", mock.Anything, int64(7), req).
			Return(&model.Campaign{ID: 7, Status: model.CampaignStatusSending}, nil)

		body, _ := json.Marshal(req)
		ctx := withID(setupTestContext("POST", "/api/v1/campaigns/7/start", body), 7)
		handler.StartCampaign(ctx)

		assert.Equal(t, 202, ctx.Response.StatusCode())
		assert.NotContains(t, string(ctx.Response.Body()), "secret")
		svc.AssertExpectations(t)
	})

	t.Run("empty body uses defaults", func(t *testing.T) {
		svc := new(MockCampaignService)
		handler := NewCampaignHandler(svc)
		svc.On("Start", mock.Anything, int64(7), services.StartRequest{}).
			Return(&model.Campaign{ID: 7, Status: model.CampaignStatusSending}, nil)

		ctx := withID(setupTestContext("POST", "/api/v1/campaigns/7/start", nil), 7)
		handler.StartCampaign(ctx)

		assert.Equal(t, 202, ctx.Response.StatusCode())
	})

	for name, tc := range map[string]struct {
		err    error
		status int
	}{
		"not startable":  {services.ErrNotStartable, 409},
		"not found":      {services.ErrNotFound, 404},
		"no credentials": {services.ErrCredentialsRequired, 400},
		"launch failed":  {fmt.Errorf("%w: buffer full", services.ErrLaunchFailed), 503},
	} {
		t.Run(name, func(t *testing.T) {
			svc := new(MockCampaignService)
			handler := NewCampaignHandler(svc)
			svc.On("Start", mock.Anything, int64(7), mock.Anything).Return(nil, tc.err)

			ctx := withID(setupTestContext("POST", "/api/v1/campaigns/7/start", nil), 7)
			handler.StartCampaign(ctx)

			assert.Equal(t, tc.status, ctx.Response.StatusCode())
		})
	}
}

func TestCampaignHandler_ResetCampaign(t *testing.T) {
	svc := new(MockCampaignService)
	handler := NewCampaignHandler(svc)
	svc.On("ResetFailed", mock.Anything, int64(7)).Return(int64(3), nil)

	ctx := withID(setupTestContext("POST", "/api/v1/campaigns/7/reset", nil), 7)
	handler.ResetCampaign(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	var res resetResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &res))
	assert.Equal(t, int64(3), res.Reset)
}

func TestCampaignRoutes(t *testing.T) {
	svc := new(MockCampaignService)
	svc.On("Get", mock.Anything, int64(9)).Return(&model.CampaignWithStats{Campaign: &model.Campaign{ID: 9}}, nil)

	s := xhttp.CreateServer()
	RegisterCampaignRoutes(s.Router.Group("/api/v1"), NewCampaignHandler(svc))
	handler := s.Handler()

	ctx := setupTestContext("GET", "/api/v1/campaigns/9", nil)
	handler(ctx)
	assert.Equal(t, 200, ctx.Response.StatusCode())

	ctx = setupTestContext("PUT", "/api/v1/campaigns/9", nil)
	handler(ctx)
	assert.Equal(t, 405, ctx.Response.StatusCode())
}
