package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/samlabs/depman/internal/models"
	apierrors "github.com/samlabs/depman/internal/pkg/errors"
)

// mockClientService is a mock implementation of ClientService for testing.
type mockClientService struct {
	registerFunc      func(ctx context.Context, name string, cfg *models.ClientConfig) (*models.Client, error)
	listFunc          func(ctx context.Context) ([]*models.Client, error)
	getFunc           func(ctx context.Context, id uuid.UUID) (*models.Client, error)
	updateConfigFunc  func(ctx context.Context, id uuid.UUID, cfg models.ClientConfig) error
	deployFunc        func(ctx context.Context, id uuid.UUID, version string) error
	updateHistoryFunc func(ctx context.Context, id uuid.UUID) ([]*models.UpdateLog, error)
}

func (m *mockClientService) Register(ctx context.Context, name string, cfg *models.ClientConfig) (*models.Client, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, name, cfg)
	}
	return nil, nil
}

func (m *mockClientService) List(ctx context.Context) ([]*models.Client, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx)
	}
	return nil, nil
}

func (m *mockClientService) Get(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockClientService) UpdateConfig(ctx context.Context, id uuid.UUID, cfg models.ClientConfig) error {
	if m.updateConfigFunc != nil {
		return m.updateConfigFunc(ctx, id, cfg)
	}
	return nil
}

func (m *mockClientService) Deploy(ctx context.Context, id uuid.UUID, version string) error {
	if m.deployFunc != nil {
		return m.deployFunc(ctx, id, version)
	}
	return nil
}

func (m *mockClientService) UpdateHistory(ctx context.Context, id uuid.UUID) ([]*models.UpdateLog, error) {
	if m.updateHistoryFunc != nil {
		return m.updateHistoryFunc(ctx, id)
	}
	return nil, nil
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestClientHandler_Register(t *testing.T) {
	t.Run("returns api key exactly once", func(t *testing.T) {
		clientID := uuid.New()
		h := NewClientHandler(&mockClientService{
			registerFunc: func(ctx context.Context, name string, cfg *models.ClientConfig) (*models.Client, error) {
				return &models.Client{ID: clientID, Name: name, APIKey: "secret-key"}, nil
			},
		})

		req := agentRequest(t, http.MethodPost, "/api/clients", models.RegisterClientRequest{Name: "alpha"}, nil)
		rec := httptest.NewRecorder()

		h.Register(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp models.RegisterClientResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.APIKey != "secret-key" {
			t.Errorf("Expected api_key in registration response, got %q", resp.APIKey)
		}
		if resp.ID != clientID {
			t.Errorf("Expected client id %s, got %s", clientID, resp.ID)
		}
	})

	t.Run("rejects empty name", func(t *testing.T) {
		h := NewClientHandler(&mockClientService{})
		req := agentRequest(t, http.MethodPost, "/api/clients", models.RegisterClientRequest{}, nil)
		rec := httptest.NewRecorder()

		h.Register(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected status 400, got %d", rec.Code)
		}
	})
}

func TestClientHandler_Deploy(t *testing.T) {
	clientID := uuid.New()

	t.Run("queues deployment", func(t *testing.T) {
		var gotVersion string
		h := NewClientHandler(&mockClientService{
			deployFunc: func(ctx context.Context, id uuid.UUID, version string) error {
				gotVersion = version
				return nil
			},
		})

		req := agentRequest(t, http.MethodPost, "/api/clients/"+clientID.String()+"/deploy",
			models.DeployRequest{Version: "2.0.0"}, nil)
		req = withURLParam(req, "id", clientID.String())
		rec := httptest.NewRecorder()

		h.Deploy(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if gotVersion != "2.0.0" {
			t.Errorf("Expected deploy of 2.0.0, got %q", gotVersion)
		}
	})

	t.Run("returns 404 for unknown version", func(t *testing.T) {
		h := NewClientHandler(&mockClientService{
			deployFunc: func(ctx context.Context, id uuid.UUID, version string) error {
				return apierrors.NewNotFoundError("Version")
			},
		})

		req := agentRequest(t, http.MethodPost, "/api/clients/"+clientID.String()+"/deploy",
			models.DeployRequest{Version: "9.9.9"}, nil)
		req = withURLParam(req, "id", clientID.String())
		rec := httptest.NewRecorder()

		h.Deploy(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("Expected status 404, got %d", rec.Code)
		}
	})

	t.Run("rejects malformed client id", func(t *testing.T) {
		h := NewClientHandler(&mockClientService{})
		req := agentRequest(t, http.MethodPost, "/api/clients/not-a-uuid/deploy",
			models.DeployRequest{Version: "2.0.0"}, nil)
		req = withURLParam(req, "id", "not-a-uuid")
		rec := httptest.NewRecorder()

		h.Deploy(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected status 400, got %d", rec.Code)
		}
	})
}

func TestClientHandler_List(t *testing.T) {
	t.Run("omits api keys from listing", func(t *testing.T) {
		h := NewClientHandler(&mockClientService{
			listFunc: func(ctx context.Context) ([]*models.Client, error) {
				return []*models.Client{
					{ID: uuid.New(), Name: "alpha", APIKey: "secret"},
				}, nil
			},
		})

		req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
		rec := httptest.NewRecorder()

		h.List(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		var raw []map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
			t.Fatal(err)
		}
		if len(raw) != 1 {
			t.Fatalf("Expected one client, got %d", len(raw))
		}
		if _, present := raw[0]["api_key"]; present {
			t.Error("api_key must never appear in client listings")
		}
	})
}
