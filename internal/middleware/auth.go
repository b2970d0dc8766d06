package middleware

import (
	"context"
	"net/http"

	"github.com/samlabs/depman/internal/models"
	apierrors "github.com/samlabs/depman/internal/pkg/errors"
	"github.com/samlabs/depman/internal/pkg/response"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ClientKey is the context key under which the authenticated client is stored.
const ClientKey contextKey = "client"

// ClientResolver resolves an agent API key to its registered client.
// A nil client with nil error means the key is unknown.
type ClientResolver func(ctx context.Context, apiKey string) (*models.Client, error)

// AgentAuth authenticates agent endpoints via the X-API-Key header and
// stores the resolved client in the request context.
func AgentAuth(resolve ClientResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}

			client, err := resolve(r.Context(), apiKey)
			if err != nil || client == nil {
				response.Error(w, apierrors.ErrUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClientKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClient retrieves the authenticated client from context.
func GetClient(ctx context.Context) *models.Client {
	if v := ctx.Value(ClientKey); v != nil {
		return v.(*models.Client)
	}
	return nil
}
