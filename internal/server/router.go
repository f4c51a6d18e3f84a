// Package server exposes the thin read/administrative HTTP surface
// supplementing the core Go library API (spec.md §6 keeps Enqueue/Stats/
// Shutdown itself as a plain Go surface, not HTTP). Grounded on
// chinweokwu-MQueue's internal/server/router.go: chi routing, httprate
// per-IP limiting on the whole surface, and a JWT bearer-token gate on
// everything but /healthz.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/golang-jwt/jwt/v4"

	"feedrelay/internal/dispatcher"
	"feedrelay/internal/log"
	"feedrelay/internal/model"
	"feedrelay/internal/store"
)

// Core is the subset of *core.Core the admin surface reads from.
type Core interface {
	Stats() model.Snapshot
	Shutdown(ctx context.Context) dispatcher.DrainReport
}

// DLQ is the subset of *store.DLQ the admin surface browses.
type DLQ interface {
	List(ctx context.Context, endpoint string, limit int) ([]store.DeadLetterEntry, error)
	Delete(ctx context.Context, endpoint, itemID string) error
}

// SetupRouter registers the admin/read-only surface on r.
func SetupRouter(r *chi.Mux, jwtSecret string, core Core, dlq DLQ, logger *log.Logger) {
	r.Use(httprate.Limit(100, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(jwtSecret, logger))

		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			snap := core.Stats()
			if err := json.NewEncoder(w).Encode(snap); err != nil {
				logger.Errorw("failed to encode stats response", "error", err)
				http.Error(w, "failed to encode response", http.StatusInternalServerError)
			}
		})

		r.Get("/dlq", func(w http.ResponseWriter, r *http.Request) {
			endpoint := r.URL.Query().Get("endpoint")
			if endpoint == "" {
				http.Error(w, "missing endpoint", http.StatusBadRequest)
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			if limit <= 0 {
				limit = 50
			}
			entries, err := dlq.List(r.Context(), endpoint, limit)
			if err != nil {
				logger.Errorw("failed to list dead letters", "endpoint", endpoint, "error", err)
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if err := json.NewEncoder(w).Encode(entries); err != nil {
				logger.Errorw("failed to encode dlq response", "error", err)
				http.Error(w, "failed to encode response", http.StatusInternalServerError)
			}
		})

		r.Post("/dlq/delete", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Endpoint string `json:"endpoint"`
				ItemID   string `json:"item_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if req.Endpoint == "" || req.ItemID == "" {
				http.Error(w, "endpoint and item_id are required", http.StatusBadRequest)
				return
			}
			if err := dlq.Delete(r.Context(), req.Endpoint, req.ItemID); err != nil {
				logger.Errorw("failed to delete dead letter", "endpoint", req.Endpoint, "item_id", req.ItemID, "error", err)
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
	})
}

type contextKey string

const claimsKey contextKey = "claims"

func authMiddleware(jwtSecret string, logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := r.Header.Get("Authorization")
			if tokenStr == "" {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}
			if len(tokenStr) > 7 && tokenStr[:7] == "Bearer " {
				tokenStr = tokenStr[7:]
			}
			token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Warnw("rejected admin request with invalid token", "path", r.URL.Path, "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			var subject string
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				subject, _ = claims["sub"].(string)
			}
			logger.Infow("admin request authenticated", "path", r.URL.Path, "sub", subject)
			ctx := context.WithValue(r.Context(), claimsKey, token.Claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
