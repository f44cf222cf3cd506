package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-bexpr"
	"github.com/uptrace/bun"

	"github.com/jamesgorrie/grid/internal/auth"
	"github.com/jamesgorrie/grid/internal/authn"
	"github.com/jamesgorrie/grid/internal/db/bunx"
	"github.com/jamesgorrie/grid/internal/db/models"
	"github.com/jamesgorrie/grid/internal/registry"
	"github.com/jamesgorrie/grid/internal/repository"
)

// AccessorSummary is the list/read projection of a registered accessor. The
// key hash never leaves the server.
type AccessorSummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Tier       string     `json:"tier"`
	Active     bool       `json:"active"`
	CreatedBy  string     `json:"createdBy"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

func summarize(a models.Accessor) AccessorSummary {
	return AccessorSummary{
		ID:         a.ID,
		Name:       a.Name,
		Tier:       a.Tier,
		Active:     a.Active,
		CreatedBy:  a.CreatedBy,
		CreatedAt:  a.CreatedAt,
		LastUsedAt: a.LastUsedAt,
	}
}

// CreateAccessorResponse carries the plaintext key exactly once. It is not
// recoverable afterwards; only its hash is stored.
type CreateAccessorResponse struct {
	AccessorSummary
	Key string `json:"key"`
}

// HandleCreateAccessor handles POST /management/accessors
// Registers a machine caller and returns the generated plaintext key. The
// registry snapshot is refreshed immediately so the key authenticates
// without waiting for the next tick.
func HandleCreateAccessor(repo repository.AccessorRepository, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req struct {
			Name string `json:"name"`
			Tier string `json:"tier"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "request body must be JSON with name and tier")
			return
		}

		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeBadRequest(w, "name is required")
			return
		}
		tier, err := authn.ParseTier(req.Tier)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}

		if _, err := repo.GetByName(ctx, req.Name); err == nil {
			writeJSON(w, http.StatusConflict, map[string]string{
				"errorKey":     "accessor-exists",
				"errorMessage": "an accessor named " + req.Name + " is already registered",
			})
			return
		} else if !errors.Is(err, repository.ErrNotFound) {
			log.Printf("ERROR: accessor lookup failed: %v", err)
			http.Error(w, "accessor lookup failed", http.StatusInternalServerError)
			return
		}

		key, keyHash, err := auth.GenerateAccessKey()
		if err != nil {
			log.Printf("ERROR: access key generation failed: %v", err)
			http.Error(w, "key generation failed", http.StatusInternalServerError)
			return
		}

		createdBy := "unknown"
		if principal, ok := authn.PrincipalFrom(ctx); ok {
			createdBy = principal.Identity()
		}

		accessor := &models.Accessor{
			ID:        bunx.NewUUIDv7(),
			Name:      req.Name,
			KeyHash:   keyHash,
			Tier:      string(tier),
			Active:    true,
			CreatedBy: createdBy,
		}
		if err := repo.Create(ctx, accessor); err != nil {
			log.Printf("ERROR: accessor create failed: %v", err)
			http.Error(w, "accessor create failed", http.StatusInternalServerError)
			return
		}

		refreshRegistry(ctx, reg)

		log.Printf("INFO: accessor %s (%s) registered by %s", accessor.Name, accessor.Tier, createdBy)
		writeJSON(w, http.StatusCreated, CreateAccessorResponse{
			AccessorSummary: summarize(*accessor),
			Key:             key,
		})
	}
}

// HandleListAccessors handles GET /management/accessors
// An optional ?filter= expression narrows the result, e.g.
// filter=tier == "readonly" and active == true.
func HandleListAccessors(repo repository.AccessorRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var evaluator *bexpr.Evaluator
		if filter := r.URL.Query().Get("filter"); filter != "" {
			var err error
			evaluator, err = bexpr.CreateEvaluator(filter)
			if err != nil {
				writeBadRequest(w, "invalid filter expression: "+err.Error())
				return
			}
		}

		accessors, err := repo.List(r.Context())
		if err != nil {
			log.Printf("ERROR: accessor list failed: %v", err)
			http.Error(w, "accessor list failed", http.StatusInternalServerError)
			return
		}

		out := make([]AccessorSummary, 0, len(accessors))
		for _, a := range accessors {
			if evaluator != nil {
				match, err := evaluator.Evaluate(accessorFilterDoc(a))
				if err != nil || !match {
					continue
				}
			}
			out = append(out, summarize(a))
		}

		writeJSON(w, http.StatusOK, map[string]any{"accessors": out})
	}
}

// accessorFilterDoc is the flat view filter expressions match against.
func accessorFilterDoc(a models.Accessor) map[string]any {
	return map[string]any{
		"name":       a.Name,
		"tier":       a.Tier,
		"active":     a.Active,
		"created_by": a.CreatedBy,
	}
}

// HandleDeactivateAccessor handles DELETE /management/accessors/{id}
// Deactivation is soft: the row stays for audit, the key stops resolving
// once the registry snapshot is refreshed.
func HandleDeactivateAccessor(repo repository.AccessorRepository, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := url.PathUnescape(chi.URLParam(r, "id"))
		if err != nil || id == "" {
			writeBadRequest(w, "accessor id is required")
			return
		}

		if err := repo.Deactivate(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{
					"errorKey":     "accessor-not-found",
					"errorMessage": "no accessor with id " + id,
				})
				return
			}
			log.Printf("ERROR: accessor deactivate failed: %v", err)
			http.Error(w, "accessor deactivate failed", http.StatusInternalServerError)
			return
		}

		refreshRegistry(ctx, reg)

		if principal, ok := authn.PrincipalFrom(ctx); ok {
			log.Printf("INFO: accessor %s deactivated by %s", id, principal.Identity())
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// refreshRegistry folds a registry write-through after a mutation. A failed
// refresh is not fatal; the background loop converges on the next tick.
func refreshRegistry(ctx context.Context, reg *registry.Registry) {
	if reg == nil {
		return
	}
	if err := reg.Refresh(ctx); err != nil {
		log.Printf("WARNING: registry refresh after mutation failed: %v", err)
	}
}

// HandleHealthcheck handles GET /management/healthcheck
// Reports database reachability and registry snapshot freshness. Public so
// load balancers can probe it without a credential.
func HandleHealthcheck(db *bun.DB, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}

		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				log.Printf("ERROR: healthcheck database ping failed: %v", err)
				resp["status"] = "degraded"
				resp["database"] = "unreachable"
				writeJSON(w, http.StatusServiceUnavailable, resp)
				return
			}
			resp["database"] = "ok"
		}

		if reg != nil {
			resp["registry"] = map[string]any{
				"accessors":  reg.Size(),
				"version":    reg.Version(),
				"ageSeconds": int(reg.SnapshotAge().Seconds()),
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
