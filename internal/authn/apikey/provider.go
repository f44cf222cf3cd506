// Package apikey implements the machine credential channel. Keys are
// checksummed tokens carried in a request header (or a query parameter for
// callers that cannot set headers) and resolved against the in-memory
// accessor registry, so the request path never waits on the database.
package apikey

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jamesgorrie/grid/internal/auth"
	"github.com/jamesgorrie/grid/internal/authn"
	"github.com/jamesgorrie/grid/internal/db/models"
	"github.com/jamesgorrie/grid/internal/registry"
	"github.com/jamesgorrie/grid/internal/repository"
	"github.com/jamesgorrie/grid/internal/telemetry"
)

const (
	// DefaultHeader is where machine callers usually present their key.
	DefaultHeader = "X-Gu-Media-Key"

	// queryParam is the fallback for callers that cannot set headers,
	// such as image tags rendered into third-party pages.
	queryParam = "api-key"

	lastUsedTimeout = 5 * time.Second
)

// Provider authenticates machine callers by access key.
//
// Outcomes:
//   - no key presented: NotAuthenticated, the user channel decides
//   - key fails checksum or shape: Invalid
//   - key well formed but not registered: Invalid
//   - key registered but deactivated: NotAuthorised
//   - key registered and active: Authenticated as an ApiKeyAccessor
//
// The provider is stateless per request and safe for concurrent use.
type Provider struct {
	registry    *registry.Registry
	repo        repository.AccessorRepository
	header      string
	serviceName string
}

var _ authn.ApiAuthenticationProvider = (*Provider)(nil)

// NewProvider creates the machine channel provider. header defaults to
// DefaultHeader when empty. serviceName is stamped on enriched outbound
// requests as the originating service.
func NewProvider(reg *registry.Registry, repo repository.AccessorRepository, header, serviceName string) *Provider {
	if header == "" {
		header = DefaultHeader
	}
	return &Provider{
		registry:    reg,
		repo:        repo,
		header:      header,
		serviceName: serviceName,
	}
}

// AuthenticateRequest resolves the access key on r, if any.
func (p *Provider) AuthenticateRequest(ctx context.Context, r *http.Request) authn.ApiAuthenticationStatus {
	key := p.extractKey(r)
	if key == "" {
		return authn.NotAuthenticated{}
	}

	_, span := telemetry.StartSpan(ctx, "grid/authn/apikey", "apikey.AuthenticateRequest")
	defer span.End()

	if err := auth.DecodeAccessKey(key); err != nil {
		telemetry.RecordError(span, err)
		return authn.Invalid{Message: "malformed api key", Cause: err}
	}

	accessor, ok := p.registry.Lookup(auth.HashAccessKey(key))
	if !ok {
		return authn.Invalid{Message: "unrecognised api key"}
	}

	span.SetAttributes(
		attribute.String(telemetry.AttrAccessorName, accessor.Name),
		attribute.String(telemetry.AttrAccessorTier, accessor.Tier),
	)

	if !accessor.Active {
		telemetry.AddEvent(span, "apikey.deactivated")
		return authn.NotAuthorised{Message: fmt.Sprintf("api key for %s has been deactivated", accessor.Name)}
	}

	tier, err := authn.ParseTier(accessor.Tier)
	if err != nil {
		log.Printf("ERROR: accessor %s has unusable tier %q: %v", accessor.Name, accessor.Tier, err)
		return authn.NotAuthorised{Message: fmt.Sprintf("api key for %s has a misconfigured tier", accessor.Name)}
	}

	p.touchLastUsed(accessor)

	return authn.Authenticated{Principal: authn.ApiKeyAccessor{Name: accessor.Name, AccessTier: tier}}
}

// OnBehalfOf returns an enricher that forwards the inbound key on outbound
// calls, stamped with the originating service.
func (p *Provider) OnBehalfOf(r *http.Request) (authn.RequestEnricher, error) {
	key := p.extractKey(r)
	if key == "" {
		return nil, fmt.Errorf("inbound request carries no api key to forward")
	}

	header := p.header
	service := p.serviceName
	return func(req *http.Request) {
		req.Header.Set(header, key)
		req.Header.Set(authn.HeaderOriginalService, service)
	}, nil
}

func (p *Provider) extractKey(r *http.Request) string {
	if key := r.Header.Get(p.header); key != "" {
		return key
	}
	return r.URL.Query().Get(queryParam)
}

// touchLastUsed records key use without blocking the request. The write uses
// a detached context so request cancellation does not lose the update.
func (p *Provider) touchLastUsed(accessor models.Accessor) {
	if p.repo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
		defer cancel()
		if err := p.repo.UpdateLastUsed(ctx, accessor.ID); err != nil {
			log.Printf("WARNING: failed to record last use for accessor %s: %v", accessor.Name, err)
		}
	}()
}
