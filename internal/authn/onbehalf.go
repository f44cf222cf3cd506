package authn

import (
	"fmt"
	"net/http"
)

// HeaderOriginalService names the service that originated an enriched call.
// Downstream services use it to tell a forwarded request from a first-hop
// one. Every enricher stamps it.
const HeaderOriginalService = "X-Gu-Original-Service"

// OnBehalfOfPrincipal knows how to mutate an outbound call so it carries the
// resolved principal's credentials forward. Construction is cheap: it closes
// over the principal and the inbound request's relevant headers and cookies.
type OnBehalfOfPrincipal struct {
	principal Principal
	enrich    RequestEnricher
}

// Principal returns the identity the enrichment forwards.
func (o *OnBehalfOfPrincipal) Principal() Principal {
	return o.principal
}

// Enrich stamps the outbound request with the forwarding credentials. Apply
// exactly once per outbound call; repeated application is not guaranteed to
// be idempotent.
func (o *OnBehalfOfPrincipal) Enrich(req *http.Request) {
	o.enrich(req)
}

// GetOnBehalfOfPrincipal dispatches by principal variant to the matching
// provider's OnBehalfOf: ApiKeyAccessor to the machine channel, PandaUser to
// the user channel.
//
// Enrichment is mandatory once a principal exists. A provider that resolved
// a principal from the inbound request and then cannot find the credential
// to forward is a programming or configuration defect, so the provider's
// error escalates to a panic rather than a per-request failure. The outer
// HTTP recoverer converts it to a 500 without masking the signal.
func (res *Resolver) GetOnBehalfOfPrincipal(p Principal, r *http.Request) *OnBehalfOfPrincipal {
	var (
		enrich RequestEnricher
		err    error
	)
	switch p.(type) {
	case ApiKeyAccessor:
		enrich, err = res.providers.API.OnBehalfOf(r)
	case PandaUser:
		enrich, err = res.providers.User.OnBehalfOf(r)
	default:
		panic(fmt.Sprintf("authn: unknown principal variant %T", p))
	}
	if err != nil {
		panic(fmt.Sprintf("authn: on-behalf-of enrichment unavailable for %s: %v", p.Identity(), err))
	}
	return &OnBehalfOfPrincipal{principal: p, enrich: enrich}
}
