package authn

import (
	"encoding/json"
	"log"
	"net/http"
)

// Error keys carried in terminal auth responses. Clients key off these, not
// the human-readable message.
const (
	ErrorKeyAuthenticationFailure = "authentication-failure"
	ErrorKeyNotAuthorised         = "principal-not-authorised"
)

// ErrorLink is a follow-up action a client can take to self-correct, carried
// alongside the error body.
type ErrorLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// ErrorEnvelope is the JSON body of every terminal auth response.
type ErrorEnvelope struct {
	ErrorKey     string      `json:"errorKey"`
	ErrorMessage string      `json:"errorMessage"`
	Links        []ErrorLink `json:"links,omitempty"`
}

// WriteUnauthorised writes the 401 envelope. loginLink may be empty, in
// which case no self-correction link is attached.
func WriteUnauthorised(w http.ResponseWriter, message, loginLink string) {
	env := ErrorEnvelope{
		ErrorKey:     ErrorKeyAuthenticationFailure,
		ErrorMessage: message,
	}
	if loginLink != "" {
		env.Links = []ErrorLink{{Rel: "login", Href: loginLink}}
	}
	writeEnvelope(w, http.StatusUnauthorized, env)
}

// WriteForbidden writes the 403 envelope for a valid credential whose caller
// lacks the required standing.
func WriteForbidden(w http.ResponseWriter, message string) {
	writeEnvelope(w, http.StatusForbidden, ErrorEnvelope{
		ErrorKey:     ErrorKeyNotAuthorised,
		ErrorMessage: message,
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Printf("ERROR: failed to encode auth error envelope: %v", err)
	}
}
