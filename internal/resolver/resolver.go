// Package resolver fills missing structured fields in an intent envelope.
// Today that means one thing: turning a spoken recipient name into an
// account id via the contacts directory.
package resolver

import (
	"context"
	"fmt"

	"github.com/sagebank/orchestrator/internal/contacts"
	"github.com/sagebank/orchestrator/internal/intent"
	"github.com/sagebank/orchestrator/internal/logging"
)

// Clarification asks the user for more information instead of proceeding.
type Clarification struct {
	Message    string               `json:"message"`
	Candidates []contacts.Candidate `json:"contact_candidates,omitempty"`
}

// Resolver enriches envelopes using the contacts directory.
type Resolver struct {
	contacts   *contacts.Client
	matchFloor int
}

// New creates a resolver. A non-positive floor falls back to the contacts
// package default.
func New(c *contacts.Client, matchFloor int) *Resolver {
	return &Resolver{contacts: c, matchFloor: matchFloor}
}

// Resolve fills the recipient account id on transfer envelopes that carry
// only a spoken name. All other envelopes pass through untouched. Directory
// failures produce a Clarification rather than an error: the user can simply
// retry.
func (r *Resolver) Resolve(ctx context.Context, token, username string, env *intent.Envelope) (*intent.Envelope, *Clarification) {
	if env.Intent != intent.IntentTransfer ||
		env.Entities.RecipientAccountID != "" ||
		env.Entities.RecipientName == "" {
		return env, nil
	}

	name := env.Entities.RecipientName
	res, err := r.contacts.Resolve(ctx, token, username, name, r.matchFloor)
	if err != nil {
		logging.L(ctx).Warn("contact resolution failed", "error", err)
		return nil, &Clarification{
			Message: "I had trouble looking up your contacts. Please try again.",
		}
	}

	switch {
	case res.Match != nil:
		enriched := *env
		enriched.Entities.RecipientAccountID = res.Match.AccountNum
		return &enriched, nil
	case len(res.Candidates) > 0:
		return nil, &Clarification{
			Message:    "I found several contacts with that name. Which one did you mean?",
			Candidates: res.Candidates,
		}
	}
	return nil, &Clarification{
		Message: fmt.Sprintf("I couldn't find a contact named %q. You can add them as a contact first.", name),
	}
}
