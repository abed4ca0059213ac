package credstore

import (
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/race-platform/race-core/internal/raceconfig"
)

// NewRelyingParty builds the webauthn.WebAuthn instance a node's
// client registration/authentication ceremonies run against, from the
// rp-id/rp-name/rp-origins/authenticator-attachment/user-verification/
// resident-key keys of spec.md §6's configuration tree.
func NewRelyingParty(cfg raceconfig.WebAuthnConfig) (*webauthn.WebAuthn, error) {
	attachment := protocol.AuthenticatorAttachment(cfg.AuthenticatorAttachment)
	if cfg.AuthenticatorAttachment == "" || cfg.AuthenticatorAttachment == "any" {
		attachment = ""
	}
	verification := protocol.VerificationPreferred
	switch cfg.UserVerification {
	case "required":
		verification = protocol.VerificationRequired
	case "discouraged":
		verification = protocol.VerificationDiscouraged
	case "preferred", "any", "":
		verification = protocol.VerificationPreferred
	}
	residentKey := protocol.ResidentKeyRequirementDiscouraged
	if cfg.ResidentKey {
		residentKey = protocol.ResidentKeyRequirementRequired
	}

	w, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPName,
		RPOrigins:     cfg.RPOrigins,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			AuthenticatorAttachment: attachment,
			UserVerification:        verification,
			ResidentKey:             residentKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("credstore: build relying party: %w", err)
	}
	return w, nil
}
