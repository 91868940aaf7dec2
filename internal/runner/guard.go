package runner

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIdentityLeak means the ephemeral path received identity-shaped input.
// This is a programmer error: it is returned loudly before any work and is
// never recovered or downgraded.
var ErrIdentityLeak = errors.New("ephemeral request carries identity")

// identityKeys are the forbidden field names, normalized to lowercase with
// underscores removed so userId, user_id, and USERID all match.
var identityKeys = map[string]bool{
	"userid":      true,
	"session":     true,
	"sessionid":   true,
	"authcontext": true,
	"token":       true,
	"credential":  true,
}

// guardNoIdentity walks a dynamically-constructed payload and rejects any
// identity-shaped key at any depth. The typed EphemeralRequest cannot
// carry identity structurally; this check covers what the type system
// cannot see.
func guardNoIdentity(payload map[string]any) error {
	for key, value := range payload {
		normalized := strings.ReplaceAll(strings.ToLower(key), "_", "")
		if identityKeys[normalized] {
			return fmt.Errorf("%w: field %q", ErrIdentityLeak, key)
		}
		if nested, ok := value.(map[string]any); ok {
			if err := guardNoIdentity(nested); err != nil {
				return err
			}
		}
	}
	return nil
}
