package daemon

import (
	"errors"
	"fmt"
	"os"

	"github.com/peervault/peervault/internal/common"
	"github.com/peervault/peervault/internal/cryptox"
	"github.com/peervault/peervault/internal/identity"
)

// UnlockIdentity opens the keyfile and builds the node identity. On the
// very first run, when no keyfile exists yet, a fresh secret key is
// generated and sealed under the given passphrase. A wrong passphrase or
// unreadable keyfile yields ErrIdentityUnavailable.
func UnlockIdentity(path, callsign string, passphrase []byte) (*identity.NostrIdentity, error) {
	secret, err := cryptox.OpenKeyfile(path, passphrase)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fresh := identity.GenerateSecretKey()
		if sealErr := cryptox.SealKeyfile(path, []byte(fresh), passphrase); sealErr != nil {
			return nil, fmt.Errorf("%w: creating keyfile: %w", common.ErrIdentityUnavailable, sealErr)
		}
		secret = []byte(fresh)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", common.ErrIdentityUnavailable, err)
	}
	defer common.WipeByteArray(secret)

	id, err := identity.NewNostrIdentity(callsign, string(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrIdentityUnavailable, err)
	}
	return id, nil
}
