package protocol

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is the protocol version spoken by this module.
const Version = "1.0.0"

// VersionHeader carries the client's protocol version on the websocket handshake.
const VersionHeader = "X-Livequery-Protocol"

// DefaultConstraint accepts any 1.x client.
const DefaultConstraint = "^1.0.0"

// CheckVersion reports whether a client version satisfies the server constraint.
// An empty client version is accepted for clients that predate the header.
func CheckVersion(constraint, clientVersion string) error {
	if clientVersion == "" {
		return nil
	}
	if constraint == "" {
		constraint = DefaultConstraint
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("protocol:version - invalid constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(clientVersion)
	if err != nil {
		return fmt.Errorf("protocol:version - invalid client version %q: %w", clientVersion, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("protocol:version - client version %s does not satisfy %s", clientVersion, constraint)
	}
	return nil
}
