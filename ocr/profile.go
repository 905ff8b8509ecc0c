package ocr

import (
	"errors"
	"fmt"
)

// ErrUnsupportedProfile marks a profile name outside the closed set.
var ErrUnsupportedProfile = errors.New("ocr: unsupported profile")

// Profile names a closed set of accuracy/latency trade-offs. It selects
// engine parameters at call time; engines stay a single Recognize shape.
type Profile string

const (
	// ProfileFast favors throughput: lighter layout analysis, suitable for
	// clean print.
	ProfileFast Profile = "fast"
	// ProfileBalanced is the default trade-off.
	ProfileBalanced Profile = "balanced"
	// ProfilePrecise favors accuracy on degraded scans at the cost of speed.
	ProfilePrecise Profile = "precise"
)

// ParseProfile validates a profile name. The empty string parses to
// ProfileBalanced.
func ParseProfile(s string) (Profile, error) {
	switch Profile(s) {
	case "":
		return ProfileBalanced, nil
	case ProfileFast, ProfileBalanced, ProfilePrecise:
		return Profile(s), nil
	}
	return "", fmt.Errorf("%w: %q (want fast, balanced or precise)", ErrUnsupportedProfile, s)
}

func (p Profile) String() string {
	if p == "" {
		return string(ProfileBalanced)
	}
	return string(p)
}
