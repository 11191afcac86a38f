package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Version is a semantic major.minor.patch triple. The coordinator reads its
// own version from the VERSION file once at startup and checks validator
// pings against it.
type Version struct {
	Major int
	Minor int
	Patch int
}

var errBadVersion = errors.New("params: malformed version string")

// ParseVersion parses "major.minor.patch" with no leading v and no extras.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q", errBadVersion, s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("%w: %q", errBadVersion, s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// ReadVersionFile loads and parses the single-line VERSION file.
func ReadVersionFile(path string) (Version, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Version{}, err
	}
	return ParseVersion(string(raw))
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// CheckClient applies the validator compatibility rule: major and minor must
// match the server's, patch may trail. A client patch ahead of the server is
// accepted but flagged so the caller can warn that the client runs off the
// release branch.
func (v Version) CheckClient(client Version) (aheadOfServer bool, err error) {
	if client.Major != v.Major || client.Minor != v.Minor {
		return false, fmt.Errorf("client version %s incompatible with server %s", client, v)
	}
	return client.Patch > v.Patch, nil
}
