package release

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Installed describes the version an installation is currently on.
type Installed struct {
	Tag          string
	Track        Track
	CommitsAhead int
}

// DescribeVersion renders an installed version for display. A checkout
// past the tag shows as "<tag> + N commits".
func DescribeVersion(tag string, commitsAhead int) string {
	if commitsAhead <= 0 {
		return tag
	}
	return fmt.Sprintf("%s + %d commits", tag, commitsAhead)
}

// IsUpdateAvailable decides whether latest represents an update over the
// installed version on the given track.
//
// Switching tracks always surfaces the target track's newest release.
// Otherwise tags are compared as semver when both parse; unparseable
// tags fall back to plain inequality.
func IsUpdateAvailable(installed Installed, latest *Release, track Track) bool {
	if latest == nil || latest.TagName == "" {
		return false
	}
	if installed.Tag == "" {
		return true
	}
	if installed.Track != "" && installed.Track != track {
		return true
	}
	if installed.Tag == latest.TagName {
		return false
	}

	iv, ierr := semver.NewVersion(normalizeTag(installed.Tag))
	lv, lerr := semver.NewVersion(normalizeTag(latest.TagName))
	if ierr == nil && lerr == nil {
		return lv.GreaterThan(iv)
	}
	return true
}

func normalizeTag(tag string) string {
	return strings.TrimPrefix(strings.TrimSpace(tag), "v")
}
