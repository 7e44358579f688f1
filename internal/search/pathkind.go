package search

import "strings"

// Path kinds, the top-level groups of a response.
const (
	PathNormal     = "normal"
	PathThirdParty = "thirdparty"
	PathTest       = "test"
	PathGenerated  = "generated"
)

// pathPrecedence is the emission order of path kinds.
var pathPrecedence = []string{PathNormal, PathThirdParty, PathTest, PathGenerated}

// testDirs mark a path as test code once it is known to contain "test".
var testDirs = []string{
	"/test/", "/tests/", "/mochitest/", "testing/", "/jsapi-tests/",
	"/reftests/", "/reftest/", "/crashtests/", "/crashtest/",
	"/googletest/", "/gtest/", "/gtests/", "/imptests/",
}

// ClassifyPath returns the path kind of path.
func ClassifyPath(path string) string {
	switch {
	case strings.Contains(path, "__GENERATED__"):
		return PathGenerated
	case strings.HasPrefix(path, "third_party/"):
		return PathThirdParty
	case isTestPath(path):
		return PathTest
	default:
		return PathNormal
	}
}

func isTestPath(path string) bool {
	if strings.Contains(path, "/unit/") || strings.Contains(path, "/androidTest/") || strings.HasPrefix(path, "LayoutTests/") {
		return true
	}
	// every remaining pattern contains "test"
	if !strings.Contains(path, "test") {
		return false
	}
	for _, dir := range testDirs {
		if strings.Contains(path, dir) {
			return true
		}
	}
	return false
}
