package domain

import (
	"strings"
	"testing"

	"paramflow/testutil"
)

// TestDomainDoesNotImportInternal keeps the data model free of engine and
// infrastructure packages so session backends can depend on it alone.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "domain must not depend on internal packages")
}

func TestDomainHasNoThirdPartyImports(t *testing.T) {
	thirdParty := func(path string) bool {
		first, _, _ := strings.Cut(path, "/")
		return strings.Contains(first, ".")
	}
	testutil.AssertNoDirectImports(t, ".", thirdParty, "domain is stdlib-only")
}
