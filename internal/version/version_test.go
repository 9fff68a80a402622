package version

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGet_Defaults(t *testing.T) {
	info := Get()

	if info.Version == "" {
		t.Fatal("version is empty")
	}
	// go version always comes from the build info of the test binary
	if !strings.HasPrefix(info.GoVersion, "go") {
		t.Fatalf("go version = %q", info.GoVersion)
	}
}

func TestVCSDirtyTriState(t *testing.T) {
	info := Get()

	// nil (unknown), true, or false are all legal; the JSON encoding must
	// omit the field only when unknown
	b, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	hasField := strings.Contains(string(b), "vcs_dirty")
	if info.VCSDirty == nil && hasField {
		t.Fatal("unknown vcs_dirty should be omitted from JSON")
	}
	if info.VCSDirty != nil && !hasField {
		t.Fatal("known vcs_dirty missing from JSON")
	}
}
