package match

import "testing"

// TestWildcardMatch_ComplexPatterns verifies matcher behavior for multiple '*' segments.
// Params: testing.T for assertions.
// Returns: none.
func TestWildcardMatch_ComplexPatterns(t *testing.T) {
	testCases := []struct {
		pattern string
		value   string
		match   bool
	}{
		{pattern: "*", value: "any", match: true},
		{pattern: "**", value: "", match: true},
		{pattern: "web*", value: "web-frontend", match: true},
		{pattern: "*postgres*", value: "db-postgres-main", match: true},
		{pattern: "db*main", value: "db-postgres-main", match: true},
		{pattern: "db*main", value: "db-postgres-replica", match: false},
		{pattern: "*rx*err*", value: "net_rx_err_total", match: true},
		{pattern: "eth*1", value: "eth0", match: false},
		{pattern: "api", value: "api", match: true},
		{pattern: "api", value: "api-canary", match: false},
		{pattern: "*canary", value: "api-canary", match: true},
		{pattern: "ab*b", value: "ab", match: false},
		{pattern: "a*b*c", value: "abc", match: true},
		{pattern: "a*b*c", value: "acb", match: false},
		{pattern: "/docker/*", value: "/docker/3f2a", match: true},
		{pattern: " ", value: "", match: false},
	}

	for _, testCase := range testCases {
		got := WildcardMatch(testCase.pattern, testCase.value)
		if got != testCase.match {
			t.Fatalf(
				"unexpected wildcard result pattern=%q value=%q got=%v want=%v",
				testCase.pattern,
				testCase.value,
				got,
				testCase.match,
			)
		}
	}
}

// TestMasks_Allowed verifies keep/drop precedence.
// Params: testing.T for assertions.
// Returns: none.
func TestMasks_Allowed(t *testing.T) {
	masks := NewMasks([]string{"web*", "api", " "}, []string{"*canary"})

	cases := map[string]bool{
		"web":        true,
		"web-canary": false,
		"api":        true,
		"db":         false,
	}
	for name, want := range cases {
		if got := masks.Allowed(name); got != want {
			t.Fatalf("Allowed(%q)=%v want=%v", name, got, want)
		}
	}
}

// TestMasks_EmptyKeepsEverything verifies zero masks allow all names.
// Params: testing.T for assertions.
// Returns: none.
func TestMasks_EmptyKeepsEverything(t *testing.T) {
	var masks Masks
	if !masks.Allowed("anything") {
		t.Fatalf("expected zero masks to allow every name")
	}
	if !NewMasks(nil, []string{""}).Allowed("x") {
		t.Fatalf("blank drop mask must be ignored")
	}
}
