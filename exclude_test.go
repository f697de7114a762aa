package chitrace

import "testing"

func TestExcludeList_Disabled(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{"no patterns", nil, "/anything", false},
		{"anchored match", []string{`^/healthz$`}, "/healthz", true},
		{"anchored miss", []string{`^/healthz$`}, "/healthz/deep", false},
		{"substring match", []string{"internal"}, "/api/internal/debug", true},
		{"substring miss", []string{"internal"}, "/api/public", false},
		{"route params", []string{`/excluded/\d+`}, "/excluded/123", true},
		{"second pattern matches", []string{`^/a$`, `^/b$`}, "/b", true},
		{"blank entries ignored", []string{"", "  "}, "/x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := newExcludeList(tt.patterns)
			if err != nil {
				t.Fatalf("newExcludeList() error = %v", err)
			}
			if got := l.Disabled(tt.path); got != tt.want {
				t.Errorf("Disabled(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestExcludeList_InvalidPattern(t *testing.T) {
	if _, err := newExcludeList([]string{`([`}); err == nil {
		t.Fatal("expected an error for an invalid pattern")
	}
}

func TestExcludeList_NilSafe(t *testing.T) {
	var l *excludeList
	if l.Disabled("/x") {
		t.Error("nil list must disable nothing")
	}
}
