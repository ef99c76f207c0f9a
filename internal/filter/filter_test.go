package filter

import (
	"reflect"
	"testing"
)

func TestPatterns_Match(t *testing.T) {
	patterns := Patterns{"istio", "linkerd-proxy"}

	tests := []struct {
		name    string
		names   []string
		want    string
		matched bool
	}{
		{name: "container match", names: []string{"istio-proxy", "backend"}, want: "istio", matched: true},
		{name: "workload match", names: []string{"backend", "my-linkerd-proxy"}, want: "linkerd-proxy", matched: true},
		{name: "no match", names: []string{"backend", "frontend"}, matched: false},
		{name: "empty names", names: nil, matched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := patterns.Match(tt.names...)
			if ok != tt.matched {
				t.Fatalf("Match(%v) matched = %v, want %v", tt.names, ok, tt.matched)
			}
			if got != tt.want {
				t.Errorf("Match(%v) pattern = %q, want %q", tt.names, got, tt.want)
			}
		})
	}
}

func TestPatterns_MatchEmptyList(t *testing.T) {
	var patterns Patterns
	if _, ok := patterns.Match("anything"); ok {
		t.Error("empty pattern list should match nothing")
	}
	if !patterns.Empty() {
		t.Error("expected Empty() to be true")
	}
}

func TestRequired_Missing(t *testing.T) {
	required := NewRequired([]string{"frontend", "api"})

	tests := []struct {
		name  string
		names []string
		want  []string
	}{
		{
			name:  "all present via substring",
			names: []string{"my-app-frontend", "my-app-api"},
			want:  nil,
		},
		{
			name:  "one missing",
			names: []string{"my-app-frontend", "worker"},
			want:  []string{"api"},
		},
		{
			name:  "all missing",
			names: []string{"worker"},
			want:  []string{"frontend", "api"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := required.Missing(tt.names)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Missing(%v) = %v, want %v", tt.names, got, tt.want)
			}
		})
	}
}

func TestRequired_Matches(t *testing.T) {
	required := NewRequired([]string{"frontend"})
	if !required.Matches("my-app-frontend") {
		t.Error("expected substring match")
	}
	if required.Matches("backend") {
		t.Error("unexpected match")
	}
}
