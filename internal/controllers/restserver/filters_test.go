package restserver

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/types"
)

func TestParseFilter(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		query     string
		wantErr   bool
		wantFrom  *time.Time
		wantTo    *time.Time
		wantMatch types.DepartmentMatch
		wantScope string
	}{
		{name: "empty", query: "", wantMatch: types.MatchExact},
		{name: "match override", query: "match=Substring", wantMatch: types.MatchSubstring},
		{name: "scope", query: "scope=3", wantMatch: types.MatchExact, wantScope: "3"},
		{
			name:      "rfc3339 bounds",
			query:     "from=2024-03-01T08:00:00Z&to=2024-03-01T09:00:00%2B01:00",
			wantMatch: types.MatchExact,
			wantFrom:  ptr(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)),
			wantTo:    ptr(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)),
		},
		{
			name:      "datetime-local uses display location",
			query:     "from=2024-03-01T10:30",
			wantMatch: types.MatchExact,
			wantFrom:  ptr(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)),
		},
		{
			name:      "datetime-local with seconds",
			query:     "from=2024-03-01T10:30:15&to=2024-03-01T11:00:00",
			wantMatch: types.MatchExact,
			wantFrom:  ptr(time.Date(2024, 3, 1, 9, 30, 15, 0, time.UTC)),
			wantTo:    ptr(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)),
		},
		{
			name:      "range",
			query:     "range=7d",
			wantMatch: types.MatchExact,
			wantFrom:  ptr(now.Add(-7 * 24 * time.Hour)),
		},
		{name: "range with from", query: "range=7d&from=2020-01-01T00:00", wantErr: true},
		{name: "range with to", query: "range=24h&to=2020-01-02T00:00", wantErr: true},
		{name: "bad scope", query: "scope=0", wantErr: true},
		{name: "bad match", query: "match=regex", wantErr: true},
		{name: "bad range", query: "range=30d", wantErr: true},
		{name: "bad time", query: "to=03/01/2024", wantErr: true},
		{name: "inverted bounds", query: "from=2024-03-02T00:00&to=2024-03-01T00:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatal(err)
			}
			c, err := parseFilter(q, berlin, types.MatchExact, now)
			if tt.wantErr {
				if !errors.Is(err, errBadQuery) {
					t.Errorf("err = %v, want errBadQuery", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.DepartmentMatch != tt.wantMatch {
				t.Errorf("match = %q, want %q", c.DepartmentMatch, tt.wantMatch)
			}
			if !sameTime(c.From, tt.wantFrom) || !sameTime(c.To, tt.wantTo) {
				t.Errorf("bounds = %v..%v, want %v..%v", c.From, c.To, tt.wantFrom, tt.wantTo)
			}
			gotScope := ""
			if c.Scope != nil {
				gotScope = c.Scope.String()
			}
			if gotScope != tt.wantScope {
				t.Errorf("scope = %q, want %q", gotScope, tt.wantScope)
			}
		})
	}
}

func TestIntParam(t *testing.T) {
	five, zero, big := 5, 0, 100
	tests := []struct {
		v       *int
		want    int
		wantErr bool
	}{
		{nil, 6, false},
		{&five, 5, false},
		{&zero, 0, true},
		{&big, 0, true},
	}
	for _, tt := range tests {
		got, err := intParam("hours", tt.v, 6, 50)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("intParam(%v) = %d, %v", tt.v, got, err)
		}
	}
}

func ptr(t time.Time) *time.Time { return &t }

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
