package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/netlens/pkg/netevent"
)

func ms(v int64) *int64 { return &v }

func ids(events []netevent.NetworkEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

func sampleEvents() []netevent.NetworkEvent {
	return []netevent.NetworkEvent{
		{
			ID: "http-1", Method: "GET", URL: "https://api.example.com/users?page=2", Host: "api.example.com", Path: "/users",
			Status: 200, ContentType: netevent.ContentJSON, ResponseSize: 120, DurationMs: ms(40),
			ResponseBody: &netevent.Body{Kind: netevent.BodyJSON, JSON: map[string]any{"users": []any{map[string]any{"name": "ada"}}}},
		},
		{
			ID: "http-2", Method: "GET", URL: "https://api.example.com/slow", Host: "api.example.com", Path: "/slow",
			Error: "request timeout", ContentType: netevent.ContentOther, DurationMs: ms(5000),
		},
		{
			ID: "http-3", Method: "POST", URL: "https://api.example.com/orders", Host: "api.example.com", Path: "/orders",
			Error: "Timeout waiting for upstream", ContentType: netevent.ContentJSON, RequestSize: 64,
		},
		{
			ID: "http-4", Method: "GET", URL: "https://cdn.example.com/logo.png", Host: "cdn.example.com", Path: "/logo.png",
			Status: 503, StatusText: "Service Unavailable", ContentType: netevent.ContentImage, DurationMs: ms(10),
		},
		{
			ID: "http-5", Method: "GET", URL: "https://cdn.example.com/old", Host: "cdn.example.com", Path: "/old",
			Status: 301, ContentType: netevent.ContentHTML, DurationMs: ms(5),
		},
		{
			ID: "http-6", Method: "post", URL: "https://graph.example.com/graphql", Host: "graph.example.com", Path: "/graphql",
			ContentType: netevent.ContentJSON,
			GraphQL:     &netevent.GraphQLMeta{OperationType: "query", OperationName: "TimeoutReport"},
		},
	}
}

func TestApply_EmptyFilterKeepsEverything(t *testing.T) {
	events := sampleEvents()
	got := Apply(events, Filter{})
	assert.Equal(t, ids(events), ids(got))
	assert.True(t, Filter{}.IsZero())
	assert.True(t, Filter{Status: StatusAll}.IsZero())
}

func TestApply_Composition(t *testing.T) {
	got := Apply(sampleEvents(), Filter{
		Methods:    []string{"GET"},
		Status:     StatusError,
		SearchText: "timeout",
	})
	assert.Equal(t, []string{"http-2"}, ids(got))
}

func TestApply_Predicates(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"methods OR within category", Filter{Methods: []string{"post", "DELETE"}}, []string{"http-3", "http-6"}},
		{"status success", Filter{Status: StatusSuccess}, []string{"http-1"}},
		{"status error", Filter{Status: StatusError}, []string{"http-2", "http-3", "http-4"}},
		{"status pending", Filter{Status: StatusPending}, []string{"http-6"}},
		{"redirect only under all", Filter{Status: StatusAll, Host: "cdn.example.com"}, []string{"http-4", "http-5"}},
		{"search case-insensitive", Filter{SearchText: "TIMEOUT"}, []string{"http-2", "http-3", "http-6"}},
		{"search path", Filter{SearchText: "logo"}, []string{"http-4"}},
		{"search operation name", Filter{SearchText: "timeoutreport"}, []string{"http-6"}},
		{"host exact", Filter{Host: "API.example.com"}, []string{"http-1", "http-2", "http-3"}},
		{"host is not substring", Filter{Host: "example.com"}, []string{}},
		{"content types OR", Filter{ContentTypes: []netevent.ContentCategory{netevent.ContentImage, netevent.ContentHTML}}, []string{"http-4", "http-5"}},
		{"AND across categories", Filter{Methods: []string{"GET"}, ContentTypes: []netevent.ContentCategory{netevent.ContentJSON}}, []string{"http-1"}},
		{"expression", Filter{Expression: `status >= 500 || durationMs > 1000`}, []string{"http-2", "http-4"}},
		{"expression on class", Filter{Expression: `class == "pending" && operationName != ""`}, []string{"http-6"}},
		{"body path", Filter{BodyPath: `$.users[?(@.name == 'ada')]`}, []string{"http-1"}},
		{"body path no match", Filter{BodyPath: `$.orders`}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Apply(sampleEvents(), tt.filter)))
		})
	}
}

func TestApply_InvalidSupplementsAreSkipped(t *testing.T) {
	f := Filter{Methods: []string{"GET"}, Expression: "status >=", BodyPath: "$[", Status: "bogus"}
	require.Error(t, f.Validate())

	got := Apply(sampleEvents(), f)
	assert.Equal(t, []string{"http-1", "http-2", "http-4", "http-5"}, ids(got))
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, Filter{}.Validate())
	assert.NoError(t, Filter{Status: StatusPending, Expression: `method == "GET"`, BodyPath: "$.a.b"}.Validate())
	assert.ErrorIs(t, Filter{Status: "weird"}.Validate(), ErrInvalidStatus)
	assert.Error(t, Filter{Expression: `status + "x"`}.Validate(), "non-boolean expressions are rejected")
	assert.Error(t, Filter{Expression: `unknownField == 1`}.Validate())
}

func TestParseStatusFilter(t *testing.T) {
	for in, want := range map[string]StatusFilter{"": StatusAll, "ALL": StatusAll, " error ": StatusError, "success": StatusSuccess, "Pending": StatusPending} {
		got, err := ParseStatusFilter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStatusFilter("redirect")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestComputeStats_ConcreteScenario(t *testing.T) {
	events := []netevent.NetworkEvent{
		{ID: "http-1", Method: "GET", Path: "/a", Status: 200, ResponseSize: 50, DurationMs: ms(30)},
		{ID: "http-2", Method: "POST", Path: "/b", Error: "Network error", DurationMs: ms(10)},
		{ID: "http-3", Method: "GET", Path: "/c"},
	}

	s := ComputeStats(events)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Success)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, int64(50), s.TotalDataReceived)
	assert.Equal(t, int64(0), s.TotalDataSent)
	assert.InDelta(t, 20.0, s.AvgDurationMs, 0.0001)
}

func TestComputeStats_ClassTotals(t *testing.T) {
	events := sampleEvents()
	s := ComputeStats(events)

	assert.Equal(t, len(events), s.Total)
	assert.Equal(t, s.Total-s.Redirects, s.Success+s.Errors+s.Pending)
	assert.Equal(t, 1, s.Redirects)
	assert.Equal(t, int64(64), s.TotalDataSent)
	assert.Equal(t, int64(120), s.TotalDataReceived)

	// Mean over the four events carrying a duration only.
	assert.InDelta(t, float64(40+5000+10+5)/4, s.AvgDurationMs, 0.0001)
}

func TestComputeStats_Empty(t *testing.T) {
	assert.Equal(t, Stats{}, ComputeStats(nil))
}

func TestHostsAndMethods(t *testing.T) {
	events := sampleEvents()
	assert.Equal(t, []string{"api.example.com", "cdn.example.com", "graph.example.com"}, Hosts(events))
	assert.Equal(t, []string{"GET", "POST"}, Methods(events))
	assert.Empty(t, Hosts(nil))
}
