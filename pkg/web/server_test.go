package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ritzau/unitconv/pkg/codec"
	"github.com/ritzau/unitconv/pkg/conversion"
	"github.com/ritzau/unitconv/pkg/model"
	"github.com/ritzau/unitconv/pkg/pubsub"
	"github.com/ritzau/unitconv/pkg/store"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	pub     *pubsub.SSEPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	pub := pubsub.NewConversionPublisher()
	t.Cleanup(func() {
		pub.Close()
		st.Close()
	})
	svc := conversion.NewService(st, conversion.WithPublisher(pub))
	return &testServer{t: t, handler: NewServer(svc, pub).Handler(), pub: pub}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	ts.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) create(from, to string, rate float64) model.ConversionRule {
	ts.t.Helper()
	body, _ := json.Marshal(map[string]any{"fromUnit": from, "toUnit": to, "conversionRate": rate, "category": "volume"})
	rec := ts.do(http.MethodPost, "/api/conversions", string(body))
	if rec.Code != http.StatusCreated {
		ts.t.Fatalf("create %s -> %s: expected 201, got %d: %s", from, to, rec.Code, rec.Body.String())
	}
	var r model.ConversionRule
	decode(ts.t, rec, &r)
	return r
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
}

func TestCreateAndList(t *testing.T) {
	ts := newTestServer(t)

	created := ts.create("瓶", "ml", 750)
	if created.ID == "" || created.ConversionRate != 750 {
		t.Errorf("Unexpected created rule: %+v", created)
	}
	ts.create("kg", "g", 1000)

	rec := ts.do(http.MethodGet, "/api/conversions?search=ML", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var rules []model.ConversionRule
	decode(t, rec, &rules)
	if len(rules) != 1 || rules[0].ID != created.ID {
		t.Errorf("Expected search to find the 瓶 rule, got %+v", rules)
	}

	rec = ts.do(http.MethodGet, "/api/conversions?category=weight", "")
	decode(t, rec, &rules)
	if len(rules) != 0 {
		t.Errorf("Expected no weight rules (kg was created as volume), got %+v", rules)
	}

	rec = ts.do(http.MethodGet, "/api/conversions?category=mass", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown category, got %d", rec.Code)
	}

	rec = ts.do(http.MethodGet, "/api/conversions/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for get, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a request ID header")
	}
}

func TestEmptyListIsArray(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/api/conversions", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("Expected [], got %q", rec.Body.String())
	}
}

func TestCreateErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.create("A", "B", 2)
	ts.create("B", "C", 3)

	tests := []struct {
		name      string
		body      string
		status    int
		cyclePath []string
	}{
		{"cycle", `{"fromUnit":"C","toUnit":"A","conversionRate":1,"category":"volume"}`, http.StatusConflict, []string{"A", "B", "C", "A"}},
		{"same unit", `{"fromUnit":"A","toUnit":"A","conversionRate":1,"category":"volume"}`, http.StatusBadRequest, nil},
		{"duplicate pair", `{"fromUnit":"A","toUnit":"B","conversionRate":5,"category":"volume"}`, http.StatusConflict, nil},
		{"reversed pair", `{"fromUnit":"B","toUnit":"A","conversionRate":0.5,"category":"volume"}`, http.StatusConflict, nil},
		{"missing rate", `{"fromUnit":"X","toUnit":"Y","category":"volume"}`, http.StatusBadRequest, nil},
		{"zero rate", `{"fromUnit":"X","toUnit":"Y","conversionRate":0,"category":"volume"}`, http.StatusBadRequest, nil},
		{"unknown category", `{"fromUnit":"X","toUnit":"Y","conversionRate":1,"category":"mass"}`, http.StatusBadRequest, nil},
		{"bad json", `{"fromUnit":`, http.StatusBadRequest, nil},
		{"empty body", ``, http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		var rec *httptest.ResponseRecorder
		if tt.body == "" {
			req := httptest.NewRequest(http.MethodPost, "/api/conversions", strings.NewReader(""))
			rec = httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)
		} else {
			rec = ts.do(http.MethodPost, "/api/conversions", tt.body)
		}

		if rec.Code != tt.status {
			t.Errorf("%s: expected %d, got %d: %s", tt.name, tt.status, rec.Code, rec.Body.String())
			continue
		}
		var resp errorResponse
		decode(t, rec, &resp)
		if resp.Error == "" {
			t.Errorf("%s: expected an error message", tt.name)
		}
		if !reflect.DeepEqual(resp.CyclePath, tt.cyclePath) {
			t.Errorf("%s: expected cyclePath %v, got %v", tt.name, tt.cyclePath, resp.CyclePath)
		}
	}

	rec := ts.do(http.MethodGet, "/api/conversions", "")
	var rules []model.ConversionRule
	decode(t, rec, &rules)
	if len(rules) != 2 {
		t.Errorf("Expected rejected rules not to be stored, got %d rules", len(rules))
	}
}

func TestUpdateAndDelete(t *testing.T) {
	ts := newTestServer(t)
	ab := ts.create("A", "B", 2)
	ts.create("B", "C", 3)

	// Reversal only conflicts with the rule's own stored version
	rec := ts.do(http.MethodPut, "/api/conversions/"+ab.ID, `{"fromUnit":"B","toUnit":"A","conversionRate":0.5,"category":"volume"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(http.MethodPut, "/api/conversions/missing", `{"fromUnit":"X","toUnit":"Y","conversionRate":1,"category":"volume"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	rec = ts.do(http.MethodDelete, "/api/conversions/"+ab.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	rec = ts.do(http.MethodDelete, "/api/conversions/"+ab.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", rec.Code)
	}
}

func TestValidateCycleEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ab := ts.create("A", "B", 2)
	ts.create("B", "C", 3)

	rec := ts.do(http.MethodPost, "/api/conversions/validate-cycle", `{"fromUnit":"C","toUnit":"A"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var check conversion.CycleCheck
	decode(t, rec, &check)
	if check.Valid || !reflect.DeepEqual(check.CyclePath, []string{"A", "B", "C", "A"}) || check.Message == "" {
		t.Errorf("Unexpected check: %+v", check)
	}

	rec = ts.do(http.MethodPost, "/api/conversions/validate-cycle", `{"fromUnit":"C","toUnit":"A","excludeId":"`+ab.ID+`"}`)
	check = conversion.CycleCheck{}
	decode(t, rec, &check)
	if !check.Valid || check.CyclePath != nil {
		t.Errorf("Expected excluded rule to make the edge valid, got %+v", check)
	}
	if strings.Contains(rec.Body.String(), "cyclePath") {
		t.Errorf("Expected cyclePath to be omitted when valid, got %s", rec.Body.String())
	}

	rec = ts.do(http.MethodPost, "/api/conversions/validate-cycle", `{"fromUnit":"C"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "toUnit is required") {
		t.Errorf("Expected 400 naming toUnit, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCalculatePathEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.create("瓶", "ml", 750)
	ts.create("杯", "ml", 150)

	rec := ts.do(http.MethodPost, "/api/conversions/calculate-path", `{"fromUnit":"瓶","toUnit":"杯"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var p model.ConversionPath
	decode(t, rec, &p)
	if !p.Found || p.Steps != 2 || p.TotalRate != 5 || !reflect.DeepEqual(p.Path, []string{"瓶", "ml", "杯"}) {
		t.Errorf("Unexpected path: %+v", p)
	}

	rec = ts.do(http.MethodPost, "/api/conversions/calculate-path", `{"fromUnit":"瓶","toUnit":"kg"}`)
	decode(t, rec, &p)
	if p.Found || p.Path == nil || len(p.Path) != 0 {
		t.Errorf("Expected not-found path with empty array, got %+v (%s)", p, rec.Body.String())
	}

	rec = ts.do(http.MethodPost, "/api/conversions/calculate-path", `{"fromUnit":"瓶","toUnit":"杯","maxSteps":1}`)
	decode(t, rec, &p)
	if p.Found {
		t.Errorf("Expected maxSteps 1 to prune the 2-step path, got %+v", p)
	}

	rec = ts.do(http.MethodPost, "/api/conversions/calculate-path", `{"fromUnit":"瓶","toUnit":"ml","maxSteps":0}`)
	decode(t, rec, &p)
	if p.Found {
		t.Errorf("Expected maxSteps 0 to find nothing between distinct units, got %+v", p)
	}

	rec = ts.do(http.MethodPost, "/api/conversions/calculate-path", `{"fromUnit":"瓶","toUnit":"杯","maxSteps":-1}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative maxSteps, got %d", rec.Code)
	}
}

func TestConvertEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.create("瓶", "ml", 750)

	rec := ts.do(http.MethodPost, "/api/conversions/convert", `{"fromUnit":"ml","toUnit":"瓶","quantity":1000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var c map[string]any
	decode(t, rec, &c)
	if c["formatted"] != "1.3" || c["found"] != true || c["category"] != "volume" {
		t.Errorf("Unexpected conversion: %v", c)
	}

	rec = ts.do(http.MethodPost, "/api/conversions/convert", `{"fromUnit":"ml","toUnit":"瓶"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without quantity, got %d", rec.Code)
	}
}

func TestAuditAndGraphEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.create("A", "B", 2)

	rec := ts.do(http.MethodGet, "/api/conversions/audit", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"consistent":true`) {
		t.Errorf("Unexpected audit response %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(http.MethodGet, "/api/conversions/graph", "")
	var g model.Graph
	decode(t, rec, &g)
	if len(g.Nodes) != 2 || len(g.Edges) != 1 {
		t.Errorf("Unexpected graph: %s", rec.Body.String())
	}
}

func TestExportImport(t *testing.T) {
	src := newTestServer(t)
	src.create("瓶", "ml", 750)
	src.create("杯", "ml", 150)

	rec := src.do(http.MethodGet, "/api/conversions/export", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != codec.ContentType {
		t.Fatalf("Unexpected export response %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	snapshot := rec.Body.Bytes()

	dst := newTestServer(t)
	dst.create("瓶", "ml", 700)

	importSnap := func(query string) conversion.ImportReport {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/api/conversions/import"+query, bytes.NewReader(snapshot))
		req.Header.Set("Content-Type", codec.ContentType)
		rec := httptest.NewRecorder()
		dst.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var report conversion.ImportReport
		decode(t, rec, &report)
		return report
	}

	report := importSnap("")
	if len(report.Accepted) != 1 || len(report.Skipped) != 1 {
		t.Errorf("Expected 1 accepted and 1 skipped, got %+v", report)
	}

	report = importSnap("?replace=true")
	if len(report.Updated) != 1 || report.Updated[0].ConversionRate != 750 {
		t.Errorf("Expected the 瓶 rule to be replaced, got %+v", report)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/conversions/import", strings.NewReader("garbage"))
	rec = httptest.NewRecorder()
	dst.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for garbage snapshot, got %d", rec.Code)
	}

	rec = dst.do(http.MethodPost, "/api/conversions/import?replace=maybe", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad replace flag, got %d", rec.Code)
	}
}

func TestUnprefixedRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.create("瓶", "ml", 750)

	rec := ts.do(http.MethodGet, "/conversions", "")
	var rules []model.ConversionRule
	decode(t, rec, &rules)
	if rec.Code != http.StatusOK || len(rules) != 1 {
		t.Errorf("Expected 1 rule at /conversions, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(http.MethodPost, "/conversions/calculate-path", `{"fromUnit":"ml","toUnit":"瓶"}`)
	var p model.ConversionPath
	decode(t, rec, &p)
	if !p.Found || p.Steps != 1 {
		t.Errorf("Expected ml -> 瓶 in one step, got %+v", p)
	}

	rec = ts.do(http.MethodPost, "/conversions", `{"fromUnit":"ml","toUnit":"瓶","conversionRate":1,"category":"volume"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for the reversed pair, got %d", rec.Code)
	}
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	ts := newTestServer(t)
	ts.create("A", "B", 2)

	rec := ts.do(http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"storeVersion":1`) {
		t.Errorf("Unexpected health response %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(http.MethodGet, "/api/nothing", "")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), `"error"`) {
		t.Errorf("Expected JSON 404, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(http.MethodPatch, "/api/conversions", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestSubscribeStreamsChanges(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/subscribe/conversions", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Subscribe request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("Expected event stream, got %q", resp.Header.Get("Content-Type"))
	}

	reader := bufio.NewReader(resp.Body)
	// ": connected" comment
	if line, _ := reader.ReadString('\n'); !strings.HasPrefix(line, ":") {
		t.Fatalf("Expected connect comment, got %q", line)
	}

	// Wait for the subscription before publishing
	deadline := time.Now().Add(2 * time.Second)
	for ts.pub.SubscriberCount(pubsub.TopicConversions) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	ts.create("瓶", "ml", 750)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Stream ended before the event: %v", err)
		}
		if strings.HasPrefix(line, "event: ") {
			if got := strings.TrimSpace(strings.TrimPrefix(line, "event: ")); got != pubsub.EventRuleCreated {
				t.Errorf("Expected %s, got %s", pubsub.EventRuleCreated, got)
			}
			return
		}
	}
}
