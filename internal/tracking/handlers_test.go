package tracking

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func testAuth(c *fiber.Ctx) error {
	c.Locals("account_id", "acct-1")
	return c.Next()
}

func newTestApp(store Store) (*fiber.App, *Service) {
	svc, _ := newTestService(store, nil)
	app := fiber.New()
	RegisterRoutes(app.Group("/hikes"), svc, testAuth)
	return app, svc
}

func doRequest(t *testing.T, app *fiber.App, method, target string, body []byte) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	return resp
}

func TestHikeHandlersLifecycle(t *testing.T) {
	app, _ := newTestApp(newStubStore())

	body, _ := json.Marshal(map[string]string{"trail_ref": "ridge"})
	resp := doRequest(t, app, http.MethodPost, "/hikes", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status: %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodPost, "/hikes", body)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second start status: %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodPost, "/hikes/resume", nil)
	var out struct {
		Changed bool     `json:"changed"`
		Session Snapshot `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Changed || out.Session.State != StateTracking {
		t.Fatalf("resume while tracking should be a no-op: %+v", out)
	}

	resp = doRequest(t, app, http.MethodPost, "/hikes/pause", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause status: %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodPost, "/hikes/checkpoint", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("checkpoint status: %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodPost, "/hikes/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status: %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodGet, "/hikes/current", nil)
	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode current: %v", err)
	}
	if snap.State != StateStopped || snap.Record == nil || !snap.Record.IsCompleted {
		t.Fatalf("unexpected current: %+v", snap)
	}

	resp = doRequest(t, app, http.MethodGet, "/hikes", nil)
	var summaries []RecordSummary
	if err := json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(summaries) != 1 || summaries[0].TrailRef != "ridge" {
		t.Fatalf("unexpected list: %+v", summaries)
	}

	resp = doRequest(t, app, http.MethodGet, "/hikes/"+summaries[0].ID+"/export?format=kml", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "kml") {
		t.Fatalf("content type: %s", ct)
	}

	resp = doRequest(t, app, http.MethodDelete, "/hikes/"+summaries[0].ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status: %d", resp.StatusCode)
	}
}

func TestHikeHandlersNoSession(t *testing.T) {
	app, _ := newTestApp(newStubStore())

	resp := doRequest(t, app, http.MethodPost, "/hikes/pause", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("pause status: %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodGet, "/hikes/current", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("current status: %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodGet, "/hikes/unknown/export", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("export status: %d", resp.StatusCode)
	}

	resp = doRequest(t, app, http.MethodGet, "/hikes/unknown/export?format=fit", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad format status: %d", resp.StatusCode)
	}
}

func TestHikeHandlersStopReportsSaveFailure(t *testing.T) {
	store := newStubStore()
	store.setErr(errors.New("db down"))
	app, svc := newTestApp(store)

	if _, err := svc.Start("acct-1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp := doRequest(t, app, http.MethodPost, "/hikes/stop", nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("stop status: %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "db down") {
		t.Fatalf("expected last_error in body: %s", raw)
	}
	if svc.Current("acct-1").State != StateStopped {
		t.Fatalf("hike should stay stopped")
	}
}

func TestHikeHandlersBadBody(t *testing.T) {
	app, _ := newTestApp(newStubStore())
	resp := doRequest(t, app, http.MethodPost, "/hikes", []byte("{"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", resp.StatusCode)
	}
}
