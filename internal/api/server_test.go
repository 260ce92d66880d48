package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/perceptionlab/assignd/internal/archive"
	"github.com/perceptionlab/assignd/internal/engine"
	"github.com/perceptionlab/assignd/internal/imagelib"
	"github.com/perceptionlab/assignd/internal/store"
	"github.com/perceptionlab/assignd/internal/testutil"
)

const testAdminKey = "admin-key"

func newTestServer(t *testing.T, space *engine.Space) (*Server, *engine.Coordinator, string) {
	t.Helper()

	coord, err := engine.New(store.NewMemoryStore(), space, 30*time.Minute,
		engine.WithRand(func(n int) int { return 0 }))
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}

	dataDir := t.TempDir()
	ar, err := archive.New(dataDir, zerolog.Nop())
	if err != nil {
		t.Fatalf("archive.New failed: %v", err)
	}
	images, err := imagelib.New(t.TempDir(), "/images", zerolog.Nop())
	if err != nil {
		t.Fatalf("imagelib.New failed: %v", err)
	}

	srv := NewServer(coord, ar, images, "", testAdminKey, 0, zerolog.Nop())
	return srv, coord, dataDir
}

func newGroupServer(t *testing.T) (*Server, *engine.Coordinator, string) {
	t.Helper()
	space, err := engine.NewGroupSpace([]string{"0", "1", "2"})
	if err != nil {
		t.Fatalf("NewGroupSpace failed: %v", err)
	}
	return newTestServer(t, space)
}

func TestAssign_NewAndExisting(t *testing.T) {
	srv, _, _ := newGroupServer(t)
	handler := srv.Router()

	pid := testutil.NewParticipantID(t)
	req := testutil.HTTPRequest{
		Method: http.MethodPost,
		Path:   "/api/assign",
		Body:   `{"participantId": "` + pid + `"}`,
	}
	rr := req.Do(t, handler)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var first assignResponse
	if err := json.NewDecoder(rr.Body).Decode(&first); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if first.Status != "new" {
		t.Errorf("Expected status 'new', got '%s'", first.Status)
	}
	if first.Condition == "" {
		t.Error("Expected a condition, got empty string")
	}

	rr = req.Do(t, handler)
	var second assignResponse
	if err := json.NewDecoder(rr.Body).Decode(&second); err != nil {
		t.Fatalf("Failed to decode replay response: %v", err)
	}
	if second.Status != "existing" {
		t.Errorf("Expected status 'existing', got '%s'", second.Status)
	}
	if second.Condition != first.Condition {
		t.Errorf("Replay returned %s, first was %s", second.Condition, first.Condition)
	}
}

func TestAssign_MissingParticipantID(t *testing.T) {
	srv, _, _ := newGroupServer(t)
	handler := srv.Router()

	for _, body := range []string{`{}`, `{"participantId": ""}`, `{"participantId": "   "}`} {
		rr := (&testutil.HTTPRequest{
			Method: http.MethodPost,
			Path:   "/api/assign",
			Body:   body,
		}).Do(t, handler)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("Body %s: expected 400, got %d", body, rr.Code)
		}

		var errResp ErrorResponse
		if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
			t.Fatalf("Failed to decode error response: %v", err)
		}
		if errResp.Code != ErrCodeMissingParticipant {
			t.Errorf("Expected code %s, got %s", ErrCodeMissingParticipant, errResp.Code)
		}
	}
}

func TestAssign_InvalidJSON(t *testing.T) {
	srv, _, _ := newGroupServer(t)
	rr := (&testutil.HTTPRequest{
		Method: http.MethodPost,
		Path:   "/api/assign",
		Body:   `{not json`,
	}).Do(t, srv.Router())
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid JSON, got %d", rr.Code)
	}
}

func TestComplete_Idempotent(t *testing.T) {
	srv, coord, _ := newGroupServer(t)
	handler := srv.Router()
	ctx := context.Background()

	dec, err := coord.Assign(ctx, "p1")
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	req := testutil.HTTPRequest{
		Method: http.MethodPost,
		Path:   "/api/complete",
		Body:   `{"participantId": "p1"}`,
	}
	for i := 0; i < 2; i++ {
		rr := req.Do(t, handler)
		if rr.Code != http.StatusOK {
			t.Fatalf("Complete call %d: expected 200, got %d", i+1, rr.Code)
		}
	}

	state, err := coord.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if got := state.Completed[dec.Condition]; got != 1 {
		t.Errorf("Completed count is %d after double complete, expected 1", got)
	}
	if len(state.Active) != 0 {
		t.Errorf("Active set not empty after completion: %v", state.Active)
	}
}

func TestSaveData_ArchivesAndCompletes(t *testing.T) {
	srv, coord, dataDir := newGroupServer(t)
	handler := srv.Router()
	ctx := context.Background()

	dec, err := coord.Assign(ctx, "p1")
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	rr := (&testutil.HTTPRequest{
		Method: http.MethodPost,
		Path:   "/api/save_data",
		Body:   `{"participantId": "p1", "csvData": "trial,rt\n1,432\n"}`,
	}).Do(t, handler)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp saveDataResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "success" || resp.Filename == "" {
		t.Errorf("Unexpected response: %+v", resp)
	}

	data, err := os.ReadFile(filepath.Join(dataDir, resp.Filename))
	if err != nil {
		t.Fatalf("Archived file unreadable: %v", err)
	}
	if string(data) != "trial,rt\n1,432\n" {
		t.Errorf("Archived content mismatch: %q", data)
	}

	state, err := coord.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if got := state.Completed[dec.Condition]; got != 1 {
		t.Errorf("save_data did not complete the assignment: completed=%d", got)
	}
}

func TestSaveData_Validation(t *testing.T) {
	srv, _, _ := newGroupServer(t)
	handler := srv.Router()

	tests := []struct {
		name     string
		body     string
		wantCode ErrorCode
	}{
		{"missing participant", `{"csvData": "a,b\n"}`, ErrCodeMissingParticipant},
		{"empty csv", `{"participantId": "p1", "csvData": ""}`, ErrCodeMissingCSVData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := (&testutil.HTTPRequest{
				Method: http.MethodPost,
				Path:   "/api/save_data",
				Body:   tt.body,
			}).Do(t, handler)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rr.Code)
			}
			var errResp ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if errResp.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, errResp.Code)
			}
		})
	}
}

func TestAdminAuth(t *testing.T) {
	srv, _, _ := newGroupServer(t)
	handler := srv.Router()

	paths := []string{"/api/status", "/api/export", "/api/list_data"}
	for _, path := range paths {
		rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: path}).Do(t, handler)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: expected 401, got %d", path, rr.Code)
		}

		rr = (&testutil.HTTPRequest{
			Method:  http.MethodGet,
			Path:    path,
			Headers: map[string]string{"Authorization": "Bearer wrong-key"},
		}).Do(t, handler)
		if rr.Code != http.StatusForbidden {
			t.Errorf("%s with wrong token: expected 403, got %d", path, rr.Code)
		}

		rr = (&testutil.HTTPRequest{
			Method:  http.MethodGet,
			Path:    path,
			Headers: map[string]string{"Authorization": "Bearer " + testAdminKey},
		}).Do(t, handler)
		if rr.Code != http.StatusOK {
			t.Errorf("%s with valid token: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestStatus_ReportsLoads(t *testing.T) {
	srv, coord, _ := newGroupServer(t)
	handler := srv.Router()
	ctx := context.Background()

	for _, pid := range []string{"p1", "p2"} {
		if _, err := coord.Assign(ctx, pid); err != nil {
			t.Fatalf("Assign failed: %v", err)
		}
	}
	if _, _, err := coord.Complete(ctx, "p1"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	rr := (&testutil.HTTPRequest{
		Method:  http.MethodGet,
		Path:    "/api/status",
		Headers: map[string]string{"Authorization": "Bearer " + testAdminKey},
	}).Do(t, handler)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}

	var resp statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if resp.Policy != string(engine.PolicyBalanced) {
		t.Errorf("Expected policy %s, got %s", engine.PolicyBalanced, resp.Policy)
	}
	if len(resp.Conditions) != 3 {
		t.Fatalf("Expected 3 condition rows, got %d", len(resp.Conditions))
	}
	total := 0
	for _, row := range resp.Conditions {
		total += row.Load
	}
	if total != 2 {
		t.Errorf("Total load is %d, expected 2", total)
	}
}

func TestGetData_RejectsInvalidNames(t *testing.T) {
	srv, _, _ := newGroupServer(t)
	handler := srv.Router()

	rr := (&testutil.HTTPRequest{
		Method:  http.MethodGet,
		Path:    "/api/get_data/secrets.txt",
		Headers: map[string]string{"Authorization": "Bearer " + testAdminKey},
	}).Do(t, handler)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Non-CSV name: expected 400, got %d", rr.Code)
	}

	rr = (&testutil.HTTPRequest{
		Method:  http.MethodGet,
		Path:    "/api/get_data/missing.csv",
		Headers: map[string]string{"Authorization": "Bearer " + testAdminKey},
	}).Do(t, handler)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Missing file: expected 404, got %d", rr.Code)
	}
}

func TestListData_ReturnsArchivedFiles(t *testing.T) {
	srv, _, _ := newGroupServer(t)
	handler := srv.Router()

	rr := (&testutil.HTTPRequest{
		Method: http.MethodPost,
		Path:   "/api/save_data",
		Body:   `{"participantId": "p1", "csvData": "a,b\n"}`,
	}).Do(t, handler)
	if rr.Code != http.StatusOK {
		t.Fatalf("save_data failed: %d", rr.Code)
	}

	rr = (&testutil.HTTPRequest{
		Method:  http.MethodGet,
		Path:    "/api/list_data",
		Headers: map[string]string{"Authorization": "Bearer " + testAdminKey},
	}).Do(t, handler)
	if rr.Code != http.StatusOK {
		t.Fatalf("list_data failed: %d", rr.Code)
	}

	var names []string
	if err := json.NewDecoder(rr.Body).Decode(&names); err != nil {
		t.Fatalf("Failed to decode listing: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("Expected 1 archived file, got %d", len(names))
	}

	rr = (&testutil.HTTPRequest{
		Method:  http.MethodGet,
		Path:    "/api/get_data/" + names[0],
		Headers: map[string]string{"Authorization": "Bearer " + testAdminKey},
	}).Do(t, handler)
	if rr.Code != http.StatusOK {
		t.Fatalf("get_data failed: %d", rr.Code)
	}
	if rr.Body.String() != "a,b\n" {
		t.Errorf("Unexpected file content: %q", rr.Body.String())
	}
}

func TestListImages_EmptyLibrary(t *testing.T) {
	srv, _, _ := newGroupServer(t)

	rr := (&testutil.HTTPRequest{
		Method: http.MethodGet,
		Path:   "/api/list_images",
	}).Do(t, srv.Router())
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}

	var resp listImagesResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 0 || len(resp.Images) != 0 {
		t.Errorf("Expected empty listing, got count=%d images=%d", resp.Count, len(resp.Images))
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newGroupServer(t)
	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/healthz"}).Do(t, srv.Router())
	if rr.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rr.Code)
	}
}
