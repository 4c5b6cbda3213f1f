package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/mioring/internal/mioservice"
	"github.com/starford/mioring/internal/ring"
	"github.com/starford/mioring/internal/testutil"
)

// testEnv sets up a temp ring, SQLite catalog, service, and router for testing.
// An empty authToken means disabled mode; otherwise token mode.
func testEnv(t *testing.T, authToken string) (*mioservice.Service, http.Handler) {
	t.Helper()
	svc, _ := testutil.TestService(t)
	return svc, NewRouter(svc, authToken != "", authToken, nil)
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func registerText(t *testing.T, router http.Handler, text string) string {
	t.Helper()
	w := do(t, router, http.MethodPost, "/entities/text", map[string]string{"text": text})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		IDs []string `json:"ids"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.IDs) != 1 {
		t.Fatalf("ids = %v, want one", resp.IDs)
	}
	return resp.IDs[0]
}

type deltaBody struct {
	Specters   map[string]json.RawMessage `json:"specters"`
	Operations map[string]json.RawMessage `json:"operations"`
}

func initiate(t *testing.T, router http.Handler, kind string, base ...string) (specter, op string) {
	t.Helper()
	w := do(t, router, http.MethodPost, "/operations", map[string]any{"kind": kind, "base": base})
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate status = %d, body = %s", w.Code, w.Body.String())
	}
	var delta deltaBody
	_ = json.Unmarshal(w.Body.Bytes(), &delta)
	for id := range delta.Specters {
		specter = id
	}
	for id := range delta.Operations {
		op = id
	}
	if specter == "" || op == "" {
		t.Fatalf("delta = %s", w.Body.String())
	}
	return specter, op
}

func TestRegisterTextAndList(t *testing.T) {
	_, router := testEnv(t, "")

	registerText(t, router, "# Groceries\nmilk #food")
	registerText(t, router, "https://example.com")

	w := do(t, router, http.MethodGet, "/entities?kind=text&tag=food", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp ListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 1 || len(resp.Specters) != 1 {
		t.Fatalf("list = %+v", resp)
	}
	if resp.Specters[0].Title != "Groceries" {
		t.Errorf("title = %q, want Groceries", resp.Specters[0].Title)
	}
}

func TestRegisterText_BadExt(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/entities/text", map[string]string{"text": "x", "ext": "exe"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad ext = %d, want 400", w.Code)
	}
}

func TestUploadAndContent(t *testing.T) {
	_, router := testEnv(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "clip.txt")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("uploaded words"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/entities", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		IDs []string `json:"ids"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)

	w = do(t, router, http.MethodGet, "/specters/"+resp.IDs[0]+"/content", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("content status = %d", w.Code)
	}
	if w.Body.String() != "uploaded words" {
		t.Errorf("content = %q", w.Body.String())
	}
}

func TestUpload_UnknownExtension(t *testing.T) {
	_, router := testEnv(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "virus.exe")
	_, _ = fw.Write([]byte("MZ"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/entities", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusCreated {
		t.Errorf("unknown extension accepted")
	}
}

func TestInitiateForceAndView(t *testing.T) {
	_, router := testEnv(t, "")

	base := registerText(t, router, "lazy words")
	phantom, _ := initiate(t, router, "convert:text", base)

	w := do(t, router, http.MethodPost, "/force", ForceRequest{IDs: []string{phantom}})
	if w.Code != http.StatusOK {
		t.Fatalf("force status = %d, body = %s", w.Code, w.Body.String())
	}
	var forced ForceResponse
	_ = json.Unmarshal(w.Body.Bytes(), &forced)
	if len(forced.Actualized) != 1 || forced.Actualized[0].ID.Stem() != phantom {
		t.Errorf("actualized = %+v", forced.Actualized)
	}

	w = do(t, router, http.MethodGet, "/view", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("view status = %d", w.Code)
	}
	var snap ring.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Chronology) != 1 || snap.Ring.Len() != 3 {
		t.Errorf("snapshot chronology = %d, ring = %d", len(snap.Chronology), snap.Ring.Len())
	}

	w = do(t, router, http.MethodGet, "/view?anchor=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("out of range view = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/view?anchor=x", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad anchor = %d, want 400", w.Code)
	}
}

func TestInitiate_Errors(t *testing.T) {
	_, router := testEnv(t, "")
	base := registerText(t, router, "words")

	tests := []struct {
		name string
		kind string
		base []string
		want int
	}{
		{"unknown kind", "fold", []string{base}, http.StatusBadRequest},
		{"no base", "convert:text", nil, http.StatusBadRequest},
		{"malformed id", "convert:text", []string{"nope"}, http.StatusBadRequest},
		{"missing base", "convert:text", []string{"1-999"}, http.StatusNotFound},
		{"incompatible", "crop", []string{base}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/operations", map[string]any{"kind": tt.kind, "base": tt.base})
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestArchiveAndPurge(t *testing.T) {
	_, router := testEnv(t, "")

	base := registerText(t, router, "keep me")
	_, op := initiate(t, router, "convert:text", base)

	w := do(t, router, http.MethodPost, "/archive", TargetRequest{Operation: op})
	if w.Code != http.StatusOK {
		t.Fatalf("archive status = %d, body = %s", w.Code, w.Body.String())
	}
	var archived ring.Archived
	_ = json.Unmarshal(w.Body.Bytes(), &archived)
	if len(archived.OpIDs) != 1 || len(archived.MioIDs) != 1 {
		t.Errorf("archived = %+v", archived)
	}

	w = do(t, router, http.MethodGet, "/entities?ring=archived", nil)
	var list ListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 1 {
		t.Errorf("archived rows = %d, want 1", list.Total)
	}

	w = do(t, router, http.MethodPost, "/purge", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("purge status = %d", w.Code)
	}
	var purged ring.Purged
	_ = json.Unmarshal(w.Body.Bytes(), &purged)
	if len(purged.OpIDs) != 1 {
		t.Errorf("purged = %+v", purged)
	}
}

func TestArchive_TargetValidation(t *testing.T) {
	_, router := testEnv(t, "")

	for name, body := range map[string]TargetRequest{
		"empty": {},
		"both":  {Specter: "1-1", Operation: "1-2"},
	} {
		t.Run(name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/archive", body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestPinConflictAndDelete(t *testing.T) {
	_, router := testEnv(t, "")

	id := registerText(t, router, "precious")
	if w := do(t, router, http.MethodPost, "/entities/"+id+"/pin", nil); w.Code != http.StatusOK {
		t.Fatalf("pin status = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodPost, "/delete", TargetRequest{Specter: id}); w.Code != http.StatusConflict {
		t.Errorf("delete pinned = %d, want 409", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/entities/"+id+"/pin", nil); w.Code != http.StatusOK {
		t.Fatalf("unpin status = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/delete", TargetRequest{Specter: id}); w.Code != http.StatusOK {
		t.Errorf("delete = %d, want 200", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/specters/"+id+"/content", nil); w.Code != http.StatusNotFound {
		t.Errorf("content after delete = %d, want 404", w.Code)
	}
}

func TestElevate(t *testing.T) {
	_, router := testEnv(t, "")

	base := registerText(t, router, "grow up")
	phantom, _ := initiate(t, router, "convert:text", base)

	if w := do(t, router, http.MethodPost, "/specters/"+phantom+"/elevate", nil); w.Code != http.StatusConflict {
		t.Errorf("elevate lazy = %d, want 409", w.Code)
	}
	do(t, router, http.MethodPost, "/force", ForceRequest{IDs: []string{phantom}})
	if w := do(t, router, http.MethodPost, "/specters/"+phantom+"/elevate", nil); w.Code != http.StatusOK {
		t.Errorf("elevate = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
}

func TestOfferedAndDescribe(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/kinds/image/operations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("offered status = %d", w.Code)
	}
	var resp OperationsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	found := false
	for _, k := range resp.Operations {
		if k == ring.OpCrop {
			found = true
		}
	}
	if !found {
		t.Errorf("crop not offered for image: %v", resp.Operations)
	}

	if w := do(t, router, http.MethodGet, "/kinds/smell/operations", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown kind = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodGet, "/operations/kinds", nil)
	var descs []map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &descs)
	if len(descs) == 0 {
		t.Error("describe returned no backends")
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	registerText(t, router, "# Recipe\nfresh basil")

	w := do(t, router, http.MethodGet, "/search?q=basil", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Results[0].Title != "Recipe" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestInvalidJSON(t *testing.T) {
	_, router := testEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/force", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid json = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	body, _ := json.Marshal(map[string]string{"text": "authed"})
	req := httptest.NewRequest(http.MethodPost, "/entities/text", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed register = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/entities", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/entities", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/entities", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

func TestSSEEvents_AuthProtected(t *testing.T) {
	router := testEnvWithSSE(t, true, "secret")

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router := testEnvWithSSE(t, true, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	router := testEnvWithSSE(t, true, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with query token should not 401")
	}
}

func TestQueryToken_OnlyForEvents(t *testing.T) {
	router := testEnvWithSSE(t, true, "tok")

	w := do(t, router, http.MethodGet, "/entities?access_token=tok", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("query token on /entities = %d, want 401", w.Code)
	}
}

// testEnvWithSSE creates a router with a stub SSE handler to test auth on /events.
func testEnvWithSSE(t *testing.T, authEnabled bool, token string) http.Handler {
	t.Helper()
	svc, _ := testutil.TestService(t)

	sseHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
	return NewRouter(svc, authEnabled, token, sseHandler)
}
