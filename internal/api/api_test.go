package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/starford/infrawiki/internal/models"
	"github.com/starford/infrawiki/internal/nodeservice"
	"github.com/starford/infrawiki/internal/testutil"
)

// testEnv wires a node service over a temp content root and returns its
// router. A non-empty token enables auth.
func testEnv(t *testing.T, token string) (*testutil.Env, http.Handler) {
	t.Helper()
	return testEnvWith(t, RouterConfig{AuthEnabled: token != "", Token: token})
}

func testEnvWith(t *testing.T, cfg RouterConfig, opts ...nodeservice.Option) (*testutil.Env, http.Handler) {
	t.Helper()
	env := testutil.TestService(t, opts...)
	return env, NewRouter(env.Svc, cfg)
}

func do(t *testing.T, router http.Handler, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func create(t *testing.T, router http.Handler, parent, typ, title string) models.Node {
	t.Helper()
	w := do(t, router, http.MethodPost, "/nodes", CreateNodeRequest{Parent: parent, Type: typ, Title: title})
	if w.Code != http.StatusCreated {
		t.Fatalf("create %s/%s = %d, body = %s", parent, title, w.Code, w.Body.String())
	}
	var n models.Node
	if err := json.Unmarshal(w.Body.Bytes(), &n); err != nil {
		t.Fatal(err)
	}
	return n
}

func seedAcme(t *testing.T, router http.Handler) models.Node {
	t.Helper()
	create(t, router, "", "company", "Acme")
	create(t, router, "Acme", "DataCenter", "DC1")
	return create(t, router, "Acme/DC1", "document", "Runbook")
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var e errResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("error body %q: %v", w.Body.String(), err)
	}
	return e.Code
}

func TestCreateAndGetNode(t *testing.T) {
	_, router := testEnv(t, "")
	doc := seedAcme(t, router)
	if doc.Path != "Acme/DC1/Runbook" {
		t.Fatalf("path = %q", doc.Path)
	}

	w := do(t, router, http.MethodGet, "/nodes/Acme/DC1/Runbook", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var n models.Node
	_ = json.Unmarshal(w.Body.Bytes(), &n)
	if n.Title != "Runbook" || n.Type != models.TypeDocument {
		t.Errorf("node = %+v", n)
	}
	if w.Header().Get("ETag") == "" {
		t.Error("missing ETag")
	}

	// Encoded slashes are accepted.
	w = do(t, router, http.MethodGet, "/nodes/Acme%2FDC1", nil)
	if w.Code != http.StatusOK {
		t.Errorf("encoded get = %d", w.Code)
	}
}

func TestCreate_DisallowedPlacement(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/nodes", CreateNodeRequest{Type: "document", Title: "Loose"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if code := errCode(t, w); code != "disallowed_placement" {
		t.Errorf("code = %q", code)
	}

	w = do(t, router, http.MethodPost, "/nodes", CreateNodeRequest{Type: "folder", Title: "X"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown type = %d, want 400", w.Code)
	}
}

func TestSaveWithIfMatch(t *testing.T) {
	_, router := testEnv(t, "")
	doc := seedAcme(t, router)
	body := "v2"

	w := do(t, router, http.MethodPut, "/nodes/"+doc.Path, SaveNodeRequest{Body: &body}, "If-Match", etag(doc.UpdatedAt))
	if w.Code != http.StatusOK {
		t.Fatalf("save with current If-Match = %d, body = %s", w.Code, w.Body.String())
	}

	// Stale If-Match now.
	w = do(t, router, http.MethodPut, "/nodes/"+doc.Path, SaveNodeRequest{Body: &body}, "If-Match", etag(doc.UpdatedAt))
	if w.Code != http.StatusConflict {
		t.Fatalf("stale save = %d, want 409", w.Code)
	}
	if code := errCode(t, w); code != "conflict" {
		t.Errorf("code = %q", code)
	}

	// No If-Match means last writer wins.
	w = do(t, router, http.MethodPut, "/nodes/"+doc.Path, SaveNodeRequest{Body: &body})
	if w.Code != http.StatusOK {
		t.Errorf("save without If-Match = %d", w.Code)
	}

	w = do(t, router, http.MethodPut, "/nodes/"+doc.Path, SaveNodeRequest{Body: &body}, "If-Match", "yesterday")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad If-Match = %d, want 400", w.Code)
	}
}

func TestSave_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	body := "x"
	w := do(t, router, http.MethodPut, "/nodes/Nope", SaveNodeRequest{Body: &body})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestMoveAndRename(t *testing.T) {
	_, router := testEnv(t, "")
	doc := seedAcme(t, router)
	create(t, router, "Acme", "dc", "DC2")

	dc2 := "Acme/DC2"
	w := do(t, router, http.MethodPost, "/move", MoveRequest{Path: doc.Path, NewParent: &dc2, NewName: "Failover"})
	if w.Code != http.StatusOK {
		t.Fatalf("move = %d, body = %s", w.Code, w.Body.String())
	}
	var n models.Node
	_ = json.Unmarshal(w.Body.Bytes(), &n)
	if n.Path != "Acme/DC2/Failover" {
		t.Errorf("path = %q", n.Path)
	}

	sub := "Acme/DC2/Failover"
	w = do(t, router, http.MethodPost, "/move", MoveRequest{Path: "Acme/DC2", NewParent: &sub})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("move into own subtree = %d, want 422", w.Code)
	}
	if code := errCode(t, w); code != "cyclic_move" {
		t.Errorf("code = %q", code)
	}
}

func TestDelete_CascadeRequired(t *testing.T) {
	_, router := testEnv(t, "")
	seedAcme(t, router)

	w := do(t, router, http.MethodDelete, "/nodes/Acme/DC1", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("delete non-empty = %d, want 409", w.Code)
	}
	if code := errCode(t, w); code != "not_empty" {
		t.Errorf("code = %q", code)
	}

	w = do(t, router, http.MethodDelete, "/nodes/Acme/DC1?cascade=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cascade delete = %d", w.Code)
	}
	var resp DeleteResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Removed) != 2 {
		t.Errorf("removed = %v", resp.Removed)
	}

	w = do(t, router, http.MethodGet, "/nodes/Acme/DC1/Runbook", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

func TestTreeChildrenBreadcrumbRecent(t *testing.T) {
	_, router := testEnv(t, "")
	seedAcme(t, router)

	w := do(t, router, http.MethodGet, "/tree", nil)
	var tree TreeResponse
	_ = json.Unmarshal(w.Body.Bytes(), &tree)
	if len(tree.Nodes) != 1 || len(tree.Nodes[0].Children) != 1 {
		t.Fatalf("tree = %s", w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/children", nil)
	var kids ChildrenResponse
	_ = json.Unmarshal(w.Body.Bytes(), &kids)
	if len(kids.Children) != 1 || kids.Children[0].Path != "Acme" {
		t.Errorf("root children = %s", w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/breadcrumb/Acme/DC1/Runbook", nil)
	var crumbs SummariesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &crumbs)
	if len(crumbs.Nodes) != 3 {
		t.Errorf("breadcrumb = %s", w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/recent?limit=1", nil)
	var recent SummariesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &recent)
	if len(recent.Nodes) != 1 || recent.Nodes[0].Path != "Acme/DC1/Runbook" {
		t.Errorf("recent = %s", w.Body.String())
	}
}

func TestSearchEndpoint(t *testing.T) {
	_, router := testEnv(t, "")
	doc := seedAcme(t, router)
	body := "Reboot the core switch"
	do(t, router, http.MethodPut, "/nodes/"+doc.Path, SaveNodeRequest{Body: &body})

	w := do(t, router, http.MethodGet, "/search?q=core+switch", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d", w.Code)
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Results[0].Path != doc.Path || resp.Results[0].Field != "body" {
		t.Errorf("results = %+v", resp.Results)
	}

	w = do(t, router, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing q = %d, want 400", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, router := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/tree", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
	w = do(t, router, http.MethodGet, "/tree", nil, "Authorization", "Bearer wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
	w = do(t, router, http.MethodGet, "/tree", nil, "Authorization", "Bearer secret123")
	if w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
}

func TestEvents_AuthProtected(t *testing.T) {
	sse := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	})
	_, router := testEnvWith(t, RouterConfig{AuthEnabled: true, Token: "tok", Events: sse})

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("events without token = %d, want 401", w.Code)
	}
	w = do(t, router, http.MethodGet, "/events", nil, "Authorization", "Bearer tok")
	if w.Code != http.StatusOK {
		t.Errorf("events with token = %d, want 200", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	_, router := testEnvWith(t, RouterConfig{RateLimit: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		if w := do(t, router, http.MethodGet, "/tree", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, w.Code)
		}
	}
	w := do(t, router, http.MethodGet, "/tree", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("over limit = %d, want 429", w.Code)
	}
	if code := errCode(t, w); code != "rate_limited" {
		t.Errorf("code = %q", code)
	}
}

func TestAttachmentRoundTrip(t *testing.T) {
	_, router := testEnv(t, "")
	doc := seedAcme(t, router)

	req := httptest.NewRequest(http.MethodPut, "/attachments/diagram.png?path="+doc.Path, strings.NewReader("PNGDATA"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	var up AttachmentUploadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &up)
	if up.Size != 7 || up.Name != "diagram.png" {
		t.Errorf("upload response = %+v", up)
	}

	w = do(t, router, http.MethodGet, "/attachments/diagram.png?path="+doc.Path, nil)
	if w.Code != http.StatusOK || w.Body.String() != "PNGDATA" {
		t.Fatalf("serve = %d %q", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodDelete, "/attachments/diagram.png?path="+doc.Path, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/attachments/diagram.png?path="+doc.Path, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("serve after delete = %d, want 404", w.Code)
	}
}

func TestAttachmentMultipartAndLimits(t *testing.T) {
	_, router := testEnvWith(t, RouterConfig{},
		nodeservice.WithLimits(nodeservice.Limits{MaxAttachmentBytes: 4}))
	doc := seedAcme(t, router)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "big.bin")
	_, _ = fw.Write([]byte("too many bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPut, "/attachments/big.bin?path="+doc.Path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized upload = %d, want 413", w.Code)
	}
	if code := errCode(t, w); code != "attachment_too_large" {
		t.Errorf("code = %q", code)
	}

	w = do(t, router, http.MethodGet, "/attachments/big.bin", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing path = %d, want 400", w.Code)
	}
}

func TestStatusOfCoversEveryKind(t *testing.T) {
	for kind, status := range statusByKind {
		if status < 400 {
			t.Errorf("%s maps to %d", kind, status)
		}
	}
	if len(statusByKind) != 14 {
		t.Errorf("statusByKind has %d kinds, want 14", len(statusByKind))
	}
}
