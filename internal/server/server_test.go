package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playbooks/internal/blob"
	"playbooks/internal/db"
	"playbooks/internal/domain"
	"playbooks/internal/engine"
	"playbooks/internal/migrate"
	"playbooks/internal/reqctx"
	"playbooks/internal/session"
	"playbooks/internal/validate"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	Engine *engine.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, engine.Options{Blob: blob.FileStore{Dir: filepath.Join(dir, "blobs")}})
	handler, err := New(Config{
		Engine:   e,
		Sessions: session.NewMemoryStore(),
		Auth:     AuthConfig{JWTSecret: testSecret, DevLogin: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{Server: srv, Engine: e}
}

// browser keeps cookies and does not follow redirects.
func (s *testServer) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (s *testServer) user(t *testing.T, username string) domain.User {
	t.Helper()
	u, err := s.Engine.Users.Ensure(context.Background(), username)
	require.NoError(t, err)
	return u
}

func (s *testServer) token(t *testing.T, username string) string {
	t.Helper()
	s.user(t, username)
	resp, body := doJSON(t, s.Client(), http.MethodPost, s.URL+"/api/v1/auth/dev/login", map[string]string{"username": username}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out DevLoginResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func postForm(t *testing.T, client *http.Client, target string, form url.Values) (*http.Response, []byte) {
	t.Helper()
	resp, err := client.PostForm(target, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func get(t *testing.T, client *http.Client, target string) (*http.Response, []byte) {
	t.Helper()
	resp, err := client.Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func playbookBody(name string) PlaybookRequest {
	return PlaybookRequest{
		Name:        name,
		Description: "Steps for shipping a feature",
		Category:    "development",
		Tags:        []string{"delivery"},
		Visibility:  "private",
	}
}

func playbookValues(name string) url.Values {
	return url.Values{
		"name":        {name},
		"description": {"Steps for shipping a feature"},
		"category":    {"development"},
		"tags":        {"delivery, release"},
		"visibility":  {"private"},
	}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type problemDoc struct {
	Type     string            `json:"type"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail"`
	Errors   map[string]string `json:"errors"`
	Warnings []string          `json:"warnings"`
}

func TestHealthEchoesRequestID(t *testing.T) {
	srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-abc-123")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "trace-abc-123", resp.Header.Get("X-Request-ID"))

	resp, _ = get(t, srv.Client(), srv.URL+"/api/v1/health")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAPIRequiresCredentials(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/playbooks", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, string(body))

	resp, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/playbooks", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, string(body))
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "invalid_credentials", env.Error.Code)
}

func TestOpenAPIDocumentsBearerAuth(t *testing.T) {
	srv := newTestServer(t)
	resp, body := get(t, srv.Client(), srv.URL+"/api/v1/openapi.json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc struct {
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
		Paths map[string]struct {
			Get struct {
				Security []map[string][]string `json:"security"`
			} `json:"get"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Contains(t, doc.Components.SecuritySchemes, "bearerAuth")
	require.Contains(t, doc.Paths, "/api/v1/health")
	assert.Empty(t, doc.Paths["/api/v1/health"].Get.Security)
	require.Contains(t, doc.Paths, "/api/v1/playbooks")
	assert.Equal(t, []map[string][]string{{"bearerAuth": {}}}, doc.Paths["/api/v1/playbooks"].Get.Security)
}

func TestDevLoginUnknownUser(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/auth/dev/login", map[string]string{"username": "ghost"}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIPlaybookLifecycle(t *testing.T) {
	srv := newTestServer(t)
	token := srv.token(t, "alice")
	c := srv.Client()

	resp, body := doJSON(t, c, http.MethodPost, srv.URL+"/api/v1/playbooks", playbookBody("Feature delivery"), token)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var pb domain.Playbook
	require.NoError(t, json.Unmarshal(body, &pb))
	assert.Equal(t, domain.StatusDraft, pb.Status)
	assert.Equal(t, "0.1", pb.Version.String())

	resp, body = doJSON(t, c, http.MethodPost, srv.URL+"/api/v1/playbooks", playbookBody("Feature delivery"), token)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(body))
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "validation_error", env.Error.Code)
	fields, ok := env.Error.Details["fields"].(map[string]any)
	require.True(t, ok, string(body))
	assert.Contains(t, fields, "name")

	resp, body = doJSON(t, c, http.MethodPost, srv.URL+"/api/v1/playbooks/"+pb.ID+"/workflows",
		WorkflowRequest{Name: "Discovery", Description: "Understand the problem first"}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = doJSON(t, c, http.MethodGet, srv.URL+"/api/v1/playbooks/"+pb.ID+"/tree", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var tree PlaybookTree
	require.NoError(t, json.Unmarshal(body, &tree))
	require.Len(t, tree.Workflows, 1)
	assert.Equal(t, "0.2", tree.Playbook.Version.String())

	resp, body = doJSON(t, c, http.MethodPost, srv.URL+"/api/v1/playbooks/"+pb.ID+"/release",
		ReleaseRequest{ChangeSummary: "first cut"}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &pb))
	assert.Equal(t, domain.StatusReleased, pb.Status)
	assert.Equal(t, "1.0", pb.Version.String())

	resp, body = doJSON(t, c, http.MethodPut, srv.URL+"/api/v1/playbooks/"+pb.ID, playbookBody("Feature delivery v2"), token)
	require.Equal(t, http.StatusForbidden, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "released_immutable", env.Error.Code)

	resp, body = doJSON(t, c, http.MethodPost, srv.URL+"/api/v1/playbooks/"+pb.ID+"/release", nil, token)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, string(body))

	resp, body = doJSON(t, c, http.MethodGet, srv.URL+"/api/v1/playbooks/"+pb.ID+"/versions", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var versions []domain.PlaybookVersion
	require.NoError(t, json.Unmarshal(body, &versions))
	require.Len(t, versions, 1)
	assert.Equal(t, "first cut", versions[0].ChangeSummary)

	resp, body = doJSON(t, c, http.MethodGet, srv.URL+"/api/v1/playbooks/"+pb.ID+"/export", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "feature-delivery.json")
}

func TestAPIOtherUserIsForbidden(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.token(t, "alice")
	bob := srv.token(t, "bob")

	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/playbooks", playbookBody("Private methods"), alice)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var pb domain.Playbook
	require.NoError(t, json.Unmarshal(body, &pb))

	resp, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/v1/playbooks/"+pb.ID, nil, bob)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/playbooks/does-not-exist", nil, alice)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIArtifactFlow(t *testing.T) {
	srv := newTestServer(t)
	token := srv.token(t, "alice")
	c := srv.Client()

	_, body := doJSON(t, c, http.MethodPost, srv.URL+"/api/v1/playbooks", playbookBody("Research loop"), token)
	var pb domain.Playbook
	require.NoError(t, json.Unmarshal(body, &pb))
	_, body = doJSON(t, c, http.MethodPost, srv.URL+"/api/v1/playbooks/"+pb.ID+"/workflows",
		WorkflowRequest{Name: "Interviews", Description: "Talk to the people affected"}, token)
	var wf domain.Workflow
	require.NoError(t, json.Unmarshal(body, &wf))

	var acts []domain.Activity
	for _, name := range []string{"Plan", "Interview"} {
		resp, body := doJSON(t, c, http.MethodPost, srv.URL+"/api/v1/workflows/"+wf.ID+"/activities",
			ActivityRequest{Name: name}, token)
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
		var a domain.Activity
		require.NoError(t, json.Unmarshal(body, &a))
		acts = append(acts, a)
	}

	resp, body := doJSON(t, c, http.MethodPost, srv.URL+"/api/v1/activities/"+acts[0].ID+"/artifacts",
		ArtifactRequest{Name: "Interview guide", Type: "Document"}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var x domain.Artifact
	require.NoError(t, json.Unmarshal(body, &x))

	resp, body = doJSON(t, c, http.MethodPost, srv.URL+"/api/v1/artifacts/"+x.ID+"/consumers",
		ConsumerRequest{ActivityID: acts[1].ID, IsRequired: true}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = doJSON(t, c, http.MethodPost, srv.URL+"/api/v1/artifacts/"+x.ID+"/consumers",
		ConsumerRequest{ActivityID: acts[0].ID}, token)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(body))

	resp, body = doJSON(t, c, http.MethodGet, srv.URL+"/api/v1/playbooks/"+pb.ID+"/flow", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var data struct {
		Nodes []map[string]any `json:"nodes"`
		Edges []map[string]any `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(body, &data))
	assert.NotEmpty(t, data.Nodes)
	assert.NotEmpty(t, data.Edges)

	resp, body = doJSON(t, c, http.MethodGet, srv.URL+"/api/v1/playbooks/"+pb.ID+"/flow.dot", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "digraph")
}

func TestFormUnauthenticatedRedirectsToLogin(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := postForm(t, srv.browser(t), srv.URL+"/playbooks/create/", playbookValues("Anything goes"))
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), loginPath+"?next="), resp.Header.Get("Location"))
}

func login(t *testing.T, srv *testServer, username string) *http.Client {
	t.Helper()
	srv.user(t, username)
	b := srv.browser(t)
	resp, body := postForm(t, b, srv.URL+loginPath, url.Values{"username": {username}, "next": {"/playbooks/"}})
	require.Equal(t, http.StatusFound, resp.StatusCode, string(body))
	assert.Equal(t, "/playbooks/", resp.Header.Get("Location"))
	return b
}

func TestLoginFormRejectsUnknownUser(t *testing.T) {
	srv := newTestServer(t)
	resp, body := postForm(t, srv.browser(t), srv.URL+loginPath, url.Values{"username": {"ghost"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc problemDoc
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Contains(t, doc.Errors, "username")
}

func TestWizardFormFlow(t *testing.T) {
	srv := newTestServer(t)
	b := login(t, srv, "alice")

	resp, _ := get(t, b, srv.URL+"/playbooks/create/step2/")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/playbooks/create/", resp.Header.Get("Location"))

	resp, body := postForm(t, b, srv.URL+"/playbooks/create/", playbookValues("ab"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc problemDoc
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, string(engine.CodeValidation), doc.Type)
	assert.Contains(t, doc.Errors, "name")

	resp, _ = postForm(t, b, srv.URL+"/playbooks/create/", playbookValues("Feature delivery"))
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/playbooks/create/step2/", resp.Header.Get("Location"))

	resp, body = postForm(t, b, srv.URL+"/playbooks/create/step2/", url.Values{
		"workflow_name":        {"Discovery", "Discovery"},
		"workflow_description": {"Understand the problem", "Understand it again"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Contains(t, doc.Errors, "workflows[1].name")

	resp, _ = postForm(t, b, srv.URL+"/playbooks/create/step2/", url.Values{
		"workflow_name":        {"Discovery", "Delivery", ""},
		"workflow_description": {"Understand the problem", "Ship the smallest slice", ""},
	})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/playbooks/create/step3/", resp.Header.Get("Location"))

	resp, _ = postForm(t, b, srv.URL+"/playbooks/create/step3/", url.Values{"status": {"active"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	location := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(location, "/playbooks/"), location)

	resp, body = get(t, b, srv.URL+location)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var page struct {
		Data  PlaybookTree `json:"data"`
		Flash []string     `json:"flash"`
	}
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, "Feature delivery", page.Data.Playbook.Name)
	assert.Equal(t, domain.StatusActive, page.Data.Playbook.Status)
	assert.Equal(t, "1.0", page.Data.Playbook.Version.String())
	assert.Len(t, page.Data.Workflows, 2)
	require.Len(t, page.Flash, 1)
	assert.Contains(t, page.Flash[0], "created")

	resp, _ = get(t, b, srv.URL+"/playbooks/create/step3/")
	require.Equal(t, http.StatusFound, resp.StatusCode, "wizard state is cleared after commit")
}

func TestFormPermissionDeniedRedirectsWithFlash(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.user(t, "alice")
	pb, err := srv.Engine.Playbooks.Create(reqctx.BindUser(context.Background(), alice.ID), validate.PlaybookFields{
		Name:        "Alice's method",
		Description: "Nobody else may touch this",
		Category:    domain.CategoryResearch,
		Visibility:  domain.VisibilityPrivate,
	})
	require.NoError(t, err)

	b := login(t, srv, "bob")
	resp, _ := postForm(t, b, srv.URL+"/playbooks/"+pb.ID+"/edit/", playbookValues("Taken over"))
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, safePath, resp.Header.Get("Location"))

	resp, body := get(t, b, srv.URL+safePath)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var page struct {
		Flash []string `json:"flash"`
	}
	require.NoError(t, json.Unmarshal(body, &page))
	assert.NotEmpty(t, page.Flash)
}

func TestFormHierarchyAndNotFound(t *testing.T) {
	srv := newTestServer(t)
	b := login(t, srv, "alice")

	resp, _ := postForm(t, b, srv.URL+"/playbooks/create/", playbookValues("Design review"))
	require.Equal(t, http.StatusFound, resp.StatusCode)
	resp, _ = postForm(t, b, srv.URL+"/playbooks/create/step2/", url.Values{})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	resp, _ = postForm(t, b, srv.URL+"/playbooks/create/step3/", url.Values{"status": {"draft"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	pbURL := resp.Header.Get("Location")

	resp, _ = postForm(t, b, srv.URL+pbURL+"workflows/create/", url.Values{
		"name":        {"Critique"},
		"description": {"Gather feedback on the design"},
	})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	wfURL := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(wfURL, pbURL+"workflows/"), wfURL)

	resp, body := postForm(t, b, srv.URL+wfURL+"activities/create/", url.Values{"name": {"Sketch"}, "order": {"first"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc problemDoc
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Contains(t, doc.Errors, "order")

	resp, _ = postForm(t, b, srv.URL+wfURL+"activities/create/", url.Values{"name": {"Sketch"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	actURL := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(actURL, wfURL+"activities/"), actURL)

	resp, body = get(t, b, srv.URL+actURL)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = get(t, b, srv.URL+"/playbooks/missing/workflows/missing/")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, string(engine.CodeNotFound), doc.Type)
}

func TestOnboardingForm(t *testing.T) {
	srv := newTestServer(t)
	b := login(t, srv, "alice")

	resp, _ := postForm(t, b, srv.URL+"/auth/user/onboarding/", url.Values{"action": {"advance"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/auth/user/onboarding/", resp.Header.Get("Location"))

	resp, body := get(t, b, srv.URL+"/auth/user/onboarding/tour/")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var page struct {
		Data struct {
			Current string `json:"current"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, domain.OnboardingSteps[1], page.Data.Current)

	resp, _ = postForm(t, b, srv.URL+"/auth/user/onboarding/", url.Values{"action": {"complete"}})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/dashboard/", resp.Header.Get("Location"))

	resp, _ = postForm(t, b, srv.URL+"/auth/user/logout/", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	resp, _ = get(t, b, srv.URL+"/dashboard/")
	require.Equal(t, http.StatusFound, resp.StatusCode)
}
