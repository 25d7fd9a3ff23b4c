package playbooksdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playbooks/internal/blob"
	"playbooks/internal/db"
	"playbooks/internal/engine"
	"playbooks/internal/migrate"
	"playbooks/internal/server"
	"playbooks/internal/session"
)

func newTestAPI(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	e := engine.New(conn, engine.Options{Blob: blob.FileStore{Dir: filepath.Join(dir, "blobs")}})
	handler, err := server.New(server.Config{
		Engine:   e,
		Sessions: session.NewMemoryStore(),
		Auth:     server.AuthConfig{JWTSecret: "sdk-secret", DevLogin: true},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv, e
}

func login(t *testing.T, srv *httptest.Server, e *engine.Engine, username string) *Client {
	t.Helper()
	_, err := e.Users.Ensure(context.Background(), username)
	require.NoError(t, err)
	c := New(srv.URL, "")
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, c.do(context.Background(), http.MethodPost, "auth/dev/login", map[string]string{"username": username}, &resp))
	require.NotEmpty(t, resp.Token)
	c.BearerToken = resp.Token
	return c
}

func TestClientAuthorsAndReleasesPlaybook(t *testing.T) {
	srv, e := newTestAPI(t)
	c := login(t, srv, e, "sdk-user")
	ctx := context.Background()

	pb, err := c.CreatePlaybook(ctx, PlaybookInput{
		Name:        "SDK Playbook",
		Description: "Created through the Go client.",
		Category:    "research",
		Tags:        []string{"sdk"},
	})
	require.NoError(t, err)
	assert.Equal(t, "0.1", pb.Version.String())
	assert.Equal(t, "draft", pb.Status)

	wf, err := c.CreateWorkflow(ctx, pb.ID, WorkflowInput{Name: "Explore", Description: "Look around for options."})
	require.NoError(t, err)
	first, err := c.CreateActivity(ctx, wf.ID, ActivityInput{Name: "Interview"})
	require.NoError(t, err)
	second, err := c.CreateActivity(ctx, wf.ID, ActivityInput{Name: "Synthesize"})
	require.NoError(t, err)
	notes, err := c.CreateArtifact(ctx, first.ID, ArtifactInput{Name: "Interview notes"})
	require.NoError(t, err)
	assert.Equal(t, "Document", notes.Type)

	in, _, err := c.AddConsumer(ctx, notes.ID, second.ID, true)
	require.NoError(t, err)
	assert.True(t, in.IsRequired)

	dot, err := c.FlowDOT(ctx, pb.ID)
	require.NoError(t, err)
	assert.Contains(t, dot, "digraph")

	page, err := c.ListPlaybooks(ctx, ListOptions{Category: "research"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, pb.ID, page.Items[0].ID)

	released, err := c.ReleasePlaybook(ctx, pb.ID, "initial")
	require.NoError(t, err)
	assert.Equal(t, "1.0", released.Version.String())

	_, err = c.UpdatePlaybook(ctx, pb.ID, PlaybookInput{Name: "Renamed", Description: "Created through the Go client.", Category: "research"})
	require.Error(t, err)
	assert.True(t, IsCode(err, "released_immutable"), "got %v", err)

	doc, err := c.ExportPlaybook(ctx, pb.ID, "yaml")
	require.NoError(t, err)
	assert.Contains(t, string(doc), "Interview notes")

	events, err := c.Events(ctx, pb.ID, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestClientDecodesValidationFields(t *testing.T) {
	srv, e := newTestAPI(t)
	c := login(t, srv, e, "sdk-user")
	ctx := context.Background()

	_, err := c.CreatePlaybook(ctx, PlaybookInput{Name: "Dup Name", Description: "A perfectly fine description.", Category: "other"})
	require.NoError(t, err)
	_, err = c.CreatePlaybook(ctx, PlaybookInput{Name: "Dup Name", Description: "A perfectly fine description.", Category: "other"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "validation_error", apiErr.Code)
	assert.Contains(t, apiErr.Fields, "name")
}

func TestClientWithoutTokenIsUnauthorized(t *testing.T) {
	srv, _ := newTestAPI(t)
	_, err := New(srv.URL, "").ListPlaybooks(context.Background(), ListOptions{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestDecodeErrorFallsBackToBody(t *testing.T) {
	err := decodeError(http.StatusBadGateway, []byte("upstream down"))
	assert.Equal(t, "", err.Code)
	assert.Contains(t, err.Error(), "upstream down")
}
