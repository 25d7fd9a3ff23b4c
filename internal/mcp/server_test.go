package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playbooks/internal/blob"
	"playbooks/internal/db"
	"playbooks/internal/engine"
	"playbooks/internal/migrate"
)

func connect(t *testing.T) *sdkmcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))
	e := engine.New(conn, engine.Options{Blob: blob.FileStore{Dir: filepath.Join(dir, "blobs")}})
	u, err := e.Users.Ensure(ctx, "agent")
	require.NoError(t, err)

	srv := NewServer(e, u, "test", nil)
	serverT, clientT := sdkmcp.NewInMemoryTransports()
	ss, err := srv.MCPServer.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func call(t *testing.T, cs *sdkmcp.ClientSession, name string, args map[string]any) (*sdkmcp.CallToolResult, map[string]any) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out), text.Text)
	return res, out
}

func mustCall(t *testing.T, cs *sdkmcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	res, out := call(t, cs, name, args)
	require.False(t, res.IsError, "%s failed: %v", name, out)
	return out
}

func TestListToolsCoversEveryEntity(t *testing.T) {
	cs := connect(t)
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, entity := range []string{"playbook", "workflow", "activity", "artifact"} {
		for _, verb := range []string{"create", "get", "update", "delete", "duplicate"} {
			assert.True(t, names[verb+"_"+entity], "missing %s_%s", verb, entity)
		}
	}
	for _, name := range []string{
		"list_playbooks", "list_workflows", "list_activities", "list_artifacts",
		"add_artifact_consumer", "bulk_add_inputs", "copy_inputs", "render_flow",
		"release_playbook", "export_playbook", "import_playbook",
	} {
		assert.True(t, names[name], "missing %s", name)
	}
}

func TestToolsBuildAndReleasePlaybook(t *testing.T) {
	cs := connect(t)
	pb := mustCall(t, cs, "create_playbook", map[string]any{
		"name":        "Agent Playbook",
		"description": "Built entirely over tool calls.",
		"category":    "development",
	})
	pbID := pb["id"].(string)
	assert.Equal(t, 0.1, pb["version"])
	assert.Equal(t, "draft", pb["status"])

	wf := mustCall(t, cs, "create_workflow", map[string]any{
		"playbook_id": pbID,
		"name":        "Discovery",
		"description": "Find out what to build.",
	})
	design := mustCall(t, cs, "create_activity", map[string]any{"workflow_id": wf["id"], "name": "Design"})
	build := mustCall(t, cs, "create_activity", map[string]any{"workflow_id": wf["id"], "name": "Build"})
	doc := mustCall(t, cs, "create_artifact", map[string]any{"produced_by_id": design["id"], "name": "Design doc"})
	assert.Equal(t, "Document", doc["type"])

	input := mustCall(t, cs, "add_artifact_consumer", map[string]any{
		"artifact_id": doc["id"],
		"activity_id": build["id"],
		"is_required": true,
	})
	assert.NotNil(t, input["input"])

	flow := mustCall(t, cs, "generate_flow_data", map[string]any{"playbook_id": pbID})
	assert.Len(t, flow["edges"], 1)

	listed := mustCall(t, cs, "list_playbooks", map[string]any{})
	assert.Len(t, listed["items"], 1)

	released := mustCall(t, cs, "release_playbook", map[string]any{"id": pbID, "change_summary": "first cut"})
	assert.Equal(t, 1.0, released["version"])
	assert.Equal(t, "released", released["status"])

	res, out := call(t, cs, "update_workflow", map[string]any{
		"id":          wf["id"],
		"name":        "Discovery v2",
		"description": "Find out what to build.",
	})
	assert.True(t, res.IsError)
	assert.Equal(t, "released_immutable", out["code"])
}

func TestToolValidationFailureCarriesFields(t *testing.T) {
	cs := connect(t)
	res, out := call(t, cs, "create_playbook", map[string]any{
		"name":        "x",
		"description": "short",
		"category":    "nonsense",
	})
	require.True(t, res.IsError)
	assert.Equal(t, "validation_error", out["code"])
	assert.Equal(t, false, out["retryable"])
	fields, ok := out["fields"].(map[string]any)
	require.True(t, ok, "fields: %v", out["fields"])
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "description")
	assert.Contains(t, fields, "category")
}

func TestToolNotFound(t *testing.T) {
	cs := connect(t)
	res, out := call(t, cs, "get_playbook", map[string]any{"id": "missing"})
	require.True(t, res.IsError)
	assert.Equal(t, "not_found", out["code"])
}
