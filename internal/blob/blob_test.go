package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	s := FileStore{Dir: t.TempDir()}
	ctx := context.Background()
	key := TemplateKey("x1", "u1", "brief.md")
	assert.Equal(t, "artifacts/x1/u1/brief.md", key)

	require.NoError(t, s.Put(ctx, key, strings.NewReader("# Brief")))
	rc, err := s.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "# Brief", string(data))

	require.NoError(t, s.Delete(ctx, key))
	assert.ErrorIs(t, s.Delete(ctx, key), ErrNotExist)
	_, err = s.Open(ctx, key)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestTemplateKeyStripsDirectories(t *testing.T) {
	assert.Equal(t, "artifacts/x1/u1/evil.txt", TemplateKey("x1", "u1", "../../evil.txt"))
	assert.Equal(t, "artifacts/x1/u1/a.doc", TemplateKey("x1", "u1", `C:\Users\me\a.doc`))
	assert.Equal(t, "artifacts/x1/u1/template", TemplateKey("x1", "u1", ""))
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	s := FileStore{Dir: t.TempDir()}
	err := s.Put(context.Background(), "", strings.NewReader("x"))
	assert.Error(t, err)
}
