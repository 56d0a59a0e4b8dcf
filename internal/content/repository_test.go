package content

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

const mixinType = "ElementareTeilchen.Neos.ExternalRedirect:RedirectUrlsMixin"

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// openFixture copies the fixture document into a temp dir so tests may publish.
func openFixture(t *testing.T) *Repository {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "content.yaml"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "content.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	repo, err := Open(path, Options{Logger: quietLogger()})
	require.NoError(t, err)
	return repo
}

func en() redirect.Dimensions { return redirect.Dimensions{"language": {"en"}} }
func de() redirect.Dimensions { return redirect.Dimensions{"language": {"de", "en"}} }

func TestAllPresets(t *testing.T) {
	repo := openFixture(t)
	presets := repo.AllPresets()
	require.Len(t, presets, 2)
	assert.Equal(t, "language", presets[0].Dimension)
	assert.Equal(t, "en", presets[0].Name)
	assert.Equal(t, redirect.Dimensions{"language": {"de", "en"}}, presets[1].Dimensions())
}

func TestByIdentifierDimensionFallback(t *testing.T) {
	repo := openFixture(t)
	ctx := context.Background()

	about, err := repo.ByIdentifier(ctx, "about", "live", de())
	require.NoError(t, err)
	assert.Equal(t, redirect.Dimensions{"language": {"de"}}, about.Dimensions())
	assert.Equal(t, "/sites/acme/about@live;language=de", about.ContextPath())

	contact, err := repo.ByIdentifier(ctx, "contact", "live", de())
	require.NoError(t, err)
	assert.Equal(t, redirect.Dimensions{"language": {"en"}}, contact.Dimensions(), "falls back to the next listed value")

	_, err = repo.ByIdentifier(ctx, "contact", "live", redirect.Dimensions{"language": {"fr"}})
	assert.True(t, errors.Is(err, redirect.ErrNotFound))
}

func TestByIdentifierWorkspaceFallback(t *testing.T) {
	repo := openFixture(t)
	ctx := context.Background()

	about, err := repo.ByIdentifier(ctx, "about", "user-editor", en())
	require.NoError(t, err)
	value, err := about.Field("redirectUrls")
	require.NoError(t, err)
	assert.Equal(t, "/about /who-we-are", value)
	assert.Equal(t, "user-editor", about.Workspace())

	contact, err := repo.ByIdentifier(ctx, "contact", "user-editor", en())
	require.NoError(t, err)
	_, err = contact.Field("redirectUrls")
	assert.ErrorIs(t, err, redirect.ErrFieldMissing)

	_, err = repo.ByIdentifier(ctx, "about", "nope", en())
	assert.ErrorIs(t, err, redirect.ErrNotFound)
}

func TestByIdentifierReturnsRemovedNodes(t *testing.T) {
	repo := openFixture(t)
	gone, err := repo.ByIdentifier(context.Background(), "gone", "live", en())
	require.NoError(t, err)
	assert.True(t, gone.IsRemoved())
}

func TestFindByTypeRecursively(t *testing.T) {
	repo := openFixture(t)
	ctx := context.Background()

	nodes, err := repo.FindByTypeRecursively(ctx, "/sites", mixinType, "live", en())
	require.NoError(t, err)
	var ids []string
	for _, node := range nodes {
		ids = append(ids, node.Identifier())
	}
	assert.Equal(t, []string{"about", "contact", "elsewhere"}, ids)

	documents, err := repo.FindByTypeRecursively(ctx, "/sites/acme", "Neos.Neos:Document", "live", en())
	require.NoError(t, err)
	assert.Len(t, documents, 3, "folder is a document, the removed page is not listed")

	_, err = repo.FindByTypeRecursively(ctx, "/sites", mixinType, "missing", en())
	assert.ErrorIs(t, err, redirect.ErrNotFound)
}

func TestResolveAndHostnames(t *testing.T) {
	repo := openFixture(t)
	ctx := context.Background()

	about, err := repo.ByIdentifier(ctx, "about", "live", de())
	require.NoError(t, err)
	uri, err := repo.Resolve(ctx, about)
	require.NoError(t, err)
	assert.Equal(t, "de/ueber-uns.html", uri)

	hosts, err := repo.Hostnames(ctx, about)
	require.NoError(t, err)
	assert.Equal(t, []string{"www.acme.example", "acme.example"}, hosts)

	elsewhere, err := repo.ByIdentifier(ctx, "elsewhere", "live", en())
	require.NoError(t, err)
	hosts, err = repo.Hostnames(ctx, elsewhere)
	require.NoError(t, err)
	assert.Empty(t, hosts)

	doc := &Document{Workspaces: map[string]*Workspace{"live": {Nodes: []NodeRecord{{Identifier: "x", Path: "/sites/x"}}}}}
	bare, err := NewFromDocument(doc, Options{Logger: quietLogger()})
	require.NoError(t, err)
	node, err := bare.ByIdentifier(ctx, "x", "live", nil)
	require.NoError(t, err)
	_, err = bare.Resolve(ctx, node)
	assert.ErrorIs(t, err, redirect.ErrPathUnresolved)
}

func TestPublishPersistsDocument(t *testing.T) {
	repo := openFixture(t)
	ctx := context.Background()

	require.NoError(t, repo.Publish(ctx, "about", en(), "user-editor", "live"))

	reopened, err := Open(repo.Path(), Options{Logger: quietLogger()})
	require.NoError(t, err)
	live, err := reopened.ByIdentifier(ctx, "about", "live", en())
	require.NoError(t, err)
	value, err := live.Field("redirectUrls")
	require.NoError(t, err)
	assert.Equal(t, "/about /who-we-are", value)

	err = repo.Publish(ctx, "about", en(), "user-editor", "live")
	assert.ErrorIs(t, err, redirect.ErrNotFound, "the variant left the source workspace")
}

func TestParseDocumentRejectsInvalidDocuments(t *testing.T) {
	tests := map[string]string{
		"unknown base": "workspaces:\n  a: {base: b}\n",
		"cycle":        "workspaces:\n  a: {base: b}\n  b: {base: a}\n",
		"duplicate":    "workspaces:\n  live:\n    nodes:\n      - {identifier: x, path: /x}\n      - {identifier: x, path: /x}\n",
		"relative":     "workspaces:\n  live:\n    nodes:\n      - {identifier: x, path: x}\n",
		"malformed":    "workspaces: [",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDocument([]byte(raw))
			assert.Error(t, err)
		})
	}
}
