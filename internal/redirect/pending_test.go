package redirect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMixin = "Test.Site:RedirectMixin"

func newTestService(t *testing.T, repo *fakeRepo, store RedirectStore, cache RoutingCache) *Service {
	t.Helper()
	svc, err := NewService(ServiceOptions{
		Lookup:       repo,
		Presets:      repo,
		Paths:        repo,
		Hosts:        repo,
		Store:        store,
		RoutingCache: cache,
		NodeType:     testMixin,
		Logger:       quietLogger(),
	})
	require.NoError(t, err)
	return svc
}

func pageNode(id, workspace, redirectURLs string) *fakeNode {
	return &fakeNode{
		id:         id,
		path:       "/sites/example/" + id,
		workspace:  workspace,
		dimensions: Dimensions{"language": {"en"}},
		types:      []string{"Test.Site:Page", testMixin},
		fields:     map[string]string{DefaultRedirectField: redirectURLs},
		uriPath:    "en/" + id + ".html",
	}
}

func TestCollectorIgnoresOtherWorkspacesAndTypes(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(t, repo, newFakeStore(), nil)
	collector := svc.NewCollector()

	require.NoError(t, collector.Collect(context.Background(), pageNode("about", "user-admin", "/old"), "review"))
	plain := pageNode("plain", "user-admin", "/old")
	plain.types = []string{"Test.Site:Page"}
	require.NoError(t, collector.Collect(context.Background(), plain, DefaultLiveWorkspace))

	assert.Equal(t, 0, collector.Len())
}

func TestCollectorCapturesLiveValue(t *testing.T) {
	repo := &fakeRepo{}
	repo.put(pageNode("about", DefaultLiveWorkspace, "/before"))
	svc := newTestService(t, repo, newFakeStore(), nil)
	collector := svc.NewCollector()

	edited := pageNode("about", "user-admin", "/after")
	require.NoError(t, collector.Collect(context.Background(), edited, DefaultLiveWorkspace))
	require.NoError(t, collector.Collect(context.Background(), pageNode("about", "user-admin", "/later"), DefaultLiveWorkspace))

	pending := collector.Pending()
	require.Len(t, pending, 1, "one entry per node variant")
	assert.Equal(t, "/before", pending[0].OldRedirectURLs)
	assert.Equal(t, "about", pending[0].NodeIdentifier)
	assert.Equal(t, DefaultLiveWorkspace, pending[0].WorkspaceName)
	assert.Equal(t, Dimensions{"language": {"en"}}, pending[0].Dimensions)
}

func TestCollectorNewNodeHasEmptyOldValue(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(t, repo, newFakeStore(), nil)
	collector := svc.NewCollector()

	require.NoError(t, collector.Collect(context.Background(), pageNode("fresh", "user-admin", "/x"), DefaultLiveWorkspace))
	require.Len(t, collector.Pending(), 1)
	assert.Equal(t, "", collector.Pending()[0].OldRedirectURLs)
}

func TestCommitAllReconcilesPublishedChange(t *testing.T) {
	repo := &fakeRepo{hosts: []string{"www.example.com"}}
	repo.put(pageNode("about", DefaultLiveWorkspace, "/keep /drop"))
	store := newFakeStore(
		Redirect{SourcePath: "keep", TargetPath: "en/about.html", Host: "www.example.com"},
		Redirect{SourcePath: "drop", TargetPath: "en/about.html", Host: "www.example.com"},
	)
	cache := &fakeCache{}
	svc := newTestService(t, repo, store, cache)
	collector := svc.NewCollector()

	require.NoError(t, collector.Collect(context.Background(), pageNode("about", "user-admin", "/keep /new"), DefaultLiveWorkspace))
	repo.put(pageNode("about", DefaultLiveWorkspace, "/keep https://old.example.com/new?utm=1"))

	report, err := collector.CommitAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Changed)
	result := report.Results["about@language=en"]
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, []string{"new"}, result.Created)

	_, dropped := store.get("drop", "www.example.com")
	assert.False(t, dropped)
	created, ok := store.get("new", "www.example.com")
	require.True(t, ok)
	assert.Equal(t, "en/about.html", created.TargetPath)
	assert.Equal(t, []string{"node_about", "node_about"}, cache.invalidated)
	assert.Equal(t, 0, collector.Len(), "buffer is cleared after commit")
}

func TestCommitAllUnchangedOnlyRefreshesRoute(t *testing.T) {
	repo := &fakeRepo{}
	repo.put(pageNode("about", DefaultLiveWorkspace, "/same"))
	store := newFakeStore(Redirect{SourcePath: "same", TargetPath: "en/about.html"})
	cache := &fakeCache{}
	svc := newTestService(t, repo, store, cache)
	collector := svc.NewCollector()

	require.NoError(t, collector.Collect(context.Background(), pageNode("about", "user-admin", "/same"), DefaultLiveWorkspace))
	report, err := collector.CommitAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Changed)
	assert.Equal(t, []string{"node_about"}, cache.invalidated)
}

func TestCommitAllSkipsVanishedNodes(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(t, repo, newFakeStore(), nil)
	collector := svc.NewCollector()

	require.NoError(t, collector.Collect(context.Background(), pageNode("gone", "user-admin", "/x"), DefaultLiveWorkspace))
	report, err := collector.CommitAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, collector.Len())
}

func TestCommitAllRemovedNodeDropsRedirects(t *testing.T) {
	repo := &fakeRepo{}
	live := pageNode("about", DefaultLiveWorkspace, "/a /b")
	repo.put(live)
	store := newFakeStore(
		Redirect{SourcePath: "a", TargetPath: "en/about.html"},
		Redirect{SourcePath: "b", TargetPath: "en/about.html"},
	)
	svc := newTestService(t, repo, store, &fakeCache{})
	collector := svc.NewCollector()

	require.NoError(t, collector.Collect(context.Background(), pageNode("about", "user-admin", "/a /b"), DefaultLiveWorkspace))
	removed := pageNode("about", DefaultLiveWorkspace, "/a /b")
	removed.removed = true
	removed.uriPath = ""
	repo.put(removed)

	report, err := collector.CommitAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Results["about@language=en"].Removed)
	assert.Equal(t, 0, store.count())
}

func TestCommitAllContinuesPastFailuresAndClearsBuffer(t *testing.T) {
	repo := &fakeRepo{}
	broken := pageNode("broken", DefaultLiveWorkspace, "/x")
	broken.uriPath = ""
	repo.put(broken)
	repo.put(pageNode("fine", DefaultLiveWorkspace, "/y"))
	store := newFakeStore()
	svc := newTestService(t, repo, store, nil)
	collector := svc.NewCollector()

	require.NoError(t, collector.Collect(context.Background(), pageNode("broken", "user-admin", "/x"), DefaultLiveWorkspace))
	require.NoError(t, collector.Collect(context.Background(), pageNode("fine", "user-admin", "/y"), DefaultLiveWorkspace))

	report, err := collector.CommitAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPathUnresolved))
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Changed)
	_, ok := store.get("y", AnyHost)
	assert.True(t, ok)
	assert.Equal(t, 0, collector.Len())

	again, err := collector.CommitAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Processed, "entries are never reprocessed")
}
