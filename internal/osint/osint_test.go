package osint

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkellner/leakwatch/internal/database"
	"github.com/mkellner/leakwatch/internal/progress"
)

type stubModule struct {
	key     string
	results []string
	err     error
	calls   int
	gotCfg  map[string]string
}

func (m *stubModule) Key() string { return m.key }
func (m *stubModule) Run(ctx context.Context, in Input) ([]string, error) {
	m.calls++
	m.gotCfg = in.Config
	return m.results, m.err
}

func newTestRegistry(t *testing.T, modules ...Module) (*Registry, *database.DB, *progress.Tracker) {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	tracker := progress.NewTracker()
	return NewRegistry(db, tracker, modules...), db, tracker
}

func enable(t *testing.T, db *database.DB, key, config string) {
	t.Helper()
	require.NoError(t, db.SeedModuleSettings([]database.ModuleSetting{
		{ModuleKey: key, Name: key, Config: "{}"},
	}))
	require.NoError(t, db.UpdateModuleSetting(key, true, config))
}

func TestRegistrySkipsDisabledModules(t *testing.T) {
	on := &stubModule{key: "subfinder", results: []string{"dev.acme.example"}}
	off := &stubModule{key: "blackbird"}
	reg, db, _ := newTestRegistry(t, on, off)
	enable(t, db, "subfinder", "{}")
	require.NoError(t, db.SeedModuleSettings([]database.ModuleSetting{
		{ModuleKey: "blackbird", Name: "blackbird", Config: "{}"},
	}))

	keywords := []database.Keyword{{Term: "acme.example"}}
	discovered, err := reg.Run(context.Background(), 1, keywords)
	require.NoError(t, err)

	assert.Equal(t, 1, on.calls)
	assert.Zero(t, off.calls)
	assert.Equal(t, []string{"dev.acme.example"}, discovered)
}

func TestRegistryDeduplicatesCaseInsensitively(t *testing.T) {
	a := &stubModule{key: "subfinder", results: []string{"Dev.Acme.Example", "api.acme.example"}}
	b := &stubModule{key: "theharvester", results: []string{"dev.acme.example", "ACME.EXAMPLE"}}
	reg, db, _ := newTestRegistry(t, a, b)
	enable(t, db, "subfinder", "{}")
	enable(t, db, "theharvester", "{}")

	keywords := []database.Keyword{{Term: "acme.example"}}
	discovered, err := reg.Run(context.Background(), 1, keywords)
	require.NoError(t, err)

	// The existing keyword and the cross-module duplicate are dropped.
	assert.Equal(t, []string{"Dev.Acme.Example", "api.acme.example"}, discovered)
}

func TestRegistryModuleFailureDoesNotAbort(t *testing.T) {
	failing := &stubModule{key: "subfinder", err: errors.New("binary exploded")}
	working := &stubModule{key: "theharvester", results: []string{"ops@acme.example"}}
	reg, db, _ := newTestRegistry(t, failing, working)
	enable(t, db, "subfinder", "{}")
	enable(t, db, "theharvester", "{}")

	discovered, err := reg.Run(context.Background(), 1, []database.Keyword{{Term: "acme.example"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@acme.example"}, discovered)
}

func TestRegistryCancellationAborts(t *testing.T) {
	a := &stubModule{key: "subfinder", results: []string{"x.acme.example"}}
	reg, db, tracker := newTestRegistry(t, a)
	enable(t, db, "subfinder", "{}")

	tracker.RequestCancel()
	_, err := reg.Run(context.Background(), 1, []database.Keyword{{Term: "acme.example"}})
	assert.ErrorIs(t, err, progress.ErrCancelled)
	assert.Zero(t, a.calls)
}

func TestRegistryPassesConfigAndPersistsResults(t *testing.T) {
	m := &stubModule{key: "hunterio", results: []string{"ceo@acme.example", "breach:acme.example:BigDump"}}
	reg, db, _ := newTestRegistry(t, m)
	enable(t, db, "hunterio", `{"api_key":"k-123"}`)

	discovered, err := reg.Run(context.Background(), 7, []database.Keyword{{Term: "acme.example"}})
	require.NoError(t, err)

	assert.Equal(t, "k-123", m.gotCfg["api_key"])
	assert.Equal(t, []string{"ceo@acme.example"}, discovered,
		"informational results never become keywords")

	results, err := db.OsintResultsByScan(7)
	require.NoError(t, err)
	require.Len(t, results, 2, "all results are persisted, informational ones included")
	assert.Equal(t, "email", results[0].ResultType)
	assert.Equal(t, "info", results[1].ResultType)
}

func TestClassifyAndShapeHelpers(t *testing.T) {
	assert.True(t, domainLike("acme.example"))
	assert.True(t, domainLike("dev.acme.example"))
	assert.False(t, domainLike("acme corp"))
	assert.False(t, domainLike("ops@acme.example"))
	assert.False(t, domainLike("plainword"))

	assert.True(t, emailLike("ops@acme.example"))
	assert.False(t, emailLike("acme.example"))

	assert.Equal(t, "email", classify("ops@acme.example"))
	assert.Equal(t, "domain", classify("acme.example"))
	assert.Equal(t, "term", classify("acme-internal"))
	assert.Equal(t, "info", classify("breach:acme.example:BigDump"))
	assert.Equal(t, "info", classify("profile:acme@github"))
}
