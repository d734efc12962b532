package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	oldUser = "6d431ee8-e4b4-4fa3-8d1f-45d6f4367f0d"
	newUser = "785463f5-24bf-413d-8052-17a208889a93"
)

// fakeREST is a minimal PostgREST: equality filters, merge-duplicates
// upserts on on_conflict, and exact counts on HEAD.
type fakeREST struct {
	mu     sync.Mutex
	tables map[string][]map[string]any
	fail   map[string]int
	posts  int
	srv    *httptest.Server
}

func newFakeREST(t *testing.T) *fakeREST {
	t.Helper()
	f := &fakeREST{
		tables: make(map[string][]map[string]any),
		fail:   make(map[string]int),
	}
	f.srv = httptest.NewServer(f)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeREST) seed(table string, rows ...map[string]any) *fakeREST {
	f.tables[table] = append(f.tables[table], rows...)
	return f
}

func (f *fakeREST) rows(table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[table]
}

func (f *fakeREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("apikey") == "" {
		http.Error(w, `{"message":"No API key found in request"}`, http.StatusUnauthorized)
		return
	}
	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	if code := f.fail[table]; code != 0 {
		w.WriteHeader(code)
		fmt.Fprintf(w, `{"code":"XX000","message":"%s unavailable"}`, table)
		return
	}
	q := r.URL.Query()

	switch r.Method {
	case http.MethodGet:
		out := []map[string]any{}
		if q.Get("offset") == "0" {
			for _, row := range f.tables[table] {
				if matchesQuery(row, q) {
					out = append(out, row)
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)

	case http.MethodPost:
		f.posts++
		var rows []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		keys := []string{"id"}
		if oc := q.Get("on_conflict"); oc != "" {
			keys = strings.Split(oc, ",")
		}
		for _, row := range rows {
			f.upsert(table, row, keys)
		}
		w.WriteHeader(http.StatusCreated)

	case http.MethodHead:
		w.Header().Set("Content-Range", fmt.Sprintf("*/%d", len(f.tables[table])))
		w.WriteHeader(http.StatusOK)
	}
}

func (f *fakeREST) upsert(table string, row map[string]any, keys []string) {
	for _, existing := range f.tables[table] {
		same := true
		for _, k := range keys {
			if fmt.Sprint(existing[k]) != fmt.Sprint(row[k]) {
				same = false
				break
			}
		}
		if same {
			for k, v := range row {
				existing[k] = v
			}
			return
		}
	}
	f.tables[table] = append(f.tables[table], row)
}

func matchesQuery(row map[string]any, q url.Values) bool {
	for k, vs := range q {
		switch k {
		case "select", "order", "limit", "offset":
			continue
		}
		if fmt.Sprint(row[k]) != strings.TrimPrefix(vs[0], "eq.") {
			return false
		}
	}
	return true
}

// setup points the environment at the two fakes and writes a config file
// with the identifier map.
func setup(t *testing.T, src, dst *fakeREST) string {
	t.Helper()
	t.Setenv("SOURCE_URL", src.srv.URL)
	t.Setenv("SOURCE_KEY", "source-key")
	t.Setenv("TARGET_URL", dst.srv.URL)
	t.Setenv("TARGET_KEY", "target-key")
	t.Setenv("LOG_LEVEL", "error")

	path := filepath.Join(t.TempDir(), "migrate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id_map:\n  "+oldUser+": "+newUser+"\n"), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	t.Cleanup(func() { cmd.SetOut(nil) })
	err := cmd.Execute()
	return out.String(), err
}

func splitmateSource(t *testing.T) *fakeREST {
	return newFakeREST(t).
		seed("profiles",
			map[string]any{"id": oldUser, "email": "admin@example.com"},
		).
		seed("teams",
			map[string]any{"id": "T1", "admin_id": oldUser, "name": "Trip"},
			map[string]any{"id": "T2", "admin_id": nil, "name": "Orphan"},
		).
		seed("participants",
			map[string]any{"id": "P1", "team_id": "T1", "user_id": oldUser, "name": "Admin"},
		)
}

func TestMigrateCommand_EndToEnd(t *testing.T) {
	src := splitmateSource(t)
	dst := newFakeREST(t)
	path := setup(t, src, dst)

	out, err := run(t, "migrate", "--config", path)
	require.NoError(t, err)

	assert.Equal(t, newUser, dst.rows("profiles")[0]["id"])
	assert.Len(t, dst.rows("teams"), 2)
	assert.Equal(t, newUser, dst.rows("participants")[0]["user_id"])
	assert.Equal(t, []map[string]any{
		{"team_id": "T1", "user_id": newUser, "status": "admin"},
	}, dst.rows("team_members"))

	assert.Contains(t, out, "transaction_splits")
	assert.Contains(t, out, "Membership repair: 2 teams, 1 admins ensured, 1 without admin, 0 failed")
}

func TestMigrateCommand_TableFailureExitsNonZero(t *testing.T) {
	src := splitmateSource(t)
	src.fail["teams"] = http.StatusInternalServerError
	dst := newFakeREST(t)
	path := setup(t, src, dst)

	out, err := run(t, "migrate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tables teams")

	assert.Contains(t, out, "FAILED")
	assert.Len(t, dst.rows("profiles"), 1, "tables before the failure are copied")
	assert.Len(t, dst.rows("participants"), 1, "tables after the failure are copied")
	assert.Empty(t, dst.rows("teams"))
}

func TestMigrateCommand_DryRun(t *testing.T) {
	src := splitmateSource(t)
	dst := newFakeREST(t)
	path := setup(t, src, dst)
	t.Cleanup(func() { NewRootCommand().PersistentFlags().Set("dry-run", "false") })

	out, err := run(t, "migrate", "--config", path, "--dry-run")
	require.NoError(t, err)

	assert.Contains(t, out, "Dry run")
	assert.Zero(t, dst.posts)
	assert.Empty(t, dst.rows("teams"))
}

func TestRepairCommand(t *testing.T) {
	src := newFakeREST(t)
	dst := newFakeREST(t).seed("teams",
		map[string]any{"id": "T1", "admin_id": newUser},
		map[string]any{"id": "T2", "admin_id": newUser},
	)
	path := setup(t, src, dst)

	out, err := run(t, "repair", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 admins ensured")
	assert.Len(t, dst.rows("team_members"), 2)

	_, err = run(t, "repair", "--config", path)
	require.NoError(t, err)
	assert.Len(t, dst.rows("team_members"), 2, "repair is idempotent")
}

func TestVerifyCommand(t *testing.T) {
	src := splitmateSource(t)
	dst := newFakeREST(t)
	path := setup(t, src, dst)

	out, err := run(t, "verify", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 of 6 tables differ")
	assert.Contains(t, out, "NO")

	_, err = run(t, "migrate", "--config", path)
	require.NoError(t, err)

	_, err = run(t, "verify", "--config", path)
	require.Error(t, err, "team_members gained the repaired admin row")
	assert.Contains(t, err.Error(), "1 of 6 tables differ")
}

func TestInspectCommand(t *testing.T) {
	src := splitmateSource(t).seed("team_members",
		map[string]any{"team_id": "T1", "user_id": oldUser, "status": "admin"},
	)
	dst := newFakeREST(t)
	path := setup(t, src, dst)

	out, err := run(t, "inspect", "--config", path, "admin@example.com")
	require.NoError(t, err)

	assert.Contains(t, out, "== source")
	assert.Contains(t, out, "== target")
	assert.Contains(t, out, "Trip")
	assert.Contains(t, out, "memberships (1)")
	assert.Contains(t, out, "owned teams (1)")
	assert.Contains(t, out, `no profile matches "admin@example.com"`)
}

func TestMigrateCommand_InvalidConfig(t *testing.T) {
	t.Setenv("SOURCE_URL", "")
	t.Setenv("SOURCE_KEY", "")
	t.Setenv("TARGET_URL", "")
	t.Setenv("TARGET_KEY", "")

	_, err := run(t, "migrate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "SOURCE_URL")
}
