package clubcli

import (
	"bytes"
	"encoding/hex"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/clubadmin/internal/devapi"
	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/logging"
	"github.com/phillip-england/clubadmin/internal/security"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// isolate runs the test in an empty directory with only the given backend
// configured.
func isolate(t *testing.T, backendURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("CATALOG_PATH", "")
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("LOG_LEVEL", "error")
	if backendURL != "" {
		t.Setenv("API_BASE_URL", backendURL)
		t.Setenv("IMAGE_HOST_URL", backendURL)
	}
	return dir
}

func TestNoCommandIsUsageError(t *testing.T) {
	_, err := run(t)
	assert.True(t, errors.Is(err, ErrUsage))

	_, err = run(t, "journal")
	assert.True(t, errors.Is(err, ErrUsage))
}

func TestRunRejectsUnknownTarget(t *testing.T) {
	_, err := run(t, "run", "everything")
	assert.Error(t, err)
}

func TestSetupWritesLoginAndKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")

	_, err := run(t, "setup", "--admin-password", "short", "--env-file", path)
	assert.ErrorContains(t, err, "invalid admin password")

	out, err := run(t, "setup", "--admin-username", "secretary", "--admin-password", "a long enough password", "--env-file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	values, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "secretary", values["ADMIN_USERNAME"])
	assert.True(t, security.VerifyPassword("a long enough password", values["ADMIN_PASSWORD_HASH"]))
	key, err := hex.DecodeString(values["CLIENT_CSRF_KEY"])
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = run(t, "setup", "--admin-password", "a long enough password", "--env-file", path)
	assert.Error(t, err, "an existing file needs --force")
	_, err = run(t, "setup", "--admin-password", "a long enough password", "--env-file", path, "--force")
	assert.NoError(t, err)
}

func TestCatalogListsViews(t *testing.T) {
	isolate(t, "")
	out, err := run(t, "catalog")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`members\s+Membership\s+registrations`), out)
	assert.Contains(t, out, "highlight,reject,delete,pdf,export,import")
}

func TestBackupRoundTrip(t *testing.T) {
	cat, err := domains.Load("")
	require.NoError(t, err)
	api, err := devapi.New(cat, devapi.Options{Seed: true, Tenant: "club", Site: "website"}, logging.Discard())
	require.NoError(t, err)
	backend := httptest.NewServer(api.Handler())
	t.Cleanup(backend.Close)

	dir := isolate(t, backend.URL)
	file := filepath.Join(dir, "snap", "all.json.xz")

	out, err := run(t, "backup", "--out", file)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`registrations\s+3`), out)

	out, err = run(t, "backup", "inspect", file)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`designations\s+3`), out)
	assert.Regexp(t, regexp.MustCompile(`rejected\s+0`), out)
}

func TestJournalStatusOnEmptyJournal(t *testing.T) {
	isolate(t, "")
	out, err := run(t, "journal", "status")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`orphaned\s+0`), out)
}

func TestTailwindAssetName(t *testing.T) {
	name, err := tailwindAssetName("linux", "amd64")
	require.NoError(t, err)
	assert.Equal(t, "tailwindcss-linux-x64", name)

	_, err = tailwindAssetName("plan9", "386")
	assert.Error(t, err)
}
