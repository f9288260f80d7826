package console

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/phillip-england/clubadmin/internal/appstate"
	"github.com/phillip-england/clubadmin/internal/devapi"
	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/gateway"
	"github.com/phillip-england/clubadmin/internal/logging"
	"github.com/phillip-england/clubadmin/internal/security"
	"github.com/phillip-england/clubadmin/internal/store"
	"github.com/phillip-england/clubadmin/internal/uploads"
)

const (
	testUser     = "admin"
	testPassword = "correct horse battery"
)

var csrfField = regexp.MustCompile(`name="gorilla\.csrf\.Token" value="([^"]+)"`)

type harness struct {
	t       *testing.T
	api     *devapi.Server
	url     string
	client  *http.Client
	console *Server
}

// backendOptions shape the devapi the console talks to.
type backendOptions struct {
	empty bool
	// wrap intercepts backend requests before devapi sees them.
	wrap func(http.Handler) http.Handler
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, backendOptions{})
}

func newHarnessWith(t *testing.T, opts backendOptions) *harness {
	t.Helper()
	cat, err := domains.Load("")
	require.NoError(t, err)

	api, err := devapi.New(cat, devapi.Options{Seed: !opts.empty, Tenant: "club", Site: "website"}, logging.Discard())
	require.NoError(t, err)
	handler := api.Handler()
	if opts.wrap != nil {
		handler = opts.wrap(handler)
	}
	backend := httptest.NewServer(handler)
	t.Cleanup(backend.Close)

	dir := t.TempDir()
	journal, err := uploads.OpenJournal(t.Context(), filepath.Join(dir, "uploads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	images := gateway.NewImageHost(backend.URL, "club", "website", nil, logging.Discard())
	hash, err := security.HashPassword(testPassword)
	require.NoError(t, err)

	s, err := New(Config{
		Username:     testUser,
		PasswordHash: hash,
		ImageOrigin:  backend.URL,
	}, Deps{
		Catalog: cat,
		Sources: func(v domains.View) store.Source {
			domain := gateway.NewDomainClient(backend.URL, v, nil, logging.Discard())
			return uploads.NewCoordinator(v, domain, images, journal, logging.Discard())
		},
		Images: images,
		State:  appstate.NewFile(filepath.Join(dir, "state.json")),
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &harness{
		t:       t,
		api:     api,
		url:     srv.URL,
		client:  &http.Client{Jar: jar},
		console: s,
	}
}

func (h *harness) get(path string) (*http.Response, string) {
	h.t.Helper()
	resp, err := h.client.Get(h.url + path)
	require.NoError(h.t, err)
	return resp, readBody(h.t, resp)
}

// token reads a CSRF token from a page rendered for the current cookie.
func (h *harness) token(page string) string {
	h.t.Helper()
	_, body := h.get(page)
	m := csrfField.FindStringSubmatch(body)
	require.Len(h.t, m, 2, "page %s carries no csrf field", page)
	return m[1]
}

func (h *harness) post(path, contentType string, body io.Reader) (*http.Response, string) {
	h.t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.url+path, body)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Origin", h.url)
	req.Header.Set("Referer", h.url+path)
	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	return resp, readBody(h.t, resp)
}

// postForm submits values with a token taken from page.
func (h *harness) postForm(page, path string, values url.Values) (*http.Response, string) {
	h.t.Helper()
	values.Set("gorilla.csrf.Token", h.token(page))
	return h.post(path, "application/x-www-form-urlencoded", strings.NewReader(values.Encode()))
}

func (h *harness) login() {
	h.t.Helper()
	resp, _ := h.postForm("/login", "/login", url.Values{"username": {testUser}, "password": {testPassword}})
	require.Equal(h.t, http.StatusOK, resp.StatusCode)
	require.NotEqual(h.t, "/login", resp.Request.URL.Path, "login did not succeed")
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestAdminPagesRequireLogin(t *testing.T) {
	h := newHarness(t)
	h.client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, _ := h.get("/admin/registrations")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	h := newHarness(t)
	resp, body := h.postForm("/login", "/login", url.Values{"username": {testUser}, "password": {"not the password"}})
	assert.Equal(t, "/login", resp.Request.URL.Path)
	assert.Contains(t, body, "Invalid credentials")

	resp, _ = h.get("/admin")
	assert.Equal(t, "/login", resp.Request.URL.Path)
}

func TestPostWithoutTokenIsRejected(t *testing.T) {
	h := newHarness(t)
	h.login()
	resp, _ := h.post("/admin/registrations/records/F1001/highlight", "application/x-www-form-urlencoded", strings.NewReader(""))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, h.api.Records("registrations")[0].Bool("highlighted"))
}

func TestListAndDetail(t *testing.T) {
	h := newHarness(t)
	h.login()

	resp, body := h.get("/admin/registrations")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Contains(t, body, "Anita Kulkarni")
	assert.Contains(t, body, `href="/admin/registrations/records/F1001"`)
	assert.Contains(t, body, "Export")

	_, body = h.get("/admin/registrations/records/F1001")
	assert.Contains(t, body, "Pune Central")
	assert.Contains(t, body, "411001")
	assert.Contains(t, body, "Accept Member")
	assert.Contains(t, body, "Reject Member")

	resp, _ = h.get("/admin/nowhere")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHighlightMovesRecordIntoFilteredView(t *testing.T) {
	h := newHarness(t)
	h.login()

	_, body := h.get("/admin/members")
	assert.NotContains(t, body, "Anita Kulkarni")

	page := "/admin/registrations/records/F1001"
	resp, body := h.postForm(page, page+"/highlight", url.Values{})
	assert.Equal(t, page, resp.Request.URL.Path)
	assert.Contains(t, body, "Member Accepted")
	assert.True(t, h.api.Records("registrations")[0].Bool("highlighted"))

	_, body = h.get("/admin/members")
	assert.Contains(t, body, "Anita Kulkarni")
}

func TestRejectMovesMember(t *testing.T) {
	h := newHarness(t)
	h.login()

	page := "/admin/registrations/records/F1003"
	resp, body := h.postForm(page, page+"/reject", url.Values{})
	assert.Equal(t, "/admin/registrations", resp.Request.URL.Path)
	assert.Contains(t, body, "Member rejected")
	assert.Len(t, h.api.Records("registrations"), 2)

	_, body = h.get("/admin/rejected")
	assert.Contains(t, body, "Meera Joshi")
}

// failing answers 500 to method requests under prefix and passes the rest on.
func failing(method, prefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == method && strings.HasPrefix(r.URL.Path, prefix) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(w, `{"error":"backend unavailable"}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TestRejectRemovesCopyWhenDeleteFails(t *testing.T) {
	h := newHarnessWith(t, backendOptions{wrap: failing(http.MethodDelete, "/membership/delete/")})
	h.login()

	page := "/admin/registrations/records/F1003"
	_, body := h.postForm(page, page+"/reject", url.Values{})
	assert.Contains(t, body, "backend unavailable")
	assert.Len(t, h.api.Records("registrations"), 3)
	assert.Empty(t, h.api.Records("rejected"))

	_, body = h.get("/admin/rejected")
	assert.NotContains(t, body, "Meera Joshi")
}

func TestEmptyListShowsNoRecords(t *testing.T) {
	h := newHarnessWith(t, backendOptions{empty: true})
	h.login()

	resp, body := h.get("/admin/designations")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "No records.")
	assert.NotContains(t, body, "<table")
}

func TestListFailureShowsErrorToast(t *testing.T) {
	h := newHarnessWith(t, backendOptions{wrap: failing(http.MethodGet, "/designation")})
	h.login()

	resp, body := h.get("/admin/designations")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `class="toast toast-error"`)
	assert.Contains(t, body, "backend unavailable")
	assert.NotContains(t, body, "<table")

	resp, body = h.get("/admin/designations/records/d1")
	assert.Equal(t, "/admin/designations", resp.Request.URL.Path)
	assert.Contains(t, body, "backend unavailable")
}

func TestDeleteNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.login()

	page := "/admin/designations/records/d3"
	resp, body := h.postForm(page, page+"/delete", url.Values{})
	assert.Equal(t, page+"/delete", resp.Request.URL.Path)
	assert.Contains(t, body, "Delete this record?")
	assert.Len(t, h.api.Records("designations"), 3)

	resp, body = h.postForm(page+"/delete", page+"/delete", url.Values{})
	assert.Equal(t, "/admin/designations", resp.Request.URL.Path)
	assert.Contains(t, body, "Record deleted")
	assert.Len(t, h.api.Records("designations"), 2)
}

func TestCreateValidatesBeforeSending(t *testing.T) {
	h := newHarness(t)
	h.login()

	values := url.Values{
		"Name":     {"Nikhil Pawar"},
		"Dob":      {"1996-01-20"},
		"Mobileno": {"98765432101"},
		"Jcname":   {"Pune Central"},
	}
	resp, body := h.postForm("/admin/registrations/new", "/admin/registrations/new", values)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "mobile number must be exactly 10 digits")
	assert.Contains(t, body, `value="Nikhil Pawar"`)
	assert.Len(t, h.api.Records("registrations"), 3)

	values.Set("Mobileno", "9876501234")
	resp, body = h.postForm("/admin/registrations/new", "/admin/registrations/new", values)
	assert.Equal(t, "/admin/registrations", resp.Request.URL.Path)
	assert.Contains(t, body, "Nikhil Pawar")
	assert.Len(t, h.api.Records("registrations"), 4)
}

func TestFilteredViewCannotCreate(t *testing.T) {
	h := newHarness(t)
	h.login()
	resp, _ := h.get("/admin/members/new")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGalleryCreateUploadsImages(t *testing.T) {
	h := newHarness(t)
	h.login()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("gorilla.csrf.Token", h.token("/admin/gallery/new")))
	require.NoError(t, mw.WriteField("title", "Blood donation camp"))
	part, err := mw.CreateFormFile("images", "camp.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, body := h.post("/admin/gallery/new", mw.FormDataContentType(), &buf)
	assert.Equal(t, "/admin/gallery", resp.Request.URL.Path)
	assert.Contains(t, body, "Blood donation camp")

	stored := h.api.Records("gallery")
	require.Len(t, stored, 2)
	names := stored[1].Strings("images")
	require.Len(t, names, 1)
	assert.True(t, h.api.HasImage(names[0]))
}

func TestGalleryCreateRequiresImage(t *testing.T) {
	h := newHarness(t)
	h.login()
	resp, body := h.postForm("/admin/gallery/new", "/admin/gallery/new", url.Values{"title": {"No pictures"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "is required")
	assert.Len(t, h.api.Records("gallery"), 1)
}

func TestEditKeepsUnchangedImage(t *testing.T) {
	h := newHarness(t)
	h.login()

	page := "/admin/team/records/t1/edit"
	_, body := h.get(page)
	assert.Contains(t, body, `value="Sanjay Patil"`)

	values := url.Values{"name": {"Sanjay V. Patil"}, "designation": {"President"}, "mobile": {"9811122233"}}
	resp, _ := h.postForm(page, page, values)
	assert.Equal(t, "/admin/team/records/t1", resp.Request.URL.Path)

	got := h.api.Records("team")[0]
	assert.Equal(t, "Sanjay V. Patil", got.Text("name"))
	assert.Equal(t, "seed-president.jpg", got.Text("image"))
}

func TestSelectRejectsUnknownOption(t *testing.T) {
	h := newHarness(t)
	h.login()
	page := "/admin/team/records/t1/edit"
	resp, body := h.postForm(page, page, url.Values{"name": {"Sanjay Patil"}, "designation": {"Emperor"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "choose one of the listed options")
}

func TestMarkdownAndVideoDetail(t *testing.T) {
	h := newHarness(t)
	h.login()

	_, body := h.get("/admin/activities/records/a1")
	assert.Contains(t, body, "<strong>200</strong>")

	_, body = h.get("/admin/videos/records/v1")
	assert.Contains(t, body, "https://www.youtube.com/embed/dQw4w9WgXcQ")

	_, body = h.get("/admin/videos")
	assert.Contains(t, body, "https://img.youtube.com/vi/dQw4w9WgXcQ/hqdefault.jpg")
}

func TestPDFDisabled(t *testing.T) {
	h := newHarness(t)
	h.login()
	resp, body := h.get("/admin/activities/records/a1/pdf")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, "PDF export is disabled")
}

func TestExportSheet(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.get("/admin/designations")

	resp, err := h.client.Get(h.url + "/admin/designations/export.xlsx")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "designations-")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 4)
	assert.Contains(t, rows[1], "President")
}

func TestDashboardReturnsToLastView(t *testing.T) {
	h := newHarness(t)
	h.login()

	h.get("/admin/team")
	resp, _ := h.get("/admin")
	assert.Equal(t, "/admin/team", resp.Request.URL.Path)

	resp, body := h.get("/admin?home=1")
	assert.Equal(t, "/admin", resp.Request.URL.Path)
	assert.Contains(t, body, "Overview")
	assert.Contains(t, body, "Membership Registrations")
}

func TestLogoutEndsSession(t *testing.T) {
	h := newHarness(t)
	h.login()
	resp, body := h.postForm("/admin?home=1", "/logout", url.Values{})
	assert.Equal(t, "/login", resp.Request.URL.Path)
	assert.Contains(t, body, "Signed out")

	resp, _ = h.get("/admin/team")
	assert.Equal(t, "/login", resp.Request.URL.Path)
}
