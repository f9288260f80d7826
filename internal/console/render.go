package console

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/csrf"

	"github.com/phillip-england/clubadmin/internal/ctxutil"
	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/records"
	"github.com/phillip-england/clubadmin/internal/sheets"
)

//go:embed templates/*.html assets/app.css
var templatesFS embed.FS

var pageNames = []string{"login", "dashboard", "list", "detail", "confirm", "form", "import"}

var funcs = template.FuncMap{
	"pathEscape": url.PathEscape,
}

// parsePages parses each page together with the shared layout.
func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames)+1)
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(templatesFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	t, err := template.New("print.html").Funcs(funcs).ParseFS(templatesFS, "templates/print.html")
	if err != nil {
		return nil, fmt.Errorf("parse template print: %w", err)
	}
	pages["print"] = t
	return pages, nil
}

type pageData struct {
	Title    string
	Message  string
	Error    string
	CSRF     template.HTML
	SignedIn bool
	Sections []domains.Section
	Current  string

	View    domains.View
	Columns []records.Column
	Rows    []rowView
	Loaded  bool

	Key         string
	Fields      []fieldView
	Images      []string
	Video       *videoView
	Highlighted bool

	Form       []formFieldView
	FormAction string
	Editing    bool

	Import *sheets.Result
	Counts []countView
}

type rowView struct {
	Ordinal     int
	Key         string
	Cells       []string
	Title       string
	Thumb       string
	Highlighted bool
}

type fieldView struct {
	Label string
	Text  string
	HTML  template.HTML
}

type videoView struct {
	ID    string
	Embed string
	Watch string
}

type formFieldView struct {
	Name     string
	Label    string
	Kind     string
	Value    string
	Required bool
	Multiple bool
	Options  []string
	Error    string
}

type countView struct {
	View  domains.View
	Count int
	Error string
}

func (s *Server) basePage(r *http.Request, title string) pageData {
	q := r.URL.Query()
	return pageData{
		Title:    title,
		Message:  q.Get("message"),
		Error:    q.Get("error"),
		CSRF:     csrf.TemplateField(r),
		SignedIn: ctxutil.SessionIDFromCtx(r.Context()) != "",
		Sections: s.catalog.Sections(),
	}
}

func (s *Server) viewPage(r *http.Request, v domains.View, title string) pageData {
	data := s.basePage(r, title)
	data.View = v
	data.Current = v.Name
	return data
}

// render buffers the page so a template error never sends half a response.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	tmpl, ok := s.pages[page]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.log.ErrorContext(r.Context(), "template render failed", "page", page, "error", err)
		http.Error(w, "template render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) appCSSFile(w http.ResponseWriter, r *http.Request) {
	data, err := templatesFS.ReadFile("assets/app.css")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = w.Write(data)
}

// markdownHTML renders a markdown field. Raw HTML in the source is dropped.
func (s *Server) markdownHTML(src string) template.HTML {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

func redirectMessage(w http.ResponseWriter, r *http.Request, path, message string) {
	http.Redirect(w, r, withQuery(path, "message", message), http.StatusSeeOther)
}

func redirectError(w http.ResponseWriter, r *http.Request, path, message string) {
	http.Redirect(w, r, withQuery(path, "error", message), http.StatusSeeOther)
}

func withQuery(path, key, value string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + key + "=" + url.QueryEscape(value)
}

func listPath(v domains.View) string {
	return "/admin/" + url.PathEscape(v.Name)
}

func recordPath(v domains.View, key string) string {
	return listPath(v) + "/records/" + url.PathEscape(key)
}
