package console

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"

	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/gateway"
	"github.com/phillip-england/clubadmin/internal/records"
	"github.com/phillip-england/clubadmin/internal/store"
	"github.com/phillip-england/clubadmin/internal/validate"
	"github.com/phillip-england/clubadmin/internal/youtube"
)

const (
	kindFile   = "file"
	kindSelect = "select"

	videoIDField = "videoId"
)

// submission is one decoded form post.
type submission struct {
	values map[string]string
	files  []gateway.File
}

func (s *Server) newPage(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupView(w, r)
	if !ok {
		return
	}
	if !creatable(v) {
		http.NotFound(w, r)
		return
	}
	s.renderForm(w, r, http.StatusOK, v, "", nil, nil, "")
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupView(w, r)
	if !ok {
		return
	}
	if !creatable(v) {
		http.NotFound(w, r)
		return
	}
	sub, err := s.readSubmission(w, r, v)
	if err != nil {
		s.renderForm(w, r, http.StatusBadRequest, v, "", nil, nil, err.Error())
		return
	}
	if err := s.check(r, v, sub, true); err != nil {
		s.renderForm(w, r, http.StatusUnprocessableEntity, v, "", sub.values, err, "")
		return
	}
	payload, err := buildPayload(records.Empty(), v, sub.values)
	if err != nil {
		s.renderForm(w, r, http.StatusUnprocessableEntity, v, "", sub.values, nil, err.Error())
		return
	}

	st, err := s.workspace(r).Store(v.Name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if _, err := st.Create(r.Context(), payload, sub.files); err != nil {
		s.log.WarnContext(r.Context(), "create failed", "view", v.Name, "error", err)
		s.renderForm(w, r, submitStatus(err), v, "", sub.values, nil, submitMessage(err))
		return
	}
	redirectMessage(w, r, listPath(v), "Saved")
}

func (s *Server) editPage(w http.ResponseWriter, r *http.Request) {
	v, st, key, ok := s.lookupRecord(w, r)
	if !ok {
		return
	}
	if !v.Can(domains.ActionEdit) {
		http.NotFound(w, r)
		return
	}
	rec, found := st.Find(key)
	if !found {
		redirectError(w, r, listPath(v), "That record no longer exists")
		return
	}
	values := map[string]string{}
	for _, f := range v.Form {
		if f.Kind != kindFile && rec.Has(f.Name) {
			values[f.Name] = rec.Get(f.Name).String()
		}
	}
	s.renderForm(w, r, http.StatusOK, v, key, values, nil, "")
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	v, st, key, ok := s.lookupRecord(w, r)
	if !ok {
		return
	}
	if !v.Can(domains.ActionEdit) {
		http.NotFound(w, r)
		return
	}
	existing, found := st.Find(key)
	if !found {
		redirectError(w, r, listPath(v), "That record no longer exists")
		return
	}
	sub, err := s.readSubmission(w, r, v)
	if err != nil {
		s.renderForm(w, r, http.StatusBadRequest, v, key, nil, nil, err.Error())
		return
	}
	if err := s.check(r, v, sub, false); err != nil {
		s.renderForm(w, r, http.StatusUnprocessableEntity, v, key, sub.values, err, "")
		return
	}
	payload, err := buildPayload(existing, v, sub.values)
	if err != nil {
		s.renderForm(w, r, http.StatusUnprocessableEntity, v, key, sub.values, nil, err.Error())
		return
	}
	if _, err := st.Update(r.Context(), key, payload, sub.files); err != nil {
		s.log.WarnContext(r.Context(), "update failed", "view", v.Name, "key", key, "error", err)
		s.renderForm(w, r, submitStatus(err), v, key, sub.values, nil, submitMessage(err))
		return
	}
	redirectMessage(w, r, recordPath(v, key), "Saved")
}

// creatable reports whether new records can be added from v. Filtered
// views add through the view that owns the domain.
func creatable(v domains.View) bool {
	return len(v.Form) > 0 && v.Source == v.Name
}

// readSubmission decodes a multipart or urlencoded post. Files are read
// only from the view's image field.
func (s *Server) readSubmission(w http.ResponseWriter, r *http.Request, v domains.View) (submission, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			return submission{}, errors.New("the upload is too large or malformed")
		}
		if err := r.ParseForm(); err != nil {
			return submission{}, errors.New("invalid form submission")
		}
	}

	sub := submission{values: map[string]string{}}
	for _, f := range v.Form {
		if f.Kind == kindFile {
			continue
		}
		sub.values[f.Name] = strings.TrimSpace(r.FormValue(f.Name))
	}
	if v.HasImages() && r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File[v.ImageField] {
			file, err := readUpload(fh)
			if err != nil {
				return submission{}, err
			}
			if len(file.Data) > 0 {
				sub.files = append(sub.files, file)
			}
		}
	}
	return sub, nil
}

func readUpload(fh *multipart.FileHeader) (gateway.File, error) {
	f, err := fh.Open()
	if err != nil {
		return gateway.File{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return gateway.File{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return gateway.File{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}, nil
}

// check validates a submission before anything is sent to a backend.
func (s *Server) check(r *http.Request, v domains.View, sub submission, creating bool) error {
	fields := make([]validate.Field, 0, len(v.Form))
	for _, f := range v.Form {
		if f.Kind != kindFile {
			fields = append(fields, validate.Field{Name: f.Name, Required: f.Required, Rule: f.Rule})
		}
	}
	var out []validate.FieldError
	var verr *validate.Error
	if err := validate.Form(fields, sub.values); errors.As(err, &verr) {
		out = append(out, verr.Fields...)
	}

	for _, f := range v.Form {
		switch {
		case f.Kind == kindFile && f.Required && creating && len(sub.files) == 0:
			out = append(out, validate.FieldError{Field: f.Name, Message: "is required"})
		case f.Kind == kindSelect && sub.values[f.Name] != "":
			opts := s.options(r, f)
			if len(opts) > 0 && !slices.Contains(opts, sub.values[f.Name]) {
				out = append(out, validate.FieldError{Field: f.Name, Message: "choose one of the listed options"})
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return &validate.Error{Fields: out}
}

// buildPayload writes the form values over base. Cleared fields are
// removed, and YouTube links also store their video ID.
func buildPayload(base records.Record, v domains.View, values map[string]string) (records.Record, error) {
	rec := base
	if rec.IsZero() {
		rec = records.Empty()
	}
	var err error
	for _, f := range v.Form {
		if f.Kind == kindFile {
			continue
		}
		value := values[f.Name]
		if value == "" {
			rec = rec.Without(f.Name)
			continue
		}
		if rec, err = rec.Set(f.Name, value); err != nil {
			return records.Record{}, err
		}
		if f.Rule == validate.RuleYouTube {
			if id, ok := youtube.ExtractID(value); ok {
				if rec, err = rec.Set(videoIDField, id); err != nil {
					return records.Record{}, err
				}
			}
		}
	}
	return rec, nil
}

// options lists the choices of a select field, either fixed or read from
// another view.
func (s *Server) options(r *http.Request, f domains.FormField) []string {
	if f.OptionsFrom == "" {
		return f.Options
	}
	src, ok := s.catalog.View(f.OptionsFrom)
	if !ok {
		return f.Options
	}
	st, err := s.workspace(r).Ensure(r.Context(), src.Name)
	if err != nil {
		s.log.WarnContext(r.Context(), "load select options", "field", f.Name, "source", src.Name, "error", err)
		return f.Options
	}
	path := ""
	switch {
	case len(src.Columns) > 0:
		path = src.Columns[0].Path
	case len(src.Form) > 0:
		path = src.Form[0].Name
	default:
		return f.Options
	}
	out := slices.Clone(f.Options)
	for _, rec := range st.Visible() {
		if t := rec.Text(path); t != records.Placeholder && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Server) renderForm(w http.ResponseWriter, r *http.Request, status int, v domains.View, key string, values map[string]string, errs error, message string) {
	title := "New " + v.Title
	action := listPath(v) + "/new"
	if key != "" {
		title = "Edit " + v.Title
		action = recordPath(v, key) + "/edit"
	}
	data := s.viewPage(r, v, title)
	data.Key = key
	data.Editing = key != ""
	data.FormAction = action
	if message != "" {
		data.Error = message
	}

	var verr *validate.Error
	errors.As(errs, &verr)
	for _, f := range v.Form {
		fv := formFieldView{
			Name:     f.Name,
			Label:    f.Label,
			Kind:     f.Kind,
			Value:    values[f.Name],
			Required: f.Required && !(f.Kind == kindFile && key != ""),
			Multiple: f.Kind == kindFile && v.MultiImage,
		}
		if fv.Label == "" {
			fv.Label = f.Name
		}
		if fv.Kind == "" {
			fv.Kind = "text"
		}
		if f.Kind == kindSelect {
			fv.Options = s.options(r, f)
		}
		if verr != nil {
			fv.Error = verr.For(f.Name)
		}
		data.Form = append(data.Form, fv)
	}
	if verr != nil && data.Error == "" {
		data.Error = "Please fix the highlighted fields"
	}
	s.render(w, r, status, "form", data)
}

func submitStatus(err error) int {
	if errors.Is(err, store.ErrBusy) {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func submitMessage(err error) string {
	if errors.Is(err, store.ErrBusy) {
		return "Another submission is still running"
	}
	return gateway.Message(err)
}
