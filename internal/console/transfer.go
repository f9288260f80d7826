package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/pdfexport"
	"github.com/phillip-england/clubadmin/internal/records"
	"github.com/phillip-england/clubadmin/internal/sheets"
)

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (s *Server) exportSheet(w http.ResponseWriter, r *http.Request) {
	v, st, _, ok := s.lookupRecord(w, r)
	if !ok {
		return
	}
	if !v.Can(domains.ActionExport) {
		http.NotFound(w, r)
		return
	}
	snap := st.Snapshot()

	var buf bytes.Buffer
	if err := sheets.Export(&buf, v.Title, snap.Columns, snap.Rows); err != nil {
		s.log.ErrorContext(r.Context(), "export failed", "view", v.Name, "error", err)
		redirectError(w, r, listPath(v), "Export failed")
		return
	}
	name := fmt.Sprintf("%s-%s.xlsx", v.Name, time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", unsafeFilename.ReplaceAllString(name, "_")))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) importPage(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupView(w, r)
	if !ok {
		return
	}
	if !v.Can(domains.ActionImport) {
		http.NotFound(w, r)
		return
	}
	s.render(w, r, http.StatusOK, "import", s.viewPage(r, v, "Import "+v.Title))
}

// importSheet creates one record per valid sheet row and reports the rows
// it skipped.
func (s *Server) importSheet(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupView(w, r)
	if !ok {
		return
	}
	if !v.Can(domains.ActionImport) {
		http.NotFound(w, r)
		return
	}
	data := s.viewPage(r, v, "Import "+v.Title)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		data.Error = "Choose an .xls or .xlsx file to import"
		s.render(w, r, http.StatusBadRequest, "import", data)
		return
	}
	file, header, err := r.FormFile("sheet")
	if err != nil {
		data.Error = "Choose an .xls or .xlsx file to import"
		s.render(w, r, http.StatusBadRequest, "import", data)
		return
	}
	defer file.Close()

	rows, err := sheets.ReadRows(file, header.Filename)
	if err != nil {
		data.Error = err.Error()
		s.render(w, r, http.StatusUnprocessableEntity, "import", data)
		return
	}

	st, err := s.workspace(r).Store(v.Name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	create := func(ctx context.Context, values map[string]string) error {
		payload, err := buildPayload(records.Empty(), v, values)
		if err != nil {
			return err
		}
		_, err = st.Create(ctx, payload, nil)
		return err
	}
	res, err := sheets.Import(r.Context(), rows, v.Form, create)
	if err != nil {
		data.Error = err.Error()
		s.render(w, r, http.StatusUnprocessableEntity, "import", data)
		return
	}
	s.log.InfoContext(r.Context(), "sheet imported", "view", v.Name, "created", res.Created, "skipped", len(res.Skipped))
	data.Import = &res
	data.Message = fmt.Sprintf("Imported %d rows", res.Created)
	s.render(w, r, http.StatusOK, "import", data)
}

// detailPDF prints the detail inspector of one record.
func (s *Server) detailPDF(w http.ResponseWriter, r *http.Request) {
	v, st, key, ok := s.lookupRecord(w, r)
	if !ok {
		return
	}
	if !v.Can(domains.ActionPDF) {
		http.NotFound(w, r)
		return
	}
	rec, found := st.Find(key)
	if !found || !v.Keeps(rec) {
		redirectError(w, r, listPath(v), "That record no longer exists")
		return
	}

	var page bytes.Buffer
	if err := s.pages["print"].ExecuteTemplate(&page, "print", s.detailData(r, v, key, rec)); err != nil {
		s.log.ErrorContext(r.Context(), "print template failed", "error", err)
		http.Error(w, "template render failed", http.StatusInternalServerError)
		return
	}
	pdf, err := s.pdf.Render(r.Context(), page.String())
	if err != nil {
		if errors.Is(err, pdfexport.ErrDisabled) {
			http.Error(w, "PDF export is disabled", http.StatusServiceUnavailable)
			return
		}
		s.log.ErrorContext(r.Context(), "pdf render failed", "view", v.Name, "key", key, "error", err)
		redirectError(w, r, recordPath(v, key), "Could not create the PDF")
		return
	}
	name := unsafeFilename.ReplaceAllString(fmt.Sprintf("%s-%s.pdf", v.Name, key), "_")
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(pdf)
}
