package console

import (
	"errors"
	"net/http"

	"github.com/phillip-england/clubadmin/internal/appstate"
	"github.com/phillip-england/clubadmin/internal/ctxutil"
	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/gateway"
	"github.com/phillip-england/clubadmin/internal/records"
	"github.com/phillip-england/clubadmin/internal/store"
	"github.com/phillip-england/clubadmin/internal/validate"
	"github.com/phillip-england/clubadmin/internal/youtube"
)

// dashboard sends the admin back to the view they last worked in. The
// overview itself is reached with ?home=1.
func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("home") == "" && s.state != nil {
		st, err := s.state.Load()
		if err != nil {
			s.log.WarnContext(r.Context(), "load app state", "error", err)
		} else if v, ok := s.catalog.View(st.LastView); ok {
			http.Redirect(w, r, listPath(v), http.StatusFound)
			return
		}
	}

	ws := s.workspace(r)
	data := s.basePage(r, "Overview")
	for _, v := range s.catalog.Views {
		c := countView{View: v}
		st, err := ws.Ensure(r.Context(), v.Name)
		if err != nil {
			c.Error = gateway.Message(err)
		} else {
			c.Count = len(st.Visible())
		}
		data.Counts = append(data.Counts, c)
	}
	s.render(w, r, http.StatusOK, "dashboard", data)
}

func (s *Server) listPage(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupView(w, r)
	if !ok {
		return
	}
	s.checkpoint(r, v)

	data := s.viewPage(r, v, v.Title)
	st, err := s.workspace(r).Ensure(r.Context(), v.Name)
	if err != nil {
		if !errors.Is(err, store.ErrStale) {
			s.log.WarnContext(r.Context(), "list load failed", "view", v.Name, "error", err)
			data.Error = gateway.Message(err)
		}
		s.render(w, r, http.StatusOK, "list", data)
		return
	}
	st.Deselect()

	snap := st.Snapshot()
	data.Loaded = snap.State != store.Loading
	data.Columns = snap.Columns
	for _, row := range snap.Rows {
		data.Rows = append(data.Rows, s.row(v, row))
	}
	s.render(w, r, http.StatusOK, "list", data)
}

func (s *Server) row(v domains.View, row records.Row) rowView {
	out := rowView{
		Ordinal: row.Ordinal,
		Key:     row.Key,
		Cells:   row.Cells,
	}
	if len(row.Cells) > 0 {
		out.Title = row.Cells[0]
	}
	if v.HighlightField != "" {
		out.Highlighted = row.Record.Bool(v.HighlightField)
	}
	switch v.Layout {
	case domains.LayoutCards:
		if files := row.Record.Strings(v.ImageField); len(files) > 0 && s.images != nil {
			out.Thumb = s.images.URL(files[0], s.cfg.ThumbQuality, s.cfg.ThumbFormat)
		}
	case domains.LayoutVideos:
		if id := videoID(v, row.Record); id != "" {
			out.Thumb = youtube.Thumbnail(id)
		}
	}
	return out
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupView(w, r)
	if !ok {
		return
	}
	st, err := s.workspace(r).Store(v.Name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	st.Invalidate()
	http.Redirect(w, r, listPath(v), http.StatusSeeOther)
}

func (s *Server) detailPage(w http.ResponseWriter, r *http.Request) {
	v, st, key, ok := s.lookupRecord(w, r)
	if !ok {
		return
	}
	if err := st.Select(key); err != nil {
		redirectError(w, r, listPath(v), "That record no longer exists")
		return
	}
	snap := st.Snapshot()
	data := s.detailData(r, v, key, snap.Selected)
	s.render(w, r, http.StatusOK, "detail", data)
}

func (s *Server) detailData(r *http.Request, v domains.View, key string, rec records.Record) pageData {
	data := s.viewPage(r, v, v.Title)
	data.Key = key

	fields := v.Detail
	if len(fields) == 0 {
		fields = records.ColumnsFor([]records.Record{rec}, nil)
	}
	for _, col := range fields {
		f := fieldView{Label: col.Label, Text: rec.Text(col.Path)}
		if v.IsMarkdown(col.Path) && f.Text != records.Placeholder {
			f.HTML = s.markdownHTML(rec.Get(col.Path).String())
		}
		data.Fields = append(data.Fields, f)
	}
	if v.HasImages() && s.images != nil {
		for _, name := range rec.Strings(v.ImageField) {
			data.Images = append(data.Images, s.images.URL(name, 0, ""))
		}
	}
	if id := videoID(v, rec); id != "" {
		data.Video = &videoView{ID: id, Embed: youtube.EmbedURL(id), Watch: youtube.WatchURL(id)}
	}
	if v.HighlightField != "" {
		data.Highlighted = rec.Bool(v.HighlightField)
	}
	return data
}

func (s *Server) toggleHighlight(w http.ResponseWriter, r *http.Request) {
	v, st, key, ok := s.lookupRecord(w, r)
	if !ok {
		return
	}
	if !v.Can(domains.ActionHighlight) {
		http.NotFound(w, r)
		return
	}
	on, err := st.ToggleHighlight(r.Context(), key)
	if err != nil {
		s.actionFailed(w, r, v, key, "toggle highlight", err)
		return
	}
	// A filtered view may no longer show the record.
	if err := st.Select(key); err != nil {
		redirectMessage(w, r, listPath(v), v.HighlightLabel(on))
		return
	}
	redirectMessage(w, r, recordPath(v, key), v.HighlightLabel(on))
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	v, _, key, ok := s.lookupRecord(w, r)
	if !ok {
		return
	}
	if !v.Can(domains.ActionReject) || v.RejectTo == "" {
		http.NotFound(w, r)
		return
	}
	if err := s.workspace(r).Move(r.Context(), v.Name, key, v.RejectTo); err != nil {
		s.actionFailed(w, r, v, key, "reject", err)
		return
	}
	redirectMessage(w, r, listPath(v), "Member rejected")
}

func (s *Server) confirmDelete(w http.ResponseWriter, r *http.Request) {
	v, st, key, ok := s.lookupRecord(w, r)
	if !ok {
		return
	}
	if !v.Can(domains.ActionDelete) {
		http.NotFound(w, r)
		return
	}
	if err := st.RequestDelete(key); err != nil {
		redirectError(w, r, listPath(v), "That record no longer exists")
		return
	}
	snap := st.Snapshot()
	data := s.detailData(r, v, key, snap.Selected)
	s.render(w, r, http.StatusOK, "confirm", data)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	v, st, key, ok := s.lookupRecord(w, r)
	if !ok {
		return
	}
	if !v.Can(domains.ActionDelete) {
		http.NotFound(w, r)
		return
	}
	err := st.Delete(r.Context(), key)
	switch {
	case err == nil:
		redirectMessage(w, r, listPath(v), "Record deleted")
	case errors.Is(err, store.ErrNoConfirmation):
		http.Redirect(w, r, recordPath(v, key)+"/delete", http.StatusSeeOther)
	case errors.Is(err, store.ErrNotFound):
		redirectError(w, r, listPath(v), "That record no longer exists")
	default:
		s.actionFailed(w, r, v, key, "delete", err)
	}
}

// actionFailed logs err and shows it as a toast on the record.
func (s *Server) actionFailed(w http.ResponseWriter, r *http.Request, v domains.View, key, action string, err error) {
	s.log.WarnContext(r.Context(), action+" failed", "view", v.Name, "key", key, "error", err)
	if errors.Is(err, store.ErrBusy) {
		redirectError(w, r, recordPath(v, key), "Another action is still running")
		return
	}
	redirectError(w, r, recordPath(v, key), gateway.Message(err))
}

func (s *Server) lookupView(w http.ResponseWriter, r *http.Request) (domains.View, bool) {
	v, ok := s.catalog.View(r.PathValue("view"))
	if !ok {
		http.NotFound(w, r)
		return domains.View{}, false
	}
	return v, true
}

// lookupRecord resolves the view and makes sure its store is loaded so the
// record key can be checked locally.
func (s *Server) lookupRecord(w http.ResponseWriter, r *http.Request) (domains.View, *store.Store, string, bool) {
	v, ok := s.lookupView(w, r)
	if !ok {
		return domains.View{}, nil, "", false
	}
	st, err := s.workspace(r).Ensure(r.Context(), v.Name)
	if errors.Is(err, store.ErrStale) {
		http.Redirect(w, r, listPath(v), http.StatusSeeOther)
		return domains.View{}, nil, "", false
	}
	if err != nil {
		redirectError(w, r, listPath(v), gateway.Message(err))
		return domains.View{}, nil, "", false
	}
	return v, st, r.PathValue("key"), true
}

// checkpoint records v as the session's current view and persists it.
func (s *Server) checkpoint(r *http.Request, v domains.View) {
	s.mu.Lock()
	s.visited[ctxutil.SessionIDFromCtx(r.Context())] = v.Name
	s.mu.Unlock()
	s.saveState(r, v)
}

// checkpointSession persists the session's current view again, on logout.
func (s *Server) checkpointSession(r *http.Request) {
	s.mu.Lock()
	name, ok := s.visited[ctxutil.SessionIDFromCtx(r.Context())]
	s.mu.Unlock()
	if v, found := s.catalog.View(name); ok && found {
		s.saveState(r, v)
	}
}

func (s *Server) saveState(r *http.Request, v domains.View) {
	if s.state == nil {
		return
	}
	st := appstate.State{LastSection: v.Section, LastView: v.Name}
	if err := s.state.Checkpoint(r.Context(), st); err != nil {
		s.log.WarnContext(r.Context(), "app state checkpoint failed", "error", err)
	}
}

// videoID reads the stored video ID, falling back to any YouTube link field.
func videoID(v domains.View, rec records.Record) string {
	if v.Layout != domains.LayoutVideos {
		return ""
	}
	if id, ok := youtube.ExtractID(rec.Get("videoId").String()); ok {
		return id
	}
	for _, f := range v.Form {
		if f.Rule != validate.RuleYouTube {
			continue
		}
		if id, ok := youtube.ExtractID(rec.Get(f.Name).String()); ok {
			return id
		}
	}
	return ""
}
