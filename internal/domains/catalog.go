package domains

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/phillip-england/clubadmin/internal/records"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Action names a button a view offers.
const (
	ActionHighlight = "highlight"
	ActionReject    = "reject"
	ActionDelete    = "delete"
	ActionEdit      = "edit"
	ActionPDF       = "pdf"
	ActionExport    = "export"
	ActionImport    = "import"
)

const (
	LayoutTable  = "table"
	LayoutCards  = "cards"
	LayoutVideos = "videos"

	ReconcilePatch   = "patch"
	ReconcileRefetch = "refetch"
)

var knownActions = []string{ActionHighlight, ActionReject, ActionDelete, ActionEdit, ActionPDF, ActionExport, ActionImport}

type Endpoints struct {
	List      string `yaml:"list"`
	Create    string `yaml:"create"`
	Update    string `yaml:"update"`
	Highlight string `yaml:"highlight"`
	Delete    string `yaml:"delete"`
}

type Labels struct {
	Off string `yaml:"off"`
	On  string `yaml:"on"`
}

type Filter struct {
	Highlighted *bool `yaml:"highlighted"`
}

type FormField struct {
	Name        string   `yaml:"name"`
	Label       string   `yaml:"label"`
	Kind        string   `yaml:"kind"`
	Required    bool     `yaml:"required"`
	Rule        string   `yaml:"rule"`
	Options     []string `yaml:"options"`
	OptionsFrom string   `yaml:"options_from"`
}

// View is one console screen bound to one backend domain.
type View struct {
	Name            string           `yaml:"name"`
	Title           string           `yaml:"title"`
	Section         string           `yaml:"section"`
	Source          string           `yaml:"source"`
	Prefix          string           `yaml:"prefix"`
	Endpoints       Endpoints        `yaml:"endpoints"`
	IDField         string           `yaml:"id_field"`
	HighlightField  string           `yaml:"highlight_field"`
	HighlightLabels Labels           `yaml:"highlight_labels"`
	Filter          *Filter          `yaml:"filter"`
	Columns         []records.Column `yaml:"columns"`
	Detail          []records.Column `yaml:"detail"`
	Form            []FormField      `yaml:"form"`
	Layout          string           `yaml:"layout"`
	ImageField      string           `yaml:"image_field"`
	MultiImage      bool             `yaml:"multi_image"`
	Markdown        []string         `yaml:"markdown"`
	Actions         []string         `yaml:"actions"`
	Reconcile       string           `yaml:"reconcile"`
	RejectTo        string           `yaml:"reject_to"`
}

func (v View) Can(action string) bool {
	if action == ActionHighlight && v.HighlightField == "" {
		return false
	}
	return slices.Contains(v.Actions, action)
}

func (v View) HasImages() bool {
	return v.ImageField != ""
}

func (v View) IsMarkdown(path string) bool {
	return slices.Contains(v.Markdown, path)
}

// Keeps reports whether rec passes the view filter.
func (v View) Keeps(rec records.Record) bool {
	if v.Filter == nil || v.Filter.Highlighted == nil {
		return true
	}
	return rec.Bool(v.HighlightField) == *v.Filter.Highlighted
}

// Path expands an endpoint template against the view prefix.
func (v View) Path(template, key string) string {
	return strings.TrimRight(v.Prefix, "/") + strings.ReplaceAll(template, "{id}", key)
}

func (v View) HighlightLabel(on bool) string {
	if on {
		return v.HighlightLabels.On
	}
	return v.HighlightLabels.Off
}

type Catalog struct {
	Views []View `yaml:"views"`
}

// Load reads the catalog at path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		data = raw
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) View(name string) (View, bool) {
	for _, v := range c.Views {
		if v.Name == name {
			return v, true
		}
	}
	return View{}, false
}

// Section groups views for the sidebar in catalog order.
type Section struct {
	Name  string
	Views []View
}

func (c *Catalog) Sections() []Section {
	var out []Section
	index := map[string]int{}
	for _, v := range c.Views {
		i, ok := index[v.Section]
		if !ok {
			index[v.Section] = len(out)
			out = append(out, Section{Name: v.Section})
			i = len(out) - 1
		}
		out[i].Views = append(out[i].Views, v)
	}
	return out
}

// Sources lists the views that own a backend domain (views reading another
// view's domain are skipped).
func (c *Catalog) Sources() []View {
	var out []View
	for _, v := range c.Views {
		if v.Source == v.Name {
			out = append(out, v)
		}
	}
	return out
}

func (c *Catalog) normalize() error {
	if len(c.Views) == 0 {
		return errors.New("catalog: no views defined")
	}
	seen := map[string]bool{}
	for i := range c.Views {
		v := &c.Views[i]
		v.Name = strings.TrimSpace(v.Name)
		if v.Name == "" {
			return fmt.Errorf("catalog: view %d has no name", i)
		}
		if seen[v.Name] {
			return fmt.Errorf("catalog: duplicate view %q", v.Name)
		}
		seen[v.Name] = true
		if v.Source == "" {
			v.Source = v.Name
		}
		if v.Title == "" {
			v.Title = v.Name
		}
		if v.Section == "" {
			v.Section = "General"
		}
		if v.Layout == "" {
			v.Layout = LayoutTable
		}
		if v.Reconcile == "" {
			v.Reconcile = ReconcilePatch
		}
		for _, a := range v.Actions {
			if !slices.Contains(knownActions, a) {
				return fmt.Errorf("catalog: view %q: unknown action %q", v.Name, a)
			}
		}
	}

	// Owning views first so derived views inherit finished settings.
	for _, derived := range []bool{false, true} {
		for i := range c.Views {
			v := &c.Views[i]
			if (v.Source != v.Name) != derived {
				continue
			}
			if derived {
				src, ok := c.View(v.Source)
				if !ok {
					return fmt.Errorf("catalog: view %q reads unknown source %q", v.Name, v.Source)
				}
				if src.Source != src.Name {
					return fmt.Errorf("catalog: view %q: source %q is itself derived", v.Name, v.Source)
				}
				inherit(v, src)
			}
			if err := c.finish(v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Catalog) finish(v *View) error {
	applyEndpointDefaults(&v.Endpoints)
	if v.IDField == "" {
		v.IDField = "id"
	}
	if v.HighlightLabels.Off == "" {
		v.HighlightLabels.Off = "Highlight"
	}
	if v.HighlightLabels.On == "" {
		v.HighlightLabels.On = "Highlighted"
	}
	if len(v.Detail) == 0 {
		v.Detail = v.Columns
	}
	if v.RejectTo != "" {
		if _, ok := c.View(v.RejectTo); !ok {
			return fmt.Errorf("catalog: view %q rejects to unknown view %q", v.Name, v.RejectTo)
		}
	}
	if v.Filter != nil && v.Filter.Highlighted != nil && v.HighlightField == "" {
		return fmt.Errorf("catalog: view %q filters on highlight without a highlight field", v.Name)
	}
	return nil
}

func inherit(v *View, src View) {
	if v.Prefix == "" {
		v.Prefix = src.Prefix
	}
	if v.Endpoints == (Endpoints{}) {
		v.Endpoints = src.Endpoints
	}
	if v.IDField == "" {
		v.IDField = src.IDField
	}
	if v.HighlightField == "" {
		v.HighlightField = src.HighlightField
	}
	if v.HighlightLabels == (Labels{}) {
		v.HighlightLabels = src.HighlightLabels
	}
	if len(v.Detail) == 0 {
		v.Detail = src.Detail
	}
	if len(v.Form) == 0 {
		v.Form = src.Form
	}
	if v.ImageField == "" {
		v.ImageField = src.ImageField
		v.MultiImage = src.MultiImage
	}
	if len(v.Markdown) == 0 {
		v.Markdown = src.Markdown
	}
}

func applyEndpointDefaults(e *Endpoints) {
	if e.List == "" {
		e.List = "/getAll"
	}
	if e.Create == "" {
		e.Create = "/create"
	}
	if e.Update == "" {
		e.Update = "/update/{id}"
	}
	if e.Highlight == "" {
		e.Highlight = "/highlight/{id}"
	}
	if e.Delete == "" {
		e.Delete = "/delete/{id}"
	}
}
