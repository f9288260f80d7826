package domains

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/clubadmin/internal/records"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	reg, ok := c.View("registrations")
	require.True(t, ok)
	assert.Equal(t, "Formid", reg.IDField)
	assert.Empty(t, reg.Columns, "registrations infer their headers")
	assert.Equal(t, "/membership/delete/12", reg.Path(reg.Endpoints.Delete, "12"))
	assert.Equal(t, "Accept Member", reg.HighlightLabel(false))
	assert.Equal(t, "Member Accepted", reg.HighlightLabel(true))
	assert.True(t, reg.Can(ActionReject))

	members, ok := c.View("members")
	require.True(t, ok)
	assert.Equal(t, "registrations", members.Source)
	assert.Equal(t, "/membership", members.Prefix)
	assert.Equal(t, "Formid", members.IDField)
	assert.True(t, members.Keeps(records.MustParse(`{"highlighted":true}`)))
	assert.False(t, members.Keeps(records.MustParse(`{"highlighted":false}`)))

	team, _ := c.View("team")
	assert.Equal(t, LayoutCards, team.Layout)
	assert.False(t, team.Can(ActionHighlight), "no highlight field")

	designations, _ := c.View("designations")
	assert.True(t, designations.Can(ActionExport))
	assert.False(t, designations.Can(ActionImport))

	names := []string{}
	for _, v := range c.Sources() {
		names = append(names, v.Name)
	}
	assert.NotContains(t, names, "members")
	assert.Contains(t, names, "registrations")
	assert.Len(t, c.Sections(), 3)
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	cases := map[string]string{
		"empty":          `views: []`,
		"duplicate":      "views:\n  - {name: a}\n  - {name: a}\n",
		"unknown source": "views:\n  - {name: a, source: b}\n",
		"bad action":     "views:\n  - {name: a, actions: [explode]}\n",
		"bad reject":     "views:\n  - {name: a, reject_to: nowhere}\n",
		"filter":         "views:\n  - {name: a, filter: {highlighted: true}}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("views:\n  - {name: notes, prefix: /notes}\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	v, ok := c.View("notes")
	require.True(t, ok)
	assert.Equal(t, "/notes/getAll", v.Path(v.Endpoints.List, ""))
	assert.Equal(t, "id", v.IDField)
	assert.Equal(t, LayoutTable, v.Layout)
}
