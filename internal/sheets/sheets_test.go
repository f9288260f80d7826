package sheets

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/records"
)

func registrationForm(t *testing.T) []domains.FormField {
	t.Helper()
	cat, err := domains.Load("")
	require.NoError(t, err)
	v, ok := cat.View("registrations")
	require.True(t, ok)
	return v.Form
}

func TestExportWritesHeaderAndRows(t *testing.T) {
	list := []records.Record{
		records.MustParse(`{"Name":"A","Mobileno":"9876543210"}`),
		records.MustParse(`{"Name":"B"}`),
	}
	cols := []records.Column{{Label: "Name", Path: "Name"}, {Label: "Mobile", Path: "Mobileno"}}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, "Membership Registrations", cols, records.Rows(list, cols, "Formid")))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "Membership Registrations", f.GetSheetName(0))
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"#", "Name", "Mobile"},
		{"1", "A", "9876543210"},
		{"2", "B", "N/A"},
	}, rows)
}

func TestSheetNameIsSanitized(t *testing.T) {
	assert.Equal(t, "Records", sheetName(""))
	assert.Equal(t, "a b", sheetName("a/b"))
	assert.Len(t, []rune(sheetName(strings.Repeat("x", 40))), 31)
}

func TestReadRowsFromExport(t *testing.T) {
	cols := []records.Column{{Label: "Name", Path: "Name"}}
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, "x", cols, records.Rows([]records.Record{records.MustParse(`{"Name":"A"}`)}, cols, "id")))

	rows, err := ReadRows(&buf, "members.XLSX")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"#", "Name"}, {"1", "A"}}, rows)
}

func TestReadRowsRejectsUnknownTypes(t *testing.T) {
	_, err := ReadRows(strings.NewReader("a,b"), "members.csv")
	assert.ErrorContains(t, err, "unsupported file type")

	_, err = ReadRows(strings.NewReader("not a workbook"), "members.xls")
	assert.Error(t, err)
}

func TestImportValidatesAndCreates(t *testing.T) {
	rows := [][]string{
		{"Name", "Date of Birth", "MOBILENO", "Chapter", "Unrelated"},
		{"A", "36526", "9876543210", "X", "zzz"},
		{"B", "01/02/2001", "98765432101", "Y", ""},
		{"", "", "", "", ""},
		{"C", "2002-03-04", "9876543212", "Z"},
		{"D", "2003-04-05", "9876543213", "W"},
	}

	var created []map[string]string
	create := func(ctx context.Context, values map[string]string) error {
		if values["Name"] == "D" {
			return errors.New("backend said no")
		}
		created = append(created, values)
		return nil
	}

	res, err := Import(context.Background(), rows, registrationForm(t), create)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, 3, res.Skipped[0].Row)
	assert.Contains(t, res.Skipped[0].Reason, "10 digits")
	assert.Equal(t, 6, res.Skipped[1].Row)
	assert.Equal(t, "backend said no", res.Skipped[1].Reason)

	require.Len(t, created, 2)
	assert.Equal(t, "2000-01-01", created[0]["Dob"])
	assert.Equal(t, "9876543210", created[0]["Mobileno"])
	assert.Equal(t, "X", created[0]["Jcname"])
	_, hasUnrelated := created[0]["Unrelated"]
	assert.False(t, hasUnrelated)
}

func TestImportNeedsMatchingColumns(t *testing.T) {
	_, err := Import(context.Background(), [][]string{{"foo"}, {"bar"}}, registrationForm(t), nil)
	assert.Error(t, err)
	_, err = Import(context.Background(), [][]string{{"Name"}}, registrationForm(t), nil)
	assert.Error(t, err)
}

func TestNormalizeDate(t *testing.T) {
	for in, want := range map[string]string{
		"2000-01-01":      "2000-01-01",
		"36526":           "2000-01-01",
		"25/12/1999":      "1999-12-25",
		"5 March 2001":    "2001-03-05",
		"January 2, 2006": "2006-01-02",
	} {
		got, ok := NormalizeDate(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "12", "soon", "99999999"} {
		_, ok := NormalizeDate(in)
		assert.False(t, ok, in)
	}
}
