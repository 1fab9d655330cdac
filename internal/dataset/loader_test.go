package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kpiCSV = "KPI,Target,Level\nUptime,99.9,99.5\nIncidents,5,7\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseStripsBOM(t *testing.T) {
	t.Parallel()

	ds, err := Parse(context.Background(), "kpi", "kpi.csv", strings.NewReader("\ufeff"+kpiCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"KPI", "Target", "Level"}, ds.ColumnNames())
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, "Uptime", ds.Row(0)["KPI"])
}

func TestParseInfersKinds(t *testing.T) {
	t.Parallel()

	ds, err := Parse(context.Background(), "kpi", "kpi.csv", strings.NewReader(kpiCSV))
	require.NoError(t, err)

	want := []Column{
		{Name: "KPI", Kind: KindText},
		{Name: "Target", Kind: KindNumber},
		{Name: "Level", Kind: KindNumber},
	}
	if diff := cmp.Diff(want, ds.Columns()); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDedupesHeaderAndPadsRows(t *testing.T) {
	t.Parallel()

	src := "Name,Name,,Score\na,b\nc,d,e,1,extra\n"
	ds, err := Parse(context.Background(), "t", "t.csv", strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "Name.1", "Unnamed: 2", "Score"}, ds.ColumnNames())
	assert.Equal(t, []string{"a", "b", "", ""}, ds.Values(0))
	assert.Equal(t, []string{"c", "d", "e", "1"}, ds.Values(1))
}

func TestParseDedupesHeaderIgnoringCase(t *testing.T) {
	t.Parallel()

	ds, err := Parse(context.Background(), "kpi", "kpi.csv", strings.NewReader("KPI,Level,level,LEVEL\nUptime,3,4,5\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"KPI", "Level", "level.1", "LEVEL.2"}, ds.ColumnNames())
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	for name, src := range map[string]string{
		"no header":  "",
		"no rows":    "KPI,Target\n",
		"blank rows": "KPI,Target\n,\n",
	} {
		_, err := Parse(context.Background(), "kpi", "kpi.csv", strings.NewReader(src))
		assert.ErrorIs(t, err, ErrEmptyDataset, name)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	t.Parallel()

	ds, err := Parse(context.Background(), "kpi", "kpi.csv", strings.NewReader(kpiCSV))
	require.NoError(t, err)

	cols := ds.Columns()
	cols[0].Name = "mutated"
	vals := ds.Values(0)
	vals[0] = "mutated"
	rec := ds.Row(0)
	rec["KPI"] = "mutated"

	assert.Equal(t, "KPI", ds.Columns()[0].Name)
	assert.Equal(t, "Uptime", ds.Values(0)[0])
	assert.Equal(t, "Uptime", ds.Row(0)["KPI"])
}

func TestLoadBothSources(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	kpi := writeFile(t, dir, "kpi.csv", "\ufeff"+kpiCSV)
	activity := writeFile(t, dir, "activity.csv", "Activity Name,Maximum Acceptable Outage (MAO)\nPayroll,2 days\n")

	set, err := Load(context.Background(), DefaultSources(kpi, activity))
	require.NoError(t, err)

	assert.Equal(t, []string{"activity", "kpi"}, set.Names())
	assert.Equal(t, "2 days", set["activity"].Row(0)["Maximum Acceptable Outage (MAO)"])
	assert.Equal(t, 2, set["kpi"].Summarize().Rows)
}

func TestLoadMissingSourceFailsFast(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	kpi := writeFile(t, dir, "kpi.csv", kpiCSV)
	missing := filepath.Join(dir, "activity.csv")

	set, err := Load(context.Background(), DefaultSources(kpi, missing))
	require.Error(t, err)
	assert.Nil(t, set)
	assert.True(t, errors.Is(err, ErrSourceMissing))
	assert.Equal(t, "File not found: "+missing, err.Error())
}

func TestLoadEmptySource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	kpi := writeFile(t, dir, "kpi.csv", kpiCSV)
	activity := writeFile(t, dir, "activity.csv", "Activity Name\n")

	_, err := Load(context.Background(), DefaultSources(kpi, activity))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyDataset)

	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, activity, srcErr.Path)
}

func TestRowsIteratorStopsEarly(t *testing.T) {
	t.Parallel()

	ds, err := Parse(context.Background(), "kpi", "kpi.csv", strings.NewReader(kpiCSV))
	require.NoError(t, err)

	var seen []string
	for _, rec := range ds.Rows() {
		seen = append(seen, rec["KPI"])
		break
	}
	assert.Equal(t, []string{"Uptime"}, seen)
}
