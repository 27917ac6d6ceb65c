package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/vclean/errors"
)

func siteTreeTypes() []TypeDef {
	return []TypeDef{
		{Name: "SiteTree", Table: "SiteTree"},
		{Name: "Page", Parent: "SiteTree", Table: "Page"},
		{Name: "ContentPage", Parent: "Page"},
		{Name: "BlogPost", Parent: "ContentPage", Table: "BlogPost"},
		{Name: "RedirectorPage", Parent: "Page", Table: "RedirectorPage"},
		{Name: "ErrorPage", Parent: "Page", Table: "ErrorPage"},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(siteTreeTypes(), "ClassName")
	require.NoError(t, err)
	return r
}

func TestResolve_ThreeLevelChain(t *testing.T) {
	r := newTestRegistry(t)

	tables, err := r.Resolve("RedirectorPage")
	require.NoError(t, err)
	assert.Equal(t, []string{"RedirectorPage_Versions", "Page_Versions", "SiteTree_Versions"}, tables)

	// Repeated calls return the same result
	again, err := r.Resolve("RedirectorPage")
	require.NoError(t, err)
	assert.Equal(t, tables, again)
}

func TestResolve_SkipsTablelessAncestor(t *testing.T) {
	r := newTestRegistry(t)

	tables, err := r.Resolve("BlogPost")
	require.NoError(t, err)
	assert.Equal(t, []string{"BlogPost_Versions", "Page_Versions", "SiteTree_Versions"}, tables)
}

func TestResolve_TablelessLeaf(t *testing.T) {
	r := newTestRegistry(t)

	tables, err := r.Resolve("ContentPage")
	require.NoError(t, err)
	assert.Equal(t, []string{"Page_Versions", "SiteTree_Versions"}, tables)
}

func TestResolve_RootType(t *testing.T) {
	r := newTestRegistry(t)

	tables, err := r.Resolve("SiteTree")
	require.NoError(t, err)
	assert.Equal(t, []string{"SiteTree_Versions"}, tables)
}

func TestResolve_SharedTableAddedOnce(t *testing.T) {
	r, err := NewRegistry([]TypeDef{
		{Name: "Base", Table: "Base"},
		{Name: "Alias", Parent: "Base", Table: "Base"},
	}, "ClassName")
	require.NoError(t, err)

	tables, err := r.Resolve("Alias")
	require.NoError(t, err)
	assert.Equal(t, []string{"Base_Versions"}, tables)
}

func TestResolve_UnknownType(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Resolve("Nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownRecordType))
}

func TestBaseTable(t *testing.T) {
	r := newTestRegistry(t)

	base, err := r.BaseTable("BlogPost")
	require.NoError(t, err)
	assert.Equal(t, "SiteTree", base)

	_, err = r.BaseTable("Missing")
	assert.True(t, errors.Is(err, ErrUnknownRecordType))
}

func TestBaseTable_NoStorage(t *testing.T) {
	r, err := NewRegistry([]TypeDef{{Name: "Abstract"}}, "ClassName")
	require.NoError(t, err)

	_, err = r.BaseTable("Abstract")
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestDescendants(t *testing.T) {
	r := newTestRegistry(t)

	types, err := r.Descendants("Page")
	require.NoError(t, err)
	assert.Equal(t, []string{"Page", "ContentPage", "BlogPost", "ErrorPage", "RedirectorPage"}, types)

	leaf, err := r.Descendants("BlogPost")
	require.NoError(t, err)
	assert.Equal(t, []string{"BlogPost"}, leaf)
}

func TestNewRegistry_Validation(t *testing.T) {
	tests := []struct {
		name        string
		defs        []TypeDef
		classColumn string
		wantErr     string
	}{
		{
			name:        "duplicate name",
			defs:        []TypeDef{{Name: "A", Table: "A"}, {Name: "A", Table: "B"}},
			classColumn: "ClassName",
			wantErr:     "duplicate record type",
		},
		{
			name:        "unknown parent",
			defs:        []TypeDef{{Name: "A", Parent: "Ghost", Table: "A"}},
			classColumn: "ClassName",
			wantErr:     "unknown parent",
		},
		{
			name:        "cycle",
			defs:        []TypeDef{{Name: "A", Parent: "B"}, {Name: "B", Parent: "A"}},
			classColumn: "ClassName",
			wantErr:     "cyclic",
		},
		{
			name:        "invalid table identifier",
			defs:        []TypeDef{{Name: "A", Table: `A"; DROP TABLE x; --`}},
			classColumn: "ClassName",
			wantErr:     "invalid table name",
		},
		{
			name:        "invalid class column",
			defs:        []TypeDef{{Name: "A", Table: "A"}},
			classColumn: "Class Name",
			wantErr:     "invalid class column",
		},
		{
			name:        "empty name",
			defs:        []TypeDef{{Table: "A"}},
			classColumn: "ClassName",
			wantErr:     "cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.defs, tt.classColumn)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTypes_SortedByName(t *testing.T) {
	r := newTestRegistry(t)

	var names []string
	for _, def := range r.Types() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"BlogPost", "ContentPage", "ErrorPage", "Page", "RedirectorPage", "SiteTree"}, names)
	assert.True(t, r.Has("Page"))
	assert.False(t, r.Has("page"))
	assert.Equal(t, "ClassName", r.ClassColumn())
}
