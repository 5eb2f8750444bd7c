package protection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/natserract/sfclean/pkg/patterns"
	"github.com/natserract/sfclean/pkg/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	r := DefaultRules()

	for _, name := range []string{"_Subscribers", "casl_optin", "ent.Contacts"} {
		ok, reason := r.Match(resource.Container{Name: name})
		assert.True(t, ok, name)
		assert.NotEmpty(t, reason)
	}

	ok, _ := r.Match(resource.Container{Name: "Spring Campaign"})
	assert.False(t, ok)

	ok, reason := r.Match(resource.Container{Name: "Spring", IsProtected: true})
	assert.True(t, ok)
	assert.Equal(t, "marked undeletable by the platform", reason)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
names: ["Master Subscribers"]
keys: ["ALL_SUBS"]
patterns: ["^prod_"]
`), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPrefixes, r.Prefixes)

	ok, _ := r.Match(resource.Container{Name: "master subscribers"})
	assert.True(t, ok)
	ok, _ = r.Match(resource.Container{Name: "x", CustomerKey: "ALL_SUBS"})
	assert.True(t, ok)
	ok, reason := r.Match(resource.Container{Name: "PROD_orders"})
	assert.True(t, ok)
	assert.Contains(t, reason, "^prod_")
}

func TestParseOverridesPrefixes(t *testing.T) {
	r, err := Parse([]byte(`prefixes: ["tmp"]`))
	require.NoError(t, err)

	ok, _ := r.MatchName("_system")
	assert.False(t, ok)
	ok, _ = r.MatchName("tmp_table")
	assert.True(t, ok)
}

func TestParseRejectsUnsafePattern(t *testing.T) {
	_, err := Parse([]byte(`patterns: ["(a+)+"]`))
	var vErr *patterns.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestMatchFolder(t *testing.T) {
	r := DefaultRules()
	ok, reason := r.MatchFolder(resource.Node{Name: "Data Extensions", IsProtected: true})
	assert.True(t, ok)
	assert.Equal(t, "system folder", reason)

	ok, _ = r.MatchFolder(resource.Node{Name: "Campaigns"})
	assert.False(t, ok)
}
