package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryBitExact(t *testing.T) {
	r := Default()

	cases := []struct {
		name string
		port int
	}{
		{"gateway", 3000},
		{"personas", 3001},
		{"workflows", 3002},
		{"projects", 3003},
		{"context", 3004},
		{"tokens", 3005},
		{"relational-db", 5432},
		{"cache", 6379},
		{"vector-db", 6333},
	}

	for _, c := range cases {
		port, err := r.Port(c.name)
		require.NoError(t, err)
		assert.Equal(t, c.port, port, c.name)
	}

	assert.Len(t, r.ApplicationServices(), 6)
}

func TestResolveDependencyClosure(t *testing.T) {
	r := Default()

	closure, err := r.Resolve("gateway")
	require.NoError(t, err)

	index := make(map[string]int, len(closure))
	for i, name := range closure {
		index[name] = i
	}

	// every dependency must precede its dependent
	for _, svc := range r.Services() {
		for _, dep := range svc.Dependencies {
			if svcIdx, ok := index[svc.Name]; ok {
				depIdx, ok := index[dep]
				require.True(t, ok, "dependency %s of %s missing from closure", dep, svc.Name)
				assert.Less(t, depIdx, svcIdx, "%s must precede %s", dep, svc.Name)
			}
		}
	}

	assert.Contains(t, closure, "relational-db")
	assert.Contains(t, closure, "cache")
	assert.Contains(t, closure, "vector-db")
	assert.Equal(t, "gateway", closure[len(closure)-1])
}

func TestResolveUnknownService(t *testing.T) {
	r := Default()
	_, err := r.Resolve("does-not-exist")
	assert.Error(t, err)
}

func TestDependenciesOfLeafService(t *testing.T) {
	r := Default()
	deps, err := r.Dependencies("relational-db")
	require.NoError(t, err)
	assert.Empty(t, deps)
}
