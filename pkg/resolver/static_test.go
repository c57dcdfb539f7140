package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver_AuthorizedFor(t *testing.T) {
	r := NewStaticResolver(map[string][]string{
		"manager": {"alice"},
		"hr":      {"bob", "carol"},
	})
	ctx := context.Background()

	ok, err := r.AuthorizedFor(ctx, "manager", "LEAVE", "leave-1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.AuthorizedFor(ctx, "manager", "LEAVE", "leave-1", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.AuthorizedFor(ctx, "hr", "LEAVE", "leave-1", "carol")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.AuthorizedFor(ctx, "unknown", "LEAVE", "leave-1", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewStaticResolverFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"manager": ["alice"]}`), 0600))

	r, err := NewStaticResolverFromFile(path)
	require.NoError(t, err)

	ok, err := r.AuthorizedFor(context.Background(), "manager", "LEAVE", "leave-1", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = NewStaticResolverFromFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0600))

	_, err = NewStaticResolverFromFile(bad)
	require.Error(t, err)
}
