package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTargets(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "targets.json"), []byte(body), 0o644))
}

func TestLookupFound(t *testing.T) {
	dir := t.TempDir()
	writeTargets(t, dir, `[{"id":"t1","host":"10.0.0.2","port":22,"username":"ada"}]`)

	d := New(dir, nil)
	got, ok := d.Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2", got.Host)
	assert.Equal(t, 22, got.Port)
	assert.Equal(t, "ada", got.Username)
}

func TestLookupMissing(t *testing.T) {
	dir := t.TempDir()
	writeTargets(t, dir, `[{"id":"t1","host":"10.0.0.2","port":22,"username":"ada"}]`)

	d := New(dir, nil)
	_, ok := d.Lookup("missing")
	assert.False(t, ok)
}

func TestLookupDefaultsPort(t *testing.T) {
	dir := t.TempDir()
	writeTargets(t, dir, `[{"id":"t1","host":"10.0.0.2","username":"ada"}]`)

	d := New(dir, nil)
	got, ok := d.Lookup("t1")
	require.True(t, ok)
	assert.Equal(t, 22, got.Port)
}

func TestLookupUnreadableFileIsEmptyDirectory(t *testing.T) {
	dir := t.TempDir() // no targets.json written at all

	d := New(dir, nil)
	_, ok := d.Lookup("t1")
	assert.False(t, ok)
}

func TestLookupMalformedJSONIsEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTargets(t, dir, `not json`)

	d := New(dir, nil)
	_, ok := d.Lookup("t1")
	assert.False(t, ok)
}

func TestLookupRereadsOnEveryCall(t *testing.T) {
	dir := t.TempDir()
	writeTargets(t, dir, `[{"id":"t1","host":"10.0.0.2","port":22,"username":"ada"}]`)

	d := New(dir, nil)
	_, ok := d.Lookup("t1")
	require.True(t, ok)

	writeTargets(t, dir, `[]`)
	_, ok = d.Lookup("t1")
	assert.False(t, ok)
}
