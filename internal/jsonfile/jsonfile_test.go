package jsonfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/victornm/quizbot/internal/jsonfile"
)

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "users.json")

	var got map[string]int
	ok, err := jsonfile.Load(path, &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, jsonfile.Save(path, map[string]int{"a": 1}))
	require.NoError(t, jsonfile.Save(path, map[string]int{"a": 2, "b": 3}))

	ok, err = jsonfile.Load(path, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, map[string]int{"a": 2, "b": 3}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.json")
	require.NoError(t, os.WriteFile(path, []byte("[{"), 0o644))

	var got []any
	_, err := jsonfile.Load(path, &got)
	require.Error(t, err)
}
