package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/datagraph/am"
	"github.com/teranos/datagraph/errors"
)

const notesSchema = `
types:
  - name: note
    attributes:
      - {name: id, type: string}
      - {name: title, type: string}
      - {name: stars, type: integer, default: 0}
      - {name: cursor, persist: false}
`

// workspace isolates config in a temp dir backed by a sqlite file and
// returns the path of a schema file declaring "note".
func workspace(t *testing.T) (dir, schemaPath string) {
	t.Helper()
	am.Reset()
	t.Cleanup(am.Reset)
	pterm.DisableColor()

	dir = t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	t.Setenv("DATAGRAPH_BACKEND", am.BackendSQLite)
	t.Setenv("DATAGRAPH_DATABASE_PATH", filepath.Join(dir, "records.db"))

	schemaPath = filepath.Join(dir, "notes.yaml")
	require.NoError(t, os.WriteFile(schemaPath, []byte(notesSchema), 0o644))
	return dir, schemaPath
}

// execute runs cmd as a root command with fresh flag values
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	resetFlags(cmd)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func TestRecordLifecycle(t *testing.T) {
	dir, schemaPath := workspace(t)

	recordsPath := filepath.Join(dir, "notes-data.yaml")
	require.NoError(t, os.WriteFile(recordsPath, []byte(`
- {title: first, stars: 3}
- {title: second}
`), 0o644))

	out, err := execute(t, ImportCmd, "--schema", schemaPath, "--type", "note", recordsPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var ids []string
	for _, line := range lines {
		fields := strings.Fields(line)
		require.Len(t, fields, 2)
		assert.Equal(t, "note", fields[0])
		ids = append(ids, fields[1])
	}

	out, err = execute(t, GetCmd, "--schema", schemaPath, "--type", "note", ids[0])
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, ids[0], got["id"])
	assert.Equal(t, "first", got["title"])
	assert.Equal(t, float64(3), got["stars"])

	out, err = execute(t, GetCmd, "--schema", schemaPath, "--type", "note", ids[1])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, float64(0), got["stars"], "defaults are persisted")

	out, err = execute(t, LsCmd, "--type", "note")
	require.NoError(t, err)
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second")
	assert.Contains(t, out, ids[1])

	out, err = execute(t, LsCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "note")
	assert.Contains(t, out, "2")

	out, err = execute(t, RmCmd, "--schema", schemaPath, "--type", "note", ids[0])
	require.NoError(t, err)
	assert.Contains(t, out, "deleted note "+ids[0])

	_, err = execute(t, GetCmd, "--schema", schemaPath, "--type", "note", ids[0])
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestImportUpdatesExistingRecords(t *testing.T) {
	dir, schemaPath := workspace(t)

	first := filepath.Join(dir, "first.json")
	require.NoError(t, os.WriteFile(first, []byte(`[{"title": "draft"}]`), 0o644))
	out, err := execute(t, ImportCmd, "--schema", schemaPath, "--type", "note", first)
	require.NoError(t, err)
	id := strings.Fields(out)[1]

	second := filepath.Join(dir, "second.json")
	require.NoError(t, os.WriteFile(second, []byte(`[{"id": "`+id+`", "title": "final"}]`), 0o644))
	_, err = execute(t, ImportCmd, "--schema", schemaPath, "--type", "note", second)
	require.NoError(t, err)

	out, err = execute(t, GetCmd, "--schema", schemaPath, "--type", "note", id)
	require.NoError(t, err)
	assert.Contains(t, out, `"final"`)
}

func TestImportErrors(t *testing.T) {
	dir, schemaPath := workspace(t)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte(`[{title: x, color: red}]`), 0o644))
	_, err := execute(t, ImportCmd, "--schema", schemaPath, "--type", "note", unknown)
	assert.True(t, errors.Is(err, errors.ErrUnknownAttribute))

	_, err = execute(t, ImportCmd, "--schema", schemaPath, "--type", "missing", unknown)
	assert.True(t, errors.Is(err, errors.ErrUnknownType))

	_, err = execute(t, ImportCmd, "--type", "note", unknown)
	assert.ErrorContains(t, err, "schema.paths is empty")

	_, err = execute(t, ImportCmd, "--schema", schemaPath, unknown)
	assert.ErrorContains(t, err, `"type" not set`)
}

func TestSchemaPathsFromConfig(t *testing.T) {
	dir, schemaPath := workspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, am.ConfigFileName), []byte(`
[schema]
paths = ["`+schemaPath+`"]
`), 0o644))

	out, err := execute(t, SchemaCmd, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "note")
	assert.Contains(t, out, "stars:integer")
	assert.Contains(t, out, "cursor:mixed~")
}

func TestSchemaCheck(t *testing.T) {
	dir, schemaPath := workspace(t)

	extra := filepath.Join(dir, "tasks.yaml")
	require.NoError(t, os.WriteFile(extra, []byte(`
types:
  - name: task
    extends: note
    attributes:
      - {name: subtasks, type: collection, of: task, embedded: true}
`), 0o644))

	out, err := execute(t, SchemaCmd, "check", schemaPath, extra)
	require.NoError(t, err)
	assert.Contains(t, out, "task")
	assert.Contains(t, out, "subtasks:collection+")

	_, err = execute(t, SchemaCmd, "check", extra)
	assert.True(t, errors.Is(err, errors.ErrUnknownType))

	_, err = execute(t, SchemaCmd, "check", "--watch", schemaPath, extra)
	assert.ErrorContains(t, err, "exactly one schema file")
}

func TestLsWithoutTypeNeedsSQLite(t *testing.T) {
	workspace(t)
	t.Setenv("DATAGRAPH_BACKEND", am.BackendMemory)

	_, err := execute(t, LsCmd)
	assert.ErrorContains(t, err, "needs the sqlite backend")

	out, err := execute(t, LsCmd, "--type", "note")
	require.NoError(t, err)
	assert.NotContains(t, out, "note")
}

func TestAmCommands(t *testing.T) {
	workspace(t)

	out, err := execute(t, AmCmd, "get", "persistence.backend")
	require.NoError(t, err)
	assert.Equal(t, "sqlite\n", out)

	_, err = execute(t, AmCmd, "get", "no.such.key")
	assert.ErrorContains(t, err, "not found")

	out, err = execute(t, AmCmd, "set", "identity.eviction", "weak")
	require.NoError(t, err)
	assert.Contains(t, out, "identity.eviction = weak")

	out, err = execute(t, AmCmd, "get", "identity.eviction")
	require.NoError(t, err)
	assert.Equal(t, "weak\n", out)

	out, err = execute(t, AmCmd, "show", "--format", "json")
	require.NoError(t, err)
	var cfg am.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "weak", cfg.Identity.Eviction)

	out, err = execute(t, AmCmd, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[identity]")

	_, err = execute(t, AmCmd, "show", "--format", "xml")
	assert.ErrorContains(t, err, "unsupported format")

	out, err = execute(t, AmCmd, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	out, err = execute(t, AmCmd, "where")
	require.NoError(t, err)
	assert.Contains(t, out, "persistence.backend = sqlite")
	assert.Contains(t, out, "settings from environment variables")
}

func TestParseScalar(t *testing.T) {
	assert.Equal(t, true, parseScalar("true"))
	assert.Equal(t, 3, parseScalar("3"))
	assert.Equal(t, 0.5, parseScalar("0.5"))
	assert.Equal(t, "weak", parseScalar("weak"))
	assert.Equal(t, "", parseScalar(""))
	assert.Equal(t, "[a, b]", parseScalar("[a, b]"))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, VersionCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "datagraph")

	out, err = execute(t, VersionCmd, "--json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "commit_hash")
}
