package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/datagraph/am"
	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/model"
	"github.com/teranos/datagraph/schema"
)

// SchemaCmd represents the schema command
var SchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Check and watch schema files",
	Long: `schema - Check and watch schema files

Schema files declare model types in YAML. Files are loaded in order, so a
type may extend or reference types declared in an earlier file.

Examples:
  datagraph schema check types.yaml          # Load and describe the types
  datagraph schema check                     # Check the files in schema.paths
  datagraph schema check --watch types.yaml  # Re-check on every save`,
}

var schemaCheckCmd = &cobra.Command{
	Use:   "check [file...]",
	Short: "Load schema files and describe the types they define",
	RunE:  runSchemaCheck,
}

var schemaWatch bool

func init() {
	schemaCheckCmd.Flags().BoolVarP(&schemaWatch, "watch", "w", false, "Re-check the schema file whenever it changes")

	SchemaCmd.AddCommand(schemaCheckCmd)
}

func runSchemaCheck(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	paths, err := schemaPathsOrConfig(args, cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !schemaWatch {
		reg := model.NewRegistry()
		var types []*model.Type
		for _, path := range paths {
			defined, err := schema.LoadFile(path, reg)
			if err != nil {
				return err
			}
			types = append(types, defined...)
		}
		return describeTypes(out, types)
	}

	if len(paths) != 1 {
		return errors.Newf("--watch takes exactly one schema file, got %d", len(paths))
	}
	w, err := schema.NewWatcher(paths[0])
	if err != nil {
		return err
	}
	w.OnReload(func(_ *model.Registry, types []*model.Type) error {
		pterm.Success.Printfln("%s: %d types", paths[0], len(types))
		return describeTypes(out, types)
	})
	w.OnError(func(err error) {
		pterm.Error.Printfln("%s: %v", paths[0], err)
	})
	if err := w.Reload(); err != nil {
		pterm.Warning.Printfln("Initial load failed, waiting for changes: %v", err)
	}
	w.Start()
	defer w.Stop()

	pterm.Info.Printfln("Watching %s (Ctrl+C to stop)", paths[0])
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}

// describeTypes renders one table row per type
func describeTypes(out io.Writer, types []*model.Type) error {
	data := pterm.TableData{{"TYPE", "EXTENDS", "ID", "ATTRIBUTES"}}
	for _, typ := range types {
		parent := ""
		if typ.Parent() != nil {
			parent = typ.Parent().Name()
		}
		data = append(data, []string{typ.Name(), parent, typ.IDAttributeName(), describeAttributes(typ)})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render types")
	}
	fmt.Fprintln(out, table)
	return nil
}

func describeAttributes(typ *model.Type) string {
	var parts []string
	for _, name := range typ.AttributeNames() {
		attr, err := typ.Attribute(name)
		if err != nil {
			continue
		}
		part := name + ":" + attr.Kind().String()
		if attr.IsEmbedded() {
			part += "+"
		}
		if !attr.Persisted() {
			part += "~"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " ")
}

// schemaPathsOrConfig prefers explicit paths over schema.paths from config
func schemaPathsOrConfig(paths []string, cfg *am.Config) ([]string, error) {
	if len(paths) == 0 {
		paths = cfg.Schema.Paths
	}
	if len(paths) == 0 {
		return nil, errors.New("no schema files given and schema.paths is empty")
	}
	return paths, nil
}
