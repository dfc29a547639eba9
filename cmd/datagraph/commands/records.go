package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/datagraph/am"
	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/logger"
	"github.com/teranos/datagraph/model"
	"github.com/teranos/datagraph/proxy/backend"
	"github.com/teranos/datagraph/proxy/sqlproxy"
	"github.com/teranos/datagraph/schema"
)

// ImportCmd saves every record of a YAML or JSON file as a model
var ImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Save records from a YAML or JSON file",
	Long: `Save records from a YAML or JSON file through the configured backend.

The file holds a list of records. Records without an id are created and get
the id the backend assigns; records with an id update the stored record.

Examples:
  datagraph import --schema types.yaml --type note notes.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

// GetCmd loads one record and prints it as JSON
var GetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Load one record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

// RmCmd deletes one record
var RmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete one record",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

// LsCmd lists stored records
var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored records",
	Long: `List the stored records of one type, or the number of records per type
when no type is given (sqlite backend only).`,
	Args: cobra.NoArgs,
	RunE: runLs,
}

var (
	recordSchemas []string
	recordType    string
)

func init() {
	for _, cmd := range []*cobra.Command{ImportCmd, GetCmd, RmCmd} {
		cmd.Flags().StringSliceVarP(&recordSchemas, "schema", "s", nil, "Schema files defining the types (default: schema.paths)")
		cmd.Flags().StringVarP(&recordType, "type", "t", "", "Model type name")
		cmd.MarkFlagRequired("type")
	}
	LsCmd.Flags().StringVarP(&recordType, "type", "t", "", "Model type name")
}

// session is a registry whose types persist through the configured backend
type session struct {
	registry *model.Registry
	backend  *backend.Backend
}

func openSession(schemaPaths []string) (*session, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	paths, err := schemaPathsOrConfig(schemaPaths, cfg)
	if err != nil {
		return nil, err
	}
	policy, err := model.ParseEvictionPolicy(cfg.Identity.Eviction)
	if err != nil {
		return nil, err
	}

	b, err := backend.Open(cfg, nil)
	if err != nil {
		return nil, err
	}
	reg := model.NewRegistry(
		model.WithEvictionPolicy(policy),
		model.ReleaseOnDestroy(cfg.Identity.ReleaseOnDestroy),
		model.WithDefaultProxy(b),
	)
	for _, path := range paths {
		if _, err := schema.LoadFile(path, reg); err != nil {
			b.Close()
			return nil, err
		}
	}
	return &session{registry: reg, backend: b}, nil
}

func (s *session) Close() error { return s.backend.Close() }

// model returns an instance of the named type holding only its id
func (s *session) model(typeName, id string) (*model.Model, error) {
	typ, err := s.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	return typ.New(map[string]any{typ.IDAttributeName(): id})
}

func runImport(cmd *cobra.Command, args []string) error {
	records, err := readRecords(args[0])
	if err != nil {
		return err
	}

	s, err := openSession(recordSchemas)
	if err != nil {
		return err
	}
	defer s.Close()

	typ, err := s.registry.Lookup(recordType)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, record := range records {
		m, err := typ.New(record)
		if err != nil {
			return errors.Wrapf(err, "record %d", i+1)
		}
		if err := m.Save(cmd.Context()); err != nil {
			return errors.Wrapf(err, "record %d", i+1)
		}
		id, err := m.ID()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %v\n", typ.Name(), id)
	}
	logger.Logger.Infow("Records imported",
		logger.FieldModelType, typ.Name(),
		logger.FieldCount, len(records),
		logger.FieldBackend, s.backend.Name,
	)
	return nil
}

// readRecords reads a list of records. JSON files parse as YAML.
func readRecords(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	var records []map[string]any
	if err := yaml.NewDecoder(f).Decode(&records); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "failed to parse records in %s", path)
	}
	return records, nil
}

func runGet(cmd *cobra.Command, args []string) error {
	s, err := openSession(recordSchemas)
	if err != nil {
		return err
	}
	defer s.Close()

	m, err := s.model(recordType, args[0])
	if err != nil {
		return err
	}
	if err := m.Load(cmd.Context()); err != nil {
		return err
	}
	data, err := m.Data(model.ConvertOptions{})
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal record")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	s, err := openSession(recordSchemas)
	if err != nil {
		return err
	}
	defer s.Close()

	m, err := s.model(recordType, args[0])
	if err != nil {
		return err
	}
	if err := m.Destroy(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ deleted %s %s\n", recordType, args[0])
	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	b, err := backend.Open(cfg, nil)
	if err != nil {
		return err
	}
	defer b.Close()

	var data pterm.TableData
	if recordType == "" {
		store, ok := b.Store().(*sqlproxy.Store)
		if !ok {
			return errors.Newf("listing all types needs the sqlite backend, not %s; pass --type", b.Name)
		}
		counts, err := store.Types(cmd.Context())
		if err != nil {
			return err
		}
		data = pterm.TableData{{"TYPE", "RECORDS"}}
		for _, c := range counts {
			data = append(data, []string{c.Type, fmt.Sprint(c.Count)})
		}
	} else {
		lister, ok := b.Lister()
		if !ok {
			return errors.Newf("the %s backend cannot list records", b.Name)
		}
		records, err := lister.List(cmd.Context(), recordType)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			pterm.Info.Printfln("No %s records", recordType)
			return nil
		}
		data = recordTable(records)
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render records")
	}
	fmt.Fprintln(cmd.OutOrStdout(), table)
	return nil
}

// recordTable has one column per key seen in any record, sorted by name
func recordTable(records []map[string]any) pterm.TableData {
	seen := map[string]bool{}
	var columns []string
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)

	data := pterm.TableData{columns}
	for _, r := range records {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = cell(r[col])
		}
		data = append(data, row)
	}
	return data
}

func cell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	default:
		return fmt.Sprint(v)
	}
}
