// Package schema defines model types from YAML documents.
//
//	types:
//	  - name: line
//	    attributes:
//	      - {name: id, type: integer}
//	      - {name: qty, type: integer, default: 1}
//	  - name: invoice
//	    extends: document
//	    attributes:
//	      - {name: lines, type: collection, of: line, embedded: true}
//	      - {name: cursor, persist: false}
package schema

import (
	"bytes"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/logger"
	"github.com/teranos/datagraph/model"
)

// Document is a parsed schema file
type Document struct {
	Types []TypeDef `yaml:"types"`
}

// TypeDef declares one model type
type TypeDef struct {
	Name       string         `yaml:"name"`
	Extends    string         `yaml:"extends,omitempty"`
	ID         string         `yaml:"id,omitempty"` // id attribute name, default "id"
	Attributes []AttributeDef `yaml:"attributes"`
}

// AttributeDef declares one attribute
type AttributeDef struct {
	Name string `yaml:"name"`

	// Type is a model.Kind name: string, integer, number, boolean, date,
	// object, array, mixed, model or collection. Empty means mixed.
	Type string `yaml:"type,omitempty"`

	// Of names the target type of model and collection attributes
	Of string `yaml:"of,omitempty"`

	Default  any   `yaml:"default,omitempty"`
	Persist  *bool `yaml:"persist,omitempty"`
	Embedded bool  `yaml:"embedded,omitempty"`
}

// Parse decodes a schema document without defining anything
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &doc, nil
		}
		return nil, errors.Wrap(err, "failed to parse schema YAML")
	}
	return &doc, nil
}

// Load parses a schema document and defines its types in reg
func Load(r io.Reader, reg *model.Registry) ([]*model.Type, error) {
	doc, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return doc.Define(reg)
}

// LoadFile is Load for a file on disk
func LoadFile(path string, reg *model.Registry) ([]*model.Type, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read schema %s", path)
	}
	types, err := Load(bytes.NewReader(data), reg)
	if err != nil {
		return nil, errors.Wrapf(err, "schema %s", path)
	}
	logger.Debugw("Schema loaded", logger.FieldFile, path, logger.FieldCount, len(types))
	return types, nil
}

// Define registers the document's types in reg, parents before the types
// that extend them. Every extends and of reference must name a type in the
// document or one already in reg. The document is checked completely
// before anything is defined.
func (d *Document) Define(reg *model.Registry) ([]*model.Type, error) {
	order, err := d.order(reg)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string][]*model.Attribute, len(order))
	for _, def := range order {
		if attrs[def.Name], err = def.attributes(); err != nil {
			return nil, err
		}
	}

	defined := make(map[string]*model.Type, len(order))
	out := make([]*model.Type, 0, len(order))
	for _, def := range order {
		opts, err := def.options(reg, defined)
		if err != nil {
			return out, err
		}
		opts = append(opts, model.Attributes(attrs[def.Name]...))
		t, err := reg.Define(def.Name, opts...)
		if err != nil {
			return out, errors.Wrapf(err, "type %q", def.Name)
		}
		defined[def.Name] = t
		out = append(out, t)
	}
	return out, nil
}

// order validates references and sorts definitions so parents come first.
func (d *Document) order(reg *model.Registry) ([]*TypeDef, error) {
	byName := make(map[string]*TypeDef, len(d.Types))
	for i := range d.Types {
		def := &d.Types[i]
		if def.Name == "" {
			return nil, errors.Newf("type #%d has no name", i+1)
		}
		if _, dup := byName[def.Name]; dup {
			return nil, errors.Mark(errors.Newf("type %q declared twice", def.Name), errors.ErrDuplicateType)
		}
		if _, err := reg.Lookup(def.Name); err == nil {
			return nil, errors.Mark(errors.Newf("type %q already defined", def.Name), errors.ErrDuplicateType)
		}
		byName[def.Name] = def
	}

	known := func(name string) bool {
		if _, ok := byName[name]; ok {
			return true
		}
		_, err := reg.Lookup(name)
		return err == nil
	}

	for _, def := range d.Types {
		if def.Extends != "" && !known(def.Extends) {
			return nil, errors.Mark(errors.Newf("type %q extends unknown type %q", def.Name, def.Extends), errors.ErrUnknownType)
		}
		for _, a := range def.Attributes {
			if a.Of != "" && !known(a.Of) {
				return nil, errors.Mark(errors.Newf("attribute %s.%s refers to unknown type %q", def.Name, a.Name, a.Of), errors.ErrUnknownType)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(d.Types))
	out := make([]*TypeDef, 0, len(d.Types))
	var visit func(def *TypeDef) error
	visit = func(def *TypeDef) error {
		switch state[def.Name] {
		case done:
			return nil
		case visiting:
			return errors.Newf("type %q extends itself", def.Name)
		}
		state[def.Name] = visiting
		if parent, ok := byName[def.Extends]; ok {
			if err := visit(parent); err != nil {
				return err
			}
		}
		state[def.Name] = done
		out = append(out, def)
		return nil
	}
	for i := range d.Types {
		if err := visit(&d.Types[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (def *TypeDef) options(reg *model.Registry, defined map[string]*model.Type) ([]model.TypeOption, error) {
	var opts []model.TypeOption
	if def.Extends != "" {
		parent, ok := defined[def.Extends]
		if !ok {
			var err error
			if parent, err = reg.Lookup(def.Extends); err != nil {
				return nil, err
			}
		}
		opts = append(opts, model.Extends(parent))
	}
	if def.ID != "" {
		opts = append(opts, model.IDAttribute(def.ID))
	}
	return opts, nil
}

func (def *TypeDef) attributes() ([]*model.Attribute, error) {
	attrs := make([]*model.Attribute, 0, len(def.Attributes))
	for _, ad := range def.Attributes {
		a, err := ad.build()
		if err != nil {
			return nil, errors.Wrapf(err, "type %q", def.Name)
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

func (ad AttributeDef) build() (*model.Attribute, error) {
	var opts []model.AttributeOption

	kind := model.KindMixed
	if ad.Type != "" {
		var err error
		if kind, err = model.ParseKind(ad.Type); err != nil {
			return nil, errors.Wrapf(err, "attribute %q", ad.Name)
		}
	}
	switch kind {
	case model.KindModel:
		if ad.Of == "" {
			return nil, errors.Newf("attribute %q: model attributes need 'of'", ad.Name)
		}
		opts = append(opts, model.ModelNamed(ad.Of))
	case model.KindCollection:
		if ad.Of == "" {
			return nil, errors.Newf("attribute %q: collection attributes need 'of'", ad.Name)
		}
		opts = append(opts, model.CollectionNamed(ad.Of))
	default:
		if ad.Of != "" {
			return nil, errors.Newf("attribute %q: 'of' only applies to model and collection attributes", ad.Name)
		}
		opts = append(opts, model.OfKind(kind))
	}

	if ad.Embedded {
		opts = append(opts, model.Embedded())
	}
	if ad.Default != nil {
		opts = append(opts, model.Default(ad.Default))
	}
	if ad.Persist != nil {
		opts = append(opts, model.Persist(*ad.Persist))
	}
	return model.NewAttribute(ad.Name, opts...)
}
