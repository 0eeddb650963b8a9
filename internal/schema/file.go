package schema

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"chainwatch/internal/model"
)

// File is the YAML layout of a schema file:
//
//	events:
//	  - signature: "Transfer(address indexed from, address indexed to, uint256 value)"
//	  - name: Approval
//	    fields:
//	      - {name: owner, type: address, indexed: true}
//	      - {name: spender, type: address, indexed: true}
//	      - {name: value, type: uint256}
type File struct {
	Events []FileEvent `yaml:"events"`
}

type FileEvent struct {
	Signature string        `yaml:"signature"`
	Name      string        `yaml:"name"`
	Fields    []model.Field `yaml:"fields"`
}

// LoadFile reads schemas from a YAML schema file or a JSON ABI (.json).
func LoadFile(path string, logger *zap.Logger) ([]model.EventSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		schemas, err := FromABI(bytes.NewReader(data), logger.With(zap.String("file", path)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return schemas, nil
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse schema file %s: %w", path, err)
	}

	out := make([]model.EventSchema, 0, len(file.Events))
	for i, ev := range file.Events {
		var (
			s   model.EventSchema
			err error
		)
		switch {
		case ev.Signature != "":
			s, err = ParseSignature(ev.Signature)
		case ev.Name != "":
			s, err = New(ev.Name, ev.Fields)
		default:
			err = fmt.Errorf("entry %d needs a signature or a name", i)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// RegisterAll registers schemas in order, stopping at the first error.
func (r *Registry) RegisterAll(schemas []model.EventSchema) error {
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}

func sortSchemas(schemas []model.EventSchema) {
	sort.Slice(schemas, func(i, j int) bool {
		return schemas[i].Canonical() < schemas[j].Canonical()
	})
}
