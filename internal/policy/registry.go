package policy

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/brandvault/metaledger/internal/model"
)

// LoadFieldsFromFile reads a YAML list of field definitions from the given
// path and returns an indexed FieldRegistry.
func LoadFieldsFromFile(path string) (*model.FieldRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "policy: read fields fixture")
	}
	return ParseFields(data)
}

// ParseFields parses YAML field definitions and validates their enums.
func ParseFields(data []byte) (*model.FieldRegistry, error) {
	var fields []model.FieldDefinition
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, eris.Wrap(err, "policy: unmarshal fields fixture")
	}

	for i := range fields {
		f := &fields[i]
		if f.ID == "" || f.Key == "" {
			return nil, eris.Errorf("policy: field %d missing id or key", i)
		}
		if _, err := model.ParseValueType(string(f.Type)); err != nil {
			return nil, eris.Wrapf(err, "policy: field %s", f.Key)
		}
		if _, err := model.ParsePopulationMode(string(f.Mode)); err != nil {
			return nil, eris.Wrapf(err, "policy: field %s", f.Key)
		}
	}

	return model.NewFieldRegistry(fields), nil
}
