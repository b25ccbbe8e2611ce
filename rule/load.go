package rule

import (
	"fmt"
	"os"

	"github.com/gwos/autodt/errors"
	"gopkg.in/yaml.v3"
)

// Versions of rule file shape
const (
	Version1 = 1
	Version2 = 2
)

// Parse decodes a rule file by its version tag,
// a file without the tag is treated as version 1
func Parse(data []byte) (Rule, error) {
	var tag struct {
		Version int `yaml:"version"`
	}
	if err := yaml.Unmarshal(data, &tag); err != nil {
		return Rule{}, errors.Config("Config error: invalid rule file: %v", err)
	}
	switch tag.Version {
	case 0, Version1:
		var v1 V1
		if err := yaml.Unmarshal(data, &v1); err != nil {
			return Rule{}, errors.Config("Config error: invalid rule file: %v", err)
		}
		return Migrate(v1), nil
	case Version2:
		r := Defaults()
		if err := yaml.Unmarshal(data, &r); err != nil {
			return Rule{}, errors.Config("Config error: invalid rule file: %v", err)
		}
		return r, nil
	}
	return Rule{}, errors.Config("Config error: unsupported rule file version %d", tag.Version)
}

// LoadFile reads and parses a rule file
func LoadFile(path string) (Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rule{}, errors.Config("Config error: %v", err)
	}
	r, err := Parse(data)
	if err != nil {
		return r, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Marshal encodes rule in the current shape
func Marshal(r Rule) ([]byte, error) {
	return yaml.Marshal(struct {
		Version int `yaml:"version"`
		Rule    `yaml:",inline"`
	}{Version2, r})
}
