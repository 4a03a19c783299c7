package scenario

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed scenarios.schema.json
var schemaJSON string

const schemaURL = "butai://scenarios.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func scenarioSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add scenario schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

type yamlDocument struct {
	Scenarios []struct {
		ID   string `yaml:"id"`
		Cast []struct {
			Character string    `yaml:"character"`
			Triggers  yaml.Node `yaml:"triggers"`
		} `yaml:"cast"`
	} `yaml:"scenarios"`
}

// LoadYAML reads the YAML form of the rule table:
//
//	scenarios:
//	  - id: welcome
//	    cast:
//	      - character: 陌生人
//	        triggers:
//	          DESCRIPTIONTEXT: ...
//	          DEFAULT: "GEN:"
//	          greet: SOLID:你好
func LoadYAML(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML validates data against the embedded JSON Schema and compiles it.
func ParseYAML(data []byte) (*Table, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrValidation, err)
	}
	// Round-trip through JSON so the validator sees JSON-native types.
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: scenario document is not JSON-compatible: %v", ErrValidation, err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(asJSON))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	schema, err := scenarioSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var typed yamlDocument
	if err := yaml.Unmarshal(data, &typed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	sheets := make([]sheet, 0, len(typed.Scenarios))
	for _, sc := range typed.Scenarios {
		sh := sheet{name: strings.TrimSpace(sc.ID), cells: make(map[string]map[string]string)}
		for _, member := range sc.Cast {
			ch := strings.TrimSpace(member.Character)
			sh.characters = append(sh.characters, ch)
			pairs := member.Triggers.Content
			for i := 0; i+1 < len(pairs); i += 2 {
				key := strings.TrimSpace(pairs[i].Value)
				if _, seen := sh.cells[key]; !seen {
					sh.keys = append(sh.keys, key)
					sh.cells[key] = make(map[string]string)
				}
				sh.cells[key][ch] = pairs[i+1].Value
			}
		}
		sheets = append(sheets, sh)
	}
	return compile(sheets)
}

// Load dispatches on file extension: .xlsx, .yaml or .yml.
func Load(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return LoadXLSX(path)
	case ".yaml", ".yml":
		return LoadYAML(path)
	default:
		return nil, fmt.Errorf("unsupported scenario file %q", path)
	}
}
