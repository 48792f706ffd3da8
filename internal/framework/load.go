package framework

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed defs/*.yaml defs/definition.schema.json
var defsFS embed.FS

var (
	registryOnce sync.Once
	registry     map[string]*Definition
	registryErr  error
)

// Load resolves a framework definition into an ordered Schema for the given
// profile. Fails with ErrUnknownFramework for unregistered identifiers and
// ErrUnknownProfile for profiles outside baseline/enhanced.
func Load(id string, profile Profile) (*Schema, error) {
	if !profile.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, profile)
	}
	defs, err := definitions()
	if err != nil {
		return nil, err
	}
	def, ok := defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFramework, id)
	}
	return buildSchema(def, profile), nil
}

// IDs lists the registered framework identifiers, sorted.
func IDs() ([]string, error) {
	defs, err := definitions()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func definitions() (map[string]*Definition, error) {
	registryOnce.Do(func() {
		registry, registryErr = loadAll()
	})
	return registry, registryErr
}

func loadAll() (map[string]*Definition, error) {
	validate, err := compileDefinitionSchema()
	if err != nil {
		return nil, err
	}

	entries, err := fs.Glob(defsFS, "defs/*.yaml")
	if err != nil {
		return nil, err
	}
	defs := make(map[string]*Definition, len(entries))
	for _, name := range entries {
		raw, err := defsFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("framework: parse %s: %w", name, err)
		}
		if err := validate(normalize(doc)); err != nil {
			return nil, fmt.Errorf("framework: invalid definition %s: %w", name, err)
		}
		var def Definition
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("framework: parse %s: %w", name, err)
		}
		if err := checkDefinition(&def); err != nil {
			return nil, fmt.Errorf("framework: invalid definition %s: %w", name, err)
		}
		if _, exists := defs[def.ID]; exists {
			return nil, fmt.Errorf("framework: duplicate definition id %q", def.ID)
		}
		defs[def.ID] = &def
	}
	return defs, nil
}

func compileDefinitionSchema() (func(any) error, error) {
	raw, err := defsFS.ReadFile("defs/definition.schema.json")
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("definition.schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("definition.schema.json")
	if err != nil {
		return nil, err
	}
	return schema.Validate, nil
}

// normalize round-trips a decoded YAML document through JSON so the
// validator sees the types it expects (yaml numbers decode as int, the
// validator wants json.Number semantics).
func normalize(doc any) any {
	data, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return doc
	}
	return out
}

// checkDefinition applies the structural rules the JSON Schema cannot
// express: code uniqueness and per-kind shape.
func checkDefinition(def *Definition) error {
	switch def.Kind {
	case KindOutcomes:
		seen := make(map[string]struct{})
		for _, obj := range def.Objectives {
			for _, pr := range obj.Principles {
				if !strings.HasPrefix(pr.Code, obj.Code) {
					return fmt.Errorf("principle %s not under objective %s", pr.Code, obj.Code)
				}
				for _, out := range pr.Outcomes {
					if _, dup := seen[out.Code]; dup {
						return fmt.Errorf("duplicate outcome code %s", out.Code)
					}
					seen[out.Code] = struct{}{}
					if !strings.HasPrefix(out.Code, pr.Code+".") {
						return fmt.Errorf("outcome %s not under principle %s", out.Code, pr.Code)
					}
				}
			}
		}
		if len(seen) == 0 {
			return fmt.Errorf("no outcomes defined")
		}
	case KindSections:
		if len(def.Sections) == 0 {
			return fmt.Errorf("no sections defined")
		}
		seen := make(map[string]struct{})
		for _, sec := range def.Sections {
			if _, dup := seen[sec.Key]; dup {
				return fmt.Errorf("duplicate section key %s", sec.Key)
			}
			seen[sec.Key] = struct{}{}
		}
	default:
		return fmt.Errorf("unknown kind %q", def.Kind)
	}
	return nil
}
