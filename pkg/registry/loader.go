package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/callkaidsroofing/gem/pkg/contracts"
)

// SupportedSchemaVersions is the range of registry document versions this
// loader understands. A document declaring an incompatible major version
// fails to load rather than silently misbehaving.
const SupportedSchemaVersions = "^1"

//go:embed meta_schema.json
var metaSchemaJSON []byte

// document is the on-disk shape of the registry catalogue file.
type document struct {
	SchemaVersion string           `yaml:"schema_version"`
	Tools         []contracts.Tool `yaml:"tools"`
}

// Load reads the single authoritative registry document at path, validates
// it structurally (meta-schema + per-tool invariants), and returns a frozen
// Registry. Any failure here is fatal at startup — the spec requires
// rejecting the whole process rather than booting with a partial catalogue.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: reading %s: %w", path, err)
	}
	return LoadBytes(raw)
}

// LoadBytes is Load without the filesystem round-trip, used by tests and by
// callers that embed the document.
func LoadBytes(raw []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("registry: invalid YAML: %w", err)
	}

	if err := validateAgainstMetaSchema(raw); err != nil {
		return nil, fmt.Errorf("registry: document failed structural validation: %w", err)
	}

	if err := checkSchemaVersion(doc.SchemaVersion); err != nil {
		return nil, err
	}

	return NewFromTools(doc.Tools)
}

func checkSchemaVersion(v string) error {
	if v == "" {
		return fmt.Errorf("registry: document missing schema_version")
	}
	constraint, err := semver.NewConstraint(SupportedSchemaVersions)
	if err != nil {
		return fmt.Errorf("registry: internal constraint error: %w", err)
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("registry: schema_version %q is not valid semver: %w", v, err)
	}
	if !constraint.Check(ver) {
		return fmt.Errorf("registry: schema_version %q is not supported (need %s)", v, SupportedSchemaVersions)
	}
	return nil
}

// validateAgainstMetaSchema re-parses raw as JSON (via a YAML->JSON
// round-trip, since YAML is a superset of JSON) and checks it against the
// embedded meta-schema describing the registry document's own shape.
func validateAgainstMetaSchema(raw []byte) error {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return err
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("re-encoding document as JSON: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	const resourceURL = "https://gem.internal/schemas/registry-document.json"
	if err := compiler.AddResource(resourceURL, strings.NewReader(string(metaSchemaJSON))); err != nil {
		return fmt.Errorf("loading meta-schema: %w", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("compiling meta-schema: %w", err)
	}

	var payload any
	if err := json.Unmarshal(asJSON, &payload); err != nil {
		return err
	}
	if err := compiled.Validate(payload); err != nil {
		return err
	}
	return nil
}
