package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// bundleFile is the on-disk shape of a template bundle.
type bundleFile struct {
	Name    string              `json:"name" yaml:"name" toml:"name"`
	Version string              `json:"version" yaml:"version" toml:"version"`
	Blocks  map[string]blockDef `json:"blocks" yaml:"blocks" toml:"blocks"`
}

type blockDef struct {
	Template string         `json:"template" yaml:"template" toml:"template"`
	Schema   map[string]any `json:"schema,omitempty" yaml:"schema,omitempty" toml:"schema,omitempty"`
	Defaults map[string]any `json:"defaults,omitempty" yaml:"defaults,omitempty" toml:"defaults,omitempty"`
}

type bundleBlock struct {
	tmpl     *template.Template
	schema   *jsonschema.Schema
	defaults map[string]any
}

// Bundle is an artifact made of html/template blocks with optional JSON
// Schema props validation and defaults.
type Bundle struct {
	info   Info
	blocks map[string]*bundleBlock
}

// OpenBundle reads and compiles a bundle file. Decoding is selected by
// extension: .yaml/.yml, .json or .toml.
func OpenBundle(path string) (*Bundle, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &CodeError{Code: CodeRendererMissing, Err: err}
	}
	return ParseBundle(b, filepath.Ext(path))
}

// ParseBundle compiles bundle source in the format named by ext.
func ParseBundle(data []byte, ext string) (*Bundle, error) {
	var f bundleFile
	switch ext = strings.ToLower(ext); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, Errorf(CodeRendererInvalid, "decode yaml bundle: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, Errorf(CodeRendererInvalid, "decode json bundle: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, Errorf(CodeRendererInvalid, "decode toml bundle: %w", err)
		}
	default:
		return nil, Errorf(CodeRendererInvalid, "unsupported bundle extension %q", ext)
	}
	if len(f.Blocks) == 0 {
		return nil, Errorf(CodeRendererInvalid, "bundle %q exports no blocks", f.Name)
	}

	out := &Bundle{info: Info{Name: f.Name, Version: f.Version}, blocks: make(map[string]*bundleBlock, len(f.Blocks))}
	compiler := jsonschema.NewCompiler()
	for name, def := range f.Blocks {
		if strings.TrimSpace(def.Template) == "" {
			return nil, Errorf(CodeRendererInvalid, "block %q has no template", name)
		}
		tmpl, err := template.New(name).Parse(def.Template)
		if err != nil {
			return nil, Errorf(CodeRendererInvalid, "block %q: %w", name, err)
		}
		blk := &bundleBlock{tmpl: tmpl, defaults: def.Defaults}
		if len(def.Schema) > 0 {
			sch, err := compileSchema(compiler, name, def.Schema)
			if err != nil {
				return nil, Errorf(CodeRendererInvalid, "block %q schema: %w", name, err)
			}
			blk.schema = sch
		}
		out.blocks[name] = blk
	}
	return out, nil
}

// compileSchema round-trips the decoded schema through JSON so YAML and TOML
// numbers reach the compiler in its own representation.
func compileSchema(c *jsonschema.Compiler, block string, raw map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	loc := "https://ssrelay.local/blocks/" + url.PathEscape(block) + ".json"
	if err := c.AddResource(loc, doc); err != nil {
		return nil, err
	}
	return c.Compile(loc)
}

// Info implements Artifact.
func (b *Bundle) Info() Info { return b.info }

// Close implements Artifact.
func (b *Bundle) Close() error { return nil }

// Blocks lists the block names in sorted order.
func (b *Bundle) Blocks() []string {
	names := make([]string, 0, len(b.blocks))
	for n := range b.blocks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ValidateProps fills defaults for absent keys and checks the block schema.
func (b *Bundle) ValidateProps(_ context.Context, block string, props map[string]any) (map[string]any, error) {
	blk, ok := b.blocks[block]
	if !ok {
		return nil, &CodeError{Code: CodeUnsupportedBlock, Err: fmt.Errorf("block %q", block)}
	}
	out := make(map[string]any, len(props)+len(blk.defaults))
	for k, v := range blk.defaults {
		out[k] = v
	}
	for k, v := range props {
		out[k] = v
	}
	if blk.schema != nil {
		if err := blk.schema.Validate(normalizeJSON(out)); err != nil {
			return nil, &CodeError{Code: CodeInvalidProps, Err: err}
		}
	}
	return out, nil
}

// Render executes the block template with props as dot.
func (b *Bundle) Render(ctx context.Context, block string, props map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	blk, ok := b.blocks[block]
	if !ok {
		return "", &CodeError{Code: CodeUnsupportedBlock, Err: fmt.Errorf("block %q", block)}
	}
	var sb strings.Builder
	if err := blk.tmpl.Execute(&sb, props); err != nil {
		return "", fmt.Errorf("execute %q: %w", block, err)
	}
	return sb.String(), nil
}

// normalizeJSON converts v to the value encoding/json would produce, so
// defaults decoded from YAML or TOML validate like request props.
func normalizeJSON(v map[string]any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	out, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return v
	}
	return out
}
