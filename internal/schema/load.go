package schema

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

// LoadError reports a malformed schema file, with a source position when the
// CUE evaluator provides one.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads object class definitions from path and overlays them on the
// Default registry. The format is chosen by extension: .yaml/.yml or .cue.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	var classes []ObjectClass
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		classes, err = ParseYAML(data)
	case ".cue":
		classes, err = CompileCUE(path, data)
	default:
		return nil, fmt.Errorf("schema file %s: unsupported extension (want .yaml, .yml or .cue)", path)
	}
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", path, err)
	}

	return Default().Merge(classes...)
}

// yamlFile is the YAML schema document.
//
//	object_classes:
//	  - name: vmwService
//	    sup: top
//	    must: [cn, vmwServiceId]
type yamlFile struct {
	ObjectClasses []ObjectClass `yaml:"object_classes"`
}

// ParseYAML decodes a YAML schema document. Unknown fields are rejected.
func ParseYAML(data []byte) ([]ObjectClass, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var doc yamlFile
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	for i, oc := range doc.ObjectClasses {
		if oc.Name == "" {
			return nil, &LoadError{Field: fmt.Sprintf("object_classes[%d].name", i), Message: "name is required"}
		}
	}
	return doc.ObjectClasses, nil
}

// cueClass is the decoded body of one class under the objectClass struct.
type cueClass struct {
	Sup  string   `json:"sup"`
	Must []string `json:"must"`
	May  []string `json:"may"`
}

// CompileCUE evaluates a CUE schema document. Classes are fields of the
// top-level objectClass struct, keyed by class name:
//
//	objectClass: vmwService: {
//		sup:  "top"
//		must: ["cn", "vmwServiceId"]
//	}
//
// Classes are returned sorted by name so loading is deterministic.
func CompileCUE(filename string, data []byte) ([]ObjectClass, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	classesVal := value.LookupPath(cue.ParsePath("objectClass"))
	if !classesVal.Exists() {
		return nil, &LoadError{Field: "objectClass", Message: "objectClass struct is required", Pos: value.Pos()}
	}

	iter, err := classesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var classes []ObjectClass
	for iter.Next() {
		var body cueClass
		if err := iter.Value().Decode(&body); err != nil {
			return nil, formatCUEError(err)
		}
		classes = append(classes, ObjectClass{
			Name: iter.Label(),
			Sup:  body.Sup,
			Must: body.Must,
			May:  body.May,
		})
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })
	return classes, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &LoadError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
