package protocol

import (
	"bytes"
	"embed"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemas = map[string]*jsonschema.Schema{
	TypeHello: mustSchema("hello.schema.json"),
	TypeAct:   mustSchema("act.schema.json"),
}

func mustSchema(name string) *jsonschema.Schema {
	b, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		panic(err)
	}
	return jsonschema.MustCompileString(name, string(b))
}

// Validate checks a raw client message against the schema for its type. Types without a
// schema pass.
func Validate(typ string, raw []byte) error {
	s, ok := schemas[typ]
	if !ok {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return errors.Wrap(err, "decode json")
	}
	if err := s.Validate(doc); err != nil {
		return errors.Wrapf(err, "%s", typ)
	}
	return nil
}
