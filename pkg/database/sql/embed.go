// Package sql embeds the relational schema so deployments can apply it
// without shipping loose files alongside the binary.
package sql

import (
	"embed"
	"io/fs"
	"sort"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// SchemaFiles returns the embedded schema file names in apply order.
func SchemaFiles() ([]string, error) {
	entries, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	return entries, nil
}

// ReadSchema returns the contents of a single embedded schema file.
func ReadSchema(name string) ([]byte, error) {
	return schemaFS.ReadFile(name)
}
