// Package artifact defines the identifiers shared by the manifest, the
// lockfile, and the registry client. A Ref is the join key between the three.
package artifact

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultGroup is the registry group used when a manifest entry leaves the
// group empty.
const DefaultGroup = "default"

// Ref identifies an artifact within a registry. Immutable once constructed.
type Ref struct {
	Group string
	ID    string
}

// NewRef builds a Ref, substituting DefaultGroup for an empty group.
func NewRef(group, id string) Ref {
	if group == "" {
		group = DefaultGroup
	}
	return Ref{Group: group, ID: id}
}

func (r Ref) String() string {
	return r.Group + "/" + r.ID
}

// Less orders refs by group then id. Used for stable lockfile ordering.
func (r Ref) Less(other Ref) bool {
	if r.Group != other.Group {
		return r.Group < other.Group
	}
	return r.ID < other.ID
}

// Type is a registry artifact type, e.g. AVRO or OPENAPI.
type Type string

const (
	TypeAvro     Type = "AVRO"
	TypeProtobuf Type = "PROTOBUF"
	TypeJSON     Type = "JSON"
	TypeKConnect Type = "KCONNECT"
	TypeOpenAPI  Type = "OPENAPI"
	TypeAsyncAPI Type = "ASYNCAPI"
	TypeGraphQL  Type = "GRAPHQL"
	TypeWsdl     Type = "WSDL"
	TypeXsd      Type = "XSD"
)

var knownTypes = map[Type]struct{}{
	TypeAvro:     {},
	TypeProtobuf: {},
	TypeJSON:     {},
	TypeKConnect: {},
	TypeOpenAPI:  {},
	TypeAsyncAPI: {},
	TypeGraphQL:  {},
	TypeWsdl:     {},
	TypeXsd:      {},
}

// ParseType validates a manifest "type" value. The empty string is valid and
// means "let the registry detect the type".
func ParseType(s string) (Type, error) {
	if s == "" {
		return "", nil
	}
	t := Type(strings.ToUpper(s))
	if _, ok := knownTypes[t]; !ok {
		return "", fmt.Errorf("unknown artifact type %q", s)
	}
	return t, nil
}

// PushMetadata carries the optional descriptive fields sent with an upload.
type PushMetadata struct {
	Name        string
	Description string
	Type        Type
	Labels      []string
	Properties  map[string]string
}

// SortedPropertyKeys returns the property keys in stable order.
func (m PushMetadata) SortedPropertyKeys() []string {
	keys := make([]string, 0, len(m.Properties))
	for k := range m.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
