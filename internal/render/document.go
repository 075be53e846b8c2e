package render

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"schemadump/internal/schema"
)

// The structured formats share one document shape. Ordered maps keep
// declaration order so output is stable across runs.

type docField struct {
	Offset uint32 `json:"offset" yaml:"offset"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
}

type docClass struct {
	Size   uint32                                   `json:"size" yaml:"size"`
	Parent *string                                  `json:"parent" yaml:"parent"`
	Fields *orderedmap.OrderedMap[string, docField] `json:"fields" yaml:"fields"`
}

type docEnum struct {
	Width   int                                   `json:"width" yaml:"width"`
	Members *orderedmap.OrderedMap[string, int64] `json:"members" yaml:"members"`
}

type docOffset struct {
	Value   uint64 `json:"value" yaml:"value"`
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

type docModule struct {
	Classes *orderedmap.OrderedMap[string, docClass]  `json:"classes" yaml:"classes"`
	Enums   *orderedmap.OrderedMap[string, docEnum]   `json:"enums" yaml:"enums"`
	Offsets *orderedmap.OrderedMap[string, docOffset] `json:"offsets" yaml:"offsets"`
}

// document builds the module-keyed tree. Names are kept verbatim since
// both formats quote keys.
func document(m *schema.Model) *orderedmap.OrderedMap[string, docModule] {
	doc := orderedmap.New[string, docModule]()
	for _, mod := range m.Modules {
		dm := docModule{
			Classes: orderedmap.New[string, docClass](),
			Enums:   orderedmap.New[string, docEnum](),
			Offsets: orderedmap.New[string, docOffset](),
		}
		for _, c := range mod.Classes {
			dc := docClass{Size: c.Size, Fields: orderedmap.New[string, docField]()}
			if c.Parent != "" {
				p := c.Parent
				dc.Parent = &p
			}
			for _, f := range c.Fields {
				dc.Fields.Set(f.Name, docField{Offset: f.Offset, Type: f.Type})
			}
			dm.Classes.Set(c.Name, dc)
		}
		for _, e := range mod.Enums {
			de := docEnum{Width: e.Width, Members: orderedmap.New[string, int64]()}
			for _, mem := range e.Members {
				de.Members.Set(mem.Name, mem.Value)
			}
			dm.Enums.Set(e.Name, de)
		}
		for _, o := range mod.Offsets {
			dm.Offsets.Set(o.Name, docOffset{Value: o.Value, Comment: o.Comment})
		}
		doc.Set(mod.Name, dm)
	}
	return doc
}
