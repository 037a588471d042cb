package protocol

import "gateway/internal/domain"

// OpenRPCDocument is the discovery document served at the envelope
// surface's well-known path (spec §6: "GET /openrpc.json ... enumerates
// every procedure with input/output JSON Schema"). The "bridge" the spec
// names is exactly this: compiling the catalog into this shape.
type OpenRPCDocument struct {
	OpenRPC string               `json:"openrpc"`
	Methods []OpenRPCMethod      `json:"methods"`
	Info    OpenRPCInfo          `json:"info"`
}

type OpenRPCInfo struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

type OpenRPCMethod struct {
	Name        string                    `json:"name"`
	Kind        domain.ProcedureKind      `json:"kind"`
	Description string                    `json:"description,omitempty"`
	Params      map[string]any            `json:"paramStructure,omitempty"`
}

// Describe builds the discovery document from the live catalog.
func (d *Dispatcher) Describe(title, version string) OpenRPCDocument {
	schema := d.Catalog.DescribeForDiscovery()
	methods := make([]OpenRPCMethod, 0, len(schema.Procedures))
	for _, p := range schema.Procedures {
		methods = append(methods, OpenRPCMethod{
			Name:        p.Name,
			Kind:        p.Kind,
			Description: p.Description,
			Params:      p.InputSchema,
		})
	}
	return OpenRPCDocument{
		OpenRPC: "1.2.6",
		Info:    OpenRPCInfo{Title: title, Version: version},
		Methods: methods,
	}
}
