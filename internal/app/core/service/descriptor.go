package service

import "sort"

// Layer describes where a service sits in the savings engine.
type Layer string

const (
	// LayerEngine covers pure computation and the ledger every other service writes through.
	LayerEngine Layer = "engine"
	// LayerGameplay covers user-facing goal, grid and quest services.
	LayerGameplay Layer = "gameplay"
	// LayerSocial covers cross-user protocols such as the veto court.
	LayerSocial Layer = "social"
)

// Descriptor advertises a service's placement and capabilities. It does not
// change runtime behavior; the API exposes it for operators.
type Descriptor struct {
	Name         string   `json:"name"`
	Domain       string   `json:"domain"`
	Layer        Layer    `json:"layer"`
	Capabilities []string `json:"capabilities,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
}

// WithCapabilities returns a copy of the descriptor with additional
// capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}

// Provider is implemented by services that advertise a descriptor.
type Provider interface {
	Descriptor() Descriptor
}

// Collect gathers descriptors from providers, sorted by layer then name.
func Collect(providers ...Provider) []Descriptor {
	out := make([]Descriptor, 0, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		out = append(out, p.Descriptor())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		return out[i].Name < out[j].Name
	})
	return out
}
