// Package factory builds modules, degradation models and metrics sinks, from
// a type name plus a free-form settings map. Each registry maps type names to
// constructors that decode their settings with Decode:
//
//	reg := degradation.NewRegistry()
//	m, err := reg.Create(factory.ModuleConfig{Type: "power_law", Conf: map[string]any{"name": "pl"}})
package factory
