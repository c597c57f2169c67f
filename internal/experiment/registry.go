package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/biosim/internal/integrators"
	"github.com/san-kum/biosim/internal/output"
)

type Registry struct {
	methods map[string]func() integrators.Stepper
	formats map[string]output.Format
}

func NewRegistry() *Registry {
	r := &Registry{
		methods: make(map[string]func() integrators.Stepper),
		formats: make(map[string]output.Format),
	}

	r.methods["euler"] = func() integrators.Stepper { return integrators.NewEuler() }
	r.methods["rk4"] = func() integrators.Stepper { return integrators.NewRK4() }
	r.methods["rk45"] = func() integrators.Stepper { return integrators.NewRK45() }

	r.formats["tsd"] = output.FormatTSD
	r.formats["csv"] = output.FormatCSV

	return r
}

func (r *Registry) GetMethod(name string) (integrators.Stepper, error) {
	fn, ok := r.methods[name]
	if !ok {
		return nil, fmt.Errorf("unknown method: %s", name)
	}
	return fn(), nil
}

func (r *Registry) GetFormat(name string) (output.Format, error) {
	f, ok := r.formats[name]
	if !ok {
		return "", fmt.Errorf("unknown format: %s", name)
	}
	return f, nil
}

func (r *Registry) ListMethods() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
