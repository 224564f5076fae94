// Package routing renders the reverse proxy's file-provider declaration
// from the active slot and replaces it on disk in one step.
package routing

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/loykin/bluegreen/internal/slot"
	"gopkg.in/yaml.v3"
)

const (
	EntryPointPrimary = "web"
	EntryPointPreview = "web2"

	RouterPrimary = "web"
	RouterPreview = "test"

	ServiceActive    = "s-active"
	ServiceNonActive = "s-non-active"
)

// Declaration is the subset of Traefik's dynamic configuration this
// manager generates.
type Declaration struct {
	HTTP HTTPConfig `yaml:"http"`
}

type HTTPConfig struct {
	Routers  map[string]Router  `yaml:"routers"`
	Services map[string]Service `yaml:"services"`
}

type Router struct {
	EntryPoints []string `yaml:"entryPoints"`
	Rule        string   `yaml:"rule"`
	Service     string   `yaml:"service"`
}

type Service struct {
	Weighted     *Weighted     `yaml:"weighted,omitempty"`
	LoadBalancer *LoadBalancer `yaml:"loadBalancer,omitempty"`
}

type Weighted struct {
	Services []WeightedService `yaml:"services"`
}

type WeightedService struct {
	Name   string `yaml:"name"`
	Weight int    `yaml:"weight"`
}

type LoadBalancer struct {
	Servers []Server `yaml:"servers"`
}

type Server struct {
	URL string `yaml:"url"`
}

// ServiceName is the per-slot backend service, e.g. s-server1.
func ServiceName(s slot.Slot) string { return "s-" + string(s) }

// Writer owns the declaration file.
type Writer struct {
	Path string
	// Upstreams maps each slot to the URL the proxy forwards to.
	Upstreams map[slot.Slot]string
}

// NewWriter builds a Writer whose upstreams are http://localhost:<port>.
func NewWriter(path string, ports map[slot.Slot]int) *Writer {
	up := make(map[slot.Slot]string, len(ports))
	for s, p := range ports {
		up[s] = "http://localhost:" + strconv.Itoa(p)
	}
	return &Writer{Path: path, Upstreams: up}
}

// Build returns the declaration for active: the primary route weighs the
// active slot 1 and the other 0, the preview route the inverse.
func (w *Writer) Build(active slot.Slot) Declaration {
	primary := make([]WeightedService, 0, 2)
	preview := make([]WeightedService, 0, 2)
	services := make(map[string]Service, 4)
	for _, s := range slot.All() {
		on := 0
		if s == active {
			on = 1
		}
		primary = append(primary, WeightedService{Name: ServiceName(s), Weight: on})
		preview = append(preview, WeightedService{Name: ServiceName(s), Weight: 1 - on})
		services[ServiceName(s)] = Service{LoadBalancer: &LoadBalancer{Servers: []Server{{URL: w.Upstreams[s]}}}}
	}
	services[ServiceActive] = Service{Weighted: &Weighted{Services: primary}}
	services[ServiceNonActive] = Service{Weighted: &Weighted{Services: preview}}

	return Declaration{HTTP: HTTPConfig{
		Routers: map[string]Router{
			RouterPrimary: {EntryPoints: []string{EntryPointPrimary}, Rule: "PathPrefix(`/`)", Service: ServiceActive},
			RouterPreview: {EntryPoints: []string{EntryPointPreview}, Rule: "PathPrefix(`/`)", Service: ServiceNonActive},
		},
		Services: services,
	}}
}

func (w *Writer) Render(active slot.Slot) ([]byte, error) {
	if !active.Valid() {
		return nil, fmt.Errorf("%w: %q", slot.ErrUnknownSlot, active)
	}
	return yaml.Marshal(w.Build(active))
}

// Write renders the declaration and replaces the file atomically so the
// proxy never reads a partial declaration.
func (w *Writer) Write(active slot.Slot) error {
	b, err := w.Render(active)
	if err != nil {
		return err
	}
	return replaceFile(w.Path, b, 0o644)
}

// replaceFile writes data to a temp file next to path, syncs it and renames
// it over path.
func replaceFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(name, perm); err != nil {
		return err
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
