package profiler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/runsystem/internal/disasm"
)

// Factory builds an adapter that logs through logger.
type Factory func(logger *slog.Logger) Adapter

// Registry maps adapter names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in adapters:
//
//	oprofile        flat ordinals, time and LLC misses
//	oprofile-bytes  byte-delta ordinals, time only
//	oprofile-jumps  jump-aware ordinals, time and LLC misses
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.mustRegister(oprofileFactory("oprofile", disasm.FlatStep{}, true, ""))
	r.mustRegister(oprofileFactory("oprofile-bytes", disasm.ByteDeltaStep{}, false, ""))
	r.mustRegister(oprofileFactory("oprofile-jumps", disasm.JumpAwareStep{}, true, ""))
	return r
}

func oprofileFactory(name string, c disasm.Classifier, llc bool, counter string) (string, Factory) {
	return name, func(logger *slog.Logger) Adapter {
		return &Oprofile{AdapterName: name, Classifier: c, LLC: llc, Counter: counter, Logger: logger}
	}
}

func (r *Registry) mustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Register adds a named factory. Names are unique.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" {
		return errors.New("register adapter: empty name")
	}
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("register adapter: %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Get returns the factory for name.
func (r *Registry) Get(name string) (Factory, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown profiler adapter %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f, nil
}

// Names lists the registered adapter names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Descriptor defines an adapter variant in YAML.
type Descriptor struct {
	Name string `yaml:"name"`
	// Base is the family the variant belongs to. Only "oprofile" exists.
	Base       string `yaml:"base"`
	Classifier string `yaml:"classifier"`
	LLC        bool   `yaml:"llc"`
	Counter    string `yaml:"counter"`
}

// LoadDir registers the variant described by every *.yaml file in dir,
// in file name order. It returns the names it registered.
func (r *Registry) LoadDir(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan adapter dir: %w", err)
	}
	sort.Strings(paths)

	var added []string
	for _, p := range paths {
		d, err := readDescriptor(p)
		if err != nil {
			return added, err
		}
		name, f, err := d.factory()
		if err != nil {
			return added, fmt.Errorf("%s: %w", p, err)
		}
		if err := r.Register(name, f); err != nil {
			return added, fmt.Errorf("%s: %w", p, err)
		}
		added = append(added, name)
	}
	return added, nil
}

func readDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read adapter descriptor: %w", err)
	}
	var d Descriptor
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil && !errors.Is(err, io.EOF) {
		return Descriptor{}, fmt.Errorf("parse adapter descriptor %s: %w", path, err)
	}
	return d, nil
}

func (d Descriptor) factory() (string, Factory, error) {
	if d.Name == "" {
		return "", nil, errors.New("adapter descriptor has no name")
	}
	base := d.Base
	if base == "" {
		base = "oprofile"
	}
	if base != "oprofile" {
		return "", nil, fmt.Errorf("adapter %s: unknown base %q", d.Name, d.Base)
	}
	cname := d.Classifier
	if cname == "" {
		cname = disasm.FlatStep{}.Name()
	}
	c, err := disasm.ClassifierByName(cname)
	if err != nil {
		return "", nil, fmt.Errorf("adapter %s: %w", d.Name, err)
	}
	name, f := oprofileFactory(d.Name, c, d.LLC, d.Counter)
	return name, f, nil
}
