package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/persist"
)

// Spec is what a factory gets to build one participant.
type Spec struct {
	Name string
	// Options holds the model-specific YAML block, if any.
	Options yaml.Node
	// Store receives the participant's checkpoints. Nil means files.
	Store persist.Store
}

// DecodeOptions strictly decodes the Options block into out. An absent
// block leaves out untouched.
func (s Spec) DecodeOptions(out any) error {
	if s.Options.Kind == 0 {
		return nil
	}
	data, err := yaml.Marshal(&s.Options)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s options: %w", s.Name, err)
	}
	return nil
}

// Factory builds a participant from its spec.
type Factory func(spec Spec) (sim.Participant, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a model kind available to New. It is called from init
// functions; registering a kind twice panics.
func Register(kind string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("model: kind %q registered twice", kind))
	}
	factories[kind] = f
}

// New builds a participant of the given kind.
func New(kind string, spec Spec) (sim.Participant, error) {
	factoriesMu.RLock()
	f, ok := factories[kind]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model kind %q (known: %v)", kind, Kinds())
	}
	if spec.Name == "" {
		return nil, fmt.Errorf("model of kind %q without name", kind)
	}
	return f(spec)
}

// Kinds lists the registered model kinds.
func Kinds() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
