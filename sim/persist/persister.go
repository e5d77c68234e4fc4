package persist

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim"
)

// Persister gives a participant the sim.Persistable capability from a
// Schema. Models embed or hold one and forward SaveState/LoadState to it.
type Persister struct {
	Name   string
	Schema *Schema
	Store  Store
	// AfterLoad runs after a successful restore, e.g. to rebuild derived state.
	AfterLoad func() error
}

var _ sim.Persistable = (*Persister)(nil)

func (p *Persister) store() Store {
	if p.Store == nil {
		return FileStore{}
	}
	return p.Store
}

// SaveState writes the schema's current values to path.
func (p *Persister) SaveState(path string) error {
	doc, err := p.Schema.Encode(p.Name)
	if err != nil {
		return &sim.PersistenceError{Op: "save", Path: path, Err: err}
	}
	if err := p.store().Write(path, doc); err != nil {
		return &sim.PersistenceError{Op: "save", Path: path, Err: err}
	}
	logrus.Debugf("%s: saved %d fields to %s", p.Name, len(doc.Fields), path)
	return nil
}

// LoadState restores the schema's values from path. A document written by
// another participant is rejected.
func (p *Persister) LoadState(path string) error {
	doc, err := p.store().Read(path)
	if err != nil {
		return &sim.PersistenceError{Op: "load", Path: path, Err: err}
	}
	if doc.Participant != p.Name {
		return &sim.PersistenceError{Op: "load", Path: path,
			Err: fmt.Errorf("state belongs to %q", doc.Participant)}
	}
	if err := p.Schema.Decode(doc); err != nil {
		return &sim.PersistenceError{Op: "load", Path: path, Err: err}
	}
	if p.AfterLoad != nil {
		if err := p.AfterLoad(); err != nil {
			return &sim.PersistenceError{Op: "load", Path: path, Err: err}
		}
	}
	logrus.Debugf("%s: restored %d fields from %s", p.Name, len(doc.Fields), path)
	return nil
}
