package crdt

import (
	"encoding/json"
	"sort"
)

// The default engine binding: a position-ordered text replica. Every atom
// carries a position identifier; atoms sort lexicographically by pid, and
// deletes leave tombstones so they commute with concurrent inserts. Clients
// generate pids that sort between their neighbours.

const (
	ActionInsert = "insert"
	ActionDelete = "delete"
)

// Op is a single operation inside an update payload.
type Op struct {
	Action string `json:"action"`
	Pid    string `json:"pid"`
	Value  string `json:"value,omitempty"`
}

// EncodeOps marshals ops into update bytes accepted by TextReplica.
func EncodeOps(ops []Op) ([]byte, error) {
	return json.Marshal(ops)
}

type atom struct {
	Pid     string `json:"pid"`
	Value   string `json:"value"`
	Deleted bool   `json:"deleted,omitempty"`
}

type TextReplica struct {
	atoms map[string]*atom
}

type TextEngine struct{}

func NewTextEngine() *TextEngine {
	return &TextEngine{}
}

func (e *TextEngine) New() Replica {
	return &TextReplica{atoms: make(map[string]*atom)}
}

func (e *TextEngine) Restore(snapshot []byte) (Replica, error) {
	r := &TextReplica{atoms: make(map[string]*atom)}
	if len(snapshot) == 0 {
		return r, nil
	}

	var atoms []atom
	if err := json.Unmarshal(snapshot, &atoms); err != nil {
		return nil, ErrRejected
	}
	for i := range atoms {
		a := atoms[i]
		r.atoms[a.Pid] = &a
	}
	return r, nil
}

func (r *TextReplica) ApplyUpdate(update []byte) error {
	var ops []Op
	if err := json.Unmarshal(update, &ops); err != nil {
		return ErrRejected
	}

	// validate before mutating so a bad op can't leave a partial apply
	for _, op := range ops {
		if op.Pid == "" {
			return ErrRejected
		}
		if op.Action != ActionInsert && op.Action != ActionDelete {
			return ErrRejected
		}
	}

	for _, op := range ops {
		switch op.Action {
		case ActionInsert:
			if existing, ok := r.atoms[op.Pid]; ok {
				// duplicate delivery, or an insert arriving after its own
				// delete: keep the tombstone but record the value so both
				// delivery orders encode identically
				if existing.Value == "" {
					existing.Value = op.Value
				}
				continue
			}
			r.atoms[op.Pid] = &atom{Pid: op.Pid, Value: op.Value}
		case ActionDelete:
			if existing, ok := r.atoms[op.Pid]; ok {
				existing.Deleted = true
			} else {
				// tombstone ahead of the insert it deletes
				r.atoms[op.Pid] = &atom{Pid: op.Pid, Deleted: true}
			}
		}
	}
	return nil
}

func (r *TextReplica) EncodeState() []byte {
	atoms := make([]atom, 0, len(r.atoms))
	for _, a := range r.atoms {
		atoms = append(atoms, *a)
	}
	sort.Slice(atoms, func(i, j int) bool {
		return atoms[i].Pid < atoms[j].Pid
	})

	buf, err := json.Marshal(atoms)
	if err != nil {
		// atoms contain only strings and bools
		panic(err)
	}
	return buf
}

// Text renders the visible document content, tombstones excluded.
func (r *TextReplica) Text() string {
	atoms := make([]*atom, 0, len(r.atoms))
	for _, a := range r.atoms {
		if !a.Deleted {
			atoms = append(atoms, a)
		}
	}
	sort.Slice(atoms, func(i, j int) bool {
		return atoms[i].Pid < atoms[j].Pid
	})

	out := make([]byte, 0, len(atoms))
	for _, a := range atoms {
		out = append(out, a.Value...)
	}
	return string(out)
}
