// Package directory is the static lookup of the operator pool and the
// administrator. It is built once from configuration and read-only afterward.
package directory

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/user/switchboard/internal/types"
)

// Operator is one member of the support pool.
type Operator struct {
	ID   types.OperatorID
	Name string
}

type Directory struct {
	admin types.OperatorID
	ops   []Operator
	names map[types.OperatorID]string
}

// New parses operator "id:name" pairs. Malformed pairs are logged and
// skipped rather than failing startup.
func New(admin types.OperatorID, pairs []string) *Directory {
	d := &Directory{
		admin: admin,
		names: make(map[types.OperatorID]string),
	}
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			slog.Warn("skipping malformed operator pair", "pair", pair)
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			slog.Warn("skipping operator with bad id", "pair", pair, "error", err)
			continue
		}
		op := Operator{ID: types.OperatorID(id), Name: strings.TrimSpace(parts[1])}
		d.ops = append(d.ops, op)
		d.names[op.ID] = op.Name
	}
	return d
}

func (d *Directory) Admin() types.OperatorID { return d.admin }

// IsOperator reports whether id may claim and work requests. The admin
// always may; they are the fan-out fallback when the pool is empty.
func (d *Directory) IsOperator(id types.OperatorID) bool {
	if id == d.admin {
		return true
	}
	_, ok := d.names[id]
	return ok
}

// Name returns the display name for an operator, with a generic fallback
// for unknown ids.
func (d *Directory) Name(id types.OperatorID) string {
	if name, ok := d.names[id]; ok {
		return name
	}
	return fmt.Sprintf("Operator %d", id)
}

// Operators returns a copy of the pool.
func (d *Directory) Operators() []Operator {
	out := make([]Operator, len(d.ops))
	copy(out, d.ops)
	return out
}

// Recipients returns the ids that receive fan-out notices and reminders:
// the operator pool, or the admin alone when no operators are configured.
func (d *Directory) Recipients() []types.OperatorID {
	if len(d.ops) == 0 {
		return []types.OperatorID{d.admin}
	}
	ids := make([]types.OperatorID, len(d.ops))
	for i, op := range d.ops {
		ids[i] = op.ID
	}
	return ids
}
