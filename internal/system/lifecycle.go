// Package system implements host-side system lifecycle management
// (§4.9): dependency-ordered instantiation from declared SystemDecls,
// VFS projection over lazy per-handle filesystem trees, and drop
// notification bookkeeping.
package system

import (
	"context"
	"fmt"
	"sort"

	"github.com/orchid-lang/corex/internal/driver"
	"github.com/orchid-lang/corex/internal/proto"
	"github.com/orchid-lang/corex/internal/ticket"
)

// Decl pairs a declared system with the extension that offers it and
// that extension's declared priority, so the host can pick the
// highest-priority declaration per name across all loaded extensions.
type Decl struct {
	Ext  ExtensionID
	Decl proto.SystemDecl
}

// ExtensionID identifies one connected extension process, independent of
// any SysId it is later assigned.
type ExtensionID string

// SelectHighestPriority returns, for each distinct system name across
// decls, the declaration with the greatest Priority (ties broken by
// first-seen extension order, matching a stable sort).
func SelectHighestPriority(decls []Decl) map[string]Decl {
	best := make(map[string]Decl)
	for _, d := range decls {
		name := d.Decl.Name
		cur, ok := best[name]
		if !ok || d.Decl.Priority > cur.Decl.Priority {
			best[name] = d
		}
	}
	return best
}

// OrderByDependency returns chosen's names in an order where every
// dependency precedes its dependents. It errors on an unknown dependency
// name or a cycle.
func OrderByDependency(chosen map[string]Decl) ([]string, error) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(chosen))
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("system: dependency cycle involving %q", name)
		}
		color[name] = gray
		d, ok := chosen[name]
		if !ok {
			return fmt.Errorf("system: unknown dependency %q", name)
		}
		deps := append([]string(nil), d.Decl.Depends...)
		sort.Strings(deps) // deterministic traversal; declaration order is preserved in NewSystem's own depends list below
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(chosen))
	for name := range chosen {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Instance is the host's record of one instantiated system.
type Instance struct {
	ID        proto.SysId
	Name      string
	Ext       ExtensionID
	DependsOn []proto.SysId
	LexFilter driver.LexFilter
	Vfs       *VfsTree
}

// ExtSystemLink is how the host asks an extension to instantiate one
// system instance.
type ExtSystemLink interface {
	NewSystem(ctx context.Context, ext ExtensionID, declID proto.SysDeclId, id proto.SysId, depends []proto.SysId) (driver.LexFilter, error)
}

// Manager owns the host's live system instances and assigns fresh SysIds
// in dependency order.
type Manager struct {
	link    ExtSystemLink
	tickets *ticket.Manager

	nextID    uint16
	instances map[proto.SysId]*Instance
	byName    map[string]proto.SysId
}

// NewManager constructs a system manager. tickets may be nil if the
// caller does not need DropSystem to also release outstanding tickets
// (tests commonly omit it).
func NewManager(link ExtSystemLink, tickets *ticket.Manager) *Manager {
	return &Manager{
		link:      link,
		tickets:   tickets,
		instances: make(map[proto.SysId]*Instance),
		byName:    make(map[string]proto.SysId),
	}
}

// Instantiate selects the highest-priority declaration per requested
// name, orders by dependency, and instantiates each in turn, assigning
// fresh SysIds and sending NewSystem with dependency IDs in declaration
// order.
func (m *Manager) Instantiate(ctx context.Context, decls []Decl, requested []string) ([]*Instance, error) {
	chosen := SelectHighestPriority(decls)
	order, err := OrderByDependency(chosen)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(requested))
	for _, name := range requested {
		wanted[name] = true
	}

	var result []*Instance
	for _, name := range order {
		if len(requested) > 0 && !wanted[name] {
			continue
		}
		if _, already := m.byName[name]; already {
			continue
		}
		inst, err := m.instantiateOne(ctx, chosen[name])
		if err != nil {
			return nil, fmt.Errorf("system: instantiate %q: %w", name, err)
		}
		result = append(result, inst)
	}
	return result, nil
}

func (m *Manager) instantiateOne(ctx context.Context, d Decl) (*Instance, error) {
	depIDs := make([]proto.SysId, 0, len(d.Decl.Depends))
	for _, depName := range d.Decl.Depends {
		depID, ok := m.byName[depName]
		if !ok {
			return nil, fmt.Errorf("dependency %q not yet instantiated", depName)
		}
		depIDs = append(depIDs, depID)
	}

	m.nextID++
	id := proto.SysId(m.nextID)

	filter, err := m.link.NewSystem(ctx, d.Ext, d.Decl.ID, id, depIDs)
	if err != nil {
		return nil, err
	}

	inst := &Instance{ID: id, Name: d.Decl.Name, Ext: d.Ext, DependsOn: depIDs, LexFilter: filter, Vfs: NewVfsTree()}
	m.instances[id] = inst
	m.byName[d.Decl.Name] = id
	return inst, nil
}

// Lookup returns the instance for id, if live.
func (m *Manager) Lookup(id proto.SysId) (*Instance, bool) {
	inst, ok := m.instances[id]
	return inst, ok
}

// Drop removes the record for id and releases any outstanding ticket
// references it held, per §4.9's SystemDrop rule.
func (m *Manager) Drop(id proto.SysId) {
	inst, ok := m.instances[id]
	if !ok {
		return
	}
	delete(m.instances, id)
	delete(m.byName, inst.Name)
	if m.tickets != nil {
		m.tickets.DropSystem(id)
	}
}

// Live returns the number of currently instantiated systems.
func (m *Manager) Live() int { return len(m.instances) }
