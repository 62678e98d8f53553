package container

import (
	"errors"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// InjectionReport lists what a checkpoint injection applied and rejected.
type InjectionReport struct {
	Applied  []string
	Rejected []RejectedProperty
}

// RejectedProperty is a property the component refused during injection.
type RejectedProperty struct {
	Name string
	Err  error
}

// OK reports whether every property was applied.
func (r InjectionReport) OK() bool { return len(r.Rejected) == 0 }

// Checkpoint reads every declared interface property of the component, in
// declaration order. Any read failure fails the whole checkpoint.
func (c *Container) Checkpoint() (ir.Checkpoint, error) {
	inst := c.Instance()
	if inst == nil {
		return ir.Checkpoint{}, ErrRemoved
	}
	cp := ir.Checkpoint{
		InstanceID:  c.item.InstanceID,
		ComponentID: c.item.ComponentID,
		Properties:  make([]ir.CheckpointProperty, 0, len(c.desc.Properties)),
	}
	for _, decl := range c.desc.Properties {
		v, err := inst.GetProperty(decl.Name)
		if err != nil {
			return ir.Checkpoint{}, &PropertyError{Item: c.item, Name: decl.Name, Err: err}
		}
		if v == nil {
			v = ir.Null{}
		}
		cp.Properties = append(cp.Properties, ir.CheckpointProperty{
			Name:  decl.Name,
			Value: v,
			Type:  decl.Type,
		})
	}
	return cp, nil
}

var errUndeclared = errors.New("property not declared by component")

// inject sets properties in order, continuing past failures.
func (c *Container) inject(props []ir.CheckpointProperty) InjectionReport {
	var report InjectionReport
	inst := c.Instance()
	if inst == nil {
		return report
	}
	for _, p := range props {
		if _, ok := c.desc.Property(p.Name); !ok {
			report.Rejected = append(report.Rejected, RejectedProperty{Name: p.Name, Err: errUndeclared})
			continue
		}
		if err := inst.SetProperty(p.Name, p.Value); err != nil {
			report.Rejected = append(report.Rejected, RejectedProperty{Name: p.Name, Err: err})
			continue
		}
		report.Applied = append(report.Applied, p.Name)
	}
	return report
}
