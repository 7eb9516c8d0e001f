// Package restrict computes the command and variable restrictions attached
// to a step's execution context. Restrictions arrive from up to three
// sources: the task manifest, the step target, and the step's own settings.
// Merging is most-restrictive-wins and order-independent.
package restrict

import "strings"

// Mode limits which agent commands a step may issue.
type Mode int

const (
	// Unrestricted places no limit on commands.
	Unrestricted Mode = iota
	// Restricted allows only the safe command subset.
	Restricted
)

func (m Mode) String() string {
	if m == Restricted {
		return "restricted"
	}
	return "unrestricted"
}

// Restrictions is one source's declaration, before merging.
type Restrictions struct {
	// Mode applies only when ModeSet is true; a source that says nothing
	// about commands must not win a merge against Restricted.
	Mode    Mode
	ModeSet bool
	// SettableVariables lists variable names the source allows steps to
	// set. Nil means the source does not limit variables at all, which is
	// different from an empty list (nothing settable).
	SettableVariables []string
}

// Descriptor is the immutable merged policy attached to a context.
type Descriptor struct {
	mode            Mode
	limitsVariables bool
	allowed         []string
}

// Unrestricted descriptor, used when no source declares anything.
var none = Descriptor{}

// Resolve merges the task manifest restrictions, the step target mode and
// the step's own settable-variable list into one descriptor. Pure function.
func Resolve(manifest *Restrictions, target *Restrictions, stepSettable []string) Descriptor {
	d := none
	if manifest != nil {
		d = merge(d, fromSource(*manifest))
	}
	if target != nil {
		d = merge(d, fromSource(*target))
	}
	if stepSettable != nil {
		d = merge(d, Descriptor{limitsVariables: true, allowed: stepSettable})
	}
	return d
}

func fromSource(r Restrictions) Descriptor {
	d := Descriptor{}
	if r.ModeSet {
		d.mode = r.Mode
	}
	if r.SettableVariables != nil {
		d.limitsVariables = true
		d.allowed = r.SettableVariables
	}
	return d
}

// merge combines two descriptors: Restricted beats Unrestricted, and
// allow-lists concatenate: a variable present in either source's list stays
// settable. Associative and commutative up to list ordering.
func merge(a, b Descriptor) Descriptor {
	out := Descriptor{mode: a.mode}
	if b.mode == Restricted {
		out.mode = Restricted
	}

	out.limitsVariables = a.limitsVariables || b.limitsVariables
	if out.limitsVariables {
		out.allowed = append(append([]string{}, a.allowed...), b.allowed...)
	}
	return out
}

// CommandMode returns the merged command mode.
func (d Descriptor) CommandMode() Mode {
	return d.mode
}

// LimitsVariables reports whether any source constrained variable writes.
func (d Descriptor) LimitsVariables() bool {
	return d.limitsVariables
}

// CanSetVariable reports whether a step governed by this descriptor may set
// the named variable. Names compare case-insensitively.
func (d Descriptor) CanSetVariable(name string) bool {
	if !d.limitsVariables {
		return true
	}
	for _, allowed := range d.allowed {
		if strings.EqualFold(allowed, name) {
			return true
		}
	}
	return false
}

// SettableVariables returns a copy of the merged allow-list.
func (d Descriptor) SettableVariables() []string {
	return append([]string{}, d.allowed...)
}
