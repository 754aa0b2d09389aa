package events

// clearable is the part of a slot the owner needs at teardown.
type clearable interface {
	Clear()
}

// Group tracks the slots of one owner so its destruction can clear
// them all. Slots are tracked at construction time, before any
// concurrent use.
type Group struct {
	slots []clearable
}

// Track adds a slot to the group and returns it for chaining into a
// struct literal.
func Track[S clearable](g *Group, s S) S {
	g.slots = append(g.slots, s)
	return s
}

// ClearAll removes every listener from every tracked slot.
func (g *Group) ClearAll() {
	for _, s := range g.slots {
		s.Clear()
	}
}
