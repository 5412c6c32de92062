package service

// NewGeneric returns a minimal pass-through implementation with no-op
// lifecycle hooks. The registry falls back to it when no factory is
// registered for a descriptor's type, so experimental service types degrade
// gracefully instead of failing creation.
func NewGeneric(desc Descriptor, deps Dependencies) *Instance {
	return NewInstance(desc, Hooks{}, deps)
}
