package reservation

// ConcreteSet is the opaque, role-specific payload carried alongside a
// ResourceSet once it has been bound to real resources — a ticket on the
// client/broker side, a lease on the authority side. The engine never
// inspects it; it only calls through this capability interface at the
// setup/probe/close points of the join-state machine.
type ConcreteSet interface {
	// Kind identifies the concrete-set implementation for logging/diagnostics.
	Kind() string

	// Setup is invoked once when a reservation transitions into Priming. A
	// non-nil error fails the reservation.
	Setup() error

	// Probe is invoked (possibly repeatedly) while priming, until it reports
	// readiness. A non-nil error fails the reservation.
	Probe() (ready bool, err error)

	// Close releases the concrete resources. Invoked when the reservation
	// moves out of Active and into Closing.
	Close() error
}

// ResourceSet describes a quantity of a resource type plus its negotiated
// properties. Requested and Approved resource sets travel alongside a
// reservation's requested/approved Term.
type ResourceSet struct {
	ResourceType        string
	Units                int64
	RequestProperties    map[string]string
	ResourceProperties   map[string]string
	Concrete             ConcreteSet
}

// NewResourceSet constructs a ResourceSet with empty property maps.
func NewResourceSet(resourceType string, units int64) ResourceSet {
	return ResourceSet{
		ResourceType:       resourceType,
		Units:              units,
		RequestProperties:  map[string]string{},
		ResourceProperties: map[string]string{},
	}
}

// WithConcrete returns a copy of the ResourceSet bound to a concrete set.
func (r ResourceSet) WithConcrete(c ConcreteSet) ResourceSet {
	r.Concrete = c
	return r
}

// IsBound reports whether the resource set has a concrete payload attached.
func (r ResourceSet) IsBound() bool {
	return r.Concrete != nil
}
