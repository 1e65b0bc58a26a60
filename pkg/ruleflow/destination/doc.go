// Package destination fans processed profile changes out to external
// destinations.
//
// A Destination names an adapter by path ("namespace.Name"), the Resource
// holding its connection settings, an optional condition and a mapping that
// shapes the outbound payload. Adapters are looked up in a Registry that is
// filled at startup:
//
//	reg := destination.NewRegistry()
//	reg.MustRegister("crm.HubSpot", newHubSpot)
//
//	m, err := destination.NewManager(reg, resources,
//	    destination.WithPostpone(30*time.Second),
//	)
//	err = m.Send(ctx, scope, destinations, profile.ID, events, delta, false)
//
// Send walks the destinations in order. A disabled resource or an adapter
// that cannot be resolved fails the whole call and the remaining
// destinations are not attempted.
package destination
