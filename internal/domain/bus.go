package domain

// EventBus carries normalized inbound events from adapters to the router.
type EventBus interface {
	Publish(ev Event)
	Subscribe() <-chan Event
	Close()
}
