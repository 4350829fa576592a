package registry

// Service is a long-running component started and stopped by the service registry,
// such as position tracking, the navigation follower or the track publisher.
// Start must fail without side effects when the service cannot run, and Stop must
// release everything Start acquired.
type Service interface {
	Start() error
	Stop() error
}
