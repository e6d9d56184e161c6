// Package eventbus implements a distributed event bus on top of Redis
// Streams. Instances discover each other implicitly through the shared
// store: there is no registry, no heartbeat protocol, and no leader.
//
// Every publish picks one of three delivery disciplines: broadcast (every
// live subscribing instance), unicast (one named instance), or anycast (one
// arbitrary live subscriber, competitively consumed off a shared queue).
package eventbus
