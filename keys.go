package eventbus

// keyspace derives the three stream keys, the anycast group name, and this
// instance's private group name from the bus name and instance id. All key
// derivation is a pure function of (name, id); there is no lookup and no
// membership check.
type keyspace struct {
	prefix string
	id     string
}

func newKeyspace(name, id string) keyspace {
	return keyspace{prefix: "eventbus:" + name + ":", id: id}
}

func (k keyspace) anycastStream() string   { return k.prefix + "anycast" }
func (k keyspace) broadcastStream() string { return k.prefix + "broadcast" }
func (k keyspace) unicastStream(target string) string {
	return k.prefix + "unicast:" + target
}

// anycastGroup is shared by every instance on the bus: it is what turns the
// anycast stream into a competitive queue.
func (k keyspace) anycastGroup() string { return k.prefix + "group" }

// ownGroup is this instance's private cursor, used as both the broadcast
// group (so the instance observes fan-out exactly once) and the unicast
// group (there being exactly one consumer of the private inbox).
func (k keyspace) ownGroup() string { return k.prefix + k.id }

// foreignInstanceID extracts the instance id suffix from a broadcast-stream
// group name of the form prefix+id, or "" if groupName does not belong to
// this keyspace's prefix.
func (k keyspace) foreignInstanceID(groupName string) string {
	if len(groupName) <= len(k.prefix) || groupName[:len(k.prefix)] != k.prefix {
		return ""
	}
	return groupName[len(k.prefix):]
}
