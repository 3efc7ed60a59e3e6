package model

import (
	"strings"
	"time"
)

// Node role tags reported by the platform's sync properties.
const (
	NodeTypePrimary   = "PrimaryComputer"
	NodeTypeSecondary = "SecondaryComputer"
)

// NodeDescriptor describes one server participating in the farm.
type NodeDescriptor struct {
	FQDN             string    `json:"fqdn" cbor:"fqdn"`
	CurrentVersion   string    `json:"current_version" cbor:"current_version"`
	CurrentBuild     int       `json:"current_build" cbor:"current_build"`
	ProductName      string    `json:"product_name" cbor:"product_name"`
	InstallationType string    `json:"installation_type" cbor:"installation_type"`
	MajorVersion     int       `json:"major_version" cbor:"major_version"`
	MinorVersion     int       `json:"minor_version" cbor:"minor_version"`
	BehaviorLevel    int       `json:"behavior_level" cbor:"behavior_level"`
	NodeType         string    `json:"node_type" cbor:"node_type"`
	Heartbeat        time.Time `json:"heartbeat" cbor:"heartbeat"`
}

// HeartbeatMinute truncates t to whole minutes, the resolution heartbeats are stored at.
func HeartbeatMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// Matches reports whether the node is identified by name, ignoring case.
func (n NodeDescriptor) Matches(name string) bool {
	return strings.EqualFold(n.FQDN, name)
}

// SameState reports whether n and o are equal apart from their heartbeats.
func (n NodeDescriptor) SameState(o NodeDescriptor) bool {
	n.Heartbeat, o.Heartbeat = time.Time{}, time.Time{}
	return n == o
}

// FarmTopology is the roster of farm nodes. It is owned by Configuration.
type FarmTopology struct {
	Nodes          []NodeDescriptor `json:"nodes" cbor:"nodes"`
	Initialized    bool             `json:"initialized" cbor:"initialized"`
	BehaviorLevel  int              `json:"behavior_level" cbor:"behavior_level"`
	FarmIdentifier string           `json:"farm_identifier" cbor:"farm_identifier"`
}

// Find returns the index of the node with the given FQDN, or -1.
func (t *FarmTopology) Find(fqdn string) int {
	for i := range t.Nodes {
		if t.Nodes[i].Matches(fqdn) {
			return i
		}
	}
	return -1
}

// Upsert replaces the node with the same FQDN in place, or appends it.
// It reports whether the node was newly added.
func (t *FarmTopology) Upsert(node NodeDescriptor) bool {
	node.Heartbeat = HeartbeatMinute(node.Heartbeat)
	if i := t.Find(node.FQDN); i >= 0 {
		t.Nodes[i] = node
		return false
	}
	t.Nodes = append(t.Nodes, node)
	return true
}

// Remove deletes every node matching fqdn and reports whether anything was removed.
func (t *FarmTopology) Remove(fqdn string) bool {
	kept := t.Nodes[:0]
	removed := false
	for _, n := range t.Nodes {
		if n.Matches(fqdn) {
			removed = true
			continue
		}
		kept = append(kept, n)
	}
	t.Nodes = kept
	return removed
}

// Names returns the node FQDNs in registration order.
func (t *FarmTopology) Names() []string {
	names := make([]string, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		names = append(names, n.FQDN)
	}
	return names
}
