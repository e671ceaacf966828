package state

// Collection identifies one controller collection. Entities are unique by
// logical name within their collection.
type Collection string

const (
	// CollectionNetwork holds wired networks and their VLAN/subnet settings.
	CollectionNetwork Collection = "network"

	// CollectionFirewallZone holds zone definitions for the zone-based firewall.
	CollectionFirewallZone Collection = "firewall_zone"

	// CollectionFirewallGroup holds address and port groups.
	CollectionFirewallGroup Collection = "firewall_group"

	// CollectionRadiusProfile holds RADIUS auth/accounting server profiles.
	CollectionRadiusProfile Collection = "radius_profile"

	// CollectionWifiNetwork holds wireless networks.
	CollectionWifiNetwork Collection = "wifi_network"

	// CollectionPortProfile holds switch port profiles.
	CollectionPortProfile Collection = "port_profile"

	// CollectionTrafficRule holds QoS traffic rules.
	CollectionTrafficRule Collection = "traffic_rule"

	// CollectionFirewallPolicy holds ordered firewall policies.
	CollectionFirewallPolicy Collection = "firewall_policy"

	// CollectionVPN holds WireGuard servers and site-to-site tunnels.
	CollectionVPN Collection = "vpn"

	// CollectionPortForward holds port forwarding rules.
	CollectionPortForward Collection = "port_forward"

	// CollectionDhcpReservation holds static DHCP leases.
	CollectionDhcpReservation Collection = "dhcp_reservation"
)

// Stages is the fixed collection dependency order. Collections in a later
// stage may reference entities in earlier stages; collections within the
// same stage never reference each other. Creates and updates walk the
// stages forward, deletes walk them in reverse.
var Stages = [][]Collection{
	{CollectionNetwork},
	{CollectionFirewallZone},
	{CollectionFirewallGroup},
	{CollectionRadiusProfile},
	{
		CollectionWifiNetwork,
		CollectionPortProfile,
		CollectionTrafficRule,
		CollectionFirewallPolicy,
		CollectionVPN,
		CollectionPortForward,
		CollectionDhcpReservation,
	},
}

// StageOf returns the stage index of a collection, or -1 for an unknown
// (schema-backed) collection. Schema-backed collections carry no typed
// references and are placed in the final stage by the diff engine.
func StageOf(c Collection) int {
	for i, stage := range Stages {
		for _, sc := range stage {
			if sc == c {
				return i
			}
		}
	}
	return -1
}

// Canonical collections in stage order, flattened.
func CanonicalCollections() []Collection {
	out := make([]Collection, 0, 11)
	for _, stage := range Stages {
		out = append(out, stage...)
	}
	return out
}

// Management marker written into every document this tool creates. Live
// entities without the marker are never deleted, whatever the desired
// state says.
const (
	ManagedByField = "managed_by"
	ManagedByValue = "converge"
)

// Reference is a by-name link from one entity to another. Field is the
// wire field carrying the target's logical name, so the apply engine can
// rewrite it to a device-assigned id.
type Reference struct {
	Collection Collection `json:"collection"`
	Name       string     `json:"name"`
	Field      string     `json:"field"`
}

// Entity is the common surface of every canonical desired-state object.
type Entity interface {
	// Collection returns the collection this entity belongs to.
	Collection() Collection

	// LogicalName returns the user-chosen name identifying the entity
	// across runs, independent of any device-assigned id.
	LogicalName() string

	// Fields returns the canonical wire representation used for diffing
	// and for create/update payloads. Reference fields carry logical
	// names; the apply engine rewrites them to device ids.
	Fields() map[string]any

	// References returns every by-name link to another entity.
	References() []Reference

	// SecretRefs returns every secret indirection in the entity, for the
	// batched resolution pass.
	SecretRefs() []*SecretRef
}
