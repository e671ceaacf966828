package state

// Network is a wired network, optionally VLAN-tagged. VLAN ids are unique
// across all networks in a document.
type Network struct {
	// Name is the logical name, set from the document map key.
	Name string `json:"-" yaml:"-"`

	// VLAN is the 802.1Q id. Nil means the untagged default LAN.
	VLAN *int `json:"vlan,omitempty" yaml:"vlan,omitempty" validate:"omitempty,min=1,max=4094"`

	// Subnet is the network CIDR (e.g. "10.20.0.1/24").
	Subnet string `json:"subnet" yaml:"subnet" validate:"required,cidr"`

	// Purpose is the controller network purpose. Valid values come from
	// the schema descriptor's discovered enum set.
	Purpose string `json:"purpose,omitempty" yaml:"purpose,omitempty"`

	// DHCP configures the embedded DHCP server. Nil disables it.
	DHCP *DHCPConfig `json:"dhcp,omitempty" yaml:"dhcp,omitempty"`

	// Isolated blocks traffic to other networks.
	Isolated bool `json:"isolate,omitempty" yaml:"isolate,omitempty"`

	// MulticastDNS enables mDNS reflection on the network.
	MulticastDNS bool `json:"mdns,omitempty" yaml:"mdns,omitempty"`
}

// DHCPConfig is a DHCP range plus resolver addresses.
type DHCPConfig struct {
	Start string   `json:"start" yaml:"start" validate:"required,ip"`
	Stop  string   `json:"stop" yaml:"stop" validate:"required,ip"`
	DNS   []string `json:"dns,omitempty" yaml:"dns,omitempty" validate:"dive,ip"`
}

func (n *Network) Collection() Collection { return CollectionNetwork }
func (n *Network) LogicalName() string    { return n.Name }

func (n *Network) Fields() map[string]any {
	f := map[string]any{
		"name":      n.Name,
		"subnet":    n.Subnet,
		"isolation": n.Isolated,
		"mdns":      n.MulticastDNS,
	}
	if n.VLAN != nil {
		f["vlan"] = *n.VLAN
	}
	if n.Purpose != "" {
		f["purpose"] = n.Purpose
	}
	if n.DHCP != nil {
		f["dhcp_enabled"] = true
		f["dhcp_start"] = n.DHCP.Start
		f["dhcp_stop"] = n.DHCP.Stop
		if len(n.DHCP.DNS) > 0 {
			f["dhcp_dns"] = append([]string(nil), n.DHCP.DNS...)
		}
	} else {
		f["dhcp_enabled"] = false
	}
	return f
}

func (n *Network) References() []Reference { return nil }
func (n *Network) SecretRefs() []*SecretRef {
	return nil
}
