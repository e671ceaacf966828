package state

import "fmt"

// FirewallZone groups networks for the zone-based firewall.
type FirewallZone struct {
	Name string `json:"-" yaml:"-"`

	// Networks lists logical names of member networks.
	Networks []string `json:"networks,omitempty" yaml:"networks,omitempty" validate:"dive,required"`
}

func (z *FirewallZone) Collection() Collection { return CollectionFirewallZone }
func (z *FirewallZone) LogicalName() string    { return z.Name }

func (z *FirewallZone) Fields() map[string]any {
	f := map[string]any{"name": z.Name}
	if len(z.Networks) > 0 {
		f["networks"] = append([]string(nil), z.Networks...)
	}
	return f
}

func (z *FirewallZone) References() []Reference {
	refs := make([]Reference, 0, len(z.Networks))
	for _, n := range z.Networks {
		refs = append(refs, Reference{Collection: CollectionNetwork, Name: n, Field: "networks"})
	}
	return refs
}

func (z *FirewallZone) SecretRefs() []*SecretRef { return nil }

// FirewallGroup is a reusable address or port set.
type FirewallGroup struct {
	Name string `json:"-" yaml:"-"`

	// Type is "address" or "port".
	Type string `json:"type" yaml:"type" validate:"required,oneof=address port"`

	// Members are IPs/CIDRs for address groups, ports or ranges for port
	// groups.
	Members []string `json:"members" yaml:"members" validate:"required,min=1,dive,required"`
}

func (g *FirewallGroup) Collection() Collection { return CollectionFirewallGroup }
func (g *FirewallGroup) LogicalName() string    { return g.Name }

func (g *FirewallGroup) Fields() map[string]any {
	return map[string]any{
		"name":    g.Name,
		"type":    g.Type,
		"members": append([]string(nil), g.Members...),
	}
}

func (g *FirewallGroup) References() []Reference  { return nil }
func (g *FirewallGroup) SecretRefs() []*SecretRef { return nil }

// PolicyEndpoint is one side of a firewall policy match.
type PolicyEndpoint struct {
	// Zone is the logical name of the firewall zone.
	Zone string `json:"zone" yaml:"zone" validate:"required"`

	// Type narrows the match within the zone: any, network, ip or group.
	Type string `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=any network ip group"`

	// Network is the logical network name when Type is "network".
	Network string `json:"network,omitempty" yaml:"network,omitempty"`

	// IP is the address or CIDR when Type is "ip".
	IP string `json:"ip,omitempty" yaml:"ip,omitempty"`

	// Group is the logical firewall group name when Type is "group".
	Group string `json:"group,omitempty" yaml:"group,omitempty"`
}

// FirewallPolicy is an ordered rule in the zone-based firewall. Lower index
// means higher evaluation priority; indices are unique in the collection.
type FirewallPolicy struct {
	Name string `json:"-" yaml:"-"`

	// Action is allow, block or reject.
	Action string `json:"action" yaml:"action" validate:"required,oneof=allow block reject"`

	Source      PolicyEndpoint `json:"source" yaml:"source"`
	Destination PolicyEndpoint `json:"destination" yaml:"destination"`

	// Protocol is the matched protocol (all, tcp, udp, tcp_udp, icmp).
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty" validate:"omitempty,oneof=all tcp udp tcp_udp icmp"`

	// Port is a destination port or range ("443", "8000-8080").
	Port string `json:"port,omitempty" yaml:"port,omitempty"`

	// Index is the ordering key, unique within the collection.
	Index int `json:"index" yaml:"index" validate:"required,min=1"`

	// Enabled defaults to true in documents; a disabled policy stays on
	// the device but matches nothing.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

func (p *FirewallPolicy) Collection() Collection { return CollectionFirewallPolicy }
func (p *FirewallPolicy) LogicalName() string    { return p.Name }

func (p *FirewallPolicy) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

func endpointFields(prefix string, e PolicyEndpoint, f map[string]any) {
	f[prefix+"_zone"] = e.Zone
	if e.Type != "" {
		f[prefix+"_type"] = e.Type
	}
	if e.Network != "" {
		f[prefix+"_network"] = e.Network
	}
	if e.IP != "" {
		f[prefix+"_ip"] = e.IP
	}
	if e.Group != "" {
		f[prefix+"_group"] = e.Group
	}
}

func (p *FirewallPolicy) Fields() map[string]any {
	f := map[string]any{
		"name":    p.Name,
		"action":  p.Action,
		"index":   p.Index,
		"enabled": p.IsEnabled(),
	}
	endpointFields("src", p.Source, f)
	endpointFields("dst", p.Destination, f)
	if p.Protocol != "" {
		f["protocol"] = p.Protocol
	}
	if p.Port != "" {
		f["port"] = p.Port
	}
	return f
}

func endpointRefs(prefix string, e PolicyEndpoint) []Reference {
	refs := []Reference{{Collection: CollectionFirewallZone, Name: e.Zone, Field: prefix + "_zone"}}
	if e.Network != "" {
		refs = append(refs, Reference{Collection: CollectionNetwork, Name: e.Network, Field: prefix + "_network"})
	}
	if e.Group != "" {
		refs = append(refs, Reference{Collection: CollectionFirewallGroup, Name: e.Group, Field: prefix + "_group"})
	}
	return refs
}

func (p *FirewallPolicy) References() []Reference {
	return append(endpointRefs("src", p.Source), endpointRefs("dst", p.Destination)...)
}

func (p *FirewallPolicy) SecretRefs() []*SecretRef { return nil }

// Describe returns a short human-readable identity for error messages.
func (p *FirewallPolicy) Describe() string {
	return fmt.Sprintf("%s (index %d)", p.Name, p.Index)
}
