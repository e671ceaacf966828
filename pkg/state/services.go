package state

// TrafficRule is a QoS rule. An absent network reference applies the rule to
// all networks. Indices are unique within the collection.
type TrafficRule struct {
	Name string `json:"-" yaml:"-"`

	// Action is limit or block.
	Action string `json:"action" yaml:"action" validate:"required,oneof=limit block"`

	// Match selects the traffic the rule applies to.
	Match TrafficMatch `json:"match" yaml:"match"`

	// Network optionally scopes the rule to one network.
	Network string `json:"network,omitempty" yaml:"network,omitempty"`

	// DownloadKbps/UploadKbps bound throughput for limit rules.
	DownloadKbps int `json:"downloadKbps,omitempty" yaml:"downloadKbps,omitempty" validate:"omitempty,min=1"`
	UploadKbps   int `json:"uploadKbps,omitempty" yaml:"uploadKbps,omitempty" validate:"omitempty,min=1"`

	// Index is the ordering key, unique within the collection.
	Index int `json:"index" yaml:"index" validate:"required,min=1"`
}

// TrafficMatch is the matching target of a traffic rule.
type TrafficMatch struct {
	// Type is domain, ip, app or category.
	Type string `json:"type" yaml:"type" validate:"required,oneof=domain ip app category"`

	// Value is the domain, address, application or category identifier.
	Value string `json:"value" yaml:"value" validate:"required"`
}

func (t *TrafficRule) Collection() Collection { return CollectionTrafficRule }
func (t *TrafficRule) LogicalName() string    { return t.Name }

func (t *TrafficRule) Fields() map[string]any {
	f := map[string]any{
		"name":        t.Name,
		"action":      t.Action,
		"match_type":  t.Match.Type,
		"match_value": t.Match.Value,
		"index":       t.Index,
	}
	if t.Network != "" {
		f["network"] = t.Network
	}
	if t.DownloadKbps > 0 {
		f["download_kbps"] = t.DownloadKbps
	}
	if t.UploadKbps > 0 {
		f["upload_kbps"] = t.UploadKbps
	}
	return f
}

func (t *TrafficRule) References() []Reference {
	if t.Network == "" {
		return nil
	}
	return []Reference{{Collection: CollectionNetwork, Name: t.Network, Field: "network"}}
}

func (t *TrafficRule) SecretRefs() []*SecretRef { return nil }

// RadiusServer is one RADIUS endpoint with its shared secret.
type RadiusServer struct {
	Host   string    `json:"host" yaml:"host" validate:"required"`
	Port   int       `json:"port" yaml:"port" validate:"required,min=1,max=65535"`
	Secret SecretRef `json:"secret" yaml:"secret"`
}

// RadiusProfile is a set of RADIUS auth and accounting servers.
type RadiusProfile struct {
	Name string `json:"-" yaml:"-"`

	AuthServers []RadiusServer `json:"authServers" yaml:"authServers" validate:"required,min=1,dive"`
	AcctServers []RadiusServer `json:"acctServers,omitempty" yaml:"acctServers,omitempty" validate:"dive"`
}

func (r *RadiusProfile) Collection() Collection { return CollectionRadiusProfile }
func (r *RadiusProfile) LogicalName() string    { return r.Name }

func radiusServerFields(servers []RadiusServer) []map[string]any {
	out := make([]map[string]any, 0, len(servers))
	for i := range servers {
		s := map[string]any{"host": servers[i].Host, "port": servers[i].Port}
		if v, ok := servers[i].Secret.Reveal(); ok {
			s["secret"] = v
		}
		out = append(out, s)
	}
	return out
}

func (r *RadiusProfile) Fields() map[string]any {
	f := map[string]any{
		"name":         r.Name,
		"auth_servers": radiusServerFields(r.AuthServers),
	}
	if len(r.AcctServers) > 0 {
		f["acct_servers"] = radiusServerFields(r.AcctServers)
	}
	return f
}

func (r *RadiusProfile) References() []Reference { return nil }

func (r *RadiusProfile) SecretRefs() []*SecretRef {
	refs := make([]*SecretRef, 0, len(r.AuthServers)+len(r.AcctServers))
	for i := range r.AuthServers {
		refs = append(refs, &r.AuthServers[i].Secret)
	}
	for i := range r.AcctServers {
		refs = append(refs, &r.AcctServers[i].Secret)
	}
	return refs
}

// PortProfile is a switch port profile.
type PortProfile struct {
	Name string `json:"-" yaml:"-"`

	// Forward is the forwarding mode: all, native or custom.
	Forward string `json:"forward" yaml:"forward" validate:"required,oneof=all native custom"`

	// NativeNetwork is the untagged network on the port.
	NativeNetwork string `json:"nativeNetwork,omitempty" yaml:"nativeNetwork,omitempty"`

	// TaggedNetworks lists networks trunked onto the port (custom mode).
	TaggedNetworks []string `json:"taggedNetworks,omitempty" yaml:"taggedNetworks,omitempty" validate:"dive,required"`

	// PoEMode is auto, off or passive24.
	PoEMode string `json:"poeMode,omitempty" yaml:"poeMode,omitempty" validate:"omitempty,oneof=auto off passive24"`

	// StormControl bounds broadcast/multicast rates, percent of line rate.
	StormControl *StormControl `json:"stormControl,omitempty" yaml:"stormControl,omitempty"`
}

// StormControl is a per-port broadcast storm limit.
type StormControl struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Rate    int  `json:"rate,omitempty" yaml:"rate,omitempty" validate:"omitempty,min=1,max=100"`
}

func (p *PortProfile) Collection() Collection { return CollectionPortProfile }
func (p *PortProfile) LogicalName() string    { return p.Name }

func (p *PortProfile) Fields() map[string]any {
	f := map[string]any{
		"name":    p.Name,
		"forward": p.Forward,
	}
	if p.NativeNetwork != "" {
		f["native_network"] = p.NativeNetwork
	}
	if len(p.TaggedNetworks) > 0 {
		f["tagged_networks"] = append([]string(nil), p.TaggedNetworks...)
	}
	if p.PoEMode != "" {
		f["poe_mode"] = p.PoEMode
	}
	if p.StormControl != nil {
		f["stormctrl_enabled"] = p.StormControl.Enabled
		if p.StormControl.Rate > 0 {
			f["stormctrl_rate"] = p.StormControl.Rate
		}
	}
	return f
}

func (p *PortProfile) References() []Reference {
	var refs []Reference
	if p.NativeNetwork != "" {
		refs = append(refs, Reference{Collection: CollectionNetwork, Name: p.NativeNetwork, Field: "native_network"})
	}
	for _, n := range p.TaggedNetworks {
		refs = append(refs, Reference{Collection: CollectionNetwork, Name: n, Field: "tagged_networks"})
	}
	return refs
}

func (p *PortProfile) SecretRefs() []*SecretRef { return nil }

// PortForward exposes an internal service on the WAN.
type PortForward struct {
	Name string `json:"-" yaml:"-"`

	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty" validate:"omitempty,oneof=tcp udp tcp_udp"`

	// Port is the external port.
	Port int `json:"port" yaml:"port" validate:"required,min=1,max=65535"`

	// ForwardIP/ForwardPort are the internal destination.
	ForwardIP   string `json:"forwardIp" yaml:"forwardIp" validate:"required,ip"`
	ForwardPort int    `json:"forwardPort" yaml:"forwardPort" validate:"required,min=1,max=65535"`

	// Log enables hit logging on the rule.
	Log bool `json:"log,omitempty" yaml:"log,omitempty"`
}

func (p *PortForward) Collection() Collection { return CollectionPortForward }
func (p *PortForward) LogicalName() string    { return p.Name }

func (p *PortForward) Fields() map[string]any {
	f := map[string]any{
		"name":         p.Name,
		"port":         p.Port,
		"forward_ip":   p.ForwardIP,
		"forward_port": p.ForwardPort,
		"log":          p.Log,
	}
	if p.Protocol != "" {
		f["protocol"] = p.Protocol
	}
	return f
}

func (p *PortForward) References() []Reference  { return nil }
func (p *PortForward) SecretRefs() []*SecretRef { return nil }

// DhcpReservation pins a MAC address to a fixed IP on a network.
type DhcpReservation struct {
	Name string `json:"-" yaml:"-"`

	MAC     string `json:"mac" yaml:"mac" validate:"required,mac"`
	IP      string `json:"ip" yaml:"ip" validate:"required,ip"`
	Network string `json:"network" yaml:"network" validate:"required"`
}

func (d *DhcpReservation) Collection() Collection { return CollectionDhcpReservation }
func (d *DhcpReservation) LogicalName() string    { return d.Name }

func (d *DhcpReservation) Fields() map[string]any {
	return map[string]any{
		"name":    d.Name,
		"mac":     d.MAC,
		"ip":      d.IP,
		"network": d.Network,
	}
}

func (d *DhcpReservation) References() []Reference {
	return []Reference{{Collection: CollectionNetwork, Name: d.Network, Field: "network"}}
}

func (d *DhcpReservation) SecretRefs() []*SecretRef { return nil }
