package state

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the normalized desired-state document handed over by the
// external evaluator. Maps are keyed by logical name; the core never sees
// the authoring language.
type Document struct {
	Networks         map[string]*Network         `json:"networks,omitempty" yaml:"networks,omitempty" validate:"dive"`
	Wifi             map[string]*WifiNetwork     `json:"wifi,omitempty" yaml:"wifi,omitempty" validate:"dive"`
	Firewall         FirewallSection             `json:"firewall,omitempty" yaml:"firewall,omitempty"`
	TrafficRules     map[string]*TrafficRule     `json:"trafficRules,omitempty" yaml:"trafficRules,omitempty" validate:"dive"`
	RadiusProfiles   map[string]*RadiusProfile   `json:"radiusProfiles,omitempty" yaml:"radiusProfiles,omitempty" validate:"dive"`
	PortProfiles     map[string]*PortProfile     `json:"portProfiles,omitempty" yaml:"portProfiles,omitempty" validate:"dive"`
	VPN              VPNSection                  `json:"vpn,omitempty" yaml:"vpn,omitempty"`
	PortForwards     map[string]*PortForward     `json:"portForwards,omitempty" yaml:"portForwards,omitempty" validate:"dive"`
	DhcpReservations map[string]*DhcpReservation `json:"dhcpReservations,omitempty" yaml:"dhcpReservations,omitempty" validate:"dive"`

	// Collections holds schema-backed collections: collection name to
	// entity name to raw fields. Validated against registry descriptors.
	Collections map[string]map[string]map[string]any `json:"collections,omitempty" yaml:"collections,omitempty"`
}

// FirewallSection groups the firewall maps of the document.
type FirewallSection struct {
	Zones    map[string]*FirewallZone   `json:"zones,omitempty" yaml:"zones,omitempty" validate:"dive"`
	Groups   map[string]*FirewallGroup  `json:"groups,omitempty" yaml:"groups,omitempty" validate:"dive"`
	Policies map[string]*FirewallPolicy `json:"policies,omitempty" yaml:"policies,omitempty" validate:"dive"`
}

// VPNSection groups the vpn maps of the document. Both maps feed the single
// vpn collection; names must be unique across them.
type VPNSection struct {
	WireGuard  map[string]*WireGuardServer  `json:"wireguard,omitempty" yaml:"wireguard,omitempty" validate:"dive"`
	SiteToSite map[string]*SiteToSiteTunnel `json:"siteToSite,omitempty" yaml:"siteToSite,omitempty" validate:"dive"`
}

// LoadDocument reads and decodes a normalized document from a YAML or JSON
// file (YAML decoding accepts both). Map keys become logical names.
func LoadDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return ParseDocument(raw)
}

// ParseDocument decodes a normalized document from raw YAML/JSON bytes.
func ParseDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc.nameEntities()
	return &doc, nil
}

// nameEntities copies each map key into the entity it names.
func (d *Document) nameEntities() {
	for name, n := range d.Networks {
		n.Name = name
	}
	for name, w := range d.Wifi {
		w.Name = name
	}
	for name, z := range d.Firewall.Zones {
		z.Name = name
	}
	for name, g := range d.Firewall.Groups {
		g.Name = name
	}
	for name, p := range d.Firewall.Policies {
		p.Name = name
	}
	for name, t := range d.TrafficRules {
		t.Name = name
	}
	for name, r := range d.RadiusProfiles {
		r.Name = name
	}
	for name, p := range d.PortProfiles {
		p.Name = name
	}
	for name, p := range d.PortForwards {
		p.Name = name
	}
	for name, r := range d.DhcpReservations {
		r.Name = name
	}
}

// VpnEntities merges the wireguard and siteToSite maps into vpn collection
// entities. A name present in both maps yields two entities with the same
// logical name; the validator reports that as a duplicate.
func (d *Document) VpnEntities() []*VpnConfig {
	out := make([]*VpnConfig, 0, len(d.VPN.WireGuard)+len(d.VPN.SiteToSite))
	for _, name := range sortedKeys(d.VPN.WireGuard) {
		out = append(out, &VpnConfig{Name: name, WireGuard: d.VPN.WireGuard[name]})
	}
	for _, name := range sortedKeys(d.VPN.SiteToSite) {
		out = append(out, &VpnConfig{Name: name, SiteToSite: d.VPN.SiteToSite[name]})
	}
	return out
}

// Entities returns every entity in the document in deterministic order:
// collections in stage order, schema-backed collections after the canonical
// ones, names lexically within each collection.
func (d *Document) Entities() []Entity {
	var out []Entity
	appendSorted := func(f func(name string) Entity, keys []string) {
		for _, k := range keys {
			out = append(out, f(k))
		}
	}
	appendSorted(func(n string) Entity { return d.Networks[n] }, sortedKeys(d.Networks))
	appendSorted(func(n string) Entity { return d.Firewall.Zones[n] }, sortedKeys(d.Firewall.Zones))
	appendSorted(func(n string) Entity { return d.Firewall.Groups[n] }, sortedKeys(d.Firewall.Groups))
	appendSorted(func(n string) Entity { return d.RadiusProfiles[n] }, sortedKeys(d.RadiusProfiles))
	appendSorted(func(n string) Entity { return d.Wifi[n] }, sortedKeys(d.Wifi))
	appendSorted(func(n string) Entity { return d.PortProfiles[n] }, sortedKeys(d.PortProfiles))
	appendSorted(func(n string) Entity { return d.TrafficRules[n] }, sortedKeys(d.TrafficRules))
	appendSorted(func(n string) Entity { return d.Firewall.Policies[n] }, sortedKeys(d.Firewall.Policies))
	for _, v := range d.VpnEntities() {
		out = append(out, v)
	}
	appendSorted(func(n string) Entity { return d.PortForwards[n] }, sortedKeys(d.PortForwards))
	appendSorted(func(n string) Entity { return d.DhcpReservations[n] }, sortedKeys(d.DhcpReservations))
	for _, coll := range sortedKeys(d.Collections) {
		entities := d.Collections[coll]
		for _, name := range sortedKeys(entities) {
			out = append(out, &SchemaBackedEntity{Coll: Collection(coll), Name: name, Data: entities[name]})
		}
	}
	return out
}

// SecretRefs returns every secret indirection in the document.
func (d *Document) SecretRefs() []*SecretRef {
	var refs []*SecretRef
	for _, e := range d.Entities() {
		refs = append(refs, e.SecretRefs()...)
	}
	return refs
}
