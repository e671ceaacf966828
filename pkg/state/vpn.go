package state

// VpnConfig is a member of the vpn collection: exactly one of WireGuard or
// SiteToSite is set. The document groups them under vpn.wireguard and
// vpn.siteToSite; names are unique across both maps.
type VpnConfig struct {
	Name string `json:"-" yaml:"-"`

	WireGuard  *WireGuardServer  `json:"wireguard,omitempty" yaml:"wireguard,omitempty"`
	SiteToSite *SiteToSiteTunnel `json:"siteToSite,omitempty" yaml:"siteToSite,omitempty"`
}

// WireGuardServer is a WireGuard listener plus its named peers.
type WireGuardServer struct {
	// ListenPort is the UDP port the server binds.
	ListenPort int `json:"listenPort" yaml:"listenPort" validate:"required,min=1,max=65535"`

	// Address is the tunnel interface address in CIDR form.
	Address string `json:"address" yaml:"address" validate:"required,cidr"`

	// PrivateKey is the server key, literal or secret reference.
	PrivateKey SecretRef `json:"privateKey" yaml:"privateKey"`

	// Peers maps peer name to peer settings.
	Peers map[string]*WireGuardPeer `json:"peers,omitempty" yaml:"peers,omitempty" validate:"dive"`
}

// WireGuardPeer is a single remote peer.
type WireGuardPeer struct {
	// PublicKey is the peer's base64 Curve25519 public key.
	PublicKey string `json:"publicKey" yaml:"publicKey" validate:"required,base64"`

	// AllowedIPs are the CIDRs routed to the peer.
	AllowedIPs []string `json:"allowedIps" yaml:"allowedIps" validate:"required,min=1,dive,cidr"`

	// PresharedKey optionally adds a PSK, literal or secret reference.
	PresharedKey *SecretRef `json:"presharedKey,omitempty" yaml:"presharedKey,omitempty"`
}

// SiteToSiteTunnel is an IPsec site-to-site tunnel.
type SiteToSiteTunnel struct {
	// RemoteHost is the peer gateway address or hostname.
	RemoteHost string `json:"remoteHost" yaml:"remoteHost" validate:"required"`

	// RemoteNetworks/LocalNetworks are the CIDRs on each side.
	RemoteNetworks []string `json:"remoteNetworks" yaml:"remoteNetworks" validate:"required,min=1,dive,cidr"`
	LocalNetworks  []string `json:"localNetworks" yaml:"localNetworks" validate:"required,min=1,dive,cidr"`

	// IPsec are the phase parameters.
	IPsec IPsecParams `json:"ipsec,omitempty" yaml:"ipsec,omitempty"`

	// PresharedKey is the tunnel PSK, literal or secret reference.
	PresharedKey SecretRef `json:"presharedKey" yaml:"presharedKey"`
}

// IPsecParams are the negotiated proposal parameters for a tunnel.
type IPsecParams struct {
	KeyExchange string `json:"keyExchange,omitempty" yaml:"keyExchange,omitempty" validate:"omitempty,oneof=ikev1 ikev2"`
	Encryption  string `json:"encryption,omitempty" yaml:"encryption,omitempty" validate:"omitempty,oneof=aes128 aes256 chacha20"`
	Hash        string `json:"hash,omitempty" yaml:"hash,omitempty" validate:"omitempty,oneof=sha1 sha256 sha512"`
	DHGroup     int    `json:"dhGroup,omitempty" yaml:"dhGroup,omitempty" validate:"omitempty,oneof=2 14 19 20 21"`
}

func (v *VpnConfig) Collection() Collection { return CollectionVPN }
func (v *VpnConfig) LogicalName() string    { return v.Name }

// Kind returns "wireguard" or "site_to_site" for wire payloads.
func (v *VpnConfig) Kind() string {
	if v.WireGuard != nil {
		return "wireguard"
	}
	return "site_to_site"
}

func (v *VpnConfig) Fields() map[string]any {
	f := map[string]any{
		"name": v.Name,
		"kind": v.Kind(),
	}
	switch {
	case v.WireGuard != nil:
		wg := v.WireGuard
		f["listen_port"] = wg.ListenPort
		f["address"] = wg.Address
		if key, ok := wg.PrivateKey.Reveal(); ok {
			f["private_key"] = key
		}
		peers := make([]map[string]any, 0, len(wg.Peers))
		for _, name := range sortedKeys(wg.Peers) {
			p := wg.Peers[name]
			pf := map[string]any{
				"name":        name,
				"public_key":  p.PublicKey,
				"allowed_ips": append([]string(nil), p.AllowedIPs...),
			}
			if p.PresharedKey != nil {
				if psk, ok := p.PresharedKey.Reveal(); ok {
					pf["preshared_key"] = psk
				}
			}
			peers = append(peers, pf)
		}
		if len(peers) > 0 {
			f["peers"] = peers
		}
	case v.SiteToSite != nil:
		t := v.SiteToSite
		f["remote_host"] = t.RemoteHost
		f["remote_networks"] = append([]string(nil), t.RemoteNetworks...)
		f["local_networks"] = append([]string(nil), t.LocalNetworks...)
		if t.IPsec.KeyExchange != "" {
			f["key_exchange"] = t.IPsec.KeyExchange
		}
		if t.IPsec.Encryption != "" {
			f["encryption"] = t.IPsec.Encryption
		}
		if t.IPsec.Hash != "" {
			f["hash"] = t.IPsec.Hash
		}
		if t.IPsec.DHGroup != 0 {
			f["dh_group"] = t.IPsec.DHGroup
		}
		if psk, ok := t.PresharedKey.Reveal(); ok {
			f["preshared_key"] = psk
		}
	}
	return f
}

func (v *VpnConfig) References() []Reference { return nil }

func (v *VpnConfig) SecretRefs() []*SecretRef {
	var refs []*SecretRef
	if v.WireGuard != nil {
		refs = append(refs, &v.WireGuard.PrivateKey)
		for _, name := range sortedKeys(v.WireGuard.Peers) {
			if p := v.WireGuard.Peers[name]; p.PresharedKey != nil {
				refs = append(refs, p.PresharedKey)
			}
		}
	}
	if v.SiteToSite != nil {
		refs = append(refs, &v.SiteToSite.PresharedKey)
	}
	return refs
}
