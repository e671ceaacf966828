package state

// WifiNetwork is a wireless network bound to a wired Network.
type WifiNetwork struct {
	Name string `json:"-" yaml:"-"`

	// SSID is the broadcast name. Defaults to the logical name when empty.
	SSID string `json:"ssid,omitempty" yaml:"ssid,omitempty"`

	// Passphrase is the WPA passphrase, literal or secret reference.
	Passphrase SecretRef `json:"passphrase" yaml:"passphrase"`

	// Network is the logical name of the wired network clients land on.
	Network string `json:"network" yaml:"network" validate:"required"`

	// Security is the security mode. Valid values come from the schema
	// descriptor (typically wpa2, wpa3, wpa2-wpa3, open).
	Security string `json:"security,omitempty" yaml:"security,omitempty"`

	// WPA3Transition enables mixed WPA2/WPA3 operation.
	WPA3Transition bool `json:"wpa3Transition,omitempty" yaml:"wpa3Transition,omitempty"`

	// Bands lists the radio bands the SSID is broadcast on.
	Bands []string `json:"bands,omitempty" yaml:"bands,omitempty" validate:"dive,oneof=2g 5g 6g"`

	// Isolated enables client (L2) isolation.
	Isolated bool `json:"isolate,omitempty" yaml:"isolate,omitempty"`

	// Guest applies the controller guest policies to the SSID.
	Guest bool `json:"guest,omitempty" yaml:"guest,omitempty"`
}

func (w *WifiNetwork) Collection() Collection { return CollectionWifiNetwork }
func (w *WifiNetwork) LogicalName() string    { return w.Name }

// EffectiveSSID returns the SSID, falling back to the logical name.
func (w *WifiNetwork) EffectiveSSID() string {
	if w.SSID != "" {
		return w.SSID
	}
	return w.Name
}

func (w *WifiNetwork) Fields() map[string]any {
	f := map[string]any{
		"name":             w.Name,
		"ssid":             w.EffectiveSSID(),
		"network":          w.Network,
		"client_isolation": w.Isolated,
		"guest":            w.Guest,
	}
	if w.Security != "" {
		f["security"] = w.Security
	}
	if w.WPA3Transition {
		f["wpa3_transition"] = true
	}
	if len(w.Bands) > 0 {
		f["bands"] = append([]string(nil), w.Bands...)
	}
	// Unresolved passphrases stay off the wire map so a dry-run diff
	// without secret backends never fabricates a field change.
	if v, ok := w.Passphrase.Reveal(); ok {
		f["passphrase"] = v
	}
	return f
}

func (w *WifiNetwork) References() []Reference {
	return []Reference{{Collection: CollectionNetwork, Name: w.Network, Field: "network"}}
}

func (w *WifiNetwork) SecretRefs() []*SecretRef {
	return []*SecretRef{&w.Passphrase}
}
