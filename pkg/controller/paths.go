package controller

import "github.com/openconverge/converge/pkg/state"

// endpointPaths maps canonical collections onto the controller's REST
// resource names. Schema-backed collections use their collection name as
// the resource path unchanged.
var endpointPaths = map[state.Collection]string{
	state.CollectionNetwork:         "networkconf",
	state.CollectionWifiNetwork:     "wlanconf",
	state.CollectionFirewallZone:    "firewallzone",
	state.CollectionFirewallGroup:   "firewallgroup",
	state.CollectionFirewallPolicy:  "firewallpolicy",
	state.CollectionTrafficRule:     "trafficrule",
	state.CollectionRadiusProfile:   "radiusprofile",
	state.CollectionPortProfile:     "portconf",
	state.CollectionVPN:             "vpnconf",
	state.CollectionPortForward:     "portforward",
	state.CollectionDhcpReservation: "dhcpreservation",
}

func pathFor(c state.Collection) string {
	if p, ok := endpointPaths[c]; ok {
		return p
	}
	return string(c)
}
