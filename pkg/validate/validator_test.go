package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/openconverge/converge/pkg/schema"
	"github.com/openconverge/converge/pkg/state"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	reg, err := schema.NewRegistry()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	desc, err := reg.Resolve("latest")
	if err != nil {
		t.Fatalf("resolve schema: %v", err)
	}
	return New(desc)
}

func parseDoc(t *testing.T, raw string) *state.Document {
	t.Helper()
	doc, err := state.ParseDocument([]byte(raw))
	if err != nil {
		t.Fatalf("parse document: %v", err)
	}
	return doc
}

func validationErrs(t *testing.T, raw string) []error {
	t.Helper()
	vs, errs := newValidator(t).Validate(parseDoc(t, raw))
	if vs != nil {
		t.Fatal("expected invalid document, got a ValidState")
	}
	if len(errs) == 0 {
		t.Fatal("expected validation errors")
	}
	return errs
}

func hasViolation(errs []error, kind Kind, name, field string) bool {
	for _, err := range errs {
		var ve *ValidationError
		if errors.As(err, &ve) && ve.Kind == kind && ve.Name == name && ve.Field == field {
			return true
		}
	}
	return false
}

func TestValidDocumentOrdersByStage(t *testing.T) {
	vs, errs := newValidator(t).Validate(parseDoc(t, `
networks:
  corp:
    vlan: 10
    subnet: 10.10.0.1/24
    purpose: corporate
wifi:
  corp-wifi:
    network: corp
    security: wpa2
    passphrase: hunter2hunter2
firewall:
  zones:
    trusted:
      networks: [corp]
`))
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	ordered := vs.Ordered()
	if len(ordered) != 3 {
		t.Fatalf("got %d entities, want 3", len(ordered))
	}
	if ordered[0].Collection() != state.CollectionNetwork {
		t.Errorf("first entity collection = %s, want network", ordered[0].Collection())
	}
	for i := 1; i < len(ordered); i++ {
		if state.StageOf(ordered[i].Collection()) < state.StageOf(ordered[i-1].Collection()) {
			t.Errorf("entity %d out of stage order", i)
		}
	}
}

func TestAccumulatesEveryViolation(t *testing.T) {
	// One document, three independent problems.
	errs := validationErrs(t, `
networks:
  corp:
    vlan: 9999
    subnet: not-a-cidr
wifi:
  guest-wifi:
    network: missing-net
    security: wpa2
    passphrase: hunter2hunter2
`)
	if len(errs) < 3 {
		t.Fatalf("got %d errors, want at least 3: %v", len(errs), errs)
	}
	if !hasViolation(errs, KindOutOfRange, "corp", "vlan") {
		t.Error("vlan range violation not reported")
	}
	if !hasViolation(errs, KindMalformed, "corp", "subnet") {
		t.Error("malformed subnet not reported")
	}
}

func TestDanglingReference(t *testing.T) {
	errs := validationErrs(t, `
wifi:
  guest-wifi:
    network: missing-net
    security: wpa2
    passphrase: hunter2hunter2
`)
	var re *ReferenceError
	found := false
	for _, err := range errs {
		if errors.As(err, &re) {
			found = true
		}
	}
	if !found {
		t.Fatalf("no ReferenceError in %v", errs)
	}
	if re.TargetCollection != state.CollectionNetwork || re.TargetName != "missing-net" {
		t.Errorf("reference target = %s/%s, want network/missing-net", re.TargetCollection, re.TargetName)
	}
}

func TestDuplicateVLANRejected(t *testing.T) {
	errs := validationErrs(t, `
networks:
  corp:
    vlan: 10
    subnet: 10.10.0.1/24
  guest:
    vlan: 10
    subnet: 10.30.0.1/24
`)
	if !hasViolation(errs, KindDuplicate, "corp", "vlan") {
		t.Errorf("vlan collision not reported: %v", errs)
	}
}

func TestDuplicateRuleIndexRejected(t *testing.T) {
	errs := validationErrs(t, `
trafficRules:
  cap-iot:
    action: limit
    index: 5
    downloadKbps: 1000
    match:
      type: ip
      value: 10.20.0.0/24
  cap-guest:
    action: limit
    index: 5
    downloadKbps: 2000
    match:
      type: ip
      value: 10.30.0.0/24
`)
	if !hasViolation(errs, KindDuplicate, "cap-guest", "index") {
		t.Errorf("index collision not reported: %v", errs)
	}
}

func TestDescriptorEnumViolation(t *testing.T) {
	errs := validationErrs(t, `
networks:
  corp:
    vlan: 10
    subnet: 10.10.0.1/24
    purpose: bogus
`)
	if !hasViolation(errs, KindEnum, "corp", "purpose") {
		t.Fatalf("enum violation not reported: %v", errs)
	}
	for _, err := range errs {
		var ve *ValidationError
		if errors.As(err, &ve) && ve.Kind == KindEnum {
			if len(ve.Allowed) == 0 {
				t.Error("enum violation carries no allowed values")
			}
			if !strings.Contains(err.Error(), "valid values") {
				t.Errorf("error text lacks valid values: %v", err)
			}
		}
	}
}

func TestPassphraseConstraints(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		kind Kind
		ok   bool
	}{
		{
			name: "open network needs no passphrase",
			doc: `
wifi:
  cafe:
    network: corp
    security: open
`,
			ok: true,
		},
		{
			name: "wpa2 without passphrase",
			doc: `
wifi:
  cafe:
    network: corp
    security: wpa2
`,
			kind: KindMissing,
		},
		{
			name: "passphrase too short",
			doc: `
wifi:
  cafe:
    network: corp
    security: wpa2
    passphrase: short
`,
			kind: KindOutOfRange,
		},
	}
	base := `
networks:
  corp:
    vlan: 10
    subnet: 10.10.0.1/24
`
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vs, errs := newValidator(t).Validate(parseDoc(t, base+tc.doc))
			if tc.ok {
				if vs == nil {
					t.Fatalf("unexpected errors: %v", errs)
				}
				return
			}
			if !hasViolation(errs, tc.kind, "cafe", "passphrase") {
				t.Errorf("passphrase violation (%s) not reported: %v", tc.kind, errs)
			}
		})
	}
}

func TestDhcpRangeOutsideSubnet(t *testing.T) {
	errs := validationErrs(t, `
networks:
  corp:
    vlan: 10
    subnet: 10.10.0.1/24
    dhcp:
      start: 10.10.0.100
      stop: 10.99.0.200
`)
	if !hasViolation(errs, KindOutOfRange, "corp", "dhcp.stop") {
		t.Errorf("out-of-subnet dhcp stop not reported: %v", errs)
	}
	if hasViolation(errs, KindOutOfRange, "corp", "dhcp.start") {
		t.Errorf("in-subnet dhcp start wrongly reported: %v", errs)
	}
}

func TestSchemaBackedEntity(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		kind  Kind
		field string
		ok    bool
	}{
		{
			name: "valid record",
			doc: `
collections:
  dns_record:
    nas:
      record_type: A
      value: 10.10.0.5
      ttl: 300
`,
			ok: true,
		},
		{
			name: "unknown field",
			doc: `
collections:
  dns_record:
    nas:
      record_type: A
      value: 10.10.0.5
      bogus_field: x
`,
			kind:  KindInvalid,
			field: "bogus_field",
		},
		{
			name: "enum violation",
			doc: `
collections:
  dns_record:
    nas:
      record_type: WEIRD
      value: 10.10.0.5
`,
			kind:  KindEnum,
			field: "record_type",
		},
		{
			name: "missing required",
			doc: `
collections:
  dns_record:
    nas:
      record_type: A
`,
			kind:  KindMissing,
			field: "value",
		},
		{
			name: "range violation",
			doc: `
collections:
  dns_record:
    nas:
      record_type: A
      value: 10.10.0.5
      ttl: 999999999
`,
			kind:  KindOutOfRange,
			field: "ttl",
		},
		{
			name: "unknown collection",
			doc: `
collections:
  made_up_collection:
    thing:
      value: x
`,
			kind: KindInvalid,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vs, errs := newValidator(t).Validate(parseDoc(t, tc.doc))
			if tc.ok {
				if vs == nil {
					t.Fatalf("unexpected errors: %v", errs)
				}
				return
			}
			if len(errs) == 0 {
				t.Fatal("expected validation errors")
			}
			if !hasViolation(errs, tc.kind, entityName(tc.doc), tc.field) {
				t.Errorf("violation (%s on %q) not reported: %v", tc.kind, tc.field, errs)
			}
		})
	}
}

func entityName(doc string) string {
	if strings.Contains(doc, "thing:") {
		return "thing"
	}
	return "nas"
}

func TestDuplicateLogicalNameAcrossVpnMaps(t *testing.T) {
	errs := validationErrs(t, `
vpn:
  wireguard:
    office:
      listenPort: 51820
      address: 10.99.0.1/24
      privateKey: c2VjcmV0LWtleS1ieXRlcy1oZXJlLXBhZGRlZC10by0zMg==
  siteToSite:
    office:
      remoteHost: 203.0.113.9
      remoteNetworks: [192.168.50.0/24]
      localNetworks: [10.10.0.0/24]
      presharedKey: here-is-a-preshared-key
`)
	if !hasViolation(errs, KindDuplicate, "office", "") {
		t.Errorf("cross-map duplicate vpn name not reported: %v", errs)
	}
}
