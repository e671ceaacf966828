package diff

import (
	"context"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openconverge/converge/pkg/schema"
	"github.com/openconverge/converge/pkg/state"
	"github.com/openconverge/converge/pkg/validate"
)

const testDoc = `
networks:
  corp:
    vlan: 10
    subnet: 10.10.0.1/24
    purpose: corporate
  iot:
    vlan: 20
    subnet: 10.20.0.1/24
    purpose: iot
    isolate: true
wifi:
  corp-wifi:
    network: corp
    security: wpa2
    passphrase: hunter2hunter2
firewall:
  zones:
    trusted:
      networks: [corp]
`

func testState(t *testing.T, doc string) *validate.ValidState {
	t.Helper()
	d, err := state.ParseDocument([]byte(doc))
	if err != nil {
		t.Fatalf("parse document: %v", err)
	}
	reg, err := schema.NewRegistry()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	desc, err := reg.Resolve("latest")
	if err != nil {
		t.Fatalf("resolve schema: %v", err)
	}
	vs, errs := validate.New(desc).Validate(d)
	if len(errs) > 0 {
		t.Fatalf("document does not validate: %v", errs)
	}
	return vs
}

// fakeFetcher serves a fixed live snapshot and counts the collections asked
// for, so tests can assert fetch behavior.
type fakeFetcher struct {
	live  map[state.Collection][]LiveEntity
	calls []state.Collection
}

func (f *fakeFetcher) List(_ context.Context, c state.Collection) ([]LiveEntity, error) {
	f.calls = append(f.calls, c)
	return f.live[c], nil
}

func newEngine() *Engine {
	return NewEngine(zerolog.Nop())
}

func TestDiffEmptyLiveCreatesEverything(t *testing.T) {
	vs := testState(t, testDoc)
	fetcher := &fakeFetcher{}

	cs, err := newEngine().Diff(context.Background(), vs, fetcher)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if cs.Summary.Creates != 4 || cs.Summary.Updates != 0 || cs.Summary.Deletes != 0 {
		t.Fatalf("summary = %+v, want 4 creates only", cs.Summary)
	}

	for _, op := range cs.Operations {
		if op.Kind != KindCreate {
			t.Errorf("%s/%s: kind = %s, want create", op.Collection, op.Name, op.Kind)
		}
		if op.Fields[state.ManagedByField] != state.ManagedByValue {
			t.Errorf("%s/%s: create payload is missing the management marker", op.Collection, op.Name)
		}
	}

	// Dependencies precede dependents.
	pos := make(map[string]int)
	for i, op := range cs.Operations {
		pos[string(op.Collection)+"/"+op.Name] = i
	}
	if pos["network/corp"] > pos["wifi_network/corp-wifi"] {
		t.Error("network created after the wifi network that references it")
	}
	if pos["network/corp"] > pos["firewall_zone/trusted"] {
		t.Error("network created after the firewall zone that references it")
	}
}

func TestDiffIdempotent(t *testing.T) {
	vs := testState(t, testDoc)

	// A live state built from the desired wire fields plus the marker must
	// produce an empty changeset.
	live := make(map[state.Collection][]LiveEntity)
	for _, e := range vs.Ordered() {
		fields := withMarker(e.Fields())
		live[e.Collection()] = append(live[e.Collection()], LiveEntity{
			ID:      "id-" + e.LogicalName(),
			Name:    e.LogicalName(),
			Fields:  fields,
			Managed: true,
		})
	}

	cs, err := newEngine().Diff(context.Background(), vs, &fakeFetcher{live: live})
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if !cs.Empty() {
		t.Fatalf("changeset not empty:\n%s", cs)
	}
}

func TestDiffIdempotentAfterReferenceRewrite(t *testing.T) {
	vs := testState(t, testDoc)

	// After a real apply the controller stores device ids in reference
	// fields while the document keeps logical names. The live state below
	// is exactly what the apply engine leaves behind and must compare as
	// in sync.
	ids := map[string]string{
		"corp":      "net-1",
		"iot":       "net-2",
		"corp-wifi": "wl-1",
		"trusted":   "fz-1",
	}
	live := make(map[state.Collection][]LiveEntity)
	for _, e := range vs.Ordered() {
		fields := withMarker(e.Fields())
		for _, ref := range e.References() {
			switch v := fields[ref.Field].(type) {
			case string:
				if v == ref.Name {
					fields[ref.Field] = ids[ref.Name]
				}
			case []string:
				// Controller JSON decodes lists as []any.
				mapped := make([]any, len(v))
				for i, item := range v {
					mapped[i] = item
					if item == ref.Name {
						mapped[i] = ids[ref.Name]
					}
				}
				fields[ref.Field] = mapped
			}
		}
		live[e.Collection()] = append(live[e.Collection()], LiveEntity{
			ID:      ids[e.LogicalName()],
			Name:    e.LogicalName(),
			Fields:  fields,
			Managed: true,
		})
	}

	cs, err := newEngine().Diff(context.Background(), vs, &fakeFetcher{live: live})
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if !cs.Empty() {
		t.Fatalf("changeset not empty against a converged controller:\n%s", cs)
	}
}

func TestDiffReferenceDriftStillDetected(t *testing.T) {
	vs := testState(t, testDoc)

	// The zone holds an extra network by id. Mapping ids back to names
	// must not mask real membership drift.
	live := map[state.Collection][]LiveEntity{
		state.CollectionNetwork: {
			{ID: "net-1", Name: "corp", Fields: withMarker(mustFields(t, vs, state.CollectionNetwork, "corp")), Managed: true},
			{ID: "net-2", Name: "iot", Fields: withMarker(mustFields(t, vs, state.CollectionNetwork, "iot")), Managed: true},
		},
		state.CollectionFirewallZone: {
			{
				ID:      "fz-1",
				Name:    "trusted",
				Fields:  map[string]any{"name": "trusted", "networks": []any{"net-1", "net-2"}, state.ManagedByField: state.ManagedByValue},
				Managed: true,
			},
		},
	}

	cs, err := newEngine().Diff(context.Background(), vs, &fakeFetcher{live: live})
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	var update *Operation
	for i := range cs.Operations {
		op := &cs.Operations[i]
		if op.Kind == KindUpdate && op.Collection == state.CollectionFirewallZone {
			update = op
		}
	}
	if update == nil {
		t.Fatalf("zone membership drift not detected:\n%s", cs)
	}
	if !reflect.DeepEqual(update.Fields["networks"], []string{"corp"}) {
		t.Errorf("zone update networks = %v, want [corp]", update.Fields["networks"])
	}
}

func mustFields(t *testing.T, vs *validate.ValidState, c state.Collection, name string) map[string]any {
	t.Helper()
	e, ok := vs.Get(c, name)
	if !ok {
		t.Fatalf("%s/%s missing from desired state", c, name)
	}
	return e.Fields()
}

func TestDiffUpdateOnlyChangedFields(t *testing.T) {
	vs := testState(t, testDoc)

	live := map[state.Collection][]LiveEntity{
		state.CollectionNetwork: {
			{
				ID:   "net-1",
				Name: "corp",
				Fields: map[string]any{
					"name":         "corp",
					"vlan":         float64(10),
					"subnet":       "10.10.0.1/24",
					"purpose":      "guest", // drifted
					"isolation":    false,
					"mdns":         false,
					"dhcp_enabled": false,
					"managed_by":   "converge",
				},
				Managed: true,
			},
		},
	}

	cs, err := newEngine().Diff(context.Background(), vs, &fakeFetcher{live: live})
	if err != nil {
		t.Fatalf("diff: %v", err)
	}

	var update *Operation
	for i := range cs.Operations {
		if cs.Operations[i].Kind == KindUpdate {
			if update != nil {
				t.Fatalf("more than one update: %s", cs)
			}
			update = &cs.Operations[i]
		}
	}
	if update == nil {
		t.Fatalf("no update emitted:\n%s", cs)
	}
	if update.Collection != state.CollectionNetwork || update.Name != "corp" {
		t.Fatalf("update targets %s/%s, want network/corp", update.Collection, update.Name)
	}
	if update.DeviceID != "net-1" {
		t.Errorf("update device id = %q, want net-1", update.DeviceID)
	}
	if len(update.Changes) != 1 || update.Changes[0].Field != "purpose" {
		t.Fatalf("changes = %+v, want exactly the purpose field", update.Changes)
	}
	if update.Changes[0].Before != "guest" || update.Changes[0].After != "corporate" {
		t.Errorf("purpose change = %v -> %v, want guest -> corporate", update.Changes[0].Before, update.Changes[0].After)
	}
	if update.Fields["purpose"] != "corporate" {
		t.Errorf("update payload purpose = %v", update.Fields["purpose"])
	}
	if update.Fields[state.ManagedByField] != state.ManagedByValue {
		t.Error("update payload is missing the management marker")
	}
	if _, ok := update.Fields["subnet"]; ok {
		t.Error("update payload carries an unchanged field")
	}
}

func TestDiffControllerInternalFieldsIgnored(t *testing.T) {
	vs := testState(t, testDoc)

	live := make(map[state.Collection][]LiveEntity)
	for _, e := range vs.Ordered() {
		fields := withMarker(e.Fields())
		fields["_id"] = "6542ab"
		fields["site_id"] = "default"
		fields["attr_internal"] = true
		live[e.Collection()] = append(live[e.Collection()], LiveEntity{
			ID:      "id-" + e.LogicalName(),
			Name:    e.LogicalName(),
			Fields:  fields,
			Managed: true,
		})
	}

	cs, err := newEngine().Diff(context.Background(), vs, &fakeFetcher{live: live})
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if !cs.Empty() {
		t.Fatalf("live-only controller fields produced changes:\n%s", cs)
	}
}

func TestDiffDeletesManagedOnly(t *testing.T) {
	vs := testState(t, testDoc)

	live := map[state.Collection][]LiveEntity{
		state.CollectionNetwork: {
			{ID: "net-old", Name: "legacy", Fields: map[string]any{"name": "legacy", "managed_by": "converge"}, Managed: true},
			{ID: "net-hand", Name: "handmade", Fields: map[string]any{"name": "handmade"}, Managed: false},
		},
		state.CollectionWifiNetwork: {
			{ID: "wifi-old", Name: "legacy-wifi", Fields: map[string]any{"name": "legacy-wifi", "managed_by": "converge"}, Managed: true},
		},
	}

	cs, err := newEngine().Diff(context.Background(), vs, &fakeFetcher{live: live})
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if cs.Summary.Deletes != 2 {
		t.Fatalf("deletes = %d, want 2 (the unmarked entity must survive)", cs.Summary.Deletes)
	}
	for _, op := range cs.Operations {
		if op.Kind == KindDelete && op.Name == "handmade" {
			t.Fatal("unmanaged live entity scheduled for deletion")
		}
	}

	// Dependent deletes run before their dependencies, and all deletes run
	// after every create.
	var lastCreate, wifiDelete, netDelete = -1, -1, -1
	for i, op := range cs.Operations {
		switch {
		case op.Kind == KindCreate:
			lastCreate = i
		case op.Kind == KindDelete && op.Collection == state.CollectionWifiNetwork:
			wifiDelete = i
		case op.Kind == KindDelete && op.Collection == state.CollectionNetwork:
			netDelete = i
		}
	}
	if wifiDelete < lastCreate {
		t.Error("delete scheduled before the last create")
	}
	if wifiDelete > netDelete {
		t.Error("network deleted before the wifi network that may reference it")
	}
	if cs.Operations[wifiDelete].Stage >= cs.Operations[netDelete].Stage {
		t.Errorf("delete stages %d >= %d, want dependents first",
			cs.Operations[wifiDelete].Stage, cs.Operations[netDelete].Stage)
	}
}

func TestDiffDeterministic(t *testing.T) {
	vs := testState(t, testDoc)
	live := map[state.Collection][]LiveEntity{
		state.CollectionNetwork: {
			{ID: "net-old", Name: "legacy", Fields: map[string]any{"name": "legacy"}, Managed: true},
		},
	}

	first, err := newEngine().Diff(context.Background(), vs, &fakeFetcher{live: live})
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	for i := 0; i < 5; i++ {
		next, err := newEngine().Diff(context.Background(), vs, &fakeFetcher{live: live})
		if err != nil {
			t.Fatalf("diff: %v", err)
		}
		if !reflect.DeepEqual(first.Operations, next.Operations) {
			t.Fatalf("changesets differ across runs:\n%s\nvs\n%s", first, next)
		}
	}
}

func TestDiffCapturesLiveIDs(t *testing.T) {
	vs := testState(t, testDoc)
	live := map[state.Collection][]LiveEntity{
		state.CollectionNetwork: {
			{ID: "net-1", Name: "corp", Fields: map[string]any{"name": "corp"}, Managed: true},
		},
	}

	cs, err := newEngine().Diff(context.Background(), vs, &fakeFetcher{live: live})
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if got := cs.LiveIDs[state.CollectionNetwork]["corp"]; got != "net-1" {
		t.Fatalf("live id for network/corp = %q, want net-1", got)
	}
}

func TestDiffStageOrder(t *testing.T) {
	vs := testState(t, testDoc)
	cs, err := newEngine().Diff(context.Background(), vs, &fakeFetcher{})
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	last := -1
	for _, op := range cs.Operations {
		if op.Stage < last {
			t.Fatalf("operation %s/%s at stage %d after stage %d", op.Collection, op.Name, op.Stage, last)
		}
		last = op.Stage
	}
}

func TestValueEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b any
		want bool
	}{
		{"int vs float", 10, float64(10), true},
		{"typed slice vs decoded", []string{"2g", "5g"}, []any{"2g", "5g"}, true},
		{"different order", []string{"5g", "2g"}, []any{"2g", "5g"}, false},
		{"bool", true, true, true},
		{"string mismatch", "wpa2", "wpa3", false},
		{"nested map", map[string]any{"n": 1}, map[string]any{"n": float64(1)}, true},
		{"nil vs empty", nil, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := valueEqual(tc.a, tc.b); got != tc.want {
				t.Errorf("valueEqual(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}
