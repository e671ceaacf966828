package apply

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openconverge/converge/pkg/apierror"
	"github.com/openconverge/converge/pkg/diff"
	"github.com/openconverge/converge/pkg/state"
)

// fakeAPI records calls and serves scripted failures per operation key.
type fakeAPI struct {
	mu       sync.Mutex
	calls    []string
	failures map[string][]error
	payloads map[string]map[string]any
	nextID   int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		failures: make(map[string][]error),
		payloads: make(map[string]map[string]any),
	}
}

func (f *fakeAPI) failWith(kind string, c state.Collection, name string, errs ...error) {
	f.failures[kind+" "+string(c)+"/"+name] = errs
}

func (f *fakeAPI) pop(key string) error {
	queued := f.failures[key]
	if len(queued) == 0 {
		return nil
	}
	err := queued[0]
	f.failures[key] = queued[1:]
	return err
}

func (f *fakeAPI) Create(_ context.Context, c state.Collection, fields map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, _ := fields["name"].(string)
	key := "create " + string(c) + "/" + name
	f.calls = append(f.calls, key)
	if err := f.pop(key); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("dev-%d", f.nextID)
	f.payloads[key] = fields
	return id, nil
}

func (f *fakeAPI) Update(_ context.Context, c state.Collection, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := "update " + string(c) + "/" + id
	f.calls = append(f.calls, key)
	if err := f.pop(key); err != nil {
		return err
	}
	f.payloads[key] = fields
	return nil
}

func (f *fakeAPI) Delete(_ context.Context, c state.Collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := "delete " + string(c) + "/" + id
	f.calls = append(f.calls, key)
	return f.pop(key)
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testEngine() *Engine {
	return NewEngine(zerolog.Nop(), nil)
}

func fastOpts() Options {
	return Options{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func testChangeset() *diff.Changeset {
	return &diff.Changeset{
		Operations: []diff.Operation{
			{
				Collection: state.CollectionNetwork,
				Kind:       diff.KindCreate,
				Name:       "corp",
				Fields:     map[string]any{"name": "corp", "subnet": "10.10.0.1/24", "managed_by": "converge"},
				Stage:      0,
			},
			{
				Collection: state.CollectionWifiNetwork,
				Kind:       diff.KindCreate,
				Name:       "corp-wifi",
				Fields:     map[string]any{"name": "corp-wifi", "network": "corp", "managed_by": "converge"},
				Stage:      4,
				DependsOn:  []state.Reference{{Collection: state.CollectionNetwork, Name: "corp", Field: "network"}},
			},
		},
		Summary: diff.Summary{Creates: 2},
	}
}

func TestApplyDryRunMakesNoCalls(t *testing.T) {
	api := newFakeAPI()
	report := testEngine().Apply(context.Background(), testChangeset(), api, Options{DryRun: true})

	if api.callCount() != 0 {
		t.Fatalf("dry-run made %d API calls", api.callCount())
	}
	if !report.Converged() {
		t.Error("dry-run report did not converge")
	}
	for _, res := range report.Results {
		if res.Status != StatusPlanned {
			t.Errorf("%s/%s: status = %s, want planned", res.Collection, res.Name, res.Status)
		}
	}
	if report.Summary.Planned != 2 {
		t.Errorf("planned = %d, want 2", report.Summary.Planned)
	}
}

func TestApplyRewritesReferencesToCreatedIDs(t *testing.T) {
	api := newFakeAPI()
	report := testEngine().Apply(context.Background(), testChangeset(), api, fastOpts())

	if !report.Converged() {
		t.Fatalf("run did not converge: %+v", report.Results)
	}
	if report.Results[0].DeviceID != "dev-1" {
		t.Errorf("created network id = %q, want dev-1", report.Results[0].DeviceID)
	}

	wifi := api.payloads["create wifi_network/corp-wifi"]
	if wifi == nil {
		t.Fatal("wifi network was never created")
	}
	if wifi["network"] != "dev-1" {
		t.Errorf("wifi payload network = %v, want the created device id dev-1", wifi["network"])
	}
}

func TestApplyRewritesReferencesFromLiveIDs(t *testing.T) {
	cs := testChangeset()
	// The wired network already exists; only the wifi create remains.
	cs.Operations = cs.Operations[1:]
	cs.LiveIDs = map[state.Collection]map[string]string{
		state.CollectionNetwork: {"corp": "net-live"},
	}

	api := newFakeAPI()
	report := testEngine().Apply(context.Background(), cs, api, fastOpts())
	if !report.Converged() {
		t.Fatalf("run did not converge: %+v", report.Results)
	}
	if got := api.payloads["create wifi_network/corp-wifi"]["network"]; got != "net-live" {
		t.Errorf("wifi payload network = %v, want net-live", got)
	}
}

func TestApplyRewritesEachElementOfListReferences(t *testing.T) {
	cs := &diff.Changeset{
		Operations: []diff.Operation{
			{
				Collection: state.CollectionNetwork,
				Kind:       diff.KindCreate,
				Name:       "corp",
				Fields:     map[string]any{"name": "corp", "managed_by": "converge"},
				Stage:      0,
			},
			{
				Collection: state.CollectionNetwork,
				Kind:       diff.KindCreate,
				Name:       "iot",
				Fields:     map[string]any{"name": "iot", "managed_by": "converge"},
				Stage:      0,
			},
			{
				Collection: state.CollectionFirewallZone,
				Kind:       diff.KindCreate,
				Name:       "trusted",
				Fields: map[string]any{
					"name":       "trusted",
					"networks":   []string{"corp", "iot"},
					"managed_by": "converge",
				},
				Stage: 1,
				DependsOn: []state.Reference{
					{Collection: state.CollectionNetwork, Name: "corp", Field: "networks"},
					{Collection: state.CollectionNetwork, Name: "iot", Field: "networks"},
				},
			},
		},
		Summary: diff.Summary{Creates: 3},
	}

	api := newFakeAPI()
	opts := fastOpts()
	// One worker keeps the created ids deterministic.
	opts.Concurrency = 1
	report := testEngine().Apply(context.Background(), cs, api, opts)
	if !report.Converged() {
		t.Fatalf("run did not converge: %+v", report.Results)
	}

	zone := api.payloads["create firewall_zone/trusted"]
	if zone == nil {
		t.Fatal("zone was never created")
	}
	got, ok := zone["networks"].([]string)
	if !ok {
		t.Fatalf("zone networks payload = %T(%v), want a string list", zone["networks"], zone["networks"])
	}
	if len(got) != 2 || got[0] != "dev-1" || got[1] != "dev-2" {
		t.Errorf("zone networks payload = %v, want [dev-1 dev-2]", got)
	}
}

func TestApplyRetriesTransientFailures(t *testing.T) {
	api := newFakeAPI()
	api.failWith("create", state.CollectionNetwork, "corp",
		apierror.Transient("gateway timeout", nil).WithStatus(504),
		apierror.Throttled("rate limited", nil).WithStatus(429),
	)

	report := testEngine().Apply(context.Background(), testChangeset(), api, fastOpts())
	if !report.Converged() {
		t.Fatalf("run did not converge: %+v", report.Results)
	}
	if report.Results[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", report.Results[0].Attempts)
	}
}

func TestApplyTerminalFailureNotRetried(t *testing.T) {
	api := newFakeAPI()
	api.failWith("create", state.CollectionNetwork, "corp",
		apierror.Terminal("vlan already in use", nil).WithStatus(400),
		apierror.Terminal("vlan already in use", nil).WithStatus(400),
	)

	report := testEngine().Apply(context.Background(), testChangeset(), api, fastOpts())
	if report.Results[0].Status != StatusFailed {
		t.Fatalf("status = %s, want failed", report.Results[0].Status)
	}
	if report.Results[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (terminal errors are not retried)", report.Results[0].Attempts)
	}
}

func TestApplySkipsDependentsOfFailedOperations(t *testing.T) {
	api := newFakeAPI()
	terminal := apierror.Terminal("rejected", nil).WithStatus(400)
	api.failWith("create", state.CollectionNetwork, "corp", terminal, terminal, terminal, terminal)

	report := testEngine().Apply(context.Background(), testChangeset(), api, fastOpts())

	if report.Results[0].Status != StatusFailed {
		t.Fatalf("network status = %s, want failed", report.Results[0].Status)
	}
	if report.Results[1].Status != StatusSkipped {
		t.Fatalf("wifi status = %s, want skipped", report.Results[1].Status)
	}
	if report.Results[1].Error == "" {
		t.Error("skipped result carries no reason")
	}
	for _, call := range api.calls {
		if call == "create wifi_network/corp-wifi" {
			t.Fatal("skipped operation still reached the API")
		}
	}
	if report.Converged() {
		t.Error("report converged despite failures")
	}
}

func TestApplyDeleteFailureDoesNotPropagate(t *testing.T) {
	cs := testChangeset()
	cs.Operations = append([]diff.Operation{
		{
			Collection: state.CollectionVPN,
			Kind:       diff.KindDelete,
			Name:       "old-tunnel",
			DeviceID:   "vpn-9",
			Stage:      0,
		},
	}, cs.Operations...)

	api := newFakeAPI()
	api.failWith("delete", state.CollectionVPN, "vpn-9",
		apierror.Terminal("in use", nil).WithStatus(400),
	)

	report := testEngine().Apply(context.Background(), cs, api, fastOpts())
	if report.Results[0].Status != StatusFailed {
		t.Fatalf("delete status = %s, want failed", report.Results[0].Status)
	}
	for _, res := range report.Results[1:] {
		if res.Status != StatusSucceeded {
			t.Errorf("%s/%s: status = %s, want succeeded", res.Collection, res.Name, res.Status)
		}
	}
}

func TestApplyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	api := newFakeAPI()
	report := testEngine().Apply(ctx, testChangeset(), api, fastOpts())

	if api.callCount() != 0 {
		t.Fatalf("cancelled run made %d API calls", api.callCount())
	}
	for _, res := range report.Results {
		if res.Status != StatusCancelled {
			t.Errorf("%s/%s: status = %s, want cancelled", res.Collection, res.Name, res.Status)
		}
	}
	if report.Summary.Cancelled != 2 {
		t.Errorf("cancelled = %d, want 2", report.Summary.Cancelled)
	}
}

func TestApplyConcurrencyWithinStage(t *testing.T) {
	ops := make([]diff.Operation, 8)
	for i := range ops {
		ops[i] = diff.Operation{
			Collection: state.CollectionPortForward,
			Kind:       diff.KindCreate,
			Name:       fmt.Sprintf("fwd-%d", i),
			Fields:     map[string]any{"name": fmt.Sprintf("fwd-%d", i)},
			Stage:      4,
		}
	}
	cs := &diff.Changeset{Operations: ops}

	api := newFakeAPI()
	opts := fastOpts()
	opts.Concurrency = 4
	report := testEngine().Apply(context.Background(), cs, api, opts)

	if !report.Converged() {
		t.Fatalf("run did not converge: %+v", report.Results)
	}
	if api.callCount() != 8 {
		t.Errorf("calls = %d, want 8", api.callCount())
	}
	// Results keep operation order regardless of worker interleaving.
	for i, res := range report.Results {
		if res.Name != fmt.Sprintf("fwd-%d", i) {
			t.Errorf("result %d is %s, want fwd-%d", i, res.Name, i)
		}
	}
}
