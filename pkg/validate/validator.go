// Package validate checks a desired-state document against the schema
// descriptor and the cross-entity invariants. The validator never fails
// fast: it accumulates every violation so one run surfaces all problems,
// and only a clean document yields a ValidState.
package validate

import (
	"fmt"
	"net/netip"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openconverge/converge/pkg/schema"
	"github.com/openconverge/converge/pkg/state"
)

// Validator validates documents against one resolved schema descriptor.
type Validator struct {
	v    *validator.Validate
	desc *schema.Descriptor
}

// New builds a validator bound to a schema descriptor.
func New(desc *schema.Descriptor) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &Validator{v: v, desc: desc}
}

// Validate checks the whole document. It returns either a ValidState and no
// errors, or nil and the complete list of violations.
func (val *Validator) Validate(doc *state.Document) (*ValidState, []error) {
	var errs []error
	entities := doc.Entities()

	errs = append(errs, val.checkDuplicateNames(entities)...)
	for _, e := range entities {
		if g, ok := e.(*state.SchemaBackedEntity); ok {
			errs = append(errs, val.checkGeneric(g)...)
			continue
		}
		errs = append(errs, val.checkStruct(e)...)
		errs = append(errs, val.checkDescriptorEnums(e)...)
	}
	errs = append(errs, val.checkReferences(entities)...)
	errs = append(errs, checkUniqueVLANs(doc)...)
	errs = append(errs, checkUniqueIndices(doc)...)
	errs = append(errs, checkWifiPassphrases(doc)...)
	errs = append(errs, checkDhcpRanges(doc)...)

	if len(errs) > 0 {
		return nil, errs
	}
	return newValidState(entities), nil
}

func (val *Validator) checkDuplicateNames(entities []state.Entity) []error {
	var errs []error
	seen := make(map[state.Collection]map[string]bool)
	for _, e := range entities {
		c, name := e.Collection(), e.LogicalName()
		if seen[c] == nil {
			seen[c] = make(map[string]bool)
		}
		if seen[c][name] {
			errs = append(errs, &ValidationError{
				Kind:       KindDuplicate,
				Collection: c,
				Name:       name,
				Message:    "duplicate logical name within collection",
			})
			continue
		}
		seen[c][name] = true
	}
	return errs
}

// checkStruct runs the tag-driven structural pass and translates each field
// error into a ValidationError.
func (val *Validator) checkStruct(e state.Entity) []error {
	err := val.v.Struct(e)
	if err == nil {
		return nil
	}
	ferrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []error{&ValidationError{
			Kind:       KindInvalid,
			Collection: e.Collection(),
			Name:       e.LogicalName(),
			Message:    err.Error(),
		}}
	}
	var errs []error
	for _, fe := range ferrs {
		errs = append(errs, translateFieldError(e, fe))
	}
	return errs
}

func translateFieldError(e state.Entity, fe validator.FieldError) *ValidationError {
	ve := &ValidationError{
		Collection: e.Collection(),
		Name:       e.LogicalName(),
		Field:      fieldPath(fe),
		Value:      fmt.Sprintf("%v", fe.Value()),
	}
	switch fe.Tag() {
	case "required":
		ve.Kind = KindMissing
		ve.Value = ""
		ve.Message = "required field is missing"
	case "min", "max", "gte", "lte":
		ve.Kind = KindOutOfRange
		ve.Message = fmt.Sprintf("value %v violates %s=%s", fe.Value(), fe.Tag(), fe.Param())
	case "cidr":
		ve.Kind = KindMalformed
		ve.Message = fmt.Sprintf("%q is not a valid CIDR", fe.Value())
	case "ip":
		ve.Kind = KindMalformed
		ve.Message = fmt.Sprintf("%q is not a valid IP address", fe.Value())
	case "mac":
		ve.Kind = KindMalformed
		ve.Message = fmt.Sprintf("%q is not a valid MAC address", fe.Value())
	case "base64":
		ve.Kind = KindMalformed
		ve.Message = fmt.Sprintf("%q is not valid base64", fe.Value())
	case "oneof":
		ve.Kind = KindEnum
		ve.Allowed = strings.Fields(fe.Param())
		ve.Message = fmt.Sprintf("%q is not an allowed value", fe.Value())
	default:
		ve.Kind = KindInvalid
		ve.Message = fmt.Sprintf("fails %s constraint", fe.Tag())
	}
	return ve
}

// fieldPath strips the leading type name from the validator namespace so
// errors read "dhcp.start" rather than "Network.dhcp.start".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

// checkDescriptorEnums validates fields whose value sets are discovered
// from the controller rather than fixed in the type: network purpose and
// wifi security mode.
func (val *Validator) checkDescriptorEnums(e state.Entity) []error {
	var errs []error
	check := func(field, value string) {
		if value == "" {
			return
		}
		allowed := val.desc.EnumValues(string(e.Collection()), field)
		if len(allowed) == 0 {
			return
		}
		for _, a := range allowed {
			if a == value {
				return
			}
		}
		errs = append(errs, &ValidationError{
			Kind:       KindEnum,
			Collection: e.Collection(),
			Name:       e.LogicalName(),
			Field:      field,
			Value:      value,
			Allowed:    allowed,
			Message:    fmt.Sprintf("%q is not in the discovered value set", value),
		})
	}
	switch t := e.(type) {
	case *state.Network:
		check("purpose", t.Purpose)
	case *state.WifiNetwork:
		check("security", t.Security)
	}
	return errs
}

// checkGeneric validates a schema-backed entity structurally against the
// registry descriptor: known collection, known fields, type and enum and
// range conformance, required fields present.
func (val *Validator) checkGeneric(g *state.SchemaBackedEntity) []error {
	coll := string(g.Coll)
	cs, ok := val.desc.Collection(coll)
	if !ok {
		return []error{&ValidationError{
			Kind:       KindInvalid,
			Collection: g.Coll,
			Name:       g.Name,
			Message:    fmt.Sprintf("collection %q is not in schema version %s", coll, val.desc.Version),
		}}
	}

	var errs []error
	fields := make([]string, 0, len(g.Data))
	for f := range g.Data {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, f := range fields {
		fd, known := cs.Fields[f]
		if !known {
			errs = append(errs, &ValidationError{
				Kind:       KindInvalid,
				Collection: g.Coll,
				Name:       g.Name,
				Field:      f,
				Message:    fmt.Sprintf("field is not in schema version %s", val.desc.Version),
			})
			continue
		}
		errs = append(errs, checkGenericField(g, f, fd, g.Data[f])...)
	}

	required := make([]string, 0)
	for f, fd := range cs.Fields {
		if fd.Required {
			required = append(required, f)
		}
	}
	sort.Strings(required)
	for _, f := range required {
		if f == "name" {
			continue // injected from the document map key
		}
		if _, present := g.Data[f]; !present {
			errs = append(errs, &ValidationError{
				Kind:       KindMissing,
				Collection: g.Coll,
				Name:       g.Name,
				Field:      f,
				Message:    "required field is missing",
			})
		}
	}
	return errs
}

func checkGenericField(g *state.SchemaBackedEntity, name string, fd schema.Field, value any) []error {
	mismatch := func() []error {
		return []error{&ValidationError{
			Kind:       KindInvalid,
			Collection: g.Coll,
			Name:       g.Name,
			Field:      name,
			Value:      fmt.Sprintf("%v", value),
			Message:    fmt.Sprintf("expected %s value", fd.Type),
		}}
	}
	switch fd.Type {
	case schema.TypeString:
		s, ok := value.(string)
		if !ok {
			return mismatch()
		}
		if len(fd.Enum) > 0 && !contains(fd.Enum, s) {
			return []error{&ValidationError{
				Kind:       KindEnum,
				Collection: g.Coll,
				Name:       g.Name,
				Field:      name,
				Value:      s,
				Allowed:    fd.Enum,
				Message:    fmt.Sprintf("%q is not in the discovered value set", s),
			}}
		}
	case schema.TypeInt:
		n, ok := asInt(value)
		if !ok {
			return mismatch()
		}
		if (fd.Min != nil && n < *fd.Min) || (fd.Max != nil && n > *fd.Max) {
			return []error{&ValidationError{
				Kind:       KindOutOfRange,
				Collection: g.Coll,
				Name:       g.Name,
				Field:      name,
				Value:      fmt.Sprintf("%d", n),
				Message:    fmt.Sprintf("value %d is outside the schema range", n),
			}}
		}
	case schema.TypeBool:
		if _, ok := value.(bool); !ok {
			return mismatch()
		}
	case schema.TypeList:
		rv := reflect.ValueOf(value)
		if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return mismatch()
		}
	case schema.TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return mismatch()
		}
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// checkReferences fails closed on any by-name link whose target is absent
// from the same desired state.
func (val *Validator) checkReferences(entities []state.Entity) []error {
	present := make(map[state.Collection]map[string]bool)
	for _, e := range entities {
		if present[e.Collection()] == nil {
			present[e.Collection()] = make(map[string]bool)
		}
		present[e.Collection()][e.LogicalName()] = true
	}
	var errs []error
	for _, e := range entities {
		for _, ref := range e.References() {
			if !present[ref.Collection][ref.Name] {
				errs = append(errs, &ReferenceError{
					Collection:       e.Collection(),
					Name:             e.LogicalName(),
					Field:            ref.Field,
					TargetCollection: ref.Collection,
					TargetName:       ref.Name,
				})
			}
		}
	}
	return errs
}

func checkUniqueVLANs(doc *state.Document) []error {
	byVLAN := make(map[int][]string)
	for name, n := range doc.Networks {
		if n.VLAN != nil {
			byVLAN[*n.VLAN] = append(byVLAN[*n.VLAN], name)
		}
	}
	return collisionErrors(byVLAN, state.CollectionNetwork, "vlan", "VLAN id")
}

func checkUniqueIndices(doc *state.Document) []error {
	policies := make(map[int][]string)
	for name, p := range doc.Firewall.Policies {
		policies[p.Index] = append(policies[p.Index], name)
	}
	rules := make(map[int][]string)
	for name, r := range doc.TrafficRules {
		rules[r.Index] = append(rules[r.Index], name)
	}
	errs := collisionErrors(policies, state.CollectionFirewallPolicy, "index", "index")
	return append(errs, collisionErrors(rules, state.CollectionTrafficRule, "index", "index")...)
}

// collisionErrors emits one error per colliding value, citing every entity
// that shares it.
func collisionErrors(byValue map[int][]string, c state.Collection, field, label string) []error {
	values := make([]int, 0, len(byValue))
	for v := range byValue {
		values = append(values, v)
	}
	sort.Ints(values)
	var errs []error
	for _, v := range values {
		names := byValue[v]
		if len(names) < 2 {
			continue
		}
		sort.Strings(names)
		errs = append(errs, &ValidationError{
			Kind:       KindDuplicate,
			Collection: c,
			Name:       names[0],
			Field:      field,
			Value:      fmt.Sprintf("%d", v),
			Message:    fmt.Sprintf("%s %d is shared by %q", label, v, names),
		})
	}
	return errs
}

// checkWifiPassphrases enforces the value-dependent passphrase constraints.
// Length is only checked once the secret is resolved; diff and dry-run
// proceed with unresolved references, so the length check is skipped for
// those and a real apply has resolved everything before validation.
func checkWifiPassphrases(doc *state.Document) []error {
	var errs []error
	for _, name := range sortedNames(doc.Wifi) {
		w := doc.Wifi[name]
		if w.Security == "open" {
			continue
		}
		if w.Passphrase.IsZero() {
			errs = append(errs, &ValidationError{
				Kind:       KindMissing,
				Collection: state.CollectionWifiNetwork,
				Name:       name,
				Field:      "passphrase",
				Message:    "passphrase is required unless security is open",
			})
			continue
		}
		if v, ok := w.Passphrase.Reveal(); ok {
			if len(v) < 8 || len(v) > 63 {
				errs = append(errs, &ValidationError{
					Kind:       KindOutOfRange,
					Collection: state.CollectionWifiNetwork,
					Name:       name,
					Field:      "passphrase",
					Message:    fmt.Sprintf("passphrase must be 8-63 characters, got %d", len(v)),
				})
			}
		}
	}
	return errs
}

// checkDhcpRanges verifies DHCP start/stop fall inside the network subnet.
func checkDhcpRanges(doc *state.Document) []error {
	var errs []error
	for _, name := range sortedNames(doc.Networks) {
		n := doc.Networks[name]
		if n.DHCP == nil {
			continue
		}
		prefix, err := netip.ParsePrefix(n.Subnet)
		if err != nil {
			continue // malformed subnet already reported by the struct pass
		}
		for _, bound := range []struct{ field, value string }{
			{"dhcp.start", n.DHCP.Start},
			{"dhcp.stop", n.DHCP.Stop},
		} {
			addr, err := netip.ParseAddr(bound.value)
			if err != nil {
				continue
			}
			if !prefix.Masked().Contains(addr) {
				errs = append(errs, &ValidationError{
					Kind:       KindOutOfRange,
					Collection: state.CollectionNetwork,
					Name:       name,
					Field:      bound.field,
					Value:      bound.value,
					Message:    fmt.Sprintf("%s is outside subnet %s", bound.value, n.Subnet),
				})
			}
		}
	}
	return errs
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
