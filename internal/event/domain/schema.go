package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type decodeFunc func(fields) (Payload, error)

var registry = map[Name]decodeFunc{
	EventAllocationSourceCreatedOrRenewed: func(f fields) (Payload, error) {
		p := SourceCreatedOrRenewed{RenewalStrategy: "default"}
		var err error
		if p.AllocationSourceName, err = f.requireString("allocation_source_name"); err != nil {
			return nil, err
		}
		if p.ComputeAllowed, err = f.requireDecimal("compute_allowed"); err != nil {
			return nil, err
		}
		if strategy, ok, err := f.optionalString("renewal_strategy"); err != nil {
			return nil, err
		} else if ok {
			p.RenewalStrategy = strategy
		}
		return p, nil
	},
	EventAllocationSourceComputeAllowedChanged: func(f fields) (Payload, error) {
		p := ComputeAllowedChanged{}
		var err error
		if p.AllocationSourceName, err = f.requireString("allocation_source_name"); err != nil {
			return nil, err
		}
		if p.ComputeAllowed, err = f.requireDecimal("compute_allowed"); err != nil {
			return nil, err
		}
		return p, nil
	},
	EventAllocationSourceSnapshot: func(f fields) (Payload, error) {
		p := SourceSnapshot{}
		var err error
		if p.AllocationSourceName, err = f.requireString("allocation_source_name"); err != nil {
			return nil, err
		}
		if p.ComputeUsed, err = f.requireDecimal("compute_used"); err != nil {
			return nil, err
		}
		if p.ComputeUsed.IsNegative() {
			return nil, f.fail("compute_used", "must not be negative")
		}
		if p.GlobalBurnRate, err = f.requireDecimal("global_burn_rate"); err != nil {
			return nil, err
		}
		return p, nil
	},
	EventAllocationSourceRemoved: func(f fields) (Payload, error) {
		name, err := f.requireString("allocation_source_name")
		if err != nil {
			return nil, err
		}
		return SourceRemoved{AllocationSourceName: name}, nil
	},
	EventUserAllocationSnapshotChanged: func(f fields) (Payload, error) {
		p := UserSnapshotChanged{}
		var err error
		if p.Username, err = f.requireString("username"); err != nil {
			return nil, err
		}
		if p.AllocationSourceName, err = f.requireString("allocation_source_name"); err != nil {
			return nil, err
		}
		if p.ComputeUsed, err = f.requireDecimal("compute_used"); err != nil {
			return nil, err
		}
		if p.BurnRate, err = f.requireDecimal("burn_rate"); err != nil {
			return nil, err
		}
		return p, nil
	},
	EventUserAllocationSourceCreated: func(f fields) (Payload, error) {
		username, source, err := f.membership()
		if err != nil {
			return nil, err
		}
		return UserSourceCreated{Username: username, AllocationSourceName: source}, nil
	},
	EventUserAllocationSourceDeleted: func(f fields) (Payload, error) {
		username, source, err := f.membership()
		if err != nil {
			return nil, err
		}
		return UserSourceDeleted{Username: username, AllocationSourceName: source}, nil
	},
	EventInstanceAllocationSourceChanged: func(f fields) (Payload, error) {
		instanceID, source, err := f.instance()
		if err != nil {
			return nil, err
		}
		return InstanceSourceChanged{InstanceID: instanceID, AllocationSourceName: source}, nil
	},
	EventInstanceAllocationSourceRemoved: func(f fields) (Payload, error) {
		instanceID, source, err := f.instance()
		if err != nil {
			return nil, err
		}
		return InstanceSourceRemoved{InstanceID: instanceID, AllocationSourceName: source}, nil
	},
	EventThresholdMet: func(f fields) (Payload, error) {
		p := ThresholdMet{}
		var err error
		if p.AllocationSource, err = f.requireString("allocation_source"); err != nil {
			return nil, err
		}
		if p.Threshold, err = f.requireInt("threshold"); err != nil {
			return nil, err
		}
		if p.ActualValue, err = f.requireDecimal("actual_value"); err != nil {
			return nil, err
		}
		return p, nil
	},
}

// Names lists every registered event name in lexical order.
func Names() []Name {
	names := make([]Name, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// IsKnown reports whether name has a registered schema.
func IsKnown(name Name) bool {
	_, ok := registry[name]
	return ok
}

// Decode validates raw against the schema registered for name and returns the
// typed payload. Numeric strings are coerced to decimals.
func Decode(name Name, raw map[string]any) (Payload, error) {
	decode, ok := registry[name]
	if !ok {
		return nil, &SchemaError{Name: name, Field: "name", Reason: "unknown event name"}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return decode(fields{name: name, values: raw})
}

// DecodeEvent decodes the stored payload of evt.
func DecodeEvent(evt Event) (Payload, error) {
	raw := map[string]any{}
	if len(evt.Payload) > 0 {
		decoder := json.NewDecoder(strings.NewReader(string(evt.Payload)))
		decoder.UseNumber()
		if err := decoder.Decode(&raw); err != nil {
			return nil, &SchemaError{Name: evt.Name, Field: "payload", Reason: err.Error()}
		}
	}
	return Decode(evt.Name, raw)
}

// Fields renders a typed payload back into the raw field map Append accepts.
func Fields(p Payload) (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// NewRequest builds an AppendRequest from a typed payload.
func NewRequest(entityID string, p Payload, uuid *string) (AppendRequest, error) {
	raw, err := Fields(p)
	if err != nil {
		return AppendRequest{}, err
	}
	return AppendRequest{
		Name:     p.EventName(),
		EntityID: entityID,
		Payload:  raw,
		UUID:     uuid,
	}, nil
}

type fields struct {
	name   Name
	values map[string]any
}

func (f fields) fail(field, reason string) error {
	return &SchemaError{Name: f.name, Field: field, Reason: reason}
}

func (f fields) requireString(key string) (string, error) {
	value, ok, err := f.optionalString(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", f.fail(key, "required")
	}
	return value, nil
}

func (f fields) optionalString(key string) (string, bool, error) {
	raw, ok := f.values[key]
	if !ok || raw == nil {
		return "", false, nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", false, f.fail(key, fmt.Sprintf("expected string, got %T", raw))
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}

func (f fields) requireDecimal(key string) (decimal.Decimal, error) {
	raw, ok := f.values[key]
	if !ok || raw == nil {
		return decimal.Zero, f.fail(key, "required")
	}
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case json.Number:
		return f.parseDecimal(key, v.String())
	case string:
		return f.parseDecimal(key, v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, f.fail(key, "must be finite")
		}
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	default:
		return decimal.Zero, f.fail(key, fmt.Sprintf("expected number, got %T", raw))
	}
}

func (f fields) parseDecimal(key, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, f.fail(key, fmt.Sprintf("not a number: %q", s))
	}
	return d, nil
}

func (f fields) requireInt(key string) (int, error) {
	raw, ok := f.values[key]
	if !ok || raw == nil {
		return 0, f.fail(key, "required")
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, f.fail(key, fmt.Sprintf("not an integer: %q", v))
		}
		return n, nil
	}
	d, err := f.requireDecimal(key)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, f.fail(key, "must be an integer")
	}
	return int(d.IntPart()), nil
}

func (f fields) membership() (string, string, error) {
	username, err := f.requireString("username")
	if err != nil {
		return "", "", err
	}
	source, err := f.requireString("allocation_source_name")
	if err != nil {
		return "", "", err
	}
	return username, source, nil
}

func (f fields) instance() (string, string, error) {
	instanceID, err := f.requireString("instance_id")
	if err != nil {
		return "", "", err
	}
	source, err := f.requireString("allocation_source_name")
	if err != nil {
		return "", "", err
	}
	return instanceID, source, nil
}
