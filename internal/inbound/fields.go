package inbound

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/piratar/members-sync/internal/members"
	"github.com/piratar/members-sync/pkg/enums"
)

type fieldSetter func(p *members.Patch, value any) error

// columnSetters is keyed by member column name.
var columnSetters = map[string]fieldSetter{
	"name":              stringSetter(func(p *members.Patch, v string) { p.Name = &v }),
	"email":             stringSetter(func(p *members.Patch, v string) { p.Email = &v }),
	"phone":             stringSetter(func(p *members.Patch, v string) { p.Phone = &v }),
	"street_address":    stringSetter(func(p *members.Patch, v string) { p.StreetAddress = &v }),
	"postal_code":       stringSetter(func(p *members.Patch, v string) { p.PostalCode = &v }),
	"city":              stringSetter(func(p *members.Patch, v string) { p.City = &v }),
	"birthday":          setBirthday,
	"gender":            setGender,
	"housing_situation": setHousing,
	"reachable":         boolSetter(func(p *members.Patch, v bool) { p.Reachable = &v }),
	"groupable":         boolSetter(func(p *members.Patch, v bool) { p.Groupable = &v }),
	"date_joined":       setDateJoined,
}

// replicaPaths maps the replica document layout onto member columns.
var replicaPaths = map[string]string{
	"profile.name":               "name",
	"profile.birthday":           "birthday",
	"profile.gender":             "gender",
	"profile.housingSituation":   "housing_situation",
	"profile.email":              "email",
	"profile.phone":              "phone",
	"profile.address.street":     "street_address",
	"profile.address.postalcode": "postal_code",
	"profile.address.city":       "city",
	"privacy.reachable":          "reachable",
	"privacy.groupable":          "groupable",
	"membership.joined":          "date_joined",
}

// buildPatch translates an inbound field set into a member patch. Nested
// objects and dotted keys are both accepted.
func buildPatch(fields map[string]any) (members.Patch, error) {
	var patch members.Patch
	flat := map[string]any{}
	flatten("", fields, flat)

	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	seen := map[string]string{}
	for _, key := range keys {
		column, ok := replicaPaths[key]
		if !ok {
			if _, isColumn := columnSetters[key]; !isColumn {
				return patch, fmt.Errorf("unknown field %q", key)
			}
			column = key
		}
		if prev, dup := seen[column]; dup {
			return patch, fmt.Errorf("fields %q and %q both set %s", prev, key, column)
		}
		seen[column] = key
		if err := columnSetters[column](&patch, flat[key]); err != nil {
			return patch, fmt.Errorf("field %q: %w", key, err)
		}
	}
	return patch, nil
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for key, value := range in {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flatten(path, nested, out)
			continue
		}
		out[path] = value
	}
}

func stringSetter(set func(*members.Patch, string)) fieldSetter {
	return func(p *members.Patch, value any) error {
		switch v := value.(type) {
		case nil:
			set(p, "")
		case string:
			set(p, v)
		default:
			return fmt.Errorf("expected string, got %T", value)
		}
		return nil
	}
}

func boolSetter(set func(*members.Patch, bool)) fieldSetter {
	return func(p *members.Patch, value any) error {
		switch v := value.(type) {
		case bool:
			set(p, v)
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("expected boolean, got %q", v)
			}
			set(p, b)
		default:
			return fmt.Errorf("expected boolean, got %T", value)
		}
		return nil
	}
}

func setBirthday(p *members.Patch, value any) error {
	switch v := value.(type) {
	case nil:
		p.ClearBirthday = true
		return nil
	case string:
		if strings.TrimSpace(v) == "" {
			p.ClearBirthday = true
			return nil
		}
		b, err := parseDate(v)
		if err != nil {
			return err
		}
		p.Birthday = &b
		return nil
	default:
		return fmt.Errorf("expected ISO date, got %T", value)
	}
}

func setDateJoined(p *members.Patch, value any) error {
	v, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected timestamp, got %T", value)
	}
	joined, err := parseDate(v)
	if err != nil {
		return err
	}
	p.DateJoined = &joined
	return nil
}

func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", v)
	}
	return t.UTC(), nil
}

func setGender(p *members.Patch, value any) error {
	raw, err := codeOrLabel(value)
	if err != nil {
		return err
	}
	g, err := enums.ParseGender(raw)
	if err != nil {
		return err
	}
	p.Gender = &g
	return nil
}

func setHousing(p *members.Patch, value any) error {
	raw, err := codeOrLabel(value)
	if err != nil {
		return err
	}
	h, err := enums.ParseHousingSituation(raw)
	if err != nil {
		return err
	}
	p.HousingSituation = &h
	return nil
}

// codeOrLabel accepts a label string or a whole JSON number.
func codeOrLabel(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return "", fmt.Errorf("expected whole number, got %v", v)
		}
		return strconv.Itoa(int(v)), nil
	case int:
		return strconv.Itoa(v), nil
	default:
		return "", fmt.Errorf("expected label or code, got %T", value)
	}
}
