package enums

import (
	"fmt"
	"strconv"
	"strings"
)

// Gender is stored as a small integer on the member row.
type Gender int

const (
	GenderUnknown Gender = iota
	GenderMale
	GenderFemale
	GenderOther
)

var genderLabels = map[Gender]string{
	GenderUnknown: "unknown",
	GenderMale:    "male",
	GenderFemale:  "female",
	GenderOther:   "other",
}

// String returns the replica label for the value.
func (g Gender) String() string {
	if label, ok := genderLabels[g]; ok {
		return label
	}
	return genderLabels[GenderUnknown]
}

func (g Gender) IsValid() bool {
	_, ok := genderLabels[g]
	return ok
}

// ParseGender accepts either the replica label or the numeric code.
func ParseGender(value string) (Gender, error) {
	raw := strings.ToLower(strings.TrimSpace(value))
	for code, label := range genderLabels {
		if label == raw {
			return code, nil
		}
	}
	if n, err := strconv.Atoi(raw); err == nil && Gender(n).IsValid() {
		return Gender(n), nil
	}
	return GenderUnknown, fmt.Errorf("invalid gender %q", value)
}

// HousingSituation is stored as a small integer on the member row.
type HousingSituation int

const (
	HousingUnknown HousingSituation = iota
	HousingOwner
	HousingRental
	HousingCooperative
	HousingFamily
	HousingOther
	HousingHomeless
)

var housingLabels = map[HousingSituation]string{
	HousingUnknown:     "unknown",
	HousingOwner:       "owner",
	HousingRental:      "rental",
	HousingCooperative: "cooperative",
	HousingFamily:      "family",
	HousingOther:       "other",
	HousingHomeless:    "homeless",
}

func (h HousingSituation) String() string {
	if label, ok := housingLabels[h]; ok {
		return label
	}
	return housingLabels[HousingUnknown]
}

func (h HousingSituation) IsValid() bool {
	_, ok := housingLabels[h]
	return ok
}

// ParseHousingSituation accepts either the replica label or the numeric code.
func ParseHousingSituation(value string) (HousingSituation, error) {
	raw := strings.ToLower(strings.TrimSpace(value))
	for code, label := range housingLabels {
		if label == raw {
			return code, nil
		}
	}
	if n, err := strconv.Atoi(raw); err == nil && HousingSituation(n).IsValid() {
		return HousingSituation(n), nil
	}
	return HousingUnknown, fmt.Errorf("invalid housing situation %q", value)
}
