package members

import (
	"net/mail"
	"strings"
	"time"

	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/kennitala"
)

// Patch carries the member columns a caller wants to set. Nil fields are left
// untouched; ClearBirthday empties the birthday.
type Patch struct {
	Name             *string
	Birthday         *time.Time
	ClearBirthday    bool
	Gender           *enums.Gender
	HousingSituation *enums.HousingSituation
	Email            *string
	Phone            *string
	StreetAddress    *string
	PostalCode       *string
	City             *string
	Reachable        *bool
	Groupable        *bool
	DateJoined       *time.Time
}

// IsEmpty reports whether the patch would change nothing.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Birthday == nil && !p.ClearBirthday && p.Gender == nil &&
		p.HousingSituation == nil && p.Email == nil && p.Phone == nil && p.StreetAddress == nil &&
		p.PostalCode == nil && p.City == nil && p.Reachable == nil && p.Groupable == nil &&
		p.DateJoined == nil
}

// apply validates and copies the patch onto member.
func (p Patch) apply(member *models.Member) error {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "name must not be empty")
		}
		member.Name = name
	}
	switch {
	case p.ClearBirthday:
		member.Birthday = nil
	case p.Birthday != nil:
		b := time.Date(p.Birthday.Year(), p.Birthday.Month(), p.Birthday.Day(), 0, 0, 0, 0, time.UTC)
		member.Birthday = &b
	}
	if p.Gender != nil {
		if !p.Gender.IsValid() {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid gender %d", int(*p.Gender))
		}
		member.Gender = *p.Gender
	}
	if p.HousingSituation != nil {
		if !p.HousingSituation.IsValid() {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid housing situation %d", int(*p.HousingSituation))
		}
		member.HousingSituation = *p.HousingSituation
	}
	if p.Email != nil {
		email := strings.TrimSpace(*p.Email)
		if email != "" {
			if _, err := mail.ParseAddress(email); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid email")
			}
		}
		member.Email = email
	}
	if p.Phone != nil {
		phone, err := kennitala.NormalizePhone(*p.Phone)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid phone")
		}
		member.Phone = phone
	}
	if p.StreetAddress != nil {
		member.StreetAddress = strings.TrimSpace(*p.StreetAddress)
	}
	if p.PostalCode != nil {
		member.PostalCode = strings.TrimSpace(*p.PostalCode)
	}
	if p.City != nil {
		member.City = strings.TrimSpace(*p.City)
	}
	if p.Reachable != nil {
		member.Reachable = *p.Reachable
	}
	if p.Groupable != nil {
		member.Groupable = *p.Groupable
	}
	if p.DateJoined != nil {
		member.DateJoined = p.DateJoined.UTC()
	}
	return nil
}
