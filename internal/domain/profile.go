package domain

// ProfileType differentiates customer vs engineer callers.
type ProfileType string

const (
	ProfileTypeCustomer ProfileType = "customer"
	ProfileTypeEngineer ProfileType = "engineer"
	ProfileTypeSystem   ProfileType = "system"
)

// Profile is the closed set of caller identities. Only the types in this
// package implement it; Manager entry points switch over the concrete type.
type Profile interface {
	ProfileID() string
	Type() ProfileType
	Ref() ProfileRef
	sealedProfile()
}

// CustomerProfile is a customer who opens tickets.
type CustomerProfile struct {
	ID   string
	Name string
}

// EngineerProfile is an engineer who claims and fixes tickets.
type EngineerProfile struct {
	ID   string
	Name string
}

// SystemProfile identifies automated callers such as the deadline scheduler.
type SystemProfile struct {
	Name string
}

func (p CustomerProfile) ProfileID() string { return p.ID }
func (p CustomerProfile) Type() ProfileType { return ProfileTypeCustomer }
func (p CustomerProfile) Ref() ProfileRef   { return ProfileRef{ID: p.ID, Name: p.Name} }
func (CustomerProfile) sealedProfile()      {}

func (p EngineerProfile) ProfileID() string { return p.ID }
func (p EngineerProfile) Type() ProfileType { return ProfileTypeEngineer }
func (p EngineerProfile) Ref() ProfileRef   { return ProfileRef{ID: p.ID, Name: p.Name} }
func (EngineerProfile) sealedProfile()      {}

func (p SystemProfile) ProfileID() string { return "system:" + p.Name }
func (p SystemProfile) Type() ProfileType { return ProfileTypeSystem }
func (p SystemProfile) Ref() ProfileRef   { return ProfileRef{ID: p.ProfileID(), Name: p.Name} }
func (SystemProfile) sealedProfile()      {}

// NewProfile builds a Profile from an identity provider's tagged record.
// It returns false for unknown types.
func NewProfile(id, name string, profileType ProfileType) (Profile, bool) {
	switch profileType {
	case ProfileTypeCustomer:
		return CustomerProfile{ID: id, Name: name}, true
	case ProfileTypeEngineer:
		return EngineerProfile{ID: id, Name: name}, true
	default:
		return nil, false
	}
}
