package device

// Permissions reports which device streams the profile may read.
type Permissions interface {
	CanReadContacts() bool
	CanReadCallLog() bool
}

// StaticPermissions is a fixed grant, typically loaded from config.
type StaticPermissions struct {
	Contacts bool
	CallLog  bool
}

func (p StaticPermissions) CanReadContacts() bool { return p.Contacts }
func (p StaticPermissions) CanReadCallLog() bool  { return p.CallLog }
