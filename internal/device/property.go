package device

import "strings"

// Properties is a bit set of characteristic capabilities.
type Properties uint8

const (
	PropBroadcast Properties = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropAuthenticatedSignedWrites
	PropExtendedProperties
)

var propertyNames = []struct {
	flag Properties
	name string
}{
	{PropBroadcast, "Broadcast"},
	{PropRead, "Read"},
	{PropWriteWithoutResponse, "WriteWithoutResponse"},
	{PropWrite, "Write"},
	{PropNotify, "Notify"},
	{PropIndicate, "Indicate"},
	{PropAuthenticatedSignedWrites, "AuthenticatedSignedWrites"},
	{PropExtendedProperties, "ExtendedProperties"},
}

func (p Properties) Has(flag Properties) bool {
	return p&flag == flag
}

// CanSubscribe reports whether the characteristic supports notify or indicate.
func (p Properties) CanSubscribe() bool {
	return p&(PropNotify|PropIndicate) != 0
}

// Names lists the human-readable names of the set flags.
func (p Properties) Names() []string {
	var names []string
	for _, pn := range propertyNames {
		if p&pn.flag != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

func (p Properties) String() string {
	return strings.Join(p.Names(), ", ")
}
