package model

// Permission is a catalog entry for a scope code in the `permissions`
// table. Entries are provisioned out-of-band and read-only to the core;
// a scope whose entry is missing or inactive is rejected outright.
type Permission struct {
	Code             string // permissions.code
	Name             string // permissions.name
	Description      string // permissions.description
	RequiresVerified bool   // permissions.requires_verified
	RequiresOfficial bool   // permissions.requires_official
	IsCritical       bool   // permissions.is_critical
	Active           bool   // permissions.active
}
