package models

// Profile is the directory view of a user: display data only, no key
// material.
type Profile struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}
