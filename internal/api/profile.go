package api

// UserFlags is the capability bit set carried by a user profile.
type UserFlags int

const (
	FlagPro UserFlags = 1 << iota
	FlagDev
	FlagEarly
	FlagBeta
)

// Has reports whether every bit of f is set.
func (u UserFlags) Has(f UserFlags) bool {
	return u&f == f
}

// Labels returns the badge names for the set bits in display order.
func (u UserFlags) Labels() []string {
	var out []string
	for _, b := range []struct {
		flag  UserFlags
		label string
	}{
		{FlagPro, "PRO"},
		{FlagDev, "DEV"},
		{FlagEarly, "EARLY"},
		{FlagBeta, "BETA"},
	} {
		if u.Has(b.flag) {
			out = append(out, b.label)
		}
	}
	return out
}

// Profile is the public part of a user account.
type Profile struct {
	DisplayName string    `json:"displayName"`
	Name        string    `json:"name"`
	Flags       UserFlags `json:"flags"`
	AvatarURL   string    `json:"avatarURL"`
}
