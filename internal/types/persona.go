package types

// Persona is the latest known profile projection of an author (kind 0).
// Empty strings mean absent.
type Persona struct {
	PubKey        string `json:"pubkey"`
	Name          string `json:"name,omitempty"`
	Avatar        string `json:"avatar,omitempty"` // absolute http(s) URL
	Banner        string `json:"banner,omitempty"` // absolute http(s) URL
	About         string `json:"about,omitempty"`
	Nip05         string `json:"nip05,omitempty"`
	Nip05Verified bool   `json:"nip05_verified,omitempty"`
	MetadataJSON  string `json:"-"` // raw metadata event as received
}

// ProfileInfo contains the fields of a kind 0 content payload we care about
type ProfileInfo struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Banner      string `json:"banner,omitempty"`
	About       string `json:"about,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
}
