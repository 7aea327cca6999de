package models

// Session is the current token pair. A session either has both tokens or does
// not exist; the store rejects a partial pair.
type Session struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
}

// PlanLimits are the subscription-tier ceilings. Replaced wholesale on every
// stats fetch, never patched field by field.
type PlanLimits struct {
	MaxStorageBytes int64 `json:"max_storage_bytes"`
	MaxGalleries    int   `json:"max_galleries"`
	MaxPhotos       int   `json:"max_photos"`
	MaxClients      int   `json:"max_clients"`
}

// Stats is the usage snapshot returned by /subscriptions/me/stats/.
type Stats struct {
	PlanName         string      `json:"plan_name"`
	GalleriesCount   int         `json:"galleries_count"`
	PhotosCount      int         `json:"photos_count"`
	ClientsCount     int         `json:"clients_count"`
	StorageUsedBytes int64       `json:"storage_used_bytes"`
	StorageUsedGB    float64     `json:"storage_used_gb"`
	PlanLimits       *PlanLimits `json:"plan_limits"`
}

const bytesPerGB = 1 << 30

// ComputeDerived fills fields that are derived locally rather than read off
// the wire.
func (s *Stats) ComputeDerived() {
	s.StorageUsedGB = float64(s.StorageUsedBytes) / float64(bytesPerGB)
}

// UserProfile is the merged identity + usage record cached between fetches.
// Stats is nil until the stats endpoint has succeeded at least once; nil is a
// valid degraded state distinct from zeroed usage.
type UserProfile struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	StudioName string `json:"studio_name"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	Stats      *Stats `json:"stats,omitempty"`
}

// FullName joins the name fields, tolerating either being empty.
func (p *UserProfile) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}
