package state

// StreamSnapshot is the persisted view of one event stream.
type StreamSnapshot struct {
	Anchor string   `json:"anchor"`
	Seeded bool     `json:"seeded"`
	Seen   []string `json:"seen"`
}
