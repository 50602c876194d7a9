package config

// ConfigBackend is where `firewatch config set` persists values. Keys are the
// dotted names from specs; values are stored as text and typed by parse, so
// a backend never needs to know what a key holds.
type ConfigBackend interface {
	Lookup(key string) (raw string, ok bool, err error)
	Store(key, raw string) error
	Remove(key string) error
	// Location names the backing store for messages.
	Location() string
}
