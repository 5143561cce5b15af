package domain

// RoomKey names a session. It is caller-supplied and opaque; rooms come
// into existence on first join and disappear when the last member leaves.
type RoomKey string
