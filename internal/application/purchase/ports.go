package purchase

// IDGenerator issues identifiers for purchase headers and lines.
type IDGenerator interface {
	NewID() string
}
