// Package storage defines the on-disk file abstraction for specter content.
package storage

// Provider is the interface for file operations confined to one root directory.
type Provider interface {
	// Root returns the absolute directory this provider is confined to.
	Root() string
	// Abs resolves name against the root.
	Abs(name string) (string, error)
	// Exists reports whether name is present under the root.
	Exists(name string) bool
	// Read returns the raw bytes of name.
	Read(name string) ([]byte, error)
	// Write atomically writes content to name.
	Write(name string, content []byte) error
	// Import atomically copies the external file at src into name.
	Import(name, src string) error
	// Delete removes name. A missing file is not an error.
	Delete(name string) error
}
