package artifact

import (
	"fmt"
	"sort"
	"sync"
)

// FormatName identifies an artifact format.
type FormatName string

// Supported formats.
const (
	FormatXLSX FormatName = "xlsx"
	FormatJSON FormatName = "json"
)

// Registry holds the available artifact formats.
// It provides thread-safe access to format implementations.
type Registry struct {
	mu      sync.RWMutex
	formats map[FormatName]Format
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		formats: make(map[FormatName]Format),
	}
}

// DefaultRegistry returns a registry with every built-in format.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(XLSXFormat{})
	_ = r.Register(JSONFormat{})
	return r
}

// Register adds a format to the registry.
// A format with the same name is overwritten.
func (r *Registry) Register(format Format) error {
	if format == nil {
		return fmt.Errorf("cannot register nil format")
	}
	if format.Name() == "" {
		return fmt.Errorf("format name cannot be empty")
	}
	if format.Extension() == "" {
		return fmt.Errorf("format %q has no file extension", format.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.formats[format.Name()] = format
	return nil
}

// Get retrieves a format by name.
func (r *Registry) Get(name FormatName) (Format, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	format, ok := r.formats[name]
	return format, ok
}

// MustGet retrieves a format by name or panics if not found.
func (r *Registry) MustGet(name FormatName) Format {
	format, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("artifact format %q not registered", name))
	}
	return format
}

// List returns the registered format names, sorted.
func (r *Registry) List() []FormatName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]FormatName, 0, len(r.formats))
	for n := range r.formats {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Has checks if a format is registered.
func (r *Registry) Has(name FormatName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.formats[name]
	return ok
}

// ValidFormats returns the built-in format names.
// Useful for configuration validation.
func ValidFormats() []string {
	return []string{
		string(FormatXLSX),
		string(FormatJSON),
	}
}

// ParseFormat converts a string to FormatName.
func ParseFormat(s string) (FormatName, error) {
	switch s {
	case string(FormatXLSX):
		return FormatXLSX, nil
	case string(FormatJSON):
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("invalid report format: %q (valid formats: %v)", s, ValidFormats())
	}
}
