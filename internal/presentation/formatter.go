package presentation

import (
	"encoding/json"
	"io"
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

// FormatRepositories formats a list of repositories as indented JSON
func (f *Formatter) FormatRepositories(repos []RepositoryDTO) error {
	return f.indented(repos)
}

// FormatResolutions formats path lookups as indented JSON
func (f *Formatter) FormatResolutions(res []ResolutionDTO) error {
	return f.indented(res)
}

// FormatEvent writes ev as a single JSON line
func (f *Formatter) FormatEvent(ev EventDTO) error {
	return json.NewEncoder(f.writer).Encode(ev)
}

func (f *Formatter) indented(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
