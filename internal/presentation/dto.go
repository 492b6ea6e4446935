package presentation

import (
	"sort"
	"time"

	"github.com/zjrosen/wcroots/internal/pubsub"
	"github.com/zjrosen/wcroots/internal/registry"
	"github.com/zjrosen/wcroots/internal/workspace"
)

// RepositoryDTO represents an open repository for presentation
type RepositoryDTO struct {
	ID        string    `json:"id"`
	Root      string    `json:"root"`
	OpenedAt  time.Time `json:"opened_at"`
	Externals []string  `json:"externals"`
	Ignored   []string  `json:"ignored"`
}

// ResolutionDTO pairs a path with its owning root. Root is null when no open
// repository owns the path.
type ResolutionDTO struct {
	Path string  `json:"path"`
	Root *string `json:"root"`
}

// EventDTO is one line of `wcroots watch` output.
type EventDTO struct {
	Type      string    `json:"type"`
	Root      string    `json:"root"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FromRepository converts a registry repository to a DTO.
func FromRepository(repo *registry.Repository) RepositoryDTO {
	h := repo.Handle()
	return RepositoryDTO{
		ID:        repo.ID(),
		Root:      repo.Root(),
		OpenedAt:  repo.OpenedAt(),
		Externals: nonNil(h.Externals()),
		Ignored:   nonNil(h.Ignored()),
	}
}

// FromRepositories converts repositories to DTOs sorted by root.
func FromRepositories(repos []*registry.Repository) []RepositoryDTO {
	dtos := make([]RepositoryDTO, len(repos))
	for i, repo := range repos {
		dtos[i] = FromRepository(repo)
	}
	sort.Slice(dtos, func(i, j int) bool { return dtos[i].Root < dtos[j].Root })
	return dtos
}

// FromResolution converts a lookup result.
func FromResolution(path string, repo *registry.Repository, ok bool) ResolutionDTO {
	dto := ResolutionDTO{Path: path}
	if ok && repo != nil {
		root := repo.Root()
		dto.Root = &root
	}
	return dto
}

// FromEvent converts a workspace event.
func FromEvent(ev pubsub.Event[workspace.Event]) EventDTO {
	dto := EventDTO{
		Type:      string(ev.Type),
		Root:      ev.Payload.Root,
		Path:      ev.Payload.Path,
		Timestamp: ev.Timestamp,
	}
	if ev.Payload.Err != nil {
		dto.Error = ev.Payload.Err.Error()
	}
	return dto
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
