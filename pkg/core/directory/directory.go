// Package directory resolves elder and village member identities for the
// orchestration core. Profiles are read-only to this system.
package directory

import (
	"context"

	"github.com/villagehq/village/pkg/core"
)

// Directory looks up elder profiles and their village contacts.
// Implementations must distinguish "not found" from "lookup failed":
// unknown identities return a core not-found error, backend trouble
// returns a collaborator error.
type Directory interface {
	Elder(ctx context.Context, elderID string) (*core.Elder, error)
	Member(ctx context.Context, elderID, memberID string) (core.VillageMember, error)
}

// InMemory is a static directory seeded at startup.
type InMemory struct {
	elders map[string]*core.Elder
}

// NewInMemory builds a directory over the given elders.
func NewInMemory(elders ...*core.Elder) *InMemory {
	m := make(map[string]*core.Elder, len(elders))
	for _, e := range elders {
		if e != nil && e.ID != "" {
			m[e.ID] = e
		}
	}
	return &InMemory{elders: m}
}

func (d *InMemory) Elder(_ context.Context, elderID string) (*core.Elder, error) {
	e, ok := d.elders[elderID]
	if !ok {
		return nil, core.NewNotFoundError("elder not found: " + elderID)
	}
	return e, nil
}

func (d *InMemory) Member(_ context.Context, elderID, memberID string) (core.VillageMember, error) {
	e, ok := d.elders[elderID]
	if !ok {
		return core.VillageMember{}, core.NewNotFoundError("elder not found: " + elderID)
	}
	m, ok := e.Member(memberID)
	if !ok {
		return core.VillageMember{}, core.NewNotFoundError("village member not found: " + memberID)
	}
	return m, nil
}

// DemoElder is the seeded demo profile used when no directory backend is
// configured.
func DemoElder() *core.Elder {
	return &core.Elder{
		ID:      "margaret",
		Name:    "Margaret",
		Age:     78,
		Phone:   "+14155550100",
		Address: "12 Maple Street",
		Village: []core.VillageMember{
			{ID: "sarah", Name: "Sarah", Role: "family", Relationship: "daughter", Phone: "+14155550101"},
			{ID: "james", Name: "James", Role: "neighbor", Relationship: "next door", Phone: "+14155550102", Availability: "daytime"},
			{ID: "dr-chen", Name: "Dr. Chen", Role: "medical", Relationship: "primary doctor", Phone: "+14155550103", Availability: "office hours"},
			{ID: "rosa", Name: "Rosa", Role: "volunteer", Relationship: "meal delivery", Phone: "+14155550104"},
		},
	}
}
