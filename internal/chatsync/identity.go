package chatsync

import (
	"context"
	"sync"
)

// ViewerSource reports the authenticated user. *Client satisfies it.
type ViewerSource interface {
	WhoAmI(ctx context.Context) (*Viewer, error)
}

// Resolver remembers who the viewer is. A successful lookup is cached for
// the resolver's lifetime; failures are not, so the next call retries.
type Resolver struct {
	source ViewerSource

	mu     sync.Mutex
	viewer *Viewer
}

// NewResolver returns a Resolver backed by source.
func NewResolver(source ViewerSource) *Resolver {
	return &Resolver{source: source}
}

// WhoAmI returns the viewer's user id.
func (r *Resolver) WhoAmI(ctx context.Context) (string, error) {
	viewer, err := r.Viewer(ctx)
	if err != nil {
		return "", err
	}
	return viewer.ID, nil
}

// Viewer returns the full viewer record.
func (r *Resolver) Viewer(ctx context.Context) (Viewer, error) {
	r.mu.Lock()
	if r.viewer != nil {
		viewer := *r.viewer
		r.mu.Unlock()
		return viewer, nil
	}
	r.mu.Unlock()

	viewer, err := r.source.WhoAmI(ctx)
	if err != nil {
		return Viewer{}, err
	}
	r.mu.Lock()
	r.viewer = viewer
	r.mu.Unlock()
	return *viewer, nil
}

// Counterpart returns the participant whose role differs from the
// viewer's. It reports false when viewerID is not a participant.
func Counterpart(participants []Participant, viewerID string) (Participant, bool) {
	if viewerID == "" {
		return Participant{}, false
	}
	var viewer *Participant
	for i := range participants {
		if participants[i].UserID == viewerID {
			viewer = &participants[i]
			break
		}
	}
	if viewer == nil {
		return Participant{}, false
	}
	for _, p := range participants {
		if p.Role != viewer.Role {
			return p, true
		}
	}
	return Participant{}, false
}

// Labeler names message senders from one viewer's point of view. The zero
// value labels everyone by role only.
type Labeler struct {
	// ViewerID is the viewer's user id, or "" if it could not be resolved.
	ViewerID string
	// Participants maps user ids to roles for the open conversation.
	Participants []Participant
	// Fallback is used for senders with no known role.
	Fallback string
}

// NewLabeler builds a Labeler for conversation as seen by viewerID.
func NewLabeler(viewerID string, conversation *Conversation) Labeler {
	l := Labeler{ViewerID: viewerID, Fallback: "Participant"}
	if conversation != nil {
		l.Participants = conversation.Participants
	}
	return l
}

// IsOwn reports whether senderID is the viewer. It is false when the
// viewer is unknown, so every bubble renders on the counterpart's side.
func (l Labeler) IsOwn(senderID string) bool {
	return l.ViewerID != "" && senderID == l.ViewerID
}

// Label returns "You" for the viewer and the sender's role otherwise.
func (l Labeler) Label(senderID string) string {
	if l.IsOwn(senderID) {
		return "You"
	}
	for _, p := range l.Participants {
		if p.UserID == senderID {
			return RoleLabel(p.Role)
		}
	}
	if l.Fallback == "" {
		return "Participant"
	}
	return l.Fallback
}

// RoleLabel is the display name for a role.
func RoleLabel(role Role) string {
	switch role {
	case RoleVendor:
		return "Vendor"
	case RoleCustomer:
		return "Customer"
	default:
		return "Participant"
	}
}
