// Package identity derives session identifiers and transcript names.
package identity

import (
	"bytes"
	"crypto/md5"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatterbox/pkg/models"
)

// ComputeSessionID returns the session id for a conversation of the given
// kind. Group starts and invites use the supplied id as is, conference
// starts get a fresh random id which the server later replaces, and
// everything else is the XOR of both participants.
func ComputeSessionID(kind models.ConversationKind, other, self uuid.UUID) uuid.UUID {
	switch kind {
	case models.KindGroupStart, models.KindInvite:
		return other
	case models.KindConferenceStart:
		return uuid.New()
	case models.KindP2P, models.KindP2PInvite:
		if other == self {
			// XOR with ourselves would be the nil id.
			return self
		}
		return xor(other, self)
	}
	panic("identity: unhandled conversation kind " + kind.String())
}

func xor(a, b uuid.UUID) uuid.UUID {
	var out uuid.UUID
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// GroupDirectory answers group membership questions for the agent.
type GroupDirectory interface {
	IsInGroup(id uuid.UUID) bool
}

// Resolver binds ComputeSessionID to the local agent.
type Resolver struct {
	self   uuid.UUID
	groups GroupDirectory
}

// NewResolver creates a resolver for the agent self.
func NewResolver(self uuid.UUID, groups GroupDirectory) *Resolver {
	return &Resolver{self: self, groups: groups}
}

// Self returns the agent id the resolver was built for.
func (r *Resolver) Self() uuid.UUID {
	return r.self
}

// SessionID computes the session id and warns when a group session id does
// not match the group it was derived from.
func (r *Resolver) SessionID(kind models.ConversationKind, other uuid.UUID) uuid.UUID {
	id := ComputeSessionID(kind, other, r.self)
	if r.groups != nil && r.groups.IsInGroup(id) && id != other {
		log.Warn().
			Str("kind", kind.String()).
			Str("session_id", id.String()).
			Str("group_id", other.String()).
			Msg("Group session id different from group id")
	}
	return id
}

// ParticipantsHash is the MD5 digest of the sorted, de-duplicated
// participant ids. It names outgoing ad-hoc transcripts so the same set of
// people always lands in the same log.
func ParticipantsHash(ids []uuid.UUID) uuid.UUID {
	set := make(map[uuid.UUID]struct{}, len(ids))
	sorted := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	h := md5.New()
	for _, id := range sorted {
		h.Write(id[:])
	}
	var out uuid.UUID
	copy(out[:], h.Sum(nil))
	return out
}

// BuildUsername turns a legacy "First Last" name into "first.last".
// Residents without a last name ("First Resident") become "first".
func BuildUsername(fullName string) string {
	parts := strings.Fields(fullName)
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return strings.ToLower(parts[0])
	}
	first, last := parts[0], parts[1]
	if strings.EqualFold(last, "Resident") {
		return strings.ToLower(first)
	}
	return strings.ToLower(first + "." + last)
}

// LegacyLogName strips the " Resident" suffix used by old transcript names.
func LegacyLogName(fullName string) string {
	if i := strings.Index(fullName, " Resident"); i >= 0 {
		return fullName[:i]
	}
	return fullName
}
