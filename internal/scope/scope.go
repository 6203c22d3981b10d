// Package scope derives conversation scope keys and decides which messages
// belong to a conversation.
//
// Two key formats exist in stored rows: the current one is the subject id
// immediately followed by the requester username ("12ana"), the legacy one is
// the bare subject id ("12"). New rows are always written with the current
// format; readers accept both and narrow legacy rows down to the participant
// pair.
package scope

import (
	"strconv"
	"strings"

	"github.com/donatonuis/chatsync/internal/models"
)

// Key returns the canonical scope key for a requester's conversation about
// an item.
func Key(subjectID int64, requester string) string {
	return strconv.FormatInt(subjectID, 10) + requester
}

// Legacy returns the coarse key used by older rows of the item.
func Legacy(subjectID int64) string {
	return strconv.FormatInt(subjectID, 10)
}

// Participants narrows a conversation to one item and the two people talking
// about it.
type Participants struct {
	SubjectID   int64  `json:"subject_id"`
	Owner       string `json:"owner"`
	Counterpart string `json:"counterpart"`
}

// Key returns the canonical scope key of the conversation.
func (p Participants) Key() string {
	return Key(p.SubjectID, p.Counterpart)
}

// Has reports whether username is one of the two participants.
func (p Participants) Has(username string) bool {
	return username != "" && (username == p.Owner || username == p.Counterpart)
}

// Matcher decides membership of messages in one conversation.
type Matcher struct {
	key          string
	rooms        []string
	participants *Participants
}

// NewMatcher builds the matcher for scopeKey. With participants, the legacy
// key of the item is accepted too and senders are restricted to the pair.
func NewMatcher(scopeKey string, participants *Participants) Matcher {
	m := Matcher{key: scopeKey, rooms: []string{scopeKey}}
	if participants != nil {
		p := *participants
		m.participants = &p
		if legacy := Legacy(p.SubjectID); legacy != scopeKey {
			m.rooms = append(m.rooms, legacy)
		}
	}
	return m
}

// Key returns the scope key the matcher was built for.
func (m Matcher) Key() string {
	return m.key
}

// Rooms returns the accepted scope keys, the requested one first.
func (m Matcher) Rooms() []string {
	return append([]string(nil), m.rooms...)
}

// Participants returns the participant filter, or nil when none was given.
func (m Matcher) Participants() *Participants {
	return m.participants
}

// Match reports whether msg belongs to the conversation. With participants,
// a message that names another item is rejected even when its room matches:
// "12ana" is both item 1 with requester "2ana" and item 12 with "ana".
func (m Matcher) Match(msg models.Message) bool {
	accepted := false
	for _, room := range m.rooms {
		if msg.Room == room {
			accepted = true
			break
		}
	}
	if !accepted {
		return false
	}
	if m.participants == nil {
		return true
	}
	if msg.PrendaID != nil && *msg.PrendaID != m.participants.SubjectID {
		return false
	}
	return m.participants.Has(msg.Username)
}

// NamesRequester reports whether scopeKey is the current-format key of a
// conversation requested by username about some item.
func NamesRequester(scopeKey, username string) bool {
	if username == "" || !strings.HasSuffix(scopeKey, username) {
		return false
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(scopeKey, username), 10, 64)
	return err == nil && id > 0
}

// Requester returns the requesting user of msg, for a message already known
// to be about the given item owned by owner. It returns false when the
// message cannot be attributed to a requester.
func Requester(subjectID int64, owner string, msg models.Message) (string, bool) {
	subject := Legacy(subjectID)

	var requester string
	switch {
	case msg.Room == "":
		if msg.Username != owner {
			requester = msg.Username
		}
	case msg.Room == subject:
		if msg.Username != owner {
			requester = msg.Username
		}
	case strings.HasPrefix(msg.Room, subject):
		requester = msg.Room[len(subject):]
	}

	requester = strings.TrimSpace(requester)
	return requester, requester != ""
}
