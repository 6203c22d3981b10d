package view

import (
	"strings"
	"time"

	"github.com/donatonuis/chatsync/internal/models"
	"github.com/donatonuis/chatsync/internal/scope"
	"github.com/donatonuis/chatsync/internal/session"
	"github.com/donatonuis/chatsync/internal/syncerr"
)

// Compose builds the message identity sends in the conversation scopeKey
// between the participants p. The recipient is the other participant.
func Compose(identity session.Identity, p *scope.Participants, scopeKey, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	switch {
	case !identity.Valid():
		return models.Message{}, syncerr.Validation("send", "no signed-in user")
	case scopeKey == "":
		return models.Message{}, syncerr.Validation("send", "scope key is empty")
	case content == "":
		return models.Message{}, syncerr.Validation("send", "content is empty")
	case len(content) > MaxContentLength:
		return models.Message{}, syncerr.Validation("send", "content is too long")
	case p == nil || p.SubjectID == 0:
		return models.Message{}, syncerr.Validation("send", "conversation has no item")
	case !p.Has(identity.Username):
		return models.Message{}, syncerr.Validation("send", "user does not take part in the conversation")
	}

	recipient := p.Owner
	if identity.Username == p.Owner {
		recipient = p.Counterpart
	}
	subject := p.SubjectID
	return models.Message{
		Room:        scopeKey,
		Username:    identity.Username,
		UserDestino: recipient,
		PrendaID:    &subject,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
