package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/akazantsev/relaychat/internal/backend"
	"github.com/akazantsev/relaychat/internal/domain"
	"github.com/akazantsev/relaychat/internal/store"
)

// Bootstrapper resolves the durable identity and an active conversation
// with the remote service.
type Bootstrapper interface {
	// Bootstrap loads or creates the identity credential, then opens a
	// conversation. Runs once per Initialize.
	Bootstrap(ctx context.Context) (domain.Credential, domain.Conversation, error)

	// NewConversation opens a fresh conversation for an existing
	// identity. The identity itself is never recreated.
	NewConversation(ctx context.Context, cred domain.Credential) (domain.Conversation, error)
}

type remoteBootstrapper struct {
	repo   store.Repository
	client *backend.Client
	logger *slog.Logger
}

// NewBootstrapper creates a Bootstrapper backed by the remote service and
// the local session store.
func NewBootstrapper(repo store.Repository, client *backend.Client, logger *slog.Logger) Bootstrapper {
	return &remoteBootstrapper{repo: repo, client: client, logger: logger}
}

func (b *remoteBootstrapper) Bootstrap(ctx context.Context) (domain.Credential, domain.Conversation, error) {
	stored, err := b.repo.LoadCredential(ctx)
	if err != nil {
		return domain.Credential{}, domain.Conversation{}, fmt.Errorf("%w: load stored credential: %w", ErrIdentityCreation, err)
	}

	var cred domain.Credential
	if stored != nil {
		cred = *stored
		b.logger.Debug("Identity restored from store", "user_id", cred.UserID)
	} else {
		cred, err = b.client.CreateUser(ctx)
		if err != nil {
			return domain.Credential{}, domain.Conversation{}, fmt.Errorf("%w: %w", ErrIdentityCreation, err)
		}
		if err := b.repo.SaveCredential(ctx, cred); err != nil {
			return domain.Credential{}, domain.Conversation{}, fmt.Errorf("%w: persist credential: %w", ErrIdentityCreation, err)
		}
		b.logger.Info("Identity created", "user_id", cred.UserID)
	}

	conv, err := b.NewConversation(ctx, cred)
	if err != nil {
		return domain.Credential{}, domain.Conversation{}, err
	}
	return cred, conv, nil
}

func (b *remoteBootstrapper) NewConversation(ctx context.Context, cred domain.Credential) (domain.Conversation, error) {
	conv, err := b.client.CreateConversation(ctx, cred)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: %w", ErrConversationCreation, err)
	}
	b.logger.Info("Conversation created", "conversation_id", conv.ID)
	return conv, nil
}
