package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mkovalev/duochat/internal/store"
)

// Names layers per-viewer display-name overrides on top of canonical user
// records. Overrides are cosmetic: the canonical record is never mutated,
// and read failures degrade silently to the canonical name.
type Names struct {
	store store.NameStore
	log   *zerolog.Logger
}

// NewNames builds the overlay over the given name store.
func NewNames(st store.NameStore, logger *zerolog.Logger) *Names {
	return &Names{store: st, log: logger}
}

// DisplayName resolves the name the viewer sees for contact: the custom
// override when one is set, else the canonical name.
func (n *Names) DisplayName(ctx context.Context, viewerID string, contact store.User) string {
	custom, err := n.store.CustomName(ctx, viewerID, contact.ID)
	if err != nil {
		n.log.Warn().Err(err).Str("contact_id", contact.ID).Msg("custom name lookup failed, using canonical")
		return contact.Name
	}
	if custom != "" {
		return custom
	}
	return contact.Name
}

// SetCustomName stores an override for (viewer, contact). Empty input and
// values identical to the current override are no-ops. Failures are
// returned for the caller to surface and retry.
func (n *Names) SetCustomName(ctx context.Context, viewerID, contactID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	current, err := n.store.CustomName(ctx, viewerID, contactID)
	if err == nil && current == name {
		return nil
	}

	if err := n.store.SetCustomName(ctx, viewerID, contactID, name); err != nil {
		return fmt.Errorf("set custom name: %w", err)
	}
	return nil
}

// ClearCustomName removes the override, reverting to the canonical name.
func (n *Names) ClearCustomName(ctx context.Context, viewerID, contactID string) error {
	if err := n.store.ClearCustomName(ctx, viewerID, contactID); err != nil {
		return fmt.Errorf("clear custom name: %w", err)
	}
	return nil
}
