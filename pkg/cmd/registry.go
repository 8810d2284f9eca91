// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loopworks/cadence/pkg/actions/notify"
	"github.com/loopworks/cadence/pkg/actions/records"
	"github.com/loopworks/cadence/pkg/actions/sendmessage"
	"github.com/loopworks/cadence/pkg/actions/tag"
	"github.com/loopworks/cadence/pkg/actions/webhook"
	"github.com/loopworks/cadence/pkg/protocol"
	"github.com/loopworks/cadence/pkg/registry"
)

const defaultCollaboratorTimeout = 30 * time.Second

// CollaboratorConfig carries the downstream service endpoints. An empty URL
// leaves that collaborator unregistered, which publish-time validation then
// reports for automations using the kind.
type CollaboratorConfig struct {
	MessagingURL string
	RecordsURL   string
	NotifyURL    string
	Timeout      time.Duration
}

// NewRegistry builds the collaborator registry from the configured
// endpoints. The returned snapshot source is backed by the record store and
// is nil when no records URL is configured.
func NewRegistry(logger *slog.Logger, cfg CollaboratorConfig) (*registry.Registry, protocol.SnapshotSource) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCollaboratorTimeout
	}

	reg := registry.NewRegistry(logger)
	reg.Register(webhook.New(cfg.Timeout))

	var snapshots protocol.SnapshotSource

	if cfg.MessagingURL != "" {
		sender, err := sendmessage.New(cfg.MessagingURL, cfg.Timeout)
		if err != nil {
			panic(fmt.Errorf("failed to create send_message collaborator: %w", err))
		}

		reg.Register(sender)
	}

	if cfg.RecordsURL != "" {
		service, err := records.NewService(cfg.RecordsURL, cfg.Timeout)
		if err != nil {
			panic(fmt.Errorf("failed to create record store client: %w", err))
		}

		reg.Register(records.NewUpdateCollaborator(service))

		addTag, err := tag.NewAdd(cfg.RecordsURL, cfg.Timeout)
		if err != nil {
			panic(fmt.Errorf("failed to create add_tag collaborator: %w", err))
		}

		removeTag, err := tag.NewRemove(cfg.RecordsURL, cfg.Timeout)
		if err != nil {
			panic(fmt.Errorf("failed to create remove_tag collaborator: %w", err))
		}

		reg.Register(addTag)
		reg.Register(removeTag)

		snapshots = service
	}

	if cfg.NotifyURL != "" {
		notifier, err := notify.New(cfg.NotifyURL, cfg.Timeout)
		if err != nil {
			panic(fmt.Errorf("failed to create notify collaborator: %w", err))
		}

		reg.Register(notifier)
	}

	return reg, snapshots
}
