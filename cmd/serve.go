package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"freightdesk/pkg/bus"
	"freightdesk/pkg/channel"
	"freightdesk/pkg/channel/telegram"
	"freightdesk/pkg/channel/whatsapp"
	"freightdesk/pkg/config"
	"freightdesk/pkg/dedupe"
	"freightdesk/pkg/gateway"
	"freightdesk/pkg/worker"
	"freightdesk/pkg/workspace"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook gateway",
	Long:  "Runs freightdesk as a channel gateway: WhatsApp webhooks, optional Telegram polling, the procurement API, and health and readiness endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		env, err := loadEnvironment("cmd.serve", false)
		if err != nil {
			return err
		}
		log := env.log

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		kb, err := env.openKnowledge(runCtx)
		if err != nil {
			log.Error("Failed to open knowledge base", "error", err)
			return err
		}
		defer kb.Close()

		agents, err := env.buildResponderAgents(runCtx, kb)
		if err != nil {
			log.Error("Failed to build agents", "error", err)
			return err
		}

		events := bus.NewEventBus()
		defer events.Close()

		set, err := enabledAdapters(runCtx, env.cfg, env.staging, events, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return err
		}
		defer set.close()

		var mounts []channel.Mounter
		if procure, err := env.buildProcurement(runCtx); err != nil {
			log.Warn("Procurement API disabled", "error", err)
		} else {
			mounts = append(mounts, procure)
		}

		svc, err := gateway.NewService(env.cfg, gateway.Options{
			Handler:  agents.responder(env).Handle,
			Adapters: set.adapters,
			Mounts:   mounts,
			Events:   events,
			Health:   agents.Health,
		}, log)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return err
		}

		log.Info("Gateway started",
			"address", svc.Addr(),
			"channels", enabledChannelNames(set.adapters),
			"identifier", env.cfg.Agents.Identifier.Provider+"/"+env.cfg.Agents.Identifier.Model,
			"estimator", env.cfg.Agents.Estimator.Provider+"/"+env.cfg.Agents.Estimator.Model,
		)
		if err := svc.Run(runCtx); err != nil && !isCanceled(err) {
			log.Error("Gateway runtime failed", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// adapterSet holds the enabled adapters and the resources they share.
type adapterSet struct {
	adapters []channel.Adapter
	closers  []func() error
}

func (s adapterSet) close() {
	for _, closeFn := range s.closers {
		_ = closeFn()
	}
}

func enabledAdapters(ctx context.Context, cfg *config.Config, staging *workspace.Staging, events *bus.EventBus, log *slog.Logger) (adapterSet, error) {
	if log == nil {
		log = slog.Default()
	}
	var set adapterSet

	if cfg.WhatsApp.Enabled {
		if err := cfg.ValidateWhatsApp(); err != nil {
			return set, err
		}
		client, err := whatsapp.NewClient(cfg.WhatsApp, staging, nil, log)
		if err != nil {
			return set, fmt.Errorf("configure whatsapp channel: %w", err)
		}
		store, err := dedupe.New(ctx, cfg.Dedupe.RedisURL, cfg.Dedupe.TTL(), log)
		if err != nil {
			return set, fmt.Errorf("configure message dedupe: %w", err)
		}
		set.closers = append(set.closers, store.Close)

		adapter, err := whatsapp.NewAdapter(client, whatsapp.Options{
			VerifyToken:  cfg.WhatsApp.VerifyToken,
			AppSecret:    cfg.WhatsApp.AppSecret,
			JobTimeout:   cfg.Gateway.JobTimeout(),
			FailureReply: cfg.Dispatch.FailureReply,
			Pool:         worker.New(cfg.Gateway.Workers, cfg.Gateway.QueueSize, log),
			Dedupe:       store,
			Events:       events,
		}, log)
		if err != nil {
			set.close()
			return adapterSet{}, fmt.Errorf("configure whatsapp channel: %w", err)
		}
		set.adapters = append(set.adapters, adapter)
	}

	if cfg.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Telegram, telegram.Options{
			Staging:      staging,
			Events:       events,
			FailureReply: cfg.Dispatch.FailureReply,
			MediaDir:     cfg.WhatsApp.MediaDir,
			JobTimeout:   cfg.Gateway.JobTimeout(),
		}, log)
		if err != nil {
			set.close()
			return adapterSet{}, fmt.Errorf("configure telegram channel: %w", err)
		}
		set.adapters = append(set.adapters, adapter)
	}

	if len(set.adapters) == 0 {
		set.close()
		return adapterSet{}, errors.New("no channels are enabled")
	}

	return set, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
