package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/communityagent/communityagent/internal/gateway"
	"github.com/spf13/cobra"
)

var gatewayCmd = &cobra.Command{
	Use:     "gateway",
	Aliases: []string{"serve"},
	Short:   "Start the HTTP gateway (/webhook-agent, Telegram webhook, /healthz)",
	RunE:    runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	printHeader(cmd.OutOrStdout(), "🌐 communityagent gateway")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	loop, closeSink, err := buildLoop(cfg, st)
	if err != nil {
		return err
	}
	defer closeSink()

	newTelegram := newTelegramFactory(cfg)
	srv := gateway.New(gateway.Options{
		Store:          st,
		Runner:         loop,
		TelegramSecret: cfg.Gateway.TelegramSecret,
		NewTelegram: func(token string) gateway.TelegramSender {
			return newTelegram(token)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Fprintf(cmd.OutOrStdout(), "📡 Listening on http://%s (model %s, store %s)\n", addr, cfg.Model.Name, cfg.Store.Path)
	slog.Info("Gateway starting", "addr", addr, "driver", st.Driver(), "kafka", cfg.Analytics.Kafka.Enabled)
	return srv.ListenAndServe(ctx, addr)
}
