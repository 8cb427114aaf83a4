package cli

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/orrn/kitchenprint/internal/agent"
	"github.com/orrn/kitchenprint/internal/config"
	"github.com/orrn/kitchenprint/internal/logger"
)

type agentFlags struct {
	server     string
	agentID    string
	token      string
	device     string
	logLevel   string
	logFormat  string
	minBackoff time.Duration
	maxBackoff time.Duration
}

// BuildAgentCLI is the remote side: it keeps a session with printd and writes print
// payloads to a locally attached device.
func BuildAgentCLI() *cobra.Command {
	var f agentFlags

	cmd := &cobra.Command{
		Use:           "printagent",
		Short:         "Relay print jobs from printd to a locally attached printer",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.server == "" || f.agentID == "" || f.device == "" {
				return errors.New("--server, --agent-id and --device are required")
			}

			log, err := logger.New(config.LoggingConfig{Level: f.logLevel, Format: f.logFormat})
			if err != nil {
				return errors.Wrap(err, "create logger")
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := agent.NewClient(agent.ClientConfig{
				ServerURL:  f.server,
				AgentID:    f.agentID,
				Token:      f.token,
				MinBackoff: f.minBackoff,
				MaxBackoff: f.maxBackoff,
			}, agent.FileDevice{Path: f.device}, log)

			log.Infow("Agent starting", "server", f.server, "agent_id", f.agentID, "device", f.device)
			return client.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&f.server, "server", "", "printd agent channel URL, e.g. ws://printd:8080/agents/ws")
	cmd.Flags().StringVar(&f.agentID, "agent-id", "", "agent ID, as configured on the printer's address")
	cmd.Flags().StringVar(&f.token, "token", "", "registration token issued by 'printd token'")
	cmd.Flags().StringVar(&f.device, "device", "/dev/usb/lp0", "printer device path")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "log level")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "console", "log format: json or console")
	cmd.Flags().DurationVar(&f.minBackoff, "min-backoff", time.Second, "initial reconnect delay")
	cmd.Flags().DurationVar(&f.maxBackoff, "max-backoff", 30*time.Second, "maximum reconnect delay")

	return cmd
}
