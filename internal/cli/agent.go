package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/communityagent/communityagent/internal/agent"
	"github.com/communityagent/communityagent/internal/store"
	"github.com/spf13/cobra"
)

var (
	agentMessage   string
	agentAPIKey    string
	agentCommunity string
	agentVerbose   bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Send one message to a community's agent from the CLI",
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Message to send to the agent")
	agentCmd.Flags().StringVar(&agentAPIKey, "api-key", "", "Community API key")
	agentCmd.Flags().StringVarP(&agentCommunity, "community", "c", "", "Community ID (instead of --api-key)")
	agentCmd.Flags().BoolVarP(&agentVerbose, "verbose", "v", false, "Print tool calls")
}

func runAgent(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(agentMessage) == "" {
		return fmt.Errorf("--message is required")
	}
	if agentAPIKey == "" && agentCommunity == "" {
		return fmt.Errorf("one of --api-key or --community is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	community, err := resolveCommunity(ctx, st, agentAPIKey, agentCommunity)
	if err != nil {
		return err
	}
	if !community.AgentEnabled {
		return fmt.Errorf("agent is not enabled for community %s", community.Name)
	}

	loop, closeSink, err := buildLoop(cfg, st)
	if err != nil {
		return err
	}
	defer closeSink()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🤖 %s (%s)\n", community.Name, cfg.Model.Name)
	fmt.Fprintln(out, "Thinking...")

	res, err := loop.Run(ctx, agent.RunRequest{Community: community, Message: agentMessage})
	if err != nil {
		return err
	}
	if agentVerbose {
		for _, tc := range res.ToolCalls {
			fmt.Fprintf(out, "🔧 %s %v\n   → %s\n", tc.Tool, tc.Arguments, tc.Result)
		}
	}
	fmt.Fprintln(out, "\n"+res.Response)
	fmt.Fprintf(out, "\n(model %s, %d tokens, %d tools)\n", res.Model, res.TokensUsed, res.ToolsUsed())
	return nil
}

func resolveCommunity(ctx context.Context, st *store.Store, apiKey, id string) (*store.Community, error) {
	var c *store.Community
	var err error
	if apiKey != "" {
		c, err = st.GetCommunityByAPIKey(ctx, apiKey)
	} else {
		c, err = st.GetCommunity(ctx, id)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("community not found")
	}
	return c, err
}
