package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/communityagent/communityagent/internal/provider"
	"github.com/communityagent/communityagent/internal/store"
	"github.com/communityagent/communityagent/internal/tools"
	"github.com/spf13/cobra"
)

var tenantCmd = &cobra.Command{
	Use:     "tenant",
	Aliases: []string{"community"},
	Short:   "Manage communities, their tools, memories and members",
}

var (
	tenantPrompt   string
	tenantModel    string
	tenantBotToken string
	tenantNoTools  bool
	tenantDisabled bool
)

var tenantCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a community and print its API key",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, st *store.Store, args []string) error {
		c := &store.Community{
			Name:             args[0],
			SystemPrompt:     tenantPrompt,
			Model:            tenantModel,
			TelegramBotToken: tenantBotToken,
			AgentEnabled:     !tenantDisabled,
		}
		if !tenantNoTools {
			c.Tools = store.AllTools()
		}
		created, err := st.CreateCommunity(ctx, c)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Created community %s\n", created.Name)
		fmt.Fprintf(out, "ID:      %s\n", created.ID)
		fmt.Fprintf(out, "API key: %s\n", created.APIKey)
		return nil
	}),
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List communities",
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, st *store.Store, args []string) error {
		list, err := st.ListCommunities(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tAGENT\tTOOLS")
		for _, c := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\n", c.ID, c.Name, onOff(c.AgentEnabled), countEnabled(c.Tools), len(tools.Catalog))
		}
		return tw.Flush()
	}),
}

var tenantShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a community as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, st *store.Store, args []string) error {
		c, err := st.GetCommunity(ctx, args[0])
		if err != nil {
			return err
		}
		c.TelegramBotToken = redact(c.TelegramBotToken)
		return writeIndentedJSON(cmd.OutOrStdout(), c)
	}),
}

var tenantEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable the agent for a community",
	Args:  cobra.ExactArgs(1),
	RunE:  setAgentEnabled(true),
}

var tenantDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable the agent for a community",
	Args:  cobra.ExactArgs(1),
	RunE:  setAgentEnabled(false),
}

var tenantToolsCmd = &cobra.Command{
	Use:   "tools <id> [tool=on|off ...]",
	Short: "Show or switch a community's tools (e.g. web_search=on scrape_webpage=off all=on)",
	Args:  cobra.MinimumNArgs(1),
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, st *store.Store, args []string) error {
		c, err := st.GetCommunity(ctx, args[0])
		if err != nil {
			return err
		}
		if len(args) > 1 {
			for _, arg := range args[1:] {
				name, on, err := parseToolSwitch(arg)
				if err != nil {
					return err
				}
				if name == "all" {
					for _, n := range tools.Names() {
						c.Tools.Set(n, on)
					}
					continue
				}
				if _, ok := tools.Lookup(name); !ok {
					return fmt.Errorf("unknown tool %q (known: %s)", name, strings.Join(tools.Names(), ", "))
				}
				c.Tools.Set(name, on)
			}
			if err := st.UpdateCommunity(ctx, c); err != nil {
				return err
			}
		}
		out := cmd.OutOrStdout()
		for _, n := range tools.Names() {
			mark := "✗"
			if c.Tools.Enabled(n) {
				mark = "✓"
			}
			fmt.Fprintf(out, "%s %s\n", mark, n)
		}
		return nil
	}),
}

var tenantMemoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage a community's knowledge base",
}

var memoryTags []string

var tenantMemoryAddCmd = &cobra.Command{
	Use:   "add <id> <content>",
	Short: "Add a manual memory",
	Args:  cobra.ExactArgs(2),
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, st *store.Store, args []string) error {
		if _, err := st.GetCommunity(ctx, args[0]); err != nil {
			return err
		}
		m, err := st.InsertMemory(ctx, &store.Memory{CommunityID: args[0], Content: args[1], Tags: memoryTags})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Memory %s saved\n", m.ID)
		return nil
	}),
}

var tenantMemoryListCmd = &cobra.Command{
	Use:   "list <id>",
	Short: "List the newest memories",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, st *store.Store, args []string) error {
		mems, err := st.RecentMemories(ctx, args[0], 50)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range mems {
			fmt.Fprintf(out, "[%s] (%s) %s\n", m.CreatedAt.Format("2006-01-02"), m.Source, m.Content)
		}
		return nil
	}),
}

var tenantMemberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage members and their profiles",
}

var (
	memberName      string
	memberUsername  string
	memberBio       string
	memberInterests string
	memberRole      string
	memberEmbed     bool
)

var tenantMemberAddCmd = &cobra.Command{
	Use:   "add <id> <user-id>",
	Short: "Add a member with a profile (optionally embedding it for semantic search)",
	Args:  cobra.ExactArgs(2),
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, st *store.Store, args []string) error {
		communityID, userID := args[0], args[1]
		if _, err := st.GetCommunity(ctx, communityID); err != nil {
			return err
		}
		p := &store.Profile{
			UserID:      userID,
			DisplayName: memberName,
			Username:    memberUsername,
			Bio:         memberBio,
			Interests:   memberInterests,
		}
		if memberEmbed {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			prov, err := newProvider(cfg)
			if err != nil {
				return err
			}
			vec, err := embedProfile(ctx, prov, cfg.Provider.EmbeddingModel, p)
			if err != nil {
				return err
			}
			p.Embedding = vec
		}
		if err := st.UpsertProfile(ctx, p); err != nil {
			return err
		}
		if err := st.AddMember(ctx, communityID, userID, memberRole); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Member %s added to %s\n", userID, communityID)
		return nil
	}),
}

var tenantMemberListCmd = &cobra.Command{
	Use:   "list <id>",
	Short: "List members with profiles",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, st *store.Store, args []string) error {
		members, err := st.MemberProfiles(ctx, args[0], 50)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "USER\tNAME\tROLE\tINTERESTS")
		for _, m := range members {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.UserID, m.DisplayName, m.Role, m.Interests)
		}
		return tw.Flush()
	}),
}

var usageSinceDays int

var tenantUsageCmd = &cobra.Command{
	Use:   "usage <id>",
	Short: "Summarize agent usage",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(ctx context.Context, cmd *cobra.Command, st *store.Store, args []string) error {
		since := time.Now().AddDate(0, 0, -usageSinceDays)
		sum, err := st.SummarizeUsage(ctx, args[0], since)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Last %d days\n", usageSinceDays)
		fmt.Fprintf(out, "Runs:   %d (%d failed)\n", sum.Runs, sum.Failed)
		fmt.Fprintf(out, "Tokens: %d\n", sum.TokensUsed)
		fmt.Fprintf(out, "Tools:  %d\n", sum.ToolsUsed)
		return nil
	}),
}

func init() {
	tenantCreateCmd.Flags().StringVar(&tenantPrompt, "prompt", "", "System prompt for the community's agent")
	tenantCreateCmd.Flags().StringVar(&tenantModel, "model", "", "Model override")
	tenantCreateCmd.Flags().StringVar(&tenantBotToken, "telegram-token", "", "Telegram bot token")
	tenantCreateCmd.Flags().BoolVar(&tenantNoTools, "no-tools", false, "Create with every tool disabled")
	tenantCreateCmd.Flags().BoolVar(&tenantDisabled, "disabled", false, "Create with the agent disabled")

	tenantMemoryAddCmd.Flags().StringSliceVar(&memoryTags, "tag", nil, "Tag (repeatable)")

	tenantMemberAddCmd.Flags().StringVar(&memberName, "name", "", "Display name")
	tenantMemberAddCmd.Flags().StringVar(&memberUsername, "username", "", "Username")
	tenantMemberAddCmd.Flags().StringVar(&memberBio, "bio", "", "Bio")
	tenantMemberAddCmd.Flags().StringVar(&memberInterests, "interests", "", "Interests")
	tenantMemberAddCmd.Flags().StringVar(&memberRole, "role", "member", "Role in the community")
	tenantMemberAddCmd.Flags().BoolVar(&memberEmbed, "embed", false, "Compute the profile embedding now")

	tenantUsageCmd.Flags().IntVar(&usageSinceDays, "days", 30, "Window in days")

	tenantMemoryCmd.AddCommand(tenantMemoryAddCmd, tenantMemoryListCmd)
	tenantMemberCmd.AddCommand(tenantMemberAddCmd, tenantMemberListCmd)
	tenantCmd.AddCommand(tenantCreateCmd, tenantListCmd, tenantShowCmd, tenantEnableCmd, tenantDisableCmd,
		tenantToolsCmd, tenantMemoryCmd, tenantMemberCmd, tenantUsageCmd)
}

// withStore opens the configured store around fn.
func withStore(fn func(ctx context.Context, cmd *cobra.Command, st *store.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(cmd.Context(), cmd, st, args)
	}
}

func setAgentEnabled(on bool) func(*cobra.Command, []string) error {
	return withStore(func(ctx context.Context, cmd *cobra.Command, st *store.Store, args []string) error {
		c, err := st.GetCommunity(ctx, args[0])
		if err != nil {
			return err
		}
		c.AgentEnabled = on
		if err := st.UpdateCommunity(ctx, c); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Agent %s for %s\n", onOff(on), c.Name)
		return nil
	})
}

// embedProfile embeds the text semantic_profile_search compares queries against.
func embedProfile(ctx context.Context, emb provider.Embedder, model string, p *store.Profile) ([]float32, error) {
	text := profileText(p)
	if text == "" {
		return nil, fmt.Errorf("profile %s has no text to embed", p.UserID)
	}
	resp, err := emb.Embed(ctx, &provider.EmbeddingRequest{Input: text, Model: model})
	if err != nil {
		return nil, fmt.Errorf("embed profile: %w", err)
	}
	return resp.Vector, nil
}

func profileText(p *store.Profile) string {
	var parts []string
	for _, s := range []string{p.DisplayName, p.Bio, p.Interests} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ". ")
}

func parseToolSwitch(arg string) (string, bool, error) {
	name, state, ok := strings.Cut(arg, "=")
	if !ok {
		return "", false, fmt.Errorf("expected tool=on|off, got %q", arg)
	}
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "on", "true", "1", "yes":
		return strings.TrimSpace(name), true, nil
	case "off", "false", "0", "no":
		return strings.TrimSpace(name), false, nil
	}
	return "", false, fmt.Errorf("invalid state %q for %s", state, name)
}

func countEnabled(f store.ToolFlags) int {
	n := 0
	for _, name := range tools.Names() {
		if f.Enabled(name) {
			n++
		}
	}
	return n
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func redact(s string) string {
	if len(s) <= 6 {
		if s == "" {
			return ""
		}
		return "***"
	}
	return s[:4] + "***"
}

func writeIndentedJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
