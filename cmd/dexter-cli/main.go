package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gliksbot/dexter/internal/application"
	"github.com/gliksbot/dexter/internal/interfaces/cli"
)

const defaultServer = "http://127.0.0.1:18650"

func main() {
	var serverURL string

	rootCmd := &cobra.Command{
		Use:   "dexter-cli",
		Short: "dexter, the multi-model collaboration orchestrator",
		Long:  "dexter-cli talks to a running dexter server: run collaboration sessions, follow the live feed, and manage skills and campaigns.",
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "dexter server base URL")

	newClient := func() *cli.Client { return cli.NewClient(serverURL) }
	renderer := cli.NewRenderer(100)

	chatCmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Run one collaboration session and print dexter's answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaign, _ := cmd.Flags().GetString("campaign")
			result, err := newClient().Chat(cmd.Context(), strings.Join(args, " "), campaign)
			if err != nil {
				return err
			}
			fmt.Println(renderer.ChatResult(result))
			return nil
		},
	}
	chatCmd.Flags().String("campaign", "", "attach the session to a campaign")
	rootCmd.AddCommand(chatCmd)

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Follow the live collaboration feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, _ := cmd.Flags().GetString("slot")
			session, _ := cmd.Flags().GetString("session")
			return newClient().Events(cmd.Context(), slot, session, func(ev cli.Event) {
				fmt.Println(renderer.Event(ev))
			})
		},
	}
	eventsCmd.Flags().String("slot", "", "only events from this slot")
	eventsCmd.Flags().String("session", "", "only events from this session")
	rootCmd.AddCommand(eventsCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List collaboration sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			activeOnly, _ := cmd.Flags().GetBool("active")
			sessions, err := newClient().Status(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range sessions {
				line := fmt.Sprintf("%s  %-8s %-12s", s.ID, s.Status, s.Phase)
				if s.Winner != "" {
					line += "  winner=" + s.Winner
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	statusCmd.Flags().Bool("active", false, "only running sessions")
	rootCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(skillsCommand(newClient, renderer))
	rootCmd.AddCommand(campaignsCommand(newClient))

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print client and server versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("dexter-cli v%s\n", application.Version)
			if server, err := newClient().Health(cmd.Context()); err == nil {
				fmt.Printf("server   v%s\n", server)
			}
			return nil
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func skillsCommand(newClient func() *cli.Client, renderer *cli.Renderer) *cobra.Command {
	skillsCmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage harvested skills",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			activeOnly, _ := cmd.Flags().GetBool("active")
			all, err := newClient().Skills(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println("no skills")
				return nil
			}
			for _, sk := range all {
				fmt.Println(renderer.Skill(sk))
			}
			return nil
		},
	}
	listCmd.Flags().Bool("active", false, "only active skills")
	skillsCmd.AddCommand(listCmd)

	skillsCmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a skill with its source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sk, err := newClient().Skill(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(renderer.Skill(*sk))
			fmt.Println()
			fmt.Println(renderer.Markdown("```python\n" + sk.Source + "\n```"))
			return nil
		},
	})

	testCmd := &cobra.Command{
		Use:   "test <id>",
		Short: "Run a skill in the sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			result, err := newClient().TestSkill(cmd.Context(), args[0], message)
			if err != nil {
				return err
			}
			fmt.Println(renderer.TestResult(result))
			return nil
		},
	}
	testCmd.Flags().StringP("message", "m", "ping", "input message for the run")
	skillsCmd.AddCommand(testCmd)

	skillsCmd.AddCommand(&cobra.Command{
		Use:   "promote <id>",
		Short: "Promote a tested skill to active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sk, err := newClient().PromoteSkill(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(renderer.Skill(*sk))
			return nil
		},
	})

	execCmd := &cobra.Command{
		Use:   "exec <id>",
		Short: "Execute an active skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			output, err := newClient().ExecuteSkill(cmd.Context(), args[0], message)
			if err != nil {
				return err
			}
			fmt.Println(output)
			return nil
		},
	}
	execCmd.Flags().StringP("message", "m", "", "input message for the run")
	skillsCmd.AddCommand(execCmd)

	return skillsCmd
}

func campaignsCommand(newClient func() *cli.Client) *cobra.Command {
	campaignsCmd := &cobra.Command{
		Use:   "campaigns",
		Short: "Manage campaigns",
	}

	campaignsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := newClient().Campaigns(cmd.Context())
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println("no campaigns")
				return nil
			}
			for _, cp := range all {
				fmt.Printf("%s  %-8s %s (%d sessions)\n", cp.ID, cp.Status, cp.Name, len(cp.Sessions))
			}
			return nil
		},
	})

	campaignsCmd.AddCommand(&cobra.Command{
		Use:   "create <name> <objective>",
		Short: "Create a campaign",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := newClient().CreateCampaign(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s\n", cp.ID, cp.Name)
			return nil
		},
	})

	return campaignsCmd
}
