package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spigell/job-agents/internal/chat"
	"github.com/spigell/job-agents/internal/jobs"
	"github.com/spigell/job-agents/internal/orchestrator"
	"github.com/spigell/job-agents/internal/router"
	"go.uber.org/zap"
)

const (
	CommandClear   = "/clear"
	CommandJobs    = "/jobs"
	CommandProfile = "/profile"
	CommandStop    = "/stop"
	CommandMenu    = "/menu"
	CommandQuit    = "/quit"

	MenuClear      = "Clear the conversation"
	MenuJobs       = "Show saved jobs"
	MenuDeleteJob  = "Delete a saved job"
	MenuDumpJobs   = "Dump saved jobs to file"
	MenuProfile    = "Show profile"
	MenuQuit       = "Quit"
	MenuBack       = "back"
	chatPromptText = "you"
)

var errQuit = errors.New("quit requested")

var menu = promptui.Select{
	Label: "Choose an action",
	Items: []string{MenuJobs, MenuDeleteJob, MenuDumpJobs, MenuProfile, MenuClear, MenuQuit, MenuBack},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the discovery and matching agents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runChat(cmd.Context(), cmd)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().Bool("show-reasoning", false, "print model thoughts when the provider streams them")
}

func runChat(ctx context.Context, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := buildApplication(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	showReasoning, _ := cmd.Flags().GetBool("show-reasoning")
	out := newTranscript(cmd.OutOrStdout(), showReasoning)

	input := promptui.Prompt{Label: chatPromptText}
	fmt.Fprintf(cmd.OutOrStdout(), "Type a message, %s for actions or %s to exit. Ctrl-C stops a running answer.\n\n", CommandMenu, CommandQuit)

	for {
		line, err := input.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return nil
			}
			return err
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "/") {
			if err := handleCommand(ctx, cmd, a, out, text); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				a.logger.Error("command failed", zap.String("command", text), zap.Error(err))
			}
			continue
		}

		result, err := runTurn(ctx, a.orch, text)
		switch {
		case errors.Is(err, router.ErrSessionBusy):
			a.logger.Warn("agent is still answering", zap.Error(err))
			continue
		case err != nil:
			return err
		}

		out.Print(result.Timeline)
		reportTurn(a.logger, result)
	}
}

// runTurn handles one message. An interrupt during the turn stops the active
// agent instead of exiting.
func runTurn(ctx context.Context, orch *orchestrator.Orchestrator, text string) (*orchestrator.TurnResult, error) {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-interrupts:
			_ = orch.Stop(chat.AgentDiscovery)
			_ = orch.Stop(chat.AgentMatching)
		case <-done:
		}
	}()

	return orch.HandleInput(ctx, text)
}

func reportTurn(logger *zap.Logger, result *orchestrator.TurnResult) {
	if result.Decision.Refusal != router.RefusalNone {
		logger.Info("scoring request redirected", zap.String("reason", string(result.Decision.Refusal)))
	}
	for _, te := range result.ToolErrors {
		logger.Warn("tool result was not applied",
			zap.String("tool", te.ToolName),
			zap.String("invocation_id", te.InvocationID),
			zap.String("error", te.Message),
		)
	}
	if result.Stopped {
		logger.Info("answer stopped")
	}
	if result.Error != "" {
		logger.Error("agent failed", zap.String("error", result.Error), zap.String("hint", "send a new message to retry"))
	}
}

func handleCommand(ctx context.Context, cmd *cobra.Command, a *application, out *transcript, command string) error {
	switch strings.Fields(command)[0] {
	case CommandQuit:
		return errQuit
	case CommandClear:
		return clearConversation(ctx, a, out)
	case CommandJobs:
		return printJobs(ctx, cmd, a)
	case CommandProfile:
		return printProfile(ctx, cmd, a)
	case CommandStop:
		_ = a.orch.Stop(chat.AgentDiscovery)
		_ = a.orch.Stop(chat.AgentMatching)
		return nil
	case CommandMenu:
		return runMenu(ctx, cmd, a, out)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runMenu(ctx context.Context, cmd *cobra.Command, a *application, out *transcript) error {
	_, action, err := menu.Run()
	if err != nil {
		return err
	}

	switch action {
	case MenuJobs:
		return printJobs(ctx, cmd, a)
	case MenuDeleteJob:
		return selectAndDeleteJob(ctx, a)
	case MenuDumpJobs:
		return dumpJobs(ctx, a)
	case MenuProfile:
		return printProfile(ctx, cmd, a)
	case MenuClear:
		return clearConversation(ctx, a, out)
	case MenuQuit:
		return errQuit
	case MenuBack:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func clearConversation(ctx context.Context, a *application, out *transcript) error {
	if err := a.orch.Clear(ctx); err != nil {
		return err
	}
	out.Reset()
	a.logger.Info("conversation cleared")
	return nil
}

func printJobs(ctx context.Context, cmd *cobra.Command, a *application) error {
	saved, err := a.store.GetJobs(ctx, a.config.UserID)
	if err != nil {
		return err
	}
	if len(saved) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No saved jobs yet.")
		return nil
	}
	for _, job := range saved {
		fmt.Fprintln(cmd.OutOrStdout(), jobLine(job))
	}
	return nil
}

func printProfile(ctx context.Context, cmd *cobra.Command, a *application) error {
	profile, err := a.store.GetProfile(ctx, a.config.UserID)
	if err != nil {
		return err
	}
	if profile == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Profile is not set. Use `job-agents profile set`.")
		return nil
	}
	pretty, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
	return nil
}

func selectAndDeleteJob(ctx context.Context, a *application) error {
	saved, err := a.store.GetJobs(ctx, a.config.UserID)
	if err != nil {
		return err
	}

	items := make([]string, 0, len(saved)+1)
	for _, job := range saved {
		items = append(items, jobLine(job))
	}

	jobPrompt := promptui.Select{
		Label: "Choose a job to delete and press ENTER",
		Items: append(items, MenuBack),
	}
	idx, _, err := jobPrompt.Run()
	if err != nil {
		return err
	}
	job, ok := jobForChoice(saved, idx)
	if !ok {
		return nil
	}

	if err := a.deleteJob(ctx, job.ID); err != nil {
		return err
	}
	a.logger.Info("deleted saved job", zap.String("job_id", job.ID))
	return nil
}

// jobForChoice maps a menu index back to the listed job. Indexes past the
// list, such as the trailing back entry, select nothing.
func jobForChoice(saved []jobs.Job, idx int) (jobs.Job, bool) {
	if idx < 0 || idx >= len(saved) {
		return jobs.Job{}, false
	}
	return saved[idx], true
}

func dumpJobs(ctx context.Context, a *application) error {
	saved, err := a.store.GetJobs(ctx, a.config.UserID)
	if err != nil {
		return err
	}
	filename, err := jobs.NewList(saved).DumpToTmpFile()
	if err != nil {
		return fmt.Errorf("dump saved jobs to file: %w", err)
	}
	a.logger.Info("dumping saved jobs to file", zap.String("filename", filename), zap.Int("count", len(saved)))
	return nil
}

// deleteJob goes through the orchestrator when it is running so its snapshot
// stays current.
func (a *application) deleteJob(ctx context.Context, jobID string) error {
	if a.orch != nil {
		return a.orch.DeleteJob(ctx, jobID)
	}
	return a.store.DeleteJob(ctx, a.config.UserID, jobID)
}
