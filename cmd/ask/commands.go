package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"quizzy-backend/client"
	"quizzy-backend/models"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	userPrompt  = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("vous> ")
	sourceTitle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("Sources:")
	errorMark   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("error:")
)

const askLongDesc string = `Ask the legal assistant a question and stream the answer.

With a question argument the answer is printed once. Without one, an
interactive session starts and the conversation history is sent along
with every message. Type /exit or press Ctrl+D to quit.

Examples:
  ask "Quelle est la peine pour un vol simple ?"
  ask --api http://localhost:4000/api/v1/ai --token $QUIZZY_TOKEN
  ask status`

type askCommander struct {
	apiTarget string
	token     string
}

func (a *askCommander) client() *client.Client {
	return client.New(a.apiTarget, a.token, nil)
}

func newRootCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:           "ask [question]",
		Short:         "Stream answers from the legal assistant",
		Long:          askLongDesc,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if len(args) == 1 {
				_, err := cmder.ask(ctx, cmd.OutOrStdout(), args[0], nil)
				return err
			}
			return cmder.interactive(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	defaultAPI := os.Getenv("QUIZZY_API")
	if defaultAPI == "" {
		defaultAPI = "http://localhost:4000/api/v1/ai"
	}
	cmd.PersistentFlags().StringVarP(&cmder.apiTarget, "api", "a", defaultAPI, "assistant API base URL")
	cmd.PersistentFlags().StringVarP(&cmder.token, "token", "t", os.Getenv("QUIZZY_TOKEN"), "bearer token")

	cmd.AddCommand(newStatusCmd(cmder), newReinitializeCmd(cmder))
	return cmd
}

func newStatusCmd(cmder *askCommander) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the index is built and how many documents it holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := cmder.client().Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialized:     %t\n", st.Initialized)
			fmt.Fprintf(out, "Documents:       %d\n", st.DocumentsCount)
			if st.Provider != "" {
				fmt.Fprintf(out, "Provider:        %s\n", st.Provider)
				fmt.Fprintf(out, "Embedding model: %s\n", st.EmbeddingModel)
				fmt.Fprintf(out, "Chat model:      %s\n", st.ChatModel)
			}
			if st.BuiltAt != nil {
				fmt.Fprintf(out, "Built at:        %s\n", st.BuiltAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newReinitializeCmd(cmder *askCommander) *cobra.Command {
	return &cobra.Command{
		Use:   "reinitialize",
		Short: "Rebuild the index from the current corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := cmder.client().Reinitialize(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Index rebuilt with %d documents\n", n)
			return nil
		},
	}
}

// ask streams one answer to out and returns it for the conversation history
func (a *askCommander) ask(ctx context.Context, out io.Writer, question string, history []models.ChatTurn) (*client.Answer, error) {
	answer, err := a.client().Chat(ctx, question, history, func(delta string) {
		fmt.Fprint(out, delta)
	})
	fmt.Fprintln(out)
	if err != nil {
		if errors.Is(err, client.ErrIncomplete) {
			return nil, fmt.Errorf("answer interrupted: %w", err)
		}
		return nil, err
	}

	if len(answer.Sources) > 0 {
		fmt.Fprintln(out, "\n"+sourceTitle)
		for _, s := range answer.Sources {
			fmt.Fprintf(out, "  - %s (%s, %s)\n", s.Infraction, s.Article, s.Category)
		}
	}
	return answer, nil
}

func (a *askCommander) interactive(ctx context.Context, in io.Reader, out io.Writer) error {
	var history []models.ChatTurn
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, userPrompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			return nil
		}

		answer, err := a.ask(ctx, out, input, history)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "%s %v\n", errorMark, err)
			continue
		}

		history = append(history,
			models.ChatTurn{Role: models.RoleUser, Content: input},
			models.ChatTurn{Role: models.RoleAssistant, Content: answer.Text},
		)
	}
}
