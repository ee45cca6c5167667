package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gita-chat/internal/app"
	"gita-chat/internal/auth"
	"gita-chat/internal/chat"
	"gita-chat/internal/tui"
)

const version = "1.0.0"

var (
	flagMock  bool
	flagMode  string
	flagEmail string
)

func main() {
	root := &cobra.Command{
		Use:     "gita",
		Short:   "Gita Chat - a Bhagavad Gita knowledge assistant for the terminal",
		Long:    "Gita Chat answers questions about the Bhagavad Gita with verse citations.\n\nRun without arguments for the interactive chat. Use --mock to explore without a backend or account.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			application, err := buildApplication(ctx, cmd)
			if err != nil {
				return err
			}
			defer application.Close()

			return tui.Run(ctx, application, flagMock)
		},
	}
	root.PersistentFlags().BoolVar(&flagMock, "mock", false, "canned answers, no backend or account needed")
	root.Flags().StringVar(&flagMode, "mode", "", "answer mode: scholar|advanced")

	root.AddCommand(loginCmd(), signupCmd(), logoutCmd(), resetCmd(), healthCmd(), completionCmd(root))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func buildApplication(ctx context.Context, cmd *cobra.Command) (*app.Application, error) {
	cfg, err := app.LoadConfig(app.DefaultConfigPath())
	if err != nil {
		return nil, err
	}
	if flagMode != "" {
		cfg.DefaultMode = flagMode
	}
	return app.NewApplication(ctx, cfg, flagMock)
}

func loadGate() (*auth.Gate, error) {
	cfg, err := app.LoadConfig(app.DefaultConfigPath())
	if err != nil {
		return nil, err
	}
	gate := auth.NewGate(cfg.AuthAPIKey, cfg.SessionPath)
	if err := gate.EnsureReady(); err != nil {
		if errors.Is(err, auth.ErrNotConfigured) {
			return nil, errors.New("no auth key configured: set GITA_AUTH_KEY or auth_api_key in ~/.gita/config.yaml")
		}
		return nil, err
	}
	return gate, nil
}

func promptLine(label string) (string, error) {
	fmt.Printf("%s: ", label)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func resolveEmail() (string, error) {
	if flagEmail != "" {
		return flagEmail, nil
	}
	return promptLine("Email")
}

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and cache the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, err := loadGate()
			if err != nil {
				return err
			}
			email, err := resolveEmail()
			if err != nil {
				return err
			}
			password, err := promptLine("Password")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := gate.SignIn(ctx, email, password)
			if err != nil {
				return authFailure(err)
			}
			color.Green("Signed in as %s", session.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagEmail, "email", "", "account email")
	return cmd
}

func signupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, err := loadGate()
			if err != nil {
				return err
			}
			email, err := resolveEmail()
			if err != nil {
				return err
			}
			password, err := promptLine("Password")
			if err != nil {
				return err
			}
			name, err := promptLine("Display name (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := gate.SignUp(ctx, email, password, name)
			if err != nil {
				return authFailure(err)
			}
			color.Green("Account created. Signed in as %s", session.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagEmail, "email", "", "account email")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the cached session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(app.DefaultConfigPath())
			if err != nil {
				return err
			}
			gate := auth.NewGate(cfg.AuthAPIKey, cfg.SessionPath)
			if err := gate.SignOut(); err != nil {
				return err
			}
			color.Yellow("Signed out.")
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Send a password reset email",
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, err := loadGate()
			if err != nil {
				return err
			}
			email, err := resolveEmail()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := gate.SendReset(ctx, email); err != nil {
				return authFailure(err)
			}
			color.Green("Reset email sent to %s", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagEmail, "email", "", "account email")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the knowledge backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(app.DefaultConfigPath())
			if err != nil {
				return err
			}
			baseURL := cfg.APIURL
			if flagMock {
				baseURL = "mock://"
			}
			client := chat.NewClient(baseURL)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := client.Health(ctx); err != nil {
				color.Red("Backend unreachable: %v", err)
				os.Exit(1)
			}
			color.Green("Backend OK (%s)", baseURL)
			return nil
		},
	}
}

func completionCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish]",
		Short:     "Generate shell completion",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(os.Stdout)
			case "zsh":
				return root.GenZshCompletion(os.Stdout)
			case "fish":
				return root.GenFishCompletion(os.Stdout, true)
			}
			return fmt.Errorf("unsupported shell: %s", args[0])
		},
	}
}

func authFailure(err error) error {
	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		return errors.New(authErr.Friendly())
	}
	return err
}
