package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bnema/homiez-cli/internal/domain"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRendered(cmd *cobra.Command, rendered string, err error) error {
	if err != nil {
		return fmt.Errorf("render output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}

// explain turns domain failures into something a person can act on. Lost
// races between session opens are not reported at all.
func explain(err error) error {
	switch {
	case err == nil:
		return nil
	case !domain.UserVisible(err):
		return nil
	case errors.Is(err, domain.ErrUnauthenticated):
		return fmt.Errorf("%w: run `hz login` first", err)
	case errors.Is(err, domain.ErrNotOnboarded):
		return fmt.Errorf("%w: run `hz onboard` first", err)
	case errors.Is(err, domain.ErrJoin), errors.Is(err, domain.ErrConnection):
		return fmt.Errorf("realtime service unavailable: %w", err)
	case errors.Is(err, domain.ErrNetwork):
		return fmt.Errorf("backend unavailable: %w", err)
	default:
		return err
	}
}

// prompter reads answers from the command's input. Secrets are read without
// echo when the input is a terminal.
type prompter struct {
	cmd    *cobra.Command
	reader *bufio.Reader
}

func newPrompter(cmd *cobra.Command) *prompter {
	return &prompter{cmd: cmd, reader: bufio.NewReader(cmd.InOrStdin())}
}

func (p *prompter) line(label string) (string, error) {
	_, _ = fmt.Fprint(p.cmd.ErrOrStderr(), label)
	raw, err := p.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(raw), nil
}

func (p *prompter) secret(label string) (string, error) {
	f, ok := p.cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return p.line(label)
	}

	_, _ = fmt.Fprint(p.cmd.ErrOrStderr(), label)
	raw, err := term.ReadPassword(int(f.Fd()))
	_, _ = fmt.Fprintln(p.cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}

func orPrompt(p *prompter, value, label string) (string, error) {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}
	return p.line(label)
}
