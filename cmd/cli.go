package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/luma/rudis/client"
)

const historyFileEnv = "RUDISCLI_HISTFILE"

var (
	cliHost    string
	cliPort    int
	cliTimeout time.Duration
)

func init() {
	flags := CliCmd.Flags()

	flags.StringVarP(&cliHost, "host", "a", "127.0.0.1", "The server host")
	flags.IntVarP(&cliPort, "port", "p", 6379, "The server port")
	flags.DurationVar(&cliTimeout, "timeout", 30*time.Second, "How long to wait for each reply")
}

var CliCmd = &cobra.Command{
	Use:   "cli [command [arg...]]",
	Short: "Send commands to a rudis server",
	Long: `Send commands to a rudis server, or any other RESP server

Usage
	rudis cli                 starts an interactive prompt
	rudis cli SET foo bar     sends a single command
	echo "GET foo" | rudis cli

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := net.JoinHostPort(cliHost, strconv.Itoa(cliPort))

		conn := client.New(nil)
		if err := conn.Connect(cmd.Context(), addr); err != nil {
			return fmt.Errorf("could not connect to %s: %w", addr, err)
		}
		defer conn.Disconnect() // nolint:errcheck

		out := cmd.OutOrStdout()

		if len(args) > 0 {
			return send(cmd.Context(), conn, out, args)
		}

		if isatty.IsTerminal(os.Stdin.Fd()) {
			return repl(cmd.Context(), conn, out, addr)
		}

		return sendLines(cmd.Context(), conn, out, cmd.InOrStdin())
	},
}

func send(ctx context.Context, conn *client.Conn, out io.Writer, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, cliTimeout)
	defer cancel()

	reply, err := conn.Do(ctx, args...)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, client.FormatReply(reply))
	return nil
}

// runLine sends one line of input. It returns false once the session is
// over.
func runLine(ctx context.Context, conn *client.Conn, out io.Writer, line string) (bool, error) {
	args, err := client.SplitArgs(line)
	if err != nil {
		fmt.Fprintln(out, "Invalid argument(s)")
		return true, nil
	}

	if len(args) == 0 {
		return true, nil
	}

	if strings.EqualFold(args[0], "exit") {
		return false, nil
	}

	if strings.EqualFold(args[0], "quit") {
		ctx, cancel := context.WithTimeout(ctx, cliTimeout)
		defer cancel()

		return false, conn.Quit(ctx)
	}

	if err := send(ctx, conn, out, args); err != nil {
		return false, err
	}

	return true, nil
}

func sendLines(ctx context.Context, conn *client.Conn, out io.Writer, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<30)

	for scanner.Scan() {
		more, err := runLine(ctx, conn, out, scanner.Text())
		if err != nil || !more {
			return err
		}
	}

	return scanner.Err()
}

func repl(ctx context.Context, conn *client.Conn, out io.Writer, addr string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	historyFile := historyPath()
	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}

	defer func() {
		if historyFile == "" {
			return
		}

		if f, err := os.Create(historyFile); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	prompt := addr + "> "

	for {
		input, err := line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		if strings.TrimSpace(input) == "" {
			continue
		}

		line.AppendHistory(input)

		more, err := runLine(ctx, conn, out, input)
		if err != nil {
			return err
		}

		if !more {
			return nil
		}
	}
}

func historyPath() string {
	if path, ok := os.LookupEnv(historyFileEnv); ok {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".rudiscli_history")
}
