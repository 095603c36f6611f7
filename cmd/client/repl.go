package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/atinyakov/heartline/internal/client/app"
	"github.com/atinyakov/heartline/internal/client/prompt"
	"github.com/atinyakov/heartline/internal/models"
)

const help = `Available commands:
  help                show this help
  whoami              show the session state
  login <email>       sign in (asks for the password)
  logout              sign out of this session
  logout-all          sign out of every session
  basic <json>        update the basic profile, e.g. {"bio":"hi"}
  prefs <json>        update discovery preferences
  birth <json>        update birth data
  where               show the current location
  open <path>         navigate to path (full reload)
  refresh             re-check the session
  exit                quit`

// repl runs the interactive shell loop until exit, EOF or ctx is done.
func repl(ctx context.Context, shell *app.Shell, in io.Reader, out io.Writer, fd int) {
	r := bufio.NewReader(in)

	for ctx.Err() == nil {
		line, err := prompt.Line(r, out, "heartline> ")
		if err != nil {
			return
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, args[0]))

		switch args[0] {
		case "help":
			fmt.Fprintln(out, help)
		case "whoami":
			printState(out, shell.App())
		case "login":
			if len(args) < 2 {
				fmt.Fprintln(out, "Usage: login <email>")
				continue
			}
			pw, err := prompt.Password(r, out, fd)
			if err != nil {
				fmt.Fprintln(out, "Cannot read password:", err)
				continue
			}
			report(out, "Logged in", shell.App().Login(ctx, args[1], pw))
		case "logout":
			report(out, "Logged out", shell.App().Logout(ctx))
		case "logout-all":
			report(out, "Logged out everywhere", shell.App().LogoutAll(ctx))
		case "basic":
			var p models.BasicProfile
			if decode(out, rest, &p) {
				report(out, "Profile updated", shell.App().UpdateBasic(ctx, p))
			}
		case "prefs":
			var p models.Preferences
			if decode(out, rest, &p) {
				report(out, "Preferences updated", shell.App().UpdatePreferences(ctx, p))
			}
		case "birth":
			var b models.BirthData
			if decode(out, rest, &b) {
				report(out, "Birth data updated", shell.App().UpdateBirthData(ctx, b))
			}
		case "where":
			fmt.Fprintln(out, shell.Location())
		case "open":
			if len(args) < 2 || !strings.HasPrefix(args[1], "/") {
				fmt.Fprintln(out, "Usage: open </path>")
				continue
			}
			shell.Assign(args[1])
			fmt.Fprintln(out, shell.Location())
		case "refresh":
			shell.App().Revalidate(ctx)
			printState(out, shell.App())
		case "exit":
			fmt.Fprintln(out, "Bye")
			return
		default:
			fmt.Fprintln(out, "Unknown command. Type 'help' for a list of commands.")
		}
	}
}

func printState(out io.Writer, a *app.App) {
	st := a.State()
	switch {
	case st.IsAuthenticated:
		fmt.Fprintf(out, "Logged in as %s <%s>", st.User.Name(), st.User.Email)
		if st.Provisional {
			fmt.Fprint(out, " (unconfirmed)")
		}
		fmt.Fprintln(out)
	case !st.IsInitialized:
		fmt.Fprintln(out, "Checking session...")
	default:
		fmt.Fprintln(out, "Not logged in")
	}
	if st.Error != "" {
		fmt.Fprintln(out, "Last error:", st.Error)
	}
}

func report(out io.Writer, ok string, err error) {
	var apiErr *app.Error
	switch {
	case err == nil:
		fmt.Fprintln(out, ok)
	case errors.As(err, &apiErr) && apiErr.Message != "":
		fmt.Fprintln(out, "Failed:", apiErr.Message)
	default:
		fmt.Fprintln(out, "Failed:", err)
	}
}

func decode(out io.Writer, raw string, v any) bool {
	if raw == "" {
		fmt.Fprintln(out, "Usage: <command> <json>")
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		fmt.Fprintln(out, "Invalid JSON:", err)
		return false
	}
	return true
}
