package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// tokenEnv holds the applicant's bearer token.
const tokenEnv = "EXAM_API_TOKEN"

var errNoToken = errors.New("no API token: set " + tokenEnv + " or run from a terminal")

// readToken returns EXAM_API_TOKEN or prompts for it without echo when in
// is a terminal.
func readToken(in io.Reader, prompt io.Writer) (string, error) {
	if token := strings.TrimSpace(os.Getenv(tokenEnv)); token != "" {
		return token, nil
	}

	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", errNoToken
	}

	fmt.Fprint(prompt, "API token: ")
	raw, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}
