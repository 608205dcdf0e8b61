// Command authctl is a CLI client for the authcore HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mzrzvi/authcore/internal/convert"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "authctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "authctl")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveTokens(tf tokenFile) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tf)
}

func readTokens() (tokenFile, error) {
	var tf tokenFile
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return tf, err
	}
	err = json.Unmarshal(b, &tf)
	return tf, err
}

// loadAccess returns a stored access token that has not expired yet.
func loadAccess() (string, error) {
	tf, err := readTokens()
	if err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login or refresh required)")
	}
	return tf.AccessToken, nil
}

// expiry reads exp from a token without verifying its signature.
func expiry(raw string) time.Time {
	var claims jwt.RegisteredClaims
	_, _, _ = jwt.NewParser().ParseUnverified(raw, &claims)
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().Add(15 * time.Minute)
}

// storeResponse merges a token answer into the stored file. Refresh answers
// carry no refresh token, so the old one is kept.
func storeResponse(resp *convert.TokensResponse) error {
	tf, _ := readTokens()
	tf.AccessToken = resp.AccessToken
	tf.ExpiresAt = expiry(resp.AccessToken)
	if resp.RefreshToken != "" {
		tf.RefreshToken = resp.RefreshToken
	}
	if resp.UserID != "" {
		tf.UserID = resp.UserID
	}
	return saveTokens(tf)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `authctl CLI
Usage:
  authctl -addr URL [-cacert file | -insecure] <cmd> [args]

Commands:
  version
  signup  -e <email> -p <password> -first <name> -last <name> [-type user]
  login   -e <email> -p <password>     (saves tokens)
  refresh                              (renews the access token)
  me
  connections
  delete                               (removes the account)
  logout
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the HTTP API.
func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:8080", "server URL")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	insecure := flag.Bool("insecure", false, "skip cert verify (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	if cmd == "version" {
		fmt.Printf("authctl %s (%s)\n", version, buildDate)
		return
	}

	cli, err := newClient(*addr, *caPath, *insecure)
	if err != nil {
		fail(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, cli, cmd, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			usage()
		}
		fail(err)
	}
}

// run executes one subcommand.
func run(ctx context.Context, cli *client, cmd string, args []string) error {
	switch cmd {
	case "signup":
		fs := flag.NewFlagSet("signup", flag.ContinueOnError)
		var req convert.SignupRequest
		fs.StringVar(&req.Email, "e", "", "email")
		fs.StringVar(&req.Password, "p", "", "password")
		fs.StringVar(&req.FirstName, "first", "", "first name")
		fs.StringVar(&req.LastName, "last", "", "last name")
		fs.StringVar(&req.PhoneNumber, "phone", "", "phone number")
		fs.StringVar(&req.UserType, "type", "", "user type")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if req.Validate() != nil {
			return errors.New("need -e -p -first -last")
		}
		resp, err := cli.signup(ctx, req)
		if err != nil {
			return err
		}
		if err := storeResponse(resp); err != nil {
			return err
		}
		fmt.Println(resp.UserID)

	case "login":
		fs := flag.NewFlagSet("login", flag.ContinueOnError)
		e := fs.String("e", "", "email")
		p := fs.String("p", "", "password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *e == "" || *p == "" {
			return errors.New("need -e and -p")
		}
		resp, err := cli.login(ctx, *e, *p)
		if err != nil {
			return err
		}
		if err := storeResponse(resp); err != nil {
			return err
		}
		fmt.Println("ok")

	case "refresh":
		tf, err := readTokens()
		if err != nil || tf.RefreshToken == "" {
			return errors.New("no refresh token (login first)")
		}
		resp, err := cli.refresh(ctx, tf.RefreshToken)
		if err != nil {
			return err
		}
		if err := storeResponse(resp); err != nil {
			return err
		}
		fmt.Println("ok")

	case "me":
		tok, err := loadAccess()
		if err != nil {
			return err
		}
		p, err := cli.me(ctx, tok)
		if err != nil {
			return err
		}
		printJSON(p)

	case "connections":
		tok, err := loadAccess()
		if err != nil {
			return err
		}
		cs, err := cli.connections(ctx, tok)
		if err != nil {
			return err
		}
		printJSON(cs)

	case "delete":
		tok, err := loadAccess()
		if err != nil {
			return err
		}
		if err := cli.deleteMe(ctx, tok); err != nil {
			return err
		}
		_ = os.Remove(tokenPath())
		fmt.Println("deleted")

	case "logout":
		if err := os.Remove(tokenPath()); err != nil && !os.IsNotExist(err) {
			return err
		}
		fmt.Println("ok")

	default:
		return flag.ErrHelp
	}
	return nil
}

// ---- helpers ----

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		fmt.Fprintf(os.Stderr, "api error: status=%d msg=%s\n", ae.Status, ae.Message)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
