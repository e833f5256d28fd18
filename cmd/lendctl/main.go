package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"lendchain/cmd/internal/passphrase"
	"lendchain/crypto"
	"lendchain/rpc"
)

const (
	defaultPassEnv  = "LENDCHAIN_KEY_PASS"
	defaultEndpoint = "http://127.0.0.1:8080"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:], os.Stdout)
	case "address":
		err = runAddress(os.Args[2:], os.Stdout)
	case "sign-consent":
		err = runSignConsent(os.Args[2:], os.Stdout)
	case "call":
		err = runCall(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: lendctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen        --keystore <path> [--pass-env VAR] [--force]")
	fmt.Fprintln(w, "  address       --keystore <path>")
	fmt.Fprintln(w, "  sign-consent  --keystore <path> --app <id> [--pass-env VAR]")
	fmt.Fprintln(w, "  call          [--endpoint URL] [--keystore <path>] <method> [params...]")
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	keystorePath := fs.String("keystore", "", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := strings.TrimSpace(*keystorePath)
	if path == "" {
		return errors.New("--keystore is required")
	}
	if !*force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("keystore %s already exists (use --force to overwrite)", path)
		}
	}
	pass, err := passphrase.NewSource(*passEnv, "new keystore").Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(path, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintln(out, crypto.FormatIdentity(key.Identity()))
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	keystorePath := fs.String("keystore", "", "Path to the keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := crypto.KeystoreIdentity(strings.TrimSpace(*keystorePath))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, crypto.FormatIdentity(id))
	return nil
}

// runSignConsent prints the consent a borrower gives an app, in the form
// borrower_add and member_join expect.
func runSignConsent(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign-consent", flag.ContinueOnError)
	keystorePath := fs.String("keystore", "", "Borrower keystore file")
	appFlag := fs.String("app", "", "Borrower app identity (bech32 or 0x-hex)")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	app, err := crypto.ParseIdentity(*appFlag)
	if err != nil {
		return fmt.Errorf("--app: %w", err)
	}
	key, err := unlock(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	sig, err := crypto.SignConsent(key, app)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]string{
		"app":       crypto.FormatIdentity(app),
		"borrower":  crypto.FormatIdentity(key.Identity()),
		"signature": "0x" + hex.EncodeToString(sig),
	})
}

// runCall sends a JSON-RPC request. Params that parse as JSON are sent as-is;
// anything else is sent as a string. Without --keystore the request is
// unsigned.
func runCall(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	endpoint := fs.String("endpoint", defaultEndpoint, "JSON-RPC endpoint")
	keystorePath := fs.String("keystore", "", "Keystore used to sign the request")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	timeout := fs.Duration("timeout", 30*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("method is required")
	}
	method := fs.Arg(0)
	params := parseParams(fs.Args()[1:])

	var key *crypto.PrivateKey
	if strings.TrimSpace(*keystorePath) != "" {
		unlocked, err := unlock(*keystorePath, *passEnv)
		if err != nil {
			return err
		}
		key = unlocked
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	result, err := rpc.NewClient(*endpoint, key, nil).CallRaw(ctx, method, params...)
	if err != nil {
		return err
	}
	var decoded interface{}
	if err := json.Unmarshal(result, &decoded); err != nil {
		fmt.Fprintln(out, string(result))
		return nil
	}
	return writeJSON(out, decoded)
}

func parseParams(raw []string) []interface{} {
	params := make([]interface{}, len(raw))
	for i, value := range raw {
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[i] = json.RawMessage(value)
			continue
		}
		params[i] = value
	}
	return params
}

func unlock(path, passEnv string) (*crypto.PrivateKey, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("--keystore is required")
	}
	if key, err := crypto.LoadFromKeystore(trimmed, ""); err == nil {
		return key, nil
	}
	pass, err := passphrase.NewSource(passEnv, "keystore").Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(trimmed, pass)
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
