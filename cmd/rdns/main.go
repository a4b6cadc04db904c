package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rdnslabs/rdns/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	tokenFlag string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rdns",
	Short: "rdns dynamic DNS record CLI",
	Long: `rdns manages dynamic DNS zones on an rdns server.

Register a zone to receive a generated name and a bearer token; the token
authorizes every later operation on that zone. Tokens are saved under
~/.rdns/tokens/ so subsequent commands find them automatically.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".rdns"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:9333"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.rdns/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "rdns server URL (default http://localhost:9333)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "bearer token (default: saved token for the zone)")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(renewCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(txtCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── token storage ────────────────────────────────────────────────────────────

// tokenPath is where the token for a zone lives on disk.
func tokenPath(fqdn string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".rdns", "tokens", fqdn), nil
}

func saveToken(fqdn, token string) error {
	p, err := tokenPath(fqdn)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(token+"\n"), 0o600)
}

// resolveToken prefers --token, then walks dotted suffixes of name looking
// for a saved token (so "sub.abc123.lb.example.com" finds the token saved
// for "abc123.lb.example.com").
func resolveToken(name string) string {
	if tokenFlag != "" {
		return tokenFlag
	}
	labels := strings.Split(name, ".")
	for i := 0; i < len(labels); i++ {
		p, err := tokenPath(strings.Join(labels[i:], "."))
		if err != nil {
			return ""
		}
		raw, err := os.ReadFile(p)
		if err == nil {
			return strings.TrimSpace(string(raw))
		}
	}
	return ""
}

func newClient(name string) *client.Client {
	return client.New(serverURL, client.WithToken(resolveToken(name)))
}

// ── register ─────────────────────────────────────────────────────────────────

var (
	regFQDN string
	regSubs []string
)

var registerCmd = &cobra.Command{
	Use:   "register <host> [host...]",
	Short: "Register a new zone with the given apex host addresses",
	Long: `register creates a zone and prints its generated name and token.

Child host lists can be set at creation time with repeated --sub flags:

  rdns register 203.0.113.7 --sub web=203.0.113.8,203.0.113.9`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subs, err := parseSubFlags(regSubs)
		if err != nil {
			return err
		}

		c := client.New(serverURL)
		reg, err := c.CreateDomain(context.Background(), client.CreateRequest{
			FQDN:      regFQDN,
			Hosts:     args,
			Subdomain: subs,
		})
		if err != nil {
			return fmt.Errorf("register zone: %w", err)
		}

		if err := saveToken(reg.FQDN, reg.Token); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save token: %v\n", err)
		}

		fmt.Printf("✓ Zone registered\n\n")
		fmt.Printf("  FQDN:    %s\n", reg.FQDN)
		fmt.Printf("  Token:   %s\n", reg.Token)
		fmt.Printf("  Expires: %s\n\n", reg.Expiration.Format("2006-01-02 15:04:05 MST"))
		fmt.Println("The token was saved to ~/.rdns/tokens/ and cannot be recovered from the server.")
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&regFQDN, "fqdn", "", "Request a specific zone name instead of a generated one")
	registerCmd.Flags().StringArrayVar(&regSubs, "sub", nil, "Child host list, label=host[,host...] (repeatable)")
}

// parseSubFlags turns repeated label=host,host flags into a subdomain map.
func parseSubFlags(flags []string) (map[string][]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	subs := make(map[string][]string, len(flags))
	for _, f := range flags {
		label, hosts, ok := strings.Cut(f, "=")
		if !ok || label == "" || hosts == "" {
			return nil, fmt.Errorf("invalid --sub %q, want label=host[,host...]", f)
		}
		subs[label] = strings.Split(hosts, ",")
	}
	return subs, nil
}

// ── get ──────────────────────────────────────────────────────────────────────

var getFormat string

var getCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show the records at a zone or child name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newClient(args[0]).GetDomain(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get %s: %w", args[0], err)
		}
		if d.FQDN == "" {
			fmt.Printf("%s is not registered\n", args[0])
			return nil
		}
		return printDomain(d)
	},
}

func init() {
	getCmd.Flags().StringVar(&getFormat, "format", "text", "Output format: text or json")
}

func printDomain(d *client.Domain) error {
	if getFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	fmt.Printf("FQDN:    %s\n", d.FQDN)
	if len(d.Hosts) > 0 {
		fmt.Printf("Hosts:   %s\n", strings.Join(d.Hosts, ", "))
	}
	if d.Text != "" {
		fmt.Printf("Text:    %q\n", d.Text)
	}
	if !d.Expiration.IsZero() {
		fmt.Printf("Expires: %s\n", d.Expiration.Format("2006-01-02 15:04:05 MST"))
	}
	if len(d.Subdomain) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SUBDOMAIN\tHOSTS")
		labels := make([]string, 0, len(d.Subdomain))
		for label := range d.Subdomain {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			fmt.Fprintf(w, "%s\t%s\n", label, strings.Join(d.Subdomain[label], ", "))
		}
		return w.Flush()
	}
	return nil
}

// ── update ───────────────────────────────────────────────────────────────────

var updateSubs []string

var updateCmd = &cobra.Command{
	Use:   "update <name> <host> [host...]",
	Short: "Replace the host records at a zone or child name",
	Long: `update overwrites the host list at the given name. For a zone apex,
--sub flags replace the entire child map; omitting them leaves children as
they are.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		subs, err := parseSubFlags(updateSubs)
		if err != nil {
			return err
		}

		d, err := newClient(args[0]).UpdateDomain(context.Background(), args[0], client.UpdateRequest{
			Hosts:     args[1:],
			Subdomain: subs,
		})
		if err != nil {
			return fmt.Errorf("update %s: %w", args[0], err)
		}
		fmt.Printf("✓ Updated %s\n", d.FQDN)
		return printDomain(d)
	},
}

func init() {
	updateCmd.Flags().StringArrayVar(&updateSubs, "sub", nil, "Child host list, label=host[,host...] (repeatable; replaces all children)")
}

// ── renew ────────────────────────────────────────────────────────────────────

var renewCmd = &cobra.Command{
	Use:   "renew <fqdn>",
	Short: "Extend a zone's lease",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newClient(args[0]).RenewDomain(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("renew %s: %w", args[0], err)
		}
		fmt.Printf("✓ Renewed %s until %s\n", d.FQDN, d.Expiration.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

// ── delete ───────────────────────────────────────────────────────────────────

var deleteCmd = &cobra.Command{
	Use:   "delete <fqdn>",
	Short: "Delete a zone and all of its child records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(args[0]).DeleteDomain(context.Background(), args[0]); err != nil {
			return fmt.Errorf("delete %s: %w", args[0], err)
		}
		if p, err := tokenPath(args[0]); err == nil {
			_ = os.Remove(p)
		}
		fmt.Printf("✓ Deleted %s\n", args[0])
		return nil
	},
}

// ── txt ──────────────────────────────────────────────────────────────────────

var txtCmd = &cobra.Command{
	Use:   "txt",
	Short: "Manage TXT records on child names",
}

var txtSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Set the TXT record at a child name, creating the label if needed",
	Long: `txt set writes a TXT value at a dotted child name. The usual case is an
ACME DNS-01 challenge:

  rdns txt set _acme-challenge.abc123.lb.example.com "<challenge value>"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newClient(args[0]).WriteText(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("set txt on %s: %w", args[0], err)
		}
		fmt.Printf("✓ %s TXT %q\n", d.FQDN, d.Text)
		return nil
	},
}

var txtGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show the TXT record at a child name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newClient(args[0]).GetText(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get txt on %s: %w", args[0], err)
		}
		if d.FQDN == "" {
			fmt.Printf("%s has no TXT record\n", args[0])
			return nil
		}
		fmt.Printf("%s TXT %q\n", d.FQDN, d.Text)
		return nil
	},
}

var txtRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove the TXT record at a child name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(args[0]).DeleteText(context.Background(), args[0]); err != nil {
			return fmt.Errorf("remove txt on %s: %w", args[0], err)
		}
		fmt.Printf("✓ Removed TXT at %s\n", args[0])
		return nil
	},
}

func init() {
	txtCmd.AddCommand(txtSetCmd)
	txtCmd.AddCommand(txtGetCmd)
	txtCmd.AddCommand(txtRmCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rdns CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rdns %s\n", version)
	},
}
