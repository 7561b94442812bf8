package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/san-techie21/gulama-gateway/internal/authsession"
	"github.com/san-techie21/gulama-gateway/internal/bootstrap"
	"github.com/san-techie21/gulama-gateway/internal/config"
	"github.com/san-techie21/gulama-gateway/internal/vault"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "First-run setup: create the vault, provision TOTP, seed the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup()
		},
	}
}

func runSetup() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// 1. Vault: create or unlock.
	v := vault.New(config.ExpandHome(cfg.Security.VaultPath))
	if v.IsInitialized() {
		fmt.Println("Vault already exists; unlocking.")
		password, err := promptPassword("Vault password: ")
		if err != nil {
			return err
		}
		if err := v.Unlock(password); err != nil {
			return fmt.Errorf("unlock vault: %w", err)
		}
	} else {
		password, err := promptPassword("Choose a master password: ")
		if err != nil {
			return err
		}
		confirm, err := promptPassword("Repeat it: ")
		if err != nil {
			return err
		}
		if password != confirm {
			return errors.New("passwords do not match")
		}
		if err := v.Initialize(password); err != nil {
			return fmt.Errorf("initialize vault: %w", err)
		}
		// Initialize leaves the vault unlocked; Unlock re-reads and decrypts
		// the file it just wrote before the TOTP write.
		if err := v.Unlock(password); err != nil {
			return fmt.Errorf("unlock new vault: %w", err)
		}
		fmt.Println("Vault created at", cfg.Security.VaultPath)
	}
	defer v.Lock()

	// 2. TOTP: provision once, seal the secret into the vault.
	if has, _ := v.Has(vaultTOTPKey); has {
		fmt.Println("TOTP already provisioned; keeping the existing secret.")
	} else {
		issuer := cfg.Gateway.TOTPIssuer
		if issuer == "" {
			issuer = "gulama"
		}
		mgr := authsession.New("", 0)
		secret, uri, err := mgr.ProvisionTOTP(issuer, "operator")
		if err != nil {
			return fmt.Errorf("provision totp: %w", err)
		}
		if err := v.Set(vaultTOTPKey, secret); err != nil {
			return fmt.Errorf("store totp secret: %w", err)
		}
		fmt.Println("\nScan this provisioning URI with your authenticator app:")
		fmt.Println("  " + uri)
	}

	// 3. Workspace: seed first-run files.
	created, err := bootstrap.EnsureWorkspaceFiles(cfg.WorkspacePath())
	if err != nil {
		return fmt.Errorf("seed workspace: %w", err)
	}
	for _, name := range created {
		fmt.Println("Seeded", name)
	}

	// 4. Persist the config file if it doesn't exist yet.
	path := resolveConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path, cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Println("Wrote default config to", path)
	}

	fmt.Println("\nSetup complete. Start the gateway with `gulama gateway`.")
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(raw), nil
}
