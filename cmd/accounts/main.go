package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"videobatch/internal/domain"
	"videobatch/internal/infra"
	"videobatch/internal/infra/credentials"
	"videobatch/internal/providers/video"
)

func main() {
	var (
		providerFlag string
		identityFlag string
		secretFlag   string
		disableFlag  bool
		listFlag     bool
	)
	flag.StringVar(&providerFlag, "provider", "", "provider the account belongs to (qwen, flow, gemini)")
	flag.StringVar(&identityFlag, "identity", "", "account email")
	flag.StringVar(&secretFlag, "secret", "", "account password (fallbacks to ACCOUNT_SECRET)")
	flag.BoolVar(&disableFlag, "disable", false, "disable the account instead of storing it")
	flag.BoolVar(&listFlag, "list", false, "list enabled accounts of the provider")
	flag.Parse()
	_ = godotenv.Load()

	provider := strings.TrimSpace(strings.ToLower(providerFlag))
	if !video.Default().Has(provider) {
		exitWithError(fmt.Errorf("unknown provider %q", providerFlag))
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "accounts").Str("provider", provider).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		exitWithError(err)
	}
	defer pool.Close()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	if listFlag {
		accounts, err := store.Accounts(ctx, provider)
		if err != nil {
			exitWithError(err)
		}
		for i, a := range accounts {
			fmt.Printf("%d\t%s\n", i, a.Identity)
		}
		return
	}

	identity := strings.TrimSpace(identityFlag)
	if identity == "" {
		exitWithError(fmt.Errorf("-identity is required"))
	}
	if disableFlag {
		if err := store.DisableAccount(ctx, provider, identity); err != nil {
			exitWithError(fmt.Errorf("disable %s: %w", identity, err))
		}
		fmt.Printf("%s account %s disabled\n", provider, identity)
		return
	}

	secret := secretFlag
	if secret == "" {
		secret = os.Getenv("ACCOUNT_SECRET")
	}
	if secret == "" {
		exitWithError(fmt.Errorf("password is required via -secret or ACCOUNT_SECRET"))
	}
	if err := store.UpsertAccount(ctx, provider, domain.Account{Identity: identity, Secret: secret}); err != nil {
		exitWithError(fmt.Errorf("store %s: %w", identity, err))
	}
	fmt.Printf("%s account %s stored\n", provider, identity)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
