package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/issues"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/output"
	"github.com/joescharf/tracker/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
	actAs   string
)

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Tracker - a small team issue tracker",
	Long: `tracker is a small team issue tracker.
It serves a JSON API for issues and accounts, exposes the same operations
as MCP tools, and lets you manage issues and users from the command line.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tracker/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&actAs, "as", "", "Act as the user with this email (default: cli.user)")
}

// setDefaults registers every config default. Tests call it after viper.Reset.
func setDefaults(configDir string) {
	viper.SetDefault("db_path", filepath.Join(configDir, "tracker.db"))
	viper.SetDefault("server.addr", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("session.ttl", auth.DefaultSessionTTL)
	viper.SetDefault("policy.edit", string(issues.EditAnyAuthenticated))
	viper.SetDefault("policy.open_reads", true)
	viper.SetDefault("cli.user", "")
	viper.SetDefault("mcp.user", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

func initConfig() {
	// A .env in the working directory feeds TRACKER_* variables. Real
	// environment variables win.
	_ = godotenv.Load()

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TRACKER")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// policyFromConfig builds the authorization policy from policy.* keys.
func policyFromConfig() (issues.Policy, error) {
	edit, err := issues.ParseEditPolicy(viper.GetString("policy.edit"))
	if err != nil {
		return issues.Policy{}, err
	}
	return issues.Policy{Edit: edit, OpenReads: viper.GetBool("policy.open_reads")}, nil
}

// newService opens the store and builds the lifecycle service and the auth
// provider from config.
func newService() (*issues.Service, *auth.Provider, error) {
	s, err := getStore()
	if err != nil {
		return nil, nil, err
	}
	policy, err := policyFromConfig()
	if err != nil {
		return nil, nil, err
	}
	svc := issues.NewService(s, issues.WithPolicy(policy))
	provider := auth.NewProvider(s, auth.WithSessionTTL(viper.GetDuration("session.ttl")))
	return svc, provider, nil
}

// currentPrincipal resolves the CLI's acting user from --as or cli.user.
func currentPrincipal(ctx context.Context, provider *auth.Provider) (*models.Principal, error) {
	email := actAs
	if email == "" {
		email = viper.GetString("cli.user")
	}
	if email == "" {
		return nil, fmt.Errorf("no acting user: pass --as <email> or set cli.user (tracker config init)")
	}
	p, err := provider.Lookup(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", email, err)
	}
	return p, nil
}
