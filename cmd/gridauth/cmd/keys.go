package cmd

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/cobra"

	"github.com/jamesgorrie/grid/internal/auth"
	"github.com/jamesgorrie/grid/internal/authn"
	"github.com/jamesgorrie/grid/internal/db/bunx"
	"github.com/jamesgorrie/grid/internal/db/models"
	"github.com/jamesgorrie/grid/internal/repository"
)

//go:embed keys_import_schema.json
var keysImportSchema string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API key accessors",
	Long:  `Commands for registering, listing, revoking, and importing machine callers.`,
}

var (
	keysCreateTier      string
	keysCreateCreatedBy string
	keysListAll         bool
	keysImportCreatedBy string
)

var keysCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Register a new accessor and print its key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		tier, err := authn.ParseTier(keysCreateTier)
		if err != nil {
			return err
		}

		repo, cleanup, err := openAccessorRepo()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		if _, err := repo.GetByName(ctx, name); err == nil {
			return fmt.Errorf("an accessor named %q is already registered", name)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to check existing accessors: %w", err)
		}

		key, keyHash, err := auth.GenerateAccessKey()
		if err != nil {
			return fmt.Errorf("failed to generate access key: %w", err)
		}

		accessor := &models.Accessor{
			ID:        bunx.NewUUIDv7(),
			Name:      name,
			KeyHash:   keyHash,
			Tier:      string(tier),
			Active:    true,
			CreatedBy: keysCreateCreatedBy,
		}
		if err := repo.Create(ctx, accessor); err != nil {
			return fmt.Errorf("failed to create accessor: %w", err)
		}

		pterm.Success.Printf("Accessor %s registered (tier %s)\n", name, tier)
		pterm.DefaultSection.Println("Access Key")
		fmt.Println(key)
		pterm.Warning.Println("Save this key securely. It will not be shown again.")

		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accessors",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, cleanup, err := openAccessorRepo()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		var accessors []models.Accessor
		if keysListAll {
			accessors, err = repo.List(ctx)
		} else {
			accessors, err = repo.ListActive(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to list accessors: %w", err)
		}

		if len(accessors) == 0 {
			pterm.Info.Printf("No accessors registered\n")
			return nil
		}

		table := pterm.TableData{{"ID", "NAME", "TIER", "ACTIVE", "CREATED BY", "LAST USED"}}
		for _, a := range accessors {
			lastUsed := "never"
			if a.LastUsedAt != nil {
				lastUsed = a.LastUsedAt.Format(time.RFC3339)
			}
			table = append(table, []string{a.ID, a.Name, a.Tier, fmt.Sprintf("%t", a.Active), a.CreatedBy, lastUsed})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke [name]",
	Short: "Deactivate an accessor",
	Long:  `Deactivates an accessor by name (or by ID when no name matches). The row stays for audit; the key stops resolving once running servers refresh their registry.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := args[0]

		repo, cleanup, err := openAccessorRepo()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		accessor, err := repo.GetByName(ctx, ref)
		if errors.Is(err, repository.ErrNotFound) {
			accessor, err = repo.GetByID(ctx, ref)
		}
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("no accessor named %q", ref)
			}
			return fmt.Errorf("failed to look up accessor: %w", err)
		}

		if !accessor.Active {
			pterm.Info.Printf("Accessor %s is already deactivated\n", accessor.Name)
			return nil
		}

		if err := repo.Deactivate(ctx, accessor.ID); err != nil {
			return fmt.Errorf("failed to deactivate accessor: %w", err)
		}

		pterm.Success.Printf("Accessor %s deactivated\n", accessor.Name)
		pterm.Info.Printf("Running servers pick this up on their next registry refresh (or SIGHUP)\n")
		return nil
	},
}

var keysImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import accessors from a JSON file",
	Long: `Imports previously issued keys from a JSON file, for migrating an existing
key list into the registry. Each entry carries the plaintext key; only its
hash is stored. The file is validated against the import schema before
anything is written, and the whole batch is applied in one transaction.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}

		if err := validateImportFile(raw); err != nil {
			return err
		}

		var entries []struct {
			Name string `json:"name"`
			Key  string `json:"key"`
			Tier string `json:"tier"`
		}
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("failed to parse import file: %w", err)
		}

		accessors := make([]*models.Accessor, 0, len(entries))
		for i, entry := range entries {
			if err := auth.DecodeAccessKey(entry.Key); err != nil {
				return fmt.Errorf("entry %d (%s): %w", i, entry.Name, err)
			}
			accessors = append(accessors, &models.Accessor{
				ID:        bunx.NewUUIDv7(),
				Name:      entry.Name,
				KeyHash:   auth.HashAccessKey(entry.Key),
				Tier:      entry.Tier,
				Active:    true,
				CreatedBy: keysImportCreatedBy,
			})
		}

		repo, cleanup, err := openAccessorRepo()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := repo.ImportBatch(context.Background(), accessors); err != nil {
			return fmt.Errorf("import failed, nothing was written: %w", err)
		}

		pterm.Success.Printf("Imported %d accessor(s)\n", len(accessors))
		return nil
	},
}

// validateImportFile checks the raw file against the embedded import schema
// so a malformed file is rejected before any key is hashed or written.
func validateImportFile(raw []byte) error {
	parsedSchema, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(keysImportSchema)))
	if err != nil {
		return fmt.Errorf("failed to parse import schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)
	if err := compiler.AddResource("keys_import_schema.json", parsedSchema); err != nil {
		return fmt.Errorf("failed to register import schema: %w", err)
	}
	schema, err := compiler.Compile("keys_import_schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile import schema: %w", err)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("import file is not valid JSON: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("import file failed validation: %w", err)
	}
	return nil
}

// openAccessorRepo connects to the database and returns the repository plus
// a cleanup closing the connection.
func openAccessorRepo() (repository.AccessorRepository, func(), error) {
	db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	repo := repository.NewBunAccessorRepository(db)
	return repo, func() { _ = bunx.Close(db) }, nil
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRevokeCmd)
	keysCmd.AddCommand(keysImportCmd)

	keysCreateCmd.Flags().StringVar(&keysCreateTier, "tier", "readonly", "Access tier: internal, readonly, or syndication")
	keysCreateCmd.Flags().StringVar(&keysCreateCreatedBy, "created-by", "cli", "Recorded as the creator of the accessor")
	keysListCmd.Flags().BoolVar(&keysListAll, "all", false, "Include deactivated accessors")
	keysImportCmd.Flags().StringVar(&keysImportCreatedBy, "created-by", "import", "Recorded as the creator of imported accessors")
}
