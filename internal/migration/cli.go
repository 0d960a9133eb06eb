package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI provides command-line interface functionality for migrations
type CLI struct {
	migrator Migrator
	backups  *BackupManager
	output   io.Writer
}

// NewCLI creates a new CLI instance
func NewCLI(migrator Migrator, backups *BackupManager) *CLI {
	return &CLI{
		migrator: migrator,
		backups:  backups,
		output:   os.Stdout,
	}
}

// SetOutput sets the output writer for CLI messages
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// RunInit prepares the migration environment
func (c *CLI) RunInit(ctx context.Context) error {
	if err := c.migrator.Init(); err != nil {
		return fmt.Errorf("init failed: %w", err)
	}
	fmt.Fprintln(c.output, "Migration environment ready.")
	return nil
}

// RunGenerate creates a new empty revision pair
func (c *CLI) RunGenerate(ctx context.Context, description string) error {
	version, err := c.migrator.Generate(description)
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	fmt.Fprintf(c.output, "Created revision %06d: %s\n", version, description)
	return nil
}

// RunUp applies pending revisions through target, TargetHead for all
func (c *CLI) RunUp(ctx context.Context, target uint) error {
	if target == TargetHead {
		fmt.Fprintln(c.output, "Upgrading to head...")
	} else {
		fmt.Fprintf(c.output, "Upgrading to revision %d...\n", target)
	}

	if err := c.migrator.Up(ctx, target); err != nil {
		return fmt.Errorf("upgrade failed: %w", err)
	}

	version, _, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Upgrade complete. Current version: %d\n", version)
	return nil
}

// RunDown rolls back to target, 0 for the root
func (c *CLI) RunDown(ctx context.Context, target uint) error {
	fmt.Fprintf(c.output, "Rolling back to revision %d...\n", target)

	if err := c.migrator.Down(ctx, target); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}

	version, _, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Rollback complete. Current version: %d\n", version)
	return nil
}

// RunHistory prints the revision chain with applied markers
func (c *CLI) RunHistory(ctx context.Context) error {
	records, err := c.migrator.History(ctx)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Fprintln(c.output, "No revisions found.")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tDESCRIPTION\tAPPLIED\tCREATED")
	for _, rec := range records {
		applied := ""
		if rec.Applied {
			applied = "yes"
		}
		if rec.Dirty {
			applied = "dirty"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\t%s\n",
			rec.Version, rec.Description, applied, rec.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

// RunStatus prints a summary of the current schema state
func (c *CLI) RunStatus(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.output, "Current version: %d\n", info.CurrentVersion)
	fmt.Fprintf(c.output, "Revisions: %d total, %d applied, %d pending\n",
		info.Total, info.Applied, info.Pending)
	if info.Dirty {
		fmt.Fprintln(c.output, "WARNING: schema is dirty, manual repair required")
	}

	if len(info.Tables) > 0 {
		fmt.Fprintln(c.output, "Tables:")
		for _, table := range info.Tables {
			fmt.Fprintf(c.output, "  %s\n", table)
		}
	}

	if c.backups != nil {
		backups, err := c.backups.List()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.output, "Backups: %d\n", len(backups))
	}

	return nil
}
