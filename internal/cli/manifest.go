package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/csvwtest/internal/manifest"
)

// ManifestOptions holds flags for the manifest command.
type ManifestOptions struct {
	*RootOptions
	Regenerate bool
	List       bool
}

// EntrySummary describes one entry in manifest output.
type EntrySummary struct {
	ID         string `json:"id"`
	Comparison string `json:"comparison"`
	Positive   bool   `json:"positive"`
	Ambiguous  bool   `json:"ambiguous,omitempty"`
}

// ManifestInfo is the manifest command's result.
type ManifestInfo struct {
	Source  string         `json:"source"`
	Cache   string         `json:"cache"`
	ID      string         `json:"id,omitempty"`
	Label   string         `json:"label,omitempty"`
	Count   int            `json:"count"`
	Entries []EntrySummary `json:"entries,omitempty"`
}

func (m ManifestInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Manifest: %s\n", m.Source)
	if m.Label != "" {
		fmt.Fprintf(&b, "Label:    %s\n", m.Label)
	}
	fmt.Fprintf(&b, "Cache:    %s\n", m.Cache)
	fmt.Fprintf(&b, "Entries:  %d", m.Count)
	for _, e := range m.Entries {
		polarity := "positive"
		if !e.Positive {
			polarity = "negative"
		}
		fmt.Fprintf(&b, "\n  %-40s %-6s %s", e.ID, e.Comparison, polarity)
		if e.Ambiguous {
			b.WriteString(" (ambiguous)")
		}
	}
	return b.String()
}

// NewManifestCommand creates the manifest command.
func NewManifestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ManifestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Load the manifest, refreshing its JSON-LD cache",
		Long: `Load the upstream Turtle manifest, regenerating the framed JSON-LD
cache when the upstream copy is newer, and print a summary.

--regenerate discards the cache first. --list prints every entry with the
comparison it will use.

Examples:
  csvwtest manifest
  csvwtest manifest --regenerate
  csvwtest manifest --list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifest(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Regenerate, "regenerate", false, "discard the cache and regenerate it")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list entries")

	return cmd
}

func runManifest(opts *ManifestOptions, cmd *cobra.Command) error {
	e, err := loadEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd, e.logger)
	defer cancel()

	if opts.Regenerate {
		if err := discardCache(ctx, e.cacheBackend()); err != nil {
			return WrapExitError(ExitCommandError, "failed to remove manifest cache", err)
		}
		newFormatter(opts.RootOptions, cmd).VerboseLog("Removed %s", e.cfg.Manifest.Cache)
	}

	store, err := e.manifestStore()
	if err != nil {
		return err
	}
	m, err := store.Load(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load manifest", err)
	}

	info := ManifestInfo{
		Source: store.Location(),
		Cache:  e.cfg.Manifest.Cache,
		ID:     m.ID,
		Label:  m.Label,
		Count:  m.Len(),
	}
	if opts.List {
		info.Entries = summarizeEntries(m.Entries())
	}
	return newFormatter(opts.RootOptions, cmd).Success(info)
}

// discardCache removes the cache under its lock so a concurrent server never
// reads a half-removed artifact.
func discardCache(ctx context.Context, b manifest.Backend) error {
	unlock, err := b.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return b.Remove(ctx)
}

func summarizeEntries(entries []manifest.Entry) []EntrySummary {
	out := make([]EntrySummary, len(entries))
	for i := range entries {
		cls := entries[i].Classification()
		out[i] = EntrySummary{
			ID:         entries[i].ID,
			Comparison: cls.Comparison.String(),
			Positive:   cls.Positive,
			Ambiguous:  cls.Ambiguous,
		}
	}
	return out
}
