package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/magpieflow/magpie/internal/knowledge"
	"github.com/magpieflow/magpie/internal/store"
)

// newKnowledgeCmd creates the "magpie knowledge" command group. The knowledge
// base feeds context into workflow authoring; these commands manage and
// query it directly.
func newKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "knowledge",
		Aliases: []string{"kb"},
		Short:   "Manage the knowledge base behind workflow authoring",
		Long: `Add, search, and maintain knowledge documents. Documents are partitioned
by domain; only their metadata (title, keywords, tags, summary) is embedded
for retrieval, the full body stays in the store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newKnowledgeAddCmd())
	cmd.AddCommand(newKnowledgeSearchCmd())
	cmd.AddCommand(newKnowledgeListCmd())
	cmd.AddCommand(newKnowledgeShowCmd())
	cmd.AddCommand(newKnowledgeDeleteCmd())
	cmd.AddCommand(newKnowledgeDomainsCmd())
	cmd.AddCommand(newKnowledgeQueriesCmd())
	return cmd
}

func init() {
	rootCmd.AddCommand(newKnowledgeCmd())
}

// knowledgeAddFlags holds the flag values for "knowledge add".
type knowledgeAddFlags struct {
	Title    string   // --title; defaults to the file name
	Domain   string   // --domain; empty means detect from content
	Category string   // --category; groups the document into a knowledge base
	Tags     []string // --tag, repeatable
}

func newKnowledgeAddCmd() *cobra.Command {
	var flags knowledgeAddFlags

	cmd := &cobra.Command{
		Use:   "add <file...>",
		Short: "Ingest documents into the knowledge base",
		Long: `Read text files, derive their summaries and keywords, embed their
metadata, and index them. With no --domain the home domain is detected
from the content; ambiguous documents land in the common collection only.`,
		Example: `  # Ingest with a detected domain
  magpie knowledge add docs/naver-crawler.md

  # File it as a reusable pattern and tag it
  magpie knowledge add docs/retry-patterns.md --category workflow_patterns --tag retry

  # Batch-ingest a docs directory as integration examples
  magpie knowledge add docs/integrations/*.md --category integration_examples`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKnowledgeAdd(cmd, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.Title, "title", "", "Document title (defaults to the file name)")
	cmd.Flags().StringVar(&flags.Domain, "domain", "", "Home domain (detected from content when empty)")
	cmd.Flags().StringVar(&flags.Category, "category", "", "Knowledge base category (workflow_patterns, error_solutions, code_templates, integration_examples, best_practices)")
	cmd.Flags().StringArrayVar(&flags.Tags, "tag", nil, "Tag the document (repeatable)")

	return cmd
}

func runKnowledgeAdd(cmd *cobra.Command, paths []string, flags knowledgeAddFlags) error {
	if flags.Title != "" && len(paths) > 1 {
		return fmt.Errorf("--title applies to a single file, got %d", len(paths))
	}

	rt, err := openRuntime(runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()

	kb, err := rt.requireKnowledge()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, path := range paths {
		doc, err := documentFromFile(path, flags)
		if err != nil {
			return err
		}
		if err := kb.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("adding document %s: %w", path, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Added %q as %s (domain %s)\n",
			doc.Title, shortID(doc.ID), domainLabel(doc.Domain))
	}
	return nil
}

// documentFromFile reads one file from disk and shapes it into a document,
// deriving the title from the file name when none was given.
func documentFromFile(path string, flags knowledgeAddFlags) (*store.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}

	title := flags.Title
	if title == "" {
		base := filepath.Base(path)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return &store.Document{
		Title:    title,
		Content:  string(content),
		Domain:   flags.Domain,
		Category: store.DocumentCategory(flags.Category),
		Tags:     flags.Tags,
	}, nil
}

// knowledgeSearchFlags holds the flag values for "knowledge search".
type knowledgeSearchFlags struct {
	Domain   string  // --domain, restrict routing
	Category string  // --category, filter candidates before ranking
	Limit    int     // --limit
	Weight   float64 // --semantic-weight
	Context  bool    // --context, render the context window instead of a table
	JSON     bool    // --json
}

func newKnowledgeSearchCmd() *cobra.Command {
	var flags knowledgeSearchFlags

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search the knowledge base",
		Long: `Hybrid search over document metadata: semantic similarity on the embedded
metadata blob blended with lexical keyword overlap. Without --domain the
query is routed through domain detection; unrecognized queries search
every collection.`,
		Example: `  # Route by detection
  magpie knowledge search naver news crawler

  # Filter to reusable patterns and lean lexical
  magpie knowledge search retry backoff --category workflow_patterns --semantic-weight 0.3

  # Render the context window an authoring agent would see
  magpie knowledge search weather api --context`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKnowledgeSearch(cmd, strings.Join(args, " "), flags)
		},
	}

	cmd.Flags().StringVar(&flags.Domain, "domain", "", "Restrict routing to one domain (plus common)")
	cmd.Flags().StringVar(&flags.Category, "category", "", "Keep only hits from one knowledge base category")
	cmd.Flags().IntVar(&flags.Limit, "limit", 5, "Maximum hits")
	cmd.Flags().Float64Var(&flags.Weight, "semantic-weight", -1, "Semantic score weight in [0,1] (default from config)")
	cmd.Flags().BoolVar(&flags.Context, "context", false, "Render hits as an authoring context window")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Output hits as JSON to stdout")

	return cmd
}

func runKnowledgeSearch(cmd *cobra.Command, query string, flags knowledgeSearchFlags) error {
	rt, err := openRuntime(runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()

	kb, err := rt.requireKnowledge()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []knowledge.SearchOption{knowledge.WithLimit(flags.Limit)}
	if flags.Domain != "" {
		opts = append(opts, knowledge.InDomain(flags.Domain))
	}
	if flags.Category != "" {
		opts = append(opts, knowledge.InCategory(store.DocumentCategory(flags.Category)))
	}
	if flags.Weight >= 0 {
		opts = append(opts, knowledge.WithSemanticWeight(flags.Weight))
	}

	hits, err := kb.Search(ctx, query, opts...)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}

	if flags.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	out := cmd.ErrOrStderr()
	if len(hits) == 0 {
		fmt.Fprintln(out, "No documents matched.")
		return nil
	}

	if flags.Context {
		fmt.Fprintln(cmd.OutOrStdout(), kb.BuildContext(hits, rt.cfg.Knowledge.ContextMaxTokens))
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tDOMAIN\tSCORE\tSEMANTIC\tLEXICAL")
	for _, h := range hits {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.3f\t%.3f\t%.3f\n",
			shortID(h.Document.ID), h.Document.Title, domainLabel(h.Document.Domain),
			h.Score, h.Semantic, h.Lexical)
	}
	return tw.Flush()
}

func newKnowledgeListCmd() *cobra.Command {
	var domain string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			docs, err := rt.store.ListDocuments(domain)
			if err != nil {
				return fmt.Errorf("listing documents: %w", err)
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(docs)
			}

			out := cmd.ErrOrStderr()
			if len(docs) == 0 {
				fmt.Fprintln(out, "No documents stored.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tDOMAIN\tTAGS\tUPDATED")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					shortID(d.ID), d.Title, domainLabel(d.Domain),
					strings.Join(d.Tags, ","), d.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "Filter to one home domain")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output documents as JSON to stdout")
	return cmd
}

func newKnowledgeShowCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show one document in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			doc, err := rt.store.GetDocument(args[0])
			if err != nil {
				return fmt.Errorf("loading document %s: %w", args[0], err)
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}

			renderDocument(cmd.ErrOrStderr(), doc)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the document as JSON to stdout")
	return cmd
}

// renderDocument writes the human view of one document.
func renderDocument(w io.Writer, d *store.Document) {
	title := fmt.Sprintf("Document %s", d.ID)
	fmt.Fprintln(w, styleHeader.Render(title))
	fmt.Fprintln(w, strings.Repeat("=", len(title)))
	fmt.Fprintf(w, "Title:    %s\n", d.Title)
	fmt.Fprintf(w, "Domain:   %s\n", domainLabel(d.Domain))
	if d.Category != "" {
		fmt.Fprintf(w, "Category: %s\n", d.Category)
	}
	if len(d.Tags) > 0 {
		fmt.Fprintf(w, "Tags:     %s\n", strings.Join(d.Tags, ", "))
	}
	if len(d.Keywords) > 0 {
		fmt.Fprintf(w, "Keywords: %s\n", strings.Join(d.Keywords, ", "))
	}
	if d.Summary != "" {
		fmt.Fprintf(w, "Summary:  %s\n", d.Summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, d.Content)
}

func newKnowledgeDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document and its vector entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			kb, err := rt.requireKnowledge()
			if err != nil {
				return err
			}
			if err := kb.DeleteDocument(args[0]); err != nil {
				return fmt.Errorf("deleting document %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Deleted document %s\n", shortID(args[0]))
			return nil
		},
	}
	return cmd
}

// newKnowledgeDomainsCmd lists and registers knowledge domains.
func newKnowledgeDomainsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "List or register knowledge domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			domains, err := rt.store.ListDomains()
			if err != nil {
				return fmt.Errorf("listing domains: %w", err)
			}

			out := cmd.ErrOrStderr()
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tACTIVE\tKEYWORDS")
			for _, d := range domains {
				fmt.Fprintf(tw, "%s\t%v\t%s\n", d.Name, d.Active, strings.Join(d.Keywords, ", "))
			}
			return tw.Flush()
		},
	}

	var keywords []string
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a domain with its detection keywords",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			kb, err := rt.requireKnowledge()
			if err != nil {
				return err
			}
			d, err := kb.EnsureDomain(args[0], keywords...)
			if err != nil {
				return fmt.Errorf("registering domain: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Domain %q registered (%d keywords)\n", d.Name, len(d.Keywords))
			return nil
		},
	}
	addCmd.Flags().StringArrayVar(&keywords, "keyword", nil, "Detection keyword (repeatable)")
	cmd.AddCommand(addCmd)

	disableCmd := &cobra.Command{
		Use:   "disable <name>",
		Short: "Deactivate a domain so detection skips it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			kb, err := rt.requireKnowledge()
			if err != nil {
				return err
			}
			if err := kb.DeactivateDomain(args[0]); err != nil {
				return fmt.Errorf("deactivating domain: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Domain %q deactivated\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(disableCmd)

	return cmd
}

// newKnowledgeQueriesCmd shows the recent query log.
func newKnowledgeQueriesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Show recent knowledge searches",
		Long:  "Every search is logged with its detected domains, hit count, and latency.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			entries, err := rt.store.RecentQueries(limit)
			if err != nil {
				return fmt.Errorf("reading query log: %w", err)
			}

			out := cmd.ErrOrStderr()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No queries recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tQUERY\tDOMAINS\tHITS\tLATENCY")
			for _, q := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%dms\n",
					q.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					q.Query, strings.Join(q.Domains, ","), q.Hits, q.LatencyMS)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum log entries")
	return cmd
}

// domainLabel renders an empty home domain as common for display.
func domainLabel(domain string) string {
	if domain == "" {
		return knowledge.CommonDomain
	}
	return domain
}
