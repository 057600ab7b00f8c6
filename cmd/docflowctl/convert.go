package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/docflow/docflow-backend/internal/wizard/converter"
	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/internal/wizard/kvstore"
	"github.com/docflow/docflow-backend/internal/wizard/orchestrator"
	"github.com/docflow/docflow-backend/internal/wizard/repository"
	"github.com/docflow/docflow-backend/pkg/config"
	"github.com/docflow/docflow-backend/pkg/database"
	"github.com/docflow/docflow-backend/pkg/logger"
)

type convertOptions struct {
	workflow  string
	docType   string
	session   string
	dbPath    string
	outDir    string
	localOnly bool
}

func newConvertCmd(verbose *bool) *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert <file>...",
		Short: "Convert HTML documents to Markdown",
		Long: "Converts HTML documents the way the wizard does and writes one Markdown file per document. " +
			"Progress is stored in the key-value store under --session, so an interrupted batch resumes " +
			"where it stopped and completed documents are not converted again.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := cliLogger(cmd.ErrOrStderr(), *verbose)
			return runConvert(cmd, opts, args, log)
		},
	}
	cmd.Flags().StringVarP(&opts.workflow, "workflow", "w", string(domain.WorkflowValidation), "Workflow: business or validation")
	cmd.Flags().StringVarP(&opts.docType, "type", "t", "", "Document type (default validation; required for business)")
	cmd.Flags().StringVarP(&opts.session, "session", "s", "docflowctl", "Session that records the batch progress")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "sqlite database file (default from config)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", ".", "Directory for the Markdown files")
	cmd.Flags().BoolVar(&opts.localOnly, "local", false, "Convert in-process without calling the conversion service")
	return cmd
}

// batch mirrors finished conversions into the session documents
type batch struct {
	repo      *repository.Repository
	sessionID string
	log       *logger.Logger

	mu   sync.Mutex
	docs []domain.Document
}

func (b *batch) persistStatuses(w domain.Workflow, statuses []domain.ConversionStatus) {
	if err := b.repo.SaveStatuses(context.Background(), b.sessionID, w, statuses); err != nil {
		b.log.Error().Err(err).Msg("failed to persist conversion statuses")
	}
}

func (b *batch) finished(run orchestrator.ConversionRun) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if run.Apply(b.docs) == 0 {
		return
	}
	if err := b.repo.SaveDocuments(context.Background(), b.sessionID, b.docs); err != nil {
		b.log.Error().Err(err).Msg("failed to persist converted documents")
	}
}

func (b *batch) document(id string) domain.Document {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, _ := domain.FindDocument(b.docs, id)
	return doc
}

func runConvert(cmd *cobra.Command, opts convertOptions, files []string, log *logger.Logger) error {
	ctx := cmd.Context()

	w := domain.Workflow(opts.workflow)
	if !w.Valid() {
		return fmt.Errorf("unknown workflow %q", opts.workflow)
	}
	docType := domain.DocumentType(opts.docType)
	if docType == "" {
		if w != domain.WorkflowValidation {
			return fmt.Errorf("--type is required for the %s workflow", w)
		}
		docType = domain.DocumentTypeValidation
	}
	if !w.Accepts(docType) {
		return fmt.Errorf("document type %q is not allowed in the %s workflow", docType, w)
	}

	cfg, err := config.Load(cliName)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.dbPath != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = opts.dbPath
	}

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	store := kvstore.NewSQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	repo := repository.New(store, log)

	state, err := repo.Load(ctx, opts.session)
	if err != nil {
		return err
	}
	if state.Workflow != "" && state.Workflow != w {
		return fmt.Errorf("session %q holds a %s batch; pick another --session", opts.session, state.Workflow)
	}

	docs := state.Documents
	var order []string
	for _, path := range files {
		name := filepath.Base(path)
		if existing, ok := findByName(docs, name, docType); ok {
			order = append(order, existing.ID)
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		// a batch holds any number of documents of one type
		doc := domain.Document{ID: uuid.New().String(), Name: name, DocumentType: docType, RawContent: string(raw)}
		docs = append(docs, doc)
		order = append(order, doc.ID)
	}

	if err := repo.SaveWorkflow(ctx, opts.session, w); err != nil {
		return err
	}
	if err := repo.SaveDocuments(ctx, opts.session, docs); err != nil {
		return err
	}
	statuses, err := repo.LoadStatuses(ctx, opts.session, w, docs)
	if err != nil {
		return err
	}

	chain := converter.NewChain(log)
	if !opts.localOnly {
		chain.Register(converter.NewHTTPConverter("primary", cfg.Services.ConversionURL, cfg.Orchestrator.ConversionTimeout, log))
		chain.Register(converter.NewHTTPConverter("fallback", cfg.Services.ConversionFallbackURL, cfg.Orchestrator.ConversionTimeout, log))
	}
	if opts.localOnly || cfg.Orchestrator.LocalConverter {
		chain.Register(converter.NewLocalConverter())
	}
	chain.SetCallTimeout(cfg.Orchestrator.ConversionTimeout)

	b := &batch{repo: repo, sessionID: opts.session, log: log, docs: docs}
	conv := orchestrator.NewConversion(chain, orchestrator.ConversionOptions{Timeout: chain.Budget()},
		orchestrator.ConversionHooks{OnChange: b.persistStatuses, OnFinish: b.finished}, log)
	conv.Restore(w, statuses)

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	out := cmd.OutOrStdout()
	var converted, skipped, failed int
	for _, id := range order {
		doc := b.document(id)
		if st, ok := conv.Status(id); ok && st.State == domain.ConversionCompleted && doc.Converted() {
			fmt.Fprintf(out, "skip     %s\n", doc.Name)
			skipped++
			continue
		}

		task, err := conv.Regenerate(doc, w)
		if err != nil {
			fmt.Fprintf(out, "error    %s: %v\n", doc.Name, err)
			failed++
			continue
		}
		if err := task.Wait(ctx); err != nil {
			conv.Cancel()
			<-task.Done()
			if errors.Is(err, context.Canceled) {
				fmt.Fprintf(out, "interrupted, %d converted; run again to resume\n", converted)
			}
			return err
		}

		st, _ := conv.Status(id)
		if st.State != domain.ConversionCompleted {
			fmt.Fprintf(out, "error    %s: %s\n", doc.Name, st.ErrorMessage)
			failed++
			continue
		}
		target := filepath.Join(opts.outDir, domain.MarkdownFileName(doc.Name))
		if err := os.WriteFile(target, []byte(st.Result), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}
		fmt.Fprintf(out, "convert  %s -> %s\n", doc.Name, target)
		converted++
	}

	fmt.Fprintf(out, "%d converted, %d skipped, %d failed\n", converted, skipped, failed)
	if failed > 0 {
		return fmt.Errorf("%d documents failed to convert", failed)
	}
	return nil
}

func findByName(docs []domain.Document, name string, t domain.DocumentType) (domain.Document, bool) {
	for _, d := range docs {
		if d.Name == name && d.DocumentType == t {
			return d, true
		}
	}
	return domain.Document{}, false
}
