// Package retrieval embeds a query, searches the tenant's partition,
// and assembles the matched chunks into a bounded context block for
// answer generation.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/docchat/docchat/internal/embed"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/retry"
)

// blockSeparator joins per-chunk blocks inside the context text.
const blockSeparator = "\n\n---\n\n"

// ContextBlock is the assembled retrieval context for one query.
// Sources preserves retrieval order and may repeat a filename when
// several chunks of the same document matched.
type ContextBlock struct {
	Text    string
	Sources []string
	Empty   bool
}

// Searcher is the slice of the vector index retrieval reads from.
type Searcher interface {
	Search(ctx context.Context, tenantID string, queryVec []float32, topK int) ([]index.Result, error)
}

// Assembler retrieves and formats context. Safe for concurrent use.
type Assembler struct {
	embedder        embed.Embedder
	searcher        Searcher
	topK            int
	maxContextChars int
	retryCfg        retry.Config
	logger          *slog.Logger
}

// New creates an Assembler. maxContextChars bounds the assembled
// context text; chunks that would push past the bound are dropped
// lowest-ranked first.
func New(e embed.Embedder, s Searcher, topK, maxContextChars int, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		embedder:        e,
		searcher:        s,
		topK:            topK,
		maxContextChars: maxContextChars,
		retryCfg:        retry.Default(),
		logger:          logger,
	}
}

// Retrieve embeds the query with the same embedder used at ingestion,
// searches the tenant's partition, and assembles the context block.
// Zero matches yield an empty block, not an error; transient index
// failures are retried and only then surfaced.
func (a *Assembler) Retrieve(ctx context.Context, tenantID, query string) (*ContextBlock, error) {
	queryVec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var results []index.Result
	err = retry.Do(ctx, a.retryCfg, func(err error) bool {
		return errors.Is(err, index.ErrUnavailable)
	}, func() error {
		var searchErr error
		results, searchErr = a.searcher.Search(ctx, tenantID, queryVec, a.topK)
		return searchErr
	})
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	block := a.assemble(results)
	a.logger.Debug("retrieved context",
		"tenant_id", tenantID,
		"matches", len(results),
		"used", len(block.Sources),
		"context_chars", utf8.RuneCountInString(block.Text),
	)
	return block, nil
}

// assemble formats results into the context text, dropping whole chunks
// lowest-ranked first once the character budget is exceeded. The budget
// counts runes, matching how chunk sizes are measured.
func (a *Assembler) assemble(results []index.Result) *ContextBlock {
	if len(results) == 0 {
		return &ContextBlock{Empty: true}
	}

	var sb strings.Builder
	var sources []string
	used := 0
	for _, r := range results {
		block := formatBlock(r.Entry.SourceFilename, r.Entry.Content)
		blockLen := utf8.RuneCountInString(block)

		next := used + blockLen
		if used > 0 {
			next += utf8.RuneCountInString(blockSeparator)
		}
		if next > a.maxContextChars && used > 0 {
			break
		}

		if used > 0 {
			sb.WriteString(blockSeparator)
		}
		sb.WriteString(block)
		used = next
		sources = append(sources, r.Entry.SourceFilename)
	}

	return &ContextBlock{Text: sb.String(), Sources: sources}
}

func formatBlock(filename, content string) string {
	return fmt.Sprintf("Source: %s\nContent: %s", filename, content)
}
