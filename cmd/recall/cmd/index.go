package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortexlocal/recall/internal/chunk"
	"github.com/cortexlocal/recall/internal/facade"
	"github.com/cortexlocal/recall/internal/output"
)

type indexOptions struct {
	batchSize int
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <path>...",
		Short: "Ingest files into the corpus",
		Long: `Walks each given file or directory, splits it into chunks with the
markdown chunker (for .md/.mdx, extracting frontmatter title/url into chunk
metadata) or a plain paragraph splitter otherwise, then ingests the resulting
chunks: embeds them and updates both the vector and keyword indices.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, args, opts)
		},
	}

	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 64, "chunks ingested per batch call")
	return cmd
}

func runIndex(cmd *cobra.Command, paths []string, opts indexOptions) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	f, closer, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer closer()

	mdChunker := chunk.NewMarkdownChunker()
	defer mdChunker.Close()

	var files []string
	for _, p := range paths {
		fs, err := collectFiles(p)
		if err != nil {
			return err
		}
		files = append(files, fs...)
	}

	var batch []*chunkModelIngest
	total := 0
	for _, path := range files {
		chunks, err := chunkFile(ctx, path, mdChunker)
		if err != nil {
			out.Warningf("skipping %s: %v", path, err)
			continue
		}
		for _, c := range chunks {
			batch = append(batch, c)
		}
		total += len(chunks)

		for len(batch) >= opts.batchSize {
			if err := flushIngestBatch(ctx, f, batch[:opts.batchSize]); err != nil {
				return err
			}
			batch = batch[opts.batchSize:]
		}
	}
	if len(batch) > 0 {
		if err := flushIngestBatch(ctx, f, batch); err != nil {
			return err
		}
	}

	out.Successf("indexed %d files, %d chunks", len(files), total)
	return nil
}

// collectFiles expands path into its constituent files: itself if it is
// a regular file, or every regular file beneath it if it is a directory.
func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".recall" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

// chunkModelIngest pairs a chunker-produced chunk with its source path so
// flushIngestBatch can hand it to chunk.ToChunkModels grouped by source.
type chunkModelIngest struct {
	sourcePath string
	c          *chunk.Chunk
}

func chunkFile(ctx context.Context, path string, mdChunker *chunk.MarkdownChunker) ([]*chunkModelIngest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	input := &chunk.FileInput{Path: path, Content: content}

	var rawChunks []*chunk.Chunk
	if ext == ".md" || ext == ".mdx" {
		rawChunks, err = mdChunker.Chunk(ctx, input)
	} else {
		rawChunks = plainTextChunks(path, content)
	}
	if err != nil {
		return nil, err
	}
	if len(rawChunks) == 0 {
		rawChunks = plainTextChunks(path, content)
	}

	out := make([]*chunkModelIngest, len(rawChunks))
	for i, c := range rawChunks {
		out[i] = &chunkModelIngest{sourcePath: path, c: c}
	}
	return out, nil
}

const plainChunkChars = 2000

// plainTextChunks is the fallback for files no chunker recognizes: split
// on paragraph boundaries, accumulating up to plainChunkChars per chunk.
func plainTextChunks(path string, content []byte) []*chunk.Chunk {
	paragraphs := strings.Split(string(content), "\n\n")
	var chunks []*chunk.Chunk
	var buf strings.Builder
	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text == "" {
			return
		}
		chunks = append(chunks, &chunk.Chunk{
			ID:          plainChunkID(path, text),
			FilePath:    path,
			Content:     text,
			ContentType: chunk.ContentTypeText,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		})
		buf.Reset()
	}
	for _, p := range paragraphs {
		if buf.Len()+len(p) > plainChunkChars && buf.Len() > 0 {
			flush()
		}
		buf.WriteString(p)
		buf.WriteString("\n\n")
	}
	flush()
	if len(chunks) == 0 {
		return nil
	}
	return chunks
}

func plainChunkID(path, content string) string {
	sum := sha256.Sum256([]byte(path + ":" + content))
	return hex.EncodeToString(sum[:])[:16]
}

func flushIngestBatch(ctx context.Context, f *facade.Facade, items []*chunkModelIngest) error {
	bySource := make(map[string][]*chunk.Chunk)
	var order []string
	for _, it := range items {
		if _, ok := bySource[it.sourcePath]; !ok {
			order = append(order, it.sourcePath)
		}
		bySource[it.sourcePath] = append(bySource[it.sourcePath], it.c)
	}

	for _, src := range order {
		models := chunk.ToChunkModels(bySource[src], src)
		if _, err := f.IngestChunks(ctx, models); err != nil {
			return fmt.Errorf("ingest %s: %w", src, err)
		}
	}
	return nil
}
