// Command htmlchunk splits a document into heading-annotated chunks and
// prints them, one chunk per line.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/htmlchunk/internal/chunker"
	"github.com/dgallion1/htmlchunk/internal/doctree"
	"github.com/dgallion1/htmlchunk/internal/parser"
)

type options struct {
	format      string
	inputFormat string
	verbose     bool
	pdftotext   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "htmlchunk [file]",
		Short: "Split a document into heading-annotated chunks",
		Long: `Reads an HTML document (or markdown, text, CSV, DOCX or PDF, converted
to HTML first) and prints one chunk per content element. Each chunk carries
the headings it appears under as markdown-style lines joined by a literal \n.

Input is read from stdin when no file is given or the file is "-".`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "output format: text, json or sections")
	cmd.Flags().StringVarP(&opts.inputFormat, "input-format", "i", "", "input format for stdin or to override the file extension (html, md, txt, csv, docx, pdf)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")
	cmd.Flags().BoolVar(&opts.pdftotext, "pdftotext", true, "fall back to pdftotext for PDFs without extractable text")
	return cmd
}

func run(cmd *cobra.Command, args []string, opts *options) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	switch opts.format {
	case "text", "json", "sections":
	default:
		return fmt.Errorf("unknown output format %q", opts.format)
	}

	filename, data, err := readInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	// The override only picks the parser; titles and errors keep the real name.
	parserName := filename
	if opts.inputFormat != "" {
		parserName = "input." + strings.TrimPrefix(opts.inputFormat, ".")
	}

	p, err := parser.ForFile(parserName, parser.Options{PDFFallbackPdftotext: opts.pdftotext})
	if err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	doc, err := p.Parse(bytes.NewReader(data), filename)
	if err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}

	start := time.Now()
	chunks := chunker.ChunkTree(doc.Root)
	log.Debug("chunked document",
		"filename", filename,
		"title", doc.Title,
		"bytes", len(data),
		"chunks", len(chunks),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return writeChunks(cmd.OutOrStdout(), opts.format, chunks)
}

// readInput returns the input name and bytes. Stdin is treated as HTML
// unless --input-format says otherwise.
func readInput(stdin io.Reader, args []string) (string, []byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", nil, fmt.Errorf("read stdin: %w", err)
		}
		return "stdin.html", data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", nil, err
	}
	return args[0], data, nil
}

func writeChunks(w io.Writer, format string, chunks []doctree.Chunk) error {
	switch format {
	case "json":
		texts := doctree.Texts(chunks)
		if texts == nil {
			texts = []string{}
		}
		return writeIndented(w, texts)
	case "sections":
		if chunks == nil {
			chunks = []doctree.Chunk{}
		}
		return writeIndented(w, chunks)
	}
	for _, c := range chunks {
		if _, err := fmt.Fprintln(w, c.Text); err != nil {
			return err
		}
	}
	return nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
