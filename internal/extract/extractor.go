// Package extract turns uploaded file bytes into plain text for use as bot
// context. Extraction is best effort: it never fails, and degrades through a
// chain of strategies down to a fixed diagnostic message.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
)

// minAcceptedLength is the rune count a heuristic result must exceed.
const minAcceptedLength = 20

// sniffWindow bounds how far into the decoded text control characters are looked for.
const sniffWindow = 1000

var textExtensions = []string{"txt", "md", "csv", "json", "html", "xml"}

// Strategy attempts one way of extracting text. It reports false when the
// result should not be accepted and the next strategy should be tried.
type Strategy struct {
	Name string
	Fn   func(data []byte, ext string) (string, bool)
}

// DefaultStrategies is the ordered chain used by Extract.
var DefaultStrategies = []Strategy{
	{Name: "pdf", Fn: pdfText},
	{Name: "text", Fn: plainText},
	{Name: "pdf-printable-runs", Fn: pdfPrintableRuns},
	{Name: "readable-chars", Fn: readableChars},
}

// Extractor runs an ordered chain of strategies.
type Extractor struct {
	strategies []Strategy
	logger     *slog.Logger
}

// New creates an Extractor. With no strategies it uses DefaultStrategies.
func New(strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	return &Extractor{strategies: strategies, logger: slog.Default()}
}

// Extract returns the text of the first accepting strategy, or a diagnostic
// naming the file when none accepts.
func (e *Extractor) Extract(data []byte, fileName string) string {
	ext := Ext(fileName)
	for _, s := range e.strategies {
		if text, ok := e.try(s, data, ext, fileName); ok {
			return text
		}
	}
	return Unextractable(fileName)
}

func (e *Extractor) try(s Strategy, data []byte, ext, fileName string) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("extraction strategy panicked", "strategy", s.Name, "file", fileName, "panic", r)
			text, ok = "", false
		}
	}()
	return s.Fn(data, ext)
}

// Extract runs the default chain.
func Extract(data []byte, fileName string) string {
	return New().Extract(data, fileName)
}

// Unextractable is returned when no strategy produced usable text.
func Unextractable(fileName string) string {
	return fmt.Sprintf("Content extracted from %s. The file may require specialized processing for full text extraction.", fileName)
}

// DownloadFailed is returned as content when the file itself could not be fetched.
func DownloadFailed(fileName string, err error) string {
	return fmt.Sprintf("Failed to extract content from %s: %v", fileName, err)
}

// Ext returns the lower-cased text after the last dot. A name without a dot
// is returned whole.
func Ext(fileName string) string {
	if i := strings.LastIndexByte(fileName, '.'); i >= 0 {
		return strings.ToLower(fileName[i+1:])
	}
	return strings.ToLower(fileName)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func accepted(s string) bool {
	return utf8.RuneCountInString(s) > minAcceptedLength
}

func pdfText(data []byte, ext string) (string, bool) {
	if ext != "pdf" {
		return "", false
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		slog.Warn("parsing pdf failed", "error", err)
		return "", false
	}
	plain, err := r.GetPlainText()
	if err != nil {
		slog.Warn("reading pdf text failed", "error", err)
		return "", false
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		slog.Warn("reading pdf text failed", "error", err)
		return "", false
	}
	text := collapseSpace(buf.String())
	return text, accepted(text)
}

func plainText(data []byte, ext string) (string, bool) {
	if !slices.Contains(textExtensions, ext) {
		return "", false
	}
	text := decodeUTF8(data)
	return text, strings.TrimSpace(text) != ""
}

// printableRun matches printable ASCII runs that may contain inner whitespace.
var printableRun = regexp.MustCompile(`[\x20-\x7E][\x20-\x7E\s]*[\x20-\x7E]`)

func pdfPrintableRuns(data []byte, ext string) (string, bool) {
	if ext != "pdf" {
		return "", false
	}
	var runs []string
	for _, m := range printableRun.FindAllString(decode(data), -1) {
		if len(m) > 3 {
			runs = append(runs, m)
		}
	}
	if len(runs) == 0 {
		return "", false
	}
	text := collapseSpace(strings.Join(runs, " "))
	return text, accepted(text)
}

var unreadable = regexp.MustCompile(`[^\x20-\x7E\n\r\t]`)

func readableChars(data []byte, _ string) (string, bool) {
	text := collapseSpace(unreadable.ReplaceAllString(decode(data), ""))
	return text, accepted(text)
}

func decodeUTF8(data []byte) string {
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

// decode reads data as UTF-8 unless it looks binary or garbled, in which
// case every byte is taken as an ISO-8859-1 character.
func decode(data []byte) string {
	text := decodeUTF8(data)
	if !looksGarbled(text) {
		return text
	}
	latin, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return text
	}
	return string(latin)
}

func looksGarbled(text string) bool {
	if strings.ContainsRune(text, utf8.RuneError) {
		return true
	}
	n := 0
	for _, r := range text {
		if n >= sniffWindow {
			break
		}
		n++
		if isControl(r) {
			return true
		}
	}
	return false
}

// isControl matches C0 controls other than tab, newline and carriage return, plus DEL.
func isControl(r rune) bool {
	switch {
	case r <= 0x08, r == 0x0B, r == 0x0C, r >= 0x0E && r <= 0x1F, r == 0x7F:
		return true
	}
	return false
}

// Downloader fetches stored file bytes by reference.
type Downloader interface {
	Download(ctx context.Context, ref string) ([]byte, error)
}

// FileExtractor downloads a stored file and extracts its text.
type FileExtractor struct {
	files     Downloader
	extractor *Extractor
}

func NewFileExtractor(files Downloader, extractor *Extractor) *FileExtractor {
	if extractor == nil {
		extractor = New()
	}
	return &FileExtractor{files: files, extractor: extractor}
}

// ExtractFile returns the extracted text of the file at ref. A failed
// download is reported inside the returned text; an error is returned only
// when ctx is done.
func (f *FileExtractor) ExtractFile(ctx context.Context, ref, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := f.files.Download(ctx, ref)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		slog.Error("downloading training file failed", "file", fileName, "ref", ref, "error", err)
		return DownloadFailed(fileName, err), nil
	}
	return f.extractor.Extract(data, fileName), nil
}
