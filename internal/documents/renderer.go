// Package documents renders contract PDFs and stores them for download.
package documents

import (
	"bytes"
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed templates/*.html
var templateFS embed.FS

// PDFConverter turns HTML into PDF bytes. report.Client implements it.
type PDFConverter interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Config wires a Renderer.
type Config struct {
	Converter  PDFConverter
	StorageDir string
	BaseURL    string
}

// Renderer produces contract PDFs and returns the URL they are served from.
type Renderer struct {
	converter  PDFConverter
	templates  *template.Template
	storageDir string
	baseURL    string
	group      singleflight.Group
	newName    func(number string) string
}

// NewRenderer parses the embedded templates and prepares the storage dir.
func NewRenderer(cfg Config) (*Renderer, error) {
	if cfg.Converter == nil {
		return nil, errors.New("documents: converter required")
	}
	if cfg.StorageDir == "" {
		return nil, errors.New("documents: storage dir required")
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("documents: create storage dir: %w", err)
	}
	tmpl, err := template.New("documents").Funcs(funcMap()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("documents: parse templates: %w", err)
	}
	return &Renderer{
		converter:  cfg.Converter,
		templates:  tmpl,
		storageDir: cfg.StorageDir,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		newName:    fileName,
	}, nil
}

// RenderContract renders payload and returns the public URL of the PDF.
// Concurrent renders of the same contract and content share one conversion,
// which keeps running until it finishes even if a waiting caller gives up.
func (r *Renderer) RenderContract(ctx context.Context, payload ContractPayload) (string, error) {
	if payload.ContractNumber == "" {
		return "", errors.New("documents: contract number required")
	}
	if payload.GeneratedAt.IsZero() {
		payload.GeneratedAt = time.Now()
	}
	key, err := flightKey(payload)
	if err != nil {
		return "", err
	}
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		return r.renderContract(detached, payload)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// flightKey identifies a render by contract number and content. GeneratedAt
// is left out so back-to-back renders of unchanged data still coalesce.
func flightKey(payload ContractPayload) (string, error) {
	payload.GeneratedAt = time.Time{}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("documents: fingerprint %s: %w", payload.ContractNumber, err)
	}
	sum := sha256.Sum256(raw)
	return payload.ContractNumber + ":" + hex.EncodeToString(sum[:]), nil
}

// HTML renders the contract template without converting it.
func (r *Renderer) HTML(payload ContractPayload) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, "contract.html", payload); err != nil {
		return "", fmt.Errorf("documents: execute template: %w", err)
	}
	return buf.String(), nil
}

func (r *Renderer) renderContract(ctx context.Context, payload ContractPayload) (string, error) {
	html, err := r.HTML(payload)
	if err != nil {
		return "", err
	}
	pdf, err := r.converter.RenderHTML(ctx, html)
	if err != nil {
		return "", fmt.Errorf("documents: convert %s: %w", payload.ContractNumber, err)
	}
	name := r.newName(payload.ContractNumber)
	if err := os.WriteFile(filepath.Join(r.storageDir, name), pdf, 0o644); err != nil {
		return "", fmt.Errorf("documents: store %s: %w", name, err)
	}
	return r.baseURL + "/" + name, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)

func fileName(number string) string {
	return fmt.Sprintf("contract-%s-%s.pdf", unsafeChars.ReplaceAllString(number, "_"), uuid.NewString())
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"formatDate": func(t *time.Time) string {
			if t == nil || t.IsZero() {
				return "-"
			}
			return t.Format("January 2, 2006")
		},
		"formatDateTime": func(t time.Time) string {
			return t.Format("January 2, 2006 15:04 MST")
		},
		"money": func(v float64) string {
			return formatMoney(v)
		},
		"inc": func(i int) int { return i + 1 },
	}
}

var moneyPrinter = message.NewPrinter(language.English)

func formatMoney(v float64) string {
	return moneyPrinter.Sprintf("%.2f", v)
}
