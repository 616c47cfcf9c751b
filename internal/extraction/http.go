package extraction

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/JaimeStill/assay/pkg/formatting"
)

const (
	maxResponseSize = 4 << 20
	maxErrorBody    = 512
)

// HTTPEngine posts documents to an external extraction service.
type HTTPEngine struct {
	client   *http.Client
	endpoint string
	token    string
	schema   *jsonschema.Schema
}

// NewHTTPEngine creates an engine for endpoint. A non-empty token is sent as a
// bearer credential. A nil client uses http.DefaultClient.
func NewHTTPEngine(endpoint, token string, client *http.Client) (*HTTPEngine, error) {
	schema, err := CompileSchema()
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPEngine{
		client:   client,
		endpoint: endpoint,
		token:    token,
		schema:   schema,
	}, nil
}

// Extract streams doc as multipart/form-data and decodes the JSON response.
func (e *HTTPEngine) Extract(ctx context.Context, doc Document) (*Result, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(mw, doc))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngine, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrEngine, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrEngine, resp.StatusCode, formatting.Truncate(strings.TrimSpace(string(body)), maxErrorBody))
	}

	return DecodeResult(e.schema, string(body))
}

func writeForm(mw *multipart.Writer, doc Document) error {
	fields := [][2]string{
		{"audit_id", doc.AuditID.String()},
		{"attempt", strconv.Itoa(doc.Attempt)},
		{"audit_type", string(doc.AuditType)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "document",
		"filename": doc.Filename,
	}))
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, doc.Body); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return mw.Close()
}
