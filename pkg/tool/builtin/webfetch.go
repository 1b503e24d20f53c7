package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/cexll/agentd/pkg/sandbox"
	"github.com/cexll/agentd/pkg/tool"
)

const fetchBodyLimit = 2 << 20 // 2MiB read cap before truncation

// WebFetch retrieves a URL and returns its text. HTML responses are reduced
// to their visible text; hosts outside the allowlist are refused.
type WebFetch struct {
	cfg    sandbox.Config
	client *http.Client
}

func (t *WebFetch) Name() string { return "web_fetch" }

func (t *WebFetch) Description() string {
	return "Fetch a URL over HTTP(S) and return the response text. HTML is stripped to visible text."
}

func (t *WebFetch) Schema() map[string]any {
	return tool.ObjectSchema(map[string]any{
		"url": map[string]any{"type": "string", "description": "Absolute http or https URL"},
	}, "url")
}

func (t *WebFetch) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeArgs(t.Name(), args, &req); err != nil {
		return "", err
	}
	parsed, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil {
		return "", &tool.InvalidArgsError{Tool: t.Name(), Err: fmt.Errorf("parse url: %w", err)}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", &tool.InvalidArgsError{Tool: t.Name(), Err: fmt.Errorf("unsupported scheme %q", parsed.Scheme)}
	}
	if !sandbox.HostAllowed(t.cfg.NetworkAllowlist, parsed.Hostname()) {
		return "", &sandbox.AccessDeniedError{
			Requested: req.URL,
			Reason:    fmt.Sprintf("host %q is not in the network allowlist", parsed.Hostname()),
		}
	}

	client := t.client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", &tool.ExecutionError{Tool: t.Name(), Err: err}
	}
	httpReq.Header.Set("User-Agent", "agentd/1.0")

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", &tool.ExecutionError{Tool: t.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return "", &tool.ExecutionError{Tool: t.Name(), Err: err}
	}
	if resp.StatusCode >= 400 {
		return "", &tool.ExecutionError{
			Tool: t.Name(),
			Err:  fmt.Errorf("server returned %s", resp.Status),
		}
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		if extracted, err := extractText(text); err == nil {
			text = extracted
		}
	}
	return sandbox.Truncate(text, t.cfg.MaxOutputBytes), nil
}

// extractText walks the HTML tree and concatenates visible text nodes,
// skipping script and style subtrees.
func extractText(raw string) (string, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				b.WriteString(trimmed)
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", errors.New("no visible text")
	}
	return out, nil
}
