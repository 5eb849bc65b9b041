package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/infrawiki/internal/checksum"
	"github.com/starford/infrawiki/internal/pathres"
)

const (
	maxUploadBytes  = 10 << 20
	downloadTimeout = 30 * time.Second
	maxRedirects    = 5
)

// attachmentKind is one accepted attachment format.
type attachmentKind struct {
	mime   string
	inline bool                   // rendered as an image in markdown
	sniff  func(data []byte) bool // nil: compare http.DetectContentType
}

var attachmentKinds = map[string]attachmentKind{
	".png":  {mime: "image/png", inline: true},
	".jpg":  {mime: "image/jpeg", inline: true},
	".jpeg": {mime: "image/jpeg", inline: true},
	".gif":  {mime: "image/gif", inline: true},
	".webp": {mime: "image/webp", inline: true},
	".svg":  {mime: "image/svg+xml", inline: true, sniff: looksLikeSVG},
	".pdf":  {mime: "application/pdf"},
	".txt":  {mime: "text/plain"},
}

// preferredExt picks one extension per media type for generated names.
var preferredExt = []string{".png", ".jpg", ".gif", ".webp", ".svg", ".pdf", ".txt"}

var metadataIP = net.ParseIP("169.254.169.254")

type uploadResult struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	SHA256       string `json:"sha256"`
	MarkdownLink string `json:"markdownLink"`
}

// payload is fetched upload content. ext comes from the declared media type
// and name from the URL; either may be empty.
type payload struct {
	data []byte
	ext  string
	name string
}

func (s *Server) uploadAttachment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodePath, err := req.RequireString("path")
	if err != nil {
		return errorResult(err)
	}
	raw, err := req.RequireString("url")
	if err != nil {
		return errorResult(err)
	}

	p, err := fetchPayload(ctx, raw)
	if err != nil {
		return errorResult(err)
	}
	name, err := attachmentName(req.GetString("filename", ""), p)
	if err != nil {
		return errorResult(err)
	}
	kind, err := checkContent(name, p.data)
	if err != nil {
		return errorResult(err)
	}

	sum := checksum.Sum(p.data)
	att, err := s.svc.PutAttachment(ctx, nodePath, name, bytes.NewReader(p.data))
	if err != nil {
		return errorResult(err)
	}
	if att.SHA256 != sum {
		return errorResult(fmt.Errorf("stored %s does not match the uploaded content", att.Name))
	}
	return jsonResult(uploadResult{
		Path:         nodePath,
		Name:         att.Name,
		Size:         att.Size,
		SHA256:       att.SHA256,
		MarkdownLink: markdownLink(nodePath, att.Name, kind.inline),
	})
}

func markdownLink(nodePath, name string, inline bool) string {
	link := fmt.Sprintf("[%s](/api/attachments/%s?path=%s)", name, url.PathEscape(name), url.QueryEscape(nodePath))
	if inline {
		return "!" + link
	}
	return link
}

func fetchPayload(ctx context.Context, raw string) (payload, error) {
	if strings.HasPrefix(raw, "data:") {
		return readDataURI(raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return payload{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return payload{}, fmt.Errorf("unsupported scheme %q: use http, https or a data URI", u.Scheme)
	}
	return download(ctx, u)
}

// readDataURI decodes data:<mediatype>;base64,<data>.
func readDataURI(uri string) (payload, error) {
	meta, encoded, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return payload{}, fmt.Errorf("invalid data URI: missing comma")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return payload{}, fmt.Errorf("only base64 data URIs are supported")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(encoded); err != nil {
			return payload{}, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	if len(data) > maxUploadBytes {
		return payload{}, fmt.Errorf("attachment too large: %d bytes (max %d)", len(data), maxUploadBytes)
	}
	mediaType, _, _ = strings.Cut(mediaType, ";")
	ext := extFor(mediaType)
	if ext == "" {
		return payload{}, fmt.Errorf("unsupported media type %q in data URI", mediaType)
	}
	return payload{data: data, ext: ext}, nil
}

func download(ctx context.Context, u *url.URL) (payload, error) {
	if err := guardHost(u.Hostname()); err != nil {
		return payload{}, err
	}
	client := &http.Client{
		Timeout: downloadTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			return guardHost(req.URL.Hostname())
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return payload{}, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return payload{}, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return payload{}, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadBytes+1))
	if err != nil {
		return payload{}, fmt.Errorf("download failed: %w", err)
	}
	if len(data) > maxUploadBytes {
		return payload{}, fmt.Errorf("attachment too large: exceeds %d bytes", maxUploadBytes)
	}

	p := payload{data: data}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		p.ext = extFor(mt)
	}
	if base := path.Base(u.Path); base != "." && base != "/" {
		p.name = base
	}
	return p, nil
}

// guardHost refuses loopback, unspecified and cloud metadata addresses,
// checking every address a name resolves to.
func guardHost(host string) error {
	if strings.EqualFold(host, "localhost") || strings.EqualFold(host, "metadata.google.internal") {
		return fmt.Errorf("blocked host %s", host)
	}
	ips := []net.IP{net.ParseIP(host)}
	if ips[0] == nil {
		resolved, err := net.LookupIP(host)
		if err != nil {
			return nil //nolint:nilerr // the client reports DNS failures
		}
		ips = resolved
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsUnspecified() || ip.Equal(metadataIP) {
			return fmt.Errorf("blocked host %s (%s)", host, ip)
		}
	}
	return nil
}

// attachmentName picks the caller's name, else the URL's, else a generated
// one, and brings it in line with the attachment naming rules.
func attachmentName(hint string, p payload) (string, error) {
	name := hint
	if name == "" && strings.Contains(p.name, ".") {
		name = p.name
	}
	if name == "" {
		ext := p.ext
		if ext == "" {
			ext = ".bin"
		}
		name = uuid.NewString() + ext
	}
	name = pathres.SanitizeFilename(name)
	if err := pathres.ValidateFilename(name); err != nil {
		return "", err
	}
	return name, nil
}

// checkContent matches data against the kind its extension declares.
func checkContent(name string, data []byte) (attachmentKind, error) {
	ext := strings.ToLower(path.Ext(name))
	kind, ok := attachmentKinds[ext]
	if !ok {
		return attachmentKind{}, fmt.Errorf("unsupported extension %q (allowed: %s)", ext, strings.Join(preferredExt, ", "))
	}
	var match bool
	if kind.sniff != nil {
		match = kind.sniff(data)
	} else {
		match = strings.HasPrefix(http.DetectContentType(data), kind.mime)
	}
	if !match {
		return attachmentKind{}, fmt.Errorf("content of %s is not %s (detected %s)", name, kind.mime, http.DetectContentType(data))
	}
	return kind, nil
}

func extFor(mediaType string) string {
	for _, ext := range preferredExt {
		if attachmentKinds[ext].mime == mediaType {
			return ext
		}
	}
	return ""
}

func looksLikeSVG(data []byte) bool {
	if len(data) > 1024 {
		data = data[:1024]
	}
	return bytes.Contains(data, []byte("<svg"))
}
