package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

const (
	ipfsScheme   = "ipfs://"
	maxDocBytes  = 1 << 20
	urlSafeChars = ":/?&=%"
)

var ErrEmptyURI = errors.New("token uri is empty")

// Metadata is the display information resolved for a token. Empty fields
// mean the value could not be resolved.
type Metadata struct {
	Name      string
	ImageURL  string
	SourceURL string
}

// DecodeURI turns the hex encoded URI stored on a token into a fetchable
// URL. Bytes that are not valid UTF-8 are dropped, characters outside the
// unreserved set and ":/?&=%" are percent-encoded and ipfs:// links are
// rewritten to the given HTTP gateway.
func DecodeURI(hexURI, gateway string) (string, error) {
	hexURI = strings.TrimSpace(hexURI)
	if !strings.HasPrefix(hexURI, "0x") && !strings.HasPrefix(hexURI, "0X") {
		hexURI = "0x" + hexURI
	}
	raw, err := hexutil.Decode(hexURI)
	if err != nil {
		return "", fmt.Errorf("invalid token uri hex: %w", err)
	}
	uri := strings.Trim(strings.ToValidUTF8(string(raw), ""), "\x00")
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", ErrEmptyURI
	}
	return RewriteIPFS(escape(uri), gateway), nil
}

// RewriteIPFS maps ipfs://CID[/path] onto https://<gateway>/ipfs/CID[/path].
// Other links are returned unchanged.
func RewriteIPFS(link, gateway string) string {
	if !strings.HasPrefix(link, ipfsScheme) {
		return link
	}
	rest := strings.TrimPrefix(link[len(ipfsScheme):], "ipfs/")
	return gatewayBase(gateway) + "/ipfs/" + rest
}

func gatewayBase(gateway string) string {
	gateway = strings.TrimRight(strings.TrimSpace(gateway), "/")
	if gateway == "" {
		gateway = "ipfs.io"
	}
	if strings.Contains(gateway, "://") {
		return gateway
	}
	return "https://" + gateway
}

func escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || strings.IndexByte(urlSafeChars, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

// Resolver fetches token metadata documents. It never fails: every problem
// degrades to empty fields.
type Resolver struct {
	http    *http.Client
	gateway string
}

func NewResolver(httpClient *http.Client, gateway string) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Resolver{http: httpClient, gateway: gateway}
}

func (r *Resolver) Gateway() string {
	return r.gateway
}

func (r *Resolver) Resolve(ctx context.Context, hexURI string) Metadata {
	if strings.TrimSpace(hexURI) == "" {
		return Metadata{}
	}
	uri, err := DecodeURI(hexURI, r.gateway)
	if err != nil {
		zap.L().Debug("Could not decode token uri", zap.String("uri", hexURI), zap.Error(err))
		return Metadata{}
	}
	md := Metadata{SourceURL: uri}

	body, isJSON, err := r.fetch(ctx, uri)
	if err != nil {
		zap.L().Warn("Error fetching metadata", zap.String("uri", uri), zap.Error(err))
		return md
	}
	if !isJSON {
		// the token points straight at its media
		md.ImageURL = escapeFragment(uri)
		return md
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		zap.L().Debug("Metadata is not a JSON object", zap.String("uri", uri), zap.Error(err))
		return md
	}
	md.Name = strings.TrimSpace(stringField(doc, "name"))
	if img := firstStringField(doc, "image", "image_url", "imageUrl"); img != "" {
		md.ImageURL = escapeFragment(RewriteIPFS(strings.TrimSpace(img), r.gateway))
	}
	return md
}

func (r *Resolver) fetch(ctx context.Context, uri string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("metadata returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocBytes))
	if err != nil {
		return nil, false, err
	}
	isJSON := strings.Contains(resp.Header.Get("Content-Type"), "application/json") ||
		bytes.HasPrefix(bytes.TrimSpace(body), []byte("{"))
	return body, isJSON, nil
}

func stringField(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func firstStringField(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(stringField(doc, k)); v != "" {
			return v
		}
	}
	return ""
}

func escapeFragment(link string) string {
	return strings.ReplaceAll(link, "#", "%23")
}
