package sourcemap

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/jsdebug/pkg/logflags"
	"github.com/go-delve/jsdebug/pkg/resource"
)

// Provider finds the source map of a script. It returns a nil map and a
// nil error when the script has none.
type Provider interface {
	SourceMapFor(ctx context.Context, script resource.Identifier, sourceMapURL string) (SourceMap, error)
}

// Loader fetches the raw bytes of a source map.
type Loader interface {
	Load(ctx context.Context, mapURL resource.Identifier) ([]byte, error)
}

// DefaultCacheSize is the number of decoded maps CachingProvider keeps.
const DefaultCacheSize = 128

// CachingProvider loads, decodes and caches source maps by URL.
type CachingProvider struct {
	loader Loader
	parser resource.Parser
	cache  *lru.Cache
	log    logflags.Logger
}

// NewCachingProvider returns a Provider that keeps up to size decoded
// maps. A size <= 0 selects DefaultCacheSize.
func NewCachingProvider(loader Loader, parser resource.Parser, size int) (*CachingProvider, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachingProvider{loader: loader, parser: parser, cache: cache, log: logflags.SourcesLogger()}, nil
}

func (p *CachingProvider) SourceMapFor(ctx context.Context, script resource.Identifier, sourceMapURL string) (SourceMap, error) {
	if sourceMapURL == "" {
		return nil, nil
	}
	mapURL := script.Resolve(sourceMapURL, p.parser)
	if strings.HasPrefix(sourceMapURL, "data:") {
		// Inline maps are unique to their script.
		mapURL = script
	}
	key := mapURL.Canonical()
	if strings.HasPrefix(sourceMapURL, "data:") {
		key = "inline:" + script.Canonical()
	}
	if v, ok := p.cache.Get(key); ok {
		return v.(*Map), nil
	}
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(sourceMapURL, "data:") {
		data, err = decodeDataURI(sourceMapURL)
	} else {
		data, err = p.loader.Load(ctx, mapURL)
	}
	if err != nil {
		return nil, fmt.Errorf("loading source map %s: %w", sourceMapURL, err)
	}
	m, err := Parse(mapURL, data, p.parser)
	if err != nil {
		return nil, fmt.Errorf("decoding source map %s: %w", mapURL, err)
	}
	p.log.Debugf("loaded source map %s with %d sources", mapURL, len(m.sources))
	p.cache.Add(key, m)
	return m, nil
}

// Purge drops every cached map.
func (p *CachingProvider) Purge() { p.cache.Purge() }

func decodeDataURI(uri string) ([]byte, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, fmt.Errorf("malformed data URI")
	}
	meta, payload := uri[len("data:"):comma], uri[comma+1:]
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// FileAndHTTPLoader reads maps from the local file system or over HTTP.
type FileAndHTTPLoader struct {
	Client *http.Client
}

func (l FileAndHTTPLoader) Load(ctx context.Context, mapURL resource.Identifier) ([]byte, error) {
	if mapURL.IsLocal() {
		return os.ReadFile(mapURL.String())
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mapURL.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", mapURL, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
