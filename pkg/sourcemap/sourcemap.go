// Package sourcemap translates positions between authored sources and
// the generated scripts a runtime executes.
//
// Generated to authored lookups go through go-sourcemap. It has no
// reverse lookup and does not expose its sources or decoded mappings, so
// the authored to generated index is decoded here. Only revision 3 maps
// with a single "mappings" section are accepted.
package sourcemap

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	gosourcemap "github.com/go-sourcemap/sourcemap"

	"github.com/go-delve/jsdebug/pkg/location"
	"github.com/go-delve/jsdebug/pkg/resource"
)

// SourceMap is the black-box position translator for one generated
// script.
type SourceMap interface {
	// AuthoredSources lists the sources the map refers to.
	AuthoredSources() []resource.Identifier
	// AuthoredPositionFor maps a generated position to the authored one.
	AuthoredPositionFor(pos location.Position) (resource.Identifier, location.Position, bool)
	// GeneratedPositionFor maps an authored position to the generated
	// one, preferring the first mapping at or after pos on the same line.
	GeneratedPositionFor(source resource.Identifier, pos location.Position) (location.Position, bool)
}

var (
	// ErrIndexMap is returned for source maps that use "sections".
	ErrIndexMap = errors.New("sourcemap: index maps are not supported")
	// ErrBadVersion is returned for maps that are not revision 3.
	ErrBadVersion = errors.New("sourcemap: unsupported version")
)

type rawMap struct {
	Version    int               `json:"version"`
	File       string            `json:"file"`
	SourceRoot string            `json:"sourceRoot"`
	Sources    []string          `json:"sources"`
	Names      []string          `json:"names"`
	Mappings   string            `json:"mappings"`
	Sections   []json.RawMessage `json:"sections"`
}

type mapping struct {
	genLine, genCol int
	src             int
	srcLine, srcCol int
}

// Map is a decoded source map.
type Map struct {
	url     resource.Identifier
	sources []resource.Identifier
	index   map[string]int
	// consumer names sources by their index in sources. It is nil when
	// the map has no mappings.
	consumer *gosourcemap.Consumer
	// firstCol is the column of the first mapping of each generated line.
	firstCol map[int]int
	bySource [][]mapping
}

// Parse decodes a source map. mapURL is where the map was loaded from;
// relative source paths are resolved against it.
func Parse(mapURL resource.Identifier, data []byte, p resource.Parser) (*Map, error) {
	var raw rawMap
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("sourcemap: %w", err)
	}
	if len(raw.Sections) > 0 {
		return nil, ErrIndexMap
	}
	if raw.Version != 3 {
		return nil, ErrBadVersion
	}
	m := &Map{url: mapURL, index: make(map[string]int)}
	for _, s := range raw.Sources {
		if raw.SourceRoot != "" && !strings.Contains(s, "://") && !strings.HasPrefix(s, "/") {
			root := raw.SourceRoot
			if !strings.HasSuffix(root, "/") {
				root += "/"
			}
			s = root + s
		}
		id := mapURL.Resolve(s, p)
		m.index[id.Canonical()] = len(m.sources)
		m.sources = append(m.sources, id)
	}
	if err := m.decode(raw.Mappings); err != nil {
		return nil, err
	}
	if raw.Mappings != "" {
		c, err := parseConsumer(raw)
		if err != nil {
			return nil, fmt.Errorf("sourcemap: %w", err)
		}
		m.consumer = c
	}
	return m, nil
}

// parseConsumer hands raw to go-sourcemap with every source renamed to
// its index, so lookups come back in terms of Map.sources.
func parseConsumer(raw rawMap) (*gosourcemap.Consumer, error) {
	indexed := struct {
		Version  int      `json:"version"`
		File     string   `json:"file"`
		Sources  []string `json:"sources"`
		Names    []string `json:"names"`
		Mappings string   `json:"mappings"`
	}{Version: raw.Version, File: raw.File, Names: raw.Names, Mappings: raw.Mappings}
	for i := range raw.Sources {
		indexed.Sources = append(indexed.Sources, strconv.Itoa(i))
	}
	data, err := json.Marshal(indexed)
	if err != nil {
		return nil, err
	}
	return gosourcemap.Parse("", data)
}

func (m *Map) decode(mappings string) error {
	var src, srcLine, srcCol int
	m.bySource = make([][]mapping, len(m.sources))
	m.firstCol = make(map[int]int)
	for genLine, line := range strings.Split(mappings, ";") {
		genCol := 0
		for _, seg := range strings.Split(line, ",") {
			if seg == "" {
				continue
			}
			fields, err := decodeVLQ(seg)
			if err != nil {
				return err
			}
			genCol += fields[0]
			if len(fields) < 4 {
				continue
			}
			src += fields[1]
			srcLine += fields[2]
			srcCol += fields[3]
			if src < 0 || src >= len(m.sources) {
				return fmt.Errorf("sourcemap: source index %d out of range", src)
			}
			if first, ok := m.firstCol[genLine]; !ok || genCol < first {
				m.firstCol[genLine] = genCol
			}
			mp := mapping{genLine: genLine, genCol: genCol, src: src, srcLine: srcLine, srcCol: srcCol}
			m.bySource[src] = append(m.bySource[src], mp)
		}
	}
	for _, list := range m.bySource {
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i], list[j]
			return a.srcLine < b.srcLine || a.srcLine == b.srcLine && a.srcCol < b.srcCol
		})
	}
	return nil
}

// URL returns where the map was loaded from.
func (m *Map) URL() resource.Identifier { return m.url }

func (m *Map) AuthoredSources() []resource.Identifier {
	return append([]resource.Identifier(nil), m.sources...)
}

func (m *Map) AuthoredPositionFor(pos location.Position) (resource.Identifier, location.Position, bool) {
	col := pos.ColumnOrZero()
	// go-sourcemap falls back to mappings on earlier lines; positions
	// before the first mapping of their own line are unmapped.
	first, ok := m.firstCol[pos.Line]
	if m.consumer == nil || !ok || col < first {
		return resource.Identifier{}, location.Position{}, false
	}
	src, _, line, column, ok := m.consumer.Source(pos.Line+1, col)
	if !ok {
		return resource.Identifier{}, location.Position{}, false
	}
	idx, err := strconv.Atoi(src)
	if err != nil || idx < 0 || idx >= len(m.sources) {
		return resource.Identifier{}, location.Position{}, false
	}
	return m.sources[idx], location.At(line-1, column), true
}

func (m *Map) GeneratedPositionFor(source resource.Identifier, pos location.Position) (location.Position, bool) {
	idx, ok := m.index[source.Canonical()]
	if !ok {
		return location.Position{}, false
	}
	list := m.bySource[idx]
	col := pos.ColumnOrZero()
	i := sort.Search(len(list), func(i int) bool {
		g := list[i]
		return g.srcLine > pos.Line || g.srcLine == pos.Line && g.srcCol >= col
	})
	if i < len(list) && list[i].srcLine == pos.Line {
		return location.At(list[i].genLine, list[i].genCol), true
	}
	// Nothing at or after col: fall back to the closest mapping before it
	// on the same line.
	if i > 0 && list[i-1].srcLine == pos.Line {
		return location.At(list[i-1].genLine, list[i-1].genCol), true
	}
	return location.Position{}, false
}

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Values = func() [256]int {
	var v [256]int
	for i := range v {
		v[i] = -1
	}
	for i := 0; i < len(base64Alphabet); i++ {
		v[base64Alphabet[i]] = i
	}
	return v
}()

func decodeVLQ(seg string) ([]int, error) {
	var (
		out   []int
		value int
		shift uint
	)
	for i := 0; i < len(seg); i++ {
		digit := base64Values[seg[i]]
		if digit < 0 {
			return nil, fmt.Errorf("sourcemap: invalid VLQ character %q", seg[i])
		}
		value += (digit & 31) << shift
		if digit&32 != 0 {
			shift += 5
			continue
		}
		n := value >> 1
		if value&1 != 0 {
			n = -n
		}
		out = append(out, n)
		value, shift = 0, 0
	}
	if shift != 0 {
		return nil, errors.New("sourcemap: truncated VLQ segment")
	}
	return out, nil
}
