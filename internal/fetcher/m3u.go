package fetcher

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"regexp"
	"strings"
	"time"

	"github.com/voyagen/livevault/internal/models"
)

var (
	reTvgID   = regexp.MustCompile(`tvg-id="([^"]*)"`)
	reTvgLogo = regexp.MustCompile(`tvg-logo="([^"]*)"`)
	reGroup   = regexp.MustCompile(`group-title="([^"]*)"`)
)

const extinfMarker = "#EXTINF:"

// ParseOptions controls the defaults the parser applies to incomplete entries.
type ParseOptions struct {
	DefaultGroup string
	UnknownName  string
	// Now stamps LastUpdated on every emitted channel. Defaults to time.Now.
	Now func() time.Time
}

// Parser turns an extended M3U playlist into channel records.
// It keeps no state between calls.
type Parser struct {
	opts ParseOptions
}

// NewParser returns a Parser, filling unset options with the package defaults.
func NewParser(opts ParseOptions) *Parser {
	if opts.DefaultGroup == "" {
		opts.DefaultGroup = models.DefaultGroup
	}
	if opts.UnknownName == "" {
		opts.UnknownName = models.UnknownChannelName
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Parser{opts: opts}
}

// ParseM3U reads the whole playlist from r with default options.
func ParseM3U(r io.Reader) ([]models.Channel, error) {
	var out []models.Channel
	for ch, err := range NewParser(ParseOptions{}).Channels(r) {
		if err != nil {
			return out, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// pending holds the metadata of the last #EXTINF line until its URL line arrives.
type pending struct {
	name  string
	logo  string
	group string
	tvgID string
}

// Channels streams channels from r in source order. The only error yielded is
// a read failure of r, after which the sequence ends.
func (p *Parser) Channels(r io.Reader) iter.Seq2[models.Channel, error] {
	return func(yield func(models.Channel, error) bool) {
		scanner := bufio.NewScanner(r)
		// Some playlists carry very long EXTINF lines.
		const maxSize = 1024 * 1024
		scanner.Buffer(make([]byte, 0, 64*1024), maxSize)
		scanner.Split(scanAnyLines)

		var cur pending
		first := true
		for scanner.Scan() {
			line := scanner.Text()
			if first {
				line = strings.TrimPrefix(line, "\ufeff")
				first = false
			}
			trimmed := strings.TrimSpace(line)

			switch {
			case hasPrefixFold(trimmed, extinfMarker):
				// A previous EXTINF without a URL is discarded.
				cur = p.parseEXTINF(trimmed)
			case trimmed == "" || strings.HasPrefix(trimmed, "#"):
				continue
			default:
				if cur.name == "" {
					continue
				}
				ch := models.Channel{
					Name:        cur.name,
					URL:         trimmed,
					Group:       cur.group,
					TvgID:       cur.tvgID,
					LastUpdated: p.opts.Now().UnixMilli(),
				}
				if cur.logo != "" {
					logo := cur.logo
					ch.LogoURL = &logo
				}
				cur = pending{}
				if !yield(ch, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			yield(models.Channel{}, err)
		}
	}
}

func (p *Parser) parseEXTINF(line string) pending {
	e := pending{
		logo:  matchFirst(reTvgLogo, line),
		group: matchFirst(reGroup, line),
		tvgID: matchFirst(reTvgID, line),
		name:  p.opts.UnknownName,
	}
	if e.group == "" {
		e.group = p.opts.DefaultGroup
	}
	if i := strings.LastIndex(line, ","); i >= 0 {
		if name := strings.TrimSpace(line[i+1:]); name != "" {
			e.name = name
		}
	}
	return e
}

func matchFirst(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// scanAnyLines is bufio.ScanLines extended to accept bare '\r' line endings.
func scanAnyLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if !atEOF {
			// Need one more byte to tell "\r" from "\r\n".
			return 0, nil, nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
