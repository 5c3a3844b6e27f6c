package catalog

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/RoyXiang/streamgate/common"
	"github.com/RoyXiang/streamgate/store"
	"github.com/jamesnetherton/m3u"
)

const (
	defaultGroup = "Genel"
	unknownName  = "Unknown"
	maxLineSize  = 1 << 20
)

var tagPattern = regexp.MustCompile(`([a-zA-Z0-9-]+)="([^"]*)"`)

type PlaylistSource struct {
	URL string
}

func (s PlaylistSource) Kind() store.CatalogType {
	return store.CatalogPlaylist
}

func (s PlaylistSource) Fetch(ctx context.Context, f *Fetcher, limit int) (*Result, error) {
	body, err := f.get(ctx, s.URL)
	if err != nil {
		return nil, err
	}
	return ParsePlaylist(bytes.NewReader(body), limit)
}

// ParsePlaylist decodes an extended M3U document and classifies its tracks.
// At most limit entries are kept; limit <= 0 keeps all.
func ParsePlaylist(r io.Reader, limit int) (*Result, error) {
	playlist, err := decodePlaylist(r)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, track := range playlist.Tracks {
		res.Reported++
		if limit > 0 && len(res.Entries) >= limit {
			res.Truncated++
			continue
		}
		res.Entries = append(res.Entries, entryFromTrack(track))
	}
	return res, nil
}

func entryFromTrack(track m3u.Track) Entry {
	e := Entry{Name: track.Name, PlayableURL: track.URI}
	for _, tag := range track.Tags {
		switch strings.ToLower(tag.Name) {
		case "tvg-logo":
			e.LogoURL = tag.Value
		case "group-title":
			e.GroupName = strings.TrimSpace(tag.Value)
		case "tvg-id":
			e.EpgID = tag.Value
		}
	}
	if e.Name == "" {
		e.Name = unknownName
	}
	if e.GroupName == "" {
		e.GroupName = defaultGroup
	}

	e.Type = Classify(e.Name, e.GroupName, e.PlayableURL)
	if e.Type == Live {
		e.PlayableURL = withManifestSuffix(e.PlayableURL)
	}
	e.ID = entryID(string(e.Type), e.Name, e.PlayableURL)
	return e
}

func decodePlaylist(r io.Reader) (m3u.Playlist, error) {
	var playlist m3u.Playlist
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	sawHeader := false
	var pending *m3u.Track
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !sawHeader {
			line = strings.TrimPrefix(line, "\ufeff")
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, "#EXTM3U") {
				return playlist, common.NewError(common.KindFormat, "playlist is missing the #EXTM3U header", nil)
			}
			sawHeader = true
			continue
		}

		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXTINF:"):
			track := parseExtinf(line)
			pending = &track
		case strings.HasPrefix(line, "#"):
		default:
			if pending == nil {
				continue
			}
			pending.URI = line
			playlist.Tracks = append(playlist.Tracks, *pending)
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return playlist, common.NewError(common.KindFormat, "playlist could not be read", err)
	}
	if !sawHeader {
		return playlist, common.NewError(common.KindFormat, "playlist is empty", nil)
	}
	return playlist, nil
}

// parseExtinf reads `#EXTINF:<length> <attrs>,<name>`. The name is everything
// after the first comma outside quoted attribute values, so names may contain
// commas and attribute values may too.
func parseExtinf(line string) m3u.Track {
	body := strings.TrimPrefix(line, "#EXTINF:")
	track := m3u.Track{Length: -1}

	split := -1
	quoted := false
	for i, c := range body {
		switch c {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted && split < 0 {
				split = i
			}
		}
	}
	attrs := body
	if split >= 0 {
		attrs = body[:split]
		track.Name = strings.TrimSpace(body[split+1:])
	}

	if fields := strings.Fields(attrs); len(fields) > 0 {
		if n, err := strconv.Atoi(fields[0]); err == nil {
			track.Length = n
		}
	}
	for _, m := range tagPattern.FindAllStringSubmatch(attrs, -1) {
		track.Tags = append(track.Tags, m3u.Tag{Name: m[1], Value: m[2]})
	}
	return track
}
