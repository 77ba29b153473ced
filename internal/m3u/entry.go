package m3u

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// Entry is one playable item from a playlist. SeriesName is empty for anything that is not
// recognised as a series episode, in which case Season and Episode are zero.
type Entry struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	SeriesName string `json:"seriesName,omitempty"`
	Season     int    `json:"season,omitempty"`
	Episode    int    `json:"episode,omitempty"`
}

// IsEpisode reports whether the title matched the series pattern.
func (e Entry) IsEpisode() bool {
	return e.SeriesName != ""
}

// "<series><space|dot>S<season><optional space|dot>E<episode>", anywhere after the name.
var seriesPattern = regexp.MustCompile(`(?i)^(.+?)[ .]S(\d+)[ .]?E(\d+)`)

// ParseSeries extracts series name, season and episode from a title. ok is false when the
// title does not look like an episode.
func ParseSeries(title string) (name string, season, episode int, ok bool) {
	m := seriesPattern.FindStringSubmatch(title)
	if m == nil {
		return "", 0, 0, false
	}

	name = strings.TrimSpace(m[1])
	if name == "" {
		return "", 0, 0, false
	}

	season, errS := strconv.Atoi(m[2])
	episode, errE := strconv.Atoi(m[3])

	if errS != nil || errE != nil {
		return "", 0, 0, false
	}

	return name, season, episode, true
}

// EntryID is the deterministic id of the entry streamed from url.
func EntryID(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// titleFromExtinf returns the display title of a #EXTINF line: the text after its last comma.
func titleFromExtinf(line string) string {
	i := strings.LastIndexByte(line, ',')
	if i < 0 {
		return ""
	}

	return strings.TrimSpace(line[i+1:])
}

func newEntry(title, url string) Entry {
	e := Entry{
		ID:    EntryID(url),
		Title: title,
		URL:   url,
	}

	if name, season, episode, ok := ParseSeries(title); ok {
		e.SeriesName = name
		e.Season = season
		e.Episode = episode
	}

	return e
}
