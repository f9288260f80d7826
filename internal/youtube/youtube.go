package youtube

import (
	"net/url"
	"regexp"
	"strings"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var videoHosts = []string{"youtube.com", "youtube-nocookie.com"}

// ExtractID returns the 11 character video ID from a YouTube link or a bare ID.
func ExtractID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if idPattern.MatchString(raw) {
		return raw, true
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	switch {
	case host == "youtu.be" || host == "www.youtu.be":
		id = segments[0]
	case videoHost(host):
		if segments[0] == "watch" {
			id = u.Query().Get("v")
			break
		}
		if len(segments) == 2 {
			switch segments[0] {
			case "embed", "shorts", "v", "live":
				id = segments[1]
			}
		}
	}
	if !idPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// videoHost accepts the YouTube domains and their subdomains only.
func videoHost(host string) bool {
	for _, base := range videoHosts {
		if host == base || strings.HasSuffix(host, "."+base) {
			return true
		}
	}
	return false
}

func Thumbnail(id string) string {
	return "https://img.youtube.com/vi/" + url.PathEscape(id) + "/hqdefault.jpg"
}

func EmbedURL(id string) string {
	return "https://www.youtube.com/embed/" + url.PathEscape(id)
}

func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(id)
}
