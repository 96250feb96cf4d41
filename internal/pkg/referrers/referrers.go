// Package referrers labels referrer domains with the traffic source behind them.
package referrers

import "strings"

// Kind groups sources by how they send traffic.
type Kind string

const (
	Search    Kind = "search"
	Social    Kind = "social"
	Community Kind = "community"
	News      Kind = "news"
	Email     Kind = "email"
	Shortener Kind = "shortener"
	Other     Kind = "other"
)

// Source is a named traffic source.
type Source struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

var known = map[string]Source{
	"google.com":     {"Google", Search},
	"google.co.uk":   {"Google", Search},
	"google.de":      {"Google", Search},
	"google.fr":      {"Google", Search},
	"google.es":      {"Google", Search},
	"google.ca":      {"Google", Search},
	"google.com.au":  {"Google", Search},
	"google.co.jp":   {"Google", Search},
	"google.com.br":  {"Google", Search},
	"bing.com":       {"Bing", Search},
	"duckduckgo.com": {"DuckDuckGo", Search},
	"yahoo.com":      {"Yahoo", Search},
	"baidu.com":      {"Baidu", Search},
	"yandex.ru":      {"Yandex", Search},
	"ecosia.org":     {"Ecosia", Search},
	"kagi.com":       {"Kagi", Search},

	"x.com":           {"X/Twitter", Social},
	"twitter.com":     {"X/Twitter", Social},
	"t.co":            {"X/Twitter", Social},
	"facebook.com":    {"Facebook", Social},
	"fb.com":          {"Facebook", Social},
	"instagram.com":   {"Instagram", Social},
	"linkedin.com":    {"LinkedIn", Social},
	"lnkd.in":         {"LinkedIn", Social},
	"tiktok.com":      {"TikTok", Social},
	"pinterest.com":   {"Pinterest", Social},
	"threads.net":     {"Threads", Social},
	"bsky.app":        {"Bluesky", Social},
	"mastodon.social": {"Mastodon", Social},
	"youtube.com":     {"YouTube", Social},
	"youtu.be":        {"YouTube", Social},
	"discord.com":     {"Discord", Social},
	"t.me":            {"Telegram", Social},
	"slack.com":       {"Slack", Social},

	"reddit.com":           {"Reddit", Community},
	"news.ycombinator.com": {"Hacker News", Community},
	"hn.algolia.com":       {"Hacker News", Community},
	"lobste.rs":            {"Lobsters", Community},
	"producthunt.com":      {"Product Hunt", Community},
	"indiehackers.com":     {"Indie Hackers", Community},
	"dev.to":               {"DEV Community", Community},
	"medium.com":           {"Medium", Community},
	"substack.com":         {"Substack", Community},
	"github.com":           {"GitHub", Community},
	"gitlab.com":           {"GitLab", Community},
	"stackoverflow.com":    {"Stack Overflow", Community},

	"nytimes.com":        {"NY Times", News},
	"theguardian.com":    {"The Guardian", News},
	"bbc.com":            {"BBC", News},
	"bbc.co.uk":          {"BBC", News},
	"reuters.com":        {"Reuters", News},
	"techcrunch.com":     {"TechCrunch", News},
	"theverge.com":       {"The Verge", News},
	"arstechnica.com":    {"Ars Technica", News},

	"mail.google.com":    {"Gmail", Email},
	"outlook.live.com":   {"Outlook", Email},
	"outlook.office.com": {"Outlook", Email},
	"mail.yahoo.com":     {"Yahoo Mail", Email},
	"mail.proton.me":     {"Proton Mail", Email},

	"bit.ly":      {"Bitly", Shortener},
	"tinyurl.com": {"TinyURL", Shortener},
	"ow.ly":       {"Hootsuite", Shortener},
}

// Classify names the source behind a referrer domain. Subdomains inherit the
// closest known parent, so m.facebook.com is Facebook and mail.google.com
// stays Gmail. Unknown domains are returned as-is with kind Other.
func Classify(domain string) Source {
	host := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	if host == "" {
		return Source{}
	}

	for candidate := host; ; {
		if src, ok := known[candidate]; ok {
			return src
		}
		i := strings.IndexByte(candidate, '.')
		if i < 0 || !strings.Contains(candidate[i+1:], ".") {
			break
		}
		candidate = candidate[i+1:]
	}
	return Source{Name: host, Kind: Other}
}
