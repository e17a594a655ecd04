// Package categories holds the built-in category -> domain tables. Built-in
// sets ship with the binary and never need a refresh; external blacklist
// categories live in the store and are replaced wholesale by the updater.
package categories

import "sort"

type Builtin struct {
	Name        string
	Description string
	Domains     []string
}

var builtins = map[string]Builtin{
	"social_media": {
		Name:        "Social Media",
		Description: "Social networking sites like Facebook, Twitter, Instagram, TikTok",
		Domains: []string{
			"facebook.com",
			"fb.com",
			"twitter.com",
			"x.com",
			"instagram.com",
			"tiktok.com",
			"snapchat.com",
			"linkedin.com",
			"reddit.com",
			"pinterest.com",
			"discord.com",
			"telegram.org",
		},
	},
	"gaming": {
		Name:        "Gaming",
		Description: "Online gaming platforms like Steam, Roblox, Epic Games",
		Domains: []string{
			"roblox.com",
			"minecraft.net",
			"fortnite.com",
			"steampowered.com",
			"steamcommunity.com",
			"epicgames.com",
			"twitch.tv",
		},
	},
	"video": {
		Name:        "Video Streaming",
		Description: "Video streaming platforms like YouTube, Netflix, Disney+",
		Domains: []string{
			"youtube.com",
			"youtu.be",
			"netflix.com",
			"disneyplus.com",
			"hulu.com",
			"primevideo.com",
			"hbomax.com",
			"dailymotion.com",
			"vimeo.com",
		},
	},
}

// Get returns the built-in category for slug, if any.
func Get(slug string) (Builtin, bool) {
	b, ok := builtins[slug]
	return b, ok
}

// Slugs returns all built-in category slugs, sorted.
func Slugs() []string {
	out := make([]string, 0, len(builtins))
	for slug := range builtins {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Domains returns the fixed domain list for slug, or nil.
func Domains(slug string) []string {
	return builtins[slug].Domains
}
