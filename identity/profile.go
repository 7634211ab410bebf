// Package identity holds the browser request profile the scraper presents to
// the source. Requests should look like they come from a desktop Chrome.
package identity

import (
	"math/rand/v2"
	"net/http"
)

// Profile is one coherent set of browser request headers.
type Profile struct {
	Name           string
	UserAgent      string
	SecCHUA        string
	Platform       string
	AcceptLanguage string
}

var profiles = []Profile{
	{
		Name:           "chrome-win",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		SecCHUA:        `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		Platform:       `"Windows"`,
		AcceptLanguage: "he-IL,he;q=0.9,en-US;q=0.8,en;q=0.7",
	},
	{
		Name:           "chrome-mac",
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		SecCHUA:        `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		Platform:       `"macOS"`,
		AcceptLanguage: "he-IL,he;q=0.9,en-US;q=0.8,en;q=0.7",
	},
	{
		Name:           "chrome-linux",
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		SecCHUA:        `"Chromium";v="130", "Google Chrome";v="130", "Not?A_Brand";v="99"`,
		Platform:       `"Linux"`,
		AcceptLanguage: "en-US,en;q=0.9,he;q=0.8",
	},
}

// Random picks a profile; one run should keep the profile it started with.
func Random() Profile {
	return profiles[rand.IntN(len(profiles))]
}

// Headers returns the JSON-request header set for this profile.
func (p Profile) Headers() http.Header {
	h := http.Header{}
	h.Set("User-Agent", p.UserAgent)
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", p.AcceptLanguage)
	h.Set("sec-ch-ua", p.SecCHUA)
	h.Set("sec-ch-ua-mobile", "?0")
	h.Set("sec-ch-ua-platform", p.Platform)
	h.Set("sec-fetch-dest", "empty")
	h.Set("sec-fetch-mode", "cors")
	h.Set("sec-fetch-site", "same-origin")
	h.Set("x-nextjs-data", "1")
	return h
}
