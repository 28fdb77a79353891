package ytdlp

import (
	"strings"
)

const (
	// Binary is the first token of every generated command.
	Binary = "yt-dlp"

	// Extension is appended to the output filename.
	Extension = ".mp4"

	// Separator joins tokens: a shell line continuation plus indentation.
	Separator = " \\\n  "
)

// unsafeFilename replaces characters that are illegal in filenames on common
// filesystems.
var unsafeFilename = strings.NewReplacer(
	`\`, "_", "/", "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// shellEscaper escapes what is still special inside a double-quoted shell word.
var shellEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`")

// Transform parses captured and builds the yt-dlp command for it.
func Transform(captured, title, episode string) string {
	return Build(Parse(captured), title, episode)
}

// Build renders info as a yt-dlp command. Token order is fixed: --referer,
// --user-agent, the -b cookie as a Cookie header, the remaining headers in
// capture order, the URL, then -o with the output filename. Each header is
// emitted exactly once.
func Build(info RequestInfo, title, episode string) string {
	tokens := []string{Binary}

	if info.Referer != "" {
		tokens = append(tokens, "--referer "+quote(info.Referer))
	}
	if info.UserAgent != "" {
		tokens = append(tokens, "--user-agent "+quote(info.UserAgent))
	}
	if info.Cookie != "" {
		tokens = append(tokens, "--add-header "+quote("Cookie: "+info.Cookie))
	}

	for _, h := range info.Headers {
		if skipGeneric(h.Name, info.Cookie != "") {
			continue
		}
		tokens = append(tokens, "--add-header "+quote(h.Name+": "+h.Value))
	}

	if info.URL != "" {
		tokens = append(tokens, quote(info.URL))
	}

	tokens = append(tokens, "-o "+quote(Filename(title, episode)))

	return strings.Join(tokens, Separator)
}

// Filename concatenates the sanitized title and episode and appends
// Extension. No separator is inserted between the two parts.
func Filename(title, episode string) string {
	return SanitizeFilename(title) + SanitizeFilename(episode) + Extension
}

// SanitizeFilename replaces each of \ / : * ? " < > | with an underscore.
func SanitizeFilename(s string) string {
	return unsafeFilename.Replace(s)
}

// skipGeneric reports whether a header is already covered by a dedicated
// token.
func skipGeneric(name string, haveCookie bool) bool {
	switch {
	case strings.EqualFold(name, "Referer"), strings.EqualFold(name, "User-Agent"):
		return true
	case haveCookie && strings.EqualFold(name, "Cookie"):
		return true
	}
	return false
}

func quote(s string) string {
	return `"` + shellEscaper.Replace(s) + `"`
}
