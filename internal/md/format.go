// Package md renders a liked post as issue markdown: title, description and
// the smart-label categories it matches.
package md

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JohanCodinha/aurora/internal/config"
	"github.com/JohanCodinha/aurora/internal/models"
)

// Untitled is used when no title can be derived from a post.
const Untitled = "Untitled Issue"

// smartMinLength is the shortest sentence the smart style accepts before
// falling back to the author title.
const smartMinLength = 10

var (
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	mentionPrefix  = regexp.MustCompile(`^(?:@\w+\s+)+`)
	sentenceEnd    = regexp.MustCompile(`[.!?。！？](?:\s|$)`)
	spaceRun       = regexp.MustCompile(`\s+`)
	labelWordSplit = func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }
)

// Keywords maps each label category to the words that select it.
var Keywords = map[string][]string{
	"technology":    {"tech", "code", "ai"},
	"business":      {"business", "startup"},
	"entertainment": {"movie", "music"},
	"sports":        {"sport", "game"},
	"politics":      {"politics", "policy"},
	"science":       {"science", "research"},
}

// Title returns the issue title for post under cfg.TitleStyle.
//
//	author:  "Post by Name (@handle)"
//	content: the first line of the text
//	smart:   the first sentence of the text without links or leading mentions,
//	         or the author title when that sentence is too short
//
// Titles are truncated to cfg.TitleMaxLength runes.
func Title(post models.Post, cfg config.Config) string {
	var title string
	switch cfg.TitleStyle {
	case config.TitleAuthor:
		title = authorTitle(post)
	case config.TitleContent:
		title = firstLine(post.Text)
	default:
		title = smartTitle(post.Text)
		if utf8.RuneCountInString(title) < smartMinLength {
			title = ""
		}
	}

	if title == "" {
		title = authorTitle(post)
	}
	if title == "" {
		return Untitled
	}
	return truncate(title, cfg.TitleMaxLength)
}

func authorTitle(post models.Post) string {
	name, handle := post.Author.Name, strings.TrimPrefix(post.Author.Handle, "@")
	switch {
	case name != "" && handle != "":
		return fmt.Sprintf("Post by %s (@%s)", name, handle)
	case name != "":
		return "Post by " + name
	case handle != "":
		return "Post by @" + handle
	}
	return ""
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = collapse(line); line != "" {
			return line
		}
	}
	return ""
}

func smartTitle(text string) string {
	text = urlPattern.ReplaceAllString(text, "")
	text = collapse(text)
	text = mentionPrefix.ReplaceAllString(text, "")
	if loc := sentenceEnd.FindStringIndex(text); loc != nil {
		text = text[:loc[1]]
	}
	return strings.TrimSpace(text)
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// truncate cuts s to max runes, preferring a word boundary in the last
// fifth, and marks the cut with an ellipsis.
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	runes := []rune(s)[:max-1]
	cut := len(runes)
	for i := len(runes) - 1; i >= len(runes)*4/5; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + "…"
}

// Description renders the issue body for post.
func Description(post models.Post) string {
	var b strings.Builder

	b.WriteString("**Liked post from X.com**\n\n")
	fmt.Fprintf(&b, "**Content:**\n%s\n\n", post.Text)
	if by := byline(post); by != "" {
		fmt.Fprintf(&b, "**Author:** %s\n\n", by)
	}
	if posted := postedAt(post); posted != "" {
		fmt.Fprintf(&b, "**Posted:** %s\n\n", posted)
	}
	if post.URL != "" {
		fmt.Fprintf(&b, "**Link:** [View post](%s)\n\n", post.URL)
	}

	if images := nonEmpty(post.Media.Images); len(images) > 0 {
		fmt.Fprintf(&b, "**Images (%d):**\n\n", len(images))
		for i, u := range images {
			fmt.Fprintf(&b, "![Image %d](%s)\n\n", i+1, LargeImageURL(u))
		}
	}
	if videos := nonEmpty(post.Media.Videos); len(videos) > 0 {
		fmt.Fprintf(&b, "**Videos (%d):**\n\n", len(videos))
		for i, u := range videos {
			fmt.Fprintf(&b, "📹 [Video %d](%s)\n\n", i+1, u)
		}
	}

	b.WriteString("---\n*Synced by Aurora*")
	return b.String()
}

func byline(post models.Post) string {
	handle := strings.TrimPrefix(post.Author.Handle, "@")
	switch {
	case post.Author.Name != "" && handle != "":
		return fmt.Sprintf("%s (@%s)", post.Author.Name, handle)
	case handle != "":
		return "@" + handle
	}
	return post.Author.Name
}

func postedAt(post models.Post) string {
	if t := post.CreatedAt(); !t.IsZero() {
		return t.UTC().Format("2006-01-02 15:04 UTC")
	}
	return post.Timestamp
}

func nonEmpty(urls []string) []string {
	var out []string
	for _, u := range urls {
		if strings.TrimSpace(u) != "" {
			out = append(out, u)
		}
	}
	return out
}

// LargeImageURL asks the X.com image CDN for the large rendition unless a
// size is already selected.
func LargeImageURL(u string) string {
	if !strings.Contains(u, "twimg.com") || strings.Contains(u, "name=") {
		return u
	}
	if strings.Contains(u, "?") {
		return u + "&name=large"
	}
	return u + "?name=large"
}

// Labels returns the enabled categories whose keywords appear in the post
// text, in cfg.LabelCategories order. A keyword matches a whole word or its
// plural. Nil when smart labels are off.
func Labels(post models.Post, cfg config.Config) []string {
	if !cfg.EnableSmartLabels {
		return nil
	}

	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(post.Text), labelWordSplit) {
		words[w] = true
	}

	var labels []string
	seen := make(map[string]bool)
	for _, category := range cfg.LabelCategories {
		if seen[category] {
			continue
		}
		for _, kw := range Keywords[category] {
			if words[kw] || words[kw+"s"] {
				labels = append(labels, category)
				seen[category] = true
				break
			}
		}
	}
	return labels
}
