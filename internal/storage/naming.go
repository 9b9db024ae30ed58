package storage

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxSlugLen      = 60
	timestampLayout = "20060102T150405Z"
)

var nonAlphaNum = regexp.MustCompile(`[^a-z0-9]+`)

var lower = cases.Lower(language.Und)

// Slug folds a prompt to a short ASCII file name fragment.
func Slug(prompt string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), prompt)
	if err != nil {
		folded = prompt
	}
	slug := lower.String(folded)
	slug = nonAlphaNum.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "untitled"
	}
	return slug
}

// ArtifactKey names the artifact of one job: the job index, the UTC capture
// time and the prompt slug, below an optional category folder.
func ArtifactKey(category string, index int, at time.Time, prompt, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name := fmt.Sprintf("%04d-%s-%s%s", index, at.UTC().Format(timestampLayout), Slug(prompt), ext)
	category = strings.Trim(strings.TrimSpace(category), "/")
	if category == "" {
		return name
	}
	return category + "/" + name
}

var extensionsByType = map[string]string{
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/webp":      ".webp",
}

// Extension picks a file extension from the downloaded file name, then the
// content type.
func Extension(contentType, path string) string {
	if ext := strings.ToLower(filepath.Ext(path)); ext != "" && ext != ".crdownload" {
		return ext
	}
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ext, ok := extensionsByType[mediaType]; ok {
		return ext
	}
	if strings.HasPrefix(mediaType, "video/") {
		return ".mp4"
	}
	return ".bin"
}
