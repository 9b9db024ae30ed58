package domain

import "strings"

// CaptureStrategy names one of the two artifact retrieval paths.
type CaptureStrategy string

const (
	// CaptureActive instructs the provider UI to produce a download.
	CaptureActive CaptureStrategy = "active"
	// CapturePassive observes outbound transfers made by the session.
	CapturePassive CaptureStrategy = "passive"
)

// CaptureResult is the artifact produced by a winning capture strategy.
// Exactly one of Path or Data is normally set.
type CaptureResult struct {
	Strategy    CaptureStrategy
	Path        string
	Data        []byte
	SourceURL   string
	ContentType string
	Size        int64
}

// Transfer is one outbound data transfer observed on a session.
type Transfer struct {
	URL         string
	ContentType string
	Size        int64
	Data        []byte
}

// CapturePolicy decides whether a candidate looks like the final artifact
// rather than a thumbnail or preview.
type CapturePolicy struct {
	MediaType string
	MinBytes  int64
}

// Accepts reports whether a candidate of the given content type and size
// satisfies the policy. An empty MediaType accepts any content type.
func (p CapturePolicy) Accepts(contentType string, size int64) bool {
	if size < p.MinBytes || size <= 0 {
		return false
	}
	want := strings.ToLower(strings.TrimSpace(p.MediaType))
	if want == "" {
		return true
	}
	got := strings.ToLower(strings.TrimSpace(contentType))
	if strings.HasSuffix(want, "/") {
		return strings.HasPrefix(got, want)
	}
	return got == want || strings.HasPrefix(got, want+";")
}

// AcceptsResult applies the policy to a capture result.
func (p CapturePolicy) AcceptsResult(res *CaptureResult) bool {
	if res == nil {
		return false
	}
	return p.Accepts(res.ContentType, res.Size)
}
