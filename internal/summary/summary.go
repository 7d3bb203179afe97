// Package summary defines the saved-summary record and the ordered collection
// the coordinator persists under the "summaries" key.
package summary

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Summary is one persisted condensation of a page's text.
// JSON keys match the stored format.
type Summary struct {
	// ID is a ULID assigned by the coordinator at creation time.
	ID string `json:"id"`

	// Text is the generated summary.
	Text string `json:"summary"`

	// URL is the page the text was extracted from.
	URL string `json:"url"`

	// Title is the page title at extraction time.
	Title string `json:"title"`

	// Date is when the summary was saved.
	Date time.Time `json:"date"`
}

// Preview returns the first n runes of the summary text on one line.
func (s Summary) Preview(n int) string {
	text := strings.Join(strings.Fields(s.Text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

// Collection is an ordered list of summaries, newest first, unique by ID.
type Collection []Summary

// Prepend returns a new collection with s at the front.
// The receiver is never modified.
func (c Collection) Prepend(s Summary) Collection {
	out := make(Collection, 0, len(c)+1)
	out = append(out, s)
	return append(out, c...)
}

// Remove returns a new collection without the entry matching id,
// and whether such an entry existed.
func (c Collection) Remove(id string) (Collection, bool) {
	out := make(Collection, 0, len(c))
	found := false
	for _, s := range c {
		if s.ID == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	return out, found
}

// Find returns the entry with the given id.
func (c Collection) Find(id string) (Summary, bool) {
	for _, s := range c {
		if s.ID == id {
			return s, true
		}
	}
	return Summary{}, false
}

// Decode parses a stored collection. Empty input is an empty collection.
func Decode(raw []byte) (Collection, error) {
	if len(raw) == 0 {
		return Collection{}, nil
	}
	var c Collection
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode summaries: %w", err)
	}
	if c == nil {
		c = Collection{}
	}
	return c, nil
}

// Encode serializes the collection for storage. A nil collection encodes as [].
func Encode(c Collection) ([]byte, error) {
	if c == nil {
		c = Collection{}
	}
	return json.Marshal(c)
}

// New builds a summary with a fresh id.
func New(text, url, title string, now time.Time) (Summary, error) {
	id, err := NewID(now)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		ID:    id,
		Text:  text,
		URL:   url,
		Title: title,
		Date:  now.UTC(),
	}, nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a ULID for the given time. IDs minted within the same
// millisecond stay strictly increasing.
func NewID(now time.Time) (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
