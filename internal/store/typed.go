package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hpungsan/skim/internal/errors"
	"github.com/hpungsan/skim/internal/summary"
)

// Snapshot is one batch read of everything a control surface shows.
type Snapshot struct {
	Enabled       bool               `json:"enabled"`
	HasCredential bool               `json:"has_credential"`
	Credential    string             `json:"-"`
	Summaries     summary.Collection `json:"summaries"`
}

// ReadSnapshot reads the toggle, the credential and the collection in one Get.
func ReadSnapshot(ctx context.Context, s Store) (*Snapshot, error) {
	values, err := s.Get(ctx, KeyEnabled, KeyCredential, KeySummaries)
	if err != nil {
		return nil, err
	}
	enabled, err := DecodeEnabled(values[KeyEnabled])
	if err != nil {
		return nil, err
	}
	credential, ok, err := DecodeCredential(values[KeyCredential])
	if err != nil {
		return nil, err
	}
	summaries, err := DecodeSummaries(values[KeySummaries])
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Enabled:       enabled,
		HasCredential: ok,
		Credential:    credential,
		Summaries:     summaries,
	}, nil
}

// Enabled reads the feature toggle. An absent key reads as true.
func Enabled(ctx context.Context, s Store) (bool, error) {
	values, err := s.Get(ctx, KeyEnabled)
	if err != nil {
		return false, err
	}
	return DecodeEnabled(values[KeyEnabled])
}

// DecodeEnabled parses a stored toggle value. nil means absent and reads as true.
func DecodeEnabled(raw json.RawMessage) (bool, error) {
	if raw == nil {
		return true, nil
	}
	var enabled bool
	if err := json.Unmarshal(raw, &enabled); err != nil {
		return false, errors.NewStore("get", fmt.Errorf("decode %s: %w", KeyEnabled, err))
	}
	return enabled, nil
}

// SetEnabled writes the feature toggle.
func SetEnabled(ctx context.Context, s Store, enabled bool) error {
	return s.Set(ctx, Values{KeyEnabled: mustJSON(enabled)})
}

// Credential reads the API credential. ok is false when none is configured.
func Credential(ctx context.Context, s Store) (credential string, ok bool, err error) {
	values, err := s.Get(ctx, KeyCredential)
	if err != nil {
		return "", false, err
	}
	return DecodeCredential(values[KeyCredential])
}

// DecodeCredential decodes a stored credential. A blank value reads as absent.
func DecodeCredential(raw json.RawMessage) (string, bool, error) {
	if raw == nil {
		return "", false, nil
	}
	var credential string
	if err := json.Unmarshal(raw, &credential); err != nil {
		return "", false, errors.NewStore("get", fmt.Errorf("decode %s: %w", KeyCredential, err))
	}
	if strings.TrimSpace(credential) == "" {
		return "", false, nil
	}
	return credential, true, nil
}

// SetCredential stores the API credential, trimmed. Blank input is rejected.
func SetCredential(ctx context.Context, s Store, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return errors.NewInvalidRequest("Please enter an API key")
	}
	return s.Set(ctx, Values{KeyCredential: mustJSON(credential)})
}

// RemoveCredential deletes the API credential.
func RemoveCredential(ctx context.Context, s Store) error {
	return s.Remove(ctx, KeyCredential)
}

// Summaries reads the saved collection. An absent key reads as empty.
func Summaries(ctx context.Context, s Store) (summary.Collection, error) {
	values, err := s.Get(ctx, KeySummaries)
	if err != nil {
		return nil, err
	}
	return DecodeSummaries(values[KeySummaries])
}

// DecodeSummaries parses a stored collection value.
func DecodeSummaries(raw json.RawMessage) (summary.Collection, error) {
	c, err := summary.Decode(raw)
	if err != nil {
		return nil, errors.NewStore("get", err)
	}
	return c, nil
}

// PutSummaries writes the whole collection.
func PutSummaries(ctx context.Context, s Store, c summary.Collection) error {
	raw, err := summary.Encode(c)
	if err != nil {
		return errors.NewStore("set", err)
	}
	return s.Set(ctx, Values{KeySummaries: raw})
}

// MaskCredential shows only the last four characters of a credential.
func MaskCredential(credential string) string {
	if len(credential) <= 4 {
		return "****"
	}
	return "****" + credential[len(credential)-4:]
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal %T: %v", v, err))
	}
	return raw
}
