package ingest

import (
	"testing"
	"time"

	payloadschema "pulsewatch.dev/pulsewatch/schema"
)

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }

func TestFromPayload(t *testing.T) {
	t.Parallel()

	item := &payloadschema.MentionPayload{
		PayloadVersion: "v1",
		Platform:       " Mastodon ",
		ExternalPostID: " post-123 ",
		ContentText:    "Acme launched something",
		PublishedAt:    "2026-02-14T10:30:00+02:00",
		URL:            strPtr(" https://example.com/p/1 "),
		PostType:       strPtr("post"),
		Language:       strPtr("EN"),
		Hashtags:       []string{"acme"},
		CollectedAt:    strPtr("2026-02-14T10:31:00Z"),
		Author: &payloadschema.Author{
			ExternalUserID: " user-9 ",
			Handle:         strPtr("acmefan"),
			FollowersCount: intPtr(1200),
			Verified:       boolPtr(true),
		},
		Engagement: &payloadschema.Engagement{
			Likes:    intPtr(10),
			Shares:   intPtr(2),
			Comments: intPtr(1),
		},
	}

	raw, err := FromPayload(item)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}

	if raw.Platform != "mastodon" {
		t.Fatalf("unexpected platform: %q", raw.Platform)
	}
	if raw.ExternalPostID != "post-123" {
		t.Fatalf("unexpected external post id: %q", raw.ExternalPostID)
	}
	wantPublished := time.Date(2026, 2, 14, 8, 30, 0, 0, time.UTC)
	if !raw.PublishedAt.Equal(wantPublished) || raw.PublishedAt.Location() != time.UTC {
		t.Fatalf("unexpected published_at: %s", raw.PublishedAt)
	}
	if raw.URL != "https://example.com/p/1" {
		t.Fatalf("unexpected url: %q", raw.URL)
	}
	if raw.Language != "en" {
		t.Fatalf("unexpected language: %q", raw.Language)
	}
	if raw.Likes != 10 || raw.Shares != 2 || raw.Comments != 1 {
		t.Fatalf("unexpected engagement: %d %d %d", raw.Likes, raw.Shares, raw.Comments)
	}
	if raw.Author == nil || raw.Author.ExternalUserID != "user-9" || !raw.Author.Verified {
		t.Fatalf("unexpected author: %+v", raw.Author)
	}
	if raw.Author.FollowersCount != 1200 {
		t.Fatalf("unexpected followers count: %d", raw.Author.FollowersCount)
	}
}

func TestFromPayloadMinimal(t *testing.T) {
	t.Parallel()

	item := &payloadschema.MentionPayload{
		PayloadVersion: "v1",
		Platform:       "bluesky",
		ExternalPostID: "at://post/1",
		ContentText:    "short mention",
		PublishedAt:    "2026-02-14T10:30:00Z",
	}

	raw, err := FromPayload(item)
	if err != nil {
		t.Fatalf("convert failed: %v", err)
	}
	if raw.URL != "" || raw.Language != "" || raw.Author != nil {
		t.Fatalf("expected zero values for optional fields: %+v", raw)
	}
	if !raw.CollectedAt.IsZero() {
		t.Fatalf("expected zero collected_at, got %s", raw.CollectedAt)
	}
}

func TestFromPayloadErrors(t *testing.T) {
	t.Parallel()

	if _, err := FromPayload(nil); err == nil {
		t.Fatalf("expected error for nil payload")
	}

	bad := &payloadschema.MentionPayload{
		PayloadVersion: "v1",
		Platform:       "mastodon",
		ExternalPostID: "post-1",
		ContentText:    "text",
		PublishedAt:    "not a timestamp",
	}
	if _, err := FromPayload(bad); err == nil {
		t.Fatalf("expected error for invalid published_at")
	}

	badCollected := &payloadschema.MentionPayload{
		PayloadVersion: "v1",
		Platform:       "mastodon",
		ExternalPostID: "post-1",
		ContentText:    "text",
		PublishedAt:    "2026-02-14T10:30:00Z",
		CollectedAt:    strPtr("also not a timestamp"),
	}
	if _, err := FromPayload(badCollected); err == nil {
		t.Fatalf("expected error for invalid collected_at")
	}
}
