package payloadschema

import (
	"encoding/json"
	"strings"
	"testing"
)

const validMentionJSON = `{
	"payload_version": "v1",
	"platform": "mastodon",
	"external_post_id": "post-123",
	"content_text": "Acme just launched a new product line!",
	"published_at": "2026-02-14T10:30:00Z",
	"url": "https://mastodon.example/@acme/123",
	"post_type": "post",
	"language": "en",
	"hashtags": ["acme", "launch"],
	"author": {
		"external_user_id": "user-9",
		"handle": "acmefan",
		"followers_count": 1200,
		"verified": true
	},
	"engagement": {"likes": 10, "shares": 2, "comments": 1},
	"collected_at": "2026-02-14T10:31:00Z"
}`

func TestValidateMentionPayload(t *testing.T) {
	t.Parallel()

	item, err := ValidateMentionPayload(json.RawMessage(validMentionJSON))
	if err != nil {
		t.Fatalf("expected valid payload, got error: %v", err)
	}
	if item.Platform != "mastodon" || item.ExternalPostID != "post-123" {
		t.Fatalf("unexpected decoded payload: %+v", item)
	}
	if item.Author == nil || item.Author.ExternalUserID != "user-9" {
		t.Fatalf("unexpected author: %+v", item.Author)
	}
	if item.Engagement == nil || item.Engagement.Likes == nil || *item.Engagement.Likes != 10 {
		t.Fatalf("unexpected engagement: %+v", item.Engagement)
	}
}

func TestValidateMentionPayloadMinimal(t *testing.T) {
	t.Parallel()

	minimal := `{
		"payload_version": "v1",
		"platform": "bluesky",
		"external_post_id": "at://post/1",
		"content_text": "short mention",
		"published_at": "2026-02-14T10:30:00Z"
	}`
	item, err := ValidateMentionPayload(json.RawMessage(minimal))
	if err != nil {
		t.Fatalf("expected minimal payload to validate, got error: %v", err)
	}
	if item.URL != nil || item.Author != nil || item.Engagement != nil {
		t.Fatalf("expected optional fields to stay nil: %+v", item)
	}
}

func TestValidateMentionPayloadRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(m map[string]any)
		wantErr string
	}{
		{
			name:    "wrong version",
			mutate:  func(m map[string]any) { m["payload_version"] = "v2" },
			wantErr: "payload_version",
		},
		{
			name:    "missing platform",
			mutate:  func(m map[string]any) { delete(m, "platform") },
			wantErr: "schema validation failed",
		},
		{
			name:    "blank content",
			mutate:  func(m map[string]any) { m["content_text"] = "   " },
			wantErr: "content_text",
		},
		{
			name:    "bad published_at",
			mutate:  func(m map[string]any) { m["published_at"] = "yesterday" },
			wantErr: "published_at",
		},
		{
			name:    "empty hashtag",
			mutate:  func(m map[string]any) { m["hashtags"] = []any{"ok", " "} },
			wantErr: "hashtags",
		},
		{
			name: "author without id",
			mutate: func(m map[string]any) {
				m["author"] = map[string]any{"external_user_id": "", "handle": "x"}
			},
			wantErr: "external_user_id",
		},
		{
			name:    "unknown field",
			mutate:  func(m map[string]any) { m["surprise"] = true },
			wantErr: "schema validation failed",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var m map[string]any
			if err := json.Unmarshal([]byte(validMentionJSON), &m); err != nil {
				t.Fatalf("unmarshal base payload: %v", err)
			}
			tc.mutate(m)
			raw, err := json.Marshal(m)
			if err != nil {
				t.Fatalf("marshal mutated payload: %v", err)
			}

			if _, err := ValidateMentionPayload(raw); err == nil {
				t.Fatalf("expected validation error")
			} else if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidateMentionPayloadMalformedJSON(t *testing.T) {
	t.Parallel()

	if _, err := ValidateMentionPayload(json.RawMessage(`{"payload_version":`)); err == nil {
		t.Fatalf("expected error for truncated JSON")
	}
	if _, err := ValidateMentionPayload(json.RawMessage(``)); err == nil {
		t.Fatalf("expected error for empty payload")
	}
	if _, err := ValidateMentionPayload(json.RawMessage(`{"payload_version":"v1"} trailing`)); err == nil {
		t.Fatalf("expected error for trailing content")
	}
}
