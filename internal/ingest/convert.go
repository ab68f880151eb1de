package ingest

import (
	"fmt"
	"strings"
	"time"

	payloadschema "pulsewatch.dev/pulsewatch/schema"
)

// FromPayload converts a schema-validated collector payload into the
// ingestion input. Timestamps become UTC; missing optional fields keep zero
// values.
func FromPayload(item *payloadschema.MentionPayload) (RawMention, error) {
	if item == nil {
		return RawMention{}, fmt.Errorf("payload is nil")
	}

	publishedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(item.PublishedAt))
	if err != nil {
		return RawMention{}, fmt.Errorf("parse published_at: %w", err)
	}

	raw := RawMention{
		Platform:       strings.TrimSpace(strings.ToLower(item.Platform)),
		ExternalPostID: strings.TrimSpace(item.ExternalPostID),
		ContentText:    item.ContentText,
		Hashtags:       item.Hashtags,
		PublishedAt:    publishedAt.UTC(),
	}

	if item.URL != nil {
		raw.URL = strings.TrimSpace(*item.URL)
	}
	if item.PostType != nil {
		raw.PostType = strings.TrimSpace(*item.PostType)
	}
	if item.Language != nil {
		raw.Language = strings.TrimSpace(strings.ToLower(*item.Language))
	}
	if item.CollectedAt != nil {
		collectedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(*item.CollectedAt))
		if err != nil {
			return RawMention{}, fmt.Errorf("parse collected_at: %w", err)
		}
		raw.CollectedAt = collectedAt.UTC()
	}

	if item.Engagement != nil {
		if item.Engagement.Likes != nil {
			raw.Likes = *item.Engagement.Likes
		}
		if item.Engagement.Shares != nil {
			raw.Shares = *item.Engagement.Shares
		}
		if item.Engagement.Comments != nil {
			raw.Comments = *item.Engagement.Comments
		}
	}

	if item.Author != nil && strings.TrimSpace(item.Author.ExternalUserID) != "" {
		author := Author{
			ExternalUserID: strings.TrimSpace(item.Author.ExternalUserID),
		}
		if item.Author.Handle != nil {
			author.Handle = strings.TrimSpace(*item.Author.Handle)
		}
		if item.Author.DisplayName != nil {
			author.DisplayName = strings.TrimSpace(*item.Author.DisplayName)
		}
		if item.Author.FollowersCount != nil {
			author.FollowersCount = *item.Author.FollowersCount
		}
		if item.Author.Verified != nil {
			author.Verified = *item.Author.Verified
		}
		raw.Author = &author
	}

	return raw, nil
}
