package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed mention.schema.json
var mentionSchemaJSON string

// MentionPayload is the collector wire format for a single captured post.
type MentionPayload struct {
	PayloadVersion string       `json:"payload_version"`
	Platform       string       `json:"platform"`
	ExternalPostID string       `json:"external_post_id"`
	ContentText    string       `json:"content_text"`
	PublishedAt    string       `json:"published_at"`
	URL            *string      `json:"url,omitempty"`
	PostType       *string      `json:"post_type,omitempty"`
	Language       *string      `json:"language,omitempty"`
	Hashtags       []string     `json:"hashtags,omitempty"`
	Author         *Author      `json:"author,omitempty"`
	Engagement     *Engagement  `json:"engagement,omitempty"`
	CollectedAt    *string      `json:"collected_at,omitempty"`
}

type Author struct {
	ExternalUserID string  `json:"external_user_id"`
	Handle         *string `json:"handle,omitempty"`
	DisplayName    *string `json:"display_name,omitempty"`
	FollowersCount *int    `json:"followers_count,omitempty"`
	Verified       *bool   `json:"verified,omitempty"`
}

type Engagement struct {
	Likes    *int `json:"likes,omitempty"`
	Shares   *int `json:"shares,omitempty"`
	Comments *int `json:"comments,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateMentionPayload checks a raw collector payload against the embedded
// v1 schema plus semantic rules the schema cannot express, and decodes it.
func ValidateMentionPayload(payload json.RawMessage) (*MentionPayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var item MentionPayload
	if err := json.Unmarshal(normalized, &item); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&item); err != nil {
		return nil, err
	}

	return &item, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("mention.schema.json", strings.NewReader(mentionSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("mention.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(item *MentionPayload) error {
	if item == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(item.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	if strings.TrimSpace(item.Platform) == "" {
		return fmt.Errorf("platform must not be empty")
	}
	if strings.TrimSpace(item.ExternalPostID) == "" {
		return fmt.Errorf("external_post_id must not be empty")
	}
	if strings.TrimSpace(item.ContentText) == "" {
		return fmt.Errorf("content_text must not be empty")
	}

	if _, err := time.Parse(time.RFC3339, strings.TrimSpace(item.PublishedAt)); err != nil {
		return fmt.Errorf("published_at must be RFC3339: %w", err)
	}
	if item.CollectedAt != nil {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*item.CollectedAt)); err != nil {
			return fmt.Errorf("collected_at must be RFC3339: %w", err)
		}
	}

	if item.URL != nil && strings.TrimSpace(*item.URL) != "" {
		if _, err := url.ParseRequestURI(strings.TrimSpace(*item.URL)); err != nil {
			return fmt.Errorf("url is not a valid URI: %w", err)
		}
	}

	for i, tag := range item.Hashtags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("hashtags[%d] must not be empty", i)
		}
	}

	if item.Author != nil && strings.TrimSpace(item.Author.ExternalUserID) == "" {
		return fmt.Errorf("author.external_user_id must not be empty")
	}

	return nil
}
