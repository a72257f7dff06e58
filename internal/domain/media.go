package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultDisplayName is used when a media reference has no derivable name,
// which is the case for every legacy record.
const DefaultDisplayName = "Untitled"

// MediaRef is the platform-standard shape for a stored asset pointer. It is
// the only session-level field the pipeline writes.
type MediaRef struct {
	MediaAssetID string  `json:"mediaAssetId"`
	URL          string  `json:"url"`
	FilePath     *string `json:"filePath"`
	DisplayName  string  `json:"displayName"`
}

// legacyMediaRef is the pre-migration result media shape. It is normalized
// on read and never written back.
type legacyMediaRef struct {
	StepID    string `json:"stepId"`
	AssetID   string `json:"assetId"`
	URL       string `json:"url"`
	CreatedAt int64  `json:"createdAt"`
}

var titleCaser = cases.Title(language.English)

// DisplayNameForPurpose synthesizes a display name from an asset purpose
// label, e.g. "result" -> "Result".
func DisplayNameForPurpose(purpose string) string {
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return DefaultDisplayName
	}
	return titleCaser.String(purpose)
}

// DecodeMediaRef normalizes a raw result-media record into the canonical
// MediaRef. Records carrying mediaAssetId are decoded as-is; records in the
// legacy shape are mapped (assetId -> mediaAssetId, displayName synthesized,
// stepId/createdAt dropped) without the stored row ever being rewritten.
func DecodeMediaRef(raw []byte) (*MediaRef, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode result media: %w", err)
	}
	if probe == nil {
		return nil, nil
	}

	if _, ok := probe["mediaAssetId"]; ok {
		var ref MediaRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil, fmt.Errorf("decode result media: %w", err)
		}
		if ref.DisplayName == "" {
			ref.DisplayName = DefaultDisplayName
		}
		return &ref, nil
	}

	var legacy legacyMediaRef
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("decode legacy result media: %w", err)
	}
	return &MediaRef{
		MediaAssetID: legacy.AssetID,
		URL:          legacy.URL,
		FilePath:     nil,
		DisplayName:  DefaultDisplayName,
	}, nil
}

// MediaRefFromOutput projects a job output into the standard media shape.
func MediaRefFromOutput(out *JobOutput) MediaRef {
	filePath := out.FilePath
	return MediaRef{
		MediaAssetID: out.MediaAssetID,
		URL:          out.URL,
		FilePath:     &filePath,
		DisplayName:  DisplayNameForPurpose("result"),
	}
}
