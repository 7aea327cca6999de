package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumenhq/lumen-go/internal/models"
)

// Kind identifies which plan limit a denial relates to.
type Kind string

const (
	KindPhotos    Kind = "photos"
	KindGalleries Kind = "galleries"
	KindStorage   Kind = "storage"
	KindGeneral   Kind = "general"
)

// Prompt is the UI-facing upgrade notification produced when a plan limit is
// hit. Transient state: never persisted.
type Prompt struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

type limitErrorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// ClassifyLimitError maps a 403 response body onto a limit kind.
//
// The classification is a heuristic: it substring-matches the server's
// human-readable message. The server contract has no machine-readable code, so
// this is the single place to replace if one ever appears.
func ClassifyLimitError(body []byte) Kind {
	var parsed limitErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return KindGeneral
	}

	message := strings.ToLower(parsed.Error)
	if message == "" {
		message = strings.ToLower(parsed.Detail)
	}

	switch {
	case strings.Contains(message, "photos limit"):
		return KindPhotos
	case strings.Contains(message, "galleries limit"):
		return KindGalleries
	case strings.Contains(message, "storage limit"):
		return KindStorage
	default:
		return KindGeneral
	}
}

// PromptFor builds the upgrade prompt for a limit kind, interpolating the
// locally cached plan limits when available.
func PromptFor(kind Kind, limits *models.PlanLimits) Prompt {
	if limits == nil {
		return Prompt{Kind: kind, Message: genericMessage(kind)}
	}

	switch kind {
	case KindPhotos:
		return Prompt{Kind: kind, Message: fmt.Sprintf(msgPhotoLimit, limits.MaxPhotos)}
	case KindGalleries:
		return Prompt{Kind: kind, Message: fmt.Sprintf(msgGalleryLimit, limits.MaxGalleries)}
	case KindStorage:
		return Prompt{Kind: kind, Message: fmt.Sprintf(msgStorageLimit, float64(limits.MaxStorageBytes)/float64(1<<30))}
	default:
		return Prompt{Kind: KindGeneral, Message: genericMessage(KindGeneral)}
	}
}

func genericMessage(kind Kind) string {
	switch kind {
	case KindPhotos:
		return "You have reached your plan's photo limit. Upgrade your plan to upload more."
	case KindGalleries:
		return "You have reached your plan's gallery limit. Upgrade your plan to create more."
	case KindStorage:
		return "You have reached your plan's storage limit. Upgrade your plan for more space."
	default:
		return "This action is not available on your current plan. Upgrade to continue."
	}
}
