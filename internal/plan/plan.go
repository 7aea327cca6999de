// Package plan gates client-side actions against subscription-tier limits and
// turns server-side limit rejections into upgrade prompts.
package plan

import (
	"fmt"

	"github.com/lumenhq/lumen-go/internal/models"
)

// Action is a client-side operation subject to plan limits.
type Action string

const (
	ActionCreateGallery Action = "createGallery"
	ActionUploadPhotos  Action = "uploadPhotos"
	ActionCreateClient  Action = "createClient"
)

// FileInfo describes one file of a proposed upload batch.
type FileInfo struct {
	Name      string
	SizeBytes int64
}

// UploadPayload is a proposed upload batch, checked before it is sent. The
// check is a prediction: the server remains the authority and may still
// reject with 403.
type UploadPayload struct {
	Files []FileInfo
}

func (p *UploadPayload) totals() (count int, bytes int64) {
	if p == nil {
		return 0, 0
	}
	for _, f := range p.Files {
		bytes += f.SizeBytes
	}
	return len(p.Files), bytes
}

// Decision is the outcome of a plan-limit evaluation. Message is set only when
// the requested action is denied.
type Decision struct {
	CanCreateGallery bool   `json:"can_create_gallery"`
	CanUploadPhotos  bool   `json:"can_upload_photos"`
	CanCreateClient  bool   `json:"can_create_client"`
	Message          string `json:"message,omitempty"`
}

const (
	msgLimitsUnknown = "Your plan limits could not be determined. Refresh your usage statistics and try again."

	msgGalleryLimit = "Your plan allows up to %d galleries. Upgrade your plan to create more."
	msgPhotoLimit   = "Your plan allows up to %d photos. Upgrade your plan to upload more."
	msgStorageLimit = "This upload would exceed your %.1f GB storage limit. Upgrade your plan for more space."
	msgClientLimit  = "Your plan allows up to %d clients. Upgrade your plan to add more."
)

// Evaluate answers whether the given action is allowed under the cached usage
// statistics. Pure: no I/O, reproducible from its arguments alone. Unknown
// stats or limits deny everything.
func Evaluate(action Action, stats *models.Stats, payload *UploadPayload) Decision {
	if stats == nil || stats.PlanLimits == nil {
		return Decision{Message: msgLimitsUnknown}
	}
	limits := stats.PlanLimits

	d := Decision{
		CanCreateGallery: stats.GalleriesCount < limits.MaxGalleries,
		CanUploadPhotos:  stats.PhotosCount < limits.MaxPhotos && stats.StorageUsedBytes < limits.MaxStorageBytes,
		CanCreateClient:  stats.ClientsCount < limits.MaxClients,
	}

	switch action {
	case ActionCreateGallery:
		if !d.CanCreateGallery {
			d.Message = fmt.Sprintf(msgGalleryLimit, limits.MaxGalleries)
		}
	case ActionUploadPhotos:
		count, bytes := payload.totals()
		if stats.PhotosCount+count > limits.MaxPhotos {
			d.CanUploadPhotos = false
			d.Message = fmt.Sprintf(msgPhotoLimit, limits.MaxPhotos)
		} else if stats.StorageUsedBytes+bytes > limits.MaxStorageBytes {
			d.CanUploadPhotos = false
			d.Message = fmt.Sprintf(msgStorageLimit, float64(limits.MaxStorageBytes)/float64(1<<30))
		} else if !d.CanUploadPhotos {
			if stats.PhotosCount >= limits.MaxPhotos {
				d.Message = fmt.Sprintf(msgPhotoLimit, limits.MaxPhotos)
			} else {
				d.Message = fmt.Sprintf(msgStorageLimit, float64(limits.MaxStorageBytes)/float64(1<<30))
			}
		}
	case ActionCreateClient:
		if !d.CanCreateClient {
			d.Message = fmt.Sprintf(msgClientLimit, limits.MaxClients)
		}
	}

	return d
}
